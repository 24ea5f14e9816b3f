// Package stepgen models a single axis stepper's position bookkeeping the
// way klippy's MCU_stepper does from the host side: an integer step
// counter in the MCU clock domain, a commanded position derived from it,
// and a step history that homing queries to correlate an endstop trigger
// time back to the position the motor was at. Actual step-pulse
// generation is an external collaborator (a physical or simulated MCU).
package stepgen

import (
	"math"
	"sort"
)

// historyEntry records the step counter at a print time, appended on
// every commanded move segment.
type historyEntry struct {
	time    float64
	mcuPos  int64
}

// Stepper tracks one axis's commanded position as an integer step count
// plus a millimeter offset, so commanded = offset + mcuPos*stepDist.
type Stepper struct {
	name     string
	stepDist float64
	mcuPos   int64
	offset   float64
	history  []historyEntry
}

// NewStepper creates a stepper for the named rail. stepsPerMM must be
// positive; a zero falls back to one step per millimeter so a
// misconfigured rail degrades instead of dividing by zero.
func NewStepper(name string, stepsPerMM float64) *Stepper {
	if stepsPerMM <= 0 {
		stepsPerMM = 1
	}
	s := &Stepper{name: name, stepDist: 1.0 / stepsPerMM}
	s.history = append(s.history, historyEntry{time: 0, mcuPos: 0})
	return s
}

func (s *Stepper) Name() string { return s.name }

// StepDistance returns the travel per step in millimeters.
func (s *Stepper) StepDistance() float64 { return s.stepDist }

// GetMCUPosition returns the current step counter.
func (s *Stepper) GetMCUPosition() int64 { return s.mcuPos }

// GetPastMCUPosition returns the step counter as of printTime, from the
// recorded step history. Times before the first record resolve to it.
func (s *Stepper) GetPastMCUPosition(printTime float64) int64 {
	// First entry with time > printTime; the one before it is the state
	// at printTime.
	i := sort.Search(len(s.history), func(i int) bool {
		return s.history[i].time > printTime
	})
	if i == 0 {
		return s.history[0].mcuPos
	}
	return s.history[i-1].mcuPos
}

// MCUToCommandedPosition translates a step counter into the commanded
// position it corresponds to under the current offset.
func (s *Stepper) MCUToCommandedPosition(mcuPos int64) float64 {
	return s.offset + float64(mcuPos)*s.stepDist
}

// CommandedToMCUPosition is the inverse of MCUToCommandedPosition under
// the current offset.
func (s *Stepper) CommandedToMCUPosition(cmdPos float64) int64 {
	return int64(math.Round((cmdPos - s.offset) / s.stepDist))
}

// GetCommandedPosition returns the position the stepper was last commanded
// to.
func (s *Stepper) GetCommandedPosition() float64 {
	return s.MCUToCommandedPosition(s.mcuPos)
}

// SetPosition forcibly renames the current step counter to posMM without
// moving: the MCU step count is preserved and only the offset changes,
// exactly as MCU_stepper.set_position keeps mcu_position stable across a
// G92 or a post-homing correction.
func (s *Stepper) SetPosition(posMM float64) {
	s.offset = posMM - float64(s.mcuPos)*s.stepDist
}

// MoveTo advances the step counter to the nearest step for targetMM and
// records the result in the step history at printTime. History is kept
// sorted by construction: the planner only ever moves forward in print
// time.
func (s *Stepper) MoveTo(targetMM float64, printTime float64) {
	s.mcuPos = int64(math.Round((targetMM - s.offset) / s.stepDist))
	s.history = append(s.history, historyEntry{time: printTime, mcuPos: s.mcuPos})
	const maxHistory = 16384
	if len(s.history) > maxHistory {
		s.history = append(s.history[:0], s.history[len(s.history)-maxHistory/2:]...)
	}
}
