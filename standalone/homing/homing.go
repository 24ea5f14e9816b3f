// Package homing implements the endstop-triggered homing core described
// by klippy/extras/homing.py: HomingMove (the one-shot state machine that
// drips a move toward a target, halts at the first endstop trigger, and
// reconciles the stepper step history against the trigger time), Homing
// (the per-G28 state that runs a rail's home/retract/second-home
// sequence), and PrinterHoming (G28 and probing dispatch across one or
// more axis-group kinematics instances).
package homing

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"motioncore/standalone/events"
	"motioncore/standalone/extruder"
	"motioncore/standalone/kinematics"
	"motioncore/standalone/motion"
	"motioncore/standalone/reactor"
	"motioncore/standalone/stepgen"
)

const (
	// HomingStartDelay is dwelled before the drip move begins (historical
	// RPi2 scheduling budget, preserved).
	HomingStartDelay   = 0.001
	EndstopSampleTime  = 0.000015
	EndstopSampleCount = 4
)

// Toolhead is the narrow motion facade the homing core drives: move
// queuing, drip-move, and position bookkeeping. The concrete
// implementation (package planner) also serves GCodeMove.
type Toolhead interface {
	GetPosition() motion.Vec
	SetPosition(pos motion.Vec, homingAxes map[int]bool)
	Move(target motion.Vec, speed float64) error
	DripMove(target motion.Vec, speed float64, comp *reactor.Completion) error
	GetLastMoveTime() float64
	Dwell(seconds float64)
	FlushStepGeneration()
}

// Endstop is the external collaborator a homing move arms, the stand-in
// for klippy's MCU_endstop: HomeStart begins watching for a trigger and
// returns a completion that resolves when one fires; HomeWait finalizes
// the watch and reports the trigger time (0 when the move completed
// without a trigger).
type Endstop interface {
	Name() string
	Rails() []*kinematics.Rail
	HomeStart(printTime, sampleTime float64, sampleCount int, restTime float64, triggered bool) *reactor.Completion
	HomeWait(homeEndTime float64) (float64, error)
}

// StepperPosition is the per-stepper record a homing move keeps: the MCU
// step counter at move start, at the halt, and at the trigger time.
type StepperPosition struct {
	Stepper     *stepgen.Stepper
	EndstopName string
	StartPos    int64
	StartCmdPos float64
	HaltPos     int64
	TrigPos     int64
}

func newStepperPosition(s *stepgen.Stepper, endstopName string) *StepperPosition {
	start := s.GetMCUPosition()
	return &StepperPosition{
		Stepper:     s,
		EndstopName: endstopName,
		StartPos:    start,
		StartCmdPos: s.MCUToCommandedPosition(start),
	}
}

// NoteHomeEnd records the halt step counter and the historical counter at
// the trigger time.
func (sp *StepperPosition) NoteHomeEnd(triggerTime float64) {
	sp.HaltPos = sp.Stepper.GetMCUPosition()
	sp.TrigPos = sp.Stepper.GetPastMCUPosition(triggerTime)
}

// VerifyNoProbeSkew re-derives the start step counter from the original
// commanded coordinate after the post-probe position correction and logs
// a warning if the mapping shifted, the audit from homing.py.
func (sp *StepperPosition) VerifyNoProbeSkew() {
	newStartPos := sp.Stepper.CommandedToMCUPosition(sp.StartCmdPos)
	if newStartPos != sp.StartPos {
		slog.Warn("stepper position skew after probe",
			"stepper", sp.Stepper.Name(),
			"pos", sp.StartPos, "now", newStartPos)
	}
}

// HomingMove is a single drip-move-until-triggered operation over a set
// of armed endstops, klippy's HomingMove class. One is built per homing
// pass; ProbePositions remain valid for CheckNoMovement afterward.
type HomingMove struct {
	toolhead  Toolhead
	endstops  []Endstop
	groups    []kinematics.Kinematics
	extruders *extruder.Manager
	bus       *events.Bus

	stepperPositions []*StepperPosition
	triggerTimes     map[string]float64
	debugReplay      bool
}

func NewHomingMove(th Toolhead, endstops []Endstop, groups []kinematics.Kinematics, extruders *extruder.Manager, bus *events.Bus) *HomingMove {
	return &HomingMove{
		toolhead:  th,
		endstops:  endstops,
		groups:    groups,
		extruders: extruders,
		bus:       bus,
	}
}

// kinSpos snapshots every stepper's commanded position (all kinematics
// groups plus every configured extruder stepper), keyed by stepper name.
func (hm *HomingMove) kinSpos() map[string]float64 {
	out := make(map[string]float64)
	for _, g := range hm.groups {
		for _, r := range g.GetSteppers() {
			out[r.Name()] = r.Stepper.GetCommandedPosition()
		}
	}
	for _, e := range hm.extruders.All() {
		s := e.GetStepper()
		out[s.Name()] = s.GetCommandedPosition()
	}
	return out
}

// calcToolheadPos produces a toolhead position vector from a stepper
// snapshot plus per-stepper step offsets: each offset is converted to
// millimeters, folded into the snapshot, and resolved back through every
// kinematic's calc_position, with the active extruder's adjusted value in
// the final slot.
func (hm *HomingMove) calcToolheadPos(kinSpos map[string]float64, offsets map[string]int64) motion.Vec {
	adj := make(map[string]float64, len(kinSpos))
	for k, v := range kinSpos {
		adj[k] = v
	}
	for _, g := range hm.groups {
		for _, r := range g.GetSteppers() {
			adj[r.Name()] += float64(offsets[r.Name()]) * r.Stepper.StepDistance()
		}
	}
	for _, e := range hm.extruders.All() {
		s := e.GetStepper()
		adj[s.Name()] += float64(offsets[s.Name()]) * s.StepDistance()
	}

	newpos := make(motion.Vec, 0, 3*len(hm.groups)+1)
	for _, g := range hm.groups {
		p := g.CalcPosition(adj)
		newpos = append(newpos, p[0], p[1], p[2])
	}
	if ext := hm.extruders.Active(); ext != nil {
		newpos = append(newpos, adj[ext.GetStepper().Name()])
	} else {
		cur := hm.toolhead.GetPosition()
		newpos = append(newpos, cur[len(cur)-1])
	}
	return newpos
}

// restTime computes the endstop re-check interval for a move: the move
// duration divided by the largest per-stepper step count, floored at 1ms
// when the move commands no steps.
func (hm *HomingMove) restTime(es Endstop, movepos, startpos motion.Vec, speed float64) float64 {
	var sumSq float64
	for i := 0; i < len(movepos)-1; i++ {
		d := movepos[i] - startpos[i]
		sumSq += d * d
	}
	moveDuration := math.Sqrt(sumSq) / speed

	maxSteps := 0.0
	for _, r := range es.Rails() {
		delta := math.Abs(movepos[r.Index] - r.Stepper.GetCommandedPosition())
		if steps := delta / r.Stepper.StepDistance(); steps > maxSteps {
			maxSteps = steps
		}
	}
	if maxSteps <= 0 {
		return 0.001
	}
	return moveDuration / maxSteps
}

// Do runs the full homing-move state machine: arm endstops, drip toward
// movepos until the first trigger, collect trigger times, and correct the
// toolhead position from the step history. With probePos the returned
// position is derived from the trigger-time step counters (a probing
// measurement); without it, movepos is taken as ground truth and only the
// post-trigger overshoot is folded back in.
func (hm *HomingMove) Do(movepos motion.Vec, speed float64, probePos, triggered, checkTriggered bool) (motion.Vec, error) {
	hm.bus.Publish(&events.Event{Type: events.HomingMoveBegin})
	hm.toolhead.FlushStepGeneration()

	kinSpos := hm.kinSpos()
	hm.stepperPositions = hm.stepperPositions[:0]
	for _, es := range hm.endstops {
		for _, r := range es.Rails() {
			hm.stepperPositions = append(hm.stepperPositions, newStepperPosition(r.Stepper, es.Name()))
		}
	}

	startpos := hm.toolhead.GetPosition()
	printTime := hm.toolhead.GetLastMoveTime()
	completions := make([]*reactor.Completion, 0, len(hm.endstops))
	for _, es := range hm.endstops {
		rest := hm.restTime(es, movepos, startpos, speed)
		completions = append(completions, es.HomeStart(printTime, EndstopSampleTime, EndstopSampleCount, rest, triggered))
	}
	combined := reactor.MultiComplete(completions...)
	hm.toolhead.Dwell(HomingStartDelay)

	var firstErr error
	if err := hm.toolhead.DripMove(movepos, speed, combined); err != nil {
		firstErr = err
	}

	moveEnd := hm.toolhead.GetLastMoveTime()
	hm.triggerTimes = make(map[string]float64, len(hm.endstops))
	for _, es := range hm.endstops {
		tt, err := es.HomeWait(moveEnd)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		hm.triggerTimes[es.Name()] = tt
		if tt <= 0 && checkTriggered && firstErr == nil {
			firstErr = fmt.Errorf("no trigger on %s after full movement", es.Name())
		}
	}

	hm.toolhead.FlushStepGeneration()
	for _, sp := range hm.stepperPositions {
		tt := hm.triggerTimes[sp.EndstopName]
		if tt <= 0 {
			tt = moveEnd
		}
		sp.NoteHomeEnd(tt)
	}

	var trigpos motion.Vec
	if probePos {
		haltSteps := make(map[string]int64, len(hm.stepperPositions))
		trigSteps := make(map[string]int64, len(hm.stepperPositions))
		same := true
		for _, sp := range hm.stepperPositions {
			name := sp.Stepper.Name()
			haltSteps[name] = sp.HaltPos - sp.StartPos
			trigSteps[name] = sp.TrigPos - sp.StartPos
			if haltSteps[name] != trigSteps[name] {
				same = false
			}
		}
		trigpos = hm.calcToolheadPos(kinSpos, trigSteps)
		haltpos := trigpos
		if !same {
			haltpos = hm.calcToolheadPos(kinSpos, haltSteps)
		}
		hm.toolhead.SetPosition(haltpos, nil)
		for _, sp := range hm.stepperPositions {
			sp.VerifyNoProbeSkew()
		}
	} else {
		trigpos = movepos.Clone()
		haltpos := movepos.Clone()
		overSteps := make(map[string]int64, len(hm.stepperPositions))
		any := false
		for _, sp := range hm.stepperPositions {
			over := sp.HaltPos - sp.TrigPos
			overSteps[sp.Stepper.Name()] = over
			if over != 0 {
				any = true
			}
		}
		if any {
			// The steppers overshot the trigger; name the trigger point
			// movepos, then re-read where the overshoot actually left us.
			hm.toolhead.SetPosition(movepos, nil)
			haltKinSpos := hm.kinSpos()
			haltpos = hm.calcToolheadPos(haltKinSpos, overSteps)
		}
		hm.toolhead.SetPosition(haltpos, nil)
	}

	hm.bus.Publish(&events.Event{Type: events.HomingMoveEnd})
	if firstErr != nil {
		return nil, firstErr
	}
	return trigpos, nil
}

// CheckNoMovement diagnoses a pass where an endstop was triggered before
// the move began. With axes nil it reports the first endstop's name only
// when no stepper moved between move start and trigger; with a list of
// axis names ("x", "y", "z", "extruder", ...) it reports any non-moving
// stepper whose endstop name matches one of them. An empty string means
// movement was observed.
func (hm *HomingMove) CheckNoMovement(axes []string) string {
	if hm.debugReplay {
		return ""
	}
	if axes == nil {
		for _, sp := range hm.stepperPositions {
			if sp.StartPos != sp.TrigPos {
				return ""
			}
		}
		if len(hm.stepperPositions) > 0 {
			return hm.stepperPositions[0].EndstopName
		}
		return ""
	}
	for _, sp := range hm.stepperPositions {
		if sp.StartPos != sp.TrigPos {
			continue
		}
		for _, a := range axes {
			if strings.HasPrefix(sp.EndstopName, "extruder") {
				if a == sp.EndstopName {
					return sp.EndstopName
				}
			} else if strings.Contains(sp.EndstopName, a) {
				return sp.EndstopName
			}
		}
	}
	return ""
}

// StepperPositions exposes the per-stepper records of the last pass for
// external consumers (endstop phase tracking and the like).
func (hm *HomingMove) StepperPositions() []*StepperPosition {
	return hm.stepperPositions
}

// fillCoord overlays the non-NaN entries of masked onto a copy of base,
// the Go stand-in for homing.py's _fill_coord (which overlays non-None
// entries of a coordinate onto the toolhead's current position).
func fillCoord(base, masked motion.Vec) motion.Vec {
	out := base.Clone()
	for i, v := range masked {
		if i < len(out) && !math.IsNaN(v) {
			out[i] = v
		}
	}
	return out
}
