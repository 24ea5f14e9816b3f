// Package standalone assembles the motion-control core: config loading,
// axis-map construction, the kinematics/extruder/homing/planner
// collaborators, and the GCodeMove frontend that drives them, the Go
// stand-in for klippy's Printer object wiring its extras together at
// startup.
package standalone

import (
	"motioncore/standalone/kinematics"
	"motioncore/standalone/planner"
	"motioncore/standalone/reactor"
)

// SimEndstop is a host-side endstop: a switch at a fixed position on one
// rail, watched segment-by-segment while a drip move runs. There is no
// MCU_endstop left to poll in this build, so this stands in for the
// hardware switch the same way the toolhead's DripMove stands in for a
// real step-compressed homing move. The trigger moment is interpolated
// inside the segment that crossed the switch, so the recorded trigger
// time lands before the segment's halt position — the overshoot the
// homing correction path reconciles.
type SimEndstop struct {
	name        string
	rail        *kinematics.Rail
	toolhead    *planner.Toolhead
	triggerPos  float64
	positiveDir bool

	comp        *reactor.Completion
	remove      func()
	fired       bool
	triggerTime float64
	lastTime    float64
	lastPos     float64
}

// NewSimEndstop builds a simulated endstop on rail that reads as pressed
// once the rail's position passes triggerPos, approaching from whichever
// direction positiveDir indicates (matching RailConfig.PositiveDir for
// the same rail).
func NewSimEndstop(name string, rail *kinematics.Rail, th *planner.Toolhead, triggerPos float64, positiveDir bool) *SimEndstop {
	return &SimEndstop{
		name:        name,
		rail:        rail,
		toolhead:    th,
		triggerPos:  triggerPos,
		positiveDir: positiveDir,
	}
}

func (e *SimEndstop) Name() string { return e.name }

func (e *SimEndstop) Rails() []*kinematics.Rail { return []*kinematics.Rail{e.rail} }

// QueryEndstop reports whether the switch reads as pressed at the rail's
// current position.
func (e *SimEndstop) QueryEndstop() bool {
	return e.pressed(e.rail.Stepper.GetCommandedPosition())
}

func (e *SimEndstop) pressed(pos float64) bool {
	if e.positiveDir {
		return pos >= e.triggerPos
	}
	return pos <= e.triggerPos
}

// HomeStart arms the endstop watch and returns the completion that
// resolves at the first matching transition. sampleTime/sampleCount/
// restTime shape the hardware sampling cadence and have no observable
// effect on the simulated switch.
func (e *SimEndstop) HomeStart(printTime, sampleTime float64, sampleCount int, restTime float64, triggered bool) *reactor.Completion {
	e.comp = reactor.NewCompletion()
	e.fired = false
	e.triggerTime = 0
	e.lastTime = printTime
	e.lastPos = e.rail.Stepper.GetCommandedPosition()

	if e.pressed(e.lastPos) == triggered {
		// Already in the target state when armed; the trigger predates any
		// movement, which check_no_movement will diagnose.
		e.fired = true
		e.triggerTime = printTime
		e.comp.Complete(nil)
		return e.comp
	}

	e.remove = e.toolhead.RegisterDripWatcher(func(now float64) {
		if e.fired {
			return
		}
		cur := e.rail.Stepper.GetCommandedPosition()
		if e.pressed(cur) == triggered {
			t := now
			if cur != e.lastPos {
				frac := (e.triggerPos - e.lastPos) / (cur - e.lastPos)
				if frac < 0 {
					frac = 0
				} else if frac > 1 {
					frac = 1
				}
				t = e.lastTime + (now-e.lastTime)*frac
			}
			e.fired = true
			e.triggerTime = t
			e.comp.Complete(nil)
			return
		}
		e.lastTime, e.lastPos = now, cur
	})
	return e.comp
}

// HomeWait finalizes the watch and returns the trigger time, or 0 when
// the move completed without the switch changing state.
func (e *SimEndstop) HomeWait(homeEndTime float64) (float64, error) {
	if e.remove != nil {
		e.remove()
		e.remove = nil
	}
	if !e.fired {
		return 0, nil
	}
	return e.triggerTime, nil
}
