// Package events is the typed publish/subscribe registry the motion core
// uses in place of klippy's string-keyed printer.send_event: a small enum
// of event kinds, one payload struct, and a subscriber list per kind.
// Everything runs on the caller's goroutine under the single-threaded
// dispatch model, so handlers see a consistent snapshot of the machine.
package events

import "motioncore/standalone/motion"

// Type enumerates the events the core publishes and consumes.
type Type int

const (
	// HomingMoveBegin / HomingMoveEnd bracket one drip move.
	HomingMoveBegin Type = iota
	HomingMoveEnd
	// HomeRailsBegin / HomeRailsEnd bracket one rail group's full
	// home/retract/second-home sequence.
	HomeRailsBegin
	HomeRailsEnd
	// ToolheadSetPosition fires whenever the toolhead position is forced,
	// so the G-code frontend can resync last_position.
	ToolheadSetPosition
	// ToolheadManualMove fires on moves issued outside the G-code frontend.
	ToolheadManualMove
	// ParsingMoveCommand fires as a G0/G1 begins parsing, before any
	// position state changes.
	ParsingMoveCommand
	// CommandError fires when a G-code command aborts.
	CommandError
	// ActivateExtruder fires when the active extruder changes.
	ActivateExtruder
	// MotorOff fires when stepper power is cut.
	MotorOff
	// Shutdown fires when the printer transitions to the shutdown state.
	Shutdown
)

// Event is the payload delivered to subscribers. Fields are populated per
// kind; unused ones are zero.
type Event struct {
	Type     Type
	Axes     []int      // HomeRails*: vector indices being homed
	Position motion.Vec // ToolheadSetPosition, HomeRailsEnd: the new position
	Name     string     // ActivateExtruder: the extruder name
	Err      error      // CommandError, Shutdown

	// AdjustPos lets HomeRailsEnd subscribers request per-stepper
	// position adjustments (keyed by stepper name, in mm); the homing
	// core folds them into the final toolhead position on the homed axes.
	AdjustPos map[string]float64
}

// Bus is the subscriber registry. It is not safe for concurrent use; all
// publishing and subscribing happens on the dispatch goroutine.
type Bus struct {
	handlers map[Type][]func(*Event)
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]func(*Event))}
}

// Subscribe registers h for events of kind t. Handlers run in
// registration order.
func (b *Bus) Subscribe(t Type, h func(*Event)) {
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish delivers e to every subscriber of e.Type, synchronously.
func (b *Bus) Publish(e *Event) {
	for _, h := range b.handlers[e.Type] {
		h(e)
	}
}
