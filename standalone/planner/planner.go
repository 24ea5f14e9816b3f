// Package planner implements the Toolhead motion facade: the move queue,
// trapezoidal velocity planning, and the interruptible drip-move primitive
// that both GCodeMove and the homing core drive, grounded on the teacher's
// own planner.Planner but generalized from a fixed XYZE Position to the
// variable-length Vec model and extended with drip_move/dwell/
// flush_step_generation/get_last_move_time, none of which the teacher's
// embedded-only planner needed.
package planner

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"motioncore/standalone/events"
	"motioncore/standalone/extruder"
	"motioncore/standalone/kinematics"
	"motioncore/standalone/motion"
	"motioncore/standalone/reactor"
)

// virtualTimerFrequency stands in for the teacher's core.GetTimerFrequency():
// with no MCU clock left in this host-only build, move durations are
// tracked as a plain virtual microsecond counter.
const virtualTimerFrequency = 1_000_000

// dripSegmentTime is how much print time each drip segment covers; a
// homing move is split into segments of this length so endstop watchers
// observe the stepper positions at a bounded cadence.
const dripSegmentTime = 0.050

// DripWatcher is called after every drip segment with the print time the
// segment ends at. Endstop simulators register these while armed.
type DripWatcher func(printTime float64)

// Toolhead is the host-side motion facade: it owns the authoritative
// position vector, validates and executes moves against the configured
// kinematics groups and extruder, and exposes the drip-move primitive the
// homing core needs.
type Toolhead struct {
	mu        sync.Mutex
	posLength int
	position  motion.Vec

	groups    []kinematics.Kinematics
	extruders *extruder.Manager
	bus       *events.Bus

	defaultVelocity float64
	defaultAccel    float64
	lastMoveTime    float64

	queue   chan func()
	pending int32
	once    sync.Once

	watcherSeq   int
	dripWatchers map[int]DripWatcher
}

// NewToolhead builds a Toolhead over the given kinematics groups (the
// primary XYZ group and, when configured, a secondary ABC/UVW group) and
// the machine's extruder manager.
func NewToolhead(posLength int, groups []kinematics.Kinematics, extMgr *extruder.Manager, cfg *motion.MachineConfig, bus *events.Bus) *Toolhead {
	t := &Toolhead{
		posLength:       posLength,
		position:        motion.NewVec(posLength),
		groups:          groups,
		extruders:       extMgr,
		bus:             bus,
		defaultVelocity: cfg.DefaultVelocity,
		defaultAccel:    cfg.DefaultAccel,
		queue:           make(chan func(), 256),
		dripWatchers:    make(map[int]DripWatcher),
	}
	go t.run()
	return t
}

func (t *Toolhead) run() {
	for job := range t.queue {
		job()
		atomic.AddInt32(&t.pending, -1)
	}
}

func (t *Toolhead) enqueue(job func()) {
	atomic.AddInt32(&t.pending, 1)
	t.queue <- job
}

// GetPosition returns a copy of the toolhead's current commanded position.
func (t *Toolhead) GetPosition() motion.Vec {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position.Clone()
}

// SetPosition forcibly resets the toolhead and every kinematics group (and
// the active extruder) to pos, restoring the limits of any axis index in
// homingAxes to its full configured range, then publishes the
// toolhead-set-position event so the G-code frontend resyncs.
func (t *Toolhead) SetPosition(pos motion.Vec, homingAxes map[int]bool) {
	t.FlushStepGeneration()
	t.mu.Lock()
	t.position = pos.Clone()
	for _, g := range t.groups {
		g.SetPosition(pos, homingAxes)
	}
	if ext := t.extruders.Active(); ext != nil {
		ext.SetPosition(pos[t.posLength-1], homingAxes[t.posLength-1])
	}
	t.mu.Unlock()
	t.bus.Publish(&events.Event{Type: events.ToolheadSetPosition, Position: pos.Clone()})
}

// moveSteppers commits a move's endpoint into every stepper's history at
// the given print time. Caller holds t.mu.
func (t *Toolhead) moveSteppers(pos motion.Vec, printTime float64) {
	for _, g := range t.groups {
		for _, r := range g.GetSteppers() {
			r.Stepper.MoveTo(pos[r.Index], printTime)
		}
	}
	if ext := t.extruders.Active(); ext != nil {
		ext.GetStepper().MoveTo(pos[t.posLength-1], printTime)
	}
}

func (t *Toolhead) checkMove(move *motion.Move) error {
	for _, g := range t.groups {
		if err := g.CheckMove(move); err != nil {
			return err
		}
	}
	if ext := t.extruders.Active(); ext != nil {
		if err := ext.CheckMove(move, t.posLength-1, t.defaultVelocity, t.defaultAccel); err != nil {
			return err
		}
	}
	return nil
}

// calcTrapezoid fills a move's timing fields, the teacher's
// calculateTrapezoid generalized off the fixed-axis Position type.
func (t *Toolhead) calcTrapezoid(move *motion.Move) {
	if move.Distance <= 0 {
		move.Duration = 0
		return
	}
	maxVel := move.Velocity
	accelDist := (maxVel * maxVel) / (2.0 * move.Accel)

	if accelDist*2.0 >= move.Distance {
		accelDist = move.Distance / 2.0
		move.CruiseVel = math.Sqrt(move.Accel * accelDist)
		move.StartVel, move.EndVel = 0, 0
		accelTime := move.CruiseVel / move.Accel
		move.AccelTicks = secondsToTicks(accelTime)
		move.CruiseTicks = 0
		move.DecelTicks = move.AccelTicks
	} else {
		cruiseDist := move.Distance - 2.0*accelDist
		move.CruiseVel = maxVel
		move.StartVel, move.EndVel = 0, 0
		accelTime := maxVel / move.Accel
		cruiseTime := cruiseDist / maxVel
		move.AccelTicks = secondsToTicks(accelTime)
		move.CruiseTicks = secondsToTicks(cruiseTime)
		move.DecelTicks = move.AccelTicks
	}
	move.Duration = move.AccelTicks + move.CruiseTicks + move.DecelTicks
}

func secondsToTicks(seconds float64) uint32 {
	return uint32(seconds * virtualTimerFrequency)
}

func (t *Toolhead) moveDistance(start, end motion.Vec) float64 {
	var sumSq float64
	for i := 0; i < t.posLength-1 && i < len(end); i++ {
		d := end[i] - start[i]
		sumSq += d * d
	}
	return math.Sqrt(sumSq)
}

// QueueMove validates a move synchronously (so a bad move is rejected
// before GCodeMove reports "ok"), commits the new commanded position, and
// hands the stepper update to the background execution goroutine, the
// asynchronous counterpart of the teacher's moveQueue/executeNextMove.
func (t *Toolhead) QueueMove(move *motion.Move) error {
	t.mu.Lock()
	move.Start = t.position.Clone()
	if move.Accel == 0 {
		move.Accel = t.defaultAccel
	}
	move.Distance = t.moveDistance(move.Start, move.End)
	if move.Distance == 0 {
		// Extrude-only move: the trapezoid runs over the E displacement.
		move.Distance = math.Abs(move.End[t.posLength-1] - move.Start[t.posLength-1])
	}
	if err := t.checkMove(move); err != nil {
		t.mu.Unlock()
		return err
	}
	t.calcTrapezoid(move)
	t.position = move.End.Clone()
	t.lastMoveTime += float64(move.Duration) / virtualTimerFrequency
	target := move.End.Clone()
	endTime := t.lastMoveTime
	t.mu.Unlock()

	t.enqueue(func() {
		t.mu.Lock()
		t.moveSteppers(target, endTime)
		t.mu.Unlock()
	})
	return nil
}

// Move performs a synchronous move used by the homing core's retract
// pass, where the caller needs the stepper state committed before
// continuing.
func (t *Toolhead) Move(target motion.Vec, speed float64) error {
	t.FlushStepGeneration()
	t.mu.Lock()
	move := &motion.Move{
		Start:    t.position.Clone(),
		End:      target.Clone(),
		Velocity: speed,
		Accel:    t.defaultAccel,
	}
	move.Distance = t.moveDistance(move.Start, move.End)
	if err := t.checkMove(move); err != nil {
		t.mu.Unlock()
		return err
	}
	t.calcTrapezoid(move)
	t.lastMoveTime += float64(move.Duration) / virtualTimerFrequency
	t.moveSteppers(move.End, t.lastMoveTime)
	t.position = move.End.Clone()
	t.mu.Unlock()
	t.bus.Publish(&events.Event{Type: events.ToolheadManualMove, Position: target.Clone()})
	return nil
}

// RegisterDripWatcher installs a per-segment callback for the duration of
// a homing move and returns its remover. Watchers are invoked without the
// toolhead lock held so they may read stepper state freely.
func (t *Toolhead) RegisterDripWatcher(w DripWatcher) (remove func()) {
	t.mu.Lock()
	id := t.watcherSeq
	t.watcherSeq++
	t.dripWatchers[id] = w
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.dripWatchers, id)
		t.mu.Unlock()
	}
}

func (t *Toolhead) watchers() []DripWatcher {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]DripWatcher, 0, len(t.dripWatchers))
	for _, w := range t.dripWatchers {
		out = append(out, w)
	}
	return out
}

// DripMove executes a move toward target in print-time segments, invoking
// the registered drip watchers after each segment and aborting as soon as
// comp resolves — the toolhead.drip_move primitive homing interrupts on
// the first endstop trigger. Travel-limit checks are skipped: the homing
// core forces a provisional position first and knows where it is going.
func (t *Toolhead) DripMove(target motion.Vec, speed float64, comp *reactor.Completion) error {
	t.FlushStepGeneration()
	t.mu.Lock()
	start := t.position.Clone()
	t.mu.Unlock()

	// Distance spans the full vector: a homeable extruder drips along E
	// with no travel-axis component at all.
	var sumSq float64
	for i := range target {
		d := target[i] - start[i]
		sumSq += d * d
	}
	dist := math.Sqrt(sumSq)
	if dist <= 0 || speed <= 0 {
		return nil
	}
	moveTime := dist / speed
	nseg := int(math.Ceil(moveTime / dripSegmentTime))
	if nseg < 1 {
		nseg = 1
	}
	segTime := moveTime / float64(nseg)

	for i := 1; i <= nseg; i++ {
		frac := float64(i) / float64(nseg)
		cur := make(motion.Vec, len(start))
		for j := range start {
			cur[j] = start[j] + (target[j]-start[j])*frac
		}
		t.mu.Lock()
		t.lastMoveTime += segTime
		now := t.lastMoveTime
		t.moveSteppers(cur, now)
		t.position = cur
		t.mu.Unlock()

		for _, w := range t.watchers() {
			w(now)
		}
		if comp != nil && comp.Ready() {
			return nil
		}
	}
	return nil
}

// GetLastMoveTime returns the toolhead's virtual move-completion clock, in
// seconds, the stand-in for toolhead.get_last_move_time().
func (t *Toolhead) GetLastMoveTime() float64 {
	t.FlushStepGeneration()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastMoveTime
}

// Dwell advances the toolhead's virtual clock without moving, G4's handler.
func (t *Toolhead) Dwell(seconds float64) {
	t.mu.Lock()
	t.lastMoveTime += seconds
	t.mu.Unlock()
}

// FlushStepGeneration drains the background move queue so every stepper's
// step history is complete up to the current print time — the guarantee
// get_past_mcu_position lookups depend on.
func (t *Toolhead) FlushStepGeneration() {
	if t.IsIdle() {
		return
	}
	_ = t.waitIdle()
}

// MaxVelocity returns the machine's default velocity/accel ceilings.
func (t *Toolhead) MaxVelocity() (float64, float64) {
	return t.defaultVelocity, t.defaultAccel
}

// IsIdle reports whether the move queue has drained.
func (t *Toolhead) IsIdle() bool {
	return atomic.LoadInt32(&t.pending) == 0
}

// waitIdle blocks until the move queue drains, polling with exponential
// backoff rather than a tight spin loop — the host-side capability the
// teacher's own WaitIdle explicitly disclaimed ("not supported in
// embedded mode"), now that blocking is possible outside the MCU.
func (t *Toolhead) waitIdle() error {
	check := func() error {
		if t.IsIdle() {
			return nil
		}
		return fmt.Errorf("toolhead busy")
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Microsecond
	b.MaxInterval = 10 * time.Millisecond
	return backoff.Retry(check, b)
}

// Close stops the background execution goroutine.
func (t *Toolhead) Close() {
	t.once.Do(func() { close(t.queue) })
}
