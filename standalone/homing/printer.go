package homing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"motioncore/standalone/events"
	"motioncore/standalone/extruder"
	"motioncore/standalone/kinematics"
	"motioncore/standalone/motion"
)

// Homing holds the per-G28 state threaded through one or more
// kinematics.Kinematics.Home calls, implementing kinematics.HomingState.
// It is the concrete type that breaks the kinematics<->homing cyclic
// reference the Python version hides behind duck typing: kinematics.Home
// only ever sees the narrow HomingState interface.
type Homing struct {
	toolhead  Toolhead
	endstops  map[byte]Endstop
	groups    []kinematics.Kinematics
	extruders *extruder.Manager
	bus       *events.Bus

	axes        []int
	trigMCUPos  map[string]int64
	debugReplay bool
}

func (h *Homing) Axes() []int { return h.axes }

// SetAxes records the full set of vector indices this G28 invocation is
// homing; each kinematics instance picks out the ones it owns.
func (h *Homing) SetAxes(axes []int) { h.axes = axes }

// TriggerMCUPositions returns the per-stepper trigger step counters of
// the final homing pass, for external consumers such as endstop-phase
// tracking.
func (h *Homing) TriggerMCUPositions() map[string]int64 { return h.trigMCUPos }

func (h *Homing) endstopsFor(rails []*kinematics.Rail) ([]Endstop, error) {
	out := make([]Endstop, 0, len(rails))
	for _, r := range rails {
		es, ok := h.endstops[r.Axis]
		if !ok {
			return nil, fmt.Errorf("no endstop configured for %s", r.EndstopName())
		}
		out = append(out, es)
	}
	return out, nil
}

func (h *Homing) newHomingMove(endstops []Endstop) *HomingMove {
	hm := NewHomingMove(h.toolhead, endstops, h.groups, h.extruders, h.bus)
	hm.debugReplay = h.debugReplay
	return hm
}

// HomeRails runs one rail group's full home sequence per Homing.home_rails:
// force the start position, drip toward the endstop at homing speed, then
// (when a retract distance is configured) back off along the homing
// vector, re-home at the slower second speed, and verify the endstop
// actually released during the retract.
func (h *Homing) HomeRails(rails []*kinematics.Rail, forcepos, homepos motion.Vec) error {
	if len(rails) == 0 {
		return errors.New("home_rails called with no rails")
	}
	// Axes being homed are those forcepos names explicitly.
	homingAxes := make(map[int]bool)
	var homingList []int
	for i, v := range forcepos {
		if !math.IsNaN(v) {
			homingAxes[i] = true
			homingList = append(homingList, i)
		}
	}
	h.bus.Publish(&events.Event{Type: events.HomeRailsBegin, Axes: homingList})

	startpos := fillCoord(h.toolhead.GetPosition(), forcepos)
	movepos := fillCoord(h.toolhead.GetPosition(), homepos)
	h.toolhead.SetPosition(startpos, homingAxes)

	endstops, err := h.endstopsFor(rails)
	if err != nil {
		return err
	}
	hi := rails[0].GetHomingInfo()

	hmove := h.newHomingMove(endstops)
	if _, err := hmove.Do(movepos, hi.Speed, false, true, true); err != nil {
		return err
	}

	if hi.RetractDist > 0 {
		axesD := make(motion.Vec, len(movepos))
		var sumSq float64
		for i := range movepos {
			axesD[i] = movepos[i] - startpos[i]
			if i < len(movepos)-1 {
				sumSq += axesD[i] * axesD[i]
			}
		}
		moveD := math.Sqrt(sumSq)
		if moveD == 0 {
			moveD = 1
		}
		retractR := math.Min(1.0, hi.RetractDist/moveD)
		retractPos := make(motion.Vec, len(movepos))
		for i := range movepos {
			retractPos[i] = movepos[i] - axesD[i]*retractR
		}
		if err := h.toolhead.Move(retractPos, hi.RetractSpeed); err != nil {
			return fmt.Errorf("homing retract move: %w", err)
		}

		secondStart := make(motion.Vec, len(retractPos))
		for i := range retractPos {
			secondStart[i] = retractPos[i] - axesD[i]*retractR
		}
		h.toolhead.SetPosition(secondStart, nil)

		hmove = h.newHomingMove(endstops)
		if _, err := hmove.Do(movepos, hi.SecondHomingSpeed, false, true, true); err != nil {
			return err
		}
		if name := hmove.CheckNoMovement(nil); name != "" {
			return fmt.Errorf("endstop %s still triggered after retract", name)
		}
	}

	h.toolhead.FlushStepGeneration()
	if h.trigMCUPos == nil {
		h.trigMCUPos = make(map[string]int64)
	}
	for _, sp := range hmove.StepperPositions() {
		h.trigMCUPos[sp.Stepper.Name()] = sp.TrigPos
	}

	ev := &events.Event{
		Type:      events.HomeRailsEnd,
		Axes:      homingList,
		Position:  h.toolhead.GetPosition(),
		AdjustPos: make(map[string]float64),
	}
	h.bus.Publish(ev)

	if len(ev.AdjustPos) > 0 {
		// Event handlers requested per-stepper adjustments; translate them
		// through each kinematic's position solve and patch only the axes
		// that were just homed.
		kinSpos := make(map[string]float64)
		for _, g := range h.groups {
			for _, r := range g.GetSteppers() {
				kinSpos[r.Name()] = r.Stepper.GetCommandedPosition() + ev.AdjustPos[r.Name()]
			}
		}
		newpos := h.toolhead.GetPosition()
		off := 0
		for _, g := range h.groups {
			p := g.CalcPosition(kinSpos)
			for i := 0; i < 3; i++ {
				if homingAxes[off+i] {
					newpos[off+i] = p[i]
				}
			}
			off += 3
		}
		h.toolhead.SetPosition(newpos, nil)
	}
	return nil
}

// PrinterHoming dispatches G28 and probing moves across the configured
// axis-group kinematics instances (the primary XYZ group and, when
// configured, a secondary ABC/UVW group) plus the homeable-extruder path,
// the role klippy's PrinterHoming plays alongside toolhead.home_axes.
type PrinterHoming struct {
	toolhead  Toolhead
	endstops  map[byte]Endstop
	axisMap   motion.AxisMap
	groups    []kinematics.Kinematics
	extruders *extruder.Manager
	bus       *events.Bus

	// IsShutdown lets the owner report a printer shutdown in progress, so
	// homing failures during it surface with the right cause.
	IsShutdown func() bool
	// DebugReplay suppresses check_no_movement when input is replayed
	// from a capture (klippy's debuginput start mode).
	DebugReplay bool
}

func NewPrinterHoming(th Toolhead, endstops map[byte]Endstop, axisMap motion.AxisMap, groups []kinematics.Kinematics, extruders *extruder.Manager, bus *events.Bus) *PrinterHoming {
	return &PrinterHoming{
		toolhead:  th,
		endstops:  endstops,
		axisMap:   axisMap,
		groups:    groups,
		extruders: extruders,
		bus:       bus,
	}
}

func (p *PrinterHoming) newHoming() *Homing {
	return &Homing{
		toolhead:    p.toolhead,
		endstops:    p.endstops,
		groups:      p.groups,
		extruders:   p.extruders,
		bus:         p.bus,
		debugReplay: p.DebugReplay,
	}
}

// motorOff publishes the motor-off event; the kinematics groups
// subscribe to it and invalidate their homing limits.
func (p *PrinterHoming) motorOff() {
	p.bus.Publish(&events.Event{Type: events.MotorOff})
}

func (p *PrinterHoming) homeError(err error) error {
	p.toolhead.FlushStepGeneration()
	p.motorOff()
	if p.IsShutdown != nil && p.IsShutdown() {
		return errors.New("Homing failed due to printer shutdown")
	}
	return err
}

// CmdG28 homes the requested axis letters; an empty string homes every
// configured axis (plus the extruder when the active one is homeable),
// matching a bare G28. It returns the axis letters actually homed.
func (p *PrinterHoming) CmdG28(axes string) (string, error) {
	homeExtruder := false
	if axes == "" {
		for _, g := range p.groups {
			axes += g.AxisNames()
		}
		if ext := p.extruders.Active(); ext != nil && ext.CanHome() {
			homeExtruder = true
		}
	} else if i := strings.IndexByte(axes, 'E'); i >= 0 {
		axes = axes[:i] + axes[i+1:]
		homeExtruder = true
	}

	requested := make(map[int]bool, len(axes))
	var allIndices []int
	for i := 0; i < len(axes); i++ {
		idx, ok := p.axisMap[axes[i]]
		if !ok {
			return "", fmt.Errorf("unknown axis %q requested by G28", string(axes[i]))
		}
		if !requested[idx] {
			requested[idx] = true
			allIndices = append(allIndices, idx)
		}
	}
	if homeExtruder {
		allIndices = append(allIndices, p.axisMap['E'])
	}

	homing := p.newHoming()
	homing.SetAxes(allIndices)

	var homed []byte
	for _, g := range p.groups {
		names := g.AxisNames()
		owns := false
		for i := 0; i < len(names); i++ {
			if requested[p.axisMap[names[i]]] {
				owns = true
				homed = append(homed, names[i])
			}
		}
		if !owns {
			continue
		}
		if err := g.Home(homing); err != nil {
			return "", p.homeError(err)
		}
	}

	if homeExtruder {
		ext := p.extruders.Active()
		if ext == nil || !ext.CanHome() {
			return "", errors.New("active extruder does not support homing")
		}
		if err := p.homeExtruder(homing, ext); err != nil {
			return "", p.homeError(err)
		}
		homed = append(homed, 'E')
	}
	return string(homed), nil
}

// homeExtruder homes the E pseudo-axis through the same HomeRails path a
// cartesian rail takes, with the forcepos placed 1.5x the full travel away
// from the endstop, on the far side.
func (p *PrinterHoming) homeExtruder(h *Homing, ext *extruder.Extruder) error {
	rail := ext.Rail()
	posLength := len(p.axisMap)
	positionMin, positionMax := rail.GetRange()
	hi := rail.GetHomingInfo()

	homepos := motion.NewVec(posLength)
	forcepos := motion.NewVec(posLength)
	for i := range homepos {
		homepos[i] = math.NaN()
		forcepos[i] = math.NaN()
	}
	homepos[rail.Index] = hi.PositionEndstop
	forcepos[rail.Index] = hi.PositionEndstop
	if hi.PositiveDir {
		forcepos[rail.Index] -= 1.5 * (hi.PositionEndstop - positionMin)
	} else {
		forcepos[rail.Index] += 1.5 * (positionMax - hi.PositionEndstop)
	}
	return h.HomeRails([]*kinematics.Rail{rail}, forcepos, homepos)
}

// ProbingMove performs a single-endstop probing move with the
// probe-position correction path: the returned vector is the toolhead
// position at the moment the probe triggered, derived from the step
// history.
func (p *PrinterHoming) ProbingMove(probe Endstop, pos motion.Vec, speed float64, checkTriggered, triggered bool, probeAxes []string) (motion.Vec, error) {
	hmove := p.newHoming().newHomingMove([]Endstop{probe})
	trigpos, err := hmove.Do(pos, speed, true, triggered, checkTriggered)
	if err != nil {
		if p.IsShutdown != nil && p.IsShutdown() {
			return nil, errors.New("Probing failed due to printer shutdown")
		}
		return nil, err
	}
	if name := hmove.CheckNoMovement(probeAxes); name != "" {
		return nil, fmt.Errorf("probe triggered prior to movement (endstop %s)", name)
	}
	return trigpos, nil
}

// ManualHome is the thin probe_pos=false wrapper: drive the given
// endstops toward movepos and correct for overshoot, without the
// retract/second-home sequence of a full G28.
func (p *PrinterHoming) ManualHome(endstops []Endstop, movepos motion.Vec, speed float64, triggered, checkTriggered bool) error {
	hmove := p.newHoming().newHomingMove(endstops)
	_, err := hmove.Do(movepos, speed, false, triggered, checkTriggered)
	if err != nil && p.IsShutdown != nil && p.IsShutdown() {
		return errors.New("Homing failed due to printer shutdown")
	}
	return err
}

// EndstopFor returns the endstop registered for an axis letter, for
// callers (probing helpers, the CLI) that address endstops by axis.
func (p *PrinterHoming) EndstopFor(axis byte) (Endstop, bool) {
	es, ok := p.endstops[axis]
	return es, ok
}
