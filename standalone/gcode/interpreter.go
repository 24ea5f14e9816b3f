// Package gcode implements the GCodeMove frontend described by
// klippy/extras/gcode_move.py: coordinate-mode tracking, the
// last_position/base_position/homing_position vector trio, the
// speed/extrude factor overrides, the move-transform chain, and the
// command table (G0/G1/G4/G20/G21/G28/G90/G91/G92/M82/M83/M104/M114/
// M220/M221/SET_GCODE_OFFSET/SAVE_GCODE_STATE/RESTORE_GCODE_STATE/
// GET_POSITION).
package gcode

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"motioncore/standalone/events"
	"motioncore/standalone/extruder"
	"motioncore/standalone/homing"
	"motioncore/standalone/kinematics"
	"motioncore/standalone/motion"
)

// Toolhead is the narrow motion facade GCodeMove drives; package planner's
// Toolhead satisfies it.
type Toolhead interface {
	GetPosition() motion.Vec
	SetPosition(pos motion.Vec, homingAxes map[int]bool)
	QueueMove(move *motion.Move) error
	GetLastMoveTime() float64
	Dwell(seconds float64)
	MaxVelocity() (float64, float64)
}

// MoveTransform is the single-layer move transform chain klippy calls
// set_move_transform: an extra (e.g. bed mesh, skew correction) can
// intercept every commanded move, with GCodeMove falling back to driving
// the toolhead directly when none is installed.
type MoveTransform interface {
	Move(newpos motion.Vec, speed float64) error
	GetPosition() motion.Vec
}

type toolheadTransform struct{ th Toolhead }

func (t *toolheadTransform) Move(newpos motion.Vec, speed float64) error {
	return t.th.QueueMove(&motion.Move{End: newpos, Velocity: speed})
}
func (t *toolheadTransform) GetPosition() motion.Vec { return t.th.GetPosition() }

// GCodeState is a saved SAVE_GCODE_STATE/RESTORE_GCODE_STATE snapshot.
type GCodeState struct {
	LastPosition    motion.Vec
	BasePosition    motion.Vec
	HomingPosition  motion.Vec
	AbsoluteCoord   bool
	AbsoluteExtrude bool
	Speed           float64
	SpeedFactor     float64
	ExtrudeFactor   float64
}

// Status is the polled status document: factors in F-space units, both
// machine and user-visible positions, and the homing origin.
type Status struct {
	SpeedFactor         float64    `json:"speed_factor"`
	Speed               float64    `json:"speed"`
	ExtrudeFactor       float64    `json:"extrude_factor"`
	AbsoluteCoordinates bool       `json:"absolute_coordinates"`
	AbsoluteExtrude     bool       `json:"absolute_extrude"`
	HomingOrigin        motion.Vec `json:"homing_origin"`
	Position            motion.Vec `json:"position"`
	GCodePosition       motion.Vec `json:"gcode_position"`
}

// GCodeMove is the G-code frontend: it owns the gcode-space position
// vectors and coordinate mode flags, and translates commands into
// toolhead/homing/extruder operations.
type GCodeMove struct {
	toolhead  Toolhead
	homing    *homing.PrinterHoming
	extruders *extruder.Manager
	groups    []kinematics.Kinematics
	axisMap   motion.AxisMap
	posLength int
	cfg       *motion.MachineConfig
	bus       *events.Bus

	lastPosition   motion.Vec
	basePosition   motion.Vec
	homingPosition motion.Vec

	absoluteCoord   bool
	absoluteExtrude bool
	speed           float64
	speedFactor     float64
	extrudeFactor   float64

	transform    MoveTransform
	transformSet bool

	savedStates map[string]GCodeState
	ready       bool
}

// NewGCodeMove builds a GCodeMove frontend and registers its event
// handlers on the bus: toolhead position forces, homing completions,
// command errors, and extruder activation all resync the coordinate
// state, per gcode_move.py's register_event_handler calls.
func NewGCodeMove(th Toolhead, hm *homing.PrinterHoming, extMgr *extruder.Manager, groups []kinematics.Kinematics, axisMap motion.AxisMap, posLength int, cfg *motion.MachineConfig, bus *events.Bus) *GCodeMove {
	g := &GCodeMove{
		toolhead:        th,
		homing:          hm,
		extruders:       extMgr,
		groups:          groups,
		axisMap:         axisMap,
		posLength:       posLength,
		cfg:             cfg,
		bus:             bus,
		lastPosition:    motion.NewVec(posLength),
		basePosition:    motion.NewVec(posLength),
		homingPosition:  motion.NewVec(posLength),
		absoluteCoord:   true,
		absoluteExtrude: true,
		speed:           25.0,
		speedFactor:     1.0 / 60.0,
		extrudeFactor:   1.0,
		savedStates:     make(map[string]GCodeState),
	}
	g.transform = &toolheadTransform{th: th}

	bus.Subscribe(events.ToolheadSetPosition, func(*events.Event) { g.resetLastPosition() })
	bus.Subscribe(events.ToolheadManualMove, func(*events.Event) { g.resetLastPosition() })
	bus.Subscribe(events.CommandError, func(*events.Event) { g.resetLastPosition() })
	bus.Subscribe(events.HomeRailsEnd, func(e *events.Event) {
		g.resetLastPosition()
		for _, idx := range e.Axes {
			g.basePosition[idx] = g.homingPosition[idx]
		}
	})
	bus.Subscribe(events.ActivateExtruder, func(*events.Event) {
		g.resetLastPosition()
		g.extrudeFactor = 1.0
	})
	bus.Subscribe(events.Shutdown, func(*events.Event) { g.handleShutdown() })
	return g
}

// HandleReady latches the position reader onto the toolhead and marks the
// frontend ready to accept motion commands.
func (g *GCodeMove) HandleReady() {
	g.ready = true
	g.resetLastPosition()
}

func (g *GCodeMove) handleShutdown() {
	if !g.ready {
		return
	}
	g.ready = false
	slog.Info("gcode state at shutdown",
		"last_position", g.lastPosition,
		"base_position", g.basePosition,
		"homing_position", g.homingPosition,
		"speed", g.speed, "speed_factor", g.speedFactor,
		"extrude_factor", g.extrudeFactor,
		"absolute_coord", g.absoluteCoord,
		"absolute_extrude", g.absoluteExtrude)
}

func (g *GCodeMove) resetLastPosition() {
	if !g.ready {
		return
	}
	pos := g.transform.GetPosition()
	copy(g.lastPosition, pos)
}

func (g *GCodeMove) moveWithTransform(speed float64) error {
	// A failed move must not leave last_position ahead of where the
	// toolhead actually is; the command-error event Execute publishes for
	// the returned error resyncs it.
	return g.transform.Move(g.lastPosition.Clone(), speed)
}

// SetMoveTransform installs a new move transform, returning the previous
// one so the caller can chain/restore it. Per klippy's
// gcode_move.set_move_transform, installing a second transform without
// force is rejected — only one extra is expected to own this hook.
func (g *GCodeMove) SetMoveTransform(next MoveTransform, force bool) (MoveTransform, error) {
	if g.transformSet && !force {
		return nil, errors.New("G-Code move transform already specified")
	}
	prev := g.transform
	g.transform = next
	g.transformSet = true
	return prev, nil
}

// gcodePosition returns the coordinate the user would need to type to
// return to lastPosition: last_position minus base_position, with the E
// slot divided back out of the extrude factor.
func (g *GCodeMove) gcodePosition() motion.Vec {
	out := make(motion.Vec, g.posLength)
	for i := range out {
		out[i] = g.lastPosition[i] - g.basePosition[i]
	}
	if g.extrudeFactor != 0 {
		out[g.posLength-1] /= g.extrudeFactor
	}
	return out
}

// Status reports the polled status document. Speed values are translated
// back to F-space: speed_factor as the fraction M220 set (1.0 unscaled),
// speed in units/minute.
func (g *GCodeMove) Status() Status {
	return Status{
		SpeedFactor:         g.speedFactor * 60.0,
		Speed:               g.speed / g.speedFactor,
		ExtrudeFactor:       g.extrudeFactor,
		AbsoluteCoordinates: g.absoluteCoord,
		AbsoluteExtrude:     g.absoluteExtrude,
		HomingOrigin:        g.homingPosition.Clone(),
		Position:            g.lastPosition.Clone(),
		GCodePosition:       g.gcodePosition(),
	}
}

// --- Command dispatch -------------------------------------------------

// Execute parses and runs one line of input, matching either an extended
// (word-form) command or a classic G/M/T numeric command. Any error it
// returns is also published as a CommandError event, which resyncs
// last_position from the toolhead.
func (g *GCodeMove) Execute(parser *Parser, line string) (reply string, err error) {
	defer func() {
		if err != nil {
			g.bus.Publish(&events.Event{Type: events.CommandError, Err: err})
		}
	}()
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, ";") {
		return "", nil
	}

	if word, rest, ok := splitWord(trimmed); ok {
		if handler, known := namedCommands[word]; known {
			return handler(g, parseKV(rest))
		}
	}

	cmd, err := parser.ParseLine(line)
	if err != nil {
		return "", err
	}
	if cmd == nil || cmd.Type == 0 {
		return "", nil
	}
	return g.executeParsed(cmd)
}

func (g *GCodeMove) executeParsed(cmd *motion.GCodeCommand) (string, error) {
	switch cmd.Type {
	case 'G':
		return g.executeG(cmd)
	case 'M':
		return g.executeM(cmd)
	case 'T':
		return "", g.activateExtruder(extruderName(cmd.Number))
	}
	return "", nil
}

func extruderName(n int) string {
	if n == 0 {
		return "extruder"
	}
	return fmt.Sprintf("extruder%d", n)
}

func (g *GCodeMove) requireReady() error {
	if !g.ready {
		return errors.New("printer is not ready")
	}
	return nil
}

func (g *GCodeMove) executeG(cmd *motion.GCodeCommand) (string, error) {
	switch cmd.Number {
	case 0, 1:
		return "", g.cmdG1(cmd)
	case 4:
		if cmd.HasParameter('P') {
			g.toolhead.Dwell(cmd.GetParameter('P', 0) / 1000.0)
		} else if cmd.HasParameter('S') {
			g.toolhead.Dwell(cmd.GetParameter('S', 0))
		}
		return "", nil
	case 20:
		return "", errors.New("Machine does not support G20 (inches) command")
	case 21:
		return "", nil // millimeter units, already the only supported mode
	case 28:
		return "", g.cmdG28(cmd)
	case 90:
		g.absoluteCoord = true
		return "", nil
	case 91:
		g.absoluteCoord = false
		return "", nil
	case 92:
		return "", g.cmdG92(cmd)
	}
	return "", fmt.Errorf("unknown command G%d", cmd.Number)
}

func (g *GCodeMove) executeM(cmd *motion.GCodeCommand) (string, error) {
	switch cmd.Number {
	case 82:
		g.absoluteExtrude = true
		return "", nil
	case 83:
		g.absoluteExtrude = false
		return "", nil
	case 104, 109:
		if ext := g.extruders.Active(); ext != nil && cmd.HasParameter('S') {
			ext.GetHeater().SetTarget(cmd.GetParameter('S', 0))
		}
		return "", nil
	case 114:
		return g.cmdM114(), nil
	case 220:
		if cmd.HasParameter('S') {
			s := cmd.GetParameter('S', 100)
			if s <= 0 {
				return "", fmt.Errorf("invalid M220 S%g: must be > 0", s)
			}
			g.setSpeedFactor(s)
		}
		return "", nil
	case 221:
		if cmd.HasParameter('S') {
			s := cmd.GetParameter('S', 100)
			if s <= 0 {
				return "", fmt.Errorf("invalid M221 S%g: must be > 0", s)
			}
			g.setExtrudeFactor(s)
		}
		return "", nil
	}
	return "", nil
}

// cmdG1 implements G0/G1: updates last_position per the axis_map (every
// configured axis letter, not just XYZ) and queues the resulting move.
// Unconfigured-axis and invalid-speed errors carry the original command
// line; errors from the move itself are returned as the toolhead reports
// them.
func (g *GCodeMove) cmdG1(cmd *motion.GCodeCommand) error {
	if err := g.requireReady(); err != nil {
		return err
	}
	if err := g.checkConfiguredAxes(cmd); err != nil {
		return fmt.Errorf("unable to process %q: %w", cmd.Raw, err)
	}
	g.bus.Publish(&events.Event{Type: events.ParsingMoveCommand, Name: cmd.Raw})
	for letter, idx := range g.axisMap {
		if letter == 'E' || !cmd.HasParameter(letter) {
			continue
		}
		v := cmd.GetParameter(letter, 0)
		if g.absoluteCoord {
			g.lastPosition[idx] = v + g.basePosition[idx]
		} else {
			g.lastPosition[idx] += v
		}
	}
	if eIdx, ok := g.axisMap['E']; ok && cmd.HasParameter('E') {
		v := cmd.GetParameter('E', 0) * g.extrudeFactor
		if !g.absoluteCoord || !g.absoluteExtrude {
			g.lastPosition[eIdx] += v
		} else {
			g.lastPosition[eIdx] = v + g.basePosition[eIdx]
		}
	}
	if cmd.HasParameter('F') {
		f := cmd.GetParameter('F', 0)
		if f <= 0 {
			return fmt.Errorf("invalid speed in %q", cmd.Raw)
		}
		g.speed = f * g.speedFactor
	}
	return g.moveWithTransform(g.speed)
}

// cmdG28 dispatches G28 to the homing core for the requested axis
// letters (or every configured axis if none are named); the
// home-rails-end event handler resyncs last_position and rebases
// base_position onto homing_position for the homed axes.
func (g *GCodeMove) cmdG28(cmd *motion.GCodeCommand) error {
	if err := g.requireReady(); err != nil {
		return err
	}
	if err := g.checkConfiguredAxes(cmd); err != nil {
		return fmt.Errorf("unable to process %q: %w", cmd.Raw, err)
	}
	var axes strings.Builder
	for letter := range g.axisMap {
		if cmd.HasParameter(letter) {
			axes.WriteByte(letter)
		}
	}
	_, err := g.homing.CmdG28(axes.String())
	return err
}

// checkConfiguredAxes rejects a command that names an axis letter outside
// the machine's active axis set, gcode_move.py's "must configure the <X>
// axis" guard (enforced there by axis_map simply not containing the
// letter).
func (g *GCodeMove) checkConfiguredAxes(cmd *motion.GCodeCommand) error {
	for _, triplet := range motion.AxisTriplets {
		for i := 0; i < 3; i++ {
			letter := triplet[i]
			if cmd.HasParameter(letter) {
				if _, ok := g.axisMap[letter]; !ok {
					return fmt.Errorf("you must configure the %c axis before using it", letter)
				}
			}
		}
	}
	return nil
}

// cmdG92 re-bases the gcode coordinate system without moving the
// toolhead: base_position[i] = last_position[i] - offset, so that typing
// `offset` for axis i will subsequently resolve back to the physical
// position the toolhead is already at.
func (g *GCodeMove) cmdG92(cmd *motion.GCodeCommand) error {
	any := false
	for letter, idx := range g.axisMap {
		if !cmd.HasParameter(letter) {
			continue
		}
		any = true
		offset := cmd.GetParameter(letter, 0)
		if letter == 'E' {
			offset *= g.extrudeFactor
		}
		g.basePosition[idx] = g.lastPosition[idx] - offset
	}
	if !any {
		for i := range g.basePosition {
			g.basePosition[i] = g.lastPosition[i]
		}
	}
	return nil
}

func (g *GCodeMove) setSpeedFactor(percent float64) {
	newFactor := percent / (60.0 * 100.0)
	if g.speedFactor != 0 {
		g.speed = g.speed / g.speedFactor * newFactor
	}
	g.speedFactor = newFactor
}

// setExtrudeFactor implements M221: base_position[E] is recomputed so the
// user-visible E coordinate (last_position[E] - base_position[E]) is
// unchanged by the switch to the new factor.
func (g *GCodeMove) setExtrudeFactor(percent float64) {
	eIdx, ok := g.axisMap['E']
	if !ok {
		return
	}
	newFactor := percent / 100.0
	lastE := g.lastPosition[eIdx]
	eValue := (lastE - g.basePosition[eIdx]) / g.extrudeFactor
	g.basePosition[eIdx] = lastE - eValue*newFactor
	g.extrudeFactor = newFactor
}

func (g *GCodeMove) cmdM114() string {
	pos := g.gcodePosition()
	var sb strings.Builder
	for _, triplet := range motion.AxisTriplets {
		for i := 0; i < 3; i++ {
			letter := triplet[i]
			if idx, ok := g.axisMap[letter]; ok {
				fmt.Fprintf(&sb, "%c:%.3f ", letter, pos[idx])
			}
		}
	}
	fmt.Fprintf(&sb, "E:%.3f", pos[g.posLength-1])
	return sb.String()
}

func (g *GCodeMove) activateExtruder(name string) error {
	ext, err := g.extruders.ActivateExtruder(name)
	if err != nil {
		return err
	}
	// The toolhead's E slot becomes the new extruder's last known
	// position before the event resyncs the frontend.
	pos := g.toolhead.GetPosition()
	pos[g.posLength-1] = ext.GetStepper().GetCommandedPosition()
	g.toolhead.SetPosition(pos, nil)
	g.bus.Publish(&events.Event{Type: events.ActivateExtruder, Name: name})
	return nil
}

// --- Named (word-form) commands ---------------------------------------

type namedHandler func(*GCodeMove, map[string]string) (string, error)

var namedCommands = map[string]namedHandler{
	"SET_GCODE_OFFSET":    (*GCodeMove).cmdSetGCodeOffset,
	"SAVE_GCODE_STATE":    (*GCodeMove).cmdSaveGCodeState,
	"RESTORE_GCODE_STATE": (*GCodeMove).cmdRestoreGCodeState,
	"GET_POSITION":        (*GCodeMove).cmdGetPosition,
	"ACTIVATE_EXTRUDER":   (*GCodeMove).cmdActivateExtruder,
}

// cmdSetGCodeOffset mirrors gcode_move.py's cmd_SET_GCODE_OFFSET: each axis
// accepts either an absolute offset (axis=value) or a relative one
// (axis_ADJUST=value, added to the axis's current homing_position). The
// resulting delta is folded into base_position and homing_position is
// updated to the new absolute offset.
func (g *GCodeMove) cmdSetGCodeOffset(params map[string]string) (string, error) {
	move := params["MOVE"] == "1"
	moveSpeed := g.speed
	if raw, ok := params["MOVE_SPEED"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return "", fmt.Errorf("invalid SET_GCODE_OFFSET MOVE_SPEED=%s: must be > 0", raw)
		}
		moveSpeed = v
	}

	for letter, idx := range g.axisMap {
		var offset float64
		var has bool
		if raw, ok := params[string(letter)]; ok {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return "", fmt.Errorf("invalid SET_GCODE_OFFSET %c=%s", letter, raw)
			}
			offset, has = v, true
		} else if raw, ok := params[string(letter)+"_ADJUST"]; ok {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return "", fmt.Errorf("invalid SET_GCODE_OFFSET %c_ADJUST=%s", letter, raw)
			}
			offset, has = v+g.homingPosition[idx], true
		}
		if !has {
			continue
		}
		delta := offset - g.homingPosition[idx]
		g.basePosition[idx] += delta
		g.homingPosition[idx] = offset
		if move {
			g.lastPosition[idx] += delta
		}
	}
	if move {
		return "", g.moveWithTransform(moveSpeed)
	}
	return "", nil
}

func (g *GCodeMove) cmdSaveGCodeState(params map[string]string) (string, error) {
	name := params["NAME"]
	if name == "" {
		name = "default"
	}
	g.savedStates[name] = GCodeState{
		LastPosition:    g.lastPosition.Clone(),
		BasePosition:    g.basePosition.Clone(),
		HomingPosition:  g.homingPosition.Clone(),
		AbsoluteCoord:   g.absoluteCoord,
		AbsoluteExtrude: g.absoluteExtrude,
		Speed:           g.speed,
		SpeedFactor:     g.speedFactor,
		ExtrudeFactor:   g.extrudeFactor,
	}
	return "", nil
}

func (g *GCodeMove) cmdRestoreGCodeState(params map[string]string) (string, error) {
	name := params["NAME"]
	if name == "" {
		name = "default"
	}
	state, ok := g.savedStates[name]
	if !ok {
		return "", fmt.Errorf("unknown g-code state: %s", name)
	}
	moveBack := params["MOVE"] == "1"

	// Clone before mutating: the snapshot's vectors are the same slices
	// stored in savedStates, so writing through them would corrupt a state
	// that gets restored more than once.
	basePos := state.BasePosition.Clone()
	lastPos := state.LastPosition.Clone()
	homingPos := state.HomingPosition.Clone()

	eIdx := g.posLength - 1
	if g.cfg.RelativeExtrudeRestore {
		// Preserve the filament already extruded since the snapshot was
		// taken instead of snapping E back, the relative_e_restore option.
		delta := g.lastPosition[eIdx] - state.LastPosition[eIdx]
		basePos[eIdx] += delta
	}

	g.basePosition = basePos
	g.homingPosition = homingPos
	g.absoluteCoord = state.AbsoluteCoord
	g.absoluteExtrude = state.AbsoluteExtrude
	g.speed = state.Speed
	g.speedFactor = state.SpeedFactor
	g.extrudeFactor = state.ExtrudeFactor

	if moveBack {
		// Move the travel axes back to the saved coordinate; E keeps its
		// current physical position.
		for i := 0; i < eIdx; i++ {
			g.lastPosition[i] = lastPos[i]
		}
		moveSpeed := g.speed
		if raw, ok := params["MOVE_SPEED"]; ok {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v <= 0 {
				return "", fmt.Errorf("invalid RESTORE_GCODE_STATE MOVE_SPEED=%s: must be > 0", raw)
			}
			moveSpeed = v
		}
		return "", g.moveWithTransform(moveSpeed)
	}
	return "", nil
}

// cmdGetPosition is the multi-line diagnostic dump: raw MCU step
// counters, per-stepper commanded positions, the kinematic solve, the
// toolhead's view, and the three G-code-space vectors. It is answerable
// even when the printer is not ready.
func (g *GCodeMove) cmdGetPosition(map[string]string) (string, error) {
	var rails []*kinematics.Rail
	for _, grp := range g.groups {
		rails = append(rails, grp.GetSteppers()...)
	}

	var sb strings.Builder
	sb.WriteString("mcu:")
	for _, r := range rails {
		fmt.Fprintf(&sb, " %s:%d", r.Name(), r.Stepper.GetMCUPosition())
	}
	for _, e := range g.extruders.All() {
		fmt.Fprintf(&sb, " %s:%d", e.Name(), e.GetStepper().GetMCUPosition())
	}
	sb.WriteString("\nstepper:")
	for _, r := range rails {
		fmt.Fprintf(&sb, " %s:%.6f", r.Name(), r.Stepper.GetCommandedPosition())
	}
	for _, e := range g.extruders.All() {
		fmt.Fprintf(&sb, " %s:%.6f", e.Name(), e.GetStepper().GetCommandedPosition())
	}

	spos := make(map[string]float64)
	for _, r := range rails {
		spos[r.Name()] = r.Stepper.GetCommandedPosition()
	}
	sb.WriteString("\nkinematic:")
	for _, grp := range g.groups {
		p := grp.CalcPosition(spos)
		names := grp.AxisNames()
		for i := 0; i < 3; i++ {
			fmt.Fprintf(&sb, " %c:%.6f", names[i], p[i])
		}
	}

	fmt.Fprintf(&sb, "\ntoolhead: %s", formatVec(g.toolhead.GetPosition(), g.axisMap))
	fmt.Fprintf(&sb, "\ngcode: %s", formatVec(g.lastPosition, g.axisMap))
	fmt.Fprintf(&sb, "\ngcode base: %s", formatVec(g.basePosition, g.axisMap))
	fmt.Fprintf(&sb, "\ngcode homing: %s", formatVec(g.homingPosition, g.axisMap))
	return sb.String(), nil
}

func (g *GCodeMove) cmdActivateExtruder(params map[string]string) (string, error) {
	name := params["EXTRUDER"]
	if name == "" {
		return "", errors.New("ACTIVATE_EXTRUDER requires EXTRUDER=")
	}
	return "", g.activateExtruder(name)
}

// --- helpers ------------------------------------------------------------

func formatVec(v motion.Vec, axisMap motion.AxisMap) string {
	var sb strings.Builder
	for _, triplet := range motion.AxisTriplets {
		for i := 0; i < 3; i++ {
			letter := triplet[i]
			idx, ok := axisMap[letter]
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "%c:%.6f ", letter, v[idx])
		}
	}
	fmt.Fprintf(&sb, "E:%.6f", v[len(v)-1])
	return sb.String()
}

func splitWord(line string) (word, rest string, ok bool) {
	if !(line[0] >= 'A' && line[0] <= 'Z') {
		return "", "", false
	}
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, "", true
	}
	return line[:i], line[i+1:], true
}

func parseKV(s string) map[string]string {
	out := make(map[string]string)
	for _, field := range strings.Fields(s) {
		if eq := strings.IndexByte(field, '='); eq > 0 {
			out[strings.ToUpper(field[:eq])] = field[eq+1:]
		}
	}
	return out
}
