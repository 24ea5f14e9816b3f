// Package extruder implements the extruder pseudo-kinematic described by
// klippy/kinematics/extruder.py: it doesn't resolve a position through
// inverse kinematics the way Cartesian does, but it does gate moves
// (minimum extrusion temperature, extrude-only distance/speed limits,
// over-extrusion-ratio checks), compute a cornering-velocity term
// (CalcJunction; the toolhead's planner does not call it), and — when
// configured with an endstop — home like any other rail.
package extruder

import (
	"fmt"
	"math"

	"motioncore/standalone/kinematics"
	"motioncore/standalone/motion"
	"motioncore/standalone/stepgen"
)

// Heater is the minimal view of the thermal subsystem the extruder's move
// gating needs. The real control loop is an external collaborator; this
// model tracks a target that is reached immediately, which is all the
// can_extrude check requires on the host side.
type Heater struct {
	currentTemp    float64
	targetTemp     float64
	minExtrudeTemp float64
}

func NewHeater(cfg motion.HeaterConfig) *Heater {
	return &Heater{minExtrudeTemp: cfg.MinExtrudeTemp}
}

// SetTarget sets the heater target; the simulated temperature follows it
// directly.
func (h *Heater) SetTarget(temp float64) {
	h.targetTemp = temp
	h.currentTemp = temp
}

func (h *Heater) Target() float64      { return h.targetTemp }
func (h *Heater) Temperature() float64 { return h.currentTemp }

// CanExtrude reports whether the hotend is at or above the minimum
// extrusion temperature.
func (h *Heater) CanExtrude() bool {
	return h.minExtrudeTemp <= 0 || h.currentTemp >= h.minExtrudeTemp
}

// Extruder is one configured extruder's pseudo-kinematic state.
type Extruder struct {
	name    string
	config  motion.ExtruderConfig
	stepper *stepgen.Stepper
	heater  *Heater

	// rail is non-nil for a homeable extruder (an endstop pin was
	// configured); limits then carries the homed range, starting at the
	// unhomed sentinel.
	rail   *kinematics.Rail
	limits [2]float64
}

// NewExtruder builds an extruder pseudo-kinematic. eIndex is the E slot in
// the machine's position vector, needed to wire the homeable rail.
func NewExtruder(name string, cfg motion.ExtruderConfig, eIndex int) *Extruder {
	stepsPerMM := cfg.StepsPerMM
	if stepsPerMM == 0 {
		stepsPerMM = 400
	}
	e := &Extruder{
		name:    name,
		config:  cfg,
		stepper: stepgen.NewStepper(name, stepsPerMM),
		heater:  NewHeater(cfg.Heater),
		limits:  [2]float64{1.0, -1.0},
	}
	if cfg.CanHome {
		e.rail = kinematics.NewRailWithStepper('E', eIndex, cfg.Rail, e.stepper)
	}
	return e
}

func (e *Extruder) Name() string { return e.name }

// GetStepper returns the extruder's stepper position tracker.
func (e *Extruder) GetStepper() *stepgen.Stepper { return e.stepper }

// GetHeater returns the extruder's heater model.
func (e *Extruder) GetHeater() *Heater { return e.heater }

// CanHome reports whether this extruder supports homing (can_home in the
// original — rare, but Non-goals only exclude *multiple*
// simultaneously-active extruders, not a homeable one).
func (e *Extruder) CanHome() bool { return e.rail != nil }

// Rail returns the homing rail of a homeable extruder, nil otherwise.
func (e *Extruder) Rail() *kinematics.Rail { return e.rail }

// Limits returns the current homed range (sentinel low > high when
// unhomed).
func (e *Extruder) Limits() [2]float64 { return e.limits }

func (e *Extruder) filamentArea() float64 {
	r := e.config.FilamentDiameter * 0.5
	return math.Pi * r * r
}

func (e *Extruder) maxExtrudeCrossSection() float64 {
	if e.config.MaxExtrudeCrossSec > 0 {
		return e.config.MaxExtrudeCrossSec
	}
	return 4.0 * e.config.NozzleDiameter * e.config.NozzleDiameter
}

func (e *Extruder) maxExtrudeRatio() float64 {
	area := e.filamentArea()
	if area <= 0 {
		return math.Inf(1)
	}
	return e.maxExtrudeCrossSection() / area
}

// CheckMove validates and, if necessary, speed-limits a move's extrusion
// component, following PrinterExtruder.check_move. eIndex is the E axis's
// position in the move's vectors; the axes before it are the travel axes.
func (e *Extruder) CheckMove(move *motion.Move, eIndex int, toolheadMaxVelocity, toolheadMaxAccel float64) error {
	de := move.End[eIndex] - move.Start[eIndex]
	if de == 0 {
		return nil
	}
	if !e.heater.CanExtrude() {
		return fmt.Errorf("Extrude below minimum temp\n"+
			"See the 'min_extrude_temp' config option for details (%.1f vs %.1f)",
			e.heater.Temperature(), e.heater.minExtrudeTemp)
	}
	if e.rail != nil {
		end := move.End[eIndex]
		if end < e.limits[0] || end > e.limits[1] {
			if e.limits[0] > e.limits[1] {
				return &kinematics.MoveError{Msg: "Must home extruder first"}
			}
			return &kinematics.MoveError{Msg: "Extruder move out of range"}
		}
	}

	travelMoved := false
	for i := 0; i < eIndex; i++ {
		if move.End[i] != move.Start[i] {
			travelMoved = true
			break
		}
	}

	var axisR float64
	if move.Distance > 0 {
		axisR = de / move.Distance
	}

	maxEVelocity := e.config.MaxExtrudeOnlyVel
	if maxEVelocity == 0 {
		maxEVelocity = toolheadMaxVelocity
	}
	maxEAccel := e.config.MaxExtrudeOnlyAccel
	if maxEAccel == 0 {
		maxEAccel = toolheadMaxAccel
	}

	if e.config.SymmetricSpeedLimits || !travelMoved || axisR < 0 {
		if math.Abs(de) > e.config.MaxExtrudeOnlyDist {
			return fmt.Errorf("extrude only move too long (%.3fmm vs %.3fmm); see max_extrude_only_distance", de, e.config.MaxExtrudeOnlyDist)
		}
		invExtrudeR := 1.0
		if axisR != 0 {
			invExtrudeR = 1.0 / math.Abs(axisR)
		}
		move.LimitSpeed(maxEVelocity*invExtrudeR, maxEAccel*invExtrudeR)
		return nil
	}

	maxRatio := e.maxExtrudeRatio()
	if axisR > maxRatio {
		// Tiny extrusions, as in a wipe or a de-retraction, are exempt
		// from the cross-section limit.
		if math.Abs(de) <= e.config.NozzleDiameter*maxRatio {
			return nil
		}
		area := axisR * e.filamentArea()
		return fmt.Errorf("move exceeds maximum extrusion (%.3fmm^2 vs %.3fmm^2); see max_extrude_cross_section", area, e.maxExtrudeCrossSection())
	}
	return nil
}

// CalcJunction returns the squared cornering velocity contributed by a
// change in extrusion ratio between two consecutive moves, following
// calc_junction: a sharp change in extrude ratio (e.g. a retraction
// starting or ending) caps the corner speed via the configured
// instantaneous cornering velocity; otherwise the extruder imposes no
// additional limit beyond the move's own cruise speed.
func (e *Extruder) CalcJunction(prevExtrudeR, curExtrudeR, maxCruiseV2 float64) float64 {
	diffR := curExtrudeR - prevExtrudeR
	if diffR != 0 {
		v := e.config.InstantaneousCorneringVelocity / math.Abs(diffR)
		return v * v
	}
	return maxCruiseV2
}

// SetPosition resets the extruder stepper's commanded position. homed
// additionally adopts the rail's configured range as the current limits,
// the E-slot counterpart of Cartesian.SetPosition's homing_axes handling.
func (e *Extruder) SetPosition(pos float64, homed bool) {
	e.stepper.SetPosition(pos)
	if homed && e.rail != nil {
		min, max := e.rail.GetRange()
		e.limits = [2]float64{min, max}
	}
}

// MotorOff invalidates a homeable extruder's homing.
func (e *Extruder) MotorOff() {
	e.limits = [2]float64{1.0, -1.0}
}

// Manager tracks the set of configured extruders and which one is active,
// enforcing the single-active-extruder Non-goal via ActivateExtruder.
type Manager struct {
	extruders map[string]*Extruder
	order     []string
	active    string
}

func NewManager() *Manager {
	return &Manager{extruders: make(map[string]*Extruder)}
}

func (m *Manager) Add(e *Extruder) {
	m.extruders[e.name] = e
	m.order = append(m.order, e.name)
	if m.active == "" {
		m.active = e.name
	}
}

// Active returns the currently active extruder, or nil if none configured.
func (m *Manager) Active() *Extruder {
	return m.extruders[m.active]
}

// All returns every configured extruder in registration order.
func (m *Manager) All() []*Extruder {
	out := make([]*Extruder, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.extruders[name])
	}
	return out
}

// ActivateExtruder switches the active extruder, the handler behind
// ACTIVATE_EXTRUDER. It returns the newly active extruder so the toolhead
// can adopt its E position.
func (m *Manager) ActivateExtruder(name string) (*Extruder, error) {
	e, ok := m.extruders[name]
	if !ok {
		return nil, fmt.Errorf("unknown extruder %q", name)
	}
	m.active = name
	return e, nil
}
