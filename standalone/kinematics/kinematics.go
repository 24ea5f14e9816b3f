// Package kinematics implements the cartesian-style kinematics abstraction
// described by klippy/kinematics/cartesian_abc.py: a set of rails, each
// backed by a stepper position tracker, that convert between the machine's
// position vector and per-stepper commanded positions, validate moves
// against travel limits, and drive the homing sequence for their axes.
package kinematics

import (
	"fmt"

	"motioncore/standalone/motion"
	"motioncore/standalone/stepgen"
)

// Rail is one homeable axis: a stepper position tracker plus the static
// homing parameters read from config (the PrinterRail of klippy).
type Rail struct {
	Axis    byte // axis letter, e.g. 'X'
	Index   int  // index into a Vec
	Config  motion.RailConfig
	Stepper *stepgen.Stepper
}

func NewRail(axis byte, index int, cfg motion.RailConfig) *Rail {
	name := "stepper_" + string(axis|0x20)
	return &Rail{
		Axis:    axis,
		Index:   index,
		Config:  cfg,
		Stepper: stepgen.NewStepper(name, cfg.StepsPerMM),
	}
}

// NewRailWithStepper wraps an existing stepper (the homeable-extruder
// case, where the extruder already owns its position tracker).
func NewRailWithStepper(axis byte, index int, cfg motion.RailConfig, st *stepgen.Stepper) *Rail {
	return &Rail{Axis: axis, Index: index, Config: cfg, Stepper: st}
}

// Name returns the rail's config-section style name ("stepper_x").
func (r *Rail) Name() string { return r.Stepper.Name() }

// EndstopName returns the short name endstop trigger diagnostics use
// ("x", "extruder").
func (r *Rail) EndstopName() string {
	if r.Axis == 'E' {
		return "extruder"
	}
	return string(r.Axis | 0x20)
}

func (r *Rail) GetRange() (float64, float64) {
	return r.Config.PositionMin, r.Config.PositionMax
}

// HomingInfo is the subset of PrinterRail.get_homing_info() this package
// needs.
type HomingInfo struct {
	PositionEndstop   float64
	PositiveDir       bool
	Speed             float64
	RetractSpeed      float64
	SecondHomingSpeed float64
	RetractDist       float64
}

func (r *Rail) GetHomingInfo() HomingInfo {
	retractSpeed := r.Config.HomingRetractSpeed
	if retractSpeed == 0 {
		retractSpeed = r.Config.HomingSpeed
	}
	return HomingInfo{
		PositionEndstop:   r.Config.PositionEndstop,
		PositiveDir:       r.Config.PositiveDir,
		Speed:             r.Config.HomingSpeed,
		RetractSpeed:      retractSpeed,
		SecondHomingSpeed: r.Config.SecondHomingSpeed,
		RetractDist:       r.Config.HomingRetractDist,
	}
}

// SetPosition resets this rail's stepper to newpos's value at Index.
func (r *Rail) SetPosition(newpos motion.Vec) {
	r.Stepper.SetPosition(newpos[r.Index])
}

// HomingState is the narrow view of the homing core's per-G28 state that a
// Kinematics needs in order to drive home_rails, expressed as an interface
// (rather than a direct type dependency) specifically to break the cyclic
// reference between kinematics and homing that klippy's Python duck typing
// hides: kinematics.Home calls into the homing core, and the homing core
// imports this package to call back into kinematics.Rail, so this package
// cannot import the homing core's concrete type.
type HomingState interface {
	Axes() []int
	HomeRails(rails []*Rail, forcepos, homepos motion.Vec) error
}

// MoveError is returned by CheckMove when a move violates a travel limit.
type MoveError struct {
	Msg string
}

func (e *MoveError) Error() string { return e.Msg }

// Kinematics is the behavior contract a cartesian-style axis group
// provides: XYZ by default, or a secondary ABC/UVW group constructed the
// same way.
type Kinematics interface {
	AxisNames() string
	GetSteppers() []*Rail
	// CalcPosition resolves this group's three logical coordinates from a
	// map of commanded positions keyed by stepper name.
	CalcPosition(stepperPositions map[string]float64) [3]float64
	SetPosition(newpos motion.Vec, homingAxes map[int]bool)
	Home(hs HomingState) error
	CheckMove(move *motion.Move) error
	MotorOff()
	Limits() map[byte][2]float64
}

// NewCartesian builds a Cartesian kinematics instance for the given axis
// triplet (e.g. "XYZ" or "ABC"), looking up each axis's rail config from
// cfg.Rails.
func NewCartesian(cfg *motion.MachineConfig, axisMap motion.AxisMap, axes string) (*Cartesian, error) {
	if len(axes) != 3 {
		return nil, fmt.Errorf("cartesian kinematics requires exactly 3 axis letters, got %q", axes)
	}
	k := &Cartesian{
		axes:         axes,
		posLength:    len(axisMap),
		maxZVelocity: cfg.MaxZVelocity,
		maxZAccel:    cfg.MaxZAccel,
	}
	for i := 0; i < 3; i++ {
		letter := axes[i]
		railCfg, ok := cfg.Rails[letter]
		if !ok {
			return nil, fmt.Errorf("%c axis not configured", letter)
		}
		idx, ok := axisMap[letter]
		if !ok {
			return nil, fmt.Errorf("%c axis not present in axis map", letter)
		}
		rail := NewRail(letter, idx, railCfg)
		k.rails = append(k.rails, rail)
		k.limits[i] = [2]float64{1.0, -1.0} // unhomed sentinel, limits[i][0] > limits[i][1]
	}
	return k, nil
}
