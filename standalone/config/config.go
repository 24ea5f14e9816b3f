// Package config loads the YAML machine-configuration document that
// describes axis rails, endstops and the extruder, the host-side analog of
// a Klipper printer.cfg.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"motioncore/standalone/motion"
)

// rawRail mirrors motion.RailConfig with string keys so it unmarshals
// cleanly from YAML before being folded into the byte-keyed map the rest
// of the module uses.
type rawRail struct {
	StepPin           string  `yaml:"step_pin"`
	DirPin            string  `yaml:"dir_pin"`
	EnablePin         string  `yaml:"enable_pin"`
	StepsPerMM        float64 `yaml:"steps_per_mm"`
	MaxVelocity       float64 `yaml:"max_velocity"`
	MaxAccel          float64 `yaml:"max_accel"`
	InvertDir         bool    `yaml:"invert_dir"`
	InvertEnable      bool    `yaml:"invert_enable"`
	PositionMin       float64 `yaml:"position_min"`
	PositionMax       float64 `yaml:"position_max"`
	PositionEndstop   float64 `yaml:"position_endstop"`
	PositiveDir       bool    `yaml:"endstop_positive_dir"`
	HomingSpeed        float64 `yaml:"homing_speed"`
	HomingRetractSpeed float64 `yaml:"homing_retract_speed"`
	SecondHomingSpeed  float64 `yaml:"second_homing_speed"`
	HomingRetractDist float64 `yaml:"homing_retract_dist"`
}

type rawEndstop struct {
	Pin    string `yaml:"pin"`
	Invert bool   `yaml:"invert"`
}

type rawHeater struct {
	SensorPin      string     `yaml:"sensor_pin"`
	HeaterPin      string     `yaml:"heater_pin"`
	PID            [3]float64 `yaml:"pid"`
	MinTemp        float64    `yaml:"min_temp"`
	MaxTemp        float64    `yaml:"max_temp"`
	MinExtrudeTemp float64    `yaml:"min_extrude_temp"`
	MaxPower       float64    `yaml:"max_power"`
}

type rawExtruder struct {
	Heater                         rawHeater `yaml:"heater"`
	NozzleDiameter                 float64   `yaml:"nozzle_diameter"`
	FilamentDiameter               float64   `yaml:"filament_diameter"`
	StepsPerMM                     float64   `yaml:"steps_per_mm"`
	MaxExtrudeOnlyVelocity         float64   `yaml:"max_extrude_only_velocity"`
	MaxExtrudeOnlyAccel            float64   `yaml:"max_extrude_only_accel"`
	MaxExtrudeOnlyDistance         float64   `yaml:"max_extrude_only_distance"`
	MaxExtrudeCrossSection         float64   `yaml:"max_extrude_cross_section"`
	InstantaneousCorneringVelocity float64   `yaml:"instantaneous_corner_velocity"`
	CanHome                        bool      `yaml:"can_home"`
	SymmetricSpeedLimits           bool      `yaml:"symmetric_speed_limits"`
	Rail                           rawRail   `yaml:"rail"`
}

type rawConfig struct {
	Kinematics    string                `yaml:"kinematics"`
	PrimaryAxes   string                `yaml:"primary_axes"`
	SecondaryAxes string                `yaml:"secondary_axes"`
	Rails         map[string]rawRail    `yaml:"rails"`
	Endstops      map[string]rawEndstop `yaml:"endstops"`
	Extruder      rawExtruder           `yaml:"extruder"`

	DefaultVelocity        float64 `yaml:"default_velocity"`
	DefaultAccel           float64 `yaml:"default_accel"`
	MaxZVelocity           float64 `yaml:"max_z_velocity"`
	MaxZAccel              float64 `yaml:"max_z_accel"`
	JunctionDeviation      float64 `yaml:"junction_deviation"`
	RelativeExtrudeRestore *bool   `yaml:"relative_e_restore"`
}

// LoadConfig parses a YAML configuration document and returns a
// MachineConfig, applying the same "defaults after unmarshal" shape the
// teacher's JSON loader used.
func LoadConfig(data []byte) (*motion.MachineConfig, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg := &motion.MachineConfig{
		Kinematics:        raw.Kinematics,
		PrimaryAxes:       raw.PrimaryAxes,
		SecondaryAxes:     raw.SecondaryAxes,
		DefaultVelocity:   raw.DefaultVelocity,
		DefaultAccel:      raw.DefaultAccel,
		MaxZVelocity:      raw.MaxZVelocity,
		MaxZAccel:         raw.MaxZAccel,
		JunctionDeviation: raw.JunctionDeviation,
		Rails:             make(map[byte]motion.RailConfig, len(raw.Rails)),
		Endstops:          make(map[byte]motion.EndstopConfig, len(raw.Endstops)),
	}

	for name, r := range raw.Rails {
		letter, err := axisLetter(name)
		if err != nil {
			return nil, err
		}
		cfg.Rails[letter] = railFromRaw(r)
	}
	for name, e := range raw.Endstops {
		letter, err := axisLetter(name)
		if err != nil {
			return nil, err
		}
		cfg.Endstops[letter] = motion.EndstopConfig{Pin: e.Pin, Invert: e.Invert}
	}

	cfg.Extruder = motion.ExtruderConfig{
		Heater: motion.HeaterConfig{
			SensorPin:      raw.Extruder.Heater.SensorPin,
			HeaterPin:      raw.Extruder.Heater.HeaterPin,
			PID:            raw.Extruder.Heater.PID,
			MinTemp:        raw.Extruder.Heater.MinTemp,
			MaxTemp:        raw.Extruder.Heater.MaxTemp,
			MinExtrudeTemp: raw.Extruder.Heater.MinExtrudeTemp,
			MaxPower:       raw.Extruder.Heater.MaxPower,
		},
		NozzleDiameter:                 raw.Extruder.NozzleDiameter,
		FilamentDiameter:               raw.Extruder.FilamentDiameter,
		StepsPerMM:                     raw.Extruder.StepsPerMM,
		Rail:                           railFromRaw(raw.Extruder.Rail),
		MaxExtrudeOnlyVel:              raw.Extruder.MaxExtrudeOnlyVelocity,
		MaxExtrudeOnlyAccel:            raw.Extruder.MaxExtrudeOnlyAccel,
		MaxExtrudeOnlyDist:             raw.Extruder.MaxExtrudeOnlyDistance,
		MaxExtrudeCrossSec:             raw.Extruder.MaxExtrudeCrossSection,
		InstantaneousCorneringVelocity: raw.Extruder.InstantaneousCorneringVelocity,
		CanHome:                        raw.Extruder.CanHome,
		SymmetricSpeedLimits:           raw.Extruder.SymmetricSpeedLimits,
	}

	cfg.RelativeExtrudeRestore = true
	if raw.RelativeExtrudeRestore != nil {
		cfg.RelativeExtrudeRestore = *raw.RelativeExtrudeRestore
	}

	applyDefaults(cfg)
	return cfg, nil
}

func railFromRaw(r rawRail) motion.RailConfig {
	return motion.RailConfig{
		StepPin:            r.StepPin,
		DirPin:             r.DirPin,
		EnablePin:          r.EnablePin,
		StepsPerMM:         r.StepsPerMM,
		MaxVelocity:        r.MaxVelocity,
		MaxAccel:           r.MaxAccel,
		InvertDir:          r.InvertDir,
		InvertEnable:       r.InvertEnable,
		PositionMin:        r.PositionMin,
		PositionMax:        r.PositionMax,
		PositionEndstop:    r.PositionEndstop,
		PositiveDir:        r.PositiveDir,
		HomingSpeed:        r.HomingSpeed,
		HomingRetractSpeed: r.HomingRetractSpeed,
		SecondHomingSpeed:  r.SecondHomingSpeed,
		HomingRetractDist:  r.HomingRetractDist,
	}
}

func axisLetter(name string) (byte, error) {
	if len(name) != 1 {
		return 0, fmt.Errorf("invalid axis name %q: must be a single letter", name)
	}
	c := name[0]
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	return c, nil
}

func applyDefaults(cfg *motion.MachineConfig) {
	if cfg.Kinematics == "" {
		cfg.Kinematics = "cartesian"
	}
	if cfg.PrimaryAxes == "" {
		cfg.PrimaryAxes = "XYZ"
	}
	if cfg.DefaultVelocity == 0 {
		cfg.DefaultVelocity = 50.0
	}
	if cfg.DefaultAccel == 0 {
		cfg.DefaultAccel = 500.0
	}
	if cfg.JunctionDeviation == 0 {
		cfg.JunctionDeviation = 0.05
	}
	if cfg.MaxZVelocity == 0 {
		cfg.MaxZVelocity = cfg.DefaultVelocity
	}
	if cfg.MaxZAccel == 0 {
		cfg.MaxZAccel = cfg.DefaultAccel
	}

	for letter, rail := range cfg.Rails {
		if rail.MaxVelocity == 0 {
			rail.MaxVelocity = 300.0
		}
		if rail.MaxAccel == 0 {
			rail.MaxAccel = 1000.0
		}
		if rail.HomingSpeed == 0 {
			rail.HomingSpeed = 5.0
		}
		if rail.SecondHomingSpeed == 0 {
			rail.SecondHomingSpeed = rail.HomingSpeed / 2
		}
		if rail.HomingRetractDist == 0 {
			rail.HomingRetractDist = 5.0
		}
		if rail.StepsPerMM == 0 {
			rail.StepsPerMM = 80.0
		}
		cfg.Rails[letter] = rail
	}

	if cfg.Extruder.Heater.MaxTemp == 0 {
		cfg.Extruder.Heater.MaxTemp = 300.0
	}
	if cfg.Extruder.Heater.MinExtrudeTemp == 0 {
		cfg.Extruder.Heater.MinExtrudeTemp = 170.0
	}
	if cfg.Extruder.Heater.MaxPower == 0 {
		cfg.Extruder.Heater.MaxPower = 1.0
	}
	if cfg.Extruder.MaxExtrudeOnlyVel == 0 {
		cfg.Extruder.MaxExtrudeOnlyVel = 50.0
	}
	if cfg.Extruder.MaxExtrudeOnlyAccel == 0 {
		cfg.Extruder.MaxExtrudeOnlyAccel = 1500.0
	}
	if cfg.Extruder.MaxExtrudeOnlyDist == 0 {
		cfg.Extruder.MaxExtrudeOnlyDist = 50.0
	}
	if cfg.Extruder.InstantaneousCorneringVelocity == 0 {
		cfg.Extruder.InstantaneousCorneringVelocity = 1.0
	}
}

// DefaultCartesianConfig returns a representative configuration for a
// cartesian printer, used by tests and as a starting template.
func DefaultCartesianConfig() *motion.MachineConfig {
	return &motion.MachineConfig{
		Kinematics:  "cartesian",
		PrimaryAxes: "XYZ",
		Rails: map[byte]motion.RailConfig{
			'X': {StepPin: "gpio0", DirPin: "gpio1", EnablePin: "gpio8", StepsPerMM: 80, MaxVelocity: 300, MaxAccel: 3000, PositionMin: 0, PositionMax: 220, PositionEndstop: 0, PositiveDir: false, HomingSpeed: 50, SecondHomingSpeed: 10, HomingRetractDist: 5},
			'Y': {StepPin: "gpio2", DirPin: "gpio3", EnablePin: "gpio8", StepsPerMM: 80, MaxVelocity: 300, MaxAccel: 3000, PositionMin: 0, PositionMax: 220, PositionEndstop: 0, PositiveDir: false, HomingSpeed: 50, SecondHomingSpeed: 10, HomingRetractDist: 5},
			'Z': {StepPin: "gpio4", DirPin: "gpio5", EnablePin: "gpio8", StepsPerMM: 400, MaxVelocity: 10, MaxAccel: 100, PositionMin: 0, PositionMax: 250, PositionEndstop: 0, PositiveDir: false, HomingSpeed: 5, SecondHomingSpeed: 2, HomingRetractDist: 2},
		},
		Endstops: map[byte]motion.EndstopConfig{
			'X': {Pin: "gpio20"},
			'Y': {Pin: "gpio21"},
			'Z': {Pin: "gpio22"},
		},
		Extruder: motion.ExtruderConfig{
			Heater: motion.HeaterConfig{
				SensorPin: "ADC0", HeaterPin: "gpio10",
				PID: [3]float64{0.1, 0.5, 0.05}, MinTemp: 0, MaxTemp: 300,
				MinExtrudeTemp: 170, MaxPower: 1,
			},
			NozzleDiameter:                 0.4,
			FilamentDiameter:               1.75,
			StepsPerMM:                     400,
			MaxExtrudeOnlyVel:              50,
			MaxExtrudeOnlyAccel:            1500,
			MaxExtrudeOnlyDist:             50,
			InstantaneousCorneringVelocity: 1.0,
		},
		DefaultVelocity:        50.0,
		DefaultAccel:           500.0,
		MaxZVelocity:           10.0,
		MaxZAccel:              100.0,
		JunctionDeviation:      0.05,
		RelativeExtrudeRestore: true,
	}
}
