package standalone

import (
	"errors"
	"fmt"

	"motioncore/standalone/config"
	"motioncore/standalone/events"
	"motioncore/standalone/extruder"
	"motioncore/standalone/gcode"
	"motioncore/standalone/homing"
	"motioncore/standalone/kinematics"
	"motioncore/standalone/motion"
	"motioncore/standalone/planner"
	"motioncore/standalone/reactor"
)

// statusReportHz is the cadence of periodic status pushes, the stand-in
// for the trsync report-timer interval.
const statusReportHz = 4.0

// Manager coordinates every standalone-mode component: it loads the
// machine configuration, builds the kinematics groups and extruder, and
// wires the homing core and GCodeMove frontend on top of a single
// planner.Toolhead, then exposes a line-oriented ProcessLine entry point for
// callers (the CLI, the HTTP API) to drive.
type Manager struct {
	config    *motion.MachineConfig
	axisMap   motion.AxisMap
	posLength int
	bus       *events.Bus

	parser    *gcode.Parser
	gcodeMove *gcode.GCodeMove
	homing    *homing.PrinterHoming
	toolhead  *planner.Toolhead
	extruders *extruder.Manager
	groups    []kinematics.Kinematics
	endstops  map[byte]homing.Endstop

	statusReactor *reactor.Reactor

	running  bool
	shutdown bool
}

// NewManager loads configData as a YAML machine configuration and builds
// a fully wired Manager.
func NewManager(configData []byte) (*Manager, error) {
	cfg, err := config.LoadConfig(configData)
	if err != nil {
		return nil, err
	}
	return NewManagerWithConfig(cfg)
}

// NewManagerWithConfig builds a Manager from an already-parsed
// MachineConfig, the path DefaultCartesianConfig()-based callers (tests,
// the CLI's --demo mode) use to skip YAML entirely.
func NewManagerWithConfig(cfg *motion.MachineConfig) (*Manager, error) {
	if cfg.Kinematics != "" && cfg.Kinematics != "cartesian" {
		return nil, fmt.Errorf("unsupported kinematics: %s", cfg.Kinematics)
	}

	configured := make([]byte, 0, len(cfg.Rails)+1)
	for letter := range cfg.Rails {
		configured = append(configured, letter)
	}
	axisMap, posLength := motion.BuildAxisMap(configured)

	primaryAxes := cfg.PrimaryAxes
	if primaryAxes == "" {
		primaryAxes = "XYZ"
	}
	primary, err := kinematics.NewCartesian(cfg, axisMap, primaryAxes)
	if err != nil {
		return nil, fmt.Errorf("building primary kinematics: %w", err)
	}
	groups := []kinematics.Kinematics{primary}

	if cfg.SecondaryAxes != "" {
		secondary, err := kinematics.NewCartesian(cfg, axisMap, cfg.SecondaryAxes)
		if err != nil {
			return nil, fmt.Errorf("building secondary kinematics: %w", err)
		}
		groups = append(groups, secondary)
	}

	bus := events.NewBus()
	extMgr := extruder.NewManager()
	extMgr.Add(extruder.NewExtruder("extruder", cfg.Extruder, posLength-1))

	toolhead := planner.NewToolhead(posLength, groups, extMgr, cfg, bus)

	endstops := make(map[byte]homing.Endstop, len(cfg.Endstops))
	for letter := range cfg.Endstops {
		if letter == 'E' {
			ext := extMgr.Active()
			if ext == nil || !ext.CanHome() {
				return nil, errors.New("endstop E configured but the extruder is not homeable")
			}
			rail := ext.Rail()
			endstops['E'] = NewSimEndstop("extruder", rail, toolhead, rail.Config.PositionEndstop, rail.Config.PositiveDir)
			continue
		}
		rail := railFor(groups, letter)
		if rail == nil {
			return nil, fmt.Errorf("endstop %c has no matching rail", letter)
		}
		endstops[letter] = NewSimEndstop(rail.EndstopName(), rail, toolhead, rail.Config.PositionEndstop, rail.Config.PositiveDir)
	}

	m := &Manager{
		config:    cfg,
		axisMap:   axisMap,
		posLength: posLength,
		bus:       bus,
		parser:    gcode.NewParser(),
		toolhead:  toolhead,
		extruders: extMgr,
		groups:    groups,
		endstops:  endstops,

		statusReactor: reactor.NewReactor(statusReportHz),
	}

	// The motor-off event invalidates homing everywhere, the
	// stepper_enable:motor_off handler of the original.
	bus.Subscribe(events.MotorOff, func(*events.Event) {
		for _, g := range groups {
			g.MotorOff()
		}
		for _, e := range extMgr.All() {
			e.MotorOff()
		}
	})

	printerHoming := homing.NewPrinterHoming(toolhead, endstops, axisMap, groups, extMgr, bus)
	printerHoming.IsShutdown = func() bool { return m.shutdown }
	m.homing = printerHoming
	m.gcodeMove = gcode.NewGCodeMove(toolhead, printerHoming, extMgr, groups, axisMap, posLength, cfg, bus)
	return m, nil
}

func railFor(groups []kinematics.Kinematics, letter byte) *kinematics.Rail {
	for _, g := range groups {
		for _, r := range g.GetSteppers() {
			if r.Axis == letter {
				return r
			}
		}
	}
	return nil
}

// ProcessLine parses and executes a single line of G-code, returning
// whatever textual reply the command produces (empty for most motion
// commands, populated for M114/GET_POSITION and friends).
func (m *Manager) ProcessLine(line string) (string, error) {
	if line == "" {
		return "", nil
	}
	return m.gcodeMove.Execute(m.parser, line)
}

// Start marks the manager running and the G-code frontend ready,
// mirroring the klippy:ready transition.
func (m *Manager) Start() error {
	if m.running {
		return errors.New("already running")
	}
	m.running = true
	m.gcodeMove.HandleReady()
	return nil
}

// Stop halts the toolhead's background execution goroutine and marks the
// manager no longer running.
func (m *Manager) Stop() {
	m.running = false
	m.toolhead.Close()
}

// Shutdown transitions the machine to the shutdown state: the G-code
// frontend logs its snapshot and stops accepting motion, and any homing
// in flight reports its failure as shutdown-caused.
func (m *Manager) Shutdown(reason error) {
	m.shutdown = true
	m.bus.Publish(&events.Event{Type: events.Shutdown, Err: reason})
}

// IsRunning reports whether Start has been called without a matching Stop.
func (m *Manager) IsRunning() bool {
	return m.running
}

// Config returns the machine configuration this manager was built from.
func (m *Manager) Config() *motion.MachineConfig {
	return m.config
}

// AxisMap returns the letter->index map this manager's vectors are keyed
// by.
func (m *Manager) AxisMap() motion.AxisMap {
	return m.axisMap
}

// Bus returns the event registry, for callers wiring extra handlers
// (transforms, probes, status consumers).
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// GCode returns the G-code frontend, for direct access to its status and
// transform hooks.
func (m *Manager) GCode() *gcode.GCodeMove {
	return m.gcodeMove
}

// Homing returns the homing dispatcher, for probing helpers.
func (m *Manager) Homing() *homing.PrinterHoming {
	return m.homing
}

// Toolhead returns the motion facade.
func (m *Manager) Toolhead() *planner.Toolhead {
	return m.toolhead
}

// StatusReactor returns the rate limiter pacing periodic status
// reporting (the websocket hub's broadcast cadence).
func (m *Manager) StatusReactor() *reactor.Reactor {
	return m.statusReactor
}

// Position returns the toolhead's current commanded position vector.
func (m *Manager) Position() motion.Vec {
	return m.toolhead.GetPosition()
}

// Status is a snapshot of the machine's externally visible state: the
// G-code frontend's status document plus which axes are currently homed.
type Status struct {
	gcode.Status
	HomedAxes string `json:"homed_axes"`
}

// Status reports the polled status document for the CLI's status command
// and the HTTP/websocket surface.
func (m *Manager) Status() Status {
	var homed []byte
	for _, g := range m.groups {
		names := g.AxisNames()
		limits := g.Limits()
		for i := 0; i < len(names); i++ {
			if lim := limits[names[i]]; lim[0] <= lim[1] {
				homed = append(homed, names[i])
			}
		}
	}
	if ext := m.extruders.Active(); ext != nil && ext.CanHome() {
		if lim := ext.Limits(); lim[0] <= lim[1] {
			homed = append(homed, 'E')
		}
	}
	return Status{Status: m.gcodeMove.Status(), HomedAxes: string(homed)}
}

// EmergencyStop halts motion immediately: it invalidates homing on every
// kinematics group and stops the toolhead's execution goroutine, the
// host-side analog of klippy's emergency-stop handler (disabling heaters
// is out of scope; no heater control loop exists in this build).
func (m *Manager) EmergencyStop() {
	m.bus.Publish(&events.Event{Type: events.MotorOff})
	m.Stop()
}
