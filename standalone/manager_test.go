package standalone

import (
	"math"
	"strings"
	"testing"

	"motioncore/standalone/config"
	"motioncore/standalone/homing"
	"motioncore/standalone/kinematics"
	"motioncore/standalone/motion"
	"motioncore/standalone/reactor"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManagerWithConfig(config.DefaultCartesianConfig())
	if err != nil {
		t.Fatalf("NewManagerWithConfig: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func mustRun(t *testing.T, m *Manager, lines ...string) string {
	t.Helper()
	var last string
	for _, line := range lines {
		reply, err := m.ProcessLine(line)
		if err != nil {
			t.Fatalf("%q: %v", line, err)
		}
		last = reply
	}
	return last
}

func TestMoveBeforeHomingRejected(t *testing.T) {
	m := newTestManager(t)
	_, err := m.ProcessLine("G1 X10 F3000")
	if err == nil || !strings.Contains(err.Error(), "Must home axis first") {
		t.Fatalf("expected must-home error, got %v", err)
	}
}

func TestG28HomesAllAxes(t *testing.T) {
	m := newTestManager(t)
	mustRun(t, m, "G28")

	st := m.Status()
	if st.HomedAxes != "XYZ" {
		t.Fatalf("expected XYZ homed, got %q", st.HomedAxes)
	}
	pos := m.Position()
	for i := 0; i < 3; i++ {
		if math.Abs(pos[i]) > 1e-6 {
			t.Errorf("axis %d should rest at its endstop position 0, got %g", i, pos[i])
		}
	}

	mustRun(t, m, "G1 X10 Y20 F3000")
	m.Toolhead().FlushStepGeneration()
	pos = m.Position()
	if pos[0] != 10 || pos[1] != 20 {
		t.Errorf("post-homing move failed: %v", pos)
	}
}

func TestG28SingleAxis(t *testing.T) {
	m := newTestManager(t)
	mustRun(t, m, "G28 X0")
	st := m.Status()
	if st.HomedAxes != "X" {
		t.Fatalf("expected only X homed, got %q", st.HomedAxes)
	}
	if _, err := m.ProcessLine("G1 Y10 F3000"); err == nil {
		t.Error("Y should still require homing")
	}
}

func TestG28PositiveDirEndstop(t *testing.T) {
	cfg := config.DefaultCartesianConfig()
	rail := cfg.Rails['X']
	rail.PositionEndstop = 200
	rail.PositionMax = 200
	rail.PositiveDir = true
	cfg.Rails['X'] = rail

	m, err := NewManagerWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewManagerWithConfig: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	mustRun(t, m, "G28 X0")
	pos := m.Position()
	if math.Abs(pos[0]-200) > 1e-6 {
		t.Errorf("X should home to its endstop at 200, got %g", pos[0])
	}
	if !strings.Contains(m.Status().HomedAxes, "X") {
		t.Error("X should report homed")
	}
}

func TestHomingRebasesGCodeOffset(t *testing.T) {
	m := newTestManager(t)
	mustRun(t, m, "SET_GCODE_OFFSET Z=0.5", "G28")

	report := mustRun(t, m, "M114")
	if !strings.Contains(report, "Z:-0.500") {
		t.Fatalf("expected Z:-0.500 after homing with offset, got %q", report)
	}
}

// neverEndstop never reports a trigger, simulating a broken switch.
type neverEndstop struct {
	rails []*kinematics.Rail
}

func (e *neverEndstop) Name() string              { return "x" }
func (e *neverEndstop) Rails() []*kinematics.Rail { return e.rails }
func (e *neverEndstop) HomeStart(printTime, sampleTime float64, sampleCount int, restTime float64, triggered bool) *reactor.Completion {
	return reactor.NewCompletion()
}
func (e *neverEndstop) HomeWait(float64) (float64, error) { return 0, nil }

func TestG28FailureCutsMotorPower(t *testing.T) {
	m := newTestManager(t)
	xRail := railFor(m.groups, 'X')
	m.endstops['X'] = &neverEndstop{rails: []*kinematics.Rail{xRail}}

	_, err := m.homing.CmdG28("X")
	if err == nil || !strings.Contains(err.Error(), "no trigger on x") {
		t.Fatalf("expected no-trigger error, got %v", err)
	}
	if m.Status().HomedAxes != "" {
		t.Errorf("failed homing must de-energize and invalidate all axes, got %q", m.Status().HomedAxes)
	}
}

func TestG28ShutdownError(t *testing.T) {
	m := newTestManager(t)
	xRail := railFor(m.groups, 'X')
	m.endstops['X'] = &neverEndstop{rails: []*kinematics.Rail{xRail}}
	m.shutdown = true

	_, err := m.homing.CmdG28("X")
	if err == nil || err.Error() != "Homing failed due to printer shutdown" {
		t.Fatalf("expected shutdown error, got %v", err)
	}
}

// stickyEndstop wraps a real endstop but reads as already triggered on
// every arming after the first, simulating a switch that never releases.
type stickyEndstop struct {
	inner homing.Endstop
	rail  *kinematics.Rail
	arms  int

	trigger float64
}

func (e *stickyEndstop) Name() string              { return e.inner.Name() }
func (e *stickyEndstop) Rails() []*kinematics.Rail { return e.inner.Rails() }

func (e *stickyEndstop) HomeStart(printTime, sampleTime float64, sampleCount int, restTime float64, triggered bool) *reactor.Completion {
	e.arms++
	if e.arms > 1 {
		e.trigger = printTime
		c := reactor.NewCompletion()
		c.Complete(nil)
		return c
	}
	e.trigger = 0
	return e.inner.HomeStart(printTime, sampleTime, sampleCount, restTime, triggered)
}

func (e *stickyEndstop) HomeWait(homeEndTime float64) (float64, error) {
	if e.trigger > 0 {
		return e.trigger, nil
	}
	return e.inner.HomeWait(homeEndTime)
}

func TestEndstopStillTriggeredAfterRetract(t *testing.T) {
	m := newTestManager(t)
	m.endstops['X'] = &stickyEndstop{
		inner: m.endstops['X'],
		rail:  railFor(m.groups, 'X'),
	}

	_, err := m.homing.CmdG28("X")
	if err == nil || !strings.Contains(err.Error(), "still triggered after retract") {
		t.Fatalf("expected retract diagnosis, got %v", err)
	}
}

func TestProbingMove(t *testing.T) {
	m := newTestManager(t)
	mustRun(t, m, "G28", "G1 Z10 F600")
	m.Toolhead().FlushStepGeneration()

	zRail := railFor(m.groups, 'Z')
	probe := NewSimEndstop("z", zRail, m.toolhead, 2.3, false)

	target := m.Position()
	target[2] = -5
	trigpos, err := m.homing.ProbingMove(probe, target, 5, true, true, []string{"z"})
	if err != nil {
		t.Fatalf("ProbingMove: %v", err)
	}
	// The reported trigger height is accurate to one drip segment.
	if math.Abs(trigpos[2]-2.3) > 0.3 {
		t.Errorf("expected trigger near 2.3, got %g", trigpos[2])
	}
	// The toolhead's corrected position sits at or below the trigger.
	if pos := m.Position(); pos[2] > trigpos[2]+1e-9 {
		t.Errorf("halt %g should not be above trigger %g", pos[2], trigpos[2])
	}
}

func TestProbeTriggeredBeforeMovement(t *testing.T) {
	m := newTestManager(t)
	mustRun(t, m, "G28", "G1 Z10 F600")
	m.Toolhead().FlushStepGeneration()

	zRail := railFor(m.groups, 'Z')
	// Switch threshold above the current height: pressed before moving.
	probe := NewSimEndstop("z", zRail, m.toolhead, 15, false)

	target := m.Position()
	target[2] = -5
	_, err := m.homing.ProbingMove(probe, target, 5, true, true, []string{"z"})
	if err == nil || !strings.Contains(err.Error(), "probe triggered prior to movement") {
		t.Fatalf("expected prior-movement error, got %v", err)
	}
}

func TestMotorOffEventInvalidatesHoming(t *testing.T) {
	m := newTestManager(t)
	mustRun(t, m, "G28")
	if m.Status().HomedAxes != "XYZ" {
		t.Fatal("precondition: homed")
	}
	m.EmergencyStop()
	if m.Status().HomedAxes != "" {
		t.Errorf("emergency stop must invalidate homing, got %q", m.Status().HomedAxes)
	}
}

func TestStatusDocument(t *testing.T) {
	m := newTestManager(t)
	mustRun(t, m, "G28", "G1 X10 F1200", "M220 S200")

	st := m.Status()
	if math.Abs(st.SpeedFactor-2.0) > 1e-9 {
		t.Errorf("speed factor: %g", st.SpeedFactor)
	}
	if math.Abs(st.Speed-1200) > 1e-9 {
		t.Errorf("F-space speed should stay 1200, got %g", st.Speed)
	}
	if st.Position[0] != 10 || st.GCodePosition[0] != 10 {
		t.Errorf("positions: %v / %v", st.Position, st.GCodePosition)
	}
	if !st.AbsoluteCoordinates || !st.AbsoluteExtrude {
		t.Error("default coordinate modes should be absolute")
	}
}

func TestGetPositionDiagnostic(t *testing.T) {
	m := newTestManager(t)
	mustRun(t, m, "G28", "G1 X10 F1200")
	m.Toolhead().FlushStepGeneration()

	// SetPosition keeps the step counter, so stepper_x's count carries the
	// homing travel: re-homing from the 335mm renamed start ends at -26800
	// steps (80 steps/mm), and X10 then adds 800.
	report := mustRun(t, m, "GET_POSITION")
	for _, want := range []string{"mcu: stepper_x:-26000", "kinematic: X:10.000000", "gcode: X:10.000000"} {
		if !strings.Contains(report, want) {
			t.Errorf("GET_POSITION missing %q:\n%s", want, report)
		}
	}
}

func TestSecondaryTripletHoming(t *testing.T) {
	cfg := config.DefaultCartesianConfig()
	cfg.SecondaryAxes = "ABC"
	for _, letter := range []byte("ABC") {
		cfg.Rails[letter] = motion.RailConfig{
			StepsPerMM: 80, PositionMin: 0, PositionMax: 100,
			PositionEndstop: 0, HomingSpeed: 25, SecondHomingSpeed: 5,
			HomingRetractDist: 3,
		}
		cfg.Endstops[letter] = motion.EndstopConfig{Pin: "gpio3" + string(letter)}
	}

	m, err := NewManagerWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewManagerWithConfig: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if m.posLength != 7 {
		t.Fatalf("expected 7-slot position vector, got %d", m.posLength)
	}
	mustRun(t, m, "G28")
	if got := m.Status().HomedAxes; got != "XYZABC" {
		t.Fatalf("expected all six axes homed, got %q", got)
	}

	mustRun(t, m, "G1 A10 B5 F600")
	m.Toolhead().FlushStepGeneration()
	pos := m.Position()
	aIdx := m.axisMap['A']
	if pos[aIdx] != 10 || pos[aIdx+1] != 5 {
		t.Errorf("secondary-axis move failed: %v", pos)
	}
}

func TestHomeableExtruderG28(t *testing.T) {
	cfg := config.DefaultCartesianConfig()
	cfg.Extruder.CanHome = true
	cfg.Extruder.Rail = motion.RailConfig{
		StepsPerMM: 400, PositionMin: 0, PositionMax: 100,
		PositionEndstop: 0, HomingSpeed: 5, SecondHomingSpeed: 2,
	}
	cfg.Endstops['E'] = motion.EndstopConfig{Pin: "gpio25"}

	m, err := NewManagerWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewManagerWithConfig: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	// A bare G28 on a homeable extruder homes E as well.
	mustRun(t, m, "G28")
	if got := m.Status().HomedAxes; got != "XYZE" {
		t.Fatalf("expected XYZE homed, got %q", got)
	}
}

func TestShutdownStopsGCode(t *testing.T) {
	m := newTestManager(t)
	mustRun(t, m, "G28")
	m.Shutdown(nil)
	if _, err := m.ProcessLine("G1 X5 F600"); err == nil {
		t.Error("moves must be rejected after shutdown")
	}
	if _, err := m.ProcessLine("M114"); err != nil {
		t.Errorf("M114 must remain answerable: %v", err)
	}
}
