package kinematics

import (
	"math"
	"strings"
	"testing"

	"motioncore/standalone/motion"
)

func testConfig() *motion.MachineConfig {
	return &motion.MachineConfig{
		Kinematics:  "cartesian",
		PrimaryAxes: "XYZ",
		Rails: map[byte]motion.RailConfig{
			'X': {StepsPerMM: 80, PositionMin: 0, PositionMax: 220, PositionEndstop: 0, HomingSpeed: 50, SecondHomingSpeed: 10, HomingRetractDist: 5},
			'Y': {StepsPerMM: 80, PositionMin: 0, PositionMax: 220, PositionEndstop: 0, HomingSpeed: 50, SecondHomingSpeed: 10, HomingRetractDist: 5},
			'Z': {StepsPerMM: 400, PositionMin: 0, PositionMax: 250, PositionEndstop: 0, HomingSpeed: 5, SecondHomingSpeed: 2, HomingRetractDist: 2},
		},
		DefaultVelocity: 50,
		DefaultAccel:    500,
		MaxZVelocity:    10,
		MaxZAccel:       100,
	}
}

func newTestKin(t *testing.T) (*Cartesian, motion.AxisMap, int) {
	t.Helper()
	cfg := testConfig()
	axisMap, posLength := motion.BuildAxisMap([]byte("XYZ"))
	k, err := NewCartesian(cfg, axisMap, "XYZ")
	if err != nil {
		t.Fatalf("NewCartesian: %v", err)
	}
	return k, axisMap, posLength
}

func TestCheckMoveUnhomed(t *testing.T) {
	k, _, n := newTestKin(t)
	move := &motion.Move{
		Start:    motion.NewVec(n),
		End:      motion.NewVec(n),
		Velocity: 50, Accel: 500, Distance: 10,
	}
	move.End[0] = 10
	err := k.CheckMove(move)
	if err == nil || !strings.Contains(err.Error(), "Must home axis first") {
		t.Fatalf("expected must-home error, got %v", err)
	}
}

func TestSetPositionAdoptsLimitsForHomedAxes(t *testing.T) {
	k, _, n := newTestKin(t)
	pos := motion.NewVec(n)
	k.SetPosition(pos, map[int]bool{0: true, 1: true, 2: true})

	for letter, want := range map[byte][2]float64{'X': {0, 220}, 'Y': {0, 220}, 'Z': {0, 250}} {
		if got := k.Limits()[letter]; got != want {
			t.Errorf("axis %c limits: expected %v, got %v", letter, want, got)
		}
	}

	move := &motion.Move{Start: motion.NewVec(n), End: motion.NewVec(n), Velocity: 50, Accel: 500, Distance: 10}
	move.End[0] = 10
	if err := k.CheckMove(move); err != nil {
		t.Errorf("in-range move after homing: %v", err)
	}

	move.End[0] = 500
	err := k.CheckMove(move)
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("expected out-of-range error, got %v", err)
	}
}

func TestCheckMoveScalesZVelocity(t *testing.T) {
	k, _, n := newTestKin(t)
	k.SetPosition(motion.NewVec(n), map[int]bool{0: true, 1: true, 2: true})

	// Pure Z move: z_ratio = 1, so the move is capped at the max Z rates.
	move := &motion.Move{Start: motion.NewVec(n), End: motion.NewVec(n), Velocity: 50, Accel: 500, Distance: 10}
	move.End[2] = 10
	if err := k.CheckMove(move); err != nil {
		t.Fatalf("CheckMove: %v", err)
	}
	if move.Velocity != 10 || move.Accel != 100 {
		t.Errorf("expected Z caps (10, 100), got (%g, %g)", move.Velocity, move.Accel)
	}

	// Diagonal move: the cap relaxes by move_d / |z_d|.
	move = &motion.Move{Start: motion.NewVec(n), End: motion.NewVec(n), Velocity: 50, Accel: 500}
	move.End[0], move.End[2] = 30, 40
	move.Distance = 50
	if err := k.CheckMove(move); err != nil {
		t.Fatalf("CheckMove: %v", err)
	}
	if math.Abs(move.Velocity-12.5) > 1e-9 {
		t.Errorf("expected velocity 12.5 (10 * 50/40), got %g", move.Velocity)
	}
}

func TestMotorOffInvalidatesHoming(t *testing.T) {
	k, _, n := newTestKin(t)
	k.SetPosition(motion.NewVec(n), map[int]bool{0: true, 1: true, 2: true})
	k.MotorOff()
	for letter, lim := range k.Limits() {
		if lim[0] <= lim[1] {
			t.Errorf("axis %c should be unhomed after motor off, limits %v", letter, lim)
		}
	}
}

// fakeHomingState records the HomeRails invocations a Home call produces.
type fakeHomingState struct {
	axes     []int
	rails    [][]*Rail
	forcepos []motion.Vec
	homepos  []motion.Vec
}

func (f *fakeHomingState) Axes() []int { return f.axes }

func (f *fakeHomingState) HomeRails(rails []*Rail, forcepos, homepos motion.Vec) error {
	f.rails = append(f.rails, rails)
	f.forcepos = append(f.forcepos, forcepos)
	f.homepos = append(f.homepos, homepos)
	return nil
}

func TestHomeComputesForcePos(t *testing.T) {
	k, _, _ := newTestKin(t)
	hs := &fakeHomingState{axes: []int{0}}
	if err := k.Home(hs); err != nil {
		t.Fatalf("Home: %v", err)
	}
	if len(hs.rails) != 1 || hs.rails[0][0].Axis != 'X' {
		t.Fatalf("expected one HomeRails call for X, got %v", hs.rails)
	}
	// Negative-direction endstop at 0 over a 0..220 range: the forced
	// start is pushed 1.5x the travel past the endstop.
	if got := hs.forcepos[0][0]; got != 330 {
		t.Errorf("expected forcepos 330, got %g", got)
	}
	if got := hs.homepos[0][0]; got != 0 {
		t.Errorf("expected homepos 0, got %g", got)
	}
	if !math.IsNaN(hs.forcepos[0][1]) {
		t.Error("unhomed axes must stay masked in forcepos")
	}
}

func TestHomePositiveDirForcePos(t *testing.T) {
	cfg := testConfig()
	rail := cfg.Rails['X']
	rail.PositionEndstop = 200
	rail.PositionMax = 200
	rail.PositiveDir = true
	cfg.Rails['X'] = rail

	axisMap, _ := motion.BuildAxisMap([]byte("XYZ"))
	k, err := NewCartesian(cfg, axisMap, "XYZ")
	if err != nil {
		t.Fatalf("NewCartesian: %v", err)
	}
	hs := &fakeHomingState{axes: []int{0}}
	if err := k.Home(hs); err != nil {
		t.Fatalf("Home: %v", err)
	}
	// Endstop at 200, min 0: force position is 200 - 1.5*200 = -100.
	if got := hs.forcepos[0][0]; got != -100 {
		t.Errorf("expected forcepos -100, got %g", got)
	}
}

func TestCalcPositionByStepperName(t *testing.T) {
	k, _, _ := newTestKin(t)
	got := k.CalcPosition(map[string]float64{"stepper_x": 1.5, "stepper_y": 2.5, "stepper_z": 3.5})
	if got != [3]float64{1.5, 2.5, 3.5} {
		t.Errorf("unexpected calc position: %v", got)
	}
}
