package kinematics

import (
	"math"

	"motioncore/standalone/motion"
)

// Cartesian implements a 1:1 XYZ-style rail group, grounded on
// klippy/kinematics/cartesian_abc.py. The same type serves both the
// primary XYZ kinematics and an optional secondary ABC/UVW group — the
// original's CartKinematicsABC is itself just CartKinematics constructed
// against a different axis triplet, and this port keeps that symmetry.
type Cartesian struct {
	axes         string // e.g. "XYZ"
	rails        []*Rail
	posLength    int
	limits       [3][2]float64 // limits[i][0] > limits[i][1] means axis i is unhomed
	maxZVelocity float64
	maxZAccel    float64
}

func (k *Cartesian) AxisNames() string { return k.axes }

func (k *Cartesian) GetSteppers() []*Rail { return k.rails }

// CalcPosition resolves this group's three coordinates from a set of
// stepper commanded positions keyed by stepper name, mirroring
// calc_position's stepper_positions[rail.get_name()] lookup.
func (k *Cartesian) CalcPosition(stepperPositions map[string]float64) [3]float64 {
	var out [3]float64
	for i, rail := range k.rails {
		out[i] = stepperPositions[rail.Name()]
	}
	return out
}

// SetPosition resets each rail's stepper to newpos and, for any axis in
// homingAxes, restores that axis's limits to its full configured range.
func (k *Cartesian) SetPosition(newpos motion.Vec, homingAxes map[int]bool) {
	for i, rail := range k.rails {
		rail.SetPosition(newpos)
		if homingAxes[rail.Index] {
			min, max := rail.GetRange()
			k.limits[i] = [2]float64{min, max}
		}
	}
}

// MotorOff invalidates all homing on this group, the stepper_enable:motor_off
// handler in the original.
func (k *Cartesian) MotorOff() {
	for i := range k.limits {
		k.limits[i] = [2]float64{1.0, -1.0}
	}
}

func (k *Cartesian) Limits() map[byte][2]float64 {
	out := make(map[byte][2]float64, len(k.rails))
	for i, rail := range k.rails {
		out[rail.Axis] = k.limits[i]
	}
	return out
}

// homeAxis performs one axis's homing pass: the home position sits at the
// endstop, and forcepos starts the drip move 1.5x the full travel away on
// the far side, exactly as CartKinematicsABC._home_axis computes it.
func (k *Cartesian) homeAxis(hs HomingState, rail *Rail) error {
	positionMin, positionMax := rail.GetRange()
	hi := rail.GetHomingInfo()

	homepos := motion.NewVec(k.posLength)
	forcepos := motion.NewVec(k.posLength)
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
	return hs.HomeRails([]*Rail{rail}, forcepos, homepos)
}

// Home homes every requested axis in this group independently and in
// order, per CartKinematicsABC.home (dual-carriage handling is out of
// scope — no example in this retrieval pack configures one).
func (k *Cartesian) Home(hs HomingState) error {
	for _, axis := range hs.Axes() {
		for _, r := range k.rails {
			if r.Index != axis {
				continue
			}
			if err := k.homeAxis(hs, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (k *Cartesian) checkEndstops(move *motion.Move) error {
	for i := 0; i < 3; i++ {
		idx := k.rails[i].Index
		if move.End[idx] == move.Start[idx] {
			continue
		}
		if move.End[idx] < k.limits[i][0] || move.End[idx] > k.limits[i][1] {
			if k.limits[i][0] > k.limits[i][1] {
				return &MoveError{Msg: "Must home axis first"}
			}
			return &MoveError{Msg: "Move out of range"}
		}
	}
	return nil
}

// CheckMove validates a move's endpoint against this group's limits and,
// if the move touches the group's third (Z-like) axis, scales down the
// move's velocity/accel to the configured max Z rates — the z_ratio logic
// from CartKinematics.check_move.
func (k *Cartesian) CheckMove(move *motion.Move) error {
	xi, yi, zi := k.rails[0].Index, k.rails[1].Index, k.rails[2].Index
	xpos, ypos := move.End[xi], move.End[yi]
	if xpos < k.limits[0][0] || xpos > k.limits[0][1] ||
		ypos < k.limits[1][0] || ypos > k.limits[1][1] {
		if err := k.checkEndstops(move); err != nil {
			return err
		}
	}

	zDelta := move.End[zi] - move.Start[zi]
	if zDelta == 0 {
		return nil
	}
	if err := k.checkEndstops(move); err != nil {
		return err
	}
	if move.Distance > 0 {
		zRatio := move.Distance / math.Abs(zDelta)
		move.LimitSpeed(k.maxZVelocity*zRatio, k.maxZAccel*zRatio)
	}
	return nil
}
