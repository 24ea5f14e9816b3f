package stepgen

import "testing"

func TestMoveToQuantizesToSteps(t *testing.T) {
	s := NewStepper("stepper_x", 80)
	s.MoveTo(10.0, 1.0)
	if got := s.GetMCUPosition(); got != 800 {
		t.Fatalf("expected 800 steps, got %d", got)
	}
	if got := s.GetCommandedPosition(); got != 10.0 {
		t.Fatalf("expected commanded 10.0, got %g", got)
	}
}

func TestSetPositionPreservesMCUCount(t *testing.T) {
	s := NewStepper("stepper_x", 100)
	s.MoveTo(50.0, 1.0)
	before := s.GetMCUPosition()
	s.SetPosition(0.0)
	if s.GetMCUPosition() != before {
		t.Error("SetPosition must not alter the MCU step counter")
	}
	if got := s.GetCommandedPosition(); got != 0.0 {
		t.Errorf("expected commanded 0 after SetPosition, got %g", got)
	}
	// The renamed coordinate system maps further moves consistently.
	s.MoveTo(5.0, 2.0)
	if got := s.GetMCUPosition(); got != before+500 {
		t.Errorf("expected %d steps, got %d", before+500, got)
	}
}

func TestPastMCUPositionLookup(t *testing.T) {
	s := NewStepper("stepper_x", 100)
	s.MoveTo(1.0, 1.0)
	s.MoveTo(2.0, 2.0)
	s.MoveTo(3.0, 3.0)

	cases := []struct {
		time float64
		want int64
	}{
		{0.0, 0},
		{0.5, 0},
		{1.0, 100},
		{1.5, 100},
		{2.0, 200},
		{2.9, 200},
		{3.0, 300},
		{99.0, 300},
	}
	for _, c := range cases {
		if got := s.GetPastMCUPosition(c.time); got != c.want {
			t.Errorf("past position at t=%g: expected %d, got %d", c.time, c.want, got)
		}
	}
}

func TestCommandedToMCURoundTrip(t *testing.T) {
	s := NewStepper("stepper_x", 80)
	s.MoveTo(12.5, 1.0)
	mcu := s.GetMCUPosition()
	if got := s.CommandedToMCUPosition(s.MCUToCommandedPosition(mcu)); got != mcu {
		t.Errorf("round trip mismatch: %d vs %d", got, mcu)
	}
	s.SetPosition(100.0)
	if got := s.CommandedToMCUPosition(100.0); got != mcu {
		t.Errorf("after rename, commanded 100 should map to %d, got %d", mcu, got)
	}
}
