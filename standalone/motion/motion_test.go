package motion

import "testing"

func TestBuildAxisMapPrimaryOnly(t *testing.T) {
	m, n := BuildAxisMap([]byte{'X', 'Y', 'Z'})
	if n != 4 {
		t.Fatalf("expected pos length 4, got %d", n)
	}
	want := map[byte]int{'X': 0, 'Y': 1, 'Z': 2, 'E': 3}
	for letter, idx := range want {
		if m[letter] != idx {
			t.Errorf("axis %c: expected index %d, got %d", letter, idx, m[letter])
		}
	}
}

func TestBuildAxisMapWithSecondaryTriplet(t *testing.T) {
	m, n := BuildAxisMap([]byte{'X', 'Y', 'Z', 'A', 'B', 'C'})
	if n != 7 {
		t.Fatalf("expected pos length 7, got %d", n)
	}
	if m['A'] != 3 || m['B'] != 4 || m['C'] != 5 {
		t.Errorf("secondary triplet misplaced: A=%d B=%d C=%d", m['A'], m['B'], m['C'])
	}
	if m['E'] != 6 {
		t.Errorf("E must be the final slot, got %d", m['E'])
	}
}

func TestBuildAxisMapPartialTriplet(t *testing.T) {
	// A single letter from a triplet pulls in the whole triplet.
	m, n := BuildAxisMap([]byte{'X', 'Y', 'Z', 'A'})
	if n != 7 {
		t.Fatalf("expected pos length 7 for XYZA, got %d", n)
	}
	if _, ok := m['C']; !ok {
		t.Error("C should be mapped once A is configured")
	}
}

func TestVecClone(t *testing.T) {
	v := Vec{1, 2, 3}
	c := v.Clone()
	c[0] = 99
	if v[0] != 1 {
		t.Error("Clone must not alias the original")
	}
}

func TestMoveLimitSpeed(t *testing.T) {
	m := &Move{Velocity: 100, Accel: 1000}
	m.LimitSpeed(50, 2000)
	if m.Velocity != 50 {
		t.Errorf("velocity not capped: %g", m.Velocity)
	}
	if m.Accel != 1000 {
		t.Errorf("accel should be unchanged: %g", m.Accel)
	}
}
