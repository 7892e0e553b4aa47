package book

import (
	"errors"
	"math"
	"testing"
)

func TestNewDecimalsRange(t *testing.T) {
	for _, v := range []int{0, 1, 9, 18} {
		d, err := NewDecimals(v)
		if err != nil {
			t.Fatalf("NewDecimals(%d) failed: %v", v, err)
		}
		if d.Value() != uint8(v) {
			t.Errorf("Wrong value: got %d, want %d", d.Value(), v)
		}
	}

	for _, v := range []int{-1, 19, 255, 1000} {
		if _, err := NewDecimals(v); !errors.Is(err, ErrDecimalRange) {
			t.Errorf("NewDecimals(%d) should fail with ErrDecimalRange, got %v", v, err)
		}
	}
}

func TestFastTickToFloat(t *testing.T) {
	d := MustDecimals(2)

	if got := d.FastTickToFloat(2); got != 0.02 {
		t.Errorf("Wrong price for tick 2: got %v, want 0.02", got)
	}
	if got := d.FastTickToFloat(12345); got != 123.45 {
		t.Errorf("Wrong price for tick 12345: got %v, want 123.45", got)
	}
}

// The multiplier table and the pow-based reference must agree bit-for-bit,
// otherwise fast and reference consumers disagree on rendered prices.
func TestTickConversionEquivalence(t *testing.T) {
	ticks := []uint32{0, 1, 2, 12345, 1 << 31, math.MaxUint32}

	for v := 0; v <= MaxDecimals; v++ {
		d := MustDecimals(v)
		for _, tick := range ticks {
			fast := d.FastTickToFloat(tick)
			ref := d.ReferenceTickToFloat(tick)
			if math.Float64bits(fast) != math.Float64bits(ref) {
				t.Errorf("decimals=%d tick=%d: fast %v (%#x) != reference %v (%#x)",
					v, tick, fast, math.Float64bits(fast), ref, math.Float64bits(ref))
			}
		}
	}
}
