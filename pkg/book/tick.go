package book

import (
	"errors"
	"fmt"
	"math"
)

// MaxDecimals is the largest supported tick precision.
const MaxDecimals = 18

// ErrDecimalRange is returned when constructing Decimals outside [0, MaxDecimals].
var ErrDecimalRange = errors.New("invalid decimals, range must be between 0 and 18")

// shrinkMultipliers[d] holds 10^-d. Precomputed so the hot conversion path is
// a single multiply instead of a pow call. ReferenceTickToFloat must agree
// bit-for-bit with this table for every tick.
var shrinkMultipliers = [MaxDecimals + 1]float64{
	1e0, 1e-1, 1e-2, 1e-3, 1e-4, 1e-5, 1e-6, 1e-7, 1e-8, 1e-9,
	1e-10, 1e-11, 1e-12, 1e-13, 1e-14, 1e-15, 1e-16, 1e-17, 1e-18,
}

// Decimals is a tick precision constrained to 0-18. Once constructed the
// value is trusted; conversion methods do not re-check the range.
type Decimals struct {
	v uint8
}

// NewDecimals validates and wraps a decimal-places value.
func NewDecimals(value int) (Decimals, error) {
	if value < 0 || value > MaxDecimals {
		return Decimals{}, ErrDecimalRange
	}
	return Decimals{v: uint8(value)}, nil
}

// MustDecimals is NewDecimals for compile-time-known values; panics on range error.
func MustDecimals(value int) Decimals {
	d, err := NewDecimals(value)
	if err != nil {
		panic(fmt.Sprintf("book: decimals %d: %v", value, err))
	}
	return d
}

// Value returns the wrapped decimal places.
func (d Decimals) Value() uint8 {
	return d.v
}

func (d Decimals) String() string {
	return fmt.Sprintf("1e-%d", d.v)
}

// FastTickToFloat converts a tick to its price using the multiplier table.
func (d Decimals) FastTickToFloat(tick uint32) float64 {
	return float64(tick) * shrinkMultipliers[d.v]
}

// ReferenceTickToFloat is the slow-path equivalent of FastTickToFloat, kept
// for verification and benchmarks.
func (d Decimals) ReferenceTickToFloat(tick uint32) float64 {
	return float64(tick) * math.Pow(10, -float64(d.v))
}
