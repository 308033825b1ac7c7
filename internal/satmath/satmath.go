// Package satmath provides saturating int64 arithmetic for byte and position
// accounting, so counters clamp at the range limits instead of wrapping.
package satmath

import (
	"errors"
	"math"
	"sync/atomic"
)

// ErrOverflow indicates an offset computation left the int64 range.
var ErrOverflow = errors.New("arithmetic overflow")

// Add returns a+b clamped to [math.MinInt64, math.MaxInt64].
func Add(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

// AddChecked returns a+b, or ErrOverflow when the result does not fit.
func AddChecked(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Mul returns a*b for non-negative operands, clamped to math.MaxInt64.
func Mul(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

// Counter is a lock-free saturating int64 counter.
type Counter struct {
	v atomic.Int64
}

// Add adds delta with saturation and returns the new value.
func (c *Counter) Add(delta int64) int64 {
	for {
		old := c.v.Load()
		next := Add(old, delta)
		if c.v.CompareAndSwap(old, next) {
			return next
		}
	}
}

// Store replaces the value.
func (c *Counter) Store(v int64) {
	c.v.Store(v)
}

// Load returns the current value.
func (c *Counter) Load() int64 {
	return c.v.Load()
}
