// Package timing provides explicit call-site instrumentation: wrap an
// operation, get its result back together with the wall duration. No
// annotations, no globals; callers decide what to log and at what level.
package timing

import "time"

// Measure runs fn and returns its result alongside the elapsed wall time.
func Measure[T any](fn func() (T, error)) (T, time.Duration, error) {
	start := time.Now()
	v, err := fn()
	return v, time.Since(start), err
}

// MeasureErr is Measure for operations with no result value.
func MeasureErr(fn func() error) (time.Duration, error) {
	start := time.Now()
	err := fn()
	return time.Since(start), err
}

// Elapsed runs fn and returns the wall time it took.
func Elapsed(fn func()) time.Duration {
	start := time.Now()
	fn()
	return time.Since(start)
}
