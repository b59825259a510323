// Package clock abstracts wall-clock time and timers so the scheduler can be
// driven by a virtual clock in tests.
package clock

import "time"

// Clock supplies the current instant and timers.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
	// NewTimer returns a timer that fires once after d. A non-positive d
	// fires immediately.
	NewTimer(d time.Duration) Timer
}

// Timer is a single-shot timer.
type Timer interface {
	C() <-chan time.Time
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was stopped.
	Stop() bool
}

// Real returns a Clock backed by the system clock.
//
// Now strips the monotonic reading, so comparisons against persisted
// timestamps follow the wall clock. Timers still run on the monotonic
// clock; callers that must notice wall-clock jumps or process suspension
// cap their sleeps and re-check Now on every wake.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().Round(0)
}

func (realClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time { return r.t.C }

func (r *realTimer) Stop() bool { return r.t.Stop() }
