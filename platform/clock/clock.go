// Package clock provides an injectable time source so timer-driven behavior
// (throttle windows, batch ticks, drag cool-downs) is testable without real
// wall-clock delays.
// This is part of the platform layer and contains no business logic.
package clock

import "time"

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or was stopped.
	Stop() bool
}

// Clock is the time source used by all timer-driven components.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc schedules fn to run after d and returns a cancellable Timer.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Real returns a Clock backed by the standard library.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{t: time.AfterFunc(d, fn)}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) Stop() bool {
	return r.t.Stop()
}
