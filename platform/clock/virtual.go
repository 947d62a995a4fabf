package clock

import (
	"sort"
	"sync"
	"time"
)

// Virtual is a manually advanced Clock for tests. Timers fire synchronously
// inside Advance, in scheduled order.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*virtualTimer
	nextID int
}

// NewVirtual creates a virtual clock starting at a fixed instant.
func NewVirtual() *Virtual {
	return &Virtual{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the virtual current time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// AfterFunc schedules fn to run once the clock has been advanced past d.
func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	t := &virtualTimer{
		clock: v,
		id:    v.nextID,
		at:    v.now.Add(d),
		fn:    fn,
	}
	v.timers = append(v.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers in order.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	for {
		t := v.popDue(target)
		if t == nil {
			break
		}
		if t.at.After(v.now) {
			v.now = t.at
		}
		v.mu.Unlock()
		t.fn()
		v.mu.Lock()
	}
	v.now = target
	v.mu.Unlock()
}

// popDue removes and returns the earliest timer due at or before target.
// Caller must hold v.mu.
func (v *Virtual) popDue(target time.Time) *virtualTimer {
	sort.SliceStable(v.timers, func(i, j int) bool {
		if v.timers[i].at.Equal(v.timers[j].at) {
			return v.timers[i].id < v.timers[j].id
		}
		return v.timers[i].at.Before(v.timers[j].at)
	})
	for i, t := range v.timers {
		if !t.at.After(target) {
			v.timers = append(v.timers[:i], v.timers[i+1:]...)
			return t
		}
	}
	return nil
}

type virtualTimer struct {
	clock *Virtual
	id    int
	at    time.Time
	fn    func()
}

func (t *virtualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	for i, other := range t.clock.timers {
		if other == t {
			t.clock.timers = append(t.clock.timers[:i], t.clock.timers[i+1:]...)
			return true
		}
	}
	return false
}
