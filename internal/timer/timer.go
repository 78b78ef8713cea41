// Package timer provides one-shot and periodic timers whose callbacks
// fire on a dedicated goroutine per timer. It is a small, self
// contained primitive in the style of gone/daemon's event-loop
// plumbing (a goroutine selecting on a stop channel and a ticker),
// generalized into a reusable component (C2 in the design).
package timer

import (
	"sync"
	"time"
)

// Kind selects one-shot vs periodic firing.
type Kind int

const (
	OneShot Kind = iota
	Periodic
)

// Timer is a cancelable, queryable timer. The zero value is not
// usable; construct with New.
type Timer struct {
	mu     sync.Mutex
	active bool
	stopch chan struct{}
	done   chan struct{}
}

// New creates and arms a timer that calls fn after d (OneShot) or
// every d (Periodic). A zero duration never fires and New returns nil
// so callers can treat "timer disabled" and "no timer created" the
// same way (spec.md §8: "interval == 0 ⇒ no timer is ever created").
func New(d time.Duration, kind Kind, fn func()) *Timer {
	if d <= 0 {
		return nil
	}
	t := &Timer{
		active: true,
		stopch: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.run(d, kind, fn)
	return t
}

func (t *Timer) run(d time.Duration, kind Kind, fn func()) {
	defer close(t.done)
	switch kind {
	case OneShot:
		select {
		case <-time.After(d):
			t.mu.Lock()
			fired := t.active
			t.active = false
			t.mu.Unlock()
			if fired {
				fn()
			}
		case <-t.stopch:
		}
	case Periodic:
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.mu.Lock()
				active := t.active
				t.mu.Unlock()
				if active {
					fn()
				}
			case <-t.stopch:
				return
			}
		}
	}
}

// Cancel disarms the timer. It is safe to call multiple times and on
// a nil *Timer (spec.md §8 invariant: "a disarmed startup timer is
// never re-armed" — Cancel never resurrects a timer either).
func (t *Timer) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.mu.Unlock()
	close(t.stopch)
}

// IsActive reports whether the timer can still fire.
func (t *Timer) IsActive() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
