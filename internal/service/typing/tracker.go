package typing

import (
	"sync"
	"time"
)

// DefaultTTL is the debounce window after which an unrenewed typing marker
// expires.
const DefaultTTL = 3000 * time.Millisecond

// Tracker holds one debounced typing marker per identity. Arming an identity
// that already has a pending marker supersedes the earlier timer instead of
// stacking a second expiry.
type Tracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending map[string]*time.Timer
}

// NewTracker creates a tracker with the given debounce window. Non-positive
// windows fall back to DefaultTTL.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:     ttl,
		pending: make(map[string]*time.Timer),
	}
}

// Arm schedules expire to run after the debounce window unless the identity is
// re-armed or cancelled first. The callback runs on the timer goroutine with
// no tracker locks held.
func (t *Tracker) Arm(identity string, expire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.pending[identity]; ok {
		prev.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(t.ttl, func() {
		t.mu.Lock()
		// A newer Arm may have replaced this timer between fire and lock.
		if t.pending[identity] == timer {
			delete(t.pending, identity)
		} else {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		expire()
	})
	t.pending[identity] = timer
}

// Cancel discards any pending marker for identity without running its expiry
// callback. It reports whether a marker was pending.
func (t *Tracker) Cancel(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.pending[identity]
	if !ok {
		return false
	}
	delete(t.pending, identity)
	// Stop can miss a timer that already fired, but the fired callback sees
	// itself removed from pending and exits without calling expire.
	timer.Stop()
	return true
}

// Active reports whether identity currently has a pending marker.
func (t *Tracker) Active(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[identity]
	return ok
}
