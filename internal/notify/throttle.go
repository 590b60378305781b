package notify

import "time"

// Category is an independent notification channel with its own cool-down.
type Category string

const (
	CategoryStorage Category = "storage"
	CategoryAdmin   Category = "admin"
	CategoryGrace   Category = "grace"
)

// Throttle keeps a per-category last-sent table and decides whether an
// alert may be dispatched now or is still inside its cool-down window.
// Categories never affect each other. Callers inject the current time so
// the throttle is testable without wall-clock waits.
type Throttle struct {
	intervals map[Category]time.Duration
	lastSent  map[Category]time.Time
}

func NewThrottle(intervals map[Category]time.Duration) *Throttle {
	return &Throttle{
		intervals: intervals,
		lastSent:  make(map[Category]time.Time),
	}
}

// Seed primes a category's last-sent time from persisted state, so
// cool-downs survive a process restart. Zero times are ignored.
func (t *Throttle) Seed(cat Category, last time.Time) {
	if !last.IsZero() {
		t.lastSent[cat] = last
	}
}

// ShouldSend reports whether a dispatch for cat is due at now, and when
// it is, records now as the category's last-sent time. The window is
// consumed even if the subsequent dispatch fails; a broken mailer must
// not turn every tick into a retry.
func (t *Throttle) ShouldSend(cat Category, now time.Time) bool {
	if last, ok := t.lastSent[cat]; ok {
		if now.Sub(last) < t.intervals[cat] {
			return false
		}
	}
	t.lastSent[cat] = now

	return true
}

// LastSent returns the recorded last dispatch time for cat.
func (t *Throttle) LastSent(cat Category) (time.Time, bool) {
	last, ok := t.lastSent[cat]

	return last, ok
}
