package traffic

import (
	"sync"
	"time"
)

// Tracker keeps sliding windows of upstream lookup outcomes for the health check.
// The zero value is ready to use.
type Tracker struct {
	mu           sync.Mutex
	maxAge       time.Duration
	now          func() time.Time
	successTimes []time.Time
	errorTimes   []time.Time
}

// NewTracker returns a Tracker that retains outcomes for maxAge (default 5m).
func NewTracker(maxAge time.Duration) *Tracker {
	return &Tracker{maxAge: maxAge}
}

// RecordSuccess records a successful upstream lookup.
func (t *Tracker) RecordSuccess() {
	if t == nil {
		return
	}
	t.record(&t.successTimes)
}

// RecordError records a failed upstream lookup.
func (t *Tracker) RecordError() {
	if t == nil {
		return
	}
	t.record(&t.errorTimes)
}

func (t *Tracker) record(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// ErrorRate returns (errorCount, totalCount) within the window ending now.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	if t == nil {
		return 0, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	errCount := countSince(t.errorTimes, cutoff)
	return errCount, errCount + countSince(t.successTimes, cutoff)
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// countSince counts timestamps that are not before cutoff.
func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Slices are append-only in time order.
func (t *Tracker) pruneLocked(now time.Time) {
	maxAge := t.maxAge
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	cutoff := now.Add(-maxAge)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
}
