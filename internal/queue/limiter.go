package queue

import (
	"sync"
	"time"
)

// slidingWindow allows at most max dispatches within any window-long interval.
// It is shared by every consumer of a Queue.
type slidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	stamps []time.Time
}

func newSlidingWindow(max int, window time.Duration) *slidingWindow {
	return &slidingWindow{window: window, max: max, stamps: make([]time.Time, 0, max)}
}

func (sw *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.window)
	kept := sw.stamps[:0]
	for _, t := range sw.stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	sw.stamps = kept
}

// waitTime returns how long until another dispatch is allowed, or 0.
func (sw *slidingWindow) waitTime(now time.Time) time.Duration {
	if sw == nil || sw.max <= 0 {
		return 0
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(now)
	if len(sw.stamps) < sw.max {
		return 0
	}
	wait := sw.stamps[0].Add(sw.window).Sub(now)
	if wait <= 0 {
		return time.Millisecond
	}
	return wait
}

func (sw *slidingWindow) record(now time.Time) {
	if sw == nil || sw.max <= 0 {
		return
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.stamps = append(sw.stamps, now)
}
