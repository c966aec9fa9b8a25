package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow is an in-process limiter that reserves a slot atomically per identifier+action.
// Concurrent callers never exceed limit within any window.
type SlidingWindow struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	mu     sync.Mutex
	stamps []time.Time // ascending
}

// NewSlidingWindow returns an empty limiter. now may be nil.
func NewSlidingWindow(now func() time.Time) *SlidingWindow {
	if now == nil {
		now = time.Now
	}
	return &SlidingWindow{windows: make(map[string]*window), now: now}
}

func (s *SlidingWindow) entry(k string) *window {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[k]
	if !ok {
		w = &window{}
		s.windows[k] = w
	}
	return w
}

// Allow implements Limiter. An admitted call is recorded before Allow returns.
func (s *SlidingWindow) Allow(ctx context.Context, identifier, action string, limit int, win time.Duration) (bool, error) {
	if err := checkArgs(identifier, win); err != nil {
		return false, err
	}
	if limit <= 0 {
		return false, nil
	}
	now := s.now()
	w := s.entry(key(identifier, action))
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now.Add(-win))
	if len(w.stamps) >= limit {
		return false, nil
	}
	w.stamps = append(w.stamps, now)
	return true, nil
}

// prune drops stamps at or before cutoff.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// Sweep removes windows with no stamps newer than maxAge. It returns how many were removed.
func (s *SlidingWindow) Sweep(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, w := range s.windows {
		w.mu.Lock()
		w.prune(cutoff)
		empty := len(w.stamps) == 0
		w.mu.Unlock()
		if empty {
			delete(s.windows, k)
			removed++
		}
	}
	return removed
}
