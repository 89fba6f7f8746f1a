package monitoring

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// RateSummary describes the observed event rate over the tracked window.
type RateSummary struct {
	Samples   int     `json:"samples"`
	RateHz    float64 `json:"rate_hz"`
	MeanMs    float64 `json:"mean_interval_ms"`
	JitterMs  float64 `json:"jitter_ms"`
	MaxGapMs  float64 `json:"max_gap_ms"`
	LastEvent string  `json:"last_event,omitempty"`
}

// RateTracker keeps the most recent inter-event intervals in a ring and
// summarises them. It is safe for concurrent use.
type RateTracker struct {
	mu        sync.Mutex
	intervals []float64 // milliseconds
	next      int
	full      bool
	last      time.Time
}

// NewRateTracker tracks up to window intervals.
func NewRateTracker(window int) *RateTracker {
	if window < 2 {
		window = 2
	}
	return &RateTracker{intervals: make([]float64, window)}
}

// Observe records an event at t.
func (r *RateTracker) Observe(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.last.IsZero() {
		r.intervals[r.next] = float64(t.Sub(r.last)) / float64(time.Millisecond)
		r.next++
		if r.next == len(r.intervals) {
			r.next = 0
			r.full = true
		}
	}
	r.last = t
}

// Reset forgets all intervals, e.g. after a link reconnect.
func (r *RateTracker) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
	r.full = false
	r.last = time.Time{}
}

// Summary computes rate, mean interval, jitter (standard deviation) and the
// largest gap over the window.
func (r *RateTracker) Summary() RateSummary {
	r.mu.Lock()
	n := r.next
	if r.full {
		n = len(r.intervals)
	}
	xs := make([]float64, n)
	copy(xs, r.intervals[:n])
	last := r.last
	r.mu.Unlock()

	s := RateSummary{Samples: n}
	if !last.IsZero() {
		s.LastEvent = last.Format(time.RFC3339Nano)
	}
	if n == 0 {
		return s
	}

	mean, std := stat.MeanStdDev(xs, nil)
	if n == 1 || math.IsNaN(std) {
		std = 0
	}
	s.MeanMs = mean
	s.JitterMs = std
	if mean > 0 {
		s.RateHz = 1000 / mean
	}
	for _, x := range xs {
		s.MaxGapMs = math.Max(s.MaxGapMs, x)
	}
	return s
}
