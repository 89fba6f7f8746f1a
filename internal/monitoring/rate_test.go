package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateTracker_Empty(t *testing.T) {
	r := NewRateTracker(8)
	s := r.Summary()
	assert.Equal(t, 0, s.Samples)
	assert.Zero(t, s.RateHz)
	assert.Empty(t, s.LastEvent)
}

func TestRateTracker_SteadyRate(t *testing.T) {
	r := NewRateTracker(16)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 11; i++ {
		r.Observe(start.Add(time.Duration(i) * 60 * time.Millisecond))
	}

	s := r.Summary()
	require.Equal(t, 10, s.Samples)
	assert.InDelta(t, 60.0, s.MeanMs, 1e-9)
	assert.InDelta(t, 1000.0/60.0, s.RateHz, 1e-9)
	assert.InDelta(t, 0.0, s.JitterMs, 1e-9)
	assert.InDelta(t, 60.0, s.MaxGapMs, 1e-9)
	assert.NotEmpty(t, s.LastEvent)
}

func TestRateTracker_WindowWraps(t *testing.T) {
	r := NewRateTracker(4)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Observe(now)
	// one long gap that should fall out of the window
	now = now.Add(time.Second)
	r.Observe(now)
	for i := 0; i < 4; i++ {
		now = now.Add(100 * time.Millisecond)
		r.Observe(now)
	}

	s := r.Summary()
	require.Equal(t, 4, s.Samples)
	assert.InDelta(t, 100.0, s.MaxGapMs, 1e-9)
	assert.InDelta(t, 10.0, s.RateHz, 1e-9)
}

func TestRateTracker_Reset(t *testing.T) {
	r := NewRateTracker(4)
	now := time.Now()
	r.Observe(now)
	r.Observe(now.Add(time.Millisecond))
	r.Reset()

	s := r.Summary()
	assert.Equal(t, 0, s.Samples)
	assert.Empty(t, s.LastEvent)
}
