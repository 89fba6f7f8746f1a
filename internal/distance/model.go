// Package distance holds the most recent radar readings shared between the
// input and output sides of the bridge.
package distance

import (
	"sync"
	"time"

	"github.com/banshee-data/mr72-bridge/internal/mr72"
	"github.com/banshee-data/mr72-bridge/internal/timeutil"
)

// Snapshot is an immutable copy of the model at one instant.
type Snapshot struct {
	Readings mr72.Readings `json:"readings"`
	// Seq is zero until the first frame arrives and increases by one for
	// every accepted frame.
	Seq     uint64    `json:"seq"`
	Updated time.Time `json:"updated"`
}

// Distance returns the millimetre value for id and whether it is valid.
func (s Snapshot) Distance(id mr72.ReadingID) (uint16, bool) {
	return s.Readings.Get(id)
}

// Age returns how old the snapshot is at now. A snapshot that has never been
// updated reports a negative age.
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.Seq == 0 {
		return -1
	}
	return now.Sub(s.Updated)
}

// Model is written by the frame decoder and read by the telemetry encoder.
// Update replaces all slots at once so a reader never sees two frames mixed.
type Model struct {
	clock timeutil.Clock

	mu   sync.RWMutex
	snap Snapshot
}

// NewModel returns a model with every slot invalid.
func NewModel(clock timeutil.Clock) *Model {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Model{
		clock: clock,
		snap: Snapshot{
			Readings: mr72.AllInvalid(),
			Updated:  clock.Now(),
		},
	}
}

// Update overwrites all eight readings and returns the new sequence number.
func (m *Model) Update(r mr72.Readings) uint64 {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Readings = r
	m.snap.Seq++
	m.snap.Updated = now
	return m.snap.Seq
}

// Snapshot returns a copy of the current state.
func (m *Model) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}
