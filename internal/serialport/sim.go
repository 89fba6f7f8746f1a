package serialport

import (
	"sync"
	"time"

	"github.com/banshee-data/mr72-bridge/internal/mr72"
	"github.com/banshee-data/mr72-bridge/internal/timeutil"
)

// SimulatedFrameInterval approximates the MR72's native ~16 Hz output.
const SimulatedFrameInterval = 60 * time.Millisecond

// SimulatedRadar is a SerialPorter that emits valid MR72 frames on a clock,
// used by --dev to run the bridge without hardware. Writes are discarded.
type SimulatedRadar struct {
	ticker timeutil.Ticker
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	pending []byte
	n       int
}

// NewSimulatedRadar starts emitting one frame every interval.
func NewSimulatedRadar(clock timeutil.Clock, interval time.Duration) *SimulatedRadar {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = SimulatedFrameInterval
	}
	return &SimulatedRadar{
		ticker: clock.NewTicker(interval),
		done:   make(chan struct{}),
	}
}

// Read returns the remainder of the current frame or waits for the next one.
func (s *SimulatedRadar) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return 0, ErrPortClosed
	case <-s.ticker.C():
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	s.pending = mr72.EncodeFrame(SimulatedReadings(s.n))
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Write discards p; the radar takes no commands.
func (s *SimulatedRadar) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, ErrPortClosed
	default:
		return len(p), nil
	}
}

// Close stops the frame clock.
func (s *SimulatedRadar) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	return nil
}

// SimulatedReadings returns the n-th simulated reading set: each slot sweeps
// between 0.5 m and 25 m at its own pace, and the 180° bearing drops out
// every eighth frame.
func SimulatedReadings(n int) mr72.Readings {
	var r mr72.Readings
	for id := range r {
		span := 24500
		step := 150 * (id + 1)
		r[id] = uint16(500 + (n*step)%span)
	}
	if n%8 == 0 {
		r[mr72.Bearing180] = mr72.InvalidDistance
	}
	return r
}

// SimulatorFactory opens a SimulatedRadar for any path.
type SimulatorFactory struct {
	Clock    timeutil.Clock
	Interval time.Duration
}

// Open ignores path and opts.
func (f SimulatorFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	return NewSimulatedRadar(f.Clock, f.Interval), nil
}
