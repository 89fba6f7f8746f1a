package serialport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by test and simulated ports after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestablePort implements TimeoutSerialPorter with configurable behaviour for
// testing. Reads block until data is fed, the port is closed, or the read
// timeout elapses (returning 0, nil like a real port).
type TestablePort struct {
	mu sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	wake     chan struct{}

	readErr     error
	writeErr    error
	readTimeout time.Duration
	closed      bool

	// ReadCalls and WriteCalls count calls, including failed ones.
	ReadCalls  int
	WriteCalls int
}

// NewTestablePort creates an empty open port.
func NewTestablePort() *TestablePort {
	return &TestablePort{wake: make(chan struct{})}
}

// notify wakes blocked readers. Callers hold t.mu.
func (t *TestablePort) notify() {
	close(t.wake)
	t.wake = make(chan struct{})
}

// Read returns fed data, blocking while none is available.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	t.ReadCalls++
	t.mu.Unlock()

	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return 0, ErrPortClosed
		}
		if err := t.readErr; err != nil {
			t.readErr = nil
			t.mu.Unlock()
			return 0, err
		}
		if t.readBuf.Len() > 0 {
			n, err := t.readBuf.Read(p)
			t.mu.Unlock()
			return n, err
		}
		wake, timeout := t.wake, t.readTimeout
		t.mu.Unlock()

		if timeout <= 0 {
			<-wake
			continue
		}
		select {
		case <-wake:
		case <-time.After(timeout):
			return 0, nil
		}
	}
}

// Write records p unless a write error has been injected.
func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++
	if t.closed {
		return 0, ErrPortClosed
	}
	if err := t.writeErr; err != nil {
		t.writeErr = nil
		return 0, err
	}
	return t.writeBuf.Write(p)
}

// Close marks the port closed and releases blocked readers.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		t.notify()
	}
	return nil
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestablePort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = timeout
	return nil
}

// Feed queues data for subsequent reads.
func (t *TestablePort) Feed(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readBuf.Write(data)
	t.notify()
}

// FailNextRead makes the next Read return err.
func (t *TestablePort) FailNextRead(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErr = err
	t.notify()
}

// FailNextWrite makes the next Write return err.
func (t *TestablePort) FailNextWrite(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Written returns a copy of everything written so far.
func (t *TestablePort) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.writeBuf.Bytes())
}

// IsClosed reports whether Close was called.
func (t *TestablePort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// MockFactory implements Factory for testing. Each Open hands out the next
// queued port.
type MockFactory struct {
	mu sync.Mutex

	// Ports are returned by successive Open calls.
	Ports []SerialPorter

	// Error is returned by Open if set.
	Error error

	// OpenCalls records all Open calls.
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

// NewMockFactory creates a factory that hands out ports in order.
func NewMockFactory(ports ...SerialPorter) *MockFactory {
	return &MockFactory{Ports: ports}
}

// Open returns the next queued port or the configured error.
func (f *MockFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Options: opts})

	if f.Error != nil {
		return nil, f.Error
	}
	if len(f.Ports) == 0 {
		return nil, errors.New("mock factory: no port available")
	}
	p := f.Ports[0]
	f.Ports = f.Ports[1:]
	return p, nil
}

// Push queues another port.
func (f *MockFactory) Push(p SerialPorter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ports = append(f.Ports, p)
}

// SetError sets or clears the Open error.
func (f *MockFactory) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Error = err
}

// Calls returns the number of Open calls so far.
func (f *MockFactory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.OpenCalls)
}
