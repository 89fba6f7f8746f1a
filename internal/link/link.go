// Package link supervises the bridge's serial and network connections and
// runs the input and output tasks over them.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/mr72-bridge/internal/monitoring"
	"github.com/banshee-data/mr72-bridge/internal/timeutil"
)

// State is the connection state of a link.
type State int32

const (
	Disconnected State = iota
	Connecting
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{Disconnected, Connecting, Streaming} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown link state %q", b)
}

// DefaultRetryDelay is the pause between a link failure and the next dial.
const DefaultRetryDelay = 2 * time.Second

// Session uses an open connection until it fails or ctx is done.
type Session func(ctx context.Context, conn io.ReadWriteCloser) error

// LinkStatus is a point-in-time view of a link for status reporting.
type LinkStatus struct {
	Name      string    `json:"name"`
	Target    string    `json:"target"`
	State     State     `json:"state"`
	Connects  uint64    `json:"connects"`
	Failures  uint64    `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

// Link owns one connection and redials it forever after failures.
type Link struct {
	Name string

	dialer     Dialer
	clock      timeutil.Clock
	retryDelay time.Duration

	state    atomic.Int32
	connects atomic.Uint64
	failures atomic.Uint64

	mu        sync.Mutex
	lastError string
	since     time.Time
}

// NewLink returns a disconnected link.
func NewLink(name string, d Dialer, clock timeutil.Clock, retryDelay time.Duration) *Link {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Link{
		Name:       name,
		dialer:     d,
		clock:      clock,
		retryDelay: retryDelay,
		since:      clock.Now(),
	}
}

// State returns the current connection state.
func (l *Link) State() State {
	return State(l.state.Load())
}

// Status returns a snapshot of the link's state and counters.
func (l *Link) Status() LinkStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LinkStatus{
		Name:      l.Name,
		Target:    l.dialer.String(),
		State:     l.State(),
		Connects:  l.connects.Load(),
		Failures:  l.failures.Load(),
		LastError: l.lastError,
		Since:     l.since,
	}
}

func (l *Link) setState(s State) {
	if State(l.state.Swap(int32(s))) == s {
		return
	}
	l.mu.Lock()
	l.since = l.clock.Now()
	l.mu.Unlock()
	monitoring.Debugf("link %s: %s", l.Name, s)
}

// Run dials the link and runs session on each connection until ctx is done.
// The connection is closed as soon as ctx is cancelled so a session blocked
// in Read returns promptly. Run only returns ctx.Err().
func (l *Link) Run(ctx context.Context, session Session) error {
	defer l.setState(Disconnected)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.setState(Connecting)
		conn, err := l.dialer.Dial(ctx)
		if err != nil {
			err = &LinkError{Link: l.Name, Op: OpDial, Err: err}
		} else {
			l.connects.Add(1)
			l.setState(Streaming)
			monitoring.Logf("link %s: connected to %s", l.Name, l.dialer)

			stop := context.AfterFunc(ctx, func() { conn.Close() })
			err = session(ctx, conn)
			stop()
			conn.Close()
		}
		l.setState(Disconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.fail(err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(l.retryDelay):
		}
	}
}

func (l *Link) fail(err error) {
	var le *LinkError
	if !errors.As(err, &le) {
		if err == nil {
			err = io.EOF
		}
		le = &LinkError{Link: l.Name, Op: OpSession, Err: err}
	}

	l.failures.Add(1)
	l.mu.Lock()
	l.lastError = le.Error()
	l.mu.Unlock()
	monitoring.Logf("%v; retrying in %s", le, l.retryDelay)
}
