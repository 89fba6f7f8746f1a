package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/mr72-bridge/internal/distance"
	"github.com/banshee-data/mr72-bridge/internal/mavlink"
	"github.com/banshee-data/mr72-bridge/internal/monitoring"
	"github.com/banshee-data/mr72-bridge/internal/mr72"
	"github.com/banshee-data/mr72-bridge/internal/timeutil"
)

const readBufferSize = 256

// Config wires a Bridge together.
type Config struct {
	Input  Dialer
	Output Dialer

	// OutputInterval is the distance message period.
	OutputInterval time.Duration
	// HeartbeatInterval is the HEARTBEAT period; zero disables heartbeats.
	HeartbeatInterval time.Duration
	RetryDelay        time.Duration
	// StallTimeout redials the input after this long without bytes; zero
	// disables stall detection.
	StallTimeout time.Duration

	SysID   uint8
	CompID  uint8
	Encoder mavlink.EncoderConfig

	Clock timeutil.Clock
}

// Validate checks that the configuration can run.
func (c Config) Validate() error {
	if c.Input == nil || c.Output == nil {
		return errors.New("bridge needs an input and an output link")
	}
	if c.OutputInterval <= 0 {
		return errors.New("output interval must be positive")
	}
	if c.HeartbeatInterval < 0 || c.StallTimeout < 0 {
		return errors.New("heartbeat interval and stall timeout must not be negative")
	}
	return c.Encoder.Validate()
}

// Stats are the bridge's cumulative counters.
type Stats struct {
	BytesRead     uint64                 `json:"bytes_read"`
	Decoder       mr72.DecoderStats      `json:"decoder"`
	MessagesSent  uint64                 `json:"messages_sent"`
	Heartbeats    uint64                 `json:"heartbeats_sent"`
	WriteErrors   uint64                 `json:"write_errors"`
	InputFrames   monitoring.RateSummary `json:"input_rate"`
	SnapshotAgeMs int64                  `json:"snapshot_age_ms"`
}

// Status is everything the status API reports about a running bridge.
type Status struct {
	Started  time.Time         `json:"started"`
	Input    LinkStatus        `json:"input"`
	Output   LinkStatus        `json:"output"`
	Stats    Stats             `json:"stats"`
	Snapshot distance.Snapshot `json:"snapshot"`
}

// Bridge moves radar frames from the input link to MAVLink messages on the
// output link. The two sides share only the distance model: the input side
// updates it as frames arrive and the output side samples it on a timer, so a
// silent or reconnecting radar never delays outbound messages.
type Bridge struct {
	cfg   Config
	clock timeutil.Clock
	boot  time.Time

	input  *Link
	output *Link

	decoder *mr72.Decoder
	model   *distance.Model
	encoder *mavlink.Encoder
	sender  *mavlink.Sender
	rate    *monitoring.RateTracker

	bytesRead    atomic.Uint64
	messagesSent atomic.Uint64
	heartbeats   atomic.Uint64
	writeErrors  atomic.Uint64
}

// New builds a bridge from cfg.
func New(cfg Config) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	boot := clock.Now()

	return &Bridge{
		cfg:     cfg,
		clock:   clock,
		boot:    boot,
		input:   NewLink("input", cfg.Input, clock, cfg.RetryDelay),
		output:  NewLink("output", cfg.Output, clock, cfg.RetryDelay),
		decoder: mr72.NewDecoder(),
		model:   distance.NewModel(clock),
		encoder: mavlink.NewEncoder(cfg.Encoder, boot),
		sender:  mavlink.NewSender(cfg.SysID, cfg.CompID),
		rate:    monitoring.NewRateTracker(64),
	}, nil
}

// Run supervises both links until ctx is done. It returns nil on a clean
// shutdown.
func (b *Bridge) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.input.Run(gctx, b.readSession) })
	g.Go(func() error { return b.output.Run(gctx, b.writeSession) })

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Model exposes the shared distance model.
func (b *Bridge) Model() *distance.Model {
	return b.model
}

// Input returns the input link.
func (b *Bridge) Input() *Link {
	return b.input
}

// Output returns the output link.
func (b *Bridge) Output() *Link {
	return b.output
}

// Stats returns the current counters.
func (b *Bridge) Stats() Stats {
	snap := b.model.Snapshot()
	age := int64(-1)
	if snap.Seq > 0 {
		age = b.clock.Since(snap.Updated).Milliseconds()
	}
	return Stats{
		BytesRead:     b.bytesRead.Load(),
		Decoder:       b.decoder.Stats(),
		MessagesSent:  b.messagesSent.Load(),
		Heartbeats:    b.heartbeats.Load(),
		WriteErrors:   b.writeErrors.Load(),
		InputFrames:   b.rate.Summary(),
		SnapshotAgeMs: age,
	}
}

// Status returns links, counters and the latest snapshot.
func (b *Bridge) Status() Status {
	return Status{
		Started:  b.boot,
		Input:    b.input.Status(),
		Output:   b.output.Status(),
		Stats:    b.Stats(),
		Snapshot: b.model.Snapshot(),
	}
}

// readSession feeds bytes from the radar into the decoder and the model.
// Reads happen on their own goroutine so the session can still notice a
// stall or a cancellation while a Read is blocked.
func (b *Bridge) readSession(ctx context.Context, conn io.ReadWriteCloser) error {
	b.decoder.Reset()
	b.rate.Reset()

	done := make(chan struct{})
	defer close(done)
	chunks := make(chan []byte)
	errc := make(chan error, 1)

	go func() {
		buf := make([]byte, readBufferSize)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				select {
				case chunks <- bytes.Clone(buf[:n]):
				case <-done:
					return
				}
			}
			if err != nil {
				errc <- err
				return
			}
		}
	}()

	var stall <-chan time.Time
	if b.cfg.StallTimeout > 0 {
		t := b.clock.NewTicker(b.cfg.StallTimeout / 2)
		defer t.Stop()
		stall = t.C()
	}
	last := b.clock.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errc:
			return &LinkError{Link: b.input.Name, Op: OpRead, Err: err}

		case chunk := <-chunks:
			last = b.clock.Now()
			b.bytesRead.Add(uint64(len(chunk)))
			b.decoder.Write(chunk)
			for r := range b.decoder.Frames() {
				b.model.Update(r)
				b.rate.Observe(b.clock.Now())
			}

		case <-stall:
			if b.clock.Since(last) >= b.cfg.StallTimeout {
				return &LinkError{Link: b.input.Name, Op: OpStall, Err: ErrInputStalled}
			}
		}
	}
}

// writeSession sends a heartbeat on connect and then distance messages every
// output tick. Ticks before the first radar frame send nothing but
// heartbeats: an all-invalid model would otherwise read as "no obstacle".
func (b *Bridge) writeSession(ctx context.Context, conn io.ReadWriteCloser) error {
	tick := b.clock.NewTicker(b.cfg.OutputInterval)
	defer tick.Stop()

	var heartbeat <-chan time.Time
	if b.cfg.HeartbeatInterval > 0 {
		t := b.clock.NewTicker(b.cfg.HeartbeatInterval)
		defer t.Stop()
		heartbeat = t.C()
		if err := b.sendHeartbeat(conn); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-tick.C():
			snap := b.model.Snapshot()
			if snap.Seq == 0 {
				continue
			}
			if err := b.send(conn, b.encoder.Encode(snap)...); err != nil {
				return err
			}

		case <-heartbeat:
			if err := b.sendHeartbeat(conn); err != nil {
				return err
			}
		}
	}
}

func (b *Bridge) sendHeartbeat(conn io.Writer) error {
	if err := b.send(conn, mavlink.CompanionHeartbeat()); err != nil {
		return err
	}
	b.heartbeats.Add(1)
	return nil
}

func (b *Bridge) send(conn io.Writer, msgs ...mavlink.Message) error {
	if err := b.sender.Send(conn, msgs...); err != nil {
		b.writeErrors.Add(1)
		return &LinkError{Link: b.output.Name, Op: OpWrite, Err: err}
	}
	b.messagesSent.Add(uint64(len(msgs)))
	return nil
}
