package link

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mr72-bridge/internal/mavlink"
	"github.com/banshee-data/mr72-bridge/internal/mr72"
	"github.com/banshee-data/mr72-bridge/internal/serialport"
)

const tick = 10 * time.Millisecond

func uniform(mm uint16) mr72.Readings {
	var r mr72.Readings
	for i := range r {
		r[i] = mm
	}
	return r
}

func testConfig(in, out *serialport.MockFactory) Config {
	return Config{
		Input:             SerialDialer{Path: "/dev/ttyS0", Factory: in},
		Output:            SerialDialer{Path: "/dev/ttyACM0", Factory: out},
		OutputInterval:    tick,
		HeartbeatInterval: 5 * tick,
		RetryDelay:        tick,
		SysID:             1,
		CompID:            196,
		Encoder:           mavlink.DefaultEncoderConfig(),
	}
}

func startBridge(t *testing.T, cfg Config) (*Bridge, context.CancelFunc, <-chan error) {
	t.Helper()
	b, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		errc <- b.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return b, cancel, errc
}

// outputMessages parses everything written to port.
func outputMessages(t *testing.T, port *serialport.TestablePort) []mavlink.Message {
	t.Helper()
	p := mavlink.NewParser()
	p.Write(port.Written())
	var msgs []mavlink.Message
	for {
		f, ok := p.Next()
		if !ok {
			break
		}
		m, err := f.Decode()
		if err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func sector1Distances(t *testing.T, port *serialport.TestablePort) []uint16 {
	var out []uint16
	for _, m := range outputMessages(t, port) {
		if ds, ok := m.(*mavlink.DistanceSensor); ok && ds.ID == 1 {
			out = append(out, ds.CurrentDistance)
		}
	}
	return out
}

func lastOf(xs []uint16) uint16 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}

func TestConfig_Validate(t *testing.T) {
	in, out := serialport.NewMockFactory(), serialport.NewMockFactory()
	assert.NoError(t, testConfig(in, out).Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no input", func(c *Config) { c.Input = nil }},
		{"no output", func(c *Config) { c.Output = nil }},
		{"zero interval", func(c *Config) { c.OutputInterval = 0 }},
		{"negative heartbeat", func(c *Config) { c.HeartbeatInterval = -1 }},
		{"bad encoder", func(c *Config) { c.Encoder.MaxDistanceCM = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(in, out)
			tc.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestBridge_ForwardsFrames(t *testing.T) {
	inPort, outPort := serialport.NewTestablePort(), serialport.NewTestablePort()
	b, _, _ := startBridge(t, testConfig(serialport.NewMockFactory(inPort), serialport.NewMockFactory(outPort)))

	inPort.Feed(append([]byte{0x00, 0x54}, mr72.EncodeFrame(uniform(1500))...))

	require.Eventually(t, func() bool {
		return lastOf(sector1Distances(t, outPort)) == 150
	}, time.Second, tick)

	msgs := outputMessages(t, outPort)
	hb, ok := msgs[0].(*mavlink.Heartbeat)
	require.True(t, ok, "first message is %T", msgs[0])
	assert.Equal(t, mavlink.TypeOnboardController, hb.Type)

	var obstacle *mavlink.ObstacleDistance
	for _, m := range msgs {
		if od, ok := m.(*mavlink.ObstacleDistance); ok {
			obstacle = od
		}
	}
	require.NotNil(t, obstacle)
	assert.Equal(t, uint16(150), obstacle.Distances[18])

	st := b.Stats()
	assert.Equal(t, uint64(21), st.BytesRead)
	assert.Equal(t, uint64(1), st.Decoder.FramesDecoded)
	assert.Equal(t, uint64(2), st.Decoder.BytesDiscarded)
	assert.NotZero(t, st.MessagesSent)
	assert.NotZero(t, st.Heartbeats)
	assert.GreaterOrEqual(t, st.SnapshotAgeMs, int64(0))

	status := b.Status()
	assert.Equal(t, Streaming, status.Input.State)
	assert.Equal(t, Streaming, status.Output.State)
	assert.Equal(t, uint64(1), status.Snapshot.Seq)
}

func TestBridge_HeartbeatOnlyBeforeFirstFrame(t *testing.T) {
	outPort := serialport.NewTestablePort()
	_, _, _ = startBridge(t, testConfig(serialport.NewMockFactory(serialport.NewTestablePort()), serialport.NewMockFactory(outPort)))

	require.Eventually(t, func() bool { return len(outputMessages(t, outPort)) >= 2 }, time.Second, tick)
	for _, m := range outputMessages(t, outPort) {
		assert.IsType(t, &mavlink.Heartbeat{}, m)
	}
}

func TestBridge_InputDisconnectKeepsOutput(t *testing.T) {
	in1, outPort := serialport.NewTestablePort(), serialport.NewTestablePort()
	inputs := serialport.NewMockFactory(in1)
	b, _, _ := startBridge(t, testConfig(inputs, serialport.NewMockFactory(outPort)))

	in1.Feed(mr72.EncodeFrame(uniform(1000)))
	require.Eventually(t, func() bool { return lastOf(sector1Distances(t, outPort)) == 100 }, time.Second, tick)

	// unplug the radar; the factory has nothing else to offer for now
	in1.FailNextRead(errors.New("device unplugged"))
	require.Eventually(t, func() bool { return b.Input().Status().Failures >= 3 }, time.Second, tick)

	before := len(sector1Distances(t, outPort))
	require.Eventually(t, func() bool { return len(sector1Distances(t, outPort)) >= before+5 }, time.Second, tick)
	assert.Equal(t, uint16(100), lastOf(sector1Distances(t, outPort)))
	assert.NotEqual(t, Streaming, b.Input().State())
	assert.Equal(t, Streaming, b.Output().State())
	assert.Zero(t, b.Output().Status().Failures)

	in2 := serialport.NewTestablePort()
	in2.Feed(mr72.EncodeFrame(uniform(2000)))
	inputs.Push(in2)

	require.Eventually(t, func() bool { return lastOf(sector1Distances(t, outPort)) == 200 }, time.Second, tick)
	assert.Equal(t, uint64(2), b.Input().Status().Connects)
	assert.Equal(t, uint64(2), b.Model().Snapshot().Seq)
}

func TestBridge_OutputWriteFailureRedialsOutputOnly(t *testing.T) {
	inPort, out1, out2 := serialport.NewTestablePort(), serialport.NewTestablePort(), serialport.NewTestablePort()
	cfg := testConfig(serialport.NewMockFactory(inPort), serialport.NewMockFactory(out1, out2))
	cfg.HeartbeatInterval = 0
	b, _, _ := startBridge(t, cfg)

	inPort.Feed(mr72.EncodeFrame(uniform(1200)))
	require.Eventually(t, func() bool { return len(sector1Distances(t, out1)) > 0 }, time.Second, tick)

	out1.FailNextWrite(errors.New("usb reset"))
	require.Eventually(t, func() bool { return lastOf(sector1Distances(t, out2)) == 120 }, time.Second, tick)

	assert.Equal(t, uint64(1), b.Output().Status().Failures)
	assert.Contains(t, b.Output().Status().LastError, "write: usb reset")
	assert.Equal(t, uint64(1), b.Stats().WriteErrors)
	assert.Zero(t, b.Input().Status().Failures)
	assert.Equal(t, Streaming, b.Input().State())
	assert.True(t, out1.IsClosed())
}

func TestBridge_InputStallRedials(t *testing.T) {
	in1 := serialport.NewTestablePort()
	inputs := serialport.NewMockFactory(in1)
	for range 4 {
		inputs.Push(serialport.NewTestablePort())
	}
	cfg := testConfig(inputs, serialport.NewMockFactory(serialport.NewTestablePort()))
	cfg.StallTimeout = 4 * tick
	b, _, _ := startBridge(t, cfg)

	require.Eventually(t, func() bool { return inputs.Calls() >= 2 }, time.Second, tick)
	st := b.Input().Status()
	assert.GreaterOrEqual(t, st.Failures, uint64(1))
	assert.Contains(t, st.LastError, "stall: no data received")
	assert.True(t, in1.IsClosed())
}

func TestBridge_ShutdownWithinTick(t *testing.T) {
	inPort, outPort := serialport.NewTestablePort(), serialport.NewTestablePort()
	b, cancel, done := startBridge(t, testConfig(serialport.NewMockFactory(inPort), serialport.NewMockFactory(outPort)))

	require.Eventually(t, func() bool {
		return b.Input().State() == Streaming && b.Output().State() == Streaming
	}, time.Second, time.Millisecond)

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop")
	}
	assert.Less(t, time.Since(start), 5*tick)
	assert.True(t, inPort.IsClosed())
	assert.True(t, outPort.IsClosed())
	assert.Equal(t, Disconnected, b.Input().State())
	assert.Equal(t, Disconnected, b.Output().State())
}
