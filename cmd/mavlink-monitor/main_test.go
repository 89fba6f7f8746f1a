package main

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mr72-bridge/internal/distance"
	"github.com/banshee-data/mr72-bridge/internal/mavlink"
	"github.com/banshee-data/mr72-bridge/internal/mr72"
)

func encodedSnapshot(t *testing.T) []byte {
	t.Helper()
	boot := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	r := mr72.AllInvalid()
	r[mr72.Sector1] = 1000
	r[mr72.Bearing90] = 1200

	enc := mavlink.NewEncoder(mavlink.DefaultEncoderConfig(), boot)
	msgs := append([]mavlink.Message{mavlink.CompanionHeartbeat()},
		enc.Encode(distance.Snapshot{Readings: r, Seq: 1, Updated: boot.Add(time.Second)})...)

	var buf bytes.Buffer
	require.NoError(t, mavlink.NewSender(1, 196).Send(&buf, msgs...))
	return buf.Bytes()
}

func TestMonitor_Report(t *testing.T) {
	m := newMonitor()
	m.handle(encodedSnapshot(t))

	var out bytes.Buffer
	m.report(&out)
	text := out.String()

	assert.Contains(t, text, "Received: 1 packets")
	assert.Contains(t, text, "HEARTBEAT=1")
	assert.Contains(t, text, "DISTANCE_SENSOR=3")
	assert.Contains(t, text, "OBSTACLE_DISTANCE=1")
	assert.Contains(t, text, "sector1=100cm")
	assert.Contains(t, text, "90°=120cm")
	assert.NotContains(t, text, "180°")
}

func TestMonitor_ReportResets(t *testing.T) {
	m := newMonitor()
	m.handle(encodedSnapshot(t))

	var out bytes.Buffer
	m.report(&out)
	out.Reset()
	m.report(&out)
	assert.Empty(t, out.String())
}

func TestSensorName(t *testing.T) {
	assert.Equal(t, "sector1", sensorName(1))
	assert.Equal(t, "sensor0", sensorName(0))
	assert.Equal(t, "sensor99", sensorName(99))
}

func TestServe(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m := newMonitor()
	done := make(chan error, 1)
	go func() { done <- serve(ctx, conn, m) }()

	out, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer out.Close()
	_, err = out.Write(encodedSnapshot(t))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.packets == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve did not stop")
	}
}
