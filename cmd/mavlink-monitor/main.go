// Command mavlink-monitor listens for the bridge's MAVLink output on UDP and
// prints per-interval message counts with the latest distances. Point the
// bridge at it with --output localhost --output-port 14551.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/mr72-bridge/internal/mavlink"
	"github.com/banshee-data/mr72-bridge/internal/mr72"
)

var (
	listen   = flag.String("listen", ":14551", "UDP address to listen on")
	interval = flag.Duration("interval", time.Second, "Reporting interval")
)

type monitor struct {
	mu       sync.Mutex
	parser   *mavlink.Parser
	counts   map[uint32]int
	packets  int
	sectors  map[uint8]uint16
	obstacle *mavlink.ObstacleDistance
}

func newMonitor() *monitor {
	return &monitor{
		parser:  mavlink.NewParser(),
		counts:  make(map[uint32]int),
		sectors: make(map[uint8]uint16),
	}
}

// handle feeds one datagram through the parser.
func (m *monitor) handle(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.packets++
	m.parser.Write(b)
	for {
		f, ok := m.parser.Next()
		if !ok {
			return
		}
		m.counts[f.MsgID]++
		msg, err := f.Decode()
		if err != nil {
			continue
		}
		switch msg := msg.(type) {
		case *mavlink.DistanceSensor:
			m.sectors[msg.ID] = msg.CurrentDistance
		case *mavlink.ObstacleDistance:
			m.obstacle = msg
		}
	}
}

// report writes and resets the counts gathered since the last report.
func (m *monitor) report(w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.packets == 0 {
		return
	}

	ids := make([]uint32, 0, len(m.counts))
	for id := range m.counts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s=%d", mavlink.MessageName(id), m.counts[id]))
	}
	st := m.parser.Stats()
	fmt.Fprintf(w, "Received: %d packets, %s (crc errors %d)\n", m.packets, strings.Join(parts, " "), st.ChecksumErrors)

	if len(m.sectors) > 0 {
		sensorIDs := make([]uint8, 0, len(m.sectors))
		for id := range m.sectors {
			sensorIDs = append(sensorIDs, id)
		}
		slices.Sort(sensorIDs)
		parts = parts[:0]
		for _, id := range sensorIDs {
			parts = append(parts, fmt.Sprintf("%s=%dcm", sensorName(id), m.sectors[id]))
		}
		fmt.Fprintf(w, "  sectors: %s\n", strings.Join(parts, " "))
	}

	if m.obstacle != nil {
		parts = parts[:0]
		for i, d := range m.obstacle.Distances {
			if d == mavlink.NoObstacle {
				continue
			}
			parts = append(parts, fmt.Sprintf("%d°=%dcm", i*int(m.obstacle.Increment), d))
		}
		if len(parts) == 0 {
			parts = append(parts, "clear")
		}
		fmt.Fprintf(w, "  obstacles: %s\n", strings.Join(parts, " "))
	}

	m.packets = 0
	clear(m.counts)
}

func sensorName(id uint8) string {
	if id == 0 || mr72.ReadingID(id-1) >= mr72.NumReadings {
		return fmt.Sprintf("sensor%d", id)
	}
	return mr72.ReadingID(id - 1).String()
}

// serve reads datagrams from conn until ctx is done.
func serve(ctx context.Context, conn net.PacketConn, m *monitor) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buffer := make([]byte, 65536)
	for {
		n, _, err := conn.ReadFrom(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Printf("Read error: %v", err)
			continue
		}
		m.handle(buffer[:n])
	}
}

func main() {
	flag.Parse()

	conn, err := net.ListenPacket("udp", *listen)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("MAVLink listener started on %s\n", conn.LocalAddr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := newMonitor()
	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.report(os.Stdout)
			}
		}
	}()

	if err := serve(ctx, conn, m); err != nil {
		log.Fatal(err)
	}
}
