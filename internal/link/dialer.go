package link

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/banshee-data/mr72-bridge/internal/serialport"
)

// Dialer opens the underlying transport of a link.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

// SerialDialer opens a serial device.
type SerialDialer struct {
	Path    string
	Options serialport.PortOptions
	Factory serialport.Factory
}

// Dial opens the device. Opening a tty does not block, so ctx is only checked
// beforehand.
func (d SerialDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Factory.Open(d.Path, d.Options)
}

func (d SerialDialer) String() string {
	return fmt.Sprintf("serial:%s@%s", d.Path, d.Options)
}

// UDPDialer sends datagrams to a fixed address, e.g. a MAVProxy or ground
// station UDP input.
type UDPDialer struct {
	Host string
	Port int
}

// Dial resolves the address and returns a connected UDP socket.
func (d UDPDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "udp", d.addr())
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	return conn, nil
}

func (d UDPDialer) addr() string {
	return net.JoinHostPort(d.Host, fmt.Sprint(d.Port))
}

func (d UDPDialer) String() string {
	return "udp:" + d.addr()
}
