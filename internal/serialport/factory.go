package serialport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Factory opens serial ports. It is the seam between the link supervisor and
// real hardware.
type Factory interface {
	Open(path string, opts PortOptions) (SerialPorter, error)
}

// RealFactory opens devices through go.bug.st/serial.
type RealFactory struct {
	// ReadTimeout bounds each Read; zero leaves reads blocking.
	ReadTimeout time.Duration
}

// NewRealFactory returns a factory whose ports time out reads after
// readTimeout.
func NewRealFactory(readTimeout time.Duration) *RealFactory {
	return &RealFactory{ReadTimeout: readTimeout}
}

// Open opens path with opts.
func (f *RealFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("serial options for %s: %w", path, err)
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if f.ReadTimeout > 0 {
		if err := port.SetReadTimeout(f.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
		}
	}
	return port, nil
}
