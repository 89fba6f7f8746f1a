package serialport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptions_Normalise_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalise()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, got)
}

func TestPortOptions_Normalise_ExplicitValues(t *testing.T) {
	got, err := PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: " even "}.Normalise()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}, got)
}

func TestPortOptions_Normalise_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
	}{
		{"data bits too low", PortOptions{DataBits: 4}},
		{"data bits too high", PortOptions{DataBits: 9}},
		{"stop bits", PortOptions{StopBits: 3}},
		{"parity", PortOptions{Parity: "mark"}},
		{"negative baud", PortOptions{BaudRate: -9600}},
		{"non-standard baud", PortOptions{BaudRate: 12345}},
		{"tiny baud", PortOptions{BaudRate: 7}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.opts.Normalise()
			assert.Error(t, err)
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 57600, StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{
		BaudRate: 57600,
		DataBits: 8,
		Parity:   serial.OddParity,
		StopBits: serial.TwoStopBits,
	}, mode)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.NoParity, mode.Parity)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)

	_, err = PortOptions{Parity: "x"}.SerialMode()
	assert.Error(t, err)
}

func TestPortOptions_String(t *testing.T) {
	assert.Equal(t, "115200 8N1", PortOptions{}.String())
	assert.Equal(t, "9600 7E2", PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}.String())
}

func TestRealFactory_Open_InvalidPath(t *testing.T) {
	f := NewRealFactory(0)
	_, err := f.Open("/dev/nonexistent-serial-port-12345", PortOptions{})
	assert.Error(t, err)

	_, err = f.Open("/dev/nonexistent-serial-port-12345", PortOptions{DataBits: 12})
	assert.ErrorContains(t, err, "serial options")
}
