// Package mr72 decodes the binary telemetry frames emitted by the MR72
// millimetre-wave radar over its UART.
//
// A frame is 19 bytes: the "TH" header, eight big-endian uint16 distance
// fields in millimetres and a CRC8 over the first 18 bytes.
package mr72

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderByte0 and HeaderByte1 are the fixed frame magic ("TH").
	HeaderByte0 byte = 0x54
	HeaderByte1 byte = 0x48

	// FrameLen is the length of one frame including header and checksum.
	FrameLen = 19

	// InvalidDistance is reported by the radar when a slot has no target.
	InvalidDistance uint16 = 0xFFFF

	checksumIndex = FrameLen - 1
)

// ReadingID identifies one of the eight distance slots of a frame.
type ReadingID int

const (
	Sector1 ReadingID = iota
	Sector2
	Sector3
	Bearing90
	Bearing135
	Bearing180
	Bearing225
	Bearing270

	NumReadings
)

var readingNames = [NumReadings]string{
	Sector1:    "sector1",
	Sector2:    "sector2",
	Sector3:    "sector3",
	Bearing90:  "bearing90",
	Bearing135: "bearing135",
	Bearing180: "bearing180",
	Bearing225: "bearing225",
	Bearing270: "bearing270",
}

func (id ReadingID) String() string {
	if id < 0 || id >= NumReadings {
		return fmt.Sprintf("ReadingID(%d)", int(id))
	}
	return readingNames[id]
}

// Sectors lists the wide-angle nearest-target zones.
var Sectors = []ReadingID{Sector1, Sector2, Sector3}

// Bearings lists the fixed-angle obstacle readings.
var Bearings = []ReadingID{Bearing90, Bearing135, Bearing180, Bearing225, Bearing270}

// BearingDegrees returns the fixed bearing of an obstacle reading. Sector IDs
// report false.
func BearingDegrees(id ReadingID) (int, bool) {
	switch id {
	case Bearing90:
		return 90, true
	case Bearing135:
		return 135, true
	case Bearing180:
		return 180, true
	case Bearing225:
		return 225, true
	case Bearing270:
		return 270, true
	}
	return 0, false
}

// wireOrder maps the D1..D8 payload fields to reading IDs.
var wireOrder = [NumReadings]ReadingID{
	Sector2,    // D1, bytes 2-3
	Sector3,    // D2, bytes 4-5
	Bearing90,  // D3
	Bearing135, // D4
	Bearing180, // D5
	Bearing225, // D6
	Bearing270, // D7
	Sector1,    // D8, bytes 16-17
}

// Readings holds one decoded frame, indexed by ReadingID, in millimetres.
type Readings [NumReadings]uint16

// AllInvalid returns a reading set with every slot set to InvalidDistance.
func AllInvalid() Readings {
	var r Readings
	for i := range r {
		r[i] = InvalidDistance
	}
	return r
}

// Get returns the millimetre value for id and whether it is a real distance.
func (r Readings) Get(id ReadingID) (uint16, bool) {
	v := r[id]
	return v, v != InvalidDistance
}

// Sentinel errors wrapped by FrameError.
var (
	ErrShortFrame = errors.New("short frame")
	ErrBadHeader  = errors.New("bad header")
	ErrChecksum   = errors.New("checksum mismatch")
)

// FrameError describes a frame that failed validation. It is recovered from
// locally by resynchronising the decoder.
type FrameError struct {
	Err  error
	Want byte // computed checksum, for ErrChecksum
	Got  byte // received checksum, for ErrChecksum
}

func (e *FrameError) Error() string {
	if errors.Is(e.Err, ErrChecksum) {
		return fmt.Sprintf("mr72 frame: %v (computed 0x%02X, received 0x%02X)", e.Err, e.Want, e.Got)
	}
	return fmt.Sprintf("mr72 frame: %v", e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// ParseFrame validates a single 19-byte frame and decodes its fields.
func ParseFrame(frame []byte) (Readings, error) {
	if len(frame) < FrameLen {
		return Readings{}, &FrameError{Err: ErrShortFrame}
	}
	frame = frame[:FrameLen]
	if frame[0] != HeaderByte0 || frame[1] != HeaderByte1 {
		return Readings{}, &FrameError{Err: ErrBadHeader}
	}
	want := CRC8(frame[:checksumIndex])
	if got := frame[checksumIndex]; got != want {
		return Readings{}, &FrameError{Err: ErrChecksum, Want: want, Got: got}
	}

	var r Readings
	for i, id := range wireOrder {
		off := 2 + 2*i
		r[id] = binary.BigEndian.Uint16(frame[off : off+2])
	}
	return r, nil
}

// EncodeFrame builds a valid frame carrying r.
func EncodeFrame(r Readings) []byte {
	frame := make([]byte, FrameLen)
	frame[0] = HeaderByte0
	frame[1] = HeaderByte1
	for i, id := range wireOrder {
		off := 2 + 2*i
		binary.BigEndian.PutUint16(frame[off:off+2], r[id])
	}
	frame[checksumIndex] = CRC8(frame[:checksumIndex])
	return frame
}
