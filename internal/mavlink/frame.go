// Package mavlink implements the subset of the MAVLink v2 wire protocol the
// bridge needs: framing, checksums, the HEARTBEAT, DISTANCE_SENSOR and
// OBSTACLE_DISTANCE messages, and the conversion of radar snapshots into them.
package mavlink

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	// MagicV2 starts every MAVLink v2 frame.
	MagicV2 byte = 0xFD

	headerLen    = 10 // magic, len, incompat, compat, seq, sysid, compid, msgid[3]
	checksumLen  = 2
	signatureLen = 13

	incompatSigned = 0x01

	// MaxFrameLen is the largest unsigned v2 frame.
	MaxFrameLen = headerLen + 255 + checksumLen
)

var ErrUnknownMessage = errors.New("unknown message id")

// Frame is a decoded MAVLink v2 frame.
type Frame struct {
	Seq      uint8
	SysID    uint8
	CompID   uint8
	MsgID    uint32
	Payload  []byte // as received, possibly truncated
	Signed   bool
	Verified bool // checksum checked against a known CRC_EXTRA
}

// Decode zero-extends the payload and decodes it into a typed message.
func (f Frame) Decode() (Message, error) {
	info, ok := registry[f.MsgID]
	if !ok {
		return nil, fmt.Errorf("decode msg %d: %w", f.MsgID, ErrUnknownMessage)
	}
	p := make([]byte, info.size)
	copy(p, f.Payload)
	return info.decode(p), nil
}

// Marshal serialises msg into a MAVLink v2 frame. Trailing zero bytes of the
// payload are truncated as the protocol requires; the first byte is always
// kept.
func Marshal(msg Message, seq, sysID, compID uint8) ([]byte, error) {
	id := msg.MsgID()
	info, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("marshal msg %d: %w", id, ErrUnknownMessage)
	}

	payload := msg.MarshalPayload()
	n := len(payload)
	for n > 1 && payload[n-1] == 0 {
		n--
	}
	payload = payload[:n]

	buf := make([]byte, 0, headerLen+n+checksumLen)
	buf = append(buf,
		MagicV2,
		byte(n),
		0, // incompat flags
		0, // compat flags
		seq,
		sysID,
		compID,
		byte(id), byte(id>>8), byte(id>>16),
	)
	buf = append(buf, payload...)
	crc := frameChecksum(buf[1:], info.crcExtra)
	return append(buf, byte(crc), byte(crc>>8)), nil
}

// ParserStats are cumulative parser counters.
type ParserStats struct {
	Frames         uint64
	ChecksumErrors uint64
	BytesDiscarded uint64
}

// Parser extracts v2 frames from a byte stream. Frames of unknown messages are
// returned unverified because their CRC_EXTRA is not known; frames of known
// messages with a bad checksum are dropped and the parser resynchronises one
// byte later.
type Parser struct {
	buf   []byte
	stats ParserStats
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Write appends stream bytes.
func (p *Parser) Write(b []byte) (int, error) {
	p.buf = append(p.buf, b...)
	return len(b), nil
}

// Stats returns the parser counters.
func (p *Parser) Stats() ParserStats {
	return p.stats
}

// Next returns the next complete frame, or false if more bytes are needed.
func (p *Parser) Next() (Frame, bool) {
	for {
		i := bytes.IndexByte(p.buf, MagicV2)
		if i < 0 {
			p.discard(len(p.buf))
			return Frame{}, false
		}
		p.discard(i)
		if len(p.buf) < headerLen {
			return Frame{}, false
		}

		n := int(p.buf[1])
		signed := p.buf[2]&incompatSigned != 0
		total := headerLen + n + checksumLen
		if signed {
			total += signatureLen
		}
		if len(p.buf) < total {
			return Frame{}, false
		}

		raw := p.buf[:total]
		id := uint32(raw[7]) | uint32(raw[8])<<8 | uint32(raw[9])<<16
		f := Frame{
			Seq:     raw[4],
			SysID:   raw[5],
			CompID:  raw[6],
			MsgID:   id,
			Payload: append([]byte(nil), raw[headerLen:headerLen+n]...),
			Signed:  signed,
		}

		if info, ok := registry[id]; ok {
			got := uint16(raw[headerLen+n]) | uint16(raw[headerLen+n+1])<<8
			if frameChecksum(raw[1:headerLen+n], info.crcExtra) != got {
				p.stats.ChecksumErrors++
				p.discard(1)
				continue
			}
			f.Verified = true
		}

		p.buf = append(p.buf[:0], p.buf[total:]...)
		p.stats.Frames++
		return f, true
	}
}

func (p *Parser) discard(n int) {
	if n <= 0 {
		return
	}
	p.stats.BytesDiscarded += uint64(n)
	p.buf = append(p.buf[:0], p.buf[n:]...)
}
