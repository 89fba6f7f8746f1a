package mr72

import (
	"bytes"
	"iter"
	"sync/atomic"

	"github.com/banshee-data/mr72-bridge/internal/monitoring"
)

var header = []byte{HeaderByte0, HeaderByte1}

// DecoderStats are cumulative counters since the decoder was created.
type DecoderStats struct {
	FramesDecoded  uint64 `json:"frames_decoded"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	BytesDiscarded uint64 `json:"bytes_discarded"`
}

// Decoder finds and validates frames in an unbounded byte stream. Bytes that
// do not belong to a valid frame are dropped. A Decoder is owned by a single
// reader goroutine; Stats may be called concurrently.
type Decoder struct {
	buf []byte

	framesDecoded  atomic.Uint64
	checksumErrors atomic.Uint64
	bytesDiscarded atomic.Uint64
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 4*FrameLen)}
}

// Write appends raw bytes from the link. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next returns the next validated reading set. It reports false when the
// buffer does not yet hold a complete candidate frame.
func (d *Decoder) Next() (Readings, bool) {
	for {
		i := bytes.Index(d.buf, header)
		if i < 0 {
			// a trailing first header byte may be completed by the next read
			keep := 0
			if n := len(d.buf); n > 0 && d.buf[n-1] == HeaderByte0 {
				keep = 1
			}
			d.discard(len(d.buf) - keep)
			return Readings{}, false
		}
		d.discard(i)

		if len(d.buf) < FrameLen {
			return Readings{}, false
		}

		r, err := ParseFrame(d.buf[:FrameLen])
		if err != nil {
			d.checksumErrors.Add(1)
			monitoring.Debugf("mr72: %v, resyncing", err)
			// restart one byte past the failed candidate's start so a header
			// collision inside the payload is not lost
			d.discard(1)
			continue
		}

		d.consume(FrameLen)
		d.framesDecoded.Add(1)
		return r, true
	}
}

// Frames yields every reading set currently decodable, in arrival order. The
// sequence may be ranged over again after more bytes are written.
func (d *Decoder) Frames() iter.Seq[Readings] {
	return func(yield func(Readings) bool) {
		for {
			r, ok := d.Next()
			if !ok || !yield(r) {
				return
			}
		}
	}
}

// Buffered returns the number of bytes waiting for a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any partially received frame, for use after the link has been
// reopened.
func (d *Decoder) Reset() {
	d.discard(len(d.buf))
}

// Stats returns a copy of the decoder counters.
func (d *Decoder) Stats() DecoderStats {
	return DecoderStats{
		FramesDecoded:  d.framesDecoded.Load(),
		ChecksumErrors: d.checksumErrors.Load(),
		BytesDiscarded: d.bytesDiscarded.Load(),
	}
}

func (d *Decoder) discard(n int) {
	if n <= 0 {
		return
	}
	d.bytesDiscarded.Add(uint64(n))
	d.consume(n)
}

func (d *Decoder) consume(n int) {
	d.buf = append(d.buf[:0], d.buf[n:]...)
}
