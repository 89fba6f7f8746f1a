package mr72

import (
	"bytes"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readingsWith(sector1 uint16) Readings {
	r := exampleReadings()
	r[Sector1] = sector1
	return r
}

func decodeAll(d *Decoder, chunks ...[]byte) []Readings {
	var out []Readings
	for _, c := range chunks {
		d.Write(c)
		out = append(out, slices.Collect(d.Frames())...)
	}
	return out
}

func TestDecoder_SingleFrameWithGarbage(t *testing.T) {
	garbage := [][2][]byte{
		{nil, nil},
		{{0x00, 0x01, 0x02}, nil},
		{nil, {0xAA, 0xBB}},
		{{0x54, 0x00, 0x48, 0x54}, {0x54}},
		{{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, {0x54, 0x48, 0x01}},
	}

	for _, g := range garbage {
		stream := slices.Concat(g[0], exampleFrame(), g[1])
		got := decodeAll(NewDecoder(), stream)
		require.Len(t, got, 1, "stream % X", stream)
		assert.Equal(t, exampleReadings(), got[0])
	}
}

func TestDecoder_ByteAtATime(t *testing.T) {
	d := NewDecoder()
	stream := slices.Concat([]byte{0x13, 0x37}, exampleFrame(), EncodeFrame(readingsWith(77)))

	var got []Readings
	for i, b := range stream {
		d.Write([]byte{b})
		for r := range d.Frames() {
			got = append(got, r)
		}
		if i < 2+FrameLen-1 {
			assert.Empty(t, got, "emitted before first frame complete at byte %d", i)
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, exampleReadings(), got[0])
	assert.Equal(t, uint16(77), got[1][Sector1])
}

func TestDecoder_CorruptChecksumThenValidFrame(t *testing.T) {
	bad := exampleFrame()
	bad[FrameLen-1] ^= 0x5A
	good := EncodeFrame(readingsWith(1234))

	d := NewDecoder()
	got := decodeAll(d, slices.Concat(bad, good))
	require.Len(t, got, 1)
	assert.Equal(t, uint16(1234), got[0][Sector1])

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.FramesDecoded)
	assert.Equal(t, uint64(1), stats.ChecksumErrors)
	assert.Equal(t, uint64(FrameLen), stats.BytesDiscarded)
}

func TestDecoder_OnlyCorruptFrame(t *testing.T) {
	bad := exampleFrame()
	bad[FrameLen-1] ^= 0x01

	d := NewDecoder()
	assert.Empty(t, decodeAll(d, bad))
	assert.Equal(t, uint64(0), d.Stats().FramesDecoded)
	assert.Equal(t, uint64(1), d.Stats().ChecksumErrors)
}

func TestDecoder_HeaderCollisionInsidePayload(t *testing.T) {
	// A truncated frame whose payload carries "TH" is followed by a real
	// frame. Resync must restart one byte past the failed start so the real
	// frame, which begins inside the failed candidate, is recovered.
	truncated := []byte{0x54, 0x48, 0x00, 0x10, 0x54, 0x48}
	good := EncodeFrame(readingsWith(500))
	stream := slices.Concat(truncated, good)

	got := decodeAll(NewDecoder(), stream)
	require.Len(t, got, 1)
	assert.Equal(t, uint16(500), got[0][Sector1])
}

func TestDecoder_TwoFramesOneChunk(t *testing.T) {
	first := EncodeFrame(readingsWith(100))
	second := EncodeFrame(readingsWith(200))

	got := decodeAll(NewDecoder(), slices.Concat(first, second))
	require.Len(t, got, 2)
	assert.Equal(t, uint16(100), got[0][Sector1])
	assert.Equal(t, uint16(200), got[1][Sector1])
}

func TestDecoder_SplitAcrossWrites(t *testing.T) {
	frame := exampleFrame()
	d := NewDecoder()

	assert.Empty(t, decodeAll(d, frame[:7]))
	assert.Equal(t, 7, d.Buffered())
	got := decodeAll(d, frame[7:])
	require.Len(t, got, 1)
	assert.Equal(t, 0, d.Buffered())
}

func TestDecoder_DiscardsNoise(t *testing.T) {
	d := NewDecoder()
	noise := bytes.Repeat([]byte{0x01, 0x02, 0x03}, 100)
	assert.Empty(t, decodeAll(d, noise))
	assert.Equal(t, 0, d.Buffered())
	assert.Equal(t, uint64(len(noise)), d.Stats().BytesDiscarded)
}

func TestDecoder_KeepsTrailingHeaderByte(t *testing.T) {
	d := NewDecoder()
	frame := exampleFrame()
	assert.Empty(t, decodeAll(d, []byte{0x00, 0x00, frame[0]}))
	assert.Equal(t, 1, d.Buffered())

	got := decodeAll(d, frame[1:])
	require.Len(t, got, 1)
	assert.Equal(t, exampleReadings(), got[0])
}

func TestDecoder_FramesStopsEarly(t *testing.T) {
	d := NewDecoder()
	d.Write(slices.Concat(EncodeFrame(readingsWith(1)), EncodeFrame(readingsWith(2))))

	for r := range d.Frames() {
		assert.Equal(t, uint16(1), r[Sector1])
		break
	}
	// the second frame is still available on the next pass
	rest := slices.Collect(d.Frames())
	require.Len(t, rest, 1)
	assert.Equal(t, uint16(2), rest[0][Sector1])
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder()
	d.Write(exampleFrame()[:10])
	d.Reset()
	assert.Equal(t, 0, d.Buffered())

	// the tail of the old frame is now noise
	assert.Empty(t, decodeAll(d, exampleFrame()[10:]))
}
