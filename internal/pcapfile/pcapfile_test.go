package pcapfile

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPcapRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewPcapWriter(&buf, 0)
	require.NoError(t, err)

	packets := [][]byte{
		{0xE1, 0x02, 0x03},
		{0x4B, 0xAA, 0xBB, 0xCC, 0xDD},
		{0xD2},
	}
	timestamps := []int64{1_000_000_001, 1_000_000_500, 1_000_001_000}

	for i, p := range packets {
		require.NoError(t, w.WritePacket(timestamps[i], p))
	}

	r, err := NewPcapReader(&buf)
	require.NoError(t, err)
	require.EqualValues(t, LinkTypeUSB20, r.LinkType)

	for i := range packets {
		ts, payload, err := r.ReadPacket()
		require.NoError(t, err)
		require.Equal(t, timestamps[i], ts)
		require.Equal(t, packets[i], payload)
	}

	_, _, err = r.ReadPacket()
	require.ErrorIs(t, err, io.EOF)
}

func TestPcapRespectsSnapLen(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewPcapWriter(&buf, 4)
	require.NoError(t, err)
	require.NoError(t, w.WritePacket(0, []byte{1, 2, 3, 4, 5, 6}))

	r, err := NewPcapReader(&buf)
	require.NoError(t, err)
	_, payload, err := r.ReadPacket()
	require.NoError(t, err)
	require.Len(t, payload, 4)
}

func TestPcapRejectsUnknownMagic(t *testing.T) {
	_, err := NewPcapReader(bytes.NewReader(make([]byte, 24)))
	require.Error(t, err)
}

func TestNGRoundTripPacketsAndEvents(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewNGWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteInterface(LinkTypeUSB20, 65535))
	require.NoError(t, w.WritePacket(0, 100, []byte{0xE1, 0x02, 0x03}))
	require.NoError(t, w.WriteEvent(150, 7, []byte{0xAA}))
	require.NoError(t, w.WritePacket(0, 200, []byte{0x4B}))

	r := NewNGReader(&buf)

	blk, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, NGInterface, blk.Kind)
	require.EqualValues(t, LinkTypeUSB20, blk.LinkType)

	blk, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, NGPacket, blk.Kind)
	require.EqualValues(t, 100, blk.TimestampNs)
	require.Equal(t, []byte{0xE1, 0x02, 0x03}, blk.Payload)

	blk, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, NGEvent, blk.Kind)
	require.EqualValues(t, 150, blk.TimestampNs)
	require.EqualValues(t, 7, blk.EventCode)
	require.Equal(t, []byte{0xAA}, blk.EventPayload)

	blk, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, NGPacket, blk.Kind)
	require.EqualValues(t, 200, blk.TimestampNs)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestNGReaderSkipsUnknownBlockType(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewNGWriter(&buf)
	require.NoError(t, err)

	// A block type this reader doesn't know: 8-byte header + 4 bytes of
	// body + 4-byte repeated length, total 16 bytes, body content irrelevant.
	require.NoError(t, w.writeBlock(0xDEADBEEF, []byte{1, 2, 3, 4}))
	require.NoError(t, w.WritePacket(0, 42, []byte{0x69}))

	r := NewNGReader(&buf)
	blk, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, NGPacket, blk.Kind)
	require.EqualValues(t, 42, blk.TimestampNs)
}
