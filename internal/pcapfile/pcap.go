// Package pcapfile implements the two on-disk capture formats this tool
// persists to: classic pcap and pcapng, both carrying USB 2.0 packets,
// the pcapng variant additionally carrying this tool's own non-packet
// event blocks (speed changes, VBUS events, capture start/stop). The
// framing style — a binary header struct decoded with encoding/binary,
// followed by a stream of fixed- or declared-length records, unknown
// records skipped by their own declared length rather than rejected —
// follows the same shape as this codebase's trace/profile file formats
// elsewhere in the example pack.
package pcapfile

import (
	"encoding/binary"
	"io"

	"github.com/packetry/packetry/internal/captureerr"
)

// LinkTypeUSB20 is the pcap/pcapng link-layer type for raw USB 2.0
// packets as this tool captures them (no USB bus-transaction wrapper).
const LinkTypeUSB20 = 288

const (
	magicMicros = 0xa1b2c3d4
	magicNanos  = 0xa1b23c4d
)

// pcapGlobalHeader is the classic 24-byte pcap file header.
type pcapGlobalHeader struct {
	Magic        uint32
	VersionMajor uint16
	VersionMinor uint16
	ThisZone     int32
	SigFigs      uint32
	SnapLen      uint32
	LinkType     uint32
}

// pcapRecordHeader is the 16-byte header preceding every packet record.
type pcapRecordHeader struct {
	TsSeconds   uint32
	TsSubsecond uint32 // microseconds or nanoseconds, per the global header's magic
	InclLen     uint32
	OrigLen     uint32
}

// PcapWriter writes a classic pcap file carrying USB 2.0 packets at
// nanosecond timestamp resolution. The 24-bit timestamps the decoder
// works with internally are always widened to pcap's 32-bit
// seconds-plus-subsecond pair on write.
type PcapWriter struct {
	w       io.Writer
	snapLen uint32
}

// NewPcapWriter writes the global header immediately and returns a
// writer ready to accept packets. snapLen bounds how much of each
// packet's payload is kept; 0 selects a limit of 1 MiB (1<<20 bytes).
func NewPcapWriter(w io.Writer, snapLen uint32) (*PcapWriter, error) {
	if snapLen == 0 {
		snapLen = 1 << 20
	}
	hdr := pcapGlobalHeader{
		Magic:        magicNanos,
		VersionMajor: 2,
		VersionMinor: 4,
		SnapLen:      snapLen,
		LinkType:     LinkTypeUSB20,
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return nil, captureerr.Wrap(captureerr.IoError, "write pcap global header", err)
	}
	return &PcapWriter{w: w, snapLen: snapLen}, nil
}

// WritePacket appends one packet record at timestampNs.
func (pw *PcapWriter) WritePacket(timestampNs int64, payload []byte) error {
	incl := uint32(len(payload))
	if incl > pw.snapLen {
		incl = pw.snapLen
	}
	rec := pcapRecordHeader{
		TsSeconds:   uint32(timestampNs / 1e9),
		TsSubsecond: uint32(timestampNs % 1e9),
		InclLen:     incl,
		OrigLen:     uint32(len(payload)),
	}
	if err := binary.Write(pw.w, binary.LittleEndian, &rec); err != nil {
		return captureerr.Wrap(captureerr.IoError, "write pcap record header", err)
	}
	if _, err := pw.w.Write(payload[:incl]); err != nil {
		return captureerr.Wrap(captureerr.IoError, "write pcap record payload", err)
	}
	return nil
}

// PcapReader reads packet records back out of a classic pcap file.
type PcapReader struct {
	r        io.Reader
	nanos    bool
	LinkType uint32
	SnapLen  uint32
}

// NewPcapReader reads and validates the global header.
func NewPcapReader(r io.Reader) (*PcapReader, error) {
	var hdr pcapGlobalHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, captureerr.Wrap(captureerr.IoError, "read pcap global header", err)
	}
	var nanos bool
	switch hdr.Magic {
	case magicMicros:
		nanos = false
	case magicNanos:
		nanos = true
	default:
		return nil, captureerr.New(captureerr.Malformed, "unrecognized pcap magic number")
	}
	return &PcapReader{r: r, nanos: nanos, LinkType: hdr.LinkType, SnapLen: hdr.SnapLen}, nil
}

// ReadPacket returns the next packet's timestamp (nanoseconds since the
// Unix epoch) and captured payload. Returns io.EOF when the file is
// exhausted.
func (pr *PcapReader) ReadPacket() (int64, []byte, error) {
	var rec pcapRecordHeader
	if err := binary.Read(pr.r, binary.LittleEndian, &rec); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, captureerr.Wrap(captureerr.IoError, "read pcap record header", err)
	}
	payload := make([]byte, rec.InclLen)
	if _, err := io.ReadFull(pr.r, payload); err != nil {
		return 0, nil, captureerr.Wrap(captureerr.Truncated, "read pcap record payload", err)
	}
	subsecNs := int64(rec.TsSubsecond)
	if !pr.nanos {
		subsecNs *= 1000
	}
	return int64(rec.TsSeconds)*1e9 + subsecNs, payload, nil
}
