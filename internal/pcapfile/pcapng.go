package pcapfile

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/packetry/packetry/internal/captureerr"
)

const (
	blockTypeSectionHeader = 0x0A0D0D0A
	blockTypeInterfaceDesc = 0x00000001
	blockTypeEnhancedPkt   = 0x00000006
	blockTypeCustom        = 0x40000BAD // "copy allowed" custom block, per the pcapng spec's reserved custom-block range

	byteOrderMagic = 0x1A2B3C4D
)

// packetryPEN is this tool's own (unregistered, private-use) enterprise
// number tagging custom pcapng blocks it writes, so a reader can tell
// them apart from another tool's custom blocks sharing the same type.
const packetryPEN = 0x5041434B // "PACK"

// nonPacketEventSubtype discriminates this tool's only custom block
// payload shape from any future one sharing the same PEN.
const nonPacketEventSubtype = 1

// NGBlockKind classifies a decoded pcapng block.
type NGBlockKind int

const (
	NGInterface NGBlockKind = iota
	NGPacket
	NGEvent
	NGUnknown
)

// NGBlock is one decoded pcapng block, fields populated per Kind.
type NGBlock struct {
	Kind NGBlockKind

	// NGInterface
	LinkType uint16
	SnapLen  uint32

	// NGPacket
	InterfaceID uint32
	TimestampNs int64
	Payload     []byte

	// NGEvent
	EventCode    uint32
	EventPayload []byte
}

// NGWriter writes a pcapng file: one section header, interface
// description blocks, and a stream of enhanced packet / custom event
// blocks.
type NGWriter struct {
	w io.Writer
}

// NewNGWriter writes the section header block immediately.
func NewNGWriter(w io.Writer) (*NGWriter, error) {
	ngw := &NGWriter{w: w}
	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, uint32(byteOrderMagic))
	binary.Write(body, binary.LittleEndian, uint16(1)) // major
	binary.Write(body, binary.LittleEndian, uint16(0)) // minor
	binary.Write(body, binary.LittleEndian, int64(-1)) // section length unknown
	if err := ngw.writeBlock(blockTypeSectionHeader, body.Bytes()); err != nil {
		return nil, err
	}
	return ngw, nil
}

// WriteInterface appends an interface description block. It returns only
// an error; interfaces are numbered from zero in the order they are
// written, and later packet blocks refer to them by that number.
func (ngw *NGWriter) WriteInterface(linkType uint16, snapLen uint32) error {
	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, linkType)
	binary.Write(body, binary.LittleEndian, uint16(0)) // reserved
	binary.Write(body, binary.LittleEndian, snapLen)
	return ngw.writeBlock(blockTypeInterfaceDesc, body.Bytes())
}

// WritePacket appends an enhanced packet block on the given interface.
func (ngw *NGWriter) WritePacket(interfaceID uint32, timestampNs int64, payload []byte) error {
	ts := uint64(timestampNs)
	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, interfaceID)
	binary.Write(body, binary.LittleEndian, uint32(ts>>32))
	binary.Write(body, binary.LittleEndian, uint32(ts))
	binary.Write(body, binary.LittleEndian, uint32(len(payload)))
	binary.Write(body, binary.LittleEndian, uint32(len(payload)))
	body.Write(payload)
	padTo4(body)
	return ngw.writeBlock(blockTypeEnhancedPkt, body.Bytes())
}

// WriteEvent appends a non-packet event (speed change, VBUS event,
// capture start/stop) as a custom block tagged with this tool's PEN.
func (ngw *NGWriter) WriteEvent(timestampNs int64, eventCode uint32, payload []byte) error {
	body := new(bytes.Buffer)
	binary.Write(body, binary.LittleEndian, uint32(packetryPEN))
	binary.Write(body, binary.LittleEndian, uint32(nonPacketEventSubtype))
	binary.Write(body, binary.LittleEndian, timestampNs)
	binary.Write(body, binary.LittleEndian, eventCode)
	binary.Write(body, binary.LittleEndian, uint32(len(payload)))
	body.Write(payload)
	padTo4(body)
	return ngw.writeBlock(blockTypeCustom, body.Bytes())
}

// writeBlock frames body with a pcapng block header/trailer: type,
// total length, body, total length again.
func (ngw *NGWriter) writeBlock(blockType uint32, body []byte) error {
	total := uint32(12 + len(body))
	if err := binary.Write(ngw.w, binary.LittleEndian, blockType); err != nil {
		return captureerr.Wrap(captureerr.IoError, "write pcapng block type", err)
	}
	if err := binary.Write(ngw.w, binary.LittleEndian, total); err != nil {
		return captureerr.Wrap(captureerr.IoError, "write pcapng block length", err)
	}
	if _, err := ngw.w.Write(body); err != nil {
		return captureerr.Wrap(captureerr.IoError, "write pcapng block body", err)
	}
	if err := binary.Write(ngw.w, binary.LittleEndian, total); err != nil {
		return captureerr.Wrap(captureerr.IoError, "write pcapng block trailer", err)
	}
	return nil
}

func padTo4(buf *bytes.Buffer) {
	if pad := (4 - buf.Len()%4) % 4; pad != 0 {
		buf.Write(make([]byte, pad))
	}
}

// NGReader reads pcapng blocks, skipping any block type it doesn't
// recognize by that block's own declared length.
type NGReader struct {
	r io.Reader
}

// NewNGReader wraps r without assuming a section header has already
// been consumed.
func NewNGReader(r io.Reader) *NGReader {
	return &NGReader{r: r}
}

// Next decodes the next recognized block, skipping unknown block types.
// Returns io.EOF once the stream is exhausted.
func (ngr *NGReader) Next() (NGBlock, error) {
	for {
		blockType, body, err := ngr.readRawBlock()
		if err != nil {
			return NGBlock{}, err
		}
		switch blockType {
		case blockTypeSectionHeader:
			continue // no state carried between sections for this reader
		case blockTypeInterfaceDesc:
			if len(body) < 8 {
				return NGBlock{}, captureerr.New(captureerr.Malformed, "truncated interface description block")
			}
			return NGBlock{
				Kind:     NGInterface,
				LinkType: binary.LittleEndian.Uint16(body[0:2]),
				SnapLen:  binary.LittleEndian.Uint32(body[4:8]),
			}, nil
		case blockTypeEnhancedPkt:
			if len(body) < 20 {
				return NGBlock{}, captureerr.New(captureerr.Malformed, "truncated enhanced packet block")
			}
			ifaceID := binary.LittleEndian.Uint32(body[0:4])
			tsHigh := binary.LittleEndian.Uint32(body[4:8])
			tsLow := binary.LittleEndian.Uint32(body[8:12])
			capLen := binary.LittleEndian.Uint32(body[12:16])
			if uint32(len(body)-20) < capLen {
				return NGBlock{}, captureerr.New(captureerr.Malformed, "enhanced packet block shorter than its captured length")
			}
			return NGBlock{
				Kind:        NGPacket,
				InterfaceID: ifaceID,
				TimestampNs: int64(uint64(tsHigh)<<32 | uint64(tsLow)),
				Payload:     append([]byte(nil), body[20:20+capLen]...),
			}, nil
		case blockTypeCustom:
			if len(body) < 24 {
				return NGBlock{}, captureerr.New(captureerr.Malformed, "truncated custom block")
			}
			pen := binary.LittleEndian.Uint32(body[0:4])
			subtype := binary.LittleEndian.Uint32(body[4:8])
			if pen != packetryPEN || subtype != nonPacketEventSubtype {
				continue // someone else's custom block; not ours to interpret
			}
			ts := int64(binary.LittleEndian.Uint64(body[8:16]))
			eventCode := binary.LittleEndian.Uint32(body[16:20])
			payloadLen := binary.LittleEndian.Uint32(body[20:24])
			if uint32(len(body)-24) < payloadLen {
				return NGBlock{}, captureerr.New(captureerr.Malformed, "custom block shorter than its declared payload length")
			}
			return NGBlock{
				Kind:         NGEvent,
				TimestampNs:  ts,
				EventCode:    eventCode,
				EventPayload: append([]byte(nil), body[24:24+payloadLen]...),
			}, nil
		default:
			continue // unrecognized block type, already skipped by readRawBlock
		}
	}
}

func (ngr *NGReader) readRawBlock() (uint32, []byte, error) {
	var blockType, total uint32
	if err := binary.Read(ngr.r, binary.LittleEndian, &blockType); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, captureerr.Wrap(captureerr.IoError, "read pcapng block type", err)
	}
	if err := binary.Read(ngr.r, binary.LittleEndian, &total); err != nil {
		return 0, nil, captureerr.Wrap(captureerr.Truncated, "read pcapng block length", err)
	}
	if total < 12 {
		return 0, nil, captureerr.New(captureerr.Malformed, "pcapng block shorter than its own header")
	}
	// total counts type(4) + length(4) + body + trailing length repeat(4);
	// type and length are already consumed above.
	rest := make([]byte, total-8)
	if _, err := io.ReadFull(ngr.r, rest); err != nil {
		return 0, nil, captureerr.Wrap(captureerr.Truncated, "read pcapng block body", err)
	}
	return blockType, rest[:len(rest)-4], nil
}
