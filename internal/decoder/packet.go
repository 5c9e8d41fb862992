package decoder

import (
	"encoding/binary"

	"github.com/packetry/packetry/internal/store"
)

// parsedPacket is the result of classifying one raw capture record.
type parsedPacket struct {
	pkt   store.Packet
	frame uint16 // valid only when pkt.PID == PIDSOF
}

// parsePacket takes the whole first byte as the PID, records whether its
// high nibble is the inverted low nibble, validates the payload CRC (CRC5
// for tokens, CRC16 for data), and extracts address/endpoint/frame fields.
// A first byte whose check nibble is wrong matches no PID constant, so it
// is classified as an unrecognized PID rather than by its low nibble.
// Malformed input is never an error: the packet is still returned, tagged
// with CRCValid/LengthValid false.
func parsePacket(raw []byte) parsedPacket {
	if len(raw) == 0 {
		return parsedPacket{pkt: store.Packet{LengthValid: false}}
	}

	pidByte := raw[0]
	pid := store.PID(pidByte) // first byte IS the encoded PID byte on the wire
	lengthValid := pidByte&0x0F == (^(pidByte>>4))&0x0F

	p := store.Packet{PID: pid, LengthValid: lengthValid}

	switch {
	case pid.IsToken() || pid == store.PIDSOF:
		if len(raw) < 3 {
			p.CRCValid = false
			return parsedPacket{pkt: p}
		}
		field := binary.LittleEndian.Uint16(raw[1:3])
		data11 := field & 0x07FF
		gotCRC := uint8(field >> 11)
		p.CRCValid = crc5USB(data11) == gotCRC
		if pid == store.PIDSOF {
			return parsedPacket{pkt: p, frame: data11}
		}
		p.DeviceAddr = uint8(data11 & 0x7F)
		p.EndpointNum = uint8((data11 >> 7) & 0x0F)
		return parsedPacket{pkt: p}

	case pid.IsData():
		if len(raw) < 3 {
			p.CRCValid = false
			return parsedPacket{pkt: p}
		}
		payload := raw[1 : len(raw)-2]
		wantCRC := binary.LittleEndian.Uint16(raw[len(raw)-2:])
		p.CRCValid = crc16USB(payload) == wantCRC
		p.Payload = append([]byte(nil), payload...)
		return parsedPacket{pkt: p}

	case pid.IsHandshake():
		p.CRCValid = true
		return parsedPacket{pkt: p}

	default:
		// Unknown PID: keep the packet, mark it invalid.
		p.CRCValid = false
		return parsedPacket{pkt: p}
	}
}

// EncodePacket reconstructs the on-wire bytes parsePacket would have
// produced p from, for re-serializing a stored packet to a capture file.
// The store doesn't retain a SOF packet's frame number (only the
// enclosing group's FirstFrame/LastFrame), so a re-encoded SOF always
// carries frame 0; every other packet kind round-trips exactly when
// CRCValid was true on capture.
func EncodePacket(p store.Packet) []byte {
	switch {
	case p.PID == store.PIDSOF:
		return encodeTokenLike(p.PID, 0)
	case p.PID.IsToken():
		data11 := uint16(p.DeviceAddr&0x7F) | uint16(p.EndpointNum&0x0F)<<7
		return encodeTokenLike(p.PID, data11)
	case p.PID.IsData():
		raw := make([]byte, 1+len(p.Payload)+2)
		raw[0] = byte(p.PID)
		copy(raw[1:], p.Payload)
		binary.LittleEndian.PutUint16(raw[1+len(p.Payload):], crc16USB(p.Payload))
		return raw
	default:
		return []byte{byte(p.PID)}
	}
}

func encodeTokenLike(pid store.PID, data11 uint16) []byte {
	field := (data11 & 0x07FF) | uint16(crc5USB(data11))<<11
	raw := make([]byte, 3)
	raw[0] = byte(pid)
	binary.LittleEndian.PutUint16(raw[1:], field)
	return raw
}
