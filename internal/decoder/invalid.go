package decoder

import (
	"fmt"

	"github.com/packetry/packetry/internal/captureerr"
	"github.com/packetry/packetry/internal/store"
)

// handleInvalid records a packet the bus could not have produced cleanly
// (unrecognized PID, bad inverted-nibble check) without halting decoding.
// Consecutive invalid packets coalesce into one GroupInvalid row, the
// same way consecutive SOFs do.
func (d *Decoder) handleInvalid(pktID uint64, pkt store.Packet) {
	d.noteError(malformedf("unrecognized PID 0x%02X", uint8(pkt.PID)))

	if !d.invalidRunOpen() {
		d.invalidGroup = d.st.OpenGroup(store.GroupInvalid, pkt.TimestampNs)
	}
	d.invalidLastTs = pkt.TimestampNs
}

// closeInvalidRun ends the in-progress invalid-packet group, if any.
func (d *Decoder) closeInvalidRun() {
	if !d.invalidRunOpen() {
		return
	}
	d.st.CloseGroup(d.invalidGroup, d.invalidLastTs)
}

// invalidRunOpen reports whether d.invalidGroup names a still-open
// invalid-packet group. Group ids start at 0, so the id alone cannot
// mark "no run in progress".
func (d *Decoder) invalidRunOpen() bool {
	g, err := d.st.Group(d.invalidGroup)
	return err == nil && g.Kind == store.GroupInvalid && !g.Closed()
}

func (d *Decoder) noteMalformed(pktID uint64, msg string) {
	d.noteError(captureerr.New(captureerr.Malformed, fmt.Sprintf("packet %d: %s", pktID, msg)))
}

func malformedf(format string, args ...any) error {
	return captureerr.New(captureerr.Malformed, fmt.Sprintf(format, args...))
}
