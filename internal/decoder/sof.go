package decoder

import "github.com/packetry/packetry/internal/store"

// handleSOF extends the in-progress SOF group, opening one if this is the
// first SOF since the last non-SOF packet.
func (d *Decoder) handleSOF(pktID uint64, pkt store.Packet, frame uint16) {
	if d.sof == nil {
		id := d.st.OpenGroup(store.GroupSOF, pkt.TimestampNs)
		d.sof = &sofRun{groupID: id, firstPacket: pktID, firstFrame: frame}
	}
	d.sof.lastPacket = pktID
	d.sof.lastFrame = frame
}

// closeSOFRun finalizes the in-progress SOF group, if any. It is called
// before handling any non-SOF packet and on cancellation.
func (d *Decoder) closeSOFRun(atNs int64) {
	if d.sof == nil {
		return
	}
	run := d.sof
	d.sof = nil
	g, err := d.st.Group(run.groupID)
	if err != nil {
		return
	}
	g.SetSOFRange(run.firstPacket, run.lastPacket, run.firstFrame, run.lastFrame)
	d.st.CloseGroup(run.groupID, atNs)
}
