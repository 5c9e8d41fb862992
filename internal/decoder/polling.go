package decoder

import "github.com/packetry/packetry/internal/store"

// notePolling coalesces a run of identically-rejected (NAK/NYET)
// transactions on one endpoint into a single GroupPolling row, with no
// minimum run length.
func (d *Decoder) notePolling(endpointID uint64, es *epState, result store.TransactionResult, ts int64) {
	if es.pollActive && es.pollResult != result {
		d.st.CloseGroup(es.pollGroup, ts)
		es.pollActive = false
	}
	if !es.pollActive {
		id := d.st.OpenGroup(store.GroupPolling, ts)
		if g, err := d.st.Group(id); err == nil {
			g.SetPollInfo(endpointID, result)
		}
		es.pollGroup = id
		es.pollResult = result
		es.pollActive = true
	}
	if g, err := d.st.Group(es.pollGroup); err == nil {
		g.IncrementPollCount()
	}
}

// closePollingRun ends any in-progress polling run for the endpoint; a
// productive transaction (ACK, STALL, or a protocol error) always ends a
// run of retries.
func (d *Decoder) closePollingRun(es *epState, ts int64) {
	if !es.pollActive {
		return
	}
	d.st.CloseGroup(es.pollGroup, ts)
	es.pollActive = false
}
