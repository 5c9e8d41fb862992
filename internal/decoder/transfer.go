package decoder

import "github.com/packetry/packetry/internal/store"

// completeTransaction routes a just-closed transaction into the transfer
// and group aggregation: NAK/NYET retries feed the polling coalescer,
// everything else extends or opens the endpoint's current transfer.
func (d *Decoder) completeTransaction(p *pendingTxn, result store.TransactionResult) {
	es := d.endpointState(p.endpointID)

	if isRetry(result) {
		d.notePolling(p.endpointID, es, result, p.tokenTs)
		return
	}
	d.closePollingRun(es, p.tokenTs)

	switch result {
	case store.ResultACK:
		d.extendOrOpenTransfer(p)
	case store.ResultSTALL:
		d.extendOrOpenTransfer(p)
		d.abortTransfer(p.endpointID, es, store.TransferStalled, p.tokenTs)
	case store.ResultIncomplete, store.ResultTimeout, store.ResultMalformed:
		d.extendOrOpenTransfer(p)
		d.abortTransfer(p.endpointID, es, store.TransferTruncated, p.tokenTs)
	}
}

func isRetry(result store.TransactionResult) bool {
	return result == store.ResultNAK || result == store.ResultNYET
}

// extendOrOpenTransfer appends the transaction to the endpoint's current
// transfer, opening a fresh transfer (and its wrapping display group) if
// none is in progress. A new SETUP token always starts a new control
// transfer, even if one was already open.
func (d *Decoder) extendOrOpenTransfer(p *pendingTxn) {
	ep, ok := d.st.EndpointByID(p.endpointID)
	if !ok {
		return
	}
	es := d.endpointState(p.endpointID)

	if !es.xferActive {
		kind := ep.Kind
		if p.tokenPID == store.PIDSetup {
			kind = store.TransferControl
		}
		xfer := d.st.OpenTransfer(p.endpointID, kind, p.dir, p.id)
		group := d.st.OpenGroup(store.GroupTransfer, p.tokenTs)
		if g, err := d.st.Group(group); err == nil {
			g.SetTransferID(xfer)
		}
		ep.CurrentXfer = xfer
		ep.HasXfer = true
		es.xferActive = true
		es.xferGroup = group
	}

	txn, err := d.st.Transaction(p.id)
	payloadLen := 0
	if err == nil {
		payloadLen = len(txn.Payload())
	}
	d.st.ExtendTransfer(ep.CurrentXfer, p.id, payloadLen)

	if p.tokenPID == store.PIDSetup {
		return
	}
	d.advanceControlPhase(ep, es, p, payloadLen)
}

// abortTransfer closes the endpoint's current transfer with status and
// closes its wrapping group.
func (d *Decoder) abortTransfer(endpointID uint64, es *epState, status store.TransferStatus, ts int64) {
	if !es.xferActive {
		return
	}
	ep, ok := d.st.EndpointByID(endpointID)
	if ok {
		d.st.CloseTransfer(ep.CurrentXfer, status)
		ep.HasXfer = false
	}
	d.st.CloseGroup(es.xferGroup, ts)
	es.xferActive = false
	es.ctrl = nil
}

// completeTransferOK closes the endpoint's current transfer successfully.
func (d *Decoder) completeTransferOK(endpointID uint64, es *epState, ts int64) {
	d.abortTransfer(endpointID, es, store.TransferComplete, ts)
}
