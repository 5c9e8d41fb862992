package decoder

import "github.com/packetry/packetry/internal/store"

// handleToken starts a new transaction. The bus is serial: if a prior
// transaction never reached a handshake (or a data stage, for
// isochronous/PING tokens with no data), the arrival of the next token
// closes it as incomplete rather than leaving it open forever.
func (d *Decoder) handleToken(pktID uint64, pkt store.Packet) {
	if pkt.PID == store.PIDSSplit || pkt.PID == store.PIDCSplit {
		d.beginSplit(pkt)
		return
	}

	d.closeIncompleteTxn()

	dir := tokenDirection(pkt.PID)
	epNum := pkt.EndpointNum
	if pkt.PID == store.PIDSetup {
		// A SETUP token always addresses the control endpoint; a nonzero
		// endpoint number in a malformed capture is folded into endpoint 0
		// rather than opening a transaction on the wrong endpoint.
		epNum = 0
	}
	epDir := dir
	if epNum == 0 {
		// Endpoint 0 is the bidirectional control endpoint: the SETUP, data
		// and status stages of one control transfer share a single endpoint
		// record (keyed as OUT), whichever way each stage flows.
		epDir = store.DirectionOut
	}
	ep := d.st.Endpoint(pkt.DeviceAddr, epNum, epDir)

	if pkt.PID == store.PIDSetup {
		// A new SETUP always starts a fresh control transfer, aborting
		// whatever the endpoint had in progress.
		es := d.endpointState(ep.ID)
		if es.xferActive {
			d.abortTransfer(ep.ID, es, store.TransferAborted, pkt.TimestampNs)
		}
	}

	txn := d.st.OpenTransaction(ep.ID, dir, pktID)

	p := &pendingTxn{
		id:         txn,
		endpointID: ep.ID,
		dir:        dir,
		tokenPID:   pkt.PID,
		tokenTs:    pkt.TimestampNs,
		phase:      phaseAwaitingData,
	}
	if d.pendingSplit != nil {
		p.split = *d.pendingSplit
		d.pendingSplit = nil
	}
	if pkt.PID == store.PIDPing {
		// PING has no data stage: a handshake (ACK/NAK/STALL) follows
		// directly, answering whether the endpoint is ready.
		p.phase = phaseAwaitingHandshake
	}
	d.cur = p
}

// beginSplit records SSPLIT/CSPLIT wrapper metadata to be attached to the
// token that follows. It does not itself open a transaction.
func (d *Decoder) beginSplit(pkt store.Packet) {
	d.closeIncompleteTxn()
	d.pendingSplit = &store.SplitInfo{
		IsSplit:    true,
		HubAddr:    pkt.DeviceAddr,
		PortNum:    pkt.EndpointNum,
		StartSplit: pkt.PID == store.PIDSSplit,
	}
}

func (d *Decoder) closeIncompleteTxn() {
	if d.cur == nil {
		return
	}
	d.st.CloseTransaction(d.cur.id, store.ResultIncomplete)
	d.completeTransaction(d.cur, store.ResultIncomplete)
	d.cur = nil
}

func tokenDirection(pid store.PID) store.Direction {
	if pid == store.PIDIn {
		return store.DirectionIn
	}
	return store.DirectionOut
}

// handleData attaches a DATAx payload to the transaction awaiting it.
// Isochronous transactions have no handshake stage, so they close as soon
// as their data arrives.
func (d *Decoder) handleData(pktID uint64, pkt store.Packet) {
	if d.cur == nil || d.cur.phase != phaseAwaitingData {
		d.noteMalformed(pktID, "data packet outside an open transaction")
		return
	}
	d.st.ExtendTransaction(d.cur.id, pktID, pkt.Payload)

	if d.cur.tokenPID == store.PIDSetup {
		d.beginControlSetup(d.cur.endpointID, pkt.Payload)
	}

	ep, _ := d.st.EndpointByID(d.cur.endpointID)
	if ep != nil && ep.Kind == store.TransferIsochronous {
		d.st.CloseTransaction(d.cur.id, store.ResultACK)
		d.completeTransaction(d.cur, store.ResultACK)
		d.cur = nil
		return
	}
	d.cur.phase = phaseAwaitingHandshake
}

// handleHandshake closes the transaction awaiting it with the outcome
// carried by the handshake PID. The handshake may also follow the token
// directly, with no data stage (an IN answered by NAK or STALL).
func (d *Decoder) handleHandshake(pktID uint64, pkt store.Packet) {
	if d.cur == nil {
		d.noteMalformed(pktID, "handshake packet outside an open transaction")
		return
	}
	result := handshakeResult(pkt.PID)
	d.st.ExtendTransaction(d.cur.id, pktID, nil)
	d.st.CloseTransaction(d.cur.id, result)
	d.completeTransaction(d.cur, result)
	d.cur = nil
}

func handshakeResult(pid store.PID) store.TransactionResult {
	switch pid {
	case store.PIDAck:
		return store.ResultACK
	case store.PIDNak:
		return store.ResultNAK
	case store.PIDStall:
		return store.ResultSTALL
	case store.PIDNyet:
		return store.ResultNYET
	default:
		return store.ResultMalformed
	}
}
