package decoder

import (
	"encoding/binary"
	"fmt"

	"github.com/packetry/packetry/internal/store"
)

// Standard request codes (USB 2.0 spec table 9-4), recognized so their
// data stage can be routed to the descriptor engine or logged readably.
const (
	reqGetDescriptor    = 0x06
	reqSetAddress       = 0x05
	reqSetConfiguration = 0x09
)

// beginControlSetup parses an 8-byte SETUP payload and opens the control
// bookkeeping for the endpoint's transfer, tracking which direction the
// data stage (if any) will flow.
func (d *Decoder) beginControlSetup(endpointID uint64, payload []byte) {
	es := d.endpointState(endpointID)
	if len(payload) < 8 {
		d.noteError(malformedf("short SETUP payload (%d bytes)", len(payload)))
		es.ctrl = nil
		return
	}
	req := store.ControlRequest{
		Recipient: payload[0] & 0x1F,
		Type:      (payload[0] >> 5) & 0x3,
		Request:   payload[1],
		Value:     binary.LittleEndian.Uint16(payload[2:4]),
		Index:     binary.LittleEndian.Uint16(payload[4:6]),
		Length:    binary.LittleEndian.Uint16(payload[6:8]),
	}
	req.Description = describeRequest(req.Request)

	dataDir := store.DirectionOut
	if payload[0]&0x80 != 0 {
		dataDir = store.DirectionIn
	}
	if req.Length == 0 {
		// No data stage: the very next transaction is the status stage,
		// which is always IN, so the nominal data direction is taken as
		// OUT and advanceControlPhase sees the IN status as the opposite one.
		dataDir = store.DirectionOut
	}

	es.ctrl = &controlState{
		phase:   ctrlData,
		request: req,
		dataDir: dataDir,
	}
}

func describeRequest(code uint8) string {
	switch code {
	case reqGetDescriptor:
		return "GET_DESCRIPTOR"
	case reqSetAddress:
		return "SET_ADDRESS"
	case reqSetConfiguration:
		return "SET_CONFIGURATION"
	default:
		return fmt.Sprintf("request 0x%02X", code)
	}
}

// advanceControlPhase drives the data/status phase transition for a
// control transfer's non-SETUP transactions, and hands a completed
// GET_DESCRIPTOR data stage to the descriptor sink.
func (d *Decoder) advanceControlPhase(ep *store.Endpoint, es *epState, p *pendingTxn, payloadLen int) {
	if es.ctrl == nil {
		return
	}
	cs := es.ctrl

	if cs.phase == ctrlData && p.dir == cs.dataDir {
		if cs.request.Request == reqGetDescriptor {
			if txn, err := d.st.Transaction(p.id); err == nil {
				cs.data = append(cs.data, txn.Payload()...)
			}
		}
		if payloadLen == 0 {
			// Short packet: the data stage is over, even if it delivered
			// fewer bytes than wLength requested.
			cs.phase = ctrlStatus
		}
		return
	}

	// Status stage: a zero-length transaction opposite the data direction.
	cs.phase = ctrlStatus
	if p.dir != cs.dataDir {
		d.finishControlRequest(ep, cs)
		d.completeTransferOK(ep.ID, es, p.tokenTs)
	}
}

func (d *Decoder) finishControlRequest(ep *store.Endpoint, cs *controlState) {
	if ep.HasXfer {
		req := cs.request
		d.st.SetTransferRequest(ep.CurrentXfer, &req)
	}

	switch cs.request.Request {
	case reqGetDescriptor:
		descType := uint8(cs.request.Value >> 8)
		descIndex := uint8(cs.request.Value)
		langID := cs.request.Index
		d.sink.HandleDescriptor(ep.DeviceAddr, descType, descIndex, langID, cs.data)
	case reqSetAddress:
		newAddr := uint8(cs.request.Value)
		d.st.ReassignAddress(newAddr, 0)
	case reqSetConfiguration:
		dev := d.st.Device(ep.DeviceAddr)
		dev.Configuration = uint8(cs.request.Value)
	}
}
