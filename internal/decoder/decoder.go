// Package decoder implements the USB 2.0 protocol decoder:
// token-driven state machines turning packets into transactions,
// transactions into transfers, and transfers into display groups, while
// maintaining device/endpoint state. It is the sole writer of the capture
// store; decode-time errors are tagged on the affected record and never
// halt decoding.
package decoder

import (
	"sync"

	"github.com/packetry/packetry/internal/captureerr"
	"github.com/packetry/packetry/internal/store"
	"github.com/packetry/packetry/pkg/log"
)

// txnPhase tracks where the in-flight transaction is within its
// Idle -> AwaitingData -> AwaitingHandshake -> Closed lifecycle.
type txnPhase int

const (
	phaseAwaitingData txnPhase = iota
	phaseAwaitingHandshake
)

// pendingTxn is the single in-flight transaction. The bus is serial, so at
// most one transaction can be between its token and its handshake at a
// time; endpoints only ever hold a *reference* to the transfer they're
// accumulating, never a second concurrently-open transaction.
type pendingTxn struct {
	id         uint64
	endpointID uint64
	dir        store.Direction
	phase      txnPhase
	tokenPID   store.PID
	tokenTs    int64
	split      store.SplitInfo
}

// epState is decoder-private bookkeeping per endpoint, keyed by endpoint
// ID, that doesn't belong on the store's Endpoint record because it is
// never read by anything other than this decoder.
type epState struct {
	pollActive bool
	pollGroup  uint64
	pollResult store.TransactionResult

	xferActive bool
	xferGroup  uint64 // the Group row wrapping the current transfer

	ctrl *controlState // non-nil only for control endpoints mid-transfer
}

type ctrlPhase int

const (
	ctrlData ctrlPhase = iota
	ctrlStatus
)

type controlState struct {
	phase      ctrlPhase
	transferID uint64
	request    store.ControlRequest
	dataDir    store.Direction
	data       []byte // accumulated GET_DESCRIPTOR data stage bytes
}

// sofRun tracks the in-progress SOF group.
type sofRun struct {
	groupID     uint64
	firstPacket uint64
	lastPacket  uint64
	firstFrame  uint16
	lastFrame   uint16
}

// Decoder is the single writer driving a Store from a sequence of raw
// capture records. It is not safe for concurrent use by multiple
// goroutines; the pipeline runs exactly one decoder goroutine.
type Decoder struct {
	st   *store.Store
	sink DescriptorSink

	mu sync.Mutex // taken only by SetEndpointKind, serializing its calls; Feed and the fields below do not use it

	cur    *pendingTxn
	epst   map[uint64]*epState
	sof    *sofRun
	errors []error

	pendingSplit *store.SplitInfo

	invalidGroup  uint64
	invalidLastTs int64
}

// New creates a Decoder writing into st. sink may be nil, in which case
// GET_DESCRIPTOR data stages are discarded.
func New(st *store.Store, sink DescriptorSink) *Decoder {
	if sink == nil {
		sink = NopDescriptorSink{}
	}
	return &Decoder{
		st:   st,
		sink: sink,
		epst: make(map[uint64]*epState),
	}
}

// SetEndpointKind records the transfer type an interface/endpoint
// descriptor declared for (addr, num, dir), so that later transactions on
// it aggregate as bulk/interrupt/isochronous instead of the bulk default.
// It is called from the descriptor engine. d.mu serializes SetEndpointKind
// calls with each other only; Feed does not take it.
func (d *Decoder) SetEndpointKind(addr, num uint8, dir store.Direction, kind store.TransferKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep := d.st.Endpoint(addr, num, dir)
	ep.Kind = kind
}

func (d *Decoder) endpointState(id uint64) *epState {
	es, ok := d.epst[id]
	if !ok {
		es = &epState{}
		d.epst[id] = es
	}
	return es
}

// Errors returns the decode-time (Malformed/Truncated) errors accumulated
// so far. They are informational only: decoding never stops because of
// them.
func (d *Decoder) Errors() []error { return d.errors }

func (d *Decoder) noteError(err error) {
	d.errors = append(d.errors, err)
	log.Debugf("decoder: %s", err)
}

// Feed decodes one raw (timestamp, bytes) capture record and applies it to
// the store. It returns a non-nil error only for structural failures
// (store full); malformed input is recorded and nil is returned.
func (d *Decoder) Feed(ts int64, raw []byte) error {
	parsed := parsePacket(raw)
	parsed.pkt.TimestampNs = ts

	pktID, err := d.st.RecordPacket(parsed.pkt)
	if err != nil {
		log.Errorf("decoder: feed aborted: %s", err)
		return err
	}

	if parsed.pkt.PID == store.PIDSOF {
		d.handleSOF(pktID, parsed.pkt, parsed.frame)
		return nil
	}
	d.closeSOFRun(parsed.pkt.TimestampNs)

	valid := parsed.pkt.PID.IsToken() || parsed.pkt.PID.IsData() || parsed.pkt.PID.IsHandshake()
	if valid {
		d.closeInvalidRun()
	}

	switch {
	case parsed.pkt.PID.IsToken():
		d.handleToken(pktID, parsed.pkt)
	case parsed.pkt.PID.IsData():
		d.handleData(pktID, parsed.pkt)
	case parsed.pkt.PID.IsHandshake():
		d.handleHandshake(pktID, parsed.pkt)
	default:
		d.handleInvalid(pktID, parsed.pkt)
	}
	return nil
}

// Cancel flushes any in-flight transaction/transfer as truncated and
// closes outstanding groups.
func (d *Decoder) Cancel(atNs int64) {
	if d.cur != nil {
		d.st.CloseTransaction(d.cur.id, store.ResultIncomplete)
		d.noteError(captureerr.New(captureerr.Truncated, "transaction truncated by cancellation"))
		d.cur = nil
	}
	for epID, es := range d.epst {
		if es.xferActive {
			d.abortTransfer(epID, es, store.TransferTruncated, atNs)
		}
		if es.pollActive {
			d.closePollingRun(es, atNs)
		}
	}
	d.closeSOFRun(atNs)
	d.closeInvalidRun()
}
