package store

import "sync/atomic"

// PID is a USB packet identifier: a packet's whole first byte, the 4-bit
// type in the low nibble and its complement in the high nibble.
type PID uint8

const (
	PIDOut     PID = 0xE1
	PIDIn      PID = 0x69
	PIDSOF     PID = 0xA5
	PIDSetup   PID = 0x2D
	PIDData0   PID = 0xC3
	PIDData1   PID = 0x4B
	PIDData2   PID = 0x87
	PIDMData   PID = 0x0F
	PIDAck     PID = 0xD2
	PIDNak     PID = 0x5A
	PIDStall   PID = 0x1E
	PIDNyet    PID = 0x96
	PIDPing    PID = 0xB4
	PIDSSplit  PID = 0x78
	PIDCSplit  PID = 0xF0
	PIDPre_Err PID = 0x3C
)

func (p PID) IsToken() bool {
	switch p {
	case PIDOut, PIDIn, PIDSetup, PIDPing, PIDSSplit, PIDCSplit:
		return true
	default:
		return false
	}
}

func (p PID) IsData() bool {
	switch p {
	case PIDData0, PIDData1, PIDData2, PIDMData:
		return true
	default:
		return false
	}
}

func (p PID) IsHandshake() bool {
	switch p {
	case PIDAck, PIDNak, PIDStall, PIDNyet:
		return true
	default:
		return false
	}
}

// Packet is one verbatim USB bus packet as recorded by the source.
type Packet struct {
	TimestampNs  int64
	PID          PID
	Payload      []byte // token fields / data payload, excluding PID and CRC
	CRCValid     bool
	LengthValid  bool
	DeviceAddr   uint8 // only meaningful for token packets
	EndpointNum  uint8 // only meaningful for token packets
}

// Direction of data flow relative to the host.
type Direction uint8

const (
	DirectionOut Direction = iota
	DirectionIn
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "IN"
	}
	return "OUT"
}

// TransactionResult is the outcome of a transaction's handshake stage.
type TransactionResult uint8

const (
	ResultPending TransactionResult = iota
	ResultACK
	ResultNAK
	ResultSTALL
	ResultNYET
	ResultTimeout
	ResultMalformed
	ResultIncomplete
)

// SplitInfo carries SSPLIT/CSPLIT wrapper metadata for a split transaction.
type SplitInfo struct {
	IsSplit    bool
	HubAddr    uint8
	PortNum    uint8
	StartSplit bool // true for SSPLIT, false for CSPLIT
}

// txnState is the tail of a Transaction that changes after it is opened.
// It is swapped in as a whole via Transaction.state so a reader following
// the pointer during a capture always sees one consistent snapshot, never
// a record with some fields updated and others not.
type txnState struct {
	LastPacket uint64 // inclusive
	Payload    []byte
	Result     TransactionResult
	Closed     bool
}

// Transaction is a token + optional data + optional handshake triple.
// The fields above state are fixed at OpenTransaction and never change
// again; everything that the decoder fills in afterward lives in state,
// published atomically so concurrent readers never observe a torn record.
type Transaction struct {
	ID          uint64
	EndpointID  uint64
	FirstPacket uint64 // inclusive
	Direction   Direction
	Split       SplitInfo

	state atomic.Pointer[txnState]
}

// LastPacket returns the index of the last packet folded into this
// transaction so far.
func (t *Transaction) LastPacket() uint64 { return t.state.Load().LastPacket }

// Payload returns the transaction's DATAx payload, or nil if it has none.
func (t *Transaction) Payload() []byte { return t.state.Load().Payload }

// Result returns the transaction's handshake outcome.
func (t *Transaction) Result() TransactionResult { return t.state.Load().Result }

// Closed reports whether the transaction has reached a terminal result.
func (t *Transaction) Closed() bool { return t.state.Load().Closed }

// extend folds packetID (and its payload, if any) into the transaction.
// Called only by the store's single writer.
func (t *Transaction) extend(packetID uint64, payload []byte) {
	cur := t.state.Load()
	next := *cur
	next.LastPacket = packetID
	if payload != nil {
		next.Payload = payload
	}
	t.state.Store(&next)
}

// close freezes the transaction's result. Called only by the store's
// single writer.
func (t *Transaction) close(result TransactionResult) {
	cur := t.state.Load()
	next := *cur
	next.Result = result
	next.Closed = true
	t.state.Store(&next)
}

// TransferKind classifies the endpoint transfer type driving aggregation.
type TransferKind uint8

const (
	TransferControl TransferKind = iota
	TransferBulk
	TransferInterrupt
	TransferIsochronous
)

// TransferStatus is the terminal state of a transfer.
type TransferStatus uint8

const (
	TransferInProgress TransferStatus = iota
	TransferComplete
	TransferAborted
	TransferTruncated
	TransferStalled
)

// ControlRequest summarizes a control transfer's SETUP stage.
type ControlRequest struct {
	Recipient   uint8
	Type        uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
	Description string
}

// transferState is the tail of a Transfer that changes after it is
// opened, published atomically the same way txnState is.
type transferState struct {
	LastTxn       uint64   // inclusive
	TxnIDs        []uint64 // every transaction belonging to this transfer, in order
	Status        TransferStatus
	PayloadLength int
	Request       *ControlRequest
	Closed        bool
}

// Transfer is an ordered sequence of transactions on one
// (device, endpoint, direction) tuple forming one logical USB operation.
type Transfer struct {
	ID         uint64
	EndpointID uint64
	Kind       TransferKind
	Direction  Direction
	FirstTxn   uint64 // inclusive, index into the transaction stream

	state atomic.Pointer[transferState]
}

// LastTxn returns the index of the last transaction folded into the
// transfer so far.
func (x *Transfer) LastTxn() uint64 { return x.state.Load().LastTxn }

// TxnIDs returns every transaction belonging to this transfer, in order.
func (x *Transfer) TxnIDs() []uint64 { return x.state.Load().TxnIDs }

// Status returns the transfer's terminal status, or TransferInProgress.
func (x *Transfer) Status() TransferStatus { return x.state.Load().Status }

// PayloadLength returns the accumulated data-stage byte count.
func (x *Transfer) PayloadLength() int { return x.state.Load().PayloadLength }

// Request returns the transfer's SETUP-stage summary, for control
// transfers, or nil otherwise.
func (x *Transfer) Request() *ControlRequest { return x.state.Load().Request }

// Closed reports whether the transfer has reached a terminal status.
func (x *Transfer) Closed() bool { return x.state.Load().Closed }

// extend folds txnID into the transfer and accumulates its payload
// length. Called only by the store's single writer.
func (x *Transfer) extend(txnID uint64, payloadLen int) {
	cur := x.state.Load()
	next := *cur
	if len(next.TxnIDs) == 0 || next.TxnIDs[len(next.TxnIDs)-1] != txnID {
		ids := make([]uint64, len(next.TxnIDs), len(next.TxnIDs)+1)
		copy(ids, next.TxnIDs)
		next.TxnIDs = append(ids, txnID)
	}
	next.LastTxn = txnID
	next.PayloadLength += payloadLen
	x.state.Store(&next)
}

// setRequest records the transfer's SETUP-stage summary. Called only by
// the store's single writer.
func (x *Transfer) setRequest(r *ControlRequest) {
	cur := x.state.Load()
	next := *cur
	next.Request = r
	x.state.Store(&next)
}

// close freezes the transfer's terminal status. Called only by the
// store's single writer.
func (x *Transfer) close(status TransferStatus) {
	cur := x.state.Load()
	next := *cur
	next.Status = status
	next.Closed = true
	x.state.Store(&next)
}

// GroupKind classifies a top-level display row.
type GroupKind uint8

const (
	GroupSOF GroupKind = iota
	GroupTransfer
	GroupPolling
	GroupInvalid
)

// groupState is the tail of a Group that changes after it is opened,
// published atomically the same way txnState and transferState are.
type groupState struct {
	EndTime int64

	// Valid when Kind == GroupTransfer.
	TransferID uint64

	// Valid when Kind == GroupSOF: inclusive packet index range and the
	// first/last USB frame numbers observed.
	FirstPacket uint64
	LastPacket  uint64
	FirstFrame  uint16
	LastFrame   uint16

	// Valid when Kind == GroupPolling: the coalesced transaction run.
	PollEndpointID uint64
	PollResult     TransactionResult
	PollCount      int

	Closed bool
}

// Group is a top-level row of the hierarchical view.
type Group struct {
	ID        uint64
	Kind      GroupKind
	StartTime int64

	state atomic.Pointer[groupState]
}

// EndTime returns the group's closing timestamp, or zero if still open.
func (g *Group) EndTime() int64 { return g.state.Load().EndTime }

// TransferID returns the transfer a GroupTransfer row wraps.
func (g *Group) TransferID() uint64 { return g.state.Load().TransferID }

// FirstPacket returns the first packet index of a GroupSOF run.
func (g *Group) FirstPacket() uint64 { return g.state.Load().FirstPacket }

// LastPacket returns the last packet index of a GroupSOF run.
func (g *Group) LastPacket() uint64 { return g.state.Load().LastPacket }

// FirstFrame returns the first USB frame number of a GroupSOF run.
func (g *Group) FirstFrame() uint16 { return g.state.Load().FirstFrame }

// LastFrame returns the last USB frame number of a GroupSOF run.
func (g *Group) LastFrame() uint16 { return g.state.Load().LastFrame }

// PollEndpointID returns the endpoint a GroupPolling run coalesces.
func (g *Group) PollEndpointID() uint64 { return g.state.Load().PollEndpointID }

// PollResult returns the repeated result a GroupPolling run coalesces.
func (g *Group) PollResult() TransactionResult { return g.state.Load().PollResult }

// PollCount returns the number of transactions a GroupPolling run coalesces.
func (g *Group) PollCount() int { return g.state.Load().PollCount }

// Closed reports whether the group has reached its end time.
func (g *Group) Closed() bool { return g.state.Load().Closed }

// SetTransferID records the transfer a GroupTransfer row wraps. Called
// only by the store's single writer.
func (g *Group) SetTransferID(id uint64) {
	cur := g.state.Load()
	next := *cur
	next.TransferID = id
	g.state.Store(&next)
}

// SetSOFRange records the packet and frame range a GroupSOF row spans.
// Called only by the store's single writer.
func (g *Group) SetSOFRange(firstPacket, lastPacket uint64, firstFrame, lastFrame uint16) {
	cur := g.state.Load()
	next := *cur
	next.FirstPacket = firstPacket
	next.LastPacket = lastPacket
	next.FirstFrame = firstFrame
	next.LastFrame = lastFrame
	g.state.Store(&next)
}

// SetPollInfo records the endpoint and result a GroupPolling row
// coalesces. Called only by the store's single writer.
func (g *Group) SetPollInfo(endpointID uint64, result TransactionResult) {
	cur := g.state.Load()
	next := *cur
	next.PollEndpointID = endpointID
	next.PollResult = result
	g.state.Store(&next)
}

// IncrementPollCount adds one transaction to a GroupPolling row's run.
// Called only by the store's single writer.
func (g *Group) IncrementPollCount() {
	cur := g.state.Load()
	next := *cur
	next.PollCount++
	g.state.Store(&next)
}

// close freezes the group's end time. Called only by the store's single
// writer.
func (g *Group) close(endNs int64) {
	cur := g.state.Load()
	next := *cur
	next.EndTime = endNs
	next.Closed = true
	g.state.Store(&next)
}

// Endpoint identifies a (device address, endpoint number, direction) triple.
type Endpoint struct {
	ID          uint64
	DeviceAddr  uint8
	Number      uint8
	Direction   Direction
	Kind        TransferKind
	DataToggle  bool
	CurrentXfer uint64 // transfer ID of the open transfer; meaningful only while HasXfer is true
	HasXfer     bool
	PollRun     int // not updated by the decoder; a NAK run's length is kept on its polling Group (PollCount)
}

// Device is a device record observed on the bus, possibly mid-enumeration.
type Device struct {
	Address       uint8
	FirstSeenNs   int64
	Archived      bool
	VendorID      uint16
	ProductID     uint16
	DeviceVersion uint16
	Configuration uint8
}
