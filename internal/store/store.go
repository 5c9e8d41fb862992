// Package store implements the capture store: the
// single-writer, multi-reader append-only aggregate of every stream a
// capture produces, plus the device/endpoint bookkeeping the decoder needs
// to drive it. A Transaction, Transfer, or Group's fields set at creation
// never change again; everything the decoder fills in afterward is
// published through an atomic snapshot swap (entities.go), so a reader
// holding an index never observes a torn record, and once Closed() is
// true the record no longer changes for the rest of the capture.
package store

import (
	"sync"

	"github.com/packetry/packetry/internal/captureerr"
	"github.com/packetry/packetry/internal/store/stream"
	"github.com/packetry/packetry/pkg/log"
)

// packetMeta is the fixed-width part of a packet record; payload bytes live
// in the packet arena, device/endpoint numbers in compact streams.
type packetMeta struct {
	TimestampNs int64
	PID         PID
	CRCValid    bool
	LengthValid bool
}

// Store owns every named stream the capture produces. It is safe for one
// writer (the decoder goroutine) to call the mutating methods while any
// number of readers call the view methods concurrently.
type Store struct {
	capacity uint64 // 0 means unbounded; StoreFull once packets.Len() reaches this

	packets      *stream.Stream[packetMeta]
	packetDevice *stream.CompactStream
	packetEP     *stream.CompactStream
	packetArena  *Arena

	transactions *stream.Stream[*Transaction]
	transfers    *stream.Stream[*Transfer]
	groups       *stream.Stream[*Group]

	mu        sync.Mutex // guards device/endpoint bookkeeping below
	devices   map[uint8][]*Device // history per address; last entry is current
	endpoints map[uint64]*Endpoint
	epByKey   map[endpointKey]uint64
	nextEPID  uint64
}

type endpointKey struct {
	addr uint8
	num  uint8
	dir  Direction
}

// New creates an empty capture store. capacity, if non-zero, bounds the
// number of packets that may be recorded before RecordPacket returns a
// StoreFull error.
func New(capacity uint64) *Store {
	return &Store{
		capacity:     capacity,
		packets:      stream.New[packetMeta](4096),
		packetDevice: stream.NewCompactStream(1),
		packetEP:     stream.NewCompactStream(1),
		packetArena:  NewArena(),
		transactions: stream.New[*Transaction](1024),
		transfers:    stream.New[*Transfer](1024),
		groups:       stream.New[*Group](1024),
		devices:      make(map[uint8][]*Device),
		endpoints:    make(map[uint64]*Endpoint),
		epByKey:      make(map[endpointKey]uint64),
	}
}

// RecordPacket appends a verbatim packet and returns its id.
func (s *Store) RecordPacket(p Packet) (uint64, error) {
	if s.capacity != 0 && s.packets.Len() >= s.capacity {
		log.Warnf("store: packet stream at capacity (%d), dropping capture record", s.capacity)
		return 0, captureerr.New(captureerr.StoreFull, "packet stream at capacity")
	}
	id := s.packets.Append(packetMeta{
		TimestampNs: p.TimestampNs,
		PID:         p.PID,
		CRCValid:    p.CRCValid,
		LengthValid: p.LengthValid,
	})
	s.packetDevice.Append(uint64(p.DeviceAddr))
	s.packetEP.Append(uint64(p.EndpointNum))
	s.packetArena.Append(p.Payload)
	return id, nil
}

// Packet reassembles the packet stored at id.
func (s *Store) Packet(id uint64) (Packet, error) {
	meta, err := s.packets.Get(id)
	if err != nil {
		return Packet{}, err
	}
	dev, _ := s.packetDevice.Get(id)
	ep, _ := s.packetEP.Get(id)
	payload, _ := s.packetArena.Get(id)
	return Packet{
		TimestampNs: meta.TimestampNs,
		PID:         meta.PID,
		CRCValid:    meta.CRCValid,
		LengthValid: meta.LengthValid,
		DeviceAddr:  uint8(dev),
		EndpointNum: uint8(ep),
		Payload:     payload,
	}, nil
}

// PacketCount returns the number of recorded packets.
func (s *Store) PacketCount() uint64 { return s.packets.Len() }

// --- Endpoints -------------------------------------------------------

// Endpoint looks up or lazily creates the endpoint state for
// (addr, num, dir). The returned pointer is decoder-private; the store
// itself never mutates it.
func (s *Store) Endpoint(addr, num uint8, dir Direction) *Endpoint {
	key := endpointKey{addr, num, dir}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.epByKey[key]; ok {
		return s.endpoints[id]
	}
	s.nextEPID++
	id := s.nextEPID
	ep := &Endpoint{ID: id, DeviceAddr: addr, Number: num, Direction: dir, Kind: TransferBulk}
	s.endpoints[id] = ep
	s.epByKey[key] = id
	return ep
}

// EndpointByID returns the endpoint with the given id, if any.
func (s *Store) EndpointByID(id uint64) (*Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	return ep, ok
}

// --- Devices -----------------------------------------------------------

// Device returns the current device record at addr, creating one if none
// exists yet.
func (s *Store) Device(addr uint8) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.devices[addr]
	if len(hist) == 0 {
		d := &Device{Address: addr}
		s.devices[addr] = []*Device{d}
		return d
	}
	return hist[len(hist)-1]
}

// ReassignAddress ends and archives the current device record at addr (if
// any) and starts a fresh one, so that descriptors never leak across
// address reuse.
func (s *Store) ReassignAddress(addr uint8, atNs int64) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.devices[addr]
	if len(hist) > 0 {
		hist[len(hist)-1].Archived = true
	}
	d := &Device{Address: addr, FirstSeenNs: atNs}
	s.devices[addr] = append(hist, d)
	return d
}

// --- Transactions --------------------------------------------------------

// OpenTransaction starts a new transaction on endpointID and returns its
// id. The id is predicted from the stream's current length before the
// record is published, so the id is never written to the record after
// other goroutines can already see it.
func (s *Store) OpenTransaction(endpointID uint64, dir Direction, firstPacket uint64) uint64 {
	id := s.transactions.Len()
	t := &Transaction{ID: id, EndpointID: endpointID, Direction: dir, FirstPacket: firstPacket}
	t.state.Store(&txnState{LastPacket: firstPacket, Result: ResultPending})
	s.transactions.Append(t)
	return id
}

// ExtendTransaction records that packetID (e.g. a DATAx or handshake
// packet) belongs to the open transaction txnID.
func (s *Store) ExtendTransaction(txnID uint64, packetID uint64, payload []byte) error {
	t, err := s.transactions.Get(txnID)
	if err != nil {
		return err
	}
	t.extend(packetID, payload)
	return nil
}

// CloseTransaction freezes a transaction's result.
func (s *Store) CloseTransaction(txnID uint64, result TransactionResult) error {
	t, err := s.transactions.Get(txnID)
	if err != nil {
		return err
	}
	t.close(result)
	return nil
}

// Transaction returns the transaction record at id.
func (s *Store) Transaction(id uint64) (*Transaction, error) {
	return s.transactions.Get(id)
}

// TransactionCount returns the number of transactions (open or closed).
func (s *Store) TransactionCount() uint64 { return s.transactions.Len() }

// --- Transfers -----------------------------------------------------------

// OpenTransfer starts a new transfer on endpointID. Like OpenTransaction,
// the id is predicted before the record is published.
func (s *Store) OpenTransfer(endpointID uint64, kind TransferKind, dir Direction, firstTxn uint64) uint64 {
	id := s.transfers.Len()
	xfer := &Transfer{ID: id, EndpointID: endpointID, Kind: kind, Direction: dir, FirstTxn: firstTxn}
	xfer.state.Store(&transferState{LastTxn: firstTxn, TxnIDs: []uint64{firstTxn}, Status: TransferInProgress})
	s.transfers.Append(xfer)
	return id
}

// ExtendTransfer records that transaction txnID belongs to transferID and
// accumulates its payload length. The first transaction is already
// recorded by OpenTransfer, so a call for that same id is a no-op append.
func (s *Store) ExtendTransfer(transferID uint64, txnID uint64, payloadLen int) error {
	xfer, err := s.transfers.Get(transferID)
	if err != nil {
		return err
	}
	xfer.extend(txnID, payloadLen)
	return nil
}

// SetTransferRequest records a control transfer's SETUP-stage summary.
func (s *Store) SetTransferRequest(transferID uint64, req *ControlRequest) error {
	xfer, err := s.transfers.Get(transferID)
	if err != nil {
		return err
	}
	xfer.setRequest(req)
	return nil
}

// CloseTransfer freezes a transfer's terminal status.
func (s *Store) CloseTransfer(transferID uint64, status TransferStatus) error {
	xfer, err := s.transfers.Get(transferID)
	if err != nil {
		return err
	}
	xfer.close(status)
	return nil
}

// Transfer returns the transfer record at id.
func (s *Store) Transfer(id uint64) (*Transfer, error) {
	return s.transfers.Get(id)
}

// TransferCount returns the number of transfers (open or closed).
func (s *Store) TransferCount() uint64 { return s.transfers.Len() }

// --- Groups ----------------------------------------------------------------

// OpenGroup starts a new top-level display group. Like OpenTransaction,
// the id is predicted before the record is published.
func (s *Store) OpenGroup(kind GroupKind, startNs int64) uint64 {
	id := s.groups.Len()
	g := &Group{ID: id, Kind: kind, StartTime: startNs}
	g.state.Store(&groupState{})
	s.groups.Append(g)
	return id
}

// Group returns the group at id so the decoder can fill in kind-specific
// fields, through its Set*/Increment* methods, while it is open.
func (s *Store) Group(id uint64) (*Group, error) {
	return s.groups.Get(id)
}

// CloseGroup freezes a group's end time.
func (s *Store) CloseGroup(id uint64, endNs int64) error {
	g, err := s.groups.Get(id)
	if err != nil {
		return err
	}
	g.close(endNs)
	return nil
}

// GroupCount returns the number of groups (open or closed).
func (s *Store) GroupCount() uint64 { return s.groups.Len() }

// --- Reader views ------------------------------------------------------

// Packets returns a navigable view over every recorded packet.
func (s *Store) Packets() *PacketView { return &PacketView{s: s} }

// Transactions returns a navigable view over every recorded transaction.
func (s *Store) Transactions() *TransactionView { return &TransactionView{s: s} }

// Transfers returns a navigable view over every recorded transfer.
func (s *Store) Transfers() *TransferView { return &TransferView{s: s} }

// Groups returns a navigable view over every recorded group.
func (s *Store) Groups() *GroupView { return &GroupView{s: s} }
