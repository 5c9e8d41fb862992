package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPacketRoundTrip(t *testing.T) {
	s := New(0)
	id, err := s.RecordPacket(Packet{TimestampNs: 100, PID: PIDIn, DeviceAddr: 5, EndpointNum: 1, Payload: nil, CRCValid: true})
	require.NoError(t, err)

	got, err := s.Packet(id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.TimestampNs)
	assert.Equal(t, PIDIn, got.PID)
	assert.EqualValues(t, 5, got.DeviceAddr)
	assert.EqualValues(t, 1, got.EndpointNum)
}

func TestStoreFullAtCapacity(t *testing.T) {
	s := New(2)
	_, err := s.RecordPacket(Packet{PID: PIDSOF})
	require.NoError(t, err)
	_, err = s.RecordPacket(Packet{PID: PIDSOF})
	require.NoError(t, err)
	_, err = s.RecordPacket(Packet{PID: PIDSOF})
	require.Error(t, err)
}

func TestTransactionLifecycle(t *testing.T) {
	s := New(0)
	ep := s.Endpoint(1, 0, DirectionOut)
	pid, _ := s.RecordPacket(Packet{PID: PIDOut, DeviceAddr: 1})
	txn := s.OpenTransaction(ep.ID, DirectionOut, pid)
	require.NoError(t, s.ExtendTransaction(txn, pid, nil))
	require.NoError(t, s.CloseTransaction(txn, ResultACK))

	got, err := s.Transaction(txn)
	require.NoError(t, err)
	assert.True(t, got.Closed())
	assert.Equal(t, ResultACK, got.Result())
	// Invariant: packet-index range is contiguous and monotonic.
	assert.LessOrEqual(t, got.FirstPacket, got.LastPacket())
}

func TestTransferAggregatesSameEndpoint(t *testing.T) {
	s := New(0)
	ep := s.Endpoint(2, 1, DirectionIn)
	txn1 := s.OpenTransaction(ep.ID, DirectionIn, 0)
	txn2 := s.OpenTransaction(ep.ID, DirectionIn, 1)

	xfer := s.OpenTransfer(ep.ID, TransferBulk, DirectionIn, txn1)
	require.NoError(t, s.ExtendTransfer(xfer, txn1, 4))
	require.NoError(t, s.ExtendTransfer(xfer, txn2, 0))
	require.NoError(t, s.CloseTransfer(xfer, TransferComplete))

	got, err := s.Transfer(xfer)
	require.NoError(t, err)
	assert.Equal(t, ep.ID, got.EndpointID)
	assert.Equal(t, 4, got.PayloadLength())
	assert.True(t, got.Closed())
	assert.Equal(t, []uint64{txn1, txn2}, got.TxnIDs())
}

func TestAddressReuseArchivesPriorDevice(t *testing.T) {
	s := New(0)
	d1 := s.Device(5)
	d1.VendorID = 0x1111

	d2 := s.ReassignAddress(5, 1000)
	assert.True(t, d1.Archived)
	assert.False(t, d2.Archived)
	assert.Zero(t, d2.VendorID, "new device record at a reused address must start with no descriptors")

	// The store's current view of address 5 is now d2, not d1.
	current := s.Device(5)
	assert.Same(t, d2, current)
}

func TestGroupLifecycle(t *testing.T) {
	s := New(0)
	id := s.OpenGroup(GroupSOF, 0)
	g, err := s.Group(id)
	require.NoError(t, err)
	g.SetSOFRange(0, 0, 10, 20)
	require.NoError(t, s.CloseGroup(id, 1000))

	got, _ := s.Group(id)
	assert.True(t, got.Closed())
	assert.EqualValues(t, 1000, got.EndTime())
}
