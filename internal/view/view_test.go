package view

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packetry/packetry/internal/store"
)

func buildTransferFixture(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(0)

	ep := st.Endpoint(1, 2, store.DirectionIn)

	tok, err := st.RecordPacket(store.Packet{TimestampNs: 100, PID: store.PIDIn, DeviceAddr: 1, EndpointNum: 2})
	require.NoError(t, err)
	data, err := st.RecordPacket(store.Packet{TimestampNs: 110, PID: store.PIDData1, Payload: []byte{1, 2, 3, 4}})
	require.NoError(t, err)
	ack, err := st.RecordPacket(store.Packet{TimestampNs: 120, PID: store.PIDAck})
	require.NoError(t, err)

	txn := st.OpenTransaction(ep.ID, store.DirectionIn, tok)
	require.NoError(t, st.ExtendTransaction(txn, data, []byte{1, 2, 3, 4}))
	require.NoError(t, st.ExtendTransaction(txn, ack, nil))
	require.NoError(t, st.CloseTransaction(txn, store.ResultACK))

	xfer := st.OpenTransfer(ep.ID, store.TransferBulk, store.DirectionIn, txn)
	require.NoError(t, st.ExtendTransfer(xfer, txn, 4))
	require.NoError(t, st.CloseTransfer(xfer, store.TransferComplete))

	grp := st.OpenGroup(store.GroupTransfer, 100)
	g, err := st.Group(grp)
	require.NoError(t, err)
	g.SetTransferID(xfer)
	require.NoError(t, st.CloseGroup(grp, 120))

	return st
}

func TestHierarchicalExpandRevealsTransactionsAndPackets(t *testing.T) {
	st := buildTransferFixture(t)
	v := NewHierarchical(st)

	require.EqualValues(t, 1, v.RowCount())

	row, err := v.RowAt(0)
	require.NoError(t, err)
	require.True(t, row.Expandable)
	require.False(t, row.Expanded)
	require.Contains(t, row.Summary, "bulk transfer")

	require.NoError(t, v.Expand(0))
	require.EqualValues(t, 2, v.RowCount()) // group row + its one transaction

	txnRow, err := v.RowAt(1)
	require.NoError(t, err)
	require.Equal(t, 1, txnRow.Depth)
	require.Contains(t, txnRow.Summary, "ACK")

	require.NoError(t, v.Expand(1))
	require.EqualValues(t, 5, v.RowCount()) // group + transaction + 3 packets

	pktRow, err := v.RowAt(2)
	require.NoError(t, err)
	require.Equal(t, 2, pktRow.Depth)
	require.Equal(t, KindPacket, pktRow.Cursor.Kind)
}

func TestHierarchicalCollapsePreservesSubExpansion(t *testing.T) {
	st := buildTransferFixture(t)
	v := NewHierarchical(st)

	require.NoError(t, v.Expand(0))
	require.NoError(t, v.Expand(1))
	require.EqualValues(t, 5, v.RowCount())

	require.NoError(t, v.Collapse(0))
	require.EqualValues(t, 1, v.RowCount())

	// Re-expanding the group should immediately reveal the transaction's
	// packets too, since collapse only hid rows, it didn't discard the
	// transaction's own expanded state.
	require.NoError(t, v.Expand(0))
	require.EqualValues(t, 5, v.RowCount())
}

func TestOnCaptureGrownReportsMinimalDiff(t *testing.T) {
	st := store.New(0)
	v := NewPackets(st)
	require.EqualValues(t, 0, v.RowCount())

	_, err := st.RecordPacket(store.Packet{TimestampNs: 1, PID: store.PIDSOF})
	require.NoError(t, err)
	_, err = st.RecordPacket(store.Packet{TimestampNs: 2, PID: store.PIDSOF})
	require.NoError(t, err)

	point, count := v.RefreshPackets()
	require.EqualValues(t, 0, point)
	require.EqualValues(t, 2, count)
	require.EqualValues(t, 2, v.RowCount())

	_, err = st.RecordPacket(store.Packet{TimestampNs: 3, PID: store.PIDSOF})
	require.NoError(t, err)

	point, count = v.RefreshPackets()
	require.EqualValues(t, 2, point)
	require.EqualValues(t, 1, count)
	require.EqualValues(t, 3, v.RowCount())

	// No growth: diff is a no-op.
	point, count = v.RefreshPackets()
	require.EqualValues(t, 3, point)
	require.EqualValues(t, 0, count)
}

func TestFlatPacketsViewHasNoExpansion(t *testing.T) {
	st := store.New(0)
	_, err := st.RecordPacket(store.Packet{TimestampNs: 1, PID: store.PIDSOF})
	require.NoError(t, err)

	v := NewPackets(st)
	row, err := v.RowAt(0)
	require.NoError(t, err)
	require.False(t, row.Expandable)
	require.Equal(t, KindPacket, row.Cursor.Kind)
}

func TestRowAtOutOfRangeErrors(t *testing.T) {
	st := store.New(0)
	v := NewPackets(st)
	_, err := v.RowAt(0)
	require.Error(t, err)
}
