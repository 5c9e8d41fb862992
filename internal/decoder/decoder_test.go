package decoder

import (
	"encoding/binary"
	"testing"

	"github.com/packetry/packetry/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildToken(pid store.PID, addr, ep uint8) []byte {
	data11 := uint16(addr&0x7F) | uint16(ep&0x0F)<<7
	crc := crc5USB(data11)
	field := data11 | uint16(crc)<<11
	raw := make([]byte, 3)
	raw[0] = byte(pid)
	binary.LittleEndian.PutUint16(raw[1:], field)
	return raw
}

func buildSOF(frame uint16) []byte {
	data11 := frame & 0x07FF
	crc := crc5USB(data11)
	field := data11 | uint16(crc)<<11
	raw := make([]byte, 3)
	raw[0] = byte(store.PIDSOF)
	binary.LittleEndian.PutUint16(raw[1:], field)
	return raw
}

func buildData(pid store.PID, payload []byte) []byte {
	raw := make([]byte, 1+len(payload)+2)
	raw[0] = byte(pid)
	copy(raw[1:], payload)
	crc := crc16USB(payload)
	binary.LittleEndian.PutUint16(raw[1+len(payload):], crc)
	return raw
}

func buildHandshake(pid store.PID) []byte {
	return []byte{byte(pid)}
}

func buildSetupPayload(bmRequestType, bRequest byte, value, index, length uint16) []byte {
	p := make([]byte, 8)
	p[0] = bmRequestType
	p[1] = bRequest
	binary.LittleEndian.PutUint16(p[2:4], value)
	binary.LittleEndian.PutUint16(p[4:6], index)
	binary.LittleEndian.PutUint16(p[6:8], length)
	return p
}

func TestBulkINTransactionCompletes(t *testing.T) {
	st := store.New(0)
	d := New(st, nil)

	require.NoError(t, d.Feed(0, buildToken(store.PIDIn, 3, 1)))
	require.NoError(t, d.Feed(1, buildData(store.PIDData0, []byte{1, 2, 3, 4})))
	require.NoError(t, d.Feed(2, buildHandshake(store.PIDAck)))

	require.EqualValues(t, 1, st.TransactionCount())
	txn, err := st.Transaction(0)
	require.NoError(t, err)
	assert.True(t, txn.Closed())
	assert.Equal(t, store.ResultACK, txn.Result())

	require.EqualValues(t, 1, st.TransferCount())
	xfer, err := st.Transfer(0)
	require.NoError(t, err)
	assert.Equal(t, store.TransferBulk, xfer.Kind)
	assert.Equal(t, 4, xfer.PayloadLength())
}

func TestControlTransferSetAddress(t *testing.T) {
	st := store.New(0)
	d := New(st, nil)

	// SETUP stage: SET_ADDRESS(5).
	require.NoError(t, d.Feed(0, buildToken(store.PIDSetup, 0, 0)))
	setup := buildSetupPayload(0x00, 0x05, 5, 0, 0)
	require.NoError(t, d.Feed(1, buildData(store.PIDData0, setup)))
	require.NoError(t, d.Feed(2, buildHandshake(store.PIDAck)))

	// Status stage: zero-length IN, ACKed.
	require.NoError(t, d.Feed(3, buildToken(store.PIDIn, 0, 0)))
	require.NoError(t, d.Feed(4, buildData(store.PIDData1, nil)))
	require.NoError(t, d.Feed(5, buildHandshake(store.PIDAck)))

	xfer, err := st.Transfer(0)
	require.NoError(t, err)
	assert.Equal(t, store.TransferControl, xfer.Kind)
	assert.True(t, xfer.Closed())
	assert.Equal(t, store.TransferComplete, xfer.Status())

	dev := st.Device(5)
	assert.EqualValues(t, 5, dev.Address)
}

func TestSetupWithNonzeroEndpointFoldsToEndpointZero(t *testing.T) {
	st := store.New(0)
	d := New(st, nil)

	// Malformed capture: SETUP token declares endpoint 3, but SETUP
	// always addresses the control endpoint.
	require.NoError(t, d.Feed(0, buildToken(store.PIDSetup, 9, 3)))
	setup := buildSetupPayload(0x00, 0x05, 9, 0, 0)
	require.NoError(t, d.Feed(1, buildData(store.PIDData0, setup)))
	require.NoError(t, d.Feed(2, buildHandshake(store.PIDAck)))

	ep0 := st.Endpoint(9, 0, store.DirectionOut)
	txn, err := st.Transaction(0)
	require.NoError(t, err)
	assert.Equal(t, ep0.ID, txn.EndpointID)

	ep3 := st.Endpoint(9, 3, store.DirectionOut)
	assert.False(t, ep3.HasXfer, "SETUP on a nonzero endpoint must not open state on that endpoint")
}

func TestDoubleSetupAbortsFirstTransfer(t *testing.T) {
	st := store.New(0)
	d := New(st, nil)

	require.NoError(t, d.Feed(0, buildToken(store.PIDSetup, 7, 0)))
	setup := buildSetupPayload(0x80, 0x06, 0x0100, 0, 18)
	require.NoError(t, d.Feed(1, buildData(store.PIDData0, setup)))
	require.NoError(t, d.Feed(2, buildHandshake(store.PIDAck)))

	// A second SETUP arrives before the first transfer's status stage.
	require.NoError(t, d.Feed(3, buildToken(store.PIDSetup, 7, 0)))
	setup2 := buildSetupPayload(0x00, 0x09, 1, 0, 0)
	require.NoError(t, d.Feed(4, buildData(store.PIDData0, setup2)))
	require.NoError(t, d.Feed(5, buildHandshake(store.PIDAck)))

	first, err := st.Transfer(0)
	require.NoError(t, err)
	assert.True(t, first.Closed())
	assert.Equal(t, store.TransferAborted, first.Status())

	second, err := st.Transfer(1)
	require.NoError(t, err)
	assert.False(t, second.Closed())
}

func TestNAKRunCoalescesIntoPollingGroup(t *testing.T) {
	st := store.New(0)
	d := New(st, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Feed(int64(i*2), buildToken(store.PIDIn, 2, 3)))
		require.NoError(t, d.Feed(int64(i*2+1), buildHandshake(store.PIDNak)))
	}
	// A successful transaction ends the run.
	require.NoError(t, d.Feed(10, buildToken(store.PIDIn, 2, 3)))
	require.NoError(t, d.Feed(11, buildData(store.PIDData0, []byte{9})))
	require.NoError(t, d.Feed(12, buildHandshake(store.PIDAck)))

	require.EqualValues(t, 2, st.GroupCount()) // one polling group, one transfer group
	g, err := st.Group(0)
	require.NoError(t, err)
	assert.Equal(t, store.GroupPolling, g.Kind)
	assert.Equal(t, 3, g.PollCount())
	assert.True(t, g.Closed())
}

func TestPingToleratedWithoutDataStage(t *testing.T) {
	st := store.New(0)
	d := New(st, nil)

	require.NoError(t, d.Feed(0, buildToken(store.PIDPing, 4, 2)))
	require.NoError(t, d.Feed(1, buildHandshake(store.PIDAck)))

	txn, err := st.Transaction(0)
	require.NoError(t, err)
	assert.True(t, txn.Closed())
	assert.Equal(t, store.ResultACK, txn.Result())
}

func TestConsecutiveSOFsCoalesce(t *testing.T) {
	st := store.New(0)
	d := New(st, nil)

	require.NoError(t, d.Feed(0, buildSOF(100)))
	require.NoError(t, d.Feed(1, buildSOF(101)))
	require.NoError(t, d.Feed(2, buildSOF(102)))
	require.NoError(t, d.Feed(3, buildToken(store.PIDIn, 1, 1)))

	require.EqualValues(t, 1, st.GroupCount())
	g, err := st.Group(0)
	require.NoError(t, err)
	assert.Equal(t, store.GroupSOF, g.Kind)
	assert.EqualValues(t, 100, g.FirstFrame())
	assert.EqualValues(t, 102, g.LastFrame())
	assert.True(t, g.Closed())
}

func TestTokenWithNoHandshakeClosesIncomplete(t *testing.T) {
	st := store.New(0)
	d := New(st, nil)

	require.NoError(t, d.Feed(0, buildToken(store.PIDOut, 1, 1)))
	require.NoError(t, d.Feed(1, buildData(store.PIDData0, []byte{1})))
	// No handshake: the next token closes the first transaction incomplete.
	require.NoError(t, d.Feed(2, buildToken(store.PIDOut, 1, 1)))

	txn, err := st.Transaction(0)
	require.NoError(t, err)
	assert.True(t, txn.Closed())
	assert.Equal(t, store.ResultIncomplete, txn.Result())
}

func TestInvalidPIDRecordedNotFatal(t *testing.T) {
	st := store.New(0)
	d := New(st, nil)

	require.NoError(t, d.Feed(0, []byte{0xFF}))
	require.NoError(t, d.Feed(1, buildToken(store.PIDIn, 1, 1)))
	require.NoError(t, d.Feed(2, buildHandshake(store.PIDAck)))

	require.Len(t, d.Errors(), 1)
	require.EqualValues(t, 2, st.GroupCount()) // one invalid-run group, one transfer group
}
