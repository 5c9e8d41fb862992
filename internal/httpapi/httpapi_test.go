package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packetry/packetry/internal/store"
	"github.com/packetry/packetry/internal/view"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(0)
	ep := st.Endpoint(1, 1, store.DirectionIn)
	pid, err := st.RecordPacket(store.Packet{PID: store.PIDIn, DeviceAddr: 1, EndpointNum: 1})
	require.NoError(t, err)
	txn := st.OpenTransaction(ep.ID, store.DirectionIn, pid)
	require.NoError(t, st.ExtendTransaction(txn, pid, nil))
	require.NoError(t, st.CloseTransaction(txn, store.ResultACK))
	return st
}

func TestHandleRowsServesAPage(t *testing.T) {
	st := newTestStore(t)
	srv := NewServer(map[string]*view.View{"packets": view.NewPackets(st)})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/views/packets/rows?start=0&count=10", nil)
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var page rowsPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.EqualValues(t, 1, page.Total)
	require.Len(t, page.Rows, 1)
}

func TestHandleRowsUnknownViewReturns404(t *testing.T) {
	srv := NewServer(map[string]*view.View{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/views/nope/rows", nil)
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleExpandAndCollapse(t *testing.T) {
	st := store.New(0)
	ep := st.Endpoint(1, 2, store.DirectionIn)
	tok, err := st.RecordPacket(store.Packet{PID: store.PIDIn, DeviceAddr: 1, EndpointNum: 2})
	require.NoError(t, err)
	txn := st.OpenTransaction(ep.ID, store.DirectionIn, tok)
	require.NoError(t, st.ExtendTransaction(txn, tok, nil))
	require.NoError(t, st.CloseTransaction(txn, store.ResultACK))

	xfer := st.OpenTransfer(ep.ID, store.TransferBulk, store.DirectionIn, txn)
	require.NoError(t, st.ExtendTransfer(xfer, txn, 0))
	require.NoError(t, st.CloseTransfer(xfer, store.TransferComplete))

	grp := st.OpenGroup(store.GroupTransfer, 0)
	g, err := st.Group(grp)
	require.NoError(t, err)
	g.SetTransferID(xfer)
	require.NoError(t, st.CloseGroup(grp, 1))

	hv := view.NewHierarchical(st)

	srv := NewServer(map[string]*view.View{"hierarchical": hv})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/views/hierarchical/expand/0", nil)
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/views/hierarchical/collapse/0", nil)
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandleExpandInvalidIndexReturns400(t *testing.T) {
	st := newTestStore(t)
	srv := NewServer(map[string]*view.View{"packets": view.NewPackets(st)})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/views/packets/expand/abc", nil)
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
