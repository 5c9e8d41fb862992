package view

import (
	"fmt"

	"github.com/packetry/packetry/internal/cache"
	"github.com/packetry/packetry/internal/store"
)

const rowSummaryCacheBudget = 1 << 20 // bytes of rendered summary text retained per view

// NewHierarchical builds the top-level grouped view: one root row per
// Group (SOF run, transfer, polling run, or invalid run), expanding a
// transfer group to its member transactions and a transaction to its
// member packets.
func NewHierarchical(st *store.Store) *View {
	v := &View{st: st, summaryCache: cache.New[summaryResult](rowSummaryCacheBudget)}
	v.materializeChildren = hierarchicalChildren
	v.summarize = hierarchicalSummary
	v.growToGroup(st.GroupCount())
	return v
}

func (v *View) growToGroup(end uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := v.snapshotLen; i < end; i++ {
		v.appendRoot(newLeaf(KindGroup, i))
	}
	v.snapshotLen = end
}

// Refresh grows the view to the store's current group count and reports
// the minimal (insertionPoint, insertionCount) diff for the UI to patch.
func (v *View) Refresh() (insertionPoint, insertionCount uint64) {
	newEnd := v.st.GroupCount()
	return v.OnCaptureGrown(newEnd, func(from, to uint64) []*node {
		added := make([]*node, 0, to-from)
		for i := from; i < to; i++ {
			added = append(added, newLeaf(KindGroup, i))
		}
		return added
	})
}

func hierarchicalChildren(st *store.Store, n *node) []*node {
	switch n.kind {
	case KindGroup:
		g, err := st.Group(n.id)
		if err != nil || g.Kind != store.GroupTransfer {
			return nil
		}
		xfer, err := st.Transfer(g.TransferID())
		if err != nil {
			return nil
		}
		txnIDs := xfer.TxnIDs()
		children := make([]*node, 0, len(txnIDs))
		for _, txnID := range txnIDs {
			children = append(children, newLeaf(KindTransaction, txnID))
		}
		return children
	case KindTransaction:
		t, err := st.Transaction(n.id)
		if err != nil {
			return nil
		}
		lastPacket := t.LastPacket()
		children := make([]*node, 0, lastPacket-t.FirstPacket+1)
		for i := t.FirstPacket; i <= lastPacket; i++ {
			children = append(children, newLeaf(KindPacket, i))
		}
		return children
	default:
		return nil
	}
}

func hierarchicalSummary(st *store.Store, c Cursor) (string, int64, error) {
	switch c.Kind {
	case KindGroup:
		return summarizeGroup(st, c.ID)
	case KindTransaction:
		return summarizeTransaction(st, c.ID)
	case KindPacket:
		return summarizePacket(st, c.ID)
	default:
		return "", 0, fmt.Errorf("view: unknown cursor kind %d", c.Kind)
	}
}

func summarizeGroup(st *store.Store, id uint64) (string, int64, error) {
	g, err := st.Group(id)
	if err != nil {
		return "", 0, err
	}
	switch g.Kind {
	case store.GroupSOF:
		return fmt.Sprintf("SOF frames %d-%d", g.FirstFrame(), g.LastFrame()), g.StartTime, nil
	case store.GroupTransfer:
		xfer, err := st.Transfer(g.TransferID())
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("%s transfer on ep%d (%s), %d bytes, %s",
			transferKindString(xfer.Kind), xfer.EndpointID, xfer.Direction, xfer.PayloadLength(), transferStatusString(xfer.Status())), g.StartTime, nil
	case store.GroupPolling:
		return fmt.Sprintf("%d x %s on ep%d", g.PollCount(), resultString(g.PollResult()), g.PollEndpointID()), g.StartTime, nil
	case store.GroupInvalid:
		return "invalid packet run", g.StartTime, nil
	default:
		return "group", g.StartTime, nil
	}
}

func summarizeTransaction(st *store.Store, id uint64) (string, int64, error) {
	t, err := st.Transaction(id)
	if err != nil {
		return "", 0, err
	}
	ts, _ := firstPacketTimestamp(st, t.FirstPacket)
	summary := fmt.Sprintf("transaction ep%d %s: %s", t.EndpointID, t.Direction, resultString(t.Result()))
	if t.Split.IsSplit {
		kind := "CSPLIT"
		if t.Split.StartSplit {
			kind = "SSPLIT"
		}
		summary = fmt.Sprintf("%s (%s via hub %d port %d)", summary, kind, t.Split.HubAddr, t.Split.PortNum)
	}
	return summary, ts, nil
}

func summarizePacket(st *store.Store, id uint64) (string, int64, error) {
	p, err := st.Packet(id)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%s (%d bytes)", pidString(p.PID), len(p.Payload)), p.TimestampNs, nil
}

func firstPacketTimestamp(st *store.Store, packetID uint64) (int64, error) {
	p, err := st.Packet(packetID)
	if err != nil {
		return 0, err
	}
	return p.TimestampNs, nil
}

func transferKindString(k store.TransferKind) string {
	switch k {
	case store.TransferControl:
		return "control"
	case store.TransferBulk:
		return "bulk"
	case store.TransferInterrupt:
		return "interrupt"
	case store.TransferIsochronous:
		return "isochronous"
	default:
		return "transfer"
	}
}

func transferStatusString(s store.TransferStatus) string {
	switch s {
	case store.TransferInProgress:
		return "in progress"
	case store.TransferComplete:
		return "complete"
	case store.TransferAborted:
		return "aborted"
	case store.TransferTruncated:
		return "truncated"
	case store.TransferStalled:
		return "stalled"
	default:
		return "unknown"
	}
}

func resultString(r store.TransactionResult) string {
	switch r {
	case store.ResultACK:
		return "ACK"
	case store.ResultNAK:
		return "NAK"
	case store.ResultSTALL:
		return "STALL"
	case store.ResultNYET:
		return "NYET"
	case store.ResultTimeout:
		return "timeout"
	case store.ResultMalformed:
		return "malformed"
	case store.ResultIncomplete:
		return "incomplete"
	default:
		return "pending"
	}
}

func pidString(p store.PID) string {
	switch p {
	case store.PIDOut:
		return "OUT"
	case store.PIDIn:
		return "IN"
	case store.PIDSOF:
		return "SOF"
	case store.PIDSetup:
		return "SETUP"
	case store.PIDData0:
		return "DATA0"
	case store.PIDData1:
		return "DATA1"
	case store.PIDData2:
		return "DATA2"
	case store.PIDMData:
		return "MDATA"
	case store.PIDAck:
		return "ACK"
	case store.PIDNak:
		return "NAK"
	case store.PIDStall:
		return "STALL"
	case store.PIDNyet:
		return "NYET"
	case store.PIDPing:
		return "PING"
	case store.PIDSSplit:
		return "SSPLIT"
	case store.PIDCSplit:
		return "CSPLIT"
	case store.PIDPre_Err:
		return "PRE/ERR"
	default:
		return fmt.Sprintf("PID(%#x)", uint8(p))
	}
}
