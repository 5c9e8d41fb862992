package view

import (
	"github.com/packetry/packetry/internal/cache"
	"github.com/packetry/packetry/internal/store"
)

// NewTransactions builds the flat chronological transaction view: one row
// per transaction in recording order, each expandable to reveal its
// member packets.
func NewTransactions(st *store.Store) *View {
	v := &View{st: st, summaryCache: cache.New[summaryResult](rowSummaryCacheBudget)}
	v.materializeChildren = transactionChildren
	v.summarize = hierarchicalSummary
	v.growToTxn(st.TransactionCount())
	return v
}

func (v *View) growToTxn(end uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := v.snapshotLen; i < end; i++ {
		v.appendRoot(newLeaf(KindTransaction, i))
	}
	v.snapshotLen = end
}

// RefreshTransactions grows the view to the store's current transaction
// count and reports the minimal insertion diff.
func (v *View) RefreshTransactions() (insertionPoint, insertionCount uint64) {
	newEnd := v.st.TransactionCount()
	return v.OnCaptureGrown(newEnd, func(from, to uint64) []*node {
		added := make([]*node, 0, to-from)
		for i := from; i < to; i++ {
			added = append(added, newLeaf(KindTransaction, i))
		}
		return added
	})
}

func transactionChildren(st *store.Store, n *node) []*node {
	if n.kind != KindTransaction {
		return nil
	}
	return hierarchicalChildren(st, n)
}
