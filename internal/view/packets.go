package view

import (
	"github.com/packetry/packetry/internal/cache"
	"github.com/packetry/packetry/internal/store"
)

// NewPackets builds the flat, ungrouped packet view: one row per recorded
// packet, in recording order, with no grouping and no expansion.
func NewPackets(st *store.Store) *View {
	v := &View{st: st, summaryCache: cache.New[summaryResult](rowSummaryCacheBudget)}
	v.summarize = hierarchicalSummary
	v.growToPacket(st.PacketCount())
	return v
}

func (v *View) growToPacket(end uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := v.snapshotLen; i < end; i++ {
		v.appendRoot(newLeaf(KindPacket, i))
	}
	v.snapshotLen = end
}

// RefreshPackets grows the view to the store's current packet count and
// reports the minimal insertion diff.
func (v *View) RefreshPackets() (insertionPoint, insertionCount uint64) {
	newEnd := v.st.PacketCount()
	return v.OnCaptureGrown(newEnd, func(from, to uint64) []*node {
		added := make([]*node, 0, to-from)
		for i := from; i < to; i++ {
			added = append(added, newLeaf(KindPacket, i))
		}
		return added
	})
}
