// Package view implements the capture store's row-oriented view models:
// the hierarchical, transactions, and packets projections the UI renders.
// Each view maintains a lazily-expanded tree of row spans, combining two
// patterns generalized to this domain: a lazy-create-on-demand child map
// with an optimistic read-then-upgrade lock, and a Fenwick (binary
// indexed) tree over sibling spans — generalized here from this
// codebase's prefix-sum counters elsewhere to answer "which sibling
// holds row offset N" in O(log N) instead of walking siblings one by
// one, which is what a multi-million-row capture with deep expansion
// needs.
package view

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/packetry/packetry/internal/cache"
	"github.com/packetry/packetry/internal/store"
)

// Kind identifies what a row's cursor points at.
type Kind int

const (
	KindGroup Kind = iota
	KindTransaction
	KindPacket
)

// Cursor stably references the store entity a row represents.
type Cursor struct {
	Kind Kind
	ID   uint64
}

// Row is what the UI renders for one visible line.
type Row struct {
	Depth       int
	Summary     string
	TimestampNs int64
	Expandable  bool
	Expanded    bool
	ChildCount  int
	Cursor      Cursor
}

// spanIndex is a Fenwick tree over a growing sequence of non-negative
// span values. It answers two questions in O(log N): "what is the sum
// of every span" and "which element holds cumulative offset X, and
// what's left over within it" — the two operations a row-span tree
// needs at every level instead of a running linear scan over siblings.
type spanIndex struct {
	tree []int // 1-based; tree[0] is unused
}

func (s *spanIndex) len() int {
	if len(s.tree) == 0 {
		return 0
	}
	return len(s.tree) - 1
}

// append adds one more element with the given initial span.
func (s *spanIndex) append(span int) {
	if len(s.tree) == 0 {
		s.tree = []int{0} // tree[0] is the unused Fenwick sentinel
	}
	i := len(s.tree) // 1-based index of the new element
	s.tree = append(s.tree, 0)
	s.add(i, span)
}

// add adds delta to the span of the 1-based element at i.
func (s *spanIndex) add(i int, delta int) {
	if delta == 0 {
		return
	}
	for ; i < len(s.tree); i += i & (-i) {
		s.tree[i] += delta
	}
}

// total returns the sum of every element's span.
func (s *spanIndex) total() int {
	sum := 0
	for i := s.len(); i > 0; i -= i & (-i) {
		sum += s.tree[i]
	}
	return sum
}

// find locates the 0-based element whose span covers cumulative offset
// (0-based across the whole sequence), returning that element's index
// and the offset remaining within it. ok is false if offset is beyond
// the sequence's total span.
func (s *spanIndex) find(offset int) (index int, rem int, ok bool) {
	n := s.len()
	if n == 0 {
		return 0, 0, false
	}
	pos := 0
	remaining := offset
	highBit := 1
	for highBit<<1 <= n {
		highBit <<= 1
	}
	for bit := highBit; bit > 0; bit >>= 1 {
		next := pos + bit
		if next <= n && s.tree[next] <= remaining {
			pos = next
			remaining -= s.tree[next]
		}
	}
	if pos >= n {
		return 0, 0, false
	}
	return pos, remaining, true
}

// node is one entry in the row-span tree: either a collapsed leaf (span
// == 1, no materialized children) or an expanded node whose span is 1
// (itself) plus the sum of its children's spans. Children are
// materialized lazily, the first time a node is expanded — mirroring the
// capture store's lazy per-scope node creation. A node's own span is
// never cached: it is always 1 plus childSpans.total(), so it stays
// correct no matter how deep the expansion below it changes after this
// node was last inserted into a parent's index.
type node struct {
	mu sync.RWMutex

	kind       Kind
	id         uint64
	expanded   bool
	children   []*node // nil until first expand
	childSpans spanIndex
}

func newLeaf(kind Kind, id uint64) *node {
	return &node{kind: kind, id: id}
}

func (n *node) rowSpan() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.expanded {
		return 1
	}
	return 1 + n.childSpans.total()
}

// View is a navigable row projection over a Store. One of the three kinds
// (hierarchical, transactions, packets), selected by the materialize
// function supplied at construction.
type View struct {
	st *store.Store

	mu        sync.Mutex // guards roots, rootSpans, and the length snapshot below
	roots     []*node
	rootSpans spanIndex

	materializeChildren func(st *store.Store, n *node) []*node
	summarize           func(st *store.Store, c Cursor) (string, int64, error)

	// snapshotLen is the number of top-level entities already added as
	// roots, set at construction and advanced only by OnCaptureGrown,
	// which compares against it to compute the minimal insertion diff.
	snapshotLen uint64

	summaryCache *cache.Cache[summaryResult]
}

type summaryResult struct {
	text string
	ts   int64
	err  error
}

// summaryCacheTTL bounds how long a rendered row summary is trusted before
// being recomputed. Short enough that an in-progress transfer's summary
// (still mutating) goes stale quickly, long enough that a scrollbar drag
// re-rendering the same rows doesn't re-walk the store every frame.
const summaryCacheTTL = 250 * time.Millisecond

func (v *View) cachedSummarize(c Cursor) (string, int64, error) {
	if v.summaryCache == nil {
		return v.summarize(v.st, c)
	}
	key := strconv.Itoa(int(c.Kind)) + ":" + strconv.FormatUint(c.ID, 10)
	r := v.summaryCache.Get(key, func() (summaryResult, time.Duration, int) {
		text, ts, err := v.summarize(v.st, c)
		return summaryResult{text: text, ts: ts, err: err}, summaryCacheTTL, len(text)
	})
	return r.text, r.ts, r.err
}

// appendRoot adds a freshly-created root node, keeping rootSpans in
// step. Callers must hold v.mu.
func (v *View) appendRoot(n *node) {
	v.roots = append(v.roots, n)
	v.rootSpans.append(n.rowSpan())
}

// RowCount returns the total number of currently-visible rows.
func (v *View) RowCount() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return uint64(v.rootSpans.total())
}

var errOutOfRange = fmt.Errorf("row index out of range")

// pathStep is one level crossed while locating a row: the sibling-span
// index it was found in, and its 0-based position within that index.
// Recorded root-to-leaf so Expand/Collapse can propagate a span delta
// back up every ancestor's index in O(log N) per level.
type pathStep struct {
	spans    *spanIndex
	position int
}

// locate finds the node occupying visible row index, along with the
// chain of (sibling index, position) pairs from the root down to it.
func (v *View) locate(index uint64) (*node, []pathStep, error) {
	v.mu.Lock()
	roots := v.roots
	rootSpans := &v.rootSpans
	v.mu.Unlock()

	pos, rem, ok := rootSpans.find(int(index))
	if !ok || pos >= len(roots) {
		return nil, nil, errOutOfRange
	}
	path := []pathStep{{spans: rootSpans, position: pos}}
	n := roots[pos]
	offset := rem

	for offset > 0 {
		offset--
		n.mu.RLock()
		children := n.children
		childSpans := &n.childSpans
		n.mu.RUnlock()

		cpos, crem, ok := childSpans.find(offset)
		if !ok || cpos >= len(children) {
			return nil, nil, errOutOfRange
		}
		path = append(path, pathStep{spans: childSpans, position: cpos})
		n = children[cpos]
		offset = crem
	}
	return n, path, nil
}

// RowAt renders the row at the given visible index.
func (v *View) RowAt(index uint64) (Row, error) {
	n, path, err := v.locate(index)
	if err != nil {
		return Row{}, err
	}
	n.mu.RLock()
	kind, id, expanded, childCount := n.kind, n.id, n.expanded, len(n.children)
	n.mu.RUnlock()

	summary, ts, err := v.cachedSummarize(Cursor{Kind: kind, ID: id})
	if err != nil {
		return Row{}, err
	}
	return Row{
		Depth:       len(path) - 1,
		Summary:     summary,
		TimestampNs: ts,
		Expandable:  v.materializeChildren != nil && kind != KindPacket,
		Expanded:    expanded,
		ChildCount:  childCount,
		Cursor:      Cursor{Kind: kind, ID: id},
	}, nil
}

// Expand materializes and reveals index's children, if any.
func (v *View) Expand(index uint64) error {
	n, path, err := v.locate(index)
	if err != nil {
		return err
	}
	n.mu.Lock()
	if n.expanded {
		n.mu.Unlock()
		return nil
	}
	if n.children == nil && v.materializeChildren != nil {
		n.children = v.materializeChildren(v.st, n)
		n.childSpans = spanIndex{}
		for _, c := range n.children {
			n.childSpans.append(c.rowSpan())
		}
	}
	added := n.childSpans.total()
	n.expanded = true
	n.mu.Unlock()

	propagate(path, added)
	return nil
}

// Collapse hides index's children without discarding their own expansion
// state, so a later Expand of the same row is free.
func (v *View) Collapse(index uint64) error {
	n, path, err := v.locate(index)
	if err != nil {
		return err
	}
	n.mu.Lock()
	if !n.expanded {
		n.mu.Unlock()
		return nil
	}
	removed := n.childSpans.total()
	n.expanded = false
	n.mu.Unlock()

	propagate(path, -removed)
	return nil
}

// propagate applies delta to every ancestor index recorded in path, so
// a span change at a node is reflected by its parent, grandparent, and
// so on up to the root, each in O(log N).
func propagate(path []pathStep, delta int) {
	if delta == 0 {
		return
	}
	for _, step := range path {
		step.spans.add(step.position+1, delta)
	}
}

// OnCaptureGrown appends newly-available top-level entities (up to
// newEnd) as fresh root nodes and returns the minimal
// (insertionPoint, insertionCount) diff the UI needs to patch its visible
// rows without re-reading the whole tree. newRoots supplies
// one leaf node per new top-level entity in [oldEnd, newEnd).
func (v *View) OnCaptureGrown(newEnd uint64, newRoots func(from, to uint64) []*node) (insertionPoint, insertionCount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	oldEnd := v.snapshotLen
	if newEnd <= oldEnd {
		return uint64(v.rootSpans.total()), 0
	}
	insertionPoint = uint64(v.rootSpans.total())
	added := newRoots(oldEnd, newEnd)
	for _, n := range added {
		v.appendRoot(n)
		insertionCount += uint64(n.rowSpan())
	}
	v.snapshotLen = newEnd
	return insertionPoint, insertionCount
}
