package stream

import "sync/atomic"

// checkpointEvery is K a full offset is stored every K
// entries so that decoding any single offset costs at most O(K) byte-reads.
const checkpointEvery = 64

// IndexStream stores a monotonically non-decreasing sequence of byte
// offsets, used to locate variable-length blobs (e.g. packet payloads) in
// a companion arena. Entries are delta-encoded against the previous entry,
// with a full absolute offset recorded every checkpointEvery entries so a
// lookup never has to walk back further than that.
type IndexStream struct {
	deltas      *Stream[uint64] // offset - previous offset, except at checkpoints
	checkpoints *Stream[uint64] // absolute offset, one per checkpointEvery entries
	last        atomic.Uint64
}

// NewIndexStream creates an empty index stream.
func NewIndexStream() *IndexStream {
	return &IndexStream{
		deltas:      New[uint64](1024),
		checkpoints: New[uint64](64),
	}
}

// Append records the next offset, which must be >= the previous one.
func (ix *IndexStream) Append(offset uint64) uint64 {
	n := ix.deltas.Len()
	if n%checkpointEvery == 0 {
		ix.checkpoints.Append(offset)
		ix.deltas.Append(0)
	} else {
		ix.deltas.Append(offset - ix.last.Load())
	}
	ix.last.Store(offset)
	return n
}

// Len returns the number of appended offsets.
func (ix *IndexStream) Len() uint64 { return ix.deltas.Len() }

// Get reconstructs the absolute offset at index by walking forward from the
// nearest preceding checkpoint, costing at most O(checkpointEvery) reads.
func (ix *IndexStream) Get(index uint64) (uint64, error) {
	if index >= ix.deltas.Len() {
		return 0, ErrNotPresent
	}
	checkpointIdx := index / checkpointEvery
	offset, err := ix.checkpoints.Get(checkpointIdx)
	if err != nil {
		return 0, err
	}
	start := checkpointIdx * checkpointEvery
	for i := start + 1; i <= index; i++ {
		d, err := ix.deltas.Get(i)
		if err != nil {
			return 0, err
		}
		offset += d
	}
	return offset, nil
}

// Range returns [lo, hi) as a companion byte range: the offset at lo and
// the offset at hi (or the stream's logical end if hi is out of bounds),
// suitable for slicing the arena this index addresses.
func (ix *IndexStream) Range(lo, hi uint64) (startOffset, endOffset uint64, err error) {
	startOffset, err = ix.Get(lo)
	if err != nil {
		return 0, 0, err
	}
	if hi >= ix.deltas.Len() {
		endOffset = ix.last.Load()
		return startOffset, endOffset, nil
	}
	endOffset, err = ix.Get(hi)
	if err != nil {
		return 0, 0, err
	}
	return startOffset, endOffset, nil
}
