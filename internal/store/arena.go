package store

import (
	"sync"
	"sync/atomic"

	"github.com/packetry/packetry/internal/store/stream"
)

// Arena is a growable byte buffer paired with an IndexStream recording the
// end offset of each appended blob, so that blob i occupies
// [end(i-1), end(i)). It backs variable-length payloads (packet bytes,
// descriptor bytes) referenced by a companion fixed-width stream.
type Arena struct {
	mu  sync.Mutex
	buf atomic.Pointer[[]byte]
	idx *stream.IndexStream
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	a := &Arena{idx: stream.NewIndexStream()}
	empty := make([]byte, 0, 4096)
	a.buf.Store(&empty)
	return a
}

// Append stores a copy of b and returns its blob id.
func (a *Arena) Append(b []byte) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := *a.buf.Load()
	if len(buf)+len(b) > cap(buf) {
		grown := make([]byte, len(buf), (cap(buf)+len(b)+1)*2)
		copy(grown, buf)
		buf = grown
	}
	buf = append(buf, b...)
	a.buf.Store(&buf)
	return a.idx.Append(uint64(len(buf)))
}

// Get returns the blob stored under id.
func (a *Arena) Get(id uint64) ([]byte, error) {
	var start uint64
	if id > 0 {
		s, err := a.idx.Get(id - 1)
		if err != nil {
			return nil, err
		}
		start = s
	}
	end, err := a.idx.Get(id)
	if err != nil {
		return nil, err
	}
	buf := *a.buf.Load()
	return buf[start:end], nil
}

// Len returns the number of blobs appended.
func (a *Arena) Len() uint64 { return a.idx.Len() }
