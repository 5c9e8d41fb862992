// Package capturesource implements the pull-based CaptureEvent contract
// that feeds the decoder: a cancellable sequence of packets, speed
// changes, VBUS events, and a terminal End event. Concrete backends
// connect and disconnect with the same explicit lifecycle a message-
// broker client would use, inverted from push-callback delivery to a
// blocking pull, because the decoder thread (not the source) drives
// pacing.
package capturesource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/packetry/packetry/internal/captureerr"
	"github.com/packetry/packetry/internal/pcapfile"
	"github.com/packetry/packetry/pkg/log"
)

// Speed identifies the USB bus speed in effect after a SpeedChange event.
type Speed int

const (
	SpeedUnknown Speed = iota
	SpeedLow
	SpeedFull
	SpeedHigh
)

// EndReason explains why a capture source stopped yielding events.
type EndReason int

const (
	// EndNormal means the source ran out of events on its own (end of
	// file, or a device backend reporting a clean stop).
	EndNormal EndReason = iota
	// EndCancelled means Cancel was called and this is the first Next
	// to observe it.
	EndCancelled
	// EndSourceFailure means the underlying transport broke unexpectedly.
	EndSourceFailure
)

// EventKind discriminates the CaptureEvent variants.
type EventKind int

const (
	EventPacket EventKind = iota
	EventSpeedChange
	EventVbus
	EventEnd
)

// Non-packet event codes carried in a pcapng custom block's EventCode
// field, shared between file sources (encoding) and live sources
// (whatever representation a device backend chooses to reuse them for).
const (
	EventCodeSpeedChange uint32 = 1
	EventCodeVbus        uint32 = 2
)

// CaptureEvent is one item pulled from a CaptureSource.
type CaptureEvent struct {
	Kind EventKind

	// EventPacket
	TimestampNs int64
	Payload     []byte

	// EventSpeedChange
	Speed Speed

	// EventVbus
	VbusPresent bool

	// EventEnd
	Reason EndReason
}

// CaptureSource yields a capture's events one pull at a time. Next
// blocks cooperatively until an event is available, ctx is cancelled,
// or Cancel has been called, and returns a non-nil error only when reading
// the underlying capture fails (for the file sources, a *captureerr.Error
// of kind IoError, Truncated or Malformed); end-of-stream
// and cancellation are both reported as an EventEnd, not an error.
type CaptureSource interface {
	Next(ctx context.Context) (CaptureEvent, error)
	Cancel()
}

// fileSource adapts a pcap or pcapng reader, whichever next-function is
// supplied, to the CaptureSource contract.
type fileSource struct {
	next      func() (CaptureEvent, error)
	cancelled atomic.Bool
	endSent   atomic.Bool
}

// NewPcapSource wraps a classic pcap reader as a CaptureSource. pcap
// carries no non-packet events, so every yielded event is EventPacket
// until the file ends.
func NewPcapSource(r *pcapfile.PcapReader) CaptureSource {
	fs := &fileSource{}
	fs.next = func() (CaptureEvent, error) {
		ts, payload, err := r.ReadPacket()
		if err != nil {
			return fs.terminal(err)
		}
		return CaptureEvent{Kind: EventPacket, TimestampNs: ts, Payload: payload}, nil
	}
	return fs
}

// NewPcapngSource wraps a pcapng reader as a CaptureSource, translating
// interface description blocks to the corresponding packet source's
// link type (silently skipped here, the decoder only cares about
// packets and events) and this tool's own custom event blocks to
// SpeedChange/Vbus events.
func NewPcapngSource(r *pcapfile.NGReader) CaptureSource {
	fs := &fileSource{}
	fs.next = func() (CaptureEvent, error) {
		for {
			blk, err := r.Next()
			if err != nil {
				return fs.terminal(err)
			}
			switch blk.Kind {
			case pcapfile.NGPacket:
				return CaptureEvent{Kind: EventPacket, TimestampNs: blk.TimestampNs, Payload: blk.Payload}, nil
			case pcapfile.NGInterface:
				continue
			case pcapfile.NGEvent:
				switch blk.EventCode {
				case EventCodeSpeedChange:
					speed := SpeedUnknown
					if len(blk.EventPayload) >= 1 {
						speed = Speed(blk.EventPayload[0])
					}
					return CaptureEvent{Kind: EventSpeedChange, TimestampNs: blk.TimestampNs, Speed: speed}, nil
				case EventCodeVbus:
					present := len(blk.EventPayload) >= 1 && blk.EventPayload[0] != 0
					return CaptureEvent{Kind: EventVbus, TimestampNs: blk.TimestampNs, VbusPresent: present}, nil
				default:
					continue // an event code this build doesn't know; skip it
				}
			default:
				continue
			}
		}
	}
	return fs
}

func (fs *fileSource) terminal(err error) (CaptureEvent, error) {
	var cerr *captureerr.Error
	if errors.As(err, &cerr) {
		log.Errorf("capturesource: %s", cerr)
		return CaptureEvent{}, cerr
	}
	// Clean end of file (io.EOF, unwrapped per the pcapfile reader contract).
	return CaptureEvent{Kind: EventEnd, Reason: EndNormal}, nil
}

// Next returns the next event. Once Cancel has been called, the first
// subsequent Next returns EventEnd{EndCancelled} without touching the
// underlying reader again.
func (fs *fileSource) Next(ctx context.Context) (CaptureEvent, error) {
	if fs.cancelled.Load() {
		if fs.endSent.CompareAndSwap(false, true) {
			return CaptureEvent{Kind: EventEnd, Reason: EndCancelled}, nil
		}
		return CaptureEvent{Kind: EventEnd, Reason: EndNormal}, nil
	}
	select {
	case <-ctx.Done():
		return CaptureEvent{Kind: EventEnd, Reason: EndCancelled}, nil
	default:
	}
	ev, err := fs.next()
	if ev.Kind == EventEnd {
		fs.endSent.Store(true)
	}
	return ev, err
}

// Cancel arranges for the next Next call to return EventEnd{EndCancelled}.
// Safe to call more than once or concurrently with Next.
func (fs *fileSource) Cancel() {
	if fs.cancelled.CompareAndSwap(false, true) {
		log.Debug("capturesource: file source cancelled")
	}
}

// rateLimited wraps a CaptureSource and throttles EventPacket delivery,
// so a file source replayed faster than real time (or a device backend
// producing a burst) can't outrun the decoder's bounded queue. Non-packet
// events pass through unthrottled since they're rare and latency-sensitive
// (the UI reflects a speed/VBUS change immediately).
type rateLimited struct {
	inner CaptureSource
	lim   *rate.Limiter
}

// NewRateLimited wraps src so packet events are released at most at the
// given rate, with burst allowed up to burst packets before throttling
// kicks in.
func NewRateLimited(src CaptureSource, eventsPerSecond float64, burst int) CaptureSource {
	return &rateLimited{inner: src, lim: rate.NewLimiter(rate.Limit(eventsPerSecond), burst)}
}

func (rl *rateLimited) Next(ctx context.Context) (CaptureEvent, error) {
	ev, err := rl.inner.Next(ctx)
	if err != nil || ev.Kind != EventPacket {
		return ev, err
	}
	if err := rl.lim.Wait(ctx); err != nil {
		return CaptureEvent{Kind: EventEnd, Reason: EndCancelled}, nil
	}
	return ev, nil
}

func (rl *rateLimited) Cancel() {
	rl.inner.Cancel()
}

// Loopback is an in-memory CaptureSource for tests and for feeding
// synthetic events (e.g. from a UI-driven "replay" action) without a
// backing file. Push appends an event; Next drains them in order and
// blocks until one is pushed, the source is closed, or ctx is done.
type Loopback struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []CaptureEvent
	cancelled bool
	closed    bool
}

// NewLoopback returns an empty, open Loopback source.
func NewLoopback() *Loopback {
	lb := &Loopback{}
	lb.cond = sync.NewCond(&lb.mu)
	return lb
}

// Push enqueues an event for a future Next to return. Pushing after
// Close or Cancel is a no-op.
func (lb *Loopback) Push(ev CaptureEvent) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.closed || lb.cancelled {
		return
	}
	lb.queue = append(lb.queue, ev)
	lb.cond.Broadcast()
}

// Close marks the source exhausted: once the queue drains, Next starts
// returning EventEnd{EndNormal}.
func (lb *Loopback) Close() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.closed = true
	lb.cond.Broadcast()
}

// Cancel immediately discards any queued events; the next Next returns
// EventEnd{EndCancelled}.
func (lb *Loopback) Cancel() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if !lb.cancelled && len(lb.queue) > 0 {
		log.Debugf("capturesource: loopback cancelled with %d events still queued", len(lb.queue))
	}
	lb.cancelled = true
	lb.queue = nil
	lb.cond.Broadcast()
}

// Next blocks until an event is queued, the source is closed or
// cancelled, or ctx is done.
func (lb *Loopback) Next(ctx context.Context) (CaptureEvent, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			lb.mu.Lock()
			lb.cond.Broadcast()
			lb.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	lb.mu.Lock()
	defer lb.mu.Unlock()
	for {
		if lb.cancelled {
			return CaptureEvent{Kind: EventEnd, Reason: EndCancelled}, nil
		}
		if len(lb.queue) > 0 {
			ev := lb.queue[0]
			lb.queue = lb.queue[1:]
			return ev, nil
		}
		if lb.closed {
			return CaptureEvent{Kind: EventEnd, Reason: EndNormal}, nil
		}
		if ctx.Err() != nil {
			return CaptureEvent{Kind: EventEnd, Reason: EndCancelled}, nil
		}
		lb.cond.Wait()
	}
}
