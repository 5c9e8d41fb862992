// Package pipeline coordinates the capture/decoder/file-writer worker
// goroutines named by the concurrency model: a capture goroutine pulls
// events off a CaptureSource and pushes them into a bounded queue, a
// decoder goroutine drains it and is the store's sole writer, and an
// optional file-writer goroutine iterates the store in order to emit a
// saved capture. This generalizes a WaitGroup-plus-CancelFunc worker
// group (torn down together on one shared context) to
// golang.org/x/sync/errgroup, so the first fatal worker error cancels
// its siblings instead of leaving them running to completion regardless.
package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/packetry/packetry/internal/capturesource"
	"github.com/packetry/packetry/internal/decoder"
)

// EventSink receives the non-packet events a Pipeline decodes, so a UI or
// metrics layer can reflect bus-level state without reaching into the
// decoder. Both methods must return promptly; they run on the decoder
// goroutine.
type EventSink interface {
	HandleSpeedChange(timestampNs int64, speed capturesource.Speed)
	HandleVbus(timestampNs int64, present bool)
}

// NopEventSink discards non-packet events.
type NopEventSink struct{}

func (NopEventSink) HandleSpeedChange(int64, capturesource.Speed) {}
func (NopEventSink) HandleVbus(int64, bool)                       {}

// defaultQueueSize bounds how many pulled-but-undecoded events the
// capture goroutine may get ahead of the decoder goroutine before
// blocking, satisfying the "queue pushes block on backpressure" rule.
const defaultQueueSize = 256

// Pipeline runs one capture goroutine feeding one decoder goroutine over
// a bounded queue, until the source ends, is cancelled, or either
// goroutine returns a structural error.
type Pipeline struct {
	source    capturesource.CaptureSource
	dec       *decoder.Decoder
	sink      EventSink
	queueSize int
}

// New builds a Pipeline. sink may be nil, in which case non-packet
// events are discarded.
func New(source capturesource.CaptureSource, dec *decoder.Decoder, sink EventSink) *Pipeline {
	if sink == nil {
		sink = NopEventSink{}
	}
	return &Pipeline{source: source, dec: dec, sink: sink, queueSize: defaultQueueSize}
}

// Cancel tells the underlying capture source to stop; Run's capture
// goroutine observes this on its next pull and winds the pipeline down
// with the in-flight aggregates flushed as truncated.
func (p *Pipeline) Cancel() {
	p.source.Cancel()
}

// Run drives the capture and decoder goroutines to completion. It
// returns the first structural error either goroutine reports (a
// cancelled or cleanly-ended capture is not an error). Run blocks until
// both goroutines have exited.
func (p *Pipeline) Run(ctx context.Context) error {
	queue := make(chan capturesource.CaptureEvent, p.queueSize)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		for {
			ev, err := p.source.Next(gctx)
			if err != nil {
				return err
			}
			select {
			case queue <- ev:
			case <-gctx.Done():
				return nil
			}
			if ev.Kind == capturesource.EventEnd {
				return nil
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case ev, ok := <-queue:
				if !ok {
					return nil
				}
				if done, err := p.handle(ev); done {
					return err
				}
			case <-gctx.Done():
				p.dec.Cancel(nowNs())
				return gctx.Err()
			}
		}
	})

	return g.Wait()
}

// handle applies one event to the decoder or sink. done is true once the
// decoder goroutine should exit (a clean or cancelled end).
func (p *Pipeline) handle(ev capturesource.CaptureEvent) (done bool, err error) {
	switch ev.Kind {
	case capturesource.EventPacket:
		return false, p.dec.Feed(ev.TimestampNs, ev.Payload)
	case capturesource.EventSpeedChange:
		p.sink.HandleSpeedChange(ev.TimestampNs, ev.Speed)
		return false, nil
	case capturesource.EventVbus:
		p.sink.HandleVbus(ev.TimestampNs, ev.VbusPresent)
		return false, nil
	case capturesource.EventEnd:
		if ev.Reason == capturesource.EndCancelled {
			p.dec.Cancel(ev.TimestampNs)
		}
		return true, nil
	default:
		return false, nil
	}
}

func nowNs() int64 {
	return time.Now().UnixNano()
}
