// Package ingress defines the transport-agnostic contract the sensor
// transport (out of scope per spec.md §4.1: "the framing itself is
// outside this spec") must satisfy to feed events into the engine. Real
// transports (Unix domain socket, named pipe) implement FrameSource
// elsewhere; this package only fixes the boundary.
package ingress

import (
	"context"

	"github.com/vidurai/vidurai-core/internal/event"
	"github.com/vidurai/vidurai-core/internal/mlog"
)

// FrameSource yields raw event frames from a sensor transport. ReadFrame
// blocks until a frame is available, ctx is cancelled, or the transport is
// exhausted (io.EOF).
type FrameSource interface {
	ReadFrame(ctx context.Context) ([]byte, error)
}

// EventSink accepts a decoded Event for downstream processing (Gatekeeper,
// Classifier, Aggregator, Writer).
type EventSink interface {
	Accept(ctx context.Context, ev event.Event) error
}

// Pump reads frames from a FrameSource, decodes them, and pushes valid
// events to sink. Malformed frames are counted and dropped, never
// surfaced as a pipeline error (spec.md §4.1: "bad events are counted and
// dropped; never crash the pipeline").
type Pump struct {
	Source FrameSource
	Sink   EventSink
	Logger mlog.Logger

	receiveSeq uint64
	BadEvents  uint64
}

// Run implements app.Task: it pumps frames until ctx is cancelled or the
// source is exhausted.
func (p *Pump) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		raw, err := p.Source.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		ev, err := event.Decode(raw)
		if err != nil {
			p.BadEvents++

			if p.Logger != nil {
				p.Logger.Warnf("ingress: dropping bad event: %v", err)
			}

			continue
		}

		p.receiveSeq++
		ev.ReceiveSeq = p.receiveSeq

		if err := p.Sink.Accept(ctx, ev); err != nil {
			if p.Logger != nil {
				p.Logger.Errorf("ingress: sink rejected event %s: %v", ev.EventID, err)
			}
		}
	}
}
