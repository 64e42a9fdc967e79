package builtins

import (
	"context"

	"github.com/protorelay/protorelay/internal/message"
	"github.com/protorelay/protorelay/internal/metrics"
	"github.com/protorelay/protorelay/internal/transform"
)

// MPSCForwarder is a non-terminating transform that pushes a clone of
// every request onto a shared channel for an out-of-band consumer (a
// log sink, an audit pipeline) and otherwise forwards unchanged. Unlike
// Tee's BufferedChain, there is no reply to wait for and no per-consumer
// chain: many MPSCForwarder instances across connections can share one
// receiving end, which is the point of the Go "multiple producer,
// single consumer" channel idiom.
type MPSCForwarder struct {
	name string
	out  chan<- *message.Message
}

// NewMPSCForwarder builds an MPSCForwarder that feeds out. out should be
// owned and drained by a single consumer goroutine (a sink writer).
func NewMPSCForwarder(name string, out chan<- *message.Message) *MPSCForwarder {
	return &MPSCForwarder{name: name, out: out}
}

func (f *MPSCForwarder) Name() string { return f.name }

// Execute first makes a best-effort, non-blocking attempt to push a
// clone of each request onto the shared channel, incrementing
// tee_dropped_messages when the channel is full rather than blocking the
// main request path, then forwards requests downstream unchanged.
func (f *MPSCForwarder) Execute(ctx context.Context, w *transform.Wrapper, requests []*message.Message) ([]*message.Message, error) {
	for _, req := range requests {
		select {
		case f.out <- req.Clone():
		default:
			metrics.TeeDroppedMessages.WithLabelValues(f.name).Inc()
		}
	}
	return w.CallNextTransform(ctx, requests)
}

// MPSCTee is Tee's fire-and-forget cousin: instead of submitting to a
// BufferedChain and waiting for (or discarding) a reply, it fans
// requests out over a channel to zero or more receivers running their
// own independent chains, with the same non-blocking, drop-on-full
// semantics as MPSCForwarder. It exists for topologies that want Tee's
// shape without Tee's FailOnMismatch/SubchainOnMismatch machinery.
type MPSCTee struct {
	name string
	out  chan<- []*message.Message
}

// NewMPSCTee builds an MPSCTee that feeds whole request batches to out.
func NewMPSCTee(name string, out chan<- []*message.Message) *MPSCTee {
	return &MPSCTee{name: name, out: out}
}

func (t *MPSCTee) Name() string { return t.name }

func (t *MPSCTee) Execute(ctx context.Context, w *transform.Wrapper, requests []*message.Message) ([]*message.Message, error) {
	select {
	case t.out <- message.CloneBatch(requests):
	default:
		metrics.TeeDroppedMessages.WithLabelValues(t.name).Add(float64(len(requests)))
	}
	return w.CallNextTransform(ctx, requests)
}
