package transform

import (
	"context"
	"sync"
	"time"

	"github.com/protorelay/protorelay/internal/chainerr"
	"github.com/protorelay/protorelay/internal/message"
)

// BufferedChain runs a Chain on a single dedicated worker goroutine
// behind a bounded queue, so a side chain (Tee's mismatch leg, a log
// sink) can run concurrently with the main request path without two
// goroutines ever touching the same Chain's transform instances at
// once. Each BufferedChain owns exactly one Chain built fresh from its
// ChainBuilder, matching the chain Ownership model: nothing about a
// BufferedChain is safe to share across connections.
type BufferedChain struct {
	name  string
	chain *Chain
	queue chan workItem

	closeOnce sync.Once
	done      chan struct{}
}

type workItem struct {
	ctx      context.Context
	requests []*message.Message
	reply    chan replyMsg // nil for a no-return submission
}

type replyMsg struct {
	responses []*message.Message
	err       error
}

// NewBufferedChain builds one live Chain from builder and starts its
// worker goroutine. queueSize bounds how many pending submissions can
// be buffered before SubmitNoReturn starts blocking (and eventually
// timing out).
func NewBufferedChain(builder *ChainBuilder, queueSize int) (*BufferedChain, error) {
	chain, err := builder.Build()
	if err != nil {
		return nil, err
	}
	bc := &BufferedChain{
		name:  builder.Name,
		chain: chain,
		queue: make(chan workItem, queueSize),
		done:  make(chan struct{}),
	}
	go bc.run()
	return bc, nil
}

func (bc *BufferedChain) run() {
	defer close(bc.done)
	for item := range bc.queue {
		resp, err := bc.chain.Execute(item.ctx, item.requests)
		if item.reply != nil {
			// Buffered size 1: the worker never blocks on a reader
			// that already gave up waiting.
			item.reply <- replyMsg{responses: resp, err: err}
		}
	}
}

// SubmitExpectResponse enqueues requests and waits for the chain's
// response, bounded by timeout (zero means wait forever). If the
// timeout elapses first, the reply is discarded when the worker
// eventually produces it — the reply channel is buffered so the worker
// never blocks on that abandoned send — and this call returns a Timeout
// chainerr.Error.
func (bc *BufferedChain) SubmitExpectResponse(ctx context.Context, requests []*message.Message, timeout time.Duration) ([]*message.Message, error) {
	reply := make(chan replyMsg, 1)
	item := workItem{ctx: ctx, requests: requests, reply: reply}

	select {
	case bc.queue <- item:
	case <-bc.done:
		return nil, chainerr.New(chainerr.Internal, bc.name, errClosed)
	case <-ctx.Done():
		return nil, chainerr.New(chainerr.Timeout, bc.name, ctx.Err())
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case r := <-reply:
		if r.err != nil {
			return nil, r.err
		}
		return r.responses, nil
	case <-timeoutC:
		return nil, chainerr.New(chainerr.Timeout, bc.name, errSubmitTimeout)
	case <-ctx.Done():
		return nil, chainerr.New(chainerr.Timeout, bc.name, ctx.Err())
	}
}

// SubmitNoReturn enqueues requests without waiting for a response,
// discarding whatever the chain eventually produces. If the queue is
// full, it waits up to backpressureTimeout for room before giving up
// with a Backpressure chainerr.Error, matching the backpressure
// testable property: a submitter never blocks indefinitely behind a
// stalled side chain.
func (bc *BufferedChain) SubmitNoReturn(ctx context.Context, requests []*message.Message, backpressureTimeout time.Duration) error {
	item := workItem{ctx: ctx, requests: requests, reply: nil}

	var timeoutC <-chan time.Time
	if backpressureTimeout > 0 {
		timer := time.NewTimer(backpressureTimeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case bc.queue <- item:
		return nil
	case <-bc.done:
		return chainerr.New(chainerr.Internal, bc.name, errClosed)
	case <-timeoutC:
		return chainerr.New(chainerr.Backpressure, bc.name, errBackpressure)
	case <-ctx.Done():
		return chainerr.New(chainerr.Backpressure, bc.name, ctx.Err())
	}
}

// Close stops accepting new work and waits for the worker to drain
// whatever is already queued. Safe to call more than once.
func (bc *BufferedChain) Close() {
	bc.closeOnce.Do(func() {
		close(bc.queue)
	})
	<-bc.done
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const (
	errClosed       sentinelError = "buffered chain closed"
	errSubmitTimeout sentinelError = "submit_expect_response timed out waiting for reply"
	errBackpressure sentinelError = "submit_no_return timed out waiting for queue capacity"
)
