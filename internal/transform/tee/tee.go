// Package tee implements the Tee transform: fan a request batch out to a
// side chain running concurrently with the main chain, then reconcile
// the two response sets according to a configured consistency policy.
package tee

import (
	"context"
	"time"

	"github.com/protorelay/protorelay/internal/chainerr"
	"github.com/protorelay/protorelay/internal/codec/resp"
	"github.com/protorelay/protorelay/internal/message"
	"github.com/protorelay/protorelay/internal/metrics"
	"github.com/protorelay/protorelay/internal/transform"
)

// mismatchDiagnostic is the fixed diagnostic string every FailOnMismatch
// error response carries, so a client (or a test) can recognize a
// tee-detected divergence regardless of which request triggered it.
const mismatchDiagnostic = "ERR tee: main and side chain responses diverged"

// mismatchErrorResponse rewrites m into a protocol-appropriate error
// response carrying mismatchDiagnostic, in place of whatever the main
// chain actually answered.
func mismatchErrorResponse(m *message.Message) *message.Message {
	if m == nil {
		return m
	}
	switch m.Protocol {
	case message.ProtocolRedis:
		return &message.Message{
			Protocol: m.Protocol,
			Details:  resp.ErrorFrame(mismatchDiagnostic),
			Modified: true,
		}
	default:
		return &message.Message{
			Protocol: m.Protocol,
			Raw:      []byte(mismatchDiagnostic),
			Modified: true,
		}
	}
}

// ConsistencyBehavior controls what Tee does when the main chain's
// response and the side chain's response disagree.
type ConsistencyBehavior int

const (
	// Ignore discards the side chain's response entirely; only the
	// main chain's response is ever returned.
	Ignore ConsistencyBehavior = iota
	// FailOnMismatch compares the two response sets and, if they
	// differ, overwrites every main response in place with a
	// protocol-appropriate error message instead of propagating a Go
	// error — the client sees a normal error response, not a dropped
	// connection. Responses are returned unchanged when the two sides
	// agree.
	FailOnMismatch
	// SubchainOnMismatch compares the two response sets and, on a
	// mismatch, fires the original request batch at the mismatch chain
	// with no reply expected; the main chain's response is always
	// returned unchanged — mismatch handling here is observational,
	// not corrective.
	SubchainOnMismatch
)

// Tee is a non-terminating transform: it always forwards the main
// request batch to the rest of its chain, and additionally submits a
// cloned batch to a side BufferedChain. The two legs run concurrently
// so the side chain's latency never makes the main path slower than it
// already is, up to the side chain's own submit timeout.
type Tee struct {
	name          string
	side          *transform.BufferedChain
	behavior      ConsistencyBehavior
	timeout       time.Duration
	mismatchChain *transform.BufferedChain // only used by SubchainOnMismatch
}

// NewTee builds a Tee transform. mismatchChain is only consulted when
// behavior is SubchainOnMismatch; pass nil otherwise.
func NewTee(name string, side *transform.BufferedChain, behavior ConsistencyBehavior, timeout time.Duration, mismatchChain *transform.BufferedChain) *Tee {
	return &Tee{name: name, side: side, behavior: behavior, timeout: timeout, mismatchChain: mismatchChain}
}

func (t *Tee) Name() string { return t.name }

// Execute runs the main chain and the side chain concurrently, then
// reconciles per t.behavior.
func (t *Tee) Execute(ctx context.Context, w *transform.Wrapper, requests []*message.Message) ([]*message.Message, error) {
	mainReqs := requests
	sideReqs := message.CloneBatch(requests)

	type mainResult struct {
		resp []*message.Message
		err  error
	}
	type sideResult struct {
		resp []*message.Message
		err  error
	}

	mainCh := make(chan mainResult, 1)
	sideCh := make(chan sideResult, 1)

	go func() {
		resp, err := w.CallNextTransform(ctx, mainReqs)
		mainCh <- mainResult{resp, err}
	}()
	go func() {
		if t.behavior == Ignore {
			err := t.side.SubmitNoReturn(ctx, sideReqs, t.timeout)
			sideCh <- sideResult{nil, err}
			return
		}
		resp, err := t.side.SubmitExpectResponse(ctx, sideReqs, t.timeout)
		sideCh <- sideResult{resp, err}
	}()

	main := <-mainCh
	side := <-sideCh

	if main.err != nil {
		return nil, main.err
	}

	if t.behavior == Ignore {
		if side.err != nil {
			metrics.TeeDroppedMessages.WithLabelValues(t.name).Add(float64(len(requests)))
		}
		return main.resp, nil
	}

	// FailOnMismatch/SubchainOnMismatch: a side-chain error is
	// propagated rather than swallowed, since both behaviors depend on
	// the side response to reconcile against.
	if side.err != nil {
		return nil, side.err
	}

	if message.EqualBatch(main.resp, side.resp) {
		return main.resp, nil
	}

	switch t.behavior {
	case FailOnMismatch:
		out := make([]*message.Message, len(main.resp))
		for i, m := range main.resp {
			out[i] = mismatchErrorResponse(m)
		}
		return out, nil
	case SubchainOnMismatch:
		if t.mismatchChain == nil {
			return nil, chainerr.New(chainerr.Internal, t.name, errNoMismatchChain)
		}
		if err := t.mismatchChain.SubmitNoReturn(ctx, message.CloneBatch(requests), t.timeout); err != nil {
			metrics.TeeDroppedMessages.WithLabelValues(t.name).Add(float64(len(requests)))
		}
		return main.resp, nil
	default:
		return main.resp, nil
	}
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errNoMismatchChain sentinelError = "SubchainOnMismatch configured without a mismatch chain"
