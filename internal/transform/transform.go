// Package transform implements the chain-of-responsibility runtime that
// every protocol message flows through: a Transform inspects or rewrites
// a batch of messages, then explicitly calls onward to whatever the next
// transform in the chain is. The explicit "call next" style (rather than
// a plain for-loop over a slice) is what lets a transform fan out to a
// side chain, short-circuit, or re-enter the same cursor more than once.
package transform

import (
	"context"

	"github.com/protorelay/protorelay/internal/message"
)

// Transform is one link in a chain. Execute receives the live Wrapper so
// it can call onward via CallNextTransform; a non-terminating transform
// calls it exactly once and a terminating sink never calls it. Fan-out
// transforms like Tee and Sampler also call it once, and send their side
// copy of the batch to a separate chain instead.
type Transform interface {
	// Name identifies the transform in logs, metrics, and validation
	// error text.
	Name() string
	// Execute processes a request batch travelling downstream and
	// returns the corresponding response batch travelling back
	// upstream. w gives access to the rest of the chain.
	Execute(ctx context.Context, w *Wrapper, requests []*message.Message) ([]*message.Message, error)
}

// Terminator marks a transform that must be the last one in its chain —
// it produces responses itself rather than forwarding to an upstream,
// so anything placed after it would never run.
type Terminator interface {
	Transform
	IsTerminating() bool
}

// Validator lets a transform contribute extra validation errors beyond
// the generic chain shape checks (non-empty, terminator-is-last).
// ChainBuilder.Validate does not consult it: Tee and Sampler contribute
// their sub-chain errors through TransformSpec.Validate instead.
type Validator interface {
	Validate() []string
}

// Wrapper is the live cursor over a chain during one Execute call. Each
// transform gets its own Wrapper positioned just past itself; calling
// CallNextTransform advances into the remainder.
type Wrapper struct {
	chain []Transform
	pos   int
}

// NewWrapper builds a Wrapper positioned at the start of chain.
func NewWrapper(chain []Transform) *Wrapper {
	return &Wrapper{chain: chain, pos: 0}
}

// CallNextTransform invokes the next transform in the chain with
// requests, or — if the cursor is already past the end — returns the
// requests unchanged as a degenerate identity response. That fallback
// only triggers if a chain is missing a terminating sink;
// ChainBuilder.Validate does not reject such a chain.
func (w *Wrapper) CallNextTransform(ctx context.Context, requests []*message.Message) ([]*message.Message, error) {
	if w.pos >= len(w.chain) {
		return requests, nil
	}
	next := w.chain[w.pos]
	w.pos++
	child := &Wrapper{chain: w.chain, pos: w.pos}
	return next.Execute(ctx, child, requests)
}

// Clone returns a Wrapper over the same underlying chain slice at the
// same cursor position, so a transform can run requests through the
// remainder of the chain more than once.
func (w *Wrapper) Clone() *Wrapper {
	return &Wrapper{chain: w.chain, pos: w.pos}
}

// Remaining returns the transforms from this cursor position to the end
// of the chain.
func (w *Wrapper) Remaining() []Transform {
	return w.chain[w.pos:]
}

// Chain is a fully constructed, connection-owned transform pipeline.
// Chains are never shared across connections: each accepted connection
// gets a fresh Chain built from a ChainBuilder so that no transform
// instance (and in particular no BufferedChain worker goroutine) is
// mutated concurrently by two connections.
type Chain struct {
	Name       string
	transforms []Transform
}

// NewChain wraps an ordered transform list into a runtime Chain.
func NewChain(name string, transforms []Transform) *Chain {
	return &Chain{Name: name, transforms: transforms}
}

// Execute runs requests through the whole chain starting at the first
// transform.
func (c *Chain) Execute(ctx context.Context, requests []*message.Message) ([]*message.Message, error) {
	if len(c.transforms) == 0 {
		return requests, nil
	}
	w := &Wrapper{chain: c.transforms, pos: 1}
	return c.transforms[0].Execute(ctx, w, requests)
}

// Len reports the number of transforms in the chain.
func (c *Chain) Len() int { return len(c.transforms) }
