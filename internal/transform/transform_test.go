package transform

import (
	"context"
	"testing"
	"time"

	"github.com/protorelay/protorelay/internal/chainerr"
	"github.com/protorelay/protorelay/internal/message"
	"github.com/stretchr/testify/require"
)

// passThrough forwards requests to the next transform unchanged and
// returns whatever comes back, verifying the default CallNextTransform
// plumbing.
type passThrough struct{ name string }

func (p *passThrough) Name() string { return p.name }

func (p *passThrough) Execute(ctx context.Context, w *Wrapper, reqs []*message.Message) ([]*message.Message, error) {
	return w.CallNextTransform(ctx, reqs)
}

// echoSink is a terminating transform that returns one no-op response
// per request without forwarding further.
type echoSink struct{}

func (echoSink) Name() string          { return "EchoSink" }
func (echoSink) IsTerminating() bool   { return true }
func (echoSink) Execute(_ context.Context, _ *Wrapper, reqs []*message.Message) ([]*message.Message, error) {
	out := make([]*message.Message, len(reqs))
	for i := range reqs {
		out[i] = message.NoOp(message.ProtocolRedis)
	}
	return out, nil
}

func TestChainIdentityPassthrough(t *testing.T) {
	chain := NewChain("identity", []Transform{&passThrough{name: "p1"}, echoSink{}})
	reqs := []*message.Message{message.New(message.ProtocolRedis, []byte("PING"))}
	resp, err := chain.Execute(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, resp, 1)
}

// orderRecorder appends its name to a shared log on the way down, so
// tests can assert chain ordering matches construction order.
type orderRecorder struct {
	name string
	log  *[]string
}

func (o *orderRecorder) Name() string { return o.name }
func (o *orderRecorder) Execute(ctx context.Context, w *Wrapper, reqs []*message.Message) ([]*message.Message, error) {
	*o.log = append(*o.log, o.name)
	return w.CallNextTransform(ctx, reqs)
}

func TestChainExecutesInOrder(t *testing.T) {
	var log []string
	chain := NewChain("ordered", []Transform{
		&orderRecorder{name: "a", log: &log},
		&orderRecorder{name: "b", log: &log},
		&orderRecorder{name: "c", log: &log},
		echoSink{},
	})
	_, err := chain.Execute(context.Background(), []*message.Message{message.New(message.ProtocolRedis, []byte("x"))})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, log)
}

func newSpec(name string, terminating bool) TransformSpec {
	return TransformSpec{
		Name:          name,
		IsTerminating: terminating,
		New: func() (Transform, error) {
			if terminating {
				return echoSink{}, nil
			}
			return &passThrough{name: name}, nil
		},
	}
}

func TestChainBuilderValidateEmpty(t *testing.T) {
	b := &ChainBuilder{Name: "empty"}
	errs := b.Validate()
	require.Equal(t, []string{"empty:", "  chain is empty"}, errs)
}

func TestChainBuilderValidateTerminatorNotLast(t *testing.T) {
	b := &ChainBuilder{
		Name: "main_chain",
		Specs: []TransformSpec{
			newSpec("NullSink", true),
			newSpec("PortsRewrite", false),
		},
	}
	errs := b.Validate()
	require.Equal(t, []string{
		"main_chain:",
		"  Terminating transform \"NullSink\" is not last in chain. Terminating transform must be last in chain.",
	}, errs)
}

func TestChainBuilderValidateOK(t *testing.T) {
	b := &ChainBuilder{
		Name: "main_chain",
		Specs: []TransformSpec{
			newSpec("PortsRewrite", false),
			newSpec("NullSink", true),
		},
	}
	require.Nil(t, b.Validate())
}

// TestNestedValidateWrapping reproduces the three-level nested error
// presentation a Tee-shaped validator produces when its own Validate
// wraps an inner ChainBuilder's already-self-wrapped output in one more
// layer of "Tee:" + indent.
func TestNestedValidateWrapping(t *testing.T) {
	mismatchChain := &ChainBuilder{
		Name: "mismatch_chain",
		Specs: []TransformSpec{
			newSpec("NullSink", true),
			newSpec("PortsRewrite", false),
		},
	}
	inner := mismatchChain.Validate()
	outer := wrapErrors("Tee", inner)
	require.Equal(t, []string{
		"Tee:",
		"  mismatch_chain:",
		"    Terminating transform \"NullSink\" is not last in chain. Terminating transform must be last in chain.",
	}, outer)
}

func buildEchoBuilder(name string) *ChainBuilder {
	return &ChainBuilder{
		Name:  name,
		Specs: []TransformSpec{newSpec("EchoSink", true)},
	}
}

func TestBufferedChainSubmitExpectResponse(t *testing.T) {
	bc, err := NewBufferedChain(buildEchoBuilder("side"), 4)
	require.NoError(t, err)
	defer bc.Close()

	reqs := []*message.Message{message.New(message.ProtocolRedis, []byte("PING"))}
	resp, err := bc.SubmitExpectResponse(context.Background(), reqs, time.Second)
	require.NoError(t, err)
	require.Len(t, resp, 1)
}

// blockingSink never returns, so tests can fill the BufferedChain's
// queue and worker slot deterministically to exercise backpressure.
type blockingSink struct{ unblock chan struct{} }

func (b *blockingSink) Name() string        { return "BlockingSink" }
func (b *blockingSink) IsTerminating() bool { return true }
func (b *blockingSink) Execute(ctx context.Context, _ *Wrapper, reqs []*message.Message) ([]*message.Message, error) {
	select {
	case <-b.unblock:
	case <-ctx.Done():
	}
	out := make([]*message.Message, len(reqs))
	for i := range reqs {
		out[i] = message.NoOp(message.ProtocolRedis)
	}
	return out, nil
}

func TestBufferedChainBackpressureTimeout(t *testing.T) {
	unblock := make(chan struct{})

	builder := &ChainBuilder{
		Name: "blocked",
		Specs: []TransformSpec{{
			Name:          "BlockingSink",
			IsTerminating: true,
			New: func() (Transform, error) {
				return &blockingSink{unblock: unblock}, nil
			},
		}},
	}
	// Queue capacity 1: the worker pulls the first item and blocks in
	// Execute, so the queue itself can hold exactly one more before a
	// third submission has nowhere to go.
	bc, err := NewBufferedChain(builder, 1)
	require.NoError(t, err)
	// Release the blocked sink before Close, which waits for the worker
	// to drain the queue.
	defer func() {
		close(unblock)
		bc.Close()
	}()

	reqs := []*message.Message{message.New(message.ProtocolRedis, []byte("x"))}
	require.NoError(t, bc.SubmitNoReturn(context.Background(), reqs, time.Second))
	require.NoError(t, bc.SubmitNoReturn(context.Background(), reqs, time.Second))

	err = bc.SubmitNoReturn(context.Background(), reqs, 50*time.Millisecond)
	require.Error(t, err)
	require.True(t, chainerr.Is(err, chainerr.Backpressure))
}
