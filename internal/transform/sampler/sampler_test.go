package sampler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/protorelay/protorelay/internal/message"
	"github.com/protorelay/protorelay/internal/transform"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	hits *int64
}

func (c *countingSink) Name() string        { return "CountingSink" }
func (c *countingSink) IsTerminating() bool { return true }
func (c *countingSink) Execute(_ context.Context, _ *transform.Wrapper, reqs []*message.Message) ([]*message.Message, error) {
	atomic.AddInt64(c.hits, int64(len(reqs)))
	out := make([]*message.Message, len(reqs))
	for i := range reqs {
		out[i] = message.NoOp(message.ProtocolRedis)
	}
	return out, nil
}

type passThrough struct{}

func (passThrough) Name() string { return "pass" }
func (passThrough) Execute(ctx context.Context, w *transform.Wrapper, reqs []*message.Message) ([]*message.Message, error) {
	return w.CallNextTransform(ctx, reqs)
}

type echo struct{}

func (echo) Name() string        { return "Echo" }
func (echo) IsTerminating() bool { return true }
func (echo) Execute(_ context.Context, _ *transform.Wrapper, reqs []*message.Message) ([]*message.Message, error) {
	return reqs, nil
}

func TestSamplerAlwaysForwardsMainRequest(t *testing.T) {
	side := &transform.ChainBuilder{
		Name:  "side",
		Specs: []transform.TransformSpec{{Name: "CountingSink", IsTerminating: true, New: func() (transform.Transform, error) { return &countingSink{hits: new(int64)}, nil }}},
	}
	s := New("never_sample", side, 0, 100)

	cb := &transform.ChainBuilder{
		Name: "main",
		Specs: []transform.TransformSpec{
			s.Spec("never_sample"),
			{Name: "Echo", IsTerminating: true, New: func() (transform.Transform, error) { return echo{}, nil }},
		},
	}
	chain, err := cb.Build()
	require.NoError(t, err)

	reqs := []*message.Message{message.New(message.ProtocolRedis, []byte("req"))}
	resp, err := chain.Execute(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, resp, 1)
}

func TestSamplerFiresSideChainWhenAlwaysSampled(t *testing.T) {
	hits := new(int64)
	side := &transform.ChainBuilder{
		Name: "side",
		Specs: []transform.TransformSpec{{
			Name:          "CountingSink",
			IsTerminating: true,
			New:           func() (transform.Transform, error) { return &countingSink{hits: hits}, nil },
		}},
	}
	s := New("always_sample", side, 1, 1)

	cb := &transform.ChainBuilder{
		Name: "main",
		Specs: []transform.TransformSpec{
			s.Spec("always_sample"),
			{Name: "Echo", IsTerminating: true, New: func() (transform.Transform, error) { return echo{}, nil }},
		},
	}
	chain, err := cb.Build()
	require.NoError(t, err)

	reqs := []*message.Message{message.New(message.ProtocolRedis, []byte("req"))}
	_, err = chain.Execute(context.Background(), reqs)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(hits) == 1
	}, time.Second, 10*time.Millisecond)
}
