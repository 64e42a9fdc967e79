// Package sampler implements the Sampler transform: a probabilistic,
// best-effort fan-out of a fraction of requests to a side chain, with no
// queueing — unlike Tee's BufferedChain side leg, a sampled request gets
// its own fresh per-request execution of the side chain and its result
// is always discarded.
package sampler

import (
	"context"
	"math/rand"

	"github.com/protorelay/protorelay/internal/message"
	"github.com/protorelay/protorelay/internal/metrics"
	"github.com/protorelay/protorelay/internal/transform"
)

// Sampler forwards every request to the rest of its chain, and fires a
// clone of roughly Numerator/Denominator of requests at a side
// ChainBuilder, built fresh for each sampled request so no two sampled
// requests ever share transform state. The side chain's response (if
// any) is never read back.
type Sampler struct {
	name    string
	side    *transform.ChainBuilder
	num     int
	den     int
	rng     *rand.Rand
}

// New builds a Sampler. numerator/denominator must satisfy
// 0 <= numerator <= denominator and denominator > 0; a request is
// sampled when a draw from [0, denominator) falls below numerator.
func New(name string, side *transform.ChainBuilder, numerator, denominator int) *Sampler {
	return &Sampler{name: name, side: side, num: numerator, den: denominator, rng: rand.New(rand.NewSource(1))}
}

func (s *Sampler) Name() string { return s.name }

// Execute forwards requests downstream immediately, and — independent
// of that forwarding — fires a best-effort sampled side execution per
// request in its own goroutine so a slow or failing side chain never
// delays the main response.
func (s *Sampler) Execute(ctx context.Context, w *transform.Wrapper, requests []*message.Message) ([]*message.Message, error) {
	for _, req := range requests {
		if !s.shouldSample() {
			continue
		}
		clone := req.Clone()
		go s.fireSample(ctx, clone)
	}
	return w.CallNextTransform(ctx, requests)
}

func (s *Sampler) shouldSample() bool {
	if s.den <= 0 {
		return false
	}
	return s.rng.Intn(s.den) < s.num
}

func (s *Sampler) fireSample(ctx context.Context, req *message.Message) {
	chain, err := s.side.Build()
	if err != nil {
		metrics.ChainFailures.WithLabelValues(s.name).Inc()
		return
	}
	if _, err := chain.Execute(ctx, []*message.Message{req}); err != nil {
		metrics.ChainFailures.WithLabelValues(s.name).Inc()
	}
}

// Spec returns a transform.TransformSpec for this Sampler configuration.
func (s *Sampler) Spec(name string) transform.TransformSpec {
	return transform.TransformSpec{
		Name:          name,
		IsTerminating: false,
		Validate:      func() []string { return s.side.Validate() },
		New: func() (transform.Transform, error) {
			return New(name, s.side, s.num, s.den), nil
		},
	}
}
