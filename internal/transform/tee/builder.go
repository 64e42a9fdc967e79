package tee

import (
	"time"

	"github.com/protorelay/protorelay/internal/transform"
)

// Builder is the build-time description of a Tee transform slot. It
// owns two ChainBuilders — the side chain Tee forks requests to, and
// (for SubchainOnMismatch) the mismatch chain consulted when the two
// legs disagree — so both can be validated at config-load time without
// starting any goroutines.
type Builder struct {
	Name          string
	Side          *transform.ChainBuilder
	MismatchChain *transform.ChainBuilder // only required for SubchainOnMismatch
	Behavior      ConsistencyBehavior
	Timeout       time.Duration
	QueueSize     int
}

// Validate wraps the side chain's own self-wrapped validation errors in
// one more "Tee:" + two-space-indent layer, and — for
// SubchainOnMismatch — does the same for the mismatch chain. An empty
// Builder.Name falls back to "Tee" for the wrapper header, matching how
// the transform reports itself when unnamed.
func (b *Builder) Validate() []string {
	var errs []string
	if b.Side == nil {
		errs = append(errs, "Tee has no side chain configured")
	} else if sideErrs := b.Side.Validate(); len(sideErrs) > 0 {
		errs = append(errs, sideErrs...)
	}
	if b.Behavior == SubchainOnMismatch {
		if b.MismatchChain == nil {
			errs = append(errs, "SubchainOnMismatch requires a mismatch_chain")
		} else if mErrs := b.MismatchChain.Validate(); len(mErrs) > 0 {
			errs = append(errs, mErrs...)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	name := b.Name
	if name == "" {
		name = "Tee"
	}
	return wrapErrors(name, errs)
}

func wrapErrors(name string, errs []string) []string {
	out := make([]string, 0, len(errs)+1)
	out = append(out, name+":")
	for _, e := range errs {
		out = append(out, "  "+e)
	}
	return out
}

// Spec returns a transform.TransformSpec that builds a fresh Tee (with
// its own fresh side/mismatch BufferedChains) per connection.
func (b *Builder) Spec() transform.TransformSpec {
	return transform.TransformSpec{
		Name:          nameOr(b.Name, "Tee"),
		IsTerminating: false,
		Validate:      b.Validate,
		New: func() (transform.Transform, error) {
			side, err := transform.NewBufferedChain(b.Side, b.QueueSize)
			if err != nil {
				return nil, err
			}
			var mismatch *transform.BufferedChain
			if b.Behavior == SubchainOnMismatch {
				mismatch, err = transform.NewBufferedChain(b.MismatchChain, b.QueueSize)
				if err != nil {
					return nil, err
				}
			}
			return NewTee(nameOr(b.Name, "Tee"), side, b.Behavior, b.Timeout, mismatch), nil
		},
	}
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
