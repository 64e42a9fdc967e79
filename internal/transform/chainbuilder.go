package transform

import "strings"

// TransformSpec is the build-time description of one chain slot. New is
// deferred so that ChainBuilder.Build can mint a fresh Transform instance
// per connection without requiring a real connection (sockets, worker
// goroutines) to exist just to validate the chain shape at startup.
type TransformSpec struct {
	Name          string
	IsTerminating bool
	// Validate returns any additional errors this spec's transform
	// wants to surface, beyond the generic chain-shape checks. May be
	// nil.
	Validate func() []string
	// New constructs one live Transform instance for a single
	// connection's Chain.
	New func() (Transform, error)
}

// ChainBuilder is the side-effect-free description of a named chain: the
// ordered specs it is made of. Validate can run at startup, over and
// over, against a config-loaded topology, without spinning up any
// goroutines. Build mints one live Chain per accepted connection.
type ChainBuilder struct {
	Name  string
	Specs []TransformSpec
}

// Validate checks that the chain is non-empty, that any terminating
// transform is the last one, and folds in each spec's own Validate
// errors. It returns a human-readable, self-wrapped error list: callers
// that nest a ChainBuilder's validation inside a larger report (like
// Tee does with its mismatch sub-chain) prepend exactly one more layer
// of indentation over what this method already produces.
func (b *ChainBuilder) Validate() []string {
	var errs []string
	if len(b.Specs) == 0 {
		errs = append(errs, "chain is empty")
	}
	for i, spec := range b.Specs {
		if spec.IsTerminating && i != len(b.Specs)-1 {
			errs = append(errs, "Terminating transform \""+spec.Name+"\" is not last in chain. "+
				"Terminating transform must be last in chain.")
		}
		if spec.Validate != nil {
			errs = append(errs, spec.Validate()...)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return wrapErrors(b.Name, errs)
}

// wrapErrors prefixes name+":" and indents every line of errs by two
// spaces, the generic presentation every named chain/transform applies
// to its own accumulated error list before a parent folds it in.
func wrapErrors(name string, errs []string) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, 0, len(errs)+1)
	out = append(out, name+":")
	for _, e := range errs {
		out = append(out, indentLines(e)...)
	}
	return out
}

func indentLines(s string) []string {
	lines := strings.Split(s, "\n")
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = "  " + l
	}
	return out
}

// Build constructs a fresh, connection-owned Chain by calling every
// spec's New in order.
func (b *ChainBuilder) Build() (*Chain, error) {
	transforms := make([]Transform, 0, len(b.Specs))
	for _, spec := range b.Specs {
		t, err := spec.New()
		if err != nil {
			return nil, err
		}
		transforms = append(transforms, t)
	}
	return NewChain(b.Name, transforms), nil
}
