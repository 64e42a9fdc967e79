// Package builtins collects the small, self-contained terminating and
// pass-through transforms every chain topology is built out of: sinks
// that produce a canned response, and the two protocol-aware transforms
// (PortsRewrite, TimestampTagger) that rewrite traffic in place.
package builtins

import (
	"bufio"
	"bytes"
	"context"
	"time"

	"github.com/protorelay/protorelay/internal/chainerr"
	resp "github.com/protorelay/protorelay/internal/codec/resp"
	"github.com/protorelay/protorelay/internal/message"
	"github.com/protorelay/protorelay/internal/metrics"
	"github.com/protorelay/protorelay/internal/transform"
)

// NullSink is a terminating transform that discards every request and
// answers with one synthetic no-op response per request, keeping
// request/response counts aligned for whatever called it.
type NullSink struct{ name string }

func NewNullSink(name string) *NullSink { return &NullSink{name: name} }
func (s *NullSink) Name() string        { return s.name }
func (s *NullSink) IsTerminating() bool { return true }
func (s *NullSink) Execute(_ context.Context, _ *transform.Wrapper, requests []*message.Message) ([]*message.Message, error) {
	out := make([]*message.Message, len(requests))
	for i, m := range requests {
		out[i] = message.NoOp(m.Protocol)
	}
	return out, nil
}

// DropSink is a terminating transform that discards every request and
// returns no responses at all — for side chains (Tee's Ignore mode,
// Sampler) whose caller never reads a response back.
type DropSink struct{ name string }

func NewDropSink(name string) *DropSink { return &DropSink{name: name} }
func (s *DropSink) Name() string        { return s.name }
func (s *DropSink) IsTerminating() bool { return true }
func (s *DropSink) Execute(context.Context, *transform.Wrapper, []*message.Message) ([]*message.Message, error) {
	return nil, nil
}

// ErrSink is a terminating transform that always fails, used in tests
// and in deliberately-broken validation fixtures.
type ErrSink struct {
	name string
	msg  string
}

func NewErrSink(name, msg string) *ErrSink { return &ErrSink{name: name, msg: msg} }
func (s *ErrSink) Name() string            { return s.name }
func (s *ErrSink) IsTerminating() bool     { return true }
func (s *ErrSink) Execute(context.Context, *transform.Wrapper, []*message.Message) ([]*message.Message, error) {
	return nil, chainerr.New(chainerr.Internal, s.name, errSentinel(s.msg))
}

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

// EchoSink is a terminating transform that answers each request with a
// response carrying the same raw bytes, useful for loopback test chains
// and for a side chain that exists only to exercise BufferedChain.
type EchoSink struct{ name string }

func NewEchoSink(name string) *EchoSink { return &EchoSink{name: name} }
func (s *EchoSink) Name() string        { return s.name }
func (s *EchoSink) IsTerminating() bool { return true }
func (s *EchoSink) Execute(_ context.Context, _ *transform.Wrapper, requests []*message.Message) ([]*message.Message, error) {
	out := make([]*message.Message, len(requests))
	for i, m := range requests {
		cpy := *m
		out[i] = &cpy
	}
	return out, nil
}

// CountingSink is a terminating transform that records how many
// messages pass through it via the chain_messages metric and answers
// with no-op responses, used to give a Tee/Sampler side chain something
// observable to assert against in tests and dashboards alike.
type CountingSink struct{ name string }

func NewCountingSink(name string) *CountingSink { return &CountingSink{name: name} }
func (s *CountingSink) Name() string            { return s.name }
func (s *CountingSink) IsTerminating() bool     { return true }
func (s *CountingSink) Execute(_ context.Context, _ *transform.Wrapper, requests []*message.Message) ([]*message.Message, error) {
	metrics.ChainMessages.WithLabelValues(s.name, "request").Add(float64(len(requests)))
	out := make([]*message.Message, len(requests))
	for i, m := range requests {
		out[i] = message.NoOp(m.Protocol)
	}
	return out, nil
}

// Returner is a terminating transform that always answers with a fixed,
// pre-encoded response regardless of the request — used to implement
// static canned-response chains (health checks, maintenance mode).
type Returner struct {
	name     string
	response *message.Message
}

func NewReturner(name string, response *message.Message) *Returner {
	return &Returner{name: name, response: response}
}
func (s *Returner) Name() string        { return s.name }
func (s *Returner) IsTerminating() bool { return true }
func (s *Returner) Execute(_ context.Context, _ *transform.Wrapper, requests []*message.Message) ([]*message.Message, error) {
	out := make([]*message.Message, len(requests))
	for i := range requests {
		out[i] = s.response.Clone()
	}
	return out, nil
}

// PortsRewrite is a non-terminating transform that, whenever a request
// is a RESP CLUSTER SLOTS command, rewrites the downstream node ports in
// the corresponding response to NewPort, so clients the proxy hands a
// topology to keep talking to the proxy rather than connecting straight
// to backend nodes.
type PortsRewrite struct {
	name    string
	newPort int64
}

func NewPortsRewrite(name string, newPort int64) *PortsRewrite {
	return &PortsRewrite{name: name, newPort: newPort}
}
func (p *PortsRewrite) Name() string { return p.name }

func (p *PortsRewrite) Execute(ctx context.Context, w *transform.Wrapper, requests []*message.Message) ([]*message.Message, error) {
	responses, err := w.CallNextTransform(ctx, requests)
	if err != nil {
		return nil, err
	}
	for i, req := range requests {
		if i >= len(responses) {
			break
		}
		frame, ok := req.Details.(*resp.Frame)
		if !ok || !resp.IsClusterSlotsRequest(frame) {
			continue
		}
		if err := p.rewriteResponse(responses[i]); err != nil {
			return nil, chainerr.New(chainerr.Encode, p.name, err)
		}
	}
	return responses, nil
}

func (p *PortsRewrite) rewriteResponse(m *message.Message) error {
	rf, ok := m.Details.(*resp.Frame)
	if !ok {
		decoded, err := decodeRespFrame(m.Raw)
		if err != nil {
			return err
		}
		rf = decoded
	}
	if err := resp.RewriteSlotPorts(rf, p.newPort); err != nil {
		return err
	}
	m.Details = rf
	m.Modified = true
	return nil
}

func decodeRespFrame(raw []byte) (*resp.Frame, error) {
	r := bufio.NewReader(bytes.NewReader(raw))
	c := resp.Codec{}
	batch, err := c.Decode(r)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, errSentinel("empty response body")
	}
	frame, ok := batch[0].Details.(*resp.Frame)
	if !ok {
		return nil, errSentinel("response body is not a RESP frame")
	}
	return frame, nil
}

// taggedSuccessKey is the context key TimestampTagger stamps its
// batch-level success flag under.
type taggedSuccessKey struct{}

// idletimeProbeScript wraps the original command in a Lua EVAL so the
// same round-trip also returns OBJECT IDLETIME for the key touched,
// piggy-backing a liveness probe onto every SET/GET without a second
// upstream round trip. ARGV[1] is the original command name, KEYS[1]
// the key, and any further ARGV entries are the command's remaining
// arguments (e.g. a SET value or expiry options).
const idletimeProbeScript = `local r = redis.call(ARGV[1], KEYS[1], unpack(ARGV, 2)) return {r, redis.call('OBJECT', 'IDLETIME', KEYS[1])}`

// TimestampTagger rewrites SET/GET requests into an EVAL command that
// piggy-backs an OBJECT IDLETIME liveness probe, attaches a receipt
// timestamp to every message in the batch that doesn't already carry
// one, and reports via the context it passes downstream whether every
// message in the batch was tagged/rewritten successfully. When the batch-level
// flag is true, each rewritten response's two-element array reply is
// unwrapped back down to the original command's reply so the probe is
// invisible to the client; when false, rewritten responses are left as
// the raw two-element array rather than risk unwrapping a shape that
// wasn't produced by idletimeProbeScript.
//
// The success flag is seeded true and AND-accumulated across the batch:
// one untaggable message (a nil entry, or a SET/GET whose arguments
// aren't all bulk strings) is enough to flip it false. An earlier
// revision seeded the flag false and OR-accumulated it, which reported
// success as soon as a single message tagged cleanly even if others in
// the same batch failed; this is the corrected accumulation.
type TimestampTagger struct{ name string }

func NewTimestampTagger(name string) *TimestampTagger { return &TimestampTagger{name: name} }
func (t *TimestampTagger) Name() string                { return t.name }

func (t *TimestampTagger) Execute(ctx context.Context, w *transform.Wrapper, requests []*message.Message) ([]*message.Message, error) {
	success := true
	outReqs := make([]*message.Message, len(requests))
	rewritten := make([]bool, len(requests))

	for i, m := range requests {
		outReqs[i] = m
		if m == nil {
			success = false
			continue
		}
		if m.Meta.ReceivedAt.IsZero() {
			m.Meta.ReceivedAt = time.Now()
		}
		if m.Protocol != message.ProtocolRedis {
			continue
		}
		frame, ok := m.Details.(*resp.Frame)
		if !ok {
			decoded, err := decodeRespFrame(m.Raw)
			if err != nil {
				continue
			}
			frame = decoded
		}
		cmd, key, extra, ok := setOrGetArgs(frame)
		if !ok {
			// A SET/GET that setOrGetArgs cannot rewrite is untaggable;
			// any other command simply passes through.
			if frame != nil && frame.Kind == resp.KindArray && len(frame.Elements) > 0 &&
				frame.Elements[0] != nil && frame.Elements[0].Kind == resp.KindBulkString {
				name := bytes.ToUpper(frame.Elements[0].Bulk)
				if bytes.Equal(name, []byte("SET")) || bytes.Equal(name, []byte("GET")) {
					success = false
				}
			}
			continue
		}
		outReqs[i] = &message.Message{
			Protocol: message.ProtocolRedis,
			Details:  buildEvalProbe(cmd, key, extra),
			Modified: true,
			Meta:     m.Meta,
		}
		rewritten[i] = true
	}

	ctx = context.WithValue(ctx, taggedSuccessKey{}, success)
	responses, err := w.CallNextTransform(ctx, outReqs)
	if err != nil {
		return nil, err
	}
	if !success {
		return responses, nil
	}
	for i, r := range responses {
		if i >= len(rewritten) || !rewritten[i] {
			continue
		}
		unwrapped, ok := unwrapEvalProbe(r)
		if !ok {
			continue
		}
		responses[i] = unwrapped
	}
	return responses, nil
}

// setOrGetArgs reports whether frame is a SET or GET command array,
// returning the uppercased command name, its key, and any remaining
// arguments as bulk-string payloads. Any non-bulk-string element among
// the remaining arguments is treated as an unsupported shape.
func setOrGetArgs(frame *resp.Frame) (cmd string, key []byte, extra [][]byte, ok bool) {
	if frame == nil || frame.Kind != resp.KindArray || len(frame.Elements) < 2 {
		return "", nil, nil, false
	}
	cmdFrame := frame.Elements[0]
	if cmdFrame == nil || cmdFrame.Kind != resp.KindBulkString {
		return "", nil, nil, false
	}
	upper := bytes.ToUpper(cmdFrame.Bulk)
	if !bytes.Equal(upper, []byte("SET")) && !bytes.Equal(upper, []byte("GET")) {
		return "", nil, nil, false
	}
	keyFrame := frame.Elements[1]
	if keyFrame == nil || keyFrame.Kind != resp.KindBulkString {
		return "", nil, nil, false
	}
	rest := frame.Elements[2:]
	extraArgs := make([][]byte, 0, len(rest))
	for _, e := range rest {
		if e == nil || e.Kind != resp.KindBulkString {
			return "", nil, nil, false
		}
		extraArgs = append(extraArgs, e.Bulk)
	}
	return string(upper), keyFrame.Bulk, extraArgs, true
}

// buildEvalProbe constructs the EVAL command array that runs
// idletimeProbeScript against key with cmd and extra forwarded as ARGV.
func buildEvalProbe(cmd string, key []byte, extra [][]byte) *resp.Frame {
	elements := make([]*resp.Frame, 0, 5+len(extra))
	elements = append(elements,
		resp.BulkString([]byte("EVAL")),
		resp.BulkString([]byte(idletimeProbeScript)),
		resp.BulkString([]byte("1")),
		resp.BulkString(key),
		resp.BulkString([]byte(cmd)),
	)
	for _, a := range extra {
		elements = append(elements, resp.BulkString(a))
	}
	return &resp.Frame{Kind: resp.KindArray, Elements: elements}
}

// unwrapEvalProbe extracts the original command's reply from the
// two-element [reply, idletime] array idletimeProbeScript returns,
// discarding the idletime probe result.
func unwrapEvalProbe(m *message.Message) (*message.Message, bool) {
	if m == nil {
		return nil, false
	}
	frame, ok := m.Details.(*resp.Frame)
	if !ok {
		decoded, err := decodeRespFrame(m.Raw)
		if err != nil {
			return nil, false
		}
		frame = decoded
	}
	if frame.Kind != resp.KindArray || len(frame.Elements) != 2 {
		return nil, false
	}
	return &message.Message{
		Protocol: m.Protocol,
		Details:  frame.Elements[0],
		Modified: true,
		Meta:     m.Meta,
	}, true
}

// TaggedSuccess reports the batch-level flag TimestampTagger stamped on
// ctx, and whether a tagger ran at all.
func TaggedSuccess(ctx context.Context) (success, ran bool) {
	v := ctx.Value(taggedSuccessKey{})
	if v == nil {
		return false, false
	}
	return v.(bool), true
}
