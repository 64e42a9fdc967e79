// Package message defines the typed in-flight frame that flows through a
// transform chain: raw wire bytes, an optional parsed view, and metadata.
package message

import "time"

// Protocol tags which wire format a Message was decoded from.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolRedis
	ProtocolCassandra
	ProtocolKafka
)

func (p Protocol) String() string {
	switch p {
	case ProtocolRedis:
		return "redis"
	case ProtocolCassandra:
		return "cassandra"
	case ProtocolKafka:
		return "kafka"
	default:
		return "unknown"
	}
}

// Direction distinguishes a request Message from a response Message.
type Direction int

const (
	DirectionRequest Direction = iota
	DirectionResponse
)

// Details is the protocol-specific parsed view of a Message. Codecs define
// concrete types satisfying this interface; the chain treats it opaquely
// except where a transform type-asserts to its protocol's concrete shape.
type Details interface {
	// Protocol identifies which codec produced this view.
	Protocol() Protocol
}

// Metadata carries per-message bookkeeping that travels alongside a
// Message but is never part of its wire representation.
type Metadata struct {
	ReceivedAt    time.Time
	CorrelationID string // empty if the protocol has none
}

// Message is a single unit of protocol traffic: one request or one
// response, one wire frame.
//
// Invariant: if Modified is false, Raw is authoritative and Details (if
// present) must be treated as a read-only cache of it. If Modified is
// true, Details is authoritative and the codec must re-encode it into Raw
// on egress.
type Message struct {
	Raw      []byte
	Details  Details
	Modified bool
	Protocol Protocol
	Meta     Metadata
}

// New wraps a raw wire frame with no parsed view.
func New(protocol Protocol, raw []byte) *Message {
	return &Message{
		Raw:      raw,
		Protocol: protocol,
		Meta:     Metadata{ReceivedAt: time.Now()},
	}
}

// Clone deep-copies a Message's owned buffers so a side chain (tee,
// sampler) can mutate its copy without affecting the original in flight.
func (m *Message) Clone() *Message {
	cp := *m
	if m.Raw != nil {
		cp.Raw = append([]byte(nil), m.Raw...)
	}
	// Details is treated as immutable once attached; transforms that mutate
	// a parsed view must replace it wholesale rather than mutate in place,
	// so a shallow copy of the interface value is sufficient here.
	return &cp
}

// CloneBatch clones every Message in a batch, preserving order.
func CloneBatch(batch []*Message) []*Message {
	out := make([]*Message, len(batch))
	for i, m := range batch {
		out[i] = m.Clone()
	}
	return out
}

// NoOp returns a synthetic placeholder response used to pad a response
// batch back to one-per-request when a chain stage coalesces requests.
func NoOp(protocol Protocol) *Message {
	return &Message{Protocol: protocol, Raw: nil}
}

// EqualPayload reports whether two messages carry the same normalized
// payload, ignoring volatile metadata fields (timestamps, correlation
// ids). Equal-Payload comparison is delegated to each protocol's Details
// type when both messages have one attached; otherwise it falls back to a
// raw byte comparison.
func EqualPayload(a, b *Message) bool {
	if a == nil || b == nil {
		return a == b
	}
	if ac, ok := a.Details.(equatable); ok {
		if bc, ok := b.Details.(equatable); ok {
			return ac.EqualPayload(bc)
		}
	}
	return bytesEqual(a.Raw, b.Raw)
}

// EqualBatch reports whether two response batches are element-wise equal
// under EqualPayload, used by Tee's FailOnMismatch comparison.
func EqualBatch(a, b []*Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !EqualPayload(a[i], b[i]) {
			return false
		}
	}
	return true
}

// equatable is implemented by Details types that know how to compare
// themselves while ignoring volatile fields.
type equatable interface {
	EqualPayload(other any) bool
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
