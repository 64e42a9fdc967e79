// Package codec defines the abstract boundary between the wire and the
// transform chain: a Codec turns bytes into Messages and back. Concrete
// per-protocol codecs (Redis RESP, Cassandra's binary protocol, Kafka's
// wire format) are external collaborators to the core; this package
// specifies their contract and ships one reference implementation under
// codec/resp for the Redis subset this module's tests exercise.
package codec

import (
	"bufio"

	"github.com/protorelay/protorelay/internal/message"
)

// Decoder turns a byte stream into a batch of Messages. One call to
// Decode may return more than one Message when the protocol allows
// pipelining (e.g. several Redis commands arriving back to back) — the
// codec is responsible for preserving framing so one wire request maps to
// exactly one Message.
//
// Decode returns io.EOF (wrapped) when the stream ends cleanly between
// frames, and a decode error otherwise.
type Decoder interface {
	// Decode reads and decodes the next batch of Messages directly from r.
	// A batch is "everything currently available to parse as complete
	// frames" — implementations should not block waiting for more bytes
	// once at least one frame is complete, so that pipelined requests
	// decode together into a single batch.
	Decode(r *bufio.Reader) ([]*message.Message, error)
}

// Encoder serializes a Message back to the wire. If the Message was
// mutated (Modified == true) the encoder must re-serialize Details; if
// unmodified it should write Raw back out unchanged.
type Encoder interface {
	Encode(w *bufio.Writer, m *message.Message) error
}

// Codec is the full contract a protocol implementation must satisfy to
// plug into the server loop.
type Codec interface {
	Decoder
	Encoder
	Protocol() message.Protocol
}
