// Package sinks implements terminating transforms that hand a chain's
// requests off to a concrete backing service instead of answering
// synthetically: a real Redis upstream, and a durable JSONL audit log
// standing in for a Kafka topic writer.
package sinks

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/protorelay/protorelay/internal/message"
	"github.com/protorelay/protorelay/internal/transform"
)

// logRecord is the JSON shape one message is serialized to in the log
// file: enough to audit traffic without round-tripping protocol-
// specific Details types through JSON.
type logRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Protocol      string    `json:"protocol"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	RawBase64     string    `json:"raw_base64"`
}

// KafkaLogSink is a buffered, append-only JSONL sink standing in for a
// Kafka producer: every request batch is appended as one JSON line per
// message, then answered with a no-op response so it can terminate a
// chain on its own. Grounded in sbatch_file_sink.go's buffered-writer,
// periodic-flush shape, generalized from one typed record to any
// message batch.
type KafkaLogSink struct {
	name string

	mu        sync.Mutex
	f         *os.File
	w         *bufio.Writer
	lastFlush time.Time
}

// NewKafkaLogSink opens (or creates) the file at path in append mode.
func NewKafkaLogSink(name, path string) (*KafkaLogSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &KafkaLogSink{
		name:      name,
		f:         f,
		w:         bufio.NewWriterSize(f, 1<<20),
		lastFlush: time.Now(),
	}, nil
}

func (s *KafkaLogSink) Name() string        { return s.name }
func (s *KafkaLogSink) IsTerminating() bool { return true }

// Execute appends every request to the log and answers with one no-op
// response per request.
func (s *KafkaLogSink) Execute(_ context.Context, _ *transform.Wrapper, requests []*message.Message) ([]*message.Message, error) {
	s.append(requests)
	out := make([]*message.Message, len(requests))
	for i, m := range requests {
		out[i] = message.NoOp(m.Protocol)
	}
	return out, nil
}

func (s *KafkaLogSink) append(batch []*message.Message) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.w)
	for _, m := range batch {
		rec := logRecord{
			Timestamp:     m.Meta.ReceivedAt,
			Protocol:      m.Protocol.String(),
			CorrelationID: m.Meta.CorrelationID,
			RawBase64:     base64.StdEncoding.EncodeToString(m.Raw),
		}
		if err := enc.Encode(&rec); err != nil {
			_ = s.w.Flush()
			_ = enc.Encode(&rec)
		}
	}
	if time.Since(s.lastFlush) > 100*time.Millisecond {
		_ = s.w.Flush()
		s.lastFlush = time.Now()
	}
}

// Flush forces buffered data to disk.
func (s *KafkaLogSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFlush = time.Now()
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *KafkaLogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}
