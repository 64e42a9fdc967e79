// Package config loads the YAML topology document that describes which
// listeners run, which protocol codec and chain each one is bound to,
// and how named chains are built out of transforms.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultQueueSize is the BufferedChain queue capacity used when a
	// tee config omits queue_size.
	DefaultQueueSize = 128
	// DefaultSubmitTimeout is the timeout a Tee passes to its
	// BufferedChain submissions (the reply wait of submit_expect_response,
	// the queue wait of submit_no_return) when a tee config omits timeout.
	DefaultSubmitTimeout = 500 * time.Millisecond
	// MaxConnectionGoroutines caps how many accepted connections a
	// listener services concurrently, bounded by a semaphore; a
	// connection accepted beyond the cap is closed immediately.
	MaxConnectionGoroutines = 4096
	// ShutdownGracePeriod bounds how long the server waits for
	// in-flight connections to drain on SIGTERM before closing them.
	ShutdownGracePeriod = 30 * time.Second
)

// Duration wraps time.Duration so it can be written in YAML as a plain
// string ("250ms", "2s") instead of forcing a nested map for the
// common case.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the scalar-string duration form.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
