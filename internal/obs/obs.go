// Package obs holds the small observability helpers shared across
// chains and sinks: correlation-id generation and a structured-ish log
// line format, in a plain log.Printf style rather than a structured
// logging library.
package obs

import (
	"log"

	"github.com/google/uuid"
)

// NewCorrelationID returns a UUIDv7 string suitable for
// Message.Meta.CorrelationID, time-ordered so log lines for the same
// request sort naturally across a chain's components. Surfaces the
// error rather than panicking since it sits on a request hot path.
func NewCorrelationID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Logf writes a line tagged with chain/correlation context, the same
// shape as a "[chain correlation-id] message" prefixed log.Printf call.
func Logf(chain, correlationID, format string, args ...interface{}) {
	prefix := chain
	if correlationID != "" {
		prefix = chain + " " + correlationID
	}
	log.Printf("[%s] "+format, append([]interface{}{prefix}, args...)...)
}
