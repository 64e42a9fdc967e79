package chainerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesDirectKind(t *testing.T) {
	err := New(Timeout, "side_chain", errors.New("deadline exceeded"))
	require.True(t, Is(err, Timeout))
	require.False(t, Is(err, Backpressure))
}

func TestIsFollowsWrappedChain(t *testing.T) {
	inner := New(Upstream, "redis_sink", errors.New("connection refused"))
	wrapped := fmt.Errorf("chain execution failed: %w", inner)
	require.True(t, Is(wrapped, Upstream))
}

func TestErrorStringIncludesChainAndKind(t *testing.T) {
	err := New(Validation, "shadow", errors.New("diverged"))
	require.Contains(t, err.Error(), "Validation")
	require.Contains(t, err.Error(), "shadow")
}
