package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshalsScalarString(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte(`250ms`), &d))
	require.Equal(t, 250*time.Millisecond, d.Duration)
}

func TestDurationRejectsUnparsable(t *testing.T) {
	var d Duration
	require.Error(t, yaml.Unmarshal([]byte(`not-a-duration`), &d))
}

func TestExpandEnvVarsSubstitutesKnownVar(t *testing.T) {
	t.Setenv("PROTORELAY_TEST_ADDR", "127.0.0.1:7000")
	got := expandEnvVars("${PROTORELAY_TEST_ADDR}")
	require.Equal(t, "127.0.0.1:7000", got)
}

func TestExpandEnvVarsLeavesPlainTextAlone(t *testing.T) {
	require.Equal(t, "0.0.0.0:6379", expandEnvVars("0.0.0.0:6379"))
}
