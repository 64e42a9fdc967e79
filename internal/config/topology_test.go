package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleTopology = `
listeners:
  - name: redis_in
    protocol: redis
    address: "0.0.0.0:6379"
    chain: main_chain

chains:
  main_chain:
    - ports_rewrite:
        new_port: 2004
    - tee:
        name: shadow
        behavior: ignore
        side: side_chain
    - timestamp_tagger: {}
    - null_sink: {}

  side_chain:
    - counting_sink: {}
`

func parseTopology(t *testing.T, doc string) *Topology {
	t.Helper()
	var topo Topology
	require.NoError(t, yaml.Unmarshal([]byte(doc), &topo))
	return &topo
}

func TestBuildAllCompilesEveryChain(t *testing.T) {
	topo := parseTopology(t, sampleTopology)
	builders, err := BuildAll(topo)
	require.NoError(t, err)

	main, ok := builders.Chain("main_chain")
	require.True(t, ok)
	require.Nil(t, main.Validate())

	side, ok := builders.Chain("side_chain")
	require.True(t, ok)
	require.Nil(t, side.Validate())
}

func TestBuildAllRejectsMissingSideChain(t *testing.T) {
	topo := parseTopology(t, `
chains:
  main_chain:
    - tee:
        behavior: ignore
        side: missing_chain
`)
	_, err := BuildAll(topo)
	require.Error(t, err)
}

func TestBuildAllRejectsCycle(t *testing.T) {
	topo := parseTopology(t, `
chains:
  a:
    - tee:
        behavior: ignore
        side: b
  b:
    - tee:
        behavior: ignore
        side: a
`)
	_, err := BuildAll(topo)
	require.Error(t, err)
}

func TestLoadTopologyExpandsListenerAddress(t *testing.T) {
	t.Setenv("PROTORELAY_PORT", "0.0.0.0:6400")
	dir := t.TempDir()
	path := dir + "/topology.yaml"
	require.NoError(t, os.WriteFile(path, []byte(`
listeners:
  - name: redis_in
    protocol: redis
    address: "${PROTORELAY_PORT}"
    chain: main_chain
chains:
  main_chain:
    - null_sink: {}
`), 0o644))
	topo, err := LoadTopology(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:6400", topo.Listeners[0].Address)
}
