package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/protorelay/protorelay/internal/message"
	"github.com/protorelay/protorelay/internal/sinks"
	"github.com/protorelay/protorelay/internal/transform"
	"github.com/protorelay/protorelay/internal/transform/builtins"
	"github.com/protorelay/protorelay/internal/transform/sampler"
	"github.com/protorelay/protorelay/internal/transform/tee"
)

// Topology is the top-level YAML document: a set of listeners, each
// bound to a named chain, plus the named chains themselves so a chain
// can be shared by more than one listener or referenced as a Tee/Sampler
// side chain.
type Topology struct {
	Listeners []ListenerConfig       `yaml:"listeners"`
	Chains    map[string][]StepConfig `yaml:"chains"`
}

// ListenerConfig describes one bound socket: which protocol codec reads
// it and which named chain processes its traffic.
type ListenerConfig struct {
	Name     string `yaml:"name"`
	Protocol string `yaml:"protocol"` // "redis" is the only codec shipped
	Address  string `yaml:"address"`
	Chain    string `yaml:"chain"`
}

// StepConfig is one entry in a chain's transform list. Exactly one of
// its fields should be set; which one selects the transform kind, the
// same "at most one arm populated" union style a scalar-or-map config
// value uses elsewhere in this package, generalized here to a fixed
// set of named arms instead of scalar-vs-map.
type StepConfig struct {
	PortsRewrite    *PortsRewriteConfig    `yaml:"ports_rewrite,omitempty"`
	TimestampTagger *TimestampTaggerConfig `yaml:"timestamp_tagger,omitempty"`
	Tee             *TeeConfig             `yaml:"tee,omitempty"`
	Sampler         *SamplerConfig         `yaml:"sampler,omitempty"`
	NullSink        *NamedConfig           `yaml:"null_sink,omitempty"`
	DropSink        *NamedConfig           `yaml:"drop_sink,omitempty"`
	EchoSink        *NamedConfig           `yaml:"echo_sink,omitempty"`
	CountingSink    *NamedConfig           `yaml:"counting_sink,omitempty"`
	ErrSink         *ErrSinkConfig         `yaml:"err_sink,omitempty"`
	RedisSink       *RedisSinkConfig       `yaml:"redis_sink,omitempty"`
	KafkaLogSink    *KafkaLogSinkConfig    `yaml:"kafka_log_sink,omitempty"`
}

// RedisSinkConfig configures a terminating connection to a real Redis
// upstream.
type RedisSinkConfig struct {
	Name    string `yaml:"name,omitempty"`
	Address string `yaml:"address"`
}

// KafkaLogSinkConfig configures a terminating JSONL audit sink.
type KafkaLogSinkConfig struct {
	Name string `yaml:"name,omitempty"`
	Path string `yaml:"path"`
}

// NamedConfig is the shape of a transform that takes no options beyond
// an optional display name.
type NamedConfig struct {
	Name string `yaml:"name,omitempty"`
}

// PortsRewriteConfig configures the PortsRewrite transform.
type PortsRewriteConfig struct {
	Name    string `yaml:"name,omitempty"`
	NewPort int64  `yaml:"new_port"`
}

// TimestampTaggerConfig configures the TimestampTagger transform.
type TimestampTaggerConfig struct {
	Name string `yaml:"name,omitempty"`
}

// ErrSinkConfig configures ErrSink.
type ErrSinkConfig struct {
	Name    string `yaml:"name,omitempty"`
	Message string `yaml:"message"`
}

// TeeConfig configures the Tee transform.
type TeeConfig struct {
	Name          string   `yaml:"name,omitempty"`
	Behavior      string   `yaml:"behavior"` // ignore|fail_on_mismatch|subchain_on_mismatch
	Timeout       Duration `yaml:"timeout,omitempty"`
	QueueSize     int      `yaml:"queue_size,omitempty"`
	Side          string   `yaml:"side"`               // named chain to fork to
	MismatchChain string   `yaml:"mismatch_chain,omitempty"` // required for subchain_on_mismatch
}

// SamplerConfig configures the Sampler transform.
type SamplerConfig struct {
	Name        string `yaml:"name,omitempty"`
	Numerator   int    `yaml:"numerator"`
	Denominator int    `yaml:"denominator"`
	Side        string `yaml:"side"`
}

var envVarRE = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} references with environment variable
// values, generalized here to listener addresses.
func expandEnvVars(s string) string {
	return envVarRE.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRE.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// LoadTopology reads and parses a topology YAML file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	for i, l := range topo.Listeners {
		topo.Listeners[i].Address = expandEnvVars(l.Address)
	}
	return &topo, nil
}

// Builders compiles every named chain in the topology into a
// transform.ChainBuilder, resolving Tee/Sampler side-chain and
// mismatch-chain references against the same map. Chain definitions may
// reference each other in any order; cycles are rejected.
type Builders struct {
	byName map[string]*transform.ChainBuilder
}

// BuildAll compiles every chain the topology defines.
func BuildAll(topo *Topology) (*Builders, error) {
	b := &Builders{byName: make(map[string]*transform.ChainBuilder, len(topo.Chains))}
	building := make(map[string]bool)
	var build func(name string) (*transform.ChainBuilder, error)
	build = func(name string) (*transform.ChainBuilder, error) {
		if cb, ok := b.byName[name]; ok {
			return cb, nil
		}
		if building[name] {
			return nil, fmt.Errorf("chain %q: cyclic reference", name)
		}
		steps, ok := topo.Chains[name]
		if !ok {
			return nil, fmt.Errorf("chain %q: not defined", name)
		}
		building[name] = true
		specs := make([]transform.TransformSpec, 0, len(steps))
		for i, step := range steps {
			spec, err := buildStep(step, build)
			if err != nil {
				return nil, fmt.Errorf("chain %q step %d: %w", name, i, err)
			}
			specs = append(specs, spec)
		}
		delete(building, name)
		cb := &transform.ChainBuilder{Name: name, Specs: specs}
		b.byName[name] = cb
		return cb, nil
	}

	for name := range topo.Chains {
		if _, err := build(name); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Chain looks up a compiled ChainBuilder by name.
func (b *Builders) Chain(name string) (*transform.ChainBuilder, bool) {
	cb, ok := b.byName[name]
	return cb, ok
}

func buildStep(step StepConfig, resolve func(string) (*transform.ChainBuilder, error)) (transform.TransformSpec, error) {
	switch {
	case step.PortsRewrite != nil:
		c := step.PortsRewrite
		name := nameOr(c.Name, "PortsRewrite")
		return transform.TransformSpec{
			Name: name,
			New: func() (transform.Transform, error) {
				return builtins.NewPortsRewrite(name, c.NewPort), nil
			},
		}, nil

	case step.TimestampTagger != nil:
		name := nameOr(step.TimestampTagger.Name, "TimestampTagger")
		return transform.TransformSpec{
			Name: name,
			New: func() (transform.Transform, error) {
				return builtins.NewTimestampTagger(name), nil
			},
		}, nil

	case step.NullSink != nil:
		name := nameOr(step.NullSink.Name, "NullSink")
		return transform.TransformSpec{Name: name, IsTerminating: true,
			New: func() (transform.Transform, error) { return builtins.NewNullSink(name), nil }}, nil

	case step.DropSink != nil:
		name := nameOr(step.DropSink.Name, "DropSink")
		return transform.TransformSpec{Name: name, IsTerminating: true,
			New: func() (transform.Transform, error) { return builtins.NewDropSink(name), nil }}, nil

	case step.EchoSink != nil:
		name := nameOr(step.EchoSink.Name, "EchoSink")
		return transform.TransformSpec{Name: name, IsTerminating: true,
			New: func() (transform.Transform, error) { return builtins.NewEchoSink(name), nil }}, nil

	case step.CountingSink != nil:
		name := nameOr(step.CountingSink.Name, "CountingSink")
		return transform.TransformSpec{Name: name, IsTerminating: true,
			New: func() (transform.Transform, error) { return builtins.NewCountingSink(name), nil }}, nil

	case step.ErrSink != nil:
		c := step.ErrSink
		name := nameOr(c.Name, "ErrSink")
		return transform.TransformSpec{Name: name, IsTerminating: true,
			New: func() (transform.Transform, error) { return builtins.NewErrSink(name, c.Message), nil }}, nil

	case step.RedisSink != nil:
		c := step.RedisSink
		name := nameOr(c.Name, "RedisSink")
		return transform.TransformSpec{Name: name, IsTerminating: true,
			New: func() (transform.Transform, error) { return sinks.NewRedisUpstreamSink(name, c.Address), nil }}, nil

	case step.KafkaLogSink != nil:
		c := step.KafkaLogSink
		name := nameOr(c.Name, "KafkaLogSink")
		return transform.TransformSpec{Name: name, IsTerminating: true,
			New: func() (transform.Transform, error) { return sinks.NewKafkaLogSink(name, c.Path) }}, nil

	case step.Tee != nil:
		return buildTeeStep(step.Tee, resolve)

	case step.Sampler != nil:
		return buildSamplerStep(step.Sampler, resolve)

	default:
		return transform.TransformSpec{}, fmt.Errorf("empty chain step")
	}
}

func buildTeeStep(c *TeeConfig, resolve func(string) (*transform.ChainBuilder, error)) (transform.TransformSpec, error) {
	if c.Side == "" {
		return transform.TransformSpec{}, fmt.Errorf("tee: missing side chain reference")
	}
	side, err := resolve(c.Side)
	if err != nil {
		return transform.TransformSpec{}, err
	}
	behavior, err := parseBehavior(c.Behavior)
	if err != nil {
		return transform.TransformSpec{}, err
	}
	var mismatch *transform.ChainBuilder
	if behavior == tee.SubchainOnMismatch {
		if c.MismatchChain == "" {
			return transform.TransformSpec{}, fmt.Errorf("tee: subchain_on_mismatch requires mismatch_chain")
		}
		mismatch, err = resolve(c.MismatchChain)
		if err != nil {
			return transform.TransformSpec{}, err
		}
	}
	timeout := c.Timeout.Duration
	if timeout == 0 {
		timeout = DefaultSubmitTimeout
	}
	queueSize := c.QueueSize
	if queueSize == 0 {
		queueSize = DefaultQueueSize
	}
	tb := &tee.Builder{
		Name:          nameOr(c.Name, "Tee"),
		Side:          side,
		MismatchChain: mismatch,
		Behavior:      behavior,
		Timeout:       timeout,
		QueueSize:     queueSize,
	}
	return tb.Spec(), nil
}

func buildSamplerStep(c *SamplerConfig, resolve func(string) (*transform.ChainBuilder, error)) (transform.TransformSpec, error) {
	if c.Side == "" {
		return transform.TransformSpec{}, fmt.Errorf("sampler: missing side chain reference")
	}
	side, err := resolve(c.Side)
	if err != nil {
		return transform.TransformSpec{}, err
	}
	if c.Denominator <= 0 {
		return transform.TransformSpec{}, fmt.Errorf("sampler: denominator must be positive")
	}
	name := nameOr(c.Name, "Sampler")
	s := sampler.New(name, side, c.Numerator, c.Denominator)
	return s.Spec(name), nil
}

func parseBehavior(s string) (tee.ConsistencyBehavior, error) {
	switch s {
	case "", "ignore":
		return tee.Ignore, nil
	case "fail_on_mismatch":
		return tee.FailOnMismatch, nil
	case "subchain_on_mismatch":
		return tee.SubchainOnMismatch, nil
	default:
		return 0, fmt.Errorf("unknown tee behavior %q", s)
	}
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// ProtocolFromString maps a listener's configured protocol name to the
// message.Protocol it decodes, returning message.ProtocolUnknown (and
// false) for anything not recognized.
func ProtocolFromString(s string) (message.Protocol, bool) {
	switch s {
	case "redis":
		return message.ProtocolRedis, true
	case "cassandra":
		return message.ProtocolCassandra, true
	case "kafka":
		return message.ProtocolKafka, true
	default:
		return message.ProtocolUnknown, false
	}
}
