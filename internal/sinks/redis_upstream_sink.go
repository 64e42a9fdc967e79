package sinks

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/protorelay/protorelay/internal/chainerr"
	"github.com/protorelay/protorelay/internal/codec/resp"
	"github.com/protorelay/protorelay/internal/message"
	"github.com/protorelay/protorelay/internal/transform"
)

// RedisUpstreamSink is a terminating transform that forwards each
// request's RESP command to a real Redis server via go-redis and
// answers with the real response, rather than a synthetic one — the
// concrete backend a topology's main chain ultimately bottoms out on.
type RedisUpstreamSink struct {
	name   string
	client *redis.Client
}

// NewRedisUpstreamSink dials (lazily — go-redis connects on first use)
// a Redis server at addr.
func NewRedisUpstreamSink(name, addr string) *RedisUpstreamSink {
	return &RedisUpstreamSink{
		name:   name,
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (s *RedisUpstreamSink) Name() string        { return s.name }
func (s *RedisUpstreamSink) IsTerminating() bool { return true }

// Execute runs each request's decoded RESP command against the real
// server with go-redis's low-level Do, translating its reply back into
// a RESP Frame so downstream transforms (PortsRewrite, Tee's comparator)
// see a uniform message.Message regardless of which sink produced it.
func (s *RedisUpstreamSink) Execute(ctx context.Context, _ *transform.Wrapper, requests []*message.Message) ([]*message.Message, error) {
	out := make([]*message.Message, len(requests))
	for i, m := range requests {
		frame, ok := m.Details.(*resp.Frame)
		if !ok || frame.Kind != resp.KindArray {
			return nil, chainerr.New(chainerr.Decode, s.name, errNotACommand)
		}
		args := make([]interface{}, 0, len(frame.Elements))
		for _, e := range frame.Elements {
			args = append(args, string(e.Bulk))
		}
		res, err := s.client.Do(ctx, args...).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, chainerr.New(chainerr.Upstream, s.name, err)
		}
		out[i] = &message.Message{
			Protocol: message.ProtocolRedis,
			Details:  replyToFrame(res, err),
			Modified: true,
		}
	}
	return out, nil
}

func replyToFrame(res interface{}, err error) *resp.Frame {
	if errors.Is(err, redis.Nil) {
		return resp.NullBulkString()
	}
	switch v := res.(type) {
	case string:
		return resp.BulkString([]byte(v))
	case int64:
		return resp.Integer(v)
	case []interface{}:
		elems := make([]*resp.Frame, len(v))
		for i, e := range v {
			elems[i] = replyToFrame(e, nil)
		}
		return resp.Array(elems...)
	case nil:
		return resp.NullBulkString()
	default:
		return resp.SimpleString("OK")
	}
}

// Close releases the underlying connection pool.
func (s *RedisUpstreamSink) Close() error { return s.client.Close() }

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errNotACommand sentinelError = "request is not a RESP array command"
