package server

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/protorelay/protorelay/internal/codec/resp"
	"github.com/protorelay/protorelay/internal/message"
	"github.com/protorelay/protorelay/internal/transform"
	"github.com/stretchr/testify/require"
)

// delayedEcho answers bulk-string requests with their own payload as a
// simple string, sleeping first if the request's bulk string is "SLOW" —
// used to prove the reorderer restores request order even when an
// earlier request's chain execution finishes after a later one's.
type delayedEcho struct{}

func (delayedEcho) Name() string        { return "DelayedEcho" }
func (delayedEcho) IsTerminating() bool { return true }
func (delayedEcho) Execute(ctx context.Context, _ *transform.Wrapper, reqs []*message.Message) ([]*message.Message, error) {
	out := make([]*message.Message, len(reqs))
	for i, m := range reqs {
		f := m.Details.(*resp.Frame)
		if bytes.Equal(f.Bulk, []byte("SLOW")) {
			time.Sleep(100 * time.Millisecond)
		}
		out[i] = &message.Message{Protocol: message.ProtocolRedis, Details: resp.SimpleString(string(f.Bulk)), Modified: true}
	}
	return out, nil
}

func TestServerPreservesResponseOrderAcrossConcurrentChainExecutions(t *testing.T) {
	builder := &transform.ChainBuilder{
		Name: "echo_chain",
		Specs: []transform.TransformSpec{{
			Name:          "DelayedEcho",
			IsTerminating: true,
			New:           func() (transform.Transform, error) { return delayedEcho{}, nil },
		}},
	}
	ln, err := NewListener("test", "127.0.0.1:0", resp.Codec{}, builder)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ln.Serve(ctx)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// First request is slow, second is fast; responses must still come
	// back SLOW then FAST, reflecting send order, not completion order.
	_, err = conn.Write([]byte("$4\r\nSLOW\r\n"))
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond) // force separate Decode calls
	_, err = conn.Write([]byte("$4\r\nFAST\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	line1, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+SLOW\r\n", line1)

	line2, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+FAST\r\n", line2)
}
