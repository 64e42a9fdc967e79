package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/protorelay/protorelay/internal/codec/resp"
	"github.com/protorelay/protorelay/internal/message"
	"github.com/stretchr/testify/require"
)

func TestKafkaLogSinkAppendsOneLinePerMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewKafkaLogSink("audit", path)
	require.NoError(t, err)

	reqs := []*message.Message{
		message.New(message.ProtocolRedis, []byte("*1\r\n$4\r\nPING\r\n")),
		message.New(message.ProtocolRedis, []byte("*1\r\n$4\r\nPING\r\n")),
	}
	answers, err := sink.Execute(context.Background(), nil, reqs)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec logRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		require.Equal(t, "redis", rec.Protocol)
		lines++
	}
	require.Equal(t, 2, lines)
}

func TestReplyToFrameTranslatesGoRedisShapes(t *testing.T) {
	require.Equal(t, resp.BulkString([]byte("PONG")), replyToFrame("PONG", nil))
	require.Equal(t, resp.Integer(42), replyToFrame(int64(42), nil))
	require.Equal(t, resp.NullBulkString(), replyToFrame(nil, nil))

	arr := replyToFrame([]interface{}{"a", int64(1)}, nil)
	require.Equal(t, resp.KindArray, arr.Kind)
	require.Len(t, arr.Elements, 2)
}
