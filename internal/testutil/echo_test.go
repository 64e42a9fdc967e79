package testutil

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockRedisServerAnswersWithFixedReply(t *testing.T) {
	srv, err := NewMockRedisServer([]byte("+PONG\r\n"))
	require.NoError(t, err)
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("*1\r\n$4\r\nPING\r\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+PONG\r\n", line)
}
