package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type stubDetails struct {
	protocol Protocol
	payload  string
}

func (s *stubDetails) Protocol() Protocol { return s.protocol }
func (s *stubDetails) EqualPayload(other any) bool {
	o, ok := other.(*stubDetails)
	return ok && o.payload == s.payload
}

func TestCloneDeepCopiesRaw(t *testing.T) {
	m := New(ProtocolRedis, []byte("hello"))
	clone := m.Clone()
	clone.Raw[0] = 'H'
	require.Equal(t, byte('h'), m.Raw[0])
	require.Equal(t, byte('H'), clone.Raw[0])
}

func TestCloneBatchPreservesOrder(t *testing.T) {
	batch := []*Message{
		New(ProtocolRedis, []byte("a")),
		New(ProtocolRedis, []byte("b")),
	}
	cloned := CloneBatch(batch)
	require.Equal(t, []byte("a"), cloned[0].Raw)
	require.Equal(t, []byte("b"), cloned[1].Raw)
}

func TestEqualPayloadDelegatesToDetails(t *testing.T) {
	a := &Message{Details: &stubDetails{payload: "x"}, Raw: []byte("raw-a")}
	b := &Message{Details: &stubDetails{payload: "x"}, Raw: []byte("raw-b")}
	require.True(t, EqualPayload(a, b))

	c := &Message{Details: &stubDetails{payload: "y"}, Raw: []byte("raw-a")}
	require.False(t, EqualPayload(a, c))
}

func TestEqualPayloadFallsBackToRawBytes(t *testing.T) {
	a := &Message{Raw: []byte("same")}
	b := &Message{Raw: []byte("same")}
	c := &Message{Raw: []byte("different")}
	require.True(t, EqualPayload(a, b))
	require.False(t, EqualPayload(a, c))
}

func TestEqualBatchRequiresSameLength(t *testing.T) {
	a := []*Message{New(ProtocolRedis, []byte("x"))}
	b := []*Message{New(ProtocolRedis, []byte("x")), New(ProtocolRedis, []byte("y"))}
	require.False(t, EqualBatch(a, b))
}

func TestNoOpHasNilRaw(t *testing.T) {
	m := NoOp(ProtocolKafka)
	require.Nil(t, m.Raw)
	require.Equal(t, ProtocolKafka, m.Protocol)
}
