package transport

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/parleychat/parley/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeSessions(t *testing.T) (*Session, *Session) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	client := NewSession(clientConn)
	server := NewSession(serverConn)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestSessionRoundTrip(t *testing.T) {
	client, server := pipeSessions(t)

	done := make(chan error, 1)
	go func() {
		done <- client.WriteString("0:hello", protocol.TypeChannelBroadcast)
	}()

	pkt, err := server.ReadPacket()
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, protocol.TypeChannelBroadcast, pkt.Type)
	assert.Equal(t, []byte("0:hello"), pkt.Payload)
}

func TestSessionConcurrentWritersDoNotInterleaveFragments(t *testing.T) {
	client, server := pipeSessions(t)

	// Two goroutines each write a payload that fragments into two
	// packets. Whole payloads may interleave, but the fragments of one
	// payload must stay consecutive per type.
	payloadA := bytes.Repeat([]byte{'a'}, protocol.MaxPayload+500)
	payloadB := bytes.Repeat([]byte{'b'}, protocol.MaxPayload+500)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, client.Write(payloadA, protocol.TypeChannelBroadcast))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, client.Write(payloadB, protocol.TypeClientJoined))
	}()

	received := map[protocol.PacketType][]byte{}
	for i := 0; i < 4; i++ {
		pkt, err := server.ReadPacket()
		require.NoError(t, err)
		received[pkt.Type] = append(received[pkt.Type], pkt.Payload...)
	}
	wg.Wait()

	assert.Equal(t, payloadA, received[protocol.TypeChannelBroadcast])
	assert.Equal(t, payloadB, received[protocol.TypeClientJoined])
}

func TestSessionReadFailsAfterPeerClose(t *testing.T) {
	client, server := pipeSessions(t)

	client.Close()
	_, err := server.ReadPacket()
	assert.Equal(t, io.EOF, err)
}

func TestSessionCloseIdempotent(t *testing.T) {
	client, _ := pipeSessions(t)

	client.Close()
	client.Close() // second close must not panic

	err := client.WriteString("x", protocol.TypeClientNickname)
	assert.Error(t, err)
}

func TestSessionRemoteIP(t *testing.T) {
	listener, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	sess, err := Dial(listener.Addr().String())
	require.NoError(t, err)
	defer sess.Close()

	serverConn := <-accepted
	defer serverConn.Close()

	assert.Equal(t, "127.0.0.1", sess.RemoteIP())
	assert.Equal(t, "127.0.0.1", NewSession(serverConn).RemoteIP())
}
