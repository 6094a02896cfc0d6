package server

import (
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/parleychat/parley/pkg/protocol"
	"github.com/parleychat/parley/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer runs a server on an ephemeral port and tears it down
// with the test.
func startTestServer(t *testing.T) *Server {
	t.Helper()

	srv := NewServer(ServerConfig{Port: 0})
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		require.NoError(t, srv.Stop())
	})
	return srv
}

// dialChat connects to the server and announces a nickname.
func dialChat(t *testing.T, srv *Server, nickname string) *transport.Session {
	t.Helper()

	sess, err := transport.Dial(srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	require.NoError(t, sess.WriteString(nickname, protocol.TypeClientNickname))
	return sess
}

// readUntil reads packets until one of the wanted type arrives.
func readUntil(t *testing.T, sess *transport.Session, typ protocol.PacketType) *protocol.Packet {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pkt, err := sess.ReadPacket()
		require.NoError(t, err)
		if pkt.Type == typ {
			return pkt
		}
	}
	t.Fatalf("timed out waiting for %s", typ)
	return nil
}

// joinChannelOverWire joins a channel by name and returns the assigned id.
func joinChannelOverWire(t *testing.T, sess *transport.Session, name string) int {
	t.Helper()

	require.NoError(t, sess.WriteString(name, protocol.TypeJoinChannel))
	for {
		pkt := readUntil(t, sess, protocol.TypeJoinChannel)
		var resp protocol.JoinResponse
		require.NoError(t, resp.Decode(pkt.Payload))
		if resp.Name == name {
			return resp.ChannelID
		}
	}
}

func TestServerHandshake(t *testing.T) {
	srv := startTestServer(t)
	sess := dialChat(t, srv, "alice")

	// The server greets with the channel listing and places the user in
	// the Global channel.
	pkt := readUntil(t, sess, protocol.TypeListChannels)
	var channels protocol.ChannelList
	require.NoError(t, channels.Decode(pkt.Payload))
	assert.Equal(t, []string{GlobalChannelName}, channels.Names)

	pkt = readUntil(t, sess, protocol.TypeJoinChannel)
	var joined protocol.JoinResponse
	require.NoError(t, joined.Decode(pkt.Payload))
	assert.Equal(t, GlobalChannelID, joined.ChannelID)
	assert.Equal(t, GlobalChannelName, joined.Name)

	require.Eventually(t, func() bool {
		return srv.Sessions().UserCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerRejectsInvalidNickname(t *testing.T) {
	srv := startTestServer(t)
	sess := dialChat(t, srv, "not a name")

	pkt := readUntil(t, sess, protocol.TypeConnectionClosed)
	assert.Equal(t, "invalid nickname", string(pkt.Payload))

	_, err := sess.ReadPacket()
	assert.Equal(t, io.EOF, err)
}

func TestServerRejectsDuplicateNickname(t *testing.T) {
	srv := startTestServer(t)

	first := dialChat(t, srv, "alice")
	readUntil(t, first, protocol.TypeJoinChannel)

	second := dialChat(t, srv, "ALICE")
	pkt := readUntil(t, second, protocol.TypeConnectionClosed)
	assert.Equal(t, "nickname already in use", string(pkt.Payload))
}

func TestServerRejectsNicknameChange(t *testing.T) {
	srv := startTestServer(t)

	alice := dialChat(t, srv, "alice")
	readUntil(t, alice, protocol.TypeJoinChannel)

	require.NoError(t, alice.WriteString("alice2", protocol.TypeClientNickname))

	pkt := readUntil(t, alice, protocol.TypeConnectionClosed)
	assert.Equal(t, "nickname can only be set once", string(pkt.Payload))
}

func TestServerJoinAndBroadcast(t *testing.T) {
	srv := startTestServer(t)

	alice := dialChat(t, srv, "alice")
	readUntil(t, alice, protocol.TypeJoinChannel)
	bob := dialChat(t, srv, "bob")
	readUntil(t, bob, protocol.TypeJoinChannel)

	id := joinChannelOverWire(t, alice, "gophers")
	bobID := joinChannelOverWire(t, bob, "gophers")
	require.Equal(t, id, bobID, "both clients must land in the same channel")

	req := protocol.BroadcastRequest{ChannelID: id, Message: "hello: with colons"}
	require.NoError(t, alice.Write(req.Encode(), protocol.TypeChannelBroadcast))

	pkt := readUntil(t, bob, protocol.TypeChannelBroadcast)
	var notice protocol.BroadcastNotice
	require.NoError(t, notice.Decode(pkt.Payload))
	assert.Equal(t, id, notice.ChannelID)
	assert.Equal(t, "alice", notice.Sender)
	assert.Equal(t, "hello: with colons", notice.Message)

	// The sender hears their own broadcast too.
	pkt = readUntil(t, alice, protocol.TypeChannelBroadcast)
	require.NoError(t, notice.Decode(pkt.Payload))
	assert.Equal(t, "alice", notice.Sender)
}

func TestServerDoesNotConfirmDuplicateJoin(t *testing.T) {
	srv := startTestServer(t)

	alice := dialChat(t, srv, "alice")
	readUntil(t, alice, protocol.TypeJoinChannel)
	joinChannelOverWire(t, alice, "gophers")

	// A second join of the same channel must be silently ignored, so
	// the channel listing requested right after it has to arrive with
	// no join confirmation in between.
	require.NoError(t, alice.WriteString("gophers", protocol.TypeJoinChannel))
	require.NoError(t, alice.Write(nil, protocol.TypeListChannels))

	for {
		pkt, err := alice.ReadPacket()
		require.NoError(t, err)
		require.NotEqual(t, protocol.TypeJoinChannel, pkt.Type, "duplicate join must not be confirmed")
		if pkt.Type == protocol.TypeListChannels {
			break
		}
	}
}

func TestServerDoesNotConfirmLeaveOfUnjoinedChannel(t *testing.T) {
	srv := startTestServer(t)

	alice := dialChat(t, srv, "alice")
	readUntil(t, alice, protocol.TypeJoinChannel)

	require.NoError(t, alice.WriteString("999", protocol.TypeLeaveChannel))
	require.NoError(t, alice.Write(nil, protocol.TypeListChannels))

	for {
		pkt, err := alice.ReadPacket()
		require.NoError(t, err)
		require.NotEqual(t, protocol.TypeLeaveChannel, pkt.Type, "leave of an unjoined channel must not be confirmed")
		if pkt.Type == protocol.TypeListChannels {
			break
		}
	}
}

func TestServerUserListForUnjoinedChannel(t *testing.T) {
	srv := startTestServer(t)

	alice := dialChat(t, srv, "alice")
	readUntil(t, alice, protocol.TypeJoinChannel)

	bob := dialChat(t, srv, "bob")
	readUntil(t, bob, protocol.TypeJoinChannel)
	id := joinChannelOverWire(t, bob, "private")

	// Alice never joined, so she gets the bare id with no names.
	require.NoError(t, alice.WriteString(strconv.Itoa(id), protocol.TypeListUsers))
	pkt := readUntil(t, alice, protocol.TypeListUsers)
	var listing protocol.UserList
	require.NoError(t, listing.Decode(pkt.Payload))
	assert.Equal(t, id, listing.ChannelID)
	assert.Empty(t, listing.Names)

	require.NoError(t, bob.WriteString(strconv.Itoa(id), protocol.TypeListUsers))
	pkt = readUntil(t, bob, protocol.TypeListUsers)
	require.NoError(t, listing.Decode(pkt.Payload))
	assert.Equal(t, []string{"bob"}, listing.Names)
}

func TestServerDeletesEmptiedChannelButKeepsGlobal(t *testing.T) {
	srv := startTestServer(t)

	alice := dialChat(t, srv, "alice")
	readUntil(t, alice, protocol.TypeJoinChannel)
	id := joinChannelOverWire(t, alice, "fleeting")
	require.Equal(t, 2, srv.Sessions().ChannelCount())

	require.NoError(t, alice.WriteString(strconv.Itoa(id), protocol.TypeLeaveChannel))

	// The leave is confirmed by echoing the id.
	pkt := readUntil(t, alice, protocol.TypeLeaveChannel)
	assert.Equal(t, strconv.Itoa(id), string(pkt.Payload))

	require.Eventually(t, func() bool {
		return srv.Sessions().ChannelCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	alice.Close()
	require.Eventually(t, func() bool {
		return srv.Sessions().UserCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// The Global channel outlives its members.
	assert.Equal(t, []string{GlobalChannelName}, srv.Sessions().ChannelNames())
}

func TestServerClosesSessionOnMalformedPayload(t *testing.T) {
	srv := startTestServer(t)

	alice := dialChat(t, srv, "alice")
	readUntil(t, alice, protocol.TypeJoinChannel)

	// A broadcast without the id delimiter is a protocol violation.
	require.NoError(t, alice.WriteString("no delimiter here", protocol.TypeChannelBroadcast))

	readUntil(t, alice, protocol.TypeConnectionClosed)
	_, err := alice.ReadPacket()
	assert.Equal(t, io.EOF, err)

	require.Eventually(t, func() bool {
		return srv.Sessions().UserCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerClientAnnouncedDisconnect(t *testing.T) {
	srv := startTestServer(t)

	alice := dialChat(t, srv, "alice")
	readUntil(t, alice, protocol.TypeJoinChannel)

	require.NoError(t, alice.Write(nil, protocol.TypeConnectionClosed))

	require.Eventually(t, func() bool {
		return srv.Sessions().UserCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerStopNotifiesClients(t *testing.T) {
	srv := NewServer(ServerConfig{Port: 0})
	require.NoError(t, srv.Start())

	alice := dialChat(t, srv, "alice")
	readUntil(t, alice, protocol.TypeJoinChannel)

	require.NoError(t, srv.Stop())

	pkt := readUntil(t, alice, protocol.TypeConnectionClosed)
	assert.Equal(t, "server shutting down", string(pkt.Payload))
}
