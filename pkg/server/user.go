package server

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/parleychat/parley/pkg/protocol"
	"github.com/parleychat/parley/pkg/transport"
)

// errClientClosed marks an orderly client-initiated disconnect, as
// opposed to a protocol violation.
var errClientClosed = errors.New("client closed the connection")

// UserSession is one connected client: its transport, its nickname and
// the channels it has joined. A session is alive from registration until
// shutdown; once shutdown has started it can no longer join channels.
type UserSession struct {
	id      int
	manager *SessionManager
	ts      *transport.Session

	mu       sync.Mutex
	nickname string
	joined   map[int]*Channel
	alive    bool
}

func newUserSession(manager *SessionManager, ts *transport.Session, id int) *UserSession {
	return &UserSession{
		id:      id,
		manager: manager,
		ts:      ts,
		joined:  make(map[int]*Channel),
		alive:   true,
	}
}

// ID returns the session id.
func (u *UserSession) ID() int {
	return u.id
}

// Nickname returns the claimed nickname, or the empty string before the
// handshake has completed.
func (u *UserSession) Nickname() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.nickname
}

func (u *UserSession) setNickname(name string) {
	u.mu.Lock()
	u.nickname = name
	u.mu.Unlock()
}

func (u *UserSession) String() string {
	name := u.Nickname()
	if name == "" {
		return fmt.Sprintf("user#%d", u.id)
	}
	return fmt.Sprintf("user#%d(%s)", u.id, name)
}

// run is the per-session read loop. It owns the connection from
// handshake to teardown; every exit path funnels through RemoveUser.
func (u *UserSession) run() {
	defer u.manager.RemoveUser(u)

	if !u.handshake() {
		return
	}

	for {
		pkt, err := u.ts.ReadPacket()
		if err != nil {
			return
		}
		if m := u.manager.metrics; m != nil {
			m.RecordPacketReceived(pkt.Type)
		}
		if err := u.handlePacket(pkt); err != nil {
			if !errors.Is(err, errClientClosed) {
				log.Printf("%s: %v", u, err)
				u.close(err.Error())
			}
			return
		}
	}
}

// handshake waits for the nickname announcement that must open every
// session. Anything else, an invalid name or a name already in use
// terminates the connection. A successful handshake pushes the channel
// listing and places the user in the Global channel.
func (u *UserSession) handshake() bool {
	pkt, err := u.ts.ReadPacket()
	if err != nil {
		return false
	}
	if pkt.Type != protocol.TypeClientNickname {
		u.close("expected a nickname announcement")
		return false
	}

	name := string(pkt.Payload)
	if !ValidName(name) {
		u.close("invalid nickname")
		return false
	}
	if !u.manager.claimNickname(u, name) {
		u.close("nickname already in use")
		return false
	}

	log.Printf("%s connected from %s", u, u.ts.RemoteIP())

	if err := u.sendChannelList(); err != nil {
		return false
	}

	global := u.manager.GlobalChannel()
	if !u.joinChannel(global) {
		return false
	}
	return u.send(protocol.TypeJoinChannel, (&protocol.JoinResponse{
		ChannelID: global.ID(),
		Name:      global.Name(),
	}).Encode()) == nil
}

func (u *UserSession) handlePacket(pkt *protocol.Packet) error {
	switch pkt.Type {
	case protocol.TypeClientNickname:
		// The nickname is fixed at handshake time.
		return errors.New("nickname can only be set once")

	case protocol.TypeChannelBroadcast:
		var req protocol.BroadcastRequest
		if err := req.Decode(pkt.Payload); err != nil {
			return err
		}
		// Broadcasts to channels the user never joined are dropped.
		if ch := u.channelByID(req.ChannelID); ch != nil {
			ch.Broadcast(u, req.Message)
		}
		return nil

	case protocol.TypeListUsers:
		id, err := protocol.ParseID(pkt.Payload)
		if err != nil {
			return err
		}
		return u.sendUserList(id)

	case protocol.TypeListChannels:
		return u.sendChannelList()

	case protocol.TypeJoinChannel:
		name := string(pkt.Payload)
		ch := u.manager.GetOrCreateChannel(name)
		if ch == nil {
			return fmt.Errorf("invalid channel name %q", name)
		}
		if !u.joinChannel(ch) {
			return nil
		}
		return u.send(protocol.TypeJoinChannel, (&protocol.JoinResponse{
			ChannelID: ch.ID(),
			Name:      ch.Name(),
		}).Encode())

	case protocol.TypeLeaveChannel:
		id, err := protocol.ParseID(pkt.Payload)
		if err != nil {
			return err
		}
		if !u.leaveChannel(id) {
			return nil
		}
		// Confirm an actual leave by echoing the id back.
		return u.send(protocol.TypeLeaveChannel, pkt.Payload)

	case protocol.TypeConnectionClosed:
		return errClientClosed

	default:
		return fmt.Errorf("unexpected %s packet", pkt.Type)
	}
}

// joinChannel records the membership before entering the channel, so a
// disconnect racing with the join either sees the membership and leaves
// it, or has already marked the session dead and the join is refused.
// Joining a channel the user is already in fails without side effects.
func (u *UserSession) joinChannel(ch *Channel) bool {
	u.mu.Lock()
	if !u.alive {
		u.mu.Unlock()
		return false
	}
	if _, ok := u.joined[ch.ID()]; ok {
		u.mu.Unlock()
		return false
	}
	u.joined[ch.ID()] = ch
	u.mu.Unlock()

	if !ch.Join(u) {
		u.mu.Lock()
		delete(u.joined, ch.ID())
		u.mu.Unlock()
		return false
	}
	return true
}

// leaveChannel detaches a membership and reports whether there was one
// to detach.
func (u *UserSession) leaveChannel(id int) bool {
	u.mu.Lock()
	ch := u.joined[id]
	delete(u.joined, id)
	u.mu.Unlock()

	if ch == nil {
		return false
	}
	ch.Leave(u)
	return true
}

func (u *UserSession) channelByID(id int) *Channel {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.joined[id]
}

func (u *UserSession) isAlive() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.alive
}

func (u *UserSession) sendChannelList() error {
	payload := (&protocol.ChannelList{Names: u.manager.ChannelNames()}).Encode()
	return u.send(protocol.TypeListChannels, payload)
}

// sendUserList answers a user listing request. A channel the user has
// not joined is answered with the bare channel id and no names.
func (u *UserSession) sendUserList(id int) error {
	listing := protocol.UserList{ChannelID: id}
	if ch := u.channelByID(id); ch != nil {
		listing.Names = ch.MemberNames()
	}
	return u.send(protocol.TypeListUsers, listing.Encode())
}

func (u *UserSession) send(typ protocol.PacketType, payload []byte) error {
	if err := u.ts.Write(payload, typ); err != nil {
		return err
	}
	if m := u.manager.metrics; m != nil {
		m.RecordPacketSent(typ)
	}
	return nil
}

// shutdown marks the session dead and closes the transport. It does not
// detach channels; RemoveUser does that afterwards.
func (u *UserSession) shutdown() {
	u.mu.Lock()
	u.alive = false
	u.mu.Unlock()
	u.ts.Close()
}

// takeChannels detaches and returns every joined channel. Only called
// after shutdown, so no new joins can slip in.
func (u *UserSession) takeChannels() []*Channel {
	u.mu.Lock()
	channels := make([]*Channel, 0, len(u.joined))
	for _, ch := range u.joined {
		channels = append(channels, ch)
	}
	u.joined = make(map[int]*Channel)
	u.mu.Unlock()
	return channels
}

// close sends a closing notice to the client, best effort, then tears
// the transport down.
func (u *UserSession) close(reason string) {
	_ = u.ts.WriteString(reason, protocol.TypeConnectionClosed)
	u.ts.Close()
}
