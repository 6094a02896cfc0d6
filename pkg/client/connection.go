package client

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/parleychat/parley/pkg/protocol"
	"github.com/parleychat/parley/pkg/transport"
	"github.com/parleychat/parley/pkg/trust"
)

// Handler receives decoded server events. Calls are made from the
// connection's read loop, one at a time.
type Handler interface {
	// HandleBroadcast delivers a chat message fanned out to a channel.
	HandleBroadcast(notice protocol.BroadcastNotice)

	// HandleMemberJoined and HandleMemberLeft deliver membership notices.
	HandleMemberJoined(notice protocol.ChannelNotice)
	HandleMemberLeft(notice protocol.ChannelNotice)

	// HandleUserList delivers a channel's member listing.
	HandleUserList(listing protocol.UserList)

	// HandleChannelList delivers the server's channel listing. The server
	// pushes one unsolicited whenever a channel is created or deleted.
	HandleChannelList(listing protocol.ChannelList)

	// HandleJoined confirms a channel join with the assigned channel id.
	HandleJoined(resp protocol.JoinResponse)

	// HandleLeft confirms a channel leave.
	HandleLeft(channelID int)

	// HandleClosed reports that the server closed the session, with the
	// server's stated reason when one was sent.
	HandleClosed(reason string)
}

// Options configures a client connection.
type Options struct {
	// Address is the "host:port" of the server.
	Address string

	// Nickname is announced immediately after connecting. The server
	// closes the session if it is invalid or already in use.
	Nickname string

	// UseTLS dials with TLS when set. TrustStore decides which server
	// certificates are acceptable and must be set alongside it.
	UseTLS     bool
	TrustStore *trust.Store

	// Handler receives decoded server events.
	Handler Handler
}

// Connection is a live client session. Its action methods may be called
// from any goroutine.
type Connection struct {
	sess    *transport.Session
	handler Handler

	done chan struct{}

	mu  sync.Mutex
	err error
}

// Connect dials the server, announces the nickname and starts the read
// loop.
func Connect(opts Options) (*Connection, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("a handler is required")
	}

	var (
		sess *transport.Session
		err  error
	)
	if opts.UseTLS {
		if opts.TrustStore == nil {
			return nil, fmt.Errorf("a trust store is required for TLS")
		}
		sess, err = transport.DialTLS(opts.Address, opts.TrustStore)
	} else {
		sess, err = transport.Dial(opts.Address)
	}
	if err != nil {
		return nil, err
	}

	if err := sess.WriteString(opts.Nickname, protocol.TypeClientNickname); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to announce nickname: %w", err)
	}

	c := &Connection{
		sess:    sess,
		handler: opts.Handler,
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// SendMessage broadcasts a message to a joined channel.
func (c *Connection) SendMessage(channelID int, message string) error {
	req := protocol.BroadcastRequest{ChannelID: channelID, Message: message}
	return c.sess.Write(req.Encode(), protocol.TypeChannelBroadcast)
}

// Join asks to join a channel by name, creating it if needed. The
// assigned id arrives through HandleJoined.
func (c *Connection) Join(name string) error {
	return c.sess.WriteString(name, protocol.TypeJoinChannel)
}

// Leave leaves a channel by id.
func (c *Connection) Leave(channelID int) error {
	return c.sess.WriteString(strconv.Itoa(channelID), protocol.TypeLeaveChannel)
}

// RequestUsers asks for a channel's member listing.
func (c *Connection) RequestUsers(channelID int) error {
	return c.sess.WriteString(strconv.Itoa(channelID), protocol.TypeListUsers)
}

// RequestChannels asks for the channel listing.
func (c *Connection) RequestChannels() error {
	return c.sess.Write(nil, protocol.TypeListChannels)
}

// Close announces the disconnect to the server, best effort, and closes
// the connection.
func (c *Connection) Close() {
	_ = c.sess.Write(nil, protocol.TypeConnectionClosed)
	c.sess.Close()
}

// Done is closed when the read loop has ended.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err reports why the read loop ended, nil for an orderly close.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Connection) readLoop() {
	defer close(c.done)
	defer c.sess.Close()

	for {
		pkt, err := c.sess.ReadPacket()
		if err != nil {
			c.setErr(err)
			return
		}
		if err := c.dispatch(pkt); err != nil {
			c.setErr(err)
			return
		}
		if pkt.Type == protocol.TypeConnectionClosed {
			return
		}
	}
}

func (c *Connection) dispatch(pkt *protocol.Packet) error {
	switch pkt.Type {
	case protocol.TypeChannelBroadcast:
		var notice protocol.BroadcastNotice
		if err := notice.Decode(pkt.Payload); err != nil {
			return err
		}
		c.handler.HandleBroadcast(notice)

	case protocol.TypeClientJoined:
		var notice protocol.ChannelNotice
		if err := notice.Decode(pkt.Payload); err != nil {
			return err
		}
		c.handler.HandleMemberJoined(notice)

	case protocol.TypeClientLeft:
		var notice protocol.ChannelNotice
		if err := notice.Decode(pkt.Payload); err != nil {
			return err
		}
		c.handler.HandleMemberLeft(notice)

	case protocol.TypeListUsers:
		var listing protocol.UserList
		if err := listing.Decode(pkt.Payload); err != nil {
			return err
		}
		c.handler.HandleUserList(listing)

	case protocol.TypeListChannels:
		var listing protocol.ChannelList
		if err := listing.Decode(pkt.Payload); err != nil {
			return err
		}
		c.handler.HandleChannelList(listing)

	case protocol.TypeJoinChannel:
		var resp protocol.JoinResponse
		if err := resp.Decode(pkt.Payload); err != nil {
			return err
		}
		c.handler.HandleJoined(resp)

	case protocol.TypeLeaveChannel:
		id, err := protocol.ParseID(pkt.Payload)
		if err != nil {
			return err
		}
		c.handler.HandleLeft(id)

	case protocol.TypeConnectionClosed:
		c.handler.HandleClosed(string(pkt.Payload))

	default:
		return fmt.Errorf("unexpected %s packet from server", pkt.Type)
	}
	return nil
}

func (c *Connection) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}
