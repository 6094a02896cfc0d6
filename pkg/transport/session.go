// Package transport wraps a single connection, plain or TLS, with the
// packet codec. A session is owned by exactly one reader; writes may come
// from many goroutines (broadcast fan-out) and are serialized behind a
// per-session lock so multi-packet payloads never interleave.
package transport

import (
	"net"
	"sync"

	"github.com/parleychat/parley/pkg/protocol"
)

// Session is one framed connection.
type Session struct {
	conn      net.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewSession wraps an established connection.
func NewSession(conn net.Conn) *Session {
	return &Session{conn: conn}
}

// ReadPacket blocks until a full packet is decoded or the stream fails.
// Any error is terminal for the session.
func (s *Session) ReadPacket() (*protocol.Packet, error) {
	return protocol.ReadPacket(s.conn)
}

// Write sends the payload as one or more packets of the given type. The
// write lock guarantees that fragments of a single payload are emitted
// back to back even when several goroutines write to the same session.
func (s *Session) Write(payload []byte, typ protocol.PacketType) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.WritePayload(s.conn, typ, payload)
}

// WriteString sends a string payload.
func (s *Session) WriteString(payload string, typ protocol.PacketType) error {
	return s.Write([]byte(payload), typ)
}

// Close closes the underlying connection. It is idempotent and swallows
// errors from an already-broken socket.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// RemoteIP returns the peer's bare IP for logging, without the port.
func (s *Session) RemoteIP() string {
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		return s.conn.RemoteAddr().String()
	}
	return host
}
