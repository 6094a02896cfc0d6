package server

import (
	"log"
	"strings"
	"sync"
	"unicode"

	"github.com/parleychat/parley/pkg/protocol"
	"github.com/parleychat/parley/pkg/transport"
)

const (
	// GlobalChannelID is the id of the permanent default channel. It is
	// created at startup and exempt from empty-channel deletion.
	GlobalChannelID = 0

	// GlobalChannelName is the name of the permanent default channel.
	GlobalChannelName = "Global"
)

// SessionManager owns the set of live user sessions and the channel
// registry. The user list and channel list are guarded by separate locks;
// each lock is held across the mutation and the notification fan-out it
// causes, so no session ever observes a half-updated listing. The two
// locks are never held at the same time.
type SessionManager struct {
	userMu     sync.Mutex
	users      map[int]*UserSession
	nextUserID int

	channelMu     sync.Mutex
	channels      []*Channel
	nextChannelID int

	metrics *Metrics
}

// NewSessionManager creates a session manager with the Global channel
// already present.
func NewSessionManager() *SessionManager {
	m := &SessionManager{
		users: make(map[int]*UserSession),
	}
	m.channels = append(m.channels, newChannel(GlobalChannelName, GlobalChannelID, m))
	m.nextChannelID = GlobalChannelID + 1
	return m
}

// SetMetrics attaches metrics to the session manager.
func (m *SessionManager) SetMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// ValidName reports whether a nickname or channel name is acceptable:
// non-empty, letters and digits only.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// AddUser allocates the next user id, registers a session for the
// transport and starts its read loop. Registration and loop start happen
// under the user lock so a concurrent removal cannot interleave.
func (m *SessionManager) AddUser(ts *transport.Session) *UserSession {
	m.userMu.Lock()
	u := newUserSession(m, ts, m.nextUserID)
	m.nextUserID++
	m.users[u.ID()] = u
	userCount := len(m.users)
	go u.run()
	m.userMu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
		m.metrics.RecordActiveSessions(userCount)
	}
	return u
}

// RemoveUser removes the session from the registry and from every channel
// it had joined, cascading empty-channel deletion. Calling it twice for
// the same session is a no-op.
func (m *SessionManager) RemoveUser(u *UserSession) {
	m.userMu.Lock()
	if _, ok := m.users[u.ID()]; !ok {
		m.userMu.Unlock()
		return
	}
	delete(m.users, u.ID())
	userCount := len(m.users)
	m.userMu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordSessionDisconnected()
		m.metrics.RecordActiveSessions(userCount)
	}

	u.shutdown()
	for _, ch := range u.takeChannels() {
		ch.Leave(u)
	}
	log.Printf("%s disconnected", u)
}

// claimNickname atomically checks case-insensitive availability and
// assigns the nickname. Sessions that have not completed their handshake
// hold the empty nickname and never collide.
func (m *SessionManager) claimNickname(u *UserSession, name string) bool {
	m.userMu.Lock()
	defer m.userMu.Unlock()
	for _, other := range m.users {
		if other != u && strings.EqualFold(other.Nickname(), name) {
			return false
		}
	}
	u.setNickname(name)
	return true
}

// UserCount returns the number of currently connected users.
func (m *SessionManager) UserCount() int {
	m.userMu.Lock()
	defer m.userMu.Unlock()
	return len(m.users)
}

// CreateChannel creates a channel if the name is valid and not a
// case-insensitive duplicate of a live channel, then pushes a refreshed
// channel listing to every connected user. Duplicate and invalid names
// report failure without touching the registry.
func (m *SessionManager) CreateChannel(name string) bool {
	if !ValidName(name) {
		return false
	}

	m.channelMu.Lock()
	if m.findChannelLocked(name) != nil {
		m.channelMu.Unlock()
		return false
	}
	ch := newChannel(name, m.nextChannelID, m)
	m.nextChannelID++
	m.channels = append(m.channels, ch)
	names := m.channelNamesLocked()
	m.channelMu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordLiveChannels(len(names))
	}
	m.notifyChannelList(names)
	return true
}

// GetOrCreateChannel looks a channel up case-insensitively, creating it
// when absent. It returns nil if the name was rejected.
func (m *SessionManager) GetOrCreateChannel(name string) *Channel {
	m.channelMu.Lock()
	if ch := m.findChannelLocked(name); ch != nil {
		m.channelMu.Unlock()
		return ch
	}
	if !ValidName(name) {
		m.channelMu.Unlock()
		return nil
	}
	ch := newChannel(name, m.nextChannelID, m)
	m.nextChannelID++
	m.channels = append(m.channels, ch)
	names := m.channelNamesLocked()
	m.channelMu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordLiveChannels(len(names))
	}
	m.notifyChannelList(names)
	return ch
}

// removeChannel drops a channel from the registry when its last member
// leaves. The Global channel is never removed. Channel ids are not
// reused.
func (m *SessionManager) removeChannel(ch *Channel) bool {
	if ch.ID() == GlobalChannelID {
		return false
	}

	m.channelMu.Lock()
	removed := false
	for i, c := range m.channels {
		if c == ch {
			m.channels = append(m.channels[:i], m.channels[i+1:]...)
			removed = true
			break
		}
	}
	names := m.channelNamesLocked()
	m.channelMu.Unlock()

	if !removed {
		return false
	}
	if m.metrics != nil {
		m.metrics.RecordLiveChannels(len(names))
	}
	m.notifyChannelList(names)
	return true
}

// GlobalChannel returns the permanent default channel.
func (m *SessionManager) GlobalChannel() *Channel {
	m.channelMu.Lock()
	defer m.channelMu.Unlock()
	for _, ch := range m.channels {
		if ch.ID() == GlobalChannelID {
			return ch
		}
	}
	// The Global channel is created in NewSessionManager and can never
	// be removed.
	panic("global channel missing from registry")
}

// ChannelNames returns the names of all live channels in registry order.
func (m *SessionManager) ChannelNames() []string {
	m.channelMu.Lock()
	defer m.channelMu.Unlock()
	return m.channelNamesLocked()
}

// ListChannelNames returns all live channel names, newline-joined.
func (m *SessionManager) ListChannelNames() string {
	return strings.Join(m.ChannelNames(), "\n")
}

// ChannelCount returns the number of live channels.
func (m *SessionManager) ChannelCount() int {
	m.channelMu.Lock()
	defer m.channelMu.Unlock()
	return len(m.channels)
}

func (m *SessionManager) findChannelLocked(name string) *Channel {
	for _, ch := range m.channels {
		if strings.EqualFold(ch.Name(), name) {
			return ch
		}
	}
	return nil
}

func (m *SessionManager) channelNamesLocked() []string {
	names := make([]string, len(m.channels))
	for i, ch := range m.channels {
		names[i] = ch.Name()
	}
	return names
}

// notifyChannelList pushes a channel listing to every connected user.
// Failed deliveries tear down only the failed sessions, after the user
// lock is released.
func (m *SessionManager) notifyChannelList(names []string) {
	payload := (&protocol.ChannelList{Names: names}).Encode()

	m.userMu.Lock()
	var failed []*UserSession
	for _, u := range m.users {
		if err := u.send(protocol.TypeListChannels, payload); err != nil {
			failed = append(failed, u)
		}
	}
	m.userMu.Unlock()

	for _, u := range failed {
		m.RemoveUser(u)
	}
}

// CloseAll notifies every live user with a shutdown message and tears all
// sessions down. Used only at process shutdown.
func (m *SessionManager) CloseAll(reason string) {
	m.userMu.Lock()
	users := make([]*UserSession, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	m.users = make(map[int]*UserSession)
	m.userMu.Unlock()

	for _, u := range users {
		u.close(reason)
	}
	if m.metrics != nil {
		m.metrics.RecordActiveSessions(0)
	}
}
