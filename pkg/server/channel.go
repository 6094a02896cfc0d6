package server

import (
	"sync"

	"github.com/parleychat/parley/pkg/protocol"
)

// Channel is a named broadcast group. The member list is guarded by the
// channel lock; the lock is released before any failed member is torn
// down, since teardown walks back into the channel through Leave.
type Channel struct {
	id      int
	name    string
	manager *SessionManager

	mu      sync.Mutex
	members []*UserSession
}

func newChannel(name string, id int, manager *SessionManager) *Channel {
	return &Channel{id: id, name: name, manager: manager}
}

// ID returns the channel id. Ids are stable for the channel's lifetime
// and never reused.
func (c *Channel) ID() int {
	return c.id
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Join adds a user to the member list and notifies every member,
// including the newcomer, with a join notice and a fresh user list. It
// fails without sending anything when the user is already a member.
// The aliveness check runs under the channel lock: a disconnect that
// wins the race has already marked the session dead by the time Join
// gets the lock, so a dead session can never be appended as a member.
func (c *Channel) Join(u *UserSession) bool {
	c.mu.Lock()
	if !u.isAlive() {
		c.mu.Unlock()
		return false
	}
	for _, member := range c.members {
		if member == u {
			c.mu.Unlock()
			return false
		}
	}
	c.members = append(c.members, u)
	failed := c.notifyLocked(protocol.TypeClientJoined, u.Nickname()+" joined the channel")
	c.mu.Unlock()

	c.reap(failed)
	return true
}

// Leave removes a user from the member list, notifies the remaining
// members and deletes the channel when it becomes empty. Leaving a
// channel the user is not in is a no-op.
func (c *Channel) Leave(u *UserSession) {
	c.mu.Lock()
	found := false
	for i, member := range c.members {
		if member == u {
			c.members = append(c.members[:i], c.members[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		c.mu.Unlock()
		return
	}
	empty := len(c.members) == 0
	var failed []*UserSession
	if !empty {
		failed = c.notifyLocked(protocol.TypeClientLeft, u.Nickname()+" left the channel")
	}
	c.mu.Unlock()

	c.reap(failed)
	if empty {
		c.manager.removeChannel(c)
	}
}

// Broadcast fans a message out to every member. Delivery is best effort:
// a member whose connection fails is torn down without affecting the
// rest, and the sender receives their own message like everyone else.
func (c *Channel) Broadcast(sender *UserSession, message string) {
	payload := (&protocol.BroadcastNotice{
		ChannelID: c.id,
		Sender:    sender.Nickname(),
		Message:   message,
	}).Encode()

	c.mu.Lock()
	fanout := len(c.members)
	var failed []*UserSession
	for _, member := range c.members {
		if err := member.send(protocol.TypeChannelBroadcast, payload); err != nil {
			failed = append(failed, member)
		}
	}
	c.mu.Unlock()

	if m := c.manager.metrics; m != nil {
		m.RecordBroadcast(fanout)
	}
	c.reap(failed)
}

// MemberNames returns the nicknames of the current members.
func (c *Channel) MemberNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.members))
	for i, member := range c.members {
		names[i] = member.Nickname()
	}
	return names
}

// HasMember reports whether the user is currently in the channel.
func (c *Channel) HasMember(u *UserSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, member := range c.members {
		if member == u {
			return true
		}
	}
	return false
}

// notifyLocked sends a membership notice plus a refreshed user list to
// every member. It returns the members whose sends failed; the caller
// must reap them after releasing the channel lock.
func (c *Channel) notifyLocked(typ protocol.PacketType, message string) []*UserSession {
	notice := (&protocol.ChannelNotice{ChannelID: c.id, Message: message}).Encode()
	names := make([]string, len(c.members))
	for i, member := range c.members {
		names[i] = member.Nickname()
	}
	listing := (&protocol.UserList{ChannelID: c.id, Names: names}).Encode()

	var failed []*UserSession
	for _, member := range c.members {
		if err := member.send(typ, notice); err != nil {
			failed = append(failed, member)
			continue
		}
		if err := member.send(protocol.TypeListUsers, listing); err != nil {
			failed = append(failed, member)
		}
	}
	return failed
}

// reap tears down members whose sends failed. Must be called without the
// channel lock held.
func (c *Channel) reap(failed []*UserSession) {
	for _, u := range failed {
		c.manager.RemoveUser(u)
	}
}
