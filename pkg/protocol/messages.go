package protocol

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

// ErrMalformedPayload is returned when a payload is missing a required
// delimiter or carries a non-numeric id. The server treats this as a
// protocol violation and terminates the session.
var ErrMalformedPayload = errors.New("malformed payload")

// Payloads are UTF-8 text. Ids and names are colon-delimited, name lists
// are newline-joined. The message content of a broadcast is the remainder
// after the last required delimiter and may itself contain colons.

// BroadcastRequest is the client-to-server payload of TypeChannelBroadcast:
// "channelID:message".
type BroadcastRequest struct {
	ChannelID int
	Message   string
}

// Encode renders the request payload.
func (m *BroadcastRequest) Encode() []byte {
	return []byte(strconv.Itoa(m.ChannelID) + ":" + m.Message)
}

// Decode parses the request payload.
func (m *BroadcastRequest) Decode(data []byte) error {
	id, rest, err := cutID(data)
	if err != nil {
		return err
	}
	m.ChannelID = id
	m.Message = rest
	return nil
}

// BroadcastNotice is the server-to-client payload of TypeChannelBroadcast:
// "channelID:sender:message".
type BroadcastNotice struct {
	ChannelID int
	Sender    string
	Message   string
}

// Encode renders the notice payload.
func (m *BroadcastNotice) Encode() []byte {
	return []byte(strconv.Itoa(m.ChannelID) + ":" + m.Sender + ":" + m.Message)
}

// Decode parses the notice payload.
func (m *BroadcastNotice) Decode(data []byte) error {
	id, rest, err := cutID(data)
	if err != nil {
		return err
	}
	sender, message, ok := strings.Cut(rest, ":")
	if !ok {
		return ErrMalformedPayload
	}
	m.ChannelID = id
	m.Sender = sender
	m.Message = message
	return nil
}

// ChannelNotice is the payload of TypeClientJoined and TypeClientLeft:
// "channelID:message".
type ChannelNotice struct {
	ChannelID int
	Message   string
}

// Encode renders the notice payload.
func (m *ChannelNotice) Encode() []byte {
	return []byte(strconv.Itoa(m.ChannelID) + ":" + m.Message)
}

// Decode parses the notice payload.
func (m *ChannelNotice) Decode(data []byte) error {
	id, rest, err := cutID(data)
	if err != nil {
		return err
	}
	m.ChannelID = id
	m.Message = rest
	return nil
}

// UserList is the server-to-client payload of TypeListUsers:
// "channelID:name1\nname2...". A request for a channel the user has not
// joined is answered with the bare channel id and no names.
type UserList struct {
	ChannelID int
	Names     []string
}

// Encode renders the user list payload.
func (m *UserList) Encode() []byte {
	if len(m.Names) == 0 {
		return []byte(strconv.Itoa(m.ChannelID))
	}
	return []byte(strconv.Itoa(m.ChannelID) + ":" + strings.Join(m.Names, "\n"))
}

// Decode parses the user list payload.
func (m *UserList) Decode(data []byte) error {
	if !bytes.ContainsRune(data, ':') {
		id, err := ParseID(data)
		if err != nil {
			return err
		}
		m.ChannelID = id
		m.Names = nil
		return nil
	}
	id, rest, err := cutID(data)
	if err != nil {
		return err
	}
	m.ChannelID = id
	m.Names = strings.Split(rest, "\n")
	return nil
}

// ChannelList is the payload of a TypeListChannels response:
// "name1\nname2...".
type ChannelList struct {
	Names []string
}

// Encode renders the channel list payload.
func (m *ChannelList) Encode() []byte {
	return []byte(strings.Join(m.Names, "\n"))
}

// Decode parses the channel list payload.
func (m *ChannelList) Decode(data []byte) error {
	if len(data) == 0 {
		m.Names = nil
		return nil
	}
	m.Names = strings.Split(string(data), "\n")
	return nil
}

// JoinResponse is the payload of a TypeJoinChannel confirmation:
// "channelID:channelName".
type JoinResponse struct {
	ChannelID int
	Name      string
}

// Encode renders the join confirmation payload.
func (m *JoinResponse) Encode() []byte {
	return []byte(strconv.Itoa(m.ChannelID) + ":" + m.Name)
}

// Decode parses the join confirmation payload.
func (m *JoinResponse) Decode(data []byte) error {
	id, rest, err := cutID(data)
	if err != nil {
		return err
	}
	m.ChannelID = id
	m.Name = rest
	return nil
}

// ParseID parses a payload that is a bare non-negative channel id.
func ParseID(data []byte) (int, error) {
	id, err := strconv.Atoi(string(data))
	if err != nil || id < 0 {
		return 0, ErrMalformedPayload
	}
	return id, nil
}

// cutID splits "id:rest" and parses the id.
func cutID(data []byte) (int, string, error) {
	head, rest, ok := strings.Cut(string(data), ":")
	if !ok {
		return 0, "", ErrMalformedPayload
	}
	id, err := strconv.Atoi(head)
	if err != nil || id < 0 {
		return 0, "", ErrMalformedPayload
	}
	return id, rest, nil
}
