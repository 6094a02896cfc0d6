package protocol

// PacketType identifies the content of a packet. The numeric value is the
// wire code, so the declaration order here defines the protocol.
type PacketType uint8

const (
	// TypeClientNickname is the first packet a client sends: its nickname.
	TypeClientNickname PacketType = iota

	// TypeChannelBroadcast carries a chat message. Client to server the
	// payload is "channelID:message"; server to client it is
	// "channelID:sender:message".
	TypeChannelBroadcast

	// TypeListUsers requests ("channelID") or carries
	// ("channelID:name1\nname2...") the member list of a channel.
	TypeListUsers

	// TypeListChannels requests (empty payload) or carries
	// ("name1\nname2...") the list of live channel names.
	TypeListChannels

	// TypeJoinChannel requests a join by channel name; the confirmation
	// payload is "channelID:channelName".
	TypeJoinChannel

	// TypeClientJoined notifies channel members that a user joined.
	TypeClientJoined

	// TypeClientLeft notifies channel members that a user left.
	TypeClientLeft

	// TypeLeaveChannel requests a leave by channel id; the confirmation
	// echoes the id back.
	TypeLeaveChannel

	// TypeConnectionClosed tells the peer the connection is going away;
	// the payload is a human-readable reason.
	TypeConnectionClosed
)

// String returns the packet type name for logging.
func (t PacketType) String() string {
	switch t {
	case TypeClientNickname:
		return "CLIENT_NICKNAME"
	case TypeChannelBroadcast:
		return "CHANNEL_BROADCAST"
	case TypeListUsers:
		return "LIST_USERS"
	case TypeListChannels:
		return "LIST_CHANNELS"
	case TypeJoinChannel:
		return "JOIN_CHANNEL"
	case TypeClientJoined:
		return "CLIENT_JOINED"
	case TypeClientLeft:
		return "CLIENT_LEFT"
	case TypeLeaveChannel:
		return "LEAVE_CHANNEL"
	case TypeConnectionClosed:
		return "CONNECTION_CLOSED"
	default:
		return "UNKNOWN"
	}
}
