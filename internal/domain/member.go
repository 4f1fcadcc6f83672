package domain

// Member represents user's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	User *User
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User) *Member {
	return &Member{User: user}
}

// PresenceState is the per-connection lifecycle.
type PresenceState int

const (
	StateConnected PresenceState = iota
	StateInRoom
	StateDisconnected
)

func (s PresenceState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateInRoom:
		return "in_room"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
