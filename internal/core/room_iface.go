package core

import (
	"errors"

	"github.com/dkeye/collab/internal/domain"
)

var ErrUnknownTarget = errors.New("unknown target")

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	SocketID SessionID `json:"socketId"`
	Username string    `json:"username"`
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"client_count"`
}
