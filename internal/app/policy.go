package app

import (
	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send buffer was full
// during a broadcast.
type Policy interface {
	OnBackPressure(room domain.RoomID, member core.MemberSession) BackpressureAction
}

// SimplePolicy kicks slow members; their read loop then disconnects them.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room domain.RoomID, member core.MemberSession) BackpressureAction {
	return KickMember
}

// DropPolicy keeps slow members and loses the frame.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(room domain.RoomID, member core.MemberSession) BackpressureAction {
	return DropFrame
}
