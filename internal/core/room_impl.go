package core

import (
	"sync"

	"github.com/dkeye/collab/internal/domain"
	"github.com/rs/zerolog/log"
)

// Room is the mutable state of one room. It has no lock of its own:
// every method must be called from inside Directory.Do, which holds the
// room's critical section. It never closes adapter-owned resources.
type Room struct {
	mu      sync.Mutex
	id      domain.RoomID
	members map[SessionID]MemberSession
	order   []SessionID

	// dirty is set when chat rows may exist for the room and cleared
	// after a successful purge.
	dirty bool

	// code is a relay cache of the last buffer seen, not authoritative.
	code    string
	hasCode bool

	dead bool
}

func newRoom(id domain.RoomID) *Room {
	return &Room{
		id:      id,
		members: make(map[SessionID]MemberSession),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) MemberCount() int { return len(r.members) }

func (r *Room) Has(sid SessionID) bool {
	_, ok := r.members[sid]
	return ok
}

// Add returns false when sid is already a member.
func (r *Room) Add(ms MemberSession) bool {
	sid := ms.ID()
	if _, ok := r.members[sid]; ok {
		return false
	}
	r.members[sid] = ms
	r.order = append(r.order, sid)
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Int("members", len(r.members)).Msg("member added")
	return true
}

func (r *Room) Remove(sid SessionID) (MemberSession, bool) {
	ms, ok := r.members[sid]
	if !ok {
		return nil, false
	}
	delete(r.members, sid)
	for i, id := range r.order {
		if id == sid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Int("members", len(r.members)).Msg("member removed")
	return ms, true
}

// MembersSnapshot lists members in join order.
func (r *Room) MembersSnapshot() []MemberDTO {
	out := make([]MemberDTO, 0, len(r.order))
	for _, sid := range r.order {
		out = append(out, MemberDTO{SocketID: sid, Username: usernameOf(r.members[sid])})
	}
	return out
}

// Peer returns the longest-standing member other than exclude.
func (r *Room) Peer(exclude SessionID) (MemberSession, bool) {
	for _, sid := range r.order {
		if sid != exclude {
			return r.members[sid], true
		}
	}
	return nil, false
}

// Broadcast fans data out to every member except from. An empty from
// reaches everyone.
func (r *Room) Broadcast(from SessionID, data Frame) PublishResult {
	res := PublishResult{}
	for _, sid := range r.order {
		if sid == from {
			continue
		}
		m := r.members[sid]
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// SendTo delivers point-to-point. A target that is not a member yields
// ErrUnknownTarget.
func (r *Room) SendTo(sid SessionID, data Frame) error {
	m, ok := r.members[sid]
	if !ok {
		return ErrUnknownTarget
	}
	return m.Signal().TrySend(data)
}

func (r *Room) MarkDirty()  { r.dirty = true }
func (r *Room) MarkClean()  { r.dirty = false }
func (r *Room) Dirty() bool { return r.dirty }

func (r *Room) SetCode(code string) {
	r.code = code
	r.hasCode = true
}

func (r *Room) Code() (string, bool) { return r.code, r.hasCode }

func usernameOf(ms MemberSession) string {
	if meta := ms.Meta(); meta != nil && meta.User != nil {
		return meta.User.Username
	}
	return ""
}
