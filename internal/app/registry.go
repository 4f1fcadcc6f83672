package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrAlreadyInRoom  = errors.New("already in room")
	ErrNotInRoom      = errors.New("not in room")
	ErrIdentityFixed  = errors.New("identity fixed after join")
)

type sessionEntry struct {
	User    *domain.User
	Room    domain.RoomID
	State   domain.PresenceState
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry owns live connection -> identity bindings. Entries live for
// the process lifetime only.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[core.SessionID]*sessionEntry
	defaultName string
	maxNameLen  int
}

func NewRegistry(defaultName string, maxNameLen int) *Registry {
	if defaultName == "" {
		defaultName = domain.DefaultUsername
	}
	if maxNameLen <= 0 {
		maxNameLen = domain.MaxUsernameLen
	}
	return &Registry{
		sessions:    make(map[core.SessionID]*sessionEntry),
		defaultName: defaultName,
		maxNameLen:  maxNameLen,
	}
}

// Register assigns a fresh connection id to a new duplex session.
func (r *Registry) Register(signal core.SignalConnection, cancel context.CancelFunc) core.MemberSession {
	sid := core.SessionID(uuid.NewString())
	user, err := domain.NewUser(domain.UserID(sid), r.defaultName)
	if err != nil {
		user = &domain.User{ID: domain.UserID(sid), Username: domain.DefaultUsername}
	}
	sess := core.NewMemberSession(sid, domain.NewMember(user), signal)

	r.mu.Lock()
	r.sessions[sid] = &sessionEntry{
		User:    user,
		State:   domain.StateConnected,
		Session: sess,
		Cancel:  cancel,
	}
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("registered session")
	return sess
}

// Bind sets the display name. It may be repeated until the session joins a
// room; afterwards identity is fixed.
func (r *Registry) Bind(sid core.SessionID, name string) error {
	name, err := domain.NormalizeUsername(name, r.maxNameLen)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ErrUnknownSession
	}
	if e.State != domain.StateConnected {
		return ErrIdentityFixed
	}
	e.User.Username = name
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("username", name).Msg("bound username")
	return nil
}

func (r *Registry) Lookup(sid core.SessionID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.User.Username, true
	}
	return "", false
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// EnterRoom moves the session from Connected to InRoom. A session enters
// at most one room over its lifetime.
func (r *Registry) EnterRoom(sid core.SessionID, room domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ErrUnknownSession
	}
	if e.State != domain.StateConnected {
		return ErrAlreadyInRoom
	}
	e.Room = room
	e.State = domain.StateInRoom
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("entered room")
	return nil
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.State != domain.StateInRoom {
		return "", nil, false
	}
	return e.Room, e.Session, true
}

// State reports StateDisconnected for unknown sessions.
func (r *Registry) State(sid core.SessionID) domain.PresenceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.State
	}
	return domain.StateDisconnected
}

// Removed is what a torn-down session was bound to.
type Removed struct {
	Username string
	Room     domain.RoomID
	InRoom   bool
}

// Remove deletes the entry. Only the first call for a sid reports ok.
func (r *Registry) Remove(sid core.SessionID) (Removed, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return Removed{}, false
	}
	delete(r.sessions, sid)
	e.State = domain.StateDisconnected
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed session")
	return Removed{Username: e.User.Username, Room: e.Room, InRoom: e.Room != ""}, true
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every transport; read loops then run their disconnects.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	sessions := make([]core.MemberSession, 0, len(r.sessions))
	for _, e := range r.sessions {
		sessions = append(sessions, e.Session)
	}
	r.mu.RUnlock()
	for _, s := range sessions {
		s.Signal().Close()
	}
}
