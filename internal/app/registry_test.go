package app

import (
	"strings"
	"testing"

	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSignal struct{ closed bool }

func (s *nopSignal) TrySend(core.Frame) error { return nil }
func (s *nopSignal) Close()                   { s.closed = true }

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry("", 0)
	sig := &nopSignal{}
	canceled := false
	sess := r.Register(sig, func() { canceled = true })
	sid := sess.ID()

	name, ok := r.Lookup(sid)
	require.True(t, ok)
	assert.Equal(t, domain.DefaultUsername, name)
	assert.Equal(t, domain.StateConnected, r.State(sid))

	require.NoError(t, r.Bind(sid, " Ann "))
	require.NoError(t, r.Bind(sid, "Bea"))
	name, _ = r.Lookup(sid)
	assert.Equal(t, "Bea", name)
	assert.Equal(t, "Bea", sess.Meta().User.Username)

	_, _, ok = r.RoomOf(sid)
	assert.False(t, ok)

	require.NoError(t, r.EnterRoom(sid, "r1"))
	assert.ErrorIs(t, r.EnterRoom(sid, "r2"), ErrAlreadyInRoom)
	assert.ErrorIs(t, r.Bind(sid, "Cy"), ErrIdentityFixed)
	room, got, ok := r.RoomOf(sid)
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("r1"), room)
	assert.Equal(t, sid, got.ID())

	assert.True(t, r.Cancel(sid))
	assert.True(t, canceled)

	removed, ok := r.Remove(sid)
	require.True(t, ok)
	assert.Equal(t, Removed{Username: "Bea", Room: "r1", InRoom: true}, removed)
	_, ok = r.Remove(sid)
	assert.False(t, ok)
	assert.Equal(t, domain.StateDisconnected, r.State(sid))
	assert.False(t, r.Cancel(sid))
}

func TestRegistryRejectsBadNames(t *testing.T) {
	r := NewRegistry("Guest", 4)
	sid := r.Register(&nopSignal{}, nil).ID()

	assert.ErrorIs(t, r.Bind(sid, "   "), domain.ErrUsernameEmpty)
	assert.ErrorIs(t, r.Bind(sid, strings.Repeat("x", 5)), domain.ErrUsernameTooLong)
	assert.ErrorIs(t, r.Bind("missing", "ok"), ErrUnknownSession)
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry("Guest", 36)
	a, b := &nopSignal{}, &nopSignal{}
	r.Register(a, nil)
	r.Register(b, nil)
	assert.Equal(t, 2, r.Count())

	r.CloseAll()
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestPolicies(t *testing.T) {
	assert.Equal(t, KickMember, SimplePolicy{}.OnBackPressure("r1", nil))
	assert.Equal(t, DropFrame, DropPolicy{}.OnBackPressure("r1", nil))
}
