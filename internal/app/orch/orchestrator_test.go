package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/collab/internal/app"
	"github.com/dkeye/collab/internal/app/chat"
	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recSignal struct {
	mu      sync.Mutex
	frames  []core.Frame
	full    bool
	closed  bool
	onClose func()
}

func (s *recSignal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrConnectionClosed
	}
	if s.full {
		return core.ErrBackpressure
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *recSignal) Close() {
	s.mu.Lock()
	first := !s.closed
	s.closed = true
	hook := s.onClose
	s.mu.Unlock()
	if first && hook != nil {
		hook()
	}
}

func (s *recSignal) setFull(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.full = v
}

func (s *recSignal) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// events decodes and clears everything received so far.
func (s *recSignal) events(t *testing.T) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.frames))
	for _, f := range s.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	s.frames = nil
	return out
}

func types(evs []map[string]any) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e["type"].(string))
	}
	return out
}

type memStore struct {
	mu        sync.Mutex
	rows      map[domain.RoomID][]domain.ChatMessage
	appendErr error
	purgeErr  error
	purges    atomic.Int32
	appends   atomic.Int32

	// when set, Append signals entered and then waits for release
	entered chan struct{}
	release chan struct{}
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[domain.RoomID][]domain.ChatMessage)}
}

func (m *memStore) Append(_ context.Context, msg *domain.ChatMessage) error {
	m.appends.Add(1)
	if m.entered != nil {
		m.entered <- struct{}{}
		<-m.release
	}
	if m.appendErr != nil {
		return m.appendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[msg.RoomID] = append(m.rows[msg.RoomID], *msg)
	return nil
}

func (m *memStore) History(_ context.Context, room domain.RoomID, _ int) ([]domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatMessage(nil), m.rows[room]...), nil
}

func (m *memStore) Purge(_ context.Context, room domain.RoomID) (int64, error) {
	m.purges.Add(1)
	if m.purgeErr != nil {
		return 0, m.purgeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.rows[room]))
	delete(m.rows, room)
	return n, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) count(room domain.RoomID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows[room])
}

var _ chat.Store = (*memStore)(nil)

func newOrch(store *memStore, policy app.Policy) *Orchestrator {
	return &Orchestrator{
		Registry:       app.NewRegistry("Guest", 36),
		Rooms:          core.NewDirectory(),
		Chat:           chat.NewService(store, 0),
		Policy:         policy,
		PurgeThreshold: 1,
	}
}

func connect(o *Orchestrator) (core.SessionID, *recSignal) {
	sig := &recSignal{}
	sess, err := o.Connect(sig, func() {})
	if err != nil {
		panic(err)
	}
	return sess.ID(), sig
}

// connectLive behaves like a websocket session: closing the transport
// makes its read loop run Disconnect a little later.
func connectLive(o *Orchestrator) (core.SessionID, *recSignal) {
	sid, sig := connect(o)
	sig.onClose = func() {
		go func() {
			time.Sleep(20 * time.Millisecond)
			o.Disconnect(context.Background(), sid)
		}()
	}
	return sid, sig
}

func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s did not finish within %s", what, d)
	}
}

func TestJoinCodeChatLeaveScenario(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	o := newOrch(store, app.SimplePolicy{})

	a, sigA := connect(o)
	b, sigB := connect(o)

	require.NoError(t, o.Join(ctx, a, "r1", "A"))
	evs := sigA.events(t)
	require.Equal(t, []string{core.EventJoined, core.EventChatHistory}, types(evs))
	assert.Len(t, evs[0]["members"], 1)

	require.NoError(t, o.Join(ctx, b, "r1", "B"))
	evsA := sigA.events(t)
	require.Equal(t, []string{core.EventJoined, core.EventSyncRequest}, types(evsA))
	assert.Len(t, evsA[0]["members"], 2)
	assert.Equal(t, "B", evsA[0]["username"])
	assert.Equal(t, string(b), evsA[1]["socketId"])

	evsB := sigB.events(t)
	require.Equal(t, []string{core.EventJoined, core.EventChatHistory}, types(evsB))
	assert.Empty(t, evsB[1]["messages"])

	require.NoError(t, o.SyncCode(a, b, "print(1)"))
	evsB = sigB.events(t)
	require.Len(t, evsB, 1)
	assert.Equal(t, core.EventSyncCode, evsB[0]["type"])
	assert.Equal(t, "print(1)", evsB[0]["code"])

	require.NoError(t, o.PublishCode(a, "x"))
	evsB = sigB.events(t)
	require.Len(t, evsB, 1)
	assert.Equal(t, "x", evsB[0]["code"])
	assert.Empty(t, sigA.events(t), "sender must not receive its own update")

	msg, err := o.SendChat(ctx, a, "hi")
	require.NoError(t, err)
	assert.Equal(t, "A", msg.Author)
	evsB = sigB.events(t)
	require.Len(t, evsB, 1)
	assert.Equal(t, core.EventChatBroadcast, evsB[0]["type"])
	assert.Equal(t, "hi", evsB[0]["message"])
	assert.Equal(t, 1, store.count("r1"))

	o.Disconnect(ctx, b)
	evsA = sigA.events(t)
	require.Equal(t, []string{core.EventLeft}, types(evsA))
	assert.Equal(t, "B", evsA[0]["username"])
	assert.Equal(t, 0, store.count("r1"))
	assert.EqualValues(t, 1, store.purges.Load())

	_, err = o.SendChat(ctx, a, "bye")
	require.NoError(t, err)
	assert.Equal(t, domain.StateInRoom, o.Registry.State(a))
	assert.Equal(t, 1, store.count("r1"))

	c, sigC := connect(o)
	require.NoError(t, o.Join(ctx, c, "r1", "C"))
	evsC := sigC.events(t)
	require.Equal(t, core.EventChatHistory, evsC[1]["type"])
	history := evsC[1]["messages"].([]any)
	require.Len(t, history, 1, "history starts fresh after the purge")
	assert.Equal(t, "bye", history[0].(map[string]any)["message"])
	assert.Equal(t, "A", history[0].(map[string]any)["author"])

	o.Disconnect(ctx, c)
	assert.EqualValues(t, 2, store.purges.Load())
	o.Disconnect(ctx, a)
	assert.False(t, o.Rooms.Exists("r1"))
	assert.EqualValues(t, 2, store.purges.Load(), "clean room is not purged again")
}

func TestHistoryReplayedToJoinerOnly(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	o := newOrch(store, app.SimplePolicy{})
	a, sigA := connect(o)
	b, sigB := connect(o)
	c, sigC := connect(o)

	require.NoError(t, o.Join(ctx, a, "r1", "A"))
	require.NoError(t, o.Join(ctx, b, "r1", "B"))
	_, err := o.SendChat(ctx, a, "one")
	require.NoError(t, err)
	_, err = o.SendChat(ctx, b, "two")
	require.NoError(t, err)
	sigA.events(t)
	sigB.events(t)

	require.NoError(t, o.Join(ctx, c, "r1", "C"))
	evsC := sigC.events(t)
	require.Equal(t, []string{core.EventJoined, core.EventChatHistory}, types(evsC))
	msgs := evsC[1]["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].(map[string]any)["message"])
	assert.Equal(t, "two", msgs[1].(map[string]any)["message"])

	assert.NotContains(t, types(sigB.events(t)), core.EventChatHistory)
}

func TestConcurrentDisconnectsPurgeOnce(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		store := newMemStore()
		o := newOrch(store, app.SimplePolicy{})
		a, _ := connect(o)
		b, _ := connect(o)
		require.NoError(t, o.Join(ctx, a, "r1", "A"))
		require.NoError(t, o.Join(ctx, b, "r1", "B"))
		_, err := o.SendChat(ctx, a, "hi")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for _, sid := range []core.SessionID{a, b} {
			wg.Add(1)
			go func(sid core.SessionID) {
				defer wg.Done()
				o.Disconnect(ctx, sid)
			}(sid)
		}
		wg.Wait()

		assert.EqualValues(t, 1, store.purges.Load())
		assert.Equal(t, 0, store.count("r1"))
		assert.False(t, o.Rooms.Exists("r1"))
	}
}

func TestPurgeFailureStillDeliversLeft(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.purgeErr = errors.New("db down")
	o := newOrch(store, app.SimplePolicy{})
	a, sigA := connect(o)
	b, _ := connect(o)
	c, _ := connect(o)
	require.NoError(t, o.Join(ctx, a, "r1", "A"))
	require.NoError(t, o.Join(ctx, b, "r1", "B"))
	require.NoError(t, o.Join(ctx, c, "r1", "C"))
	sigA.events(t)

	o.Disconnect(ctx, c)
	assert.EqualValues(t, 0, store.purges.Load(), "two members remain")

	o.Disconnect(ctx, b)
	assert.Equal(t, []string{core.EventLeft, core.EventLeft}, types(sigA.events(t)))
	assert.EqualValues(t, 1, store.purges.Load())

	// room stays dirty, so the next qualifying disconnect retries
	store.purgeErr = nil
	d, _ := connect(o)
	require.NoError(t, o.Join(ctx, d, "r1", "D"))
	o.Disconnect(ctx, d)
	assert.EqualValues(t, 2, store.purges.Load())
}

func TestChatPersistenceFailureBroadcastsNothing(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	o := newOrch(store, app.SimplePolicy{})
	a, _ := connect(o)
	b, sigB := connect(o)
	require.NoError(t, o.Join(ctx, a, "r1", "A"))
	require.NoError(t, o.Join(ctx, b, "r1", "B"))
	sigB.events(t)

	store.appendErr = errors.New("disk full")
	_, err := o.SendChat(ctx, a, "hi")
	require.ErrorIs(t, err, chat.ErrPersistence)
	assert.Empty(t, sigB.events(t))
}

func TestChatRejectsBlankAndNonMembers(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	o := newOrch(store, app.SimplePolicy{})
	a, _ := connect(o)

	_, err := o.SendChat(ctx, a, "hi")
	require.ErrorIs(t, err, app.ErrNotInRoom)

	require.NoError(t, o.Join(ctx, a, "r1", "A"))
	_, err = o.SendChat(ctx, a, "   \n")
	require.ErrorIs(t, err, domain.ErrEmptyMessage)
	assert.EqualValues(t, 0, store.appends.Load())
}

func TestJoinValidation(t *testing.T) {
	ctx := context.Background()
	o := newOrch(newMemStore(), app.SimplePolicy{})
	a, _ := connect(o)

	require.ErrorIs(t, o.Join(ctx, a, "   ", "A"), domain.ErrInvalidRoom)
	assert.Equal(t, domain.StateConnected, o.Registry.State(a))

	require.NoError(t, o.Rename(a, "Alice"))
	require.NoError(t, o.Join(ctx, a, "r1", ""))
	assert.Equal(t, "Alice", o.WhoAmI(a).Username)
	assert.Equal(t, domain.RoomID("r1"), o.WhoAmI(a).Room)

	require.ErrorIs(t, o.Join(ctx, a, "r2", ""), app.ErrAlreadyInRoom)
	require.ErrorIs(t, o.Rename(a, "Bob"), app.ErrIdentityFixed)
	assert.False(t, o.Rooms.Exists("r2"))
}

func TestDefaultNameApplied(t *testing.T) {
	ctx := context.Background()
	o := newOrch(newMemStore(), app.SimplePolicy{})
	a, sigA := connect(o)
	require.NoError(t, o.Join(ctx, a, "r1", ""))
	evs := sigA.events(t)
	assert.Equal(t, "Guest", evs[0]["username"])
}

func TestDisconnectWithoutJoin(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	o := newOrch(store, app.SimplePolicy{})
	a, _ := connect(o)

	o.Disconnect(ctx, a)
	o.Disconnect(ctx, a)
	assert.Equal(t, 0, o.Rooms.Count())
	assert.Equal(t, 0, o.Registry.Count())
	assert.EqualValues(t, 0, store.purges.Load())
}

func TestSyncCodeUnknownTarget(t *testing.T) {
	ctx := context.Background()
	o := newOrch(newMemStore(), app.SimplePolicy{})
	a, _ := connect(o)
	b, _ := connect(o)
	require.NoError(t, o.Join(ctx, a, "r1", "A"))
	require.NoError(t, o.Join(ctx, b, "r2", "B"))

	require.ErrorIs(t, o.SyncCode(a, b, "x"), core.ErrUnknownTarget)
	require.ErrorIs(t, o.SyncCode(a, "ghost", "x"), core.ErrUnknownTarget)
}

func TestSlowMemberKicked(t *testing.T) {
	ctx := context.Background()
	o := newOrch(newMemStore(), app.SimplePolicy{})
	a, _ := connect(o)
	b, sigB := connect(o)
	require.NoError(t, o.Join(ctx, a, "r1", "A"))
	require.NoError(t, o.Join(ctx, b, "r1", "B"))

	sigB.setFull(true)
	require.NoError(t, o.PublishCode(a, "x"))
	assert.True(t, sigB.isClosed())
}

func TestCachedCodeWhenPeerUnreachable(t *testing.T) {
	ctx := context.Background()
	o := newOrch(newMemStore(), app.DropPolicy{})
	a, sigA := connect(o)
	c, sigC := connect(o)
	require.NoError(t, o.Join(ctx, a, "r1", "A"))
	require.NoError(t, o.PublishCode(a, "cached"))

	sigA.setFull(true)
	require.NoError(t, o.Join(ctx, c, "r1", "C"))
	assert.False(t, sigA.isClosed(), "drop policy keeps slow members")

	evs := sigC.events(t)
	require.Equal(t, []string{core.EventJoined, core.EventChatHistory, core.EventSyncCode}, types(evs))
	assert.Equal(t, "cached", evs[2]["code"])
}

func TestAnnotationsStampUsername(t *testing.T) {
	ctx := context.Background()
	o := newOrch(newMemStore(), app.SimplePolicy{})
	a, _ := connect(o)
	b, sigB := connect(o)
	require.NoError(t, o.Join(ctx, a, "r1", "A"))
	require.NoError(t, o.Join(ctx, b, "r1", "B"))
	sigB.events(t)

	pos := json.RawMessage(`{"line":3,"ch":7}`)
	require.NoError(t, o.PublishAnnotation(a, core.EventCursor, pos, "#f00"))
	evs := sigB.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, core.EventCursor, evs[0]["type"])
	assert.Equal(t, "A", evs[0]["username"])
	assert.Equal(t, "#f00", evs[0]["color"])

	sigB.setFull(true)
	require.NoError(t, o.PublishAnnotation(a, core.EventSelection, pos, ""))
	assert.False(t, sigB.isClosed(), "annotation loss never kicks")
}

func TestOutputRelayedToOthers(t *testing.T) {
	ctx := context.Background()
	o := newOrch(newMemStore(), app.SimplePolicy{})
	a, sigA := connect(o)
	b, sigB := connect(o)
	require.NoError(t, o.Join(ctx, a, "r1", "A"))
	require.NoError(t, o.Join(ctx, b, "r1", "B"))
	sigA.events(t)
	sigB.events(t)

	require.NoError(t, o.PublishOutput(b, "42\n"))
	evs := sigA.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, "42\n", evs[0]["output"])
	assert.Empty(t, sigB.events(t))
}

func TestChatAppendDoesNotBlockRoom(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	o := newOrch(store, app.SimplePolicy{})
	a, sigA := connect(o)
	b, sigB := connect(o)
	c, _ := connect(o)
	require.NoError(t, o.Join(ctx, a, "r1", "A"))
	require.NoError(t, o.Join(ctx, b, "r1", "B"))
	require.NoError(t, o.Join(ctx, c, "r1", "C"))
	sigA.events(t)
	sigB.events(t)

	store.entered = make(chan struct{}, 1)
	store.release = make(chan struct{})
	sent := make(chan error, 1)
	go func() {
		_, err := o.SendChat(ctx, a, "hi")
		sent <- err
	}()
	<-store.entered

	within(t, time.Second, "code update during chat append", func() {
		assert.NoError(t, o.PublishCode(b, "x"))
	})
	within(t, time.Second, "disconnect during chat append", func() {
		o.Disconnect(ctx, c)
	})
	assert.Equal(t, []string{core.EventCodeUpdate, core.EventLeft}, types(sigA.events(t)))

	close(store.release)
	require.NoError(t, <-sent)
	evs := sigB.events(t)
	require.Equal(t, []string{core.EventLeft, core.EventChatBroadcast}, types(evs))
	assert.Equal(t, "hi", evs[1]["message"])
}

func TestCommittedChatSurvivesSenderLeaving(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	o := newOrch(store, app.SimplePolicy{})
	a, _ := connect(o)
	b, sigB := connect(o)
	require.NoError(t, o.Join(ctx, a, "r1", "A"))
	require.NoError(t, o.Join(ctx, b, "r1", "B"))
	sigB.events(t)

	store.entered = make(chan struct{}, 1)
	store.release = make(chan struct{})
	sent := make(chan error, 1)
	go func() {
		_, err := o.SendChat(ctx, a, "last words")
		sent <- err
	}()
	<-store.entered
	o.Disconnect(ctx, a)

	close(store.release)
	require.NoError(t, <-sent)
	assert.Equal(t, 1, store.count("r1"), "committed append is kept")
	evs := sigB.events(t)
	require.Equal(t, []string{core.EventLeft, core.EventChatBroadcast}, types(evs))
	assert.Equal(t, "last words", evs[1]["message"])
}

func TestShutdownWaitsForDisconnects(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	o := newOrch(store, app.SimplePolicy{})
	a, _ := connectLive(o)
	b, _ := connectLive(o)
	_, _ = connectLive(o)
	require.NoError(t, o.Join(ctx, a, "r1", "A"))
	require.NoError(t, o.Join(ctx, b, "r1", "B"))
	_, err := o.SendChat(ctx, a, "hi")
	require.NoError(t, err)

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(sctx))

	assert.Equal(t, 0, o.Registry.Count())
	assert.Equal(t, 0, o.Rooms.Count())
	assert.EqualValues(t, 1, store.purges.Load())
	assert.Equal(t, 0, store.count("r1"))

	_, err = o.Connect(&recSignal{}, func() {})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdownGivesUpAtDeadline(t *testing.T) {
	o := newOrch(newMemStore(), app.SimplePolicy{})
	a, sigA := connect(o)

	sctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.Shutdown(sctx), context.DeadlineExceeded)
	assert.True(t, sigA.isClosed())

	o.Disconnect(context.Background(), a)
	assert.Equal(t, 0, o.Registry.Count())
}
