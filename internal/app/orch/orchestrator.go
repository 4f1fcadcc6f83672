package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/collab/internal/app"
	"github.com/dkeye/collab/internal/app/chat"
	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/dkeye/collab/internal/metrics"
	"github.com/rs/zerolog/log"
)

const defaultStoreTimeout = 5 * time.Second

var ErrShuttingDown = errors.New("server is shutting down")

// Orchestrator runs the presence protocol and the room-scoped channels on
// top of the registry, the room directory and the chat log. Everything
// that touches a room's members happens inside that room's Directory.Do.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *core.Directory
	Chat     *chat.Service
	Policy   app.Policy

	// PurgeThreshold: chat history is purged once a disconnect leaves at
	// most this many members.
	PurgeThreshold int
	// StoreTimeout bounds each chat store call; defaults to 5s.
	StoreTimeout time.Duration

	// live counts sessions whose Disconnect has not finished yet.
	mu      sync.Mutex
	closing bool
	live    sync.WaitGroup
}

// Connect registers a new duplex session in the Connected state. Every
// successful Connect must be paired with a Disconnect.
func (o *Orchestrator) Connect(signal core.SignalConnection, cancel context.CancelFunc) (core.MemberSession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return nil, ErrShuttingDown
	}
	o.live.Add(1)
	sess := o.Registry.Register(signal, cancel)
	metrics.WsConnections.Inc()
	return sess, nil
}

// Rename rebinds the display name; only allowed before Join.
func (o *Orchestrator) Rename(sid core.SessionID, name string) error {
	return o.Registry.Bind(sid, name)
}

func (o *Orchestrator) WhoAmI(sid core.SessionID) core.WhoAmIEvent {
	name, _ := o.Registry.Lookup(sid)
	room, _, _ := o.Registry.RoomOf(sid)
	return core.WhoAmIEvent{
		Type:     core.EventWhoAmI,
		SocketID: sid,
		Username: name,
		Room:     room,
		State:    o.Registry.State(sid).String(),
	}
}

// Shutdown refuses new sessions, closes every live transport and waits
// until all disconnects, purges included, have finished or ctx expires.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	log.Info().Str("module", "orch").Int("sessions", o.Registry.Count()).Msg("closing all sessions")
	o.Registry.CloseAll()

	done := make(chan struct{})
	go func() {
		o.live.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Str("module", "orch").Msg("all sessions drained")
		return nil
	case <-ctx.Done():
		log.Warn().Err(ctx.Err()).Str("module", "orch").Int("sessions", o.Registry.Count()).Msg("shutdown timed out waiting for sessions")
		return ctx.Err()
	}
}

func (o *Orchestrator) encode(v any) core.Frame {
	f, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode event")
		return nil
	}
	return f
}

// handleDropped applies the back-pressure policy. It runs inside the
// room's critical section, so it only closes transports; the affected
// read loops perform the actual disconnects.
func (o *Orchestrator) handleDropped(room domain.RoomID, res core.PublishResult, event string) {
	for _, slow := range res.Dropped {
		metrics.DroppedFramesTotal.WithLabelValues(event).Inc()
		if o.Policy == nil {
			continue
		}
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("room", string(room)).Str("sid", string(slow.ID())).Str("event", event).Msg("kicking slow member")
			slow.Signal().Close()
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

func (o *Orchestrator) storeTimeout() time.Duration {
	if o.StoreTimeout > 0 {
		return o.StoreTimeout
	}
	return defaultStoreTimeout
}

func (o *Orchestrator) syncRoomGauge() {
	metrics.ActiveRooms.Set(float64(o.Rooms.Count()))
}
