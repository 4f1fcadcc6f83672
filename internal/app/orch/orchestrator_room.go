package orch

import (
	"context"

	"github.com/dkeye/collab/internal/app"
	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/dkeye/collab/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Join moves sid from Connected to InRoom. Inside the room's critical
// section it adds the member, sends the membership snapshot to every
// member including the joiner, replays chat history to the joiner only,
// and asks the longest-standing peer to push its buffer to the joiner.
func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, rawRoom, name string) error {
	roomID, err := domain.ParseRoomID(rawRoom)
	if err != nil {
		return err
	}
	if o.Registry.State(sid) == domain.StateInRoom {
		return app.ErrAlreadyInRoom
	}
	if name != "" {
		if err := o.Registry.Bind(sid, name); err != nil {
			return err
		}
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return app.ErrUnknownSession
	}
	if err := o.Registry.EnterRoom(sid, roomID); err != nil {
		return err
	}
	username, _ := o.Registry.Lookup(sid)

	o.Rooms.Do(roomID, true, func(r *core.Room) {
		r.Add(sess)
		// rows may predate this room's in-memory life
		r.MarkDirty()

		joined := o.encode(core.JoinedEvent{
			Type:     core.EventJoined,
			Members:  r.MembersSnapshot(),
			Username: username,
			SocketID: sid,
		})
		o.handleDropped(roomID, r.Broadcast("", joined), core.EventJoined)

		o.replayHistory(ctx, r, sid)
		o.requestSync(r, sid)
	})
	o.syncRoomGauge()

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Str("username", username).Msg("joined room")
	return nil
}

func (o *Orchestrator) replayHistory(ctx context.Context, r *core.Room, sid core.SessionID) {
	if o.Chat == nil {
		return
	}
	// read under the section so a concurrent purge cannot interleave
	hctx, cancel := context.WithTimeout(ctx, o.storeTimeout())
	defer cancel()
	msgs, err := o.Chat.History(hctx, r.ID())
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(r.ID())).Msg("load chat history")
		_ = r.SendTo(sid, o.encode(core.ErrorEvent{Type: core.EventError, Error: "history_unavailable"}))
		return
	}
	if err := r.SendTo(sid, o.encode(core.NewHistoryEvent(msgs))); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("chat history not delivered")
	}
}

// requestSync asks one existing member to push its buffer to the joiner.
// When no peer can be reached the relay cache is pushed directly.
func (o *Orchestrator) requestSync(r *core.Room, joiner core.SessionID) {
	if peer, ok := r.Peer(joiner); ok {
		req := o.encode(core.SyncRequestEvent{Type: core.EventSyncRequest, SocketID: joiner})
		err := peer.Signal().TrySend(req)
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("module", "orch").Str("peer", string(peer.ID())).Msg("sync request not delivered")
	}
	if code, ok := r.Code(); ok {
		if err := r.SendTo(joiner, o.encode(core.CodeEvent{Type: core.EventSyncCode, Code: code})); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(joiner)).Msg("cached code not delivered")
		}
	}
}

// Disconnect is the terminal transition. It is safe to call more than
// once; only the first call does work. Membership removal and the left
// broadcast happen before the purge, all in one critical section, so a
// concurrent Join sees either the old epoch or the purged one.
func (o *Orchestrator) Disconnect(ctx context.Context, sid core.SessionID) {
	removed, ok := o.Registry.Remove(sid)
	if !ok {
		return
	}
	defer o.live.Done()
	defer o.syncRoomGauge()
	defer metrics.WsConnections.Dec()
	if !removed.InRoom {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("disconnected without joining")
		return
	}

	o.Rooms.Do(removed.Room, false, func(r *core.Room) {
		if _, ok := r.Remove(sid); !ok {
			return
		}
		left := o.encode(core.LeftEvent{Type: core.EventLeft, SocketID: sid, Username: removed.Username})
		o.handleDropped(removed.Room, r.Broadcast(sid, left), core.EventLeft)

		remaining := r.MemberCount()
		if remaining > o.PurgeThreshold || !r.Dirty() || o.Chat == nil {
			return
		}
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.storeTimeout())
		defer cancel()
		if err := o.Chat.Purge(pctx, removed.Room); err != nil {
			// stays dirty; the next qualifying disconnect retries
			log.Error().Err(err).Str("module", "orch").Str("room", string(removed.Room)).Msg("purge failed")
			return
		}
		r.MarkClean()
		log.Info().Str("module", "orch").Str("room", string(removed.Room)).Int("remaining", remaining).Msg("purged chat history")
	})

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(removed.Room)).Msg("left room")
}
