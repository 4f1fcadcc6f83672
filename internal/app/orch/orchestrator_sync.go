package orch

import (
	"encoding/json"

	"github.com/dkeye/collab/internal/app"
	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
	"github.com/dkeye/collab/internal/metrics"
	"github.com/rs/zerolog/log"
)

// PublishCode relays a full-buffer update to every other member and
// refreshes the room's relay cache. Last writer wins.
func (o *Orchestrator) PublishCode(sid core.SessionID, code string) error {
	frame := o.encode(core.CodeEvent{Type: core.EventCodeUpdate, Code: code})
	return o.inRoom(sid, func(room domain.RoomID, r *core.Room) error {
		r.SetCode(code)
		o.handleDropped(room, r.Broadcast(sid, frame), core.EventCodeUpdate)
		return nil
	})
}

// SyncCode forwards a peer's buffer to the joiner that asked for it. The
// target must still be in the sender's room.
func (o *Orchestrator) SyncCode(sid, target core.SessionID, code string) error {
	frame := o.encode(core.CodeEvent{Type: core.EventSyncCode, Code: code})
	return o.inRoom(sid, func(room domain.RoomID, r *core.Room) error {
		r.SetCode(code)
		if err := r.SendTo(target, frame); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("room", string(room)).Str("target", string(target)).Msg("sync code dropped")
			return err
		}
		return nil
	})
}

// PublishOutput relays execution output to every other member.
func (o *Orchestrator) PublishOutput(sid core.SessionID, output string) error {
	frame := o.encode(core.OutputEvent{Type: core.EventExecutionOutput, Output: output})
	return o.inRoom(sid, func(room domain.RoomID, r *core.Room) error {
		o.handleDropped(room, r.Broadcast(sid, frame), core.EventExecutionOutput)
		return nil
	})
}

// PublishAnnotation relays a cursor or selection update. Annotations are
// best effort: full buffers lose the frame and never trigger the policy.
func (o *Orchestrator) PublishAnnotation(sid core.SessionID, kind string, position json.RawMessage, color string) error {
	username, _ := o.Registry.Lookup(sid)
	frame := o.encode(core.AnnotationEvent{Type: kind, Username: username, Position: position, Color: color})
	return o.inRoom(sid, func(room domain.RoomID, r *core.Room) error {
		res := r.Broadcast(sid, frame)
		metrics.DroppedFramesTotal.WithLabelValues(kind).Add(float64(len(res.Dropped)))
		return nil
	})
}

// inRoom runs fn inside the critical section of the room sid is bound to.
// The room id always comes from the registry binding.
func (o *Orchestrator) inRoom(sid core.SessionID, fn func(room domain.RoomID, r *core.Room) error) error {
	room, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return app.ErrNotInRoom
	}
	err := app.ErrNotInRoom
	o.Rooms.Do(room, false, func(r *core.Room) {
		if !r.Has(sid) {
			return
		}
		err = fn(room, r)
	})
	return err
}
