package orch

import (
	"context"
	"errors"

	"github.com/dkeye/collab/internal/app"
	"github.com/dkeye/collab/internal/core"
	"github.com/dkeye/collab/internal/domain"
)

var ErrChatDisabled = errors.New("chat is disabled")

// SendChat persists the message and only then broadcasts it to the other
// members. The append runs outside the room's critical section so the
// rest of the room keeps moving while it is in flight. A failed append
// broadcasts nothing; a committed one is never rolled back, even if the
// sender has left by the time it lands. The returned message is the
// sender's ack.
func (o *Orchestrator) SendChat(ctx context.Context, sid core.SessionID, body string) (*domain.ChatMessage, error) {
	if o.Chat == nil {
		return nil, ErrChatDisabled
	}
	room, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil, app.ErrNotInRoom
	}
	author, _ := o.Registry.Lookup(sid)

	actx, cancel := context.WithTimeout(ctx, o.storeTimeout())
	defer cancel()
	msg, err := o.Chat.Append(actx, room, author, body)
	if err != nil {
		return nil, err
	}

	frame := o.encode(core.ChatBroadcastEvent{Type: core.EventChatBroadcast, Author: msg.Author, Message: msg.Body})
	o.Rooms.Do(room, false, func(r *core.Room) {
		r.MarkDirty()
		o.handleDropped(room, r.Broadcast(sid, frame), core.EventChatBroadcast)
	})
	return msg, nil
}
