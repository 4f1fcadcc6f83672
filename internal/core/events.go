package core

import (
	"encoding/json"
	"time"

	"github.com/dkeye/collab/internal/domain"
)

// Event types carried in the "type" field of every frame.
const (
	EventJoin            = "join"
	EventJoined          = "joined"
	EventLeft            = "left"
	EventCodeUpdate      = "code_update"
	EventSyncRequest     = "sync_request"
	EventSyncCode        = "sync_code"
	EventChatSend        = "chat_send"
	EventChatBroadcast   = "chat_broadcast"
	EventChatHistory     = "chat_history"
	EventChatSent        = "chat_sent"
	EventExecutionOutput = "execution_output"
	EventCursor          = "cursor"
	EventSelection       = "selection"
	EventWhoAmI          = "whoami"
	EventRename          = "rename"
	EventPing            = "ping"
	EventPong            = "pong"
	EventError           = "error"
)

type JoinedEvent struct {
	Type     string      `json:"type"`
	Members  []MemberDTO `json:"members"`
	Username string      `json:"username"`
	SocketID SessionID   `json:"socketId"`
}

type LeftEvent struct {
	Type     string    `json:"type"`
	SocketID SessionID `json:"socketId"`
	Username string    `json:"username"`
}

type CodeEvent struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// SyncRequestEvent asks a member to push its buffer to SocketID.
type SyncRequestEvent struct {
	Type     string    `json:"type"`
	SocketID SessionID `json:"socketId"`
}

type ChatBroadcastEvent struct {
	Type    string `json:"type"`
	Author  string `json:"author"`
	Message string `json:"message"`
}

type ChatHistoryEntry struct {
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type ChatHistoryEvent struct {
	Type     string             `json:"type"`
	Messages []ChatHistoryEntry `json:"messages"`
}

type ChatSentEvent struct {
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

type OutputEvent struct {
	Type   string `json:"type"`
	Output string `json:"output"`
}

// AnnotationEvent is a cursor or selection update. Position is opaque.
type AnnotationEvent struct {
	Type     string          `json:"type"`
	Username string          `json:"username"`
	Position json.RawMessage `json:"position,omitempty"`
	Color    string          `json:"color,omitempty"`
}

type WhoAmIEvent struct {
	Type     string        `json:"type"`
	SocketID SessionID     `json:"socketId"`
	Username string        `json:"username"`
	Room     domain.RoomID `json:"room,omitempty"`
	State    string        `json:"state"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func Encode(v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}

func NewHistoryEvent(msgs []domain.ChatMessage) ChatHistoryEvent {
	out := ChatHistoryEvent{Type: EventChatHistory, Messages: make([]ChatHistoryEntry, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, ChatHistoryEntry{Author: m.Author, Message: m.Body, CreatedAt: m.CreatedAt})
	}
	return out
}
