package domain

import (
	"errors"
	"strings"
	"time"
)

var ErrEmptyMessage = errors.New("empty message")

// ChatMessage is a durable chat row scoped by room.
type ChatMessage struct {
	ID        uint64    `json:"id,omitempty"`
	RoomID    RoomID    `json:"roomId"`
	Author    string    `json:"author"`
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewChatMessage rejects bodies that are blank after trimming.
// The body itself is stored untrimmed.
func NewChatMessage(room RoomID, author, body string, at time.Time) (*ChatMessage, error) {
	if room == "" {
		return nil, ErrInvalidRoom
	}
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}
	return &ChatMessage{RoomID: room, Author: author, Body: body, CreatedAt: at}, nil
}
