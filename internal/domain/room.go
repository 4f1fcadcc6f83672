package domain

import (
	"errors"
	"strings"
)

const MaxRoomIDLen = 128

var ErrInvalidRoom = errors.New("invalid room id")

// RoomID is caller supplied and opaque. It is used exactly as sent: blank,
// oversized or whitespace-padded ids are rejected, never normalised.
type RoomID string

func ParseRoomID(raw string) (RoomID, error) {
	if raw == "" || len(raw) > MaxRoomIDLen || strings.TrimSpace(raw) != raw {
		return "", ErrInvalidRoom
	}
	return RoomID(raw), nil
}
