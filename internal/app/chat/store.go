package chat

import (
	"context"

	"github.com/dkeye/collab/internal/domain"
)

//go:generate mockgen -destination=mocks/store_mock.go -package=mocks github.com/dkeye/collab/internal/app/chat Store

// Store is the durable append/query/delete-by-room log.
type Store interface {
	// Append persists msg and fills its ID.
	Append(ctx context.Context, msg *domain.ChatMessage) error
	// History returns at most limit rows ascending by CreatedAt; limit <= 0
	// means no limit.
	History(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error)
	// Purge deletes every row of room and reports how many went.
	Purge(ctx context.Context, room domain.RoomID) (int64, error)
	Close() error
}
