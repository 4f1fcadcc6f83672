// Package chat is the durable, room-scoped chat log.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/collab/internal/domain"
	"github.com/dkeye/collab/internal/metrics"
	"github.com/rs/zerolog/log"
)

// ErrPersistence wraps any store failure; the message was not stored.
var ErrPersistence = errors.New("chat persistence failure")

type Service struct {
	store        Store
	historyLimit int
	now          func() time.Time
}

func NewService(store Store, historyLimit int) *Service {
	return &Service{
		store:        store,
		historyLimit: historyLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Append validates and persists one message. Nothing is stored when the
// body is blank after trimming.
func (s *Service) Append(ctx context.Context, room domain.RoomID, author, body string) (*domain.ChatMessage, error) {
	msg, err := domain.NewChatMessage(room, author, body, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Append(ctx, msg); err != nil {
		log.Error().Err(err).Str("module", "chat").Str("room", string(room)).Msg("append failed")
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	metrics.ChatMessagesTotal.Inc()
	return msg, nil
}

func (s *Service) History(ctx context.Context, room domain.RoomID) ([]domain.ChatMessage, error) {
	msgs, err := s.store.History(ctx, room, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return msgs, nil
}

// Purge is idempotent: purging an empty room is not an error.
func (s *Service) Purge(ctx context.Context, room domain.RoomID) error {
	n, err := s.store.Purge(ctx, room)
	if err != nil {
		metrics.ChatPurgeFailuresTotal.Inc()
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	metrics.ChatPurgesTotal.Inc()
	log.Info().Str("module", "chat").Str("room", string(room)).Int64("deleted", n).Msg("chat history purged")
	return nil
}
