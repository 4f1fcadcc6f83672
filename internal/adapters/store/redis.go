package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/collab/internal/app/chat"
	"github.com/dkeye/collab/internal/domain"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	redisKeyPrefix = "collab:chat:"
	redisSeqKey    = "collab:chat:seq"
)

// RedisStore keeps one list per room; list order is append order.
type RedisStore struct {
	client *redis.Client
}

var _ chat.Store = (*RedisStore)(nil)

// OpenRedis parses a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	log.Info().Str("module", "store.redis").Str("addr", opt.Addr).Msg("chat store ready")
	return &RedisStore{client: c}, nil
}

func roomKey(room domain.RoomID) string { return redisKeyPrefix + "room:" + string(room) }

func (s *RedisStore) Append(ctx context.Context, msg *domain.ChatMessage) error {
	id, err := s.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return fmt.Errorf("redis: next id: %w", err)
	}
	msg.ID = uint64(id)
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis: encode message: %w", err)
	}
	if err := s.client.RPush(ctx, roomKey(msg.RoomID), b).Err(); err != nil {
		return fmt.Errorf("redis: append: %w", err)
	}
	return nil
}

func (s *RedisStore) History(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.client.LRange(ctx, roomKey(room), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: history: %w", err)
	}
	out := make([]domain.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var m domain.ChatMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("redis: decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) Purge(ctx context.Context, room domain.RoomID) (int64, error) {
	var llen *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		llen = p.LLen(ctx, roomKey(room))
		p.Del(ctx, roomKey(room))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis: purge: %w", err)
	}
	return llen.Val(), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
