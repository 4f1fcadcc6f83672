package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dkeye/collab/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	s, err := OpenRedis(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	room := domain.RoomID("test-" + uuid.NewString())
	defer s.Purge(ctx, room)

	for _, body := range []string{"one", "two", "three"} {
		m := &domain.ChatMessage{RoomID: room, Author: "a", Body: body, CreatedAt: time.Now().UTC()}
		require.NoError(t, s.Append(ctx, m))
		assert.NotZero(t, m.ID)
	}

	msgs, err := s.History(ctx, room, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Body)

	msgs, err = s.History(ctx, room, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Body)

	n, err := s.Purge(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.Purge(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
