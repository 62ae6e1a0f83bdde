package notifierbot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultOffsetKey is the Redis key holding the next update id.
const DefaultOffsetKey = "esus:notifierbot:offset"

// OffsetStore remembers the next Telegram update id to request.
type OffsetStore interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, offset int64) error
}

// MemoryOffsetStore keeps the offset for the life of the process.
type MemoryOffsetStore struct {
	mu     sync.Mutex
	offset int64
}

func (s *MemoryOffsetStore) Load(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset, nil
}

func (s *MemoryOffsetStore) Save(_ context.Context, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = offset
	return nil
}

// RedisOffsetStore persists the offset so a restarted bot does not relay
// the same messages twice.
type RedisOffsetStore struct {
	client redis.Cmdable
	key    string
}

func NewRedisOffsetStore(client redis.Cmdable, key string) *RedisOffsetStore {
	if key == "" {
		key = DefaultOffsetKey
	}
	return &RedisOffsetStore{client: client, key: key}
}

func (s *RedisOffsetStore) Load(ctx context.Context) (int64, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("notifierbot: load offset: %w", err)
	}
	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("notifierbot: parse offset %q: %w", raw, err)
	}
	return offset, nil
}

func (s *RedisOffsetStore) Save(ctx context.Context, offset int64) error {
	if err := s.client.Set(ctx, s.key, offset, 0).Err(); err != nil {
		return fmt.Errorf("notifierbot: save offset: %w", err)
	}
	return nil
}
