package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is an exported constant or variable used by the authentication engine.
var ErrRedisUnavailable = errors.New("redis unavailable")

// RedisStore keeps challenge slots in Redis with native TTL expiry. It is
// the store to use when the engine runs on more than one instance.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a challenge [RedisStore] with the given key prefix.
func NewRedisStore(redis redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "wc"
	}
	return &RedisStore{redis: redis, prefix: prefix}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + ":" + userID
}

// Put stores the user's pending challenge, replacing any previous one.
func (s *RedisStore) Put(ctx context.Context, userID string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("invalid challenge ttl")
	}
	if err := s.redis.Set(ctx, s.key(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// TakeAndDelete consumes the user's pending challenge in one GETDEL call,
// so two racing ceremonies can never both redeem it.
func (s *RedisStore) TakeAndDelete(ctx context.Context, userID string) ([]byte, error) {
	data, err := s.redis.GetDel(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return data, nil
}
