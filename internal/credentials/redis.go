package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStateStore keeps pending handshakes in Redis under one key per user,
// expiring with the state TTL.
type RedisStateStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStateStore creates the store; prefix namespaces its keys
func NewRedisStateStore(client redis.UniversalClient, prefix string) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: prefix, ttl: StateTTL}
}

func (s *RedisStateStore) key(userID int64) string {
	return s.prefix + "auth:state:" + strconv.FormatInt(userID, 10)
}

func (s *RedisStateStore) Put(ctx context.Context, state AuthState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(state.UserID), raw, s.ttl).Err()
}

func (s *RedisStateStore) Take(ctx context.Context, userID int64) (AuthState, bool, error) {
	raw, err := s.client.GetDel(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return AuthState{}, false, nil
		}
		return AuthState{}, false, err
	}
	var out AuthState
	if err := json.Unmarshal(raw, &out); err != nil {
		return AuthState{}, false, fmt.Errorf("decode auth state: %w", err)
	}
	return out, true, nil
}

// ConnectRedis parses a redis:// URL, falling back to a bare address
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		opts = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
