package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore caches outcomes in Redis so replays survive process
// restarts and are shared across instances. Implements Claimer via
// SET NX so only one instance dispatches a contended key.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Outcome, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dedup get: %w", err)
	}

	var o Outcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("dedup decode: %w", err)
	}
	return &o, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, o Outcome, ttl time.Duration) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("dedup encode: %w", err)
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("dedup put: %w", err)
	}
	return nil
}

// releaseScript deletes the claim only while it still carries the
// caller's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (s *RedisStore) TryClaim(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key+":claim", token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, s.client, []string{key + ":claim"}, token).Err()
}
