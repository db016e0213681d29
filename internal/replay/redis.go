package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "siwe:nonce:"

// RedisGuard shares consumed nonces between instances with SET NX on a key holding the
// holder, with a TTL just past the message expiry.
type RedisGuard struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewRedisGuard(rdb redis.UniversalClient, now func() time.Time) *RedisGuard {
	if now == nil {
		now = time.Now
	}
	return &RedisGuard{rdb: rdb, now: now}
}

func (g *RedisGuard) Consume(ctx context.Context, address, nonce, holder string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(g.now()) + time.Second
	if ttl < time.Second {
		ttl = time.Second
	}
	k := keyPrefix + key(address, nonce)

	// A key expiring between SETNX and GET gets one more SETNX.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := g.rdb.SetNX(ctx, k, holder, ttl).Result()
		if err != nil {
			return fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return nil
		}
		owner, err := g.rdb.Get(ctx, k).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			return fmt.Errorf("redis get: %w", err)
		case owner == holder:
			return nil
		default:
			return ErrReplayed
		}
	}
	return ErrReplayed
}

// NewRedisClient connects to addr and pings it within two seconds.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
