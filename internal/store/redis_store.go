package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
)

const (
	countsKeyPrefix = "social:counts:"
	hotKeyScoresKey = "social:hotkey:scores"
)

// CountStore caches account counters and tracks which accounts are read most.
// Entries carry the account version they were read at; a fill never
// overwrites an entry from a newer version.
type CountStore interface {
	GetCounts(ctx context.Context, accountID string) (domain.Counts, bool, error)
	SetCounts(ctx context.Context, c domain.Counts) error
	Invalidate(ctx context.Context, stale ...domain.Counts) error
	RecordAccess(ctx context.Context, accountID string) error
	GetTopHotKeys(ctx context.Context, n int64) ([]string, error)
	ResetHotKeyScores(ctx context.Context) error
	Close() error
}

// RedisCountStore implements CountStore backed by Redis hashes.
type RedisCountStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCountStore creates a new Redis-backed count store.
func NewRedisCountStore(address, password string, db int, ttl time.Duration) (*RedisCountStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCountStore{client: client, ttl: ttl}, nil
}

func countsKey(accountID string) string {
	return countsKeyPrefix + accountID
}

// GetCounts returns the cached counters for an account.
// Returns (counts, true, nil) on hit, (zero, false, nil) on miss or tombstone.
func (s *RedisCountStore) GetCounts(ctx context.Context, accountID string) (domain.Counts, bool, error) {
	vals, err := s.client.HMGet(ctx, countsKey(accountID), "followers", "following", "version").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Counts{}, false, nil
		}
		return domain.Counts{}, false, fmt.Errorf("redis get counts: %w", err)
	}
	if len(vals) != 3 || vals[0] == nil || vals[1] == nil {
		return domain.Counts{}, false, nil
	}

	c := domain.Counts{AccountID: accountID}
	fields := []*int64{&c.Followers, &c.Following, &c.Version}
	for i, v := range vals {
		str, _ := v.(string)
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return domain.Counts{}, false, fmt.Errorf("parse cached counts: %w", err)
		}
		*fields[i] = n
	}
	return c, true, nil
}

// setCountsScript writes the counters unless the cached entry is newer.
// Returns 1 if written, 0 if rejected as stale.
var setCountsScript = redis.NewScript(`
local key = KEYS[1]
local cur = redis.call("HGET", key, "version")
if cur and tonumber(cur) > tonumber(ARGV[3]) then
  return 0
end
redis.call("HSET", key, "followers", ARGV[1], "following", ARGV[2], "version", ARGV[3])
redis.call("PEXPIRE", key, ARGV[4])
return 1
`)

// tombstoneScript replaces the entry with a version-only marker so fills
// from reads older than the write are rejected until the marker expires.
var tombstoneScript = redis.NewScript(`
local key = KEYS[1]
local cur = redis.call("HGET", key, "version")
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call("DEL", key)
redis.call("HSET", key, "version", ARGV[1])
redis.call("PEXPIRE", key, ARGV[2])
return 1
`)

// SetCounts caches c for the configured TTL.
func (s *RedisCountStore) SetCounts(ctx context.Context, c domain.Counts) error {
	err := setCountsScript.Run(ctx, s.client, []string{countsKey(c.AccountID)},
		c.Followers, c.Following, c.Version, s.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis set counts: %w", err)
	}
	return nil
}

// Invalidate drops the cached counters of each account, recording the
// version that made them stale.
func (s *RedisCountStore) Invalidate(ctx context.Context, stale ...domain.Counts) error {
	var errs []error
	for _, c := range stale {
		err := tombstoneScript.Run(ctx, s.client, []string{countsKey(c.AccountID)},
			c.Version, s.ttl.Milliseconds()).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			errs = append(errs, fmt.Errorf("redis invalidate counts %s: %w", c.AccountID, err))
		}
	}
	return errors.Join(errs...)
}

// RecordAccess increments the access score for an account in the hot key sorted set.
func (s *RedisCountStore) RecordAccess(ctx context.Context, accountID string) error {
	err := s.client.ZIncrBy(ctx, hotKeyScoresKey, 1, accountID).Err()
	if err != nil {
		return fmt.Errorf("redis record access: %w", err)
	}
	return nil
}

// GetTopHotKeys returns the top-n most accessed account IDs.
func (s *RedisCountStore) GetTopHotKeys(ctx context.Context, n int64) ([]string, error) {
	keys, err := s.client.ZRevRange(ctx, hotKeyScoresKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get top hot keys: %w", err)
	}
	return keys, nil
}

// ResetHotKeyScores deletes the hot key scores sorted set.
func (s *RedisCountStore) ResetHotKeyScores(ctx context.Context) error {
	err := s.client.Del(ctx, hotKeyScoresKey).Err()
	if err != nil {
		return fmt.Errorf("redis reset hot key scores: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisCountStore) Close() error {
	return s.client.Close()
}

// Ensure interface is satisfied at compile time.
var _ CountStore = (*RedisCountStore)(nil)
