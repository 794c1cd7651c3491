package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces audio keys.
const DefaultRedisPrefix = "homespeak:audio:"

// RedisStore keeps audio in Redis. Values are framed as
// "<content-type>\n<audio>" and written with SETNX, so an entry is never
// replaced once stored.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	mu    sync.Mutex
	stats Stats
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithRedisTTL expires entries after ttl. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
		stats:  Stats{Tier: TierRedis},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup reads and unframes an entry.
func (s *RedisStore) Lookup(ctx context.Context, fp Fingerprint) (Entry, bool, error) {
	val, err := s.client.Get(ctx, s.key(fp)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.record(false)
			return Entry{}, false, nil
		}
		return Entry{}, false, newError("lookup", TierRedis, fp, err)
	}

	i := bytes.IndexByte(val, '\n')
	if i < 0 || i == len(val)-1 {
		return Entry{}, false, newError("lookup", TierRedis, fp, ErrCacheCorrupted)
	}

	s.record(true)
	return Entry{ContentType: string(val[:i]), Audio: val[i+1:]}, true, nil
}

// Put stores the entry if the key does not exist yet.
func (s *RedisStore) Put(ctx context.Context, fp Fingerprint, e Entry) error {
	if len(e.Audio) == 0 {
		return ErrEmptyAudio
	}

	frame := make([]byte, 0, len(e.ContentType)+1+len(e.Audio))
	frame = append(frame, e.ContentType...)
	frame = append(frame, '\n')
	frame = append(frame, e.Audio...)

	if err := s.client.SetNX(ctx, s.key(fp), frame, s.ttl).Err(); err != nil {
		return newError("put", TierRedis, fp, err)
	}
	return nil
}

// Delete removes an entry.
func (s *RedisStore) Delete(ctx context.Context, fp Fingerprint) error {
	if err := s.client.Del(ctx, s.key(fp)).Err(); err != nil {
		return newError("delete", TierRedis, fp, err)
	}
	return nil
}

// Stats returns hit counters. Size is not tracked for Redis.
func (s *RedisStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.computeHitRate()
	return stats
}

// Close is a no-op; the client belongs to the caller.
func (s *RedisStore) Close() error {
	return nil
}

func (s *RedisStore) key(fp Fingerprint) string {
	return s.prefix + string(fp)
}

func (s *RedisStore) record(hit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.LastAccess = time.Now()
	if hit {
		s.stats.Hits++
	} else {
		s.stats.Misses++
	}
}
