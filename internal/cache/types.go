package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheMiss is returned when an item is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheCorrupted is returned when cache data is corrupted
	ErrCacheCorrupted = errors.New("cache data corrupted")

	// ErrEmptyAudio is returned when an entry without audio is stored
	ErrEmptyAudio = errors.New("entry has no audio")
)

// Tier identifies a storage backend.
type Tier int

const (
	// TierMemory is the in-process LRU cache.
	TierMemory Tier = iota

	// TierDisk is the local file cache.
	TierDisk

	// TierObjectStore is a NATS JetStream object store bucket.
	TierObjectStore

	// TierRedis is a Redis keyspace.
	TierRedis

	// TierManager is the tiered cache itself.
	TierManager
)

// String returns the string representation of the tier
func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierDisk:
		return "disk"
	case TierObjectStore:
		return "objectstore"
	case TierRedis:
		return "redis"
	case TierManager:
		return "tiered"
	default:
		return "unknown"
	}
}

// Entry is rendered audio for one fingerprint. Entries are never mutated
// after they are stored.
type Entry struct {
	Audio       []byte
	ContentType string
	Created     time.Time
}

// Size returns the audio size in bytes.
func (e Entry) Size() int64 {
	return int64(len(e.Audio))
}

// Stats holds cache performance metrics
type Stats struct {
	Tier Tier

	// Capacity is the maximum size in bytes, 0 when unbounded.
	Capacity int64

	// Current state
	Size      int64
	ItemCount int64

	// Performance metrics
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64

	LastAccess time.Time
	LastEvict  time.Time
}

func (s *Stats) computeHitRate() {
	if s.Hits+s.Misses > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Hits+s.Misses)
	}
}

// Store is the contract every cache tier implements.
type Store interface {
	// Lookup returns the entry for fp. A miss is (Entry{}, false, nil).
	Lookup(ctx context.Context, fp Fingerprint) (Entry, bool, error)

	// Put stores e under fp. Storing an existing fingerprint is a no-op.
	Put(ctx context.Context, fp Fingerprint, e Entry) error

	Delete(ctx context.Context, fp Fingerprint) error
	Stats() Stats
	Close() error
}

// Sweeper is implemented by tiers that can drop entries by age.
type Sweeper interface {
	RemoveOlderThan(cutoff time.Time) int
}

// Error is a storage-layer failure. The speech service treats it as a miss
// unless the cache is configured as strict.
type Error struct {
	Op          string
	Tier        Tier
	Fingerprint Fingerprint
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache %s %s %s: %v", e.Tier, e.Op, e.Fingerprint, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, tier Tier, fp Fingerprint, err error) *Error {
	return &Error{Op: op, Tier: tier, Fingerprint: fp, Err: err}
}
