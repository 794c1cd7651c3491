package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// TieredConfig configures a Tiered cache.
type TieredConfig struct {
	// MemoryCapacity bounds the L1 tier in bytes; 0 is unbounded.
	MemoryCapacity int64

	// TTL drops entries older than this on each cleanup run; 0 keeps them.
	TTL time.Duration

	// CleanupInterval is how often the cleanup routine runs; 0 disables it.
	CleanupInterval time.Duration
}

// Tiered coordinates an L1 memory tier over an optional durable tier.
// Durable hits are promoted to L1. Writes go to both tiers synchronously so
// an entry is durable once Put returns.
type Tiered struct {
	l1      *MemoryStore
	durable Store // may be nil
	config  TieredConfig
	logger  *log.Logger

	// Cleanup goroutine control
	cleanupStop chan struct{}
	cleanupWg   sync.WaitGroup
	closeOnce   sync.Once

	mu    sync.RWMutex
	stats struct {
		Hits        int64
		Misses      int64
		L1Hits      int64
		DurableHits int64
		Promotions  int64
		CleanupRuns int64
		LastCleanup time.Time
	}
}

// NewTiered builds a tiered cache. durable may be nil for memory-only
// operation.
func NewTiered(durable Store, config TieredConfig, logger *log.Logger) *Tiered {
	if logger == nil {
		logger = log.Default()
	}

	t := &Tiered{
		l1:          NewMemoryStore(config.MemoryCapacity),
		durable:     durable,
		config:      config,
		logger:      logger,
		cleanupStop: make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		t.startCleanupRoutine()
	}

	return t
}

// Lookup checks L1, then the durable tier.
func (t *Tiered) Lookup(ctx context.Context, fp Fingerprint) (Entry, bool, error) {
	if e, ok, _ := t.l1.Lookup(ctx, fp); ok {
		t.mu.Lock()
		t.stats.L1Hits++
		t.stats.Hits++
		t.mu.Unlock()
		return e, true, nil
	}

	if t.durable == nil {
		t.miss()
		return Entry{}, false, nil
	}

	e, ok, err := t.durable.Lookup(ctx, fp)
	if err != nil {
		t.miss()
		return Entry{}, false, err
	}
	if !ok {
		t.miss()
		return Entry{}, false, nil
	}

	t.mu.Lock()
	t.stats.DurableHits++
	t.stats.Hits++
	t.mu.Unlock()

	t.promoteToL1(ctx, fp, e)
	return e, true, nil
}

// Put writes to the durable tier first, then L1. An L1 overflow is not an
// error.
func (t *Tiered) Put(ctx context.Context, fp Fingerprint, e Entry) error {
	if len(e.Audio) == 0 {
		return ErrEmptyAudio
	}
	if e.Created.IsZero() {
		e.Created = time.Now()
	}

	if t.durable != nil {
		if err := t.durable.Put(ctx, fp, e); err != nil && !errors.Is(err, ErrItemTooLarge) {
			return err
		}
	}

	if err := t.l1.Put(ctx, fp, e); err != nil && !errors.Is(err, ErrItemTooLarge) {
		return newError("put", TierMemory, fp, err)
	}
	return nil
}

// Delete removes an entry from every tier.
func (t *Tiered) Delete(ctx context.Context, fp Fingerprint) error {
	var errs []error

	if err := t.l1.Delete(ctx, fp); err != nil {
		errs = append(errs, err)
	}
	if t.durable != nil {
		if err := t.durable.Delete(ctx, fp); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Stats aggregates counters across tiers.
func (t *Tiered) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	l1 := t.l1.Stats()
	stats := Stats{
		Tier:       TierManager,
		Capacity:   l1.Capacity,
		Size:       l1.Size,
		ItemCount:  l1.ItemCount,
		Hits:       t.stats.Hits,
		Misses:     t.stats.Misses,
		Evictions:  l1.Evictions,
		LastAccess: l1.LastAccess,
		LastEvict:  l1.LastEvict,
	}
	if t.durable != nil {
		d := t.durable.Stats()
		stats.Capacity = d.Capacity
		stats.Size = d.Size
		stats.ItemCount = max(stats.ItemCount, d.ItemCount)
		stats.Evictions += d.Evictions
	}
	stats.computeHitRate()
	return stats
}

// TierStats returns the stats of each underlying tier, L1 first.
func (t *Tiered) TierStats() []Stats {
	out := []Stats{t.l1.Stats()}
	if t.durable != nil {
		out = append(out, t.durable.Stats())
	}
	return out
}

// Promotions returns how many durable hits were copied into L1.
func (t *Tiered) Promotions() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats.Promotions
}

// Close stops the cleanup routine and closes the durable tier.
func (t *Tiered) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.cleanupStop)
		t.cleanupWg.Wait()

		if t.durable != nil {
			if cerr := t.durable.Close(); cerr != nil {
				err = fmt.Errorf("failed to close %s cache: %w", t.durable.Stats().Tier, cerr)
			}
		}
	})
	return err
}

// Cleanup runs one TTL sweep across tiers and returns the number of
// entries removed.
func (t *Tiered) Cleanup() int {
	t.mu.Lock()
	t.stats.CleanupRuns++
	t.stats.LastCleanup = time.Now()
	t.mu.Unlock()

	if t.config.TTL <= 0 {
		return 0
	}

	removed := t.l1.Prune(t.config.TTL)
	if sw, ok := t.durable.(Sweeper); ok {
		removed += sw.RemoveOlderThan(time.Now().Add(-t.config.TTL))
	}

	if removed > 0 {
		t.logger.Info("cache cleanup", "removed", removed, "l1", humanize.Bytes(uint64(t.l1.Size())))
	}
	return removed
}

// Private helper methods

// promoteToL1 copies a durable hit into memory; best effort.
func (t *Tiered) promoteToL1(ctx context.Context, fp Fingerprint, e Entry) {
	if err := t.l1.Put(ctx, fp, e); err != nil {
		t.logger.Debug("skip promotion", "fingerprint", fp, "err", err)
		return
	}
	t.mu.Lock()
	t.stats.Promotions++
	t.mu.Unlock()
}

func (t *Tiered) miss() {
	t.mu.Lock()
	t.stats.Misses++
	t.mu.Unlock()
}

func (t *Tiered) startCleanupRoutine() {
	ticker := time.NewTicker(t.config.CleanupInterval)
	t.cleanupWg.Add(1)

	go func() {
		defer t.cleanupWg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.Cleanup()
			case <-t.cleanupStop:
				return
			}
		}
	}()
}
