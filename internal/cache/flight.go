package cache

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// SynthesizeFunc renders audio on a cache miss. The context it receives is
// detached from any single caller so that one caller giving up does not
// abort the work others are waiting on.
type SynthesizeFunc func(ctx context.Context) (Entry, error)

// Flight wraps a Store with per-fingerprint single-flight synthesis.
type Flight struct {
	store  Store
	strict bool
	logger *log.Logger

	group singleflight.Group
}

type flightResult struct {
	entry Entry
	hit   bool
}

// NewFlight returns a Flight over store. When strict is false, storage
// errors are logged and treated as misses.
func NewFlight(store Store, strict bool, logger *log.Logger) *Flight {
	if logger == nil {
		logger = log.Default()
	}
	return &Flight{store: store, strict: strict, logger: logger}
}

// Store returns the underlying store.
func (f *Flight) Store() Store {
	return f.store
}

// Lookup reads fp from the store, applying the strict policy.
func (f *Flight) Lookup(ctx context.Context, fp Fingerprint) (Entry, bool, error) {
	e, ok, err := f.store.Lookup(ctx, fp)
	if err != nil {
		if f.strict {
			return Entry{}, false, err
		}
		f.logger.Warn("cache lookup failed, treating as miss", "fingerprint", fp, "err", err)
		return Entry{}, false, nil
	}
	return e, ok, nil
}

// GetOrSynthesize returns the cached entry for fp, or runs fn to produce it.
// At most one fn runs per fingerprint at a time; concurrent callers share
// its outcome. The entry is stored only when fn succeeds, so a failed
// synthesis leaves nothing behind and the next call tries again.
//
// hit reports whether the audio came from the cache rather than from a
// synthesis. A caller whose ctx ends stops waiting; the shared synthesis
// keeps running for the others.
func (f *Flight) GetOrSynthesize(ctx context.Context, fp Fingerprint, fn SynthesizeFunc) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	e, ok, err := f.Lookup(ctx, fp)
	if err != nil {
		return Entry{}, false, err
	}
	if ok {
		return e, true, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := f.group.DoChan(string(fp), func() (any, error) {
		// Another flight may have stored fp between our lookup and now.
		if e, ok, err := f.Lookup(detached, fp); err != nil {
			return nil, err
		} else if ok {
			return flightResult{entry: e, hit: true}, nil
		}

		e, err := fn(detached)
		if err != nil {
			return nil, err
		}
		if len(e.Audio) == 0 {
			return nil, ErrEmptyAudio
		}
		if e.Created.IsZero() {
			e.Created = time.Now()
		}

		if err := f.store.Put(detached, fp, e); err != nil {
			if f.strict && !errors.Is(err, ErrItemTooLarge) {
				return nil, err
			}
			f.logger.Warn("cache store failed", "fingerprint", fp, "err", err)
		}
		return flightResult{entry: e}, nil
	})

	select {
	case <-ctx.Done():
		return Entry{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, false, res.Err
		}
		r := res.Val.(flightResult)
		return r.entry, r.hit, nil
	}
}

// Forget drops any in-flight record for fp so the next caller starts a new
// synthesis instead of joining the current one.
func (f *Flight) Forget(fp Fingerprint) {
	f.group.Forget(string(fp))
}
