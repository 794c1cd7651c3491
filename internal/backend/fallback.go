package backend

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// FallbackPolicy decides which backends to try for a request. The order is
// fixed by configuration; failures are counted for reporting only and
// never change the order.
type FallbackPolicy struct {
	order  []string
	logger *log.Logger

	mu        sync.Mutex
	failures  map[string]int
	successes map[string]int
	fallbacks int
}

// NewFallbackPolicy creates a policy that tries order after the primary
// backend. An empty order disables fallback.
func NewFallbackPolicy(order []string, logger *log.Logger) *FallbackPolicy {
	if logger == nil {
		logger = log.Default()
	}
	return &FallbackPolicy{
		order:     slices.Clone(order),
		logger:    logger,
		failures:  make(map[string]int),
		successes: make(map[string]int),
	}
}

// Enabled reports whether any fallback backend is configured.
func (f *FallbackPolicy) Enabled() bool {
	return f != nil && len(f.order) > 0
}

// Candidates returns primary followed by the configured fallbacks, without
// duplicates.
func (f *FallbackPolicy) Candidates(primary string) []string {
	out := []string{primary}
	if f == nil {
		return out
	}
	for _, id := range f.order {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// RecordFailure counts a failed attempt on id.
func (f *FallbackPolicy) RecordFailure(id string, err error) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.failures[id]++
	n := f.failures[id]
	f.mu.Unlock()

	f.logger.Warn("backend failed", "backend", id, "failures", n, "err", err)
}

// RecordSuccess counts a successful attempt on id. fellBack is true when id
// was not the primary backend.
func (f *FallbackPolicy) RecordSuccess(id string, fellBack bool) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.successes[id]++
	if fellBack {
		f.fallbacks++
	}
}

// Failures returns the failure count of id.
func (f *FallbackPolicy) Failures(id string) int {
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[id]
}

// Reset clears all counters.
func (f *FallbackPolicy) Reset() {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures = make(map[string]int)
	f.successes = make(map[string]int)
	f.fallbacks = 0
	f.logger.Info("fallback counters reset")
}

// Status returns a one-line summary.
func (f *FallbackPolicy) Status() string {
	if !f.Enabled() {
		return "fallback disabled"
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := make([]string, 0, len(f.order))
	for _, id := range f.order {
		parts = append(parts, fmt.Sprintf("%s(ok=%d fail=%d)", id, f.successes[id], f.failures[id]))
	}
	return fmt.Sprintf("fallback order %s, %d fallbacks", strings.Join(parts, " > "), f.fallbacks)
}
