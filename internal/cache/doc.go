// Package cache stores synthesized audio by request fingerprint.
// It provides an in-memory LRU tier, a compressed disk tier, NATS object
// store and Redis tiers, a tiered manager that promotes durable hits into
// memory, and a single-flight layer that guarantees at most one synthesis
// in flight per fingerprint.
package cache
