package cache

import (
	"context"
	"testing"
	"time"
)

func newTestTiered(t *testing.T, cfg TieredConfig) (*Tiered, *DiskStore) {
	t.Helper()

	disk, err := NewDiskStore(t.TempDir(), DiskOptions{})
	if err != nil {
		t.Fatalf("NewDiskStore failed: %v", err)
	}
	tiered := NewTiered(disk, cfg, nil)
	t.Cleanup(func() { _ = tiered.Close() })
	return tiered, disk
}

func TestTiered_WritesThrough(t *testing.T) {
	ctx := context.Background()
	tiered, disk := newTestTiered(t, TieredConfig{MemoryCapacity: 1024})

	fp := testFingerprint("write through")
	if err := tiered.Put(ctx, fp, testEntry("audio")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if !disk.Contains(fp) {
		t.Error("entry missing from durable tier")
	}
	if !tiered.l1.Contains(fp) {
		t.Error("entry missing from L1")
	}
}

func TestTiered_Promotion(t *testing.T) {
	ctx := context.Background()
	tiered, disk := newTestTiered(t, TieredConfig{})

	fp := testFingerprint("promote me")
	if err := disk.Put(ctx, fp, testEntry("from disk")); err != nil {
		t.Fatalf("disk Put failed: %v", err)
	}

	e, ok, err := tiered.Lookup(ctx, fp)
	if err != nil || !ok {
		t.Fatalf("Lookup failed: ok=%v err=%v", ok, err)
	}
	if string(e.Audio) != "from disk" {
		t.Errorf("audio = %q", e.Audio)
	}
	if !tiered.l1.Contains(fp) {
		t.Error("durable hit was not promoted to L1")
	}
	if tiered.Promotions() != 1 {
		t.Errorf("Promotions = %d, want 1", tiered.Promotions())
	}

	_, _, _ = tiered.Lookup(ctx, fp)
	if disk.Stats().Hits != 1 {
		t.Error("second lookup should be served by L1")
	}
}

func TestTiered_MemoryOnly(t *testing.T) {
	ctx := context.Background()
	tiered := NewTiered(nil, TieredConfig{}, nil)
	defer tiered.Close() //nolint:errcheck

	if _, ok, err := tiered.Lookup(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	_ = tiered.Put(ctx, "fp", testEntry("x"))
	if _, ok, _ := tiered.Lookup(ctx, "fp"); !ok {
		t.Error("expected hit")
	}

	stats := tiered.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Tier != TierManager {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(tiered.TierStats()) != 1 {
		t.Error("memory-only cache should report one tier")
	}
}

func TestTiered_Cleanup(t *testing.T) {
	ctx := context.Background()
	tiered, disk := newTestTiered(t, TieredConfig{TTL: time.Hour})

	old := testEntry("old")
	old.Created = time.Now().Add(-2 * time.Hour)
	_ = tiered.Put(ctx, testFingerprint("old"), old)
	_ = tiered.Put(ctx, testFingerprint("new"), testEntry("new"))

	if n := tiered.Cleanup(); n != 2 {
		t.Errorf("Cleanup removed %d, want 2 (one per tier)", n)
	}
	if disk.Contains(testFingerprint("old")) || tiered.l1.Contains(testFingerprint("old")) {
		t.Error("expired entry survived cleanup")
	}
	if !disk.Contains(testFingerprint("new")) {
		t.Error("fresh entry was removed")
	}
}

func TestTiered_CleanupRoutine(t *testing.T) {
	ctx := context.Background()
	tiered, disk := newTestTiered(t, TieredConfig{TTL: time.Hour, CleanupInterval: 10 * time.Millisecond})

	old := testEntry("old")
	old.Created = time.Now().Add(-2 * time.Hour)
	fp := testFingerprint("old")
	_ = disk.Put(ctx, fp, old)

	deadline := time.Now().Add(time.Second)
	for disk.Contains(fp) {
		if time.Now().After(deadline) {
			t.Fatal("cleanup routine did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := tiered.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Closing twice is safe.
	if err := tiered.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
