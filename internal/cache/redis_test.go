package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/homespeak/internal/cache"
)

func setupRedisStore(t *testing.T, opts ...cache.RedisOption) (*cache.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return cache.NewRedisStore(client, opts...), mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()
	fp := cache.Key{Backend: "azure", Voice: "en-US-SaraNeural", Style: "cheerful", Text: "Good morning"}.Fingerprint()

	_, ok, err := store.Lookup(ctx, fp)
	require.NoError(t, err)
	assert.False(t, ok)

	audio := []byte("ID3\x00\nbinary\nwith newlines")
	require.NoError(t, store.Put(ctx, fp, cache.Entry{Audio: audio, ContentType: "audio/mpeg"}))
	assert.True(t, mr.Exists(cache.DefaultRedisPrefix+string(fp)))

	got, ok, err := store.Lookup(ctx, fp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, audio, got.Audio)
	assert.Equal(t, "audio/mpeg", got.ContentType)
}

func TestRedisStore_SetNXKeepsFirstWrite(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "fp", cache.Entry{Audio: []byte("first"), ContentType: "audio/mpeg"}))
	require.NoError(t, store.Put(ctx, "fp", cache.Entry{Audio: []byte("second"), ContentType: "audio/wav"}))

	got, ok, err := store.Lookup(ctx, "fp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", string(got.Audio))
	assert.Equal(t, "audio/mpeg", got.ContentType)
}

func TestRedisStore_TTLAndPrefix(t *testing.T) {
	store, mr := setupRedisStore(t, cache.WithRedisPrefix("test:"), cache.WithRedisTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "fp", cache.Entry{Audio: []byte("audio")}))
	assert.Equal(t, time.Minute, mr.TTL("test:fp"))

	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Lookup(ctx, "fp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_CorruptedValue(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(cache.DefaultRedisPrefix+"fp", "no-header"))

	_, ok, err := store.Lookup(ctx, "fp")
	assert.False(t, ok)
	assert.ErrorIs(t, err, cache.ErrCacheCorrupted)
}

func TestRedisStore_UnavailableIsCacheError(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.Close()

	_, _, err := store.Lookup(context.Background(), "fp")
	var cerr *cache.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, cache.TierRedis, cerr.Tier)
}

func TestRedisStore_Delete(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "fp", cache.Entry{Audio: []byte("audio")}))
	require.NoError(t, store.Delete(ctx, "fp"))
	assert.False(t, mr.Exists(cache.DefaultRedisPrefix+"fp"))
}
