package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/homespeak/internal/alarm"
	"github.com/dgnsrekt/homespeak/internal/backend"
	"github.com/dgnsrekt/homespeak/internal/cache"
	"github.com/dgnsrekt/homespeak/internal/config"
	"github.com/dgnsrekt/homespeak/internal/ingest"
	"github.com/dgnsrekt/homespeak/internal/playback"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	c := config.DefaultConfig()
	c.Cache.Durable = config.DurableNone
	c.Cache.CleanupInterval = 0
	c.Sounds.Dir = t.TempDir()
	c.Playback.Sink = config.SinkNone
	c.Alarms.File = filepath.Join(t.TempDir(), "alarms.yml")
	return c
}

func TestBuildBackends(t *testing.T) {
	c := config.DefaultConfig()
	reg, err := buildBackends(c)
	require.NoError(t, err)
	assert.Equal(t, []string{backend.IDMock}, reg.IDs())

	c.Backends.ElevenLabs.APIKey = "xi-key"
	c.Backends.Azure.Key = "az-key"
	c.Backends.Mock.Enabled = false
	reg, err = buildBackends(c)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{backend.IDElevenLabs, backend.IDAzure}, reg.IDs())

	be, err := reg.Get(backend.IDElevenLabs)
	require.NoError(t, err)
	assert.IsType(t, &backend.Limited{}, be)
	assert.IsType(t, &backend.ElevenLabs{}, backend.Innermost(be))
}

func TestBuildDurable(t *testing.T) {
	c := testConfig(t)

	t.Run("none", func(t *testing.T) {
		store, closer, err := buildDurable(c, nil)
		require.NoError(t, err)
		assert.Nil(t, store)
		assert.Nil(t, closer)
	})

	t.Run("disk", func(t *testing.T) {
		c := c
		c.Cache.Durable = config.DurableDisk
		c.Cache.Dir = t.TempDir()
		store, closer, err := buildDurable(c, nil)
		require.NoError(t, err)
		assert.Nil(t, closer)
		assert.IsType(t, &cache.DiskStore{}, store)
		assert.NoError(t, store.Close())
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c := c
		c.Cache.Durable = config.DurableRedis
		c.Cache.RedisURL = "redis://" + mr.Addr()
		store, closer, err := buildDurable(c, nil)
		require.NoError(t, err)
		require.NotNil(t, closer)
		assert.IsType(t, &cache.RedisStore{}, store)

		fp := cache.Key{Backend: "mock", Voice: "v", Text: "hello", Format: "mp3"}.Fingerprint()
		require.NoError(t, store.Put(t.Context(), fp, cache.Entry{Audio: []byte("ID3"), ContentType: "audio/mpeg"}))
		assert.Len(t, mr.Keys(), 1)
		assert.NoError(t, closer.Close())
	})

	t.Run("bad redis url", func(t *testing.T) {
		c := c
		c.Cache.Durable = config.DurableRedis
		c.Cache.RedisURL = "http://nope"
		_, _, err := buildDurable(c, nil)
		assert.Error(t, err)
	})

	t.Run("nats without connection", func(t *testing.T) {
		c := c
		c.Cache.Durable = config.DurableNATS
		_, _, err := buildDurable(c, nil)
		assert.Error(t, err)
	})
}

func TestSpeechConfig(t *testing.T) {
	c := config.DefaultConfig()
	c.Backends.ElevenLabs.Voice = "Rachel"
	c.Backends.Azure.Voice = "en-GB-SoniaNeural"
	c.Voices = map[string]config.VoiceConfig{
		"butler": {Backend: backend.IDAzure, Voice: "en-GB-RyanNeural", Style: "cheerful"},
	}

	sc := speechConfig(c)
	assert.Equal(t, backend.IDMock, sc.DefaultBackend)
	assert.Equal(t, map[string]string{
		backend.IDElevenLabs: "Rachel",
		backend.IDAzure:      "en-GB-SoniaNeural",
	}, sc.DefaultVoices)
	require.Contains(t, sc.Aliases, "butler")
	assert.Equal(t, backend.StyleCheerful, sc.Aliases["butler"].Style)
	assert.Equal(t, "en-GB-RyanNeural", sc.Aliases["butler"].Voice)
}

func TestNewApp_SpeaksInOrder(t *testing.T) {
	c := testConfig(t)
	sink := playback.NewMockSink(0)
	a, err := newApp(c, sink)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close() })

	go func() { _ = a.queue.Run(t.Context()) }()

	r, err := a.adapter.SubmitWait(t.Context(), ingest.Phrase{Text: "Front door is open", Source: "test"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Seq)
	assert.Equal(t, backend.IDMock, r.Backend)

	r, err = a.adapter.SubmitWait(t.Context(), ingest.Phrase{Text: "Front door is open", Source: "test"})
	require.NoError(t, err)
	assert.True(t, r.Cached)

	require.Eventually(t, func() bool { return len(sink.Played()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []uint64{1, 2}, sink.PlayedSeqs())
	assert.NotNil(t, a.sounds)
	assert.NotNil(t, a.alarms)
	assert.Nil(t, a.nats)
}

func TestNewApp_AlarmsPersist(t *testing.T) {
	c := testConfig(t)
	a, err := newApp(c, playback.NewMockSink(0))
	require.NoError(t, err)
	created, err := a.adapter.AddAlarm(alarm.Alarm{Time: "06:30", Message: "Wake up"})
	require.NoError(t, err)
	require.NoError(t, a.close())

	b, err := newApp(c, playback.NewMockSink(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.close() })
	alarms, err := b.adapter.Alarms()
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, created.ID, alarms[0].ID)

	c.Alarms.Enabled = false
	d, err := newApp(c, playback.NewMockSink(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.close() })
	_, err = d.adapter.Alarms()
	assert.ErrorIs(t, err, ingest.ErrNoAlarms)
}

func TestNewApp_InvalidVolume(t *testing.T) {
	c := testConfig(t)
	c.Playback.Volume = 3
	_, err := newApp(c, playback.NewMockSink(0))
	assert.Error(t, err)
}

func TestEnsureConfigFile(t *testing.T) {
	old := configFile
	t.Cleanup(func() { configFile = old })

	configFile = filepath.Join(t.TempDir(), "nested", "homespeak.yml")
	require.NoError(t, ensureConfigFile())

	data, err := os.ReadFile(configFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# homespeak configuration.")

	loaded := config.DefaultConfig()
	require.NoError(t, config.LoadFile(configFile, &loaded))
	assert.NoError(t, loaded.Validate())
	assert.Equal(t, config.DefaultConfig().Cache.TTL, loaded.Cache.TTL)

	// An existing file is left alone.
	require.NoError(t, os.WriteFile(configFile, []byte("log:\n  level: debug\n"), 0o600))
	require.NoError(t, ensureConfigFile())
	data, err = os.ReadFile(configFile)
	require.NoError(t, err)
	assert.Equal(t, "log:\n  level: debug\n", string(data))

	configFile = filepath.Join(t.TempDir(), "homespeak.json")
	assert.Error(t, ensureConfigFile())
}

func TestRenderVoicesAndUsage(t *testing.T) {
	out := renderVoices([]backend.Voice{
		{ID: "en-GB-SoniaNeural", Name: "Sonia", Language: "en-GB", Styles: []string{"cheerful", "sad"}},
	})
	assert.Contains(t, out, "Sonia")
	assert.Contains(t, out, "en-GB-SoniaNeural")
	assert.Contains(t, out, "cheerful, sad")
	assert.Equal(t, "No voices found.\n", renderVoices(nil))

	now := time.Date(2026, 10, 16, 19, 5, 0, 0, time.UTC)
	out = renderUsage("elevenlabs", backend.Usage{
		Tier:     "starter",
		Used:     12345,
		Limit:    30000,
		ResetsAt: now.Add(72 * time.Hour),
	}, now)
	assert.Contains(t, out, "12,345 of 30,000 characters")
	assert.Contains(t, out, "17,655")
	assert.Contains(t, out, "from now")
}
