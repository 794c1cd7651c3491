package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestNewElevenLabs_WithOptions(t *testing.T) {
	customClient := &http.Client{}
	s := NewElevenLabs("test-key",
		WithElevenLabsBaseURL("https://custom.api.com/"),
		WithElevenLabsClient(customClient),
		WithElevenLabsModel("eleven_turbo_v2_5"),
	)

	if s.baseURL != "https://custom.api.com" {
		t.Errorf("baseURL = %v, want https://custom.api.com", s.baseURL)
	}
	if s.client != customClient {
		t.Error("client was not set correctly")
	}
	if s.model != "eleven_turbo_v2_5" {
		t.Errorf("model = %v", s.model)
	}
	if d := s.Descriptor(); d.ID != IDElevenLabs || d.FormatVersion != elevenLabsFormatVersion {
		t.Errorf("unexpected descriptor %+v", d)
	}
}

func TestElevenLabs_SynthesizeEmptyText(t *testing.T) {
	s := NewElevenLabs("test-key")
	if _, err := s.Synthesize(context.Background(), "  ", VoiceParams{}); !errors.Is(err, ErrEmptyText) {
		t.Errorf("Synthesize() error = %v, want ErrEmptyText", err)
	}
}

func TestElevenLabs_SynthesizeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %v, want POST", r.Method)
		}
		if r.URL.Path != "/v1/text-to-speech/"+ElevenLabsDefaultVoice {
			t.Errorf("Path = %v", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "test-key" {
			t.Errorf("xi-api-key = %v", r.Header.Get("xi-api-key"))
		}

		var req elevenLabsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Text != "Dinner is ready" || req.ModelID != ElevenLabsDefaultModel {
			t.Errorf("unexpected request %+v", req)
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("fake-mp3"))
	}))
	defer server.Close()

	s := NewElevenLabs("test-key", WithElevenLabsBaseURL(server.URL))
	audio, err := s.Synthesize(context.Background(), "Dinner is ready", VoiceParams{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(audio.Data) != "fake-mp3" || audio.ContentType != "audio/mpeg" {
		t.Errorf("unexpected audio %+v", audio)
	}
}

func TestElevenLabs_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"detail":{"status":"invalid_api_key","message":"bad key"}}`, KindAuth},
		{"quota", http.StatusUnauthorized, `{"detail":{"status":"quota_exceeded","message":"out of characters"}}`, KindQuota},
		{"rate limited", http.StatusTooManyRequests, `{"detail":{"status":"too_many_concurrent_requests","message":"slow down"}}`, KindRateLimit},
		{"voice not found", http.StatusNotFound, `{"detail":{"status":"voice_not_found","message":"no voice"}}`, KindMalformed},
		{"validation", http.StatusUnprocessableEntity, `{"detail":"text too long"}`, KindMalformed},
		{"server", http.StatusInternalServerError, `oops`, KindProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			s := NewElevenLabs("k", WithElevenLabsBaseURL(server.URL))
			_, err := s.Synthesize(context.Background(), "hi", VoiceParams{})

			var be *Error
			if !errors.As(err, &be) {
				t.Fatalf("expected *backend.Error, got %v", err)
			}
			if be.Kind != tt.kind || be.Status != tt.status || be.Backend != IDElevenLabs {
				t.Errorf("got kind=%s status=%d, want %s/%d", be.Kind, be.Status, tt.kind, tt.status)
			}
			if be.Message == "" {
				t.Error("message should be populated")
			}
		})
	}
}

func TestElevenLabs_VoicesAndResolve(t *testing.T) {
	var voiceCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			http.NotFound(w, r)
			return
		}
		voiceCalls.Add(1)
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"id-freya","name":"Freya","labels":{"accent":"american","gender":"female"}},
			{"voice_id":"id-josh","name":"Josh","labels":{"gender":"male"}}
		]}`))
	}))
	defer server.Close()

	s := NewElevenLabs("k", WithElevenLabsBaseURL(server.URL))
	ctx := context.Background()

	id, err := s.ResolveVoice(ctx, "freya")
	if err != nil || id != "id-freya" {
		t.Fatalf("ResolveVoice(freya) = %q, %v", id, err)
	}
	if id, _ := s.ResolveVoice(ctx, "id-josh"); id != "id-josh" {
		t.Errorf("known id should pass through, got %q", id)
	}
	if _, err := s.ResolveVoice(ctx, "Nobody"); !errors.Is(err, ErrUnknownVoice) {
		t.Errorf("expected ErrUnknownVoice, got %v", err)
	}
	if id, _ := s.ResolveVoice(ctx, ""); id != ElevenLabsDefaultVoice {
		t.Errorf("empty name should map to default, got %q", id)
	}
	if n := voiceCalls.Load(); n != 1 {
		t.Errorf("catalog fetched %d times, want 1", n)
	}

	voices, err := s.Voices(ctx)
	if err != nil {
		t.Fatalf("Voices() error = %v", err)
	}
	if len(voices) != 2 || voices[0].Gender != "female" || voices[0].Language != "american" {
		t.Errorf("unexpected voices %+v", voices)
	}
}

func TestElevenLabs_Usage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/user/subscription") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"tier":"starter","character_count":1200,"character_limit":30000,"next_character_count_reset_unix":1700000000}`))
	}))
	defer server.Close()

	s := NewElevenLabs("k", WithElevenLabsBaseURL(server.URL))
	u, err := s.Usage(context.Background())
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if u.Tier != "starter" || u.Used != 1200 || u.Limit != 30000 || u.Remaining() != 28800 {
		t.Errorf("unexpected usage %+v", u)
	}
	if u.ResetsAt.Unix() != 1700000000 {
		t.Errorf("ResetsAt = %v", u.ResetsAt)
	}
}

func TestElevenLabs_ResolveVoiceIDWithoutCatalog(t *testing.T) {
	var voiceCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		voiceCalls.Add(1)
		http.Error(w, `{"detail":{"status":"system_busy"}}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s := NewElevenLabs("k", WithElevenLabsBaseURL(server.URL))
	ctx := context.Background()

	for _, id := range []string{"AZnzlk1XvdvUeBnXmlld", ElevenLabsDefaultVoice} {
		got, err := s.ResolveVoice(ctx, id)
		if err != nil || got != id {
			t.Errorf("ResolveVoice(%s) = %q, %v", id, got, err)
		}
	}
	if n := voiceCalls.Load(); n != 0 {
		t.Errorf("catalog fetched %d times for ids, want 0", n)
	}

	if _, err := s.ResolveVoice(ctx, "Rachel"); err == nil {
		t.Error("a name needs the catalog and should fail while it is down")
	}
	if isElevenLabsVoiceID("id-josh") || isElevenLabsVoiceID("AZnzlk1XvdvUeBnXml-d") {
		t.Error("non-id shapes must not pass through")
	}
}
