package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGoogle_Synthesize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text:synthesize" {
			t.Errorf("Path = %v", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "g-key" {
			t.Errorf("key = %v", r.URL.Query().Get("key"))
		}

		var req googleSynthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Voice.Name != GoogleDefaultVoice || req.Voice.LanguageCode != "en-US" {
			t.Errorf("unexpected voice %+v", req.Voice)
		}
		if req.AudioConfig.AudioEncoding != "MP3" || req.Input.Text != "Laundry is done" {
			t.Errorf("unexpected request %+v", req)
		}

		_ = json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString([]byte("google-mp3")),
		})
	}))
	defer server.Close()

	g := NewGoogle("g-key", WithGoogleBaseURL(server.URL))
	audio, err := g.Synthesize(context.Background(), "Laundry is done", VoiceParams{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(audio.Data) != "google-mp3" || audio.ContentType != "audio/mpeg" {
		t.Errorf("unexpected audio %+v", audio)
	}
}

func TestGoogle_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"denied", http.StatusForbidden, `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`, KindAuth},
		{"quota", http.StatusTooManyRequests, `{"error":{"code":429,"message":"Quota exceeded for quota metric","status":"RESOURCE_EXHAUSTED"}}`, KindQuota},
		{"rate", http.StatusTooManyRequests, `{"error":{"code":429,"message":"Too many requests","status":"RESOURCE_EXHAUSTED"}}`, KindRateLimit},
		{"bad voice", http.StatusBadRequest, `{"error":{"code":400,"message":"Voice does not exist","status":"INVALID_ARGUMENT"}}`, KindMalformed},
		{"unavailable", http.StatusServiceUnavailable, `{"error":{"code":503,"message":"try later","status":"UNAVAILABLE"}}`, KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			g := NewGoogle("k", WithGoogleBaseURL(server.URL))
			_, err := g.Synthesize(context.Background(), "hi", VoiceParams{})
			if !IsKind(err, tt.kind) {
				t.Errorf("got %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestGoogle_UnsupportedFormat(t *testing.T) {
	g := NewGoogle("k")
	if _, err := g.Synthesize(context.Background(), "hi", VoiceParams{Format: "flac"}); !IsKind(err, KindMalformed) {
		t.Errorf("expected malformed error, got %v", err)
	}
}

func TestGoogle_Voices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"voices":[{"languageCodes":["en-GB"],"name":"en-GB-Wavenet-A","ssmlGender":"FEMALE"}]}`))
	}))
	defer server.Close()

	voices, err := NewGoogle("k", WithGoogleBaseURL(server.URL)).Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices() error = %v", err)
	}
	if len(voices) != 1 || voices[0].Language != "en-GB" || voices[0].Gender != "female" {
		t.Errorf("unexpected voices %+v", voices)
	}
}

func TestAzure_SynthesizeSendsSSML(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cognitiveservices/v1" {
			t.Errorf("Path = %v", r.URL.Path)
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "az-key" {
			t.Error("missing subscription key")
		}
		if r.Header.Get("X-Microsoft-OutputFormat") != AzureOutputFormat {
			t.Errorf("output format = %v", r.Header.Get("X-Microsoft-OutputFormat"))
		}
		if r.Header.Get("Content-Type") != "application/ssml+xml" {
			t.Errorf("content type = %v", r.Header.Get("Content-Type"))
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte("azure-mp3"))
	}))
	defer server.Close()

	a := NewAzure("az-key", WithAzureBaseURL(server.URL))
	audio, err := a.Synthesize(context.Background(), "Tom & Jerry <3", VoiceParams{Style: StyleCheerful})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(audio.Data) != "azure-mp3" {
		t.Errorf("audio = %q", audio.Data)
	}

	for _, want := range []string{
		`<voice name="en-US-SaraNeural">`,
		`xml:lang="en-US"`,
		`<mstts:silence type="Sentenceboundary" value="50ms"/>`,
		`<mstts:silence type="Tailing" value="25ms"/>`,
		`<mstts:silence type="Leading" value="25ms"/>`,
		`<mstts:express-as style="cheerful">Tom &amp; Jerry &lt;3</mstts:express-as>`,
	} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("SSML missing %s\n%s", want, gotBody)
		}
	}
}

func TestBuildSSML_PlainHasNoExpression(t *testing.T) {
	ssml, err := buildSSML("hello", AzureDefaultVoice, StylePlain)
	if err != nil {
		t.Fatalf("buildSSML() error = %v", err)
	}
	if strings.Contains(ssml, "express-as") {
		t.Errorf("plain style should not use express-as: %s", ssml)
	}
}

func TestAzure_EndpointUsesRegion(t *testing.T) {
	a := NewAzure("k", WithAzureRegion("westeurope"))
	if got := a.endpoint("/cognitiveservices/v1"); got != "https://westeurope.tts.speech.microsoft.com/cognitiveservices/v1" {
		t.Errorf("endpoint = %s", got)
	}
	if got := NewAzure("k").endpoint("/x"); !strings.HasPrefix(got, "https://uksouth.") {
		t.Errorf("default region endpoint = %s", got)
	}
}

func TestAzure_Voices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cognitiveservices/voices/list" {
			t.Errorf("Path = %v", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"ShortName":"en-US-SaraNeural","LocalName":"Sara","Gender":"Female","Locale":"en-US","StyleList":["angry","cheerful","sad"]}]`))
	}))
	defer server.Close()

	voices, err := NewAzure("k", WithAzureBaseURL(server.URL)).Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices() error = %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "en-US-SaraNeural" || len(voices[0].Styles) != 3 {
		t.Errorf("unexpected voices %+v", voices)
	}
}

func TestAzure_AuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewAzure("bad", WithAzureBaseURL(server.URL)).Synthesize(context.Background(), "hi", VoiceParams{})
	var be *Error
	if !errors.As(err, &be) || be.Kind != KindAuth || be.Retryable() {
		t.Errorf("expected non-retryable auth error, got %v", err)
	}
}

func TestOpenAI_Synthesize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("Path = %v", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %v", r.Header.Get("Authorization"))
		}

		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["voice"] != "nova" || req["model"] != "tts-1" || req["input"] != "Garage door closed" {
			t.Errorf("unexpected request %v", req)
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("openai-mp3"))
	}))
	defer server.Close()

	o := NewOpenAI("sk-test", WithOpenAIBaseURL(server.URL+"/v1"))
	audio, err := o.Synthesize(context.Background(), "Garage door closed", VoiceParams{Voice: "nova"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(audio.Data) != "openai-mp3" || audio.ContentType != "audio/mpeg" {
		t.Errorf("unexpected audio %+v", audio)
	}
}

func TestOpenAI_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"auth", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`, KindAuth},
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`, KindQuota},
		{"rate", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, KindRateLimit},
		{"server", http.StatusInternalServerError, `not json`, KindProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			o := NewOpenAI("sk", WithOpenAIBaseURL(server.URL+"/v1"))
			_, err := o.Synthesize(context.Background(), "hi", VoiceParams{})

			var be *Error
			if !errors.As(err, &be) {
				t.Fatalf("expected *backend.Error, got %v", err)
			}
			if be.Kind != tt.kind || be.Status != tt.status {
				t.Errorf("got kind=%s status=%d, want %s/%d", be.Kind, be.Status, tt.kind, tt.status)
			}
		})
	}
}

func TestTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewAzure("k", WithAzureBaseURL(server.URL)).Synthesize(ctx, "hi", VoiceParams{})
	if !IsKind(err, KindTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("timeout should wrap context.DeadlineExceeded: %v", err)
	}

	// Nothing listening.
	server.Close()
	_, err = NewAzure("k", WithAzureBaseURL(server.URL)).Synthesize(context.Background(), "hi", VoiceParams{})
	var be *Error
	if !errors.As(err, &be) || be.Kind != KindNetwork || !be.Retryable() {
		t.Errorf("expected retryable network error, got %v", err)
	}
}
