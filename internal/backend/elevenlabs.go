package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io"

	// ElevenLabsDefaultVoice is the voice used when none is given (Freya).
	ElevenLabsDefaultVoice = "jsCqWAovK2LkecY7zXl4"

	// ElevenLabsDefaultModel is the synthesis model.
	ElevenLabsDefaultModel = "eleven_multilingual_v2"

	elevenLabsFormatVersion = 5
	elevenLabsOutputFormat  = "mp3_44100_128"
	elevenLabsVoiceIDLen    = 20

	elevenLabsDefaultStability       = 0.5
	elevenLabsDefaultSimilarityBoost = 0.75
)

// ElevenLabs is the ElevenLabs text-to-speech client.
type ElevenLabs struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client

	// Voice name to id table, loaded on first use.
	mu     sync.Mutex
	voices map[string]string
}

// ElevenLabsOption configures the ElevenLabs client.
type ElevenLabsOption func(*ElevenLabs)

// WithElevenLabsBaseURL sets a custom base URL.
func WithElevenLabsBaseURL(u string) ElevenLabsOption {
	return func(s *ElevenLabs) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

// WithElevenLabsClient sets a custom HTTP client.
func WithElevenLabsClient(client *http.Client) ElevenLabsOption {
	return func(s *ElevenLabs) {
		s.client = client
	}
}

// WithElevenLabsModel sets the synthesis model.
func WithElevenLabsModel(model string) ElevenLabsOption {
	return func(s *ElevenLabs) {
		if model != "" {
			s.model = model
		}
	}
}

// NewElevenLabs creates an ElevenLabs client.
func NewElevenLabs(apiKey string, opts ...ElevenLabsOption) *ElevenLabs {
	s := &ElevenLabs{
		apiKey:  apiKey,
		baseURL: elevenLabsBaseURL,
		model:   ElevenLabsDefaultModel,
		client:  newHTTPClient(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Descriptor implements Backend.
func (s *ElevenLabs) Descriptor() Descriptor {
	return Descriptor{
		ID:            IDElevenLabs,
		DefaultVoice:  ElevenLabsDefaultVoice,
		DefaultFormat: "mp3",
		FormatVersion: elevenLabsFormatVersion,
		Capabilities: Capabilities{
			Formats:       []string{"mp3"},
			MaxTextLength: 5000,
			RequiresAuth:  true,
			VoiceCatalog:  true,
			UsageInfo:     true,
		},
	}
}

type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id,omitempty"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize implements Backend.
func (s *ElevenLabs) Synthesize(ctx context.Context, text string, params VoiceParams) (Audio, error) {
	if strings.TrimSpace(text) == "" {
		return Audio{}, ErrEmptyText
	}

	voice := params.Voice
	if voice == "" {
		voice = ElevenLabsDefaultVoice
	}

	body, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: s.model,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       elevenLabsDefaultStability,
			SimilarityBoost: elevenLabsDefaultSimilarityBoost,
		},
	})
	if err != nil {
		return Audio{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		s.baseURL, url.PathEscape(voice), elevenLabsOutputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("failed to create request: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	data, header, err := do(s.client, IDElevenLabs, req, parseElevenLabsError)
	if err != nil {
		return Audio{}, err
	}
	if len(data) == 0 {
		return Audio{}, &Error{Backend: IDElevenLabs, Kind: KindProvider, Message: "empty audio response"}
	}

	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return Audio{Data: data, ContentType: contentType}, nil
}

type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// Voices implements VoiceCatalog.
func (s *ElevenLabs) Voices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.authorize(req)

	body, _, err := do(s.client, IDElevenLabs, req, parseElevenLabsError)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Voices []elevenLabsVoice `json:"voices"`
	}
	if err := decodeJSON(IDElevenLabs, body, &resp); err != nil {
		return nil, err
	}

	voices := make([]Voice, 0, len(resp.Voices))
	table := make(map[string]string, len(resp.Voices))
	for _, v := range resp.Voices {
		voices = append(voices, Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Language: v.Labels["accent"],
			Gender:   v.Labels["gender"],
		})
		table[strings.ToLower(v.Name)] = v.VoiceID
	}

	s.mu.Lock()
	s.voices = table
	s.mu.Unlock()

	return voices, nil
}

// ResolveVoice maps a voice name to its id, loading the catalog on first
// use. Names are matched case-insensitively; a known id is returned as is.
// Id-shaped names skip the catalog, so voices outside the account library
// and a catalog outage do not block them.
func (s *ElevenLabs) ResolveVoice(ctx context.Context, name string) (string, error) {
	if name == "" {
		return ElevenLabsDefaultVoice, nil
	}
	if isElevenLabsVoiceID(name) {
		return name, nil
	}

	s.mu.Lock()
	loaded := s.voices != nil
	s.mu.Unlock()

	if !loaded {
		if _, err := s.Voices(ctx); err != nil {
			return "", fmt.Errorf("load voice catalog: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.voices[strings.ToLower(name)]; ok {
		return id, nil
	}
	for _, id := range s.voices {
		if id == name {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVoice, name)
}

// isElevenLabsVoiceID reports whether name has the shape of a voice id:
// twenty ASCII letters and digits.
func isElevenLabsVoiceID(name string) bool {
	if len(name) != elevenLabsVoiceIDLen {
		return false
	}
	for _, c := range name {
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

// Usage implements UsageReporter.
func (s *ElevenLabs) Usage(ctx context.Context) (Usage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/user/subscription", nil)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to create request: %w", err)
	}
	s.authorize(req)

	body, _, err := do(s.client, IDElevenLabs, req, parseElevenLabsError)
	if err != nil {
		return Usage{}, err
	}

	var resp struct {
		Tier           string `json:"tier"`
		CharacterCount int64  `json:"character_count"`
		CharacterLimit int64  `json:"character_limit"`
		NextReset      int64  `json:"next_character_count_reset_unix"`
	}
	if err := decodeJSON(IDElevenLabs, body, &resp); err != nil {
		return Usage{}, err
	}

	u := Usage{
		Tier:  resp.Tier,
		Used:  resp.CharacterCount,
		Limit: resp.CharacterLimit,
		Unit:  "characters",
	}
	if resp.NextReset > 0 {
		u.ResetsAt = time.Unix(resp.NextReset, 0)
	}
	return u, nil
}

func (s *ElevenLabs) authorize(req *http.Request) {
	req.Header.Set("xi-api-key", s.apiKey)
}

// parseElevenLabsError reads {"detail": {"status", "message"}} bodies.
// detail is sometimes a plain string.
func parseElevenLabsError(_ int, body []byte) (string, Kind) {
	var resp struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &resp) != nil || len(resp.Detail) == 0 {
		return "", ""
	}

	var detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if json.Unmarshal(resp.Detail, &detail) == nil && detail.Message != "" {
		switch detail.Status {
		case "quota_exceeded":
			return detail.Message, KindQuota
		case "voice_not_found":
			return detail.Message, KindMalformed
		case "too_many_concurrent_requests", "system_busy":
			return detail.Message, KindRateLimit
		}
		return detail.Message, ""
	}

	var msg string
	if json.Unmarshal(resp.Detail, &msg) == nil {
		return msg, ""
	}
	return "", ""
}
