package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	googleBaseURL = "https://texttospeech.googleapis.com"

	// GoogleDefaultVoice is the English WaveNet female voice.
	GoogleDefaultVoice = "en-US-Wavenet-F"

	googleFormatVersion = 2
)

// Google is the Google Cloud Text-to-Speech REST client.
type Google struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// GoogleOption configures the Google client.
type GoogleOption func(*Google)

// WithGoogleBaseURL sets a custom base URL.
func WithGoogleBaseURL(u string) GoogleOption {
	return func(g *Google) {
		g.baseURL = strings.TrimRight(u, "/")
	}
}

// WithGoogleClient sets a custom HTTP client.
func WithGoogleClient(client *http.Client) GoogleOption {
	return func(g *Google) {
		g.client = client
	}
}

// NewGoogle creates a Google Cloud TTS client authenticated by API key.
func NewGoogle(apiKey string, opts ...GoogleOption) *Google {
	g := &Google{
		apiKey:  apiKey,
		baseURL: googleBaseURL,
		client:  newHTTPClient(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Descriptor implements Backend.
func (g *Google) Descriptor() Descriptor {
	return Descriptor{
		ID:            IDGoogle,
		DefaultVoice:  GoogleDefaultVoice,
		DefaultFormat: "mp3",
		FormatVersion: googleFormatVersion,
		Capabilities: Capabilities{
			Formats:           []string{"mp3", "wav", "ogg"},
			RequestsPerMinute: 1000,
			MaxTextLength:     5000,
			RequiresAuth:      true,
			VoiceCatalog:      true,
		},
	}
}

type googleSynthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name,omitempty"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string `json:"audioEncoding"`
	} `json:"audioConfig"`
}

// Synthesize implements Backend.
func (g *Google) Synthesize(ctx context.Context, text string, params VoiceParams) (Audio, error) {
	if strings.TrimSpace(text) == "" {
		return Audio{}, ErrEmptyText
	}

	voice := params.Voice
	if voice == "" {
		voice = GoogleDefaultVoice
	}
	encoding, err := googleEncoding(params.Format)
	if err != nil {
		return Audio{}, err
	}

	var r googleSynthesizeRequest
	r.Input.Text = text
	r.Voice.LanguageCode = languageOf(voice)
	r.Voice.Name = voice
	r.AudioConfig.AudioEncoding = encoding

	body, err := json.Marshal(r)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := g.baseURL + "/v1/text:synthesize?key=" + url.QueryEscape(g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, _, err := do(g.client, IDGoogle, req, parseGoogleError)
	if err != nil {
		return Audio{}, err
	}

	var resp struct {
		AudioContent string `json:"audioContent"`
	}
	if err := decodeJSON(IDGoogle, respBody, &resp); err != nil {
		return Audio{}, err
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return Audio{}, &Error{Backend: IDGoogle, Kind: KindProvider, Message: "invalid audioContent", Err: err}
	}
	if len(audio) == 0 {
		return Audio{}, &Error{Backend: IDGoogle, Kind: KindProvider, Message: "empty audio response"}
	}

	return Audio{Data: audio, ContentType: contentTypeFor(formatOr(params.Format, "mp3"))}, nil
}

// Voices implements VoiceCatalog.
func (g *Google) Voices(ctx context.Context) ([]Voice, error) {
	endpoint := g.baseURL + "/v1/voices?key=" + url.QueryEscape(g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	body, _, err := do(g.client, IDGoogle, req, parseGoogleError)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Voices []struct {
			LanguageCodes []string `json:"languageCodes"`
			Name          string   `json:"name"`
			SSMLGender    string   `json:"ssmlGender"`
		} `json:"voices"`
	}
	if err := decodeJSON(IDGoogle, body, &resp); err != nil {
		return nil, err
	}

	voices := make([]Voice, 0, len(resp.Voices))
	for _, v := range resp.Voices {
		voice := Voice{ID: v.Name, Name: v.Name, Gender: strings.ToLower(v.SSMLGender)}
		if len(v.LanguageCodes) > 0 {
			voice.Language = v.LanguageCodes[0]
		}
		voices = append(voices, voice)
	}
	return voices, nil
}

func googleEncoding(format string) (string, error) {
	switch format {
	case "", "mp3":
		return "MP3", nil
	case "wav":
		return "LINEAR16", nil
	case "ogg", "opus":
		return "OGG_OPUS", nil
	default:
		return "", &Error{Backend: IDGoogle, Kind: KindMalformed, Message: fmt.Sprintf("unsupported format %q", format)}
	}
}

// parseGoogleError reads {"error": {"code", "message", "status"}} bodies.
func parseGoogleError(_ int, body []byte) (string, Kind) {
	var resp struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &resp) != nil {
		return "", ""
	}

	switch resp.Error.Status {
	case "RESOURCE_EXHAUSTED":
		if strings.Contains(strings.ToLower(resp.Error.Message), "quota") {
			return resp.Error.Message, KindQuota
		}
		return resp.Error.Message, KindRateLimit
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return resp.Error.Message, KindAuth
	case "INVALID_ARGUMENT":
		return resp.Error.Message, KindMalformed
	}
	return resp.Error.Message, ""
}

// languageOf returns the "en-US" prefix of a voice name like
// "en-US-Wavenet-F".
func languageOf(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) < 2 {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}

func formatOr(format, fallback string) string {
	if format == "" {
		return fallback
	}
	return format
}
