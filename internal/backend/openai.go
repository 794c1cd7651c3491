package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// OpenAIDefaultVoice is the default speech voice.
	OpenAIDefaultVoice = "alloy"

	openAIFormatVersion = 1
)

var openAIVoices = []openai.SpeechVoice{
	openai.VoiceAlloy,
	openai.VoiceEcho,
	openai.VoiceFable,
	openai.VoiceOnyx,
	openai.VoiceNova,
	openai.VoiceShimmer,
}

// OpenAI renders speech through the OpenAI audio API.
type OpenAI struct {
	client *openai.Client
	model  openai.SpeechModel
}

// OpenAIOption configures the OpenAI backend.
type OpenAIOption func(*openai.ClientConfig, *OpenAI)

// WithOpenAIBaseURL sets a custom API base URL, including the /v1 suffix.
func WithOpenAIBaseURL(u string) OpenAIOption {
	return func(cfg *openai.ClientConfig, _ *OpenAI) {
		cfg.BaseURL = strings.TrimRight(u, "/")
	}
}

// WithOpenAIHTTPClient sets a custom HTTP client.
func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(cfg *openai.ClientConfig, _ *OpenAI) {
		cfg.HTTPClient = client
	}
}

// WithOpenAIModel sets the speech model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(_ *openai.ClientConfig, o *OpenAI) {
		if model != "" {
			o.model = openai.SpeechModel(model)
		}
	}
}

// NewOpenAI creates an OpenAI speech backend.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = newHTTPClient()

	o := &OpenAI{model: openai.TTSModel1}
	for _, opt := range opts {
		opt(&cfg, o)
	}
	o.client = openai.NewClientWithConfig(cfg)
	return o
}

// Descriptor implements Backend.
func (o *OpenAI) Descriptor() Descriptor {
	return Descriptor{
		ID:            IDOpenAI,
		DefaultVoice:  OpenAIDefaultVoice,
		DefaultFormat: "mp3",
		FormatVersion: openAIFormatVersion,
		Capabilities: Capabilities{
			Formats:       []string{"mp3", "wav", "opus"},
			MaxTextLength: 4096,
			RequiresAuth:  true,
			VoiceCatalog:  true,
		},
	}
}

// Synthesize implements Backend.
func (o *OpenAI) Synthesize(ctx context.Context, text string, params VoiceParams) (Audio, error) {
	if strings.TrimSpace(text) == "" {
		return Audio{}, ErrEmptyText
	}

	voice := params.Voice
	if voice == "" {
		voice = OpenAIDefaultVoice
	}
	format := formatOr(params.Format, "mp3")

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.model,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormat(format),
	})
	if err != nil {
		return Audio{}, mapOpenAIError(err)
	}
	defer resp.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp, maxResponseSize))
	if err != nil {
		return Audio{}, transportError(IDOpenAI, fmt.Errorf("read response: %w", err))
	}
	if len(data) == 0 {
		return Audio{}, &Error{Backend: IDOpenAI, Kind: KindProvider, Message: "empty audio response"}
	}

	return Audio{Data: data, ContentType: contentTypeFor(format)}, nil
}

// Voices implements VoiceCatalog. The API has no listing endpoint, so the
// documented set is returned.
func (o *OpenAI) Voices(context.Context) ([]Voice, error) {
	voices := make([]Voice, 0, len(openAIVoices))
	for _, v := range openAIVoices {
		voices = append(voices, Voice{ID: string(v), Name: string(v), Language: "multilingual"})
	}
	return voices, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		e := statusError(IDOpenAI, apiErr.HTTPStatusCode, apiErr.Message)
		if apiErr.Type == "insufficient_quota" || apiErr.Code == "insufficient_quota" {
			e.Kind = KindQuota
		}
		e.Err = err
		return e
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		e := statusError(IDOpenAI, reqErr.HTTPStatusCode, truncate(string(reqErr.Body), maxErrorBody))
		e.Err = err
		return e
	}

	return transportError(IDOpenAI, err)
}
