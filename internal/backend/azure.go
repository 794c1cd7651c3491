package backend

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
)

const (
	// AzureDefaultVoice is the neural voice whose styles we rely on.
	AzureDefaultVoice = "en-US-SaraNeural"

	// AzureDefaultRegion is the speech resource region.
	AzureDefaultRegion = "uksouth"

	// AzureOutputFormat is the X-Microsoft-OutputFormat header value.
	AzureOutputFormat = "audio-48khz-192kbitrate-mono-mp3"

	azureFormatVersion = 4
)

// Silence padding around every Azure utterance.
var azureSilences = []struct{ kind, value string }{
	{"Sentenceboundary", "50ms"},
	{"Tailing", "25ms"},
	{"Leading", "25ms"},
}

// Azure is the Azure Cognitive Services speech REST client.
type Azure struct {
	key          string
	region       string
	baseURL      string // overrides the region endpoint
	outputFormat string
	client       *http.Client
}

// AzureOption configures the Azure client.
type AzureOption func(*Azure)

// WithAzureRegion sets the resource region.
func WithAzureRegion(region string) AzureOption {
	return func(a *Azure) {
		if region != "" {
			a.region = region
		}
	}
}

// WithAzureBaseURL replaces the regional endpoint, mostly for tests.
func WithAzureBaseURL(u string) AzureOption {
	return func(a *Azure) {
		a.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAzureClient sets a custom HTTP client.
func WithAzureClient(client *http.Client) AzureOption {
	return func(a *Azure) {
		a.client = client
	}
}

// NewAzure creates an Azure speech client.
func NewAzure(key string, opts ...AzureOption) *Azure {
	a := &Azure{
		key:          key,
		region:       AzureDefaultRegion,
		outputFormat: AzureOutputFormat,
		client:       newHTTPClient(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Descriptor implements Backend.
func (a *Azure) Descriptor() Descriptor {
	return Descriptor{
		ID:            IDAzure,
		DefaultVoice:  AzureDefaultVoice,
		DefaultFormat: "mp3",
		FormatVersion: azureFormatVersion,
		Capabilities: Capabilities{
			Styles:            Styles,
			Formats:           []string{"mp3"},
			RequestsPerMinute: 200,
			RequiresAuth:      true,
			VoiceCatalog:      true,
		},
	}
}

// Synthesize implements Backend.
func (a *Azure) Synthesize(ctx context.Context, text string, params VoiceParams) (Audio, error) {
	if strings.TrimSpace(text) == "" {
		return Audio{}, ErrEmptyText
	}
	if params.Format != "" && params.Format != "mp3" {
		return Audio{}, &Error{Backend: IDAzure, Kind: KindMalformed, Message: fmt.Sprintf("unsupported format %q", params.Format)}
	}

	voice := params.Voice
	if voice == "" {
		voice = AzureDefaultVoice
	}

	ssml, err := buildSSML(text, voice, params.Style)
	if err != nil {
		return Audio{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("/cognitiveservices/v1"), strings.NewReader(ssml))
	if err != nil {
		return Audio{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.key)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", a.outputFormat)

	data, _, err := do(a.client, IDAzure, req, nil)
	if err != nil {
		return Audio{}, err
	}
	if len(data) == 0 {
		return Audio{}, &Error{Backend: IDAzure, Kind: KindProvider, Message: "empty audio response"}
	}

	return Audio{Data: data, ContentType: "audio/mpeg"}, nil
}

// Voices implements VoiceCatalog.
func (a *Azure) Voices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint("/cognitiveservices/voices/list"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.key)

	body, _, err := do(a.client, IDAzure, req, nil)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		ShortName string   `json:"ShortName"`
		LocalName string   `json:"LocalName"`
		Gender    string   `json:"Gender"`
		Locale    string   `json:"Locale"`
		StyleList []string `json:"StyleList"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Backend: IDAzure, Kind: KindProvider, Message: "invalid response body", Err: err}
	}

	voices := make([]Voice, 0, len(resp))
	for _, v := range resp {
		voices = append(voices, Voice{
			ID:       v.ShortName,
			Name:     v.LocalName,
			Language: v.Locale,
			Gender:   strings.ToLower(v.Gender),
			Styles:   v.StyleList,
		})
	}
	return voices, nil
}

func (a *Azure) endpoint(path string) string {
	if a.baseURL != "" {
		return a.baseURL + path
	}
	return fmt.Sprintf("https://%s.tts.speech.microsoft.com%s", a.region, path)
}

// buildSSML renders the request document. Styled text is wrapped in
// mstts:express-as; plain text is not.
func buildSSML(text, voice string, style Style) (string, error) {
	var b strings.Builder

	b.WriteString(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xmlns:mstts="https://www.w3.org/2001/mstts" xml:lang="`)
	if err := xml.EscapeText(&b, []byte(languageOf(voice))); err != nil {
		return "", err
	}
	b.WriteString(`"><voice name="`)
	if err := xml.EscapeText(&b, []byte(voice)); err != nil {
		return "", err
	}
	b.WriteString(`">`)

	for _, s := range azureSilences {
		fmt.Fprintf(&b, `<mstts:silence type="%s" value="%s"/>`, s.kind, s.value)
	}

	styled := style != "" && style != StylePlain
	if styled {
		fmt.Fprintf(&b, `<mstts:express-as style="%s">`, style)
	}
	if err := xml.EscapeText(&b, []byte(text)); err != nil {
		return "", err
	}
	if styled {
		b.WriteString(`</mstts:express-as>`)
	}

	b.WriteString(`</voice></speak>`)
	return b.String(), nil
}
