// Package backend provides the text-to-speech provider clients and the
// shared pieces around them: descriptors, the error taxonomy, a registry,
// a deterministic fallback policy and rate limiting.
package backend

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Known backend identifiers.
const (
	IDElevenLabs = "elevenlabs"
	IDGoogle     = "google"
	IDAzure      = "azure"
	IDOpenAI     = "openai"
	IDMock       = "mock"
)

// Style is a speaking style. Only some backends honour it; the rest render
// every style the same.
type Style string

const (
	StylePlain    Style = "plain"
	StyleAngry    Style = "angry"
	StyleCheerful Style = "cheerful"
	StyleSad      Style = "sad"
)

// Styles lists every known style.
var Styles = []Style{StylePlain, StyleAngry, StyleCheerful, StyleSad}

// ParseStyle parses a style name. The empty string is plain.
func ParseStyle(s string) (Style, error) {
	if s == "" {
		return StylePlain, nil
	}
	style := Style(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Styles, style) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedStyle, s)
	}
	return style, nil
}

// VoiceParams are the voice-affecting parameters of one synthesis call.
type VoiceParams struct {
	// Voice is the provider voice id; empty selects the backend default.
	Voice  string
	Style  Style
	Format string
}

// Audio is rendered speech.
type Audio struct {
	Data        []byte
	ContentType string
}

// Capabilities describes what a backend can do.
type Capabilities struct {
	Styles  []Style
	Formats []string

	// RequestsPerMinute is the provider's documented rate, 0 if unknown.
	RequestsPerMinute int
	MaxTextLength     int
	RequiresAuth      bool
	VoiceCatalog      bool
	UsageInfo         bool
}

// Descriptor is static per-provider metadata.
type Descriptor struct {
	ID            string
	DefaultVoice  string
	DefaultFormat string

	// FormatVersion is mixed into fingerprints. Bumping it invalidates
	// every cached phrase rendered by this backend.
	FormatVersion uint32

	Capabilities Capabilities
}

// SupportsStyle reports whether s changes the rendered audio.
func (d Descriptor) SupportsStyle(s Style) bool {
	return slices.Contains(d.Capabilities.Styles, s)
}

// SupportsFormat reports whether the backend can render format f.
func (d Descriptor) SupportsFormat(f string) bool {
	return slices.Contains(d.Capabilities.Formats, f)
}

// Backend synthesizes speech. Implementations must be safe for concurrent
// use and must honour ctx cancellation.
type Backend interface {
	Descriptor() Descriptor
	Synthesize(ctx context.Context, text string, params VoiceParams) (Audio, error)
}

// Voice is a catalog entry.
type Voice struct {
	ID       string
	Name     string
	Language string
	Gender   string
	Styles   []string
}

// VoiceCatalog is implemented by backends that can list their voices.
type VoiceCatalog interface {
	Voices(ctx context.Context) ([]Voice, error)
}

// VoiceResolver is implemented by backends that accept voice names in
// place of ids.
type VoiceResolver interface {
	ResolveVoice(ctx context.Context, name string) (string, error)
}

// Usage is account usage reported by a provider.
type Usage struct {
	Tier     string
	Used     int64
	Limit    int64
	Unit     string
	ResetsAt time.Time
}

// Remaining returns the units left in the current period.
func (u Usage) Remaining() int64 {
	return max(u.Limit-u.Used, 0)
}

// UsageReporter is implemented by backends that expose account usage.
type UsageReporter interface {
	Usage(ctx context.Context) (Usage, error)
}

// Unwrapper is implemented by decorators such as the rate limiter.
type Unwrapper interface {
	Unwrap() Backend
}

// Innermost strips decorators from b.
func Innermost(b Backend) Backend {
	for {
		u, ok := b.(Unwrapper)
		if !ok {
			return b
		}
		b = u.Unwrap()
	}
}

// AsVoiceCatalog returns the voice catalog behind b, if any.
func AsVoiceCatalog(b Backend) (VoiceCatalog, bool) {
	c, ok := Innermost(b).(VoiceCatalog)
	return c, ok
}

// AsVoiceResolver returns the voice resolver behind b, if any.
func AsVoiceResolver(b Backend) (VoiceResolver, bool) {
	r, ok := Innermost(b).(VoiceResolver)
	return r, ok
}

// AsUsageReporter returns the usage reporter behind b, if any.
func AsUsageReporter(b Backend) (UsageReporter, bool) {
	r, ok := Innermost(b).(UsageReporter)
	return r, ok
}

// contentTypeFor maps a format name to a MIME type.
func contentTypeFor(format string) string {
	switch format {
	case "mp3", "":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg", "opus":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
