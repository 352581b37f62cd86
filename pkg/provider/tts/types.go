package tts

import "log/slog"

// Quality selects the synthesis quality tier. It maps to provider-specific
// model choices (e.g., tts-1 vs tts-1-hd on OpenAI).
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHD       Quality = "hd"
)

// CanonicalVoices is the application-level symbolic voice set. Callers select
// voices by these names; each provider translates them into its own
// identifier scheme through a [VoiceMap].
var CanonicalVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// Request describes a single synthesis invocation.
type Request struct {
	// Text is the exact text to render as speech. Must be non-empty; length
	// limits are enforced by the caller, not the provider.
	Text string

	// Voice is the symbolic voice name (e.g., "alloy").
	Voice string

	// Speed is the playback rate multiplier in [0.25, 4.0]. Zero means the
	// provider default (1.0).
	Speed float64

	// Quality selects the synthesis tier. Empty means QualityStandard.
	Quality Quality
}

// Result is the normalized outcome of a synthesis call. Exactly one of Audio
// or URL is set.
type Result struct {
	// Audio holds the rendered audio bytes for providers that return audio
	// inline. Nil when URL is set.
	Audio []byte

	// Format is the container format of Audio (e.g., "mp3"). Empty when URL
	// is set.
	Format string

	// URL is a fetchable provider-hosted location of the rendered audio for
	// providers that return a reference instead of bytes.
	URL string
}

// VoiceMap translates symbolic voice names into a provider's own voice
// identifiers.
type VoiceMap map[string]string

// Resolve returns the provider identifier for the symbolic voice name. An
// unmapped voice falls back to def and emits a warn-level log line so the
// substitution is never silent.
func (m VoiceMap) Resolve(voice, def string) string {
	if id, ok := m[voice]; ok {
		return id
	}
	slog.Warn("voice not mapped for provider, using default",
		"voice", voice,
		"default", def,
	)
	return def
}
