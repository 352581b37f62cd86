// Package openai provides a TTS provider backed by the OpenAI speech API.
// Synthesis is synchronous: one POST /v1/audio/speech call returns the
// rendered MP3 bytes inline. It implements the tts.Provider interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/voxcast/voxcast/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultVoice   = "alloy"
	defaultTimeout = 60 * time.Second

	// maxAudioBytes caps the response body read to guard against a
	// misbehaving endpoint. 25 MiB comfortably covers a 10 000-character
	// MP3 clip.
	maxAudioBytes = 25 << 20
)

// voiceMap translates symbolic voice names into OpenAI voice identifiers.
// The OpenAI voice scheme is the canonical one, so this is an identity map;
// it exists so that unknown names still go through the explicit, logged
// fallback path.
var voiceMap = tts.VoiceMap{
	"alloy":   "alloy",
	"echo":    "echo",
	"fable":   "fable",
	"onyx":    "onyx",
	"nova":    "nova",
	"shimmer": "shimmer",
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout. Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Provider implements tts.Provider using the OpenAI speech API.
type Provider struct {
	client oai.Client
}

// New constructs a new OpenAI TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}

	cfg := &config{timeout: defaultTimeout}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...)}, nil
}

// Synthesize implements tts.Provider. The quality tier selects the model:
// tts-1 for standard, tts-1-hd for HD.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	model := oai.SpeechModelTTS1
	if req.Quality == tts.QualityHD {
		model = oai.SpeechModelTTS1HD
	}

	voice := voiceMap.Resolve(req.Voice, defaultVoice)

	params := oai.AudioSpeechNewParams{
		Model:          model,
		Input:          req.Text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	}
	if req.Speed != 0 {
		params.Speed = param.NewOpt(req.Speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai: speech request returned status %d: %s", resp.StatusCode, body)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("openai: read audio response: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("openai: speech response body is empty")
	}

	return &tts.Result{Audio: audio, Format: "mp3"}, nil
}

// Voices implements tts.Provider.
func (p *Provider) Voices() []string {
	return tts.CanonicalVoices
}
