// Package jobtts provides a TTS provider backed by a job-based synthesis
// broker API. It implements the tts.Provider interface.
//
// The broker accepts a synthesis job via POST /tts/create and answers with a
// status envelope {Status, Id, Data, Message}. Two completion modes are
// normalized into one result:
//
//   - Immediate: the create response carries Status "SUCCESS" and the audio
//     reference inline in Data (a cache hit on the broker side).
//
//   - Deferred: the create response carries Status "PENDING" plus a job id.
//     The provider then polls GET /tts/status/{id} on a fixed cadence until
//     the job reports SUCCESS (audio reference in Data), ERROR (Message is
//     propagated), or the attempt budget is exhausted (tts.ErrTimeout).
//
// Data is either a full URL or a broker-relative filename; both are returned
// as a fetchable URL, never as inline bytes.
package jobtts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxcast/voxcast/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	createEndpoint = "/tts/create"
	statusEndpoint = "/tts/status/"
	streamEndpoint = "/tts/stream"

	defaultPollInterval = 2 * time.Second
	defaultMaxAttempts  = 30
	defaultHTTPTimeout  = 30 * time.Second
)

// defaultVoiceMap translates the symbolic voice names into the broker's
// neural voice identifiers.
var defaultVoiceMap = tts.VoiceMap{
	"alloy":   "v1:AvaNeural:en-US",
	"echo":    "v1:AndrewNeural:en-US",
	"fable":   "v1:EmmaNeural:en-US",
	"onyx":    "v1:BrianNeural:en-US",
	"nova":    "v1:JennyNeural:en-US",
	"shimmer": "v1:GuyNeural:en-US",
}

// ---- options ----

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithPollInterval sets the delay between status polls for deferred jobs.
// Defaults to 2 s.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		p.pollInterval = d
	}
}

// WithMaxAttempts sets the status-poll attempt budget for deferred jobs.
// Defaults to 30.
func WithMaxAttempts(n int) Option {
	return func(p *Provider) {
		p.maxAttempts = n
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithVoiceMap replaces the symbolic-name → broker-voice-id mapping table.
func WithVoiceMap(m tts.VoiceMap) Option {
	return func(p *Provider) {
		p.voices = m
	}
}

// WithDefaultVoice sets the broker voice id used when a symbolic name has no
// mapping. Defaults to the "onyx" mapping.
func WithDefaultVoice(id string) Option {
	return func(p *Provider) {
		p.defaultVoice = id
	}
}

// ---- Provider ----

// Provider implements tts.Provider against a job-based synthesis broker.
// It is safe for concurrent use; each Synthesize call runs its own job.
type Provider struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	maxAttempts  int
	voices       tts.VoiceMap
	defaultVoice string
}

// New creates a Provider targeting the broker API at baseURL
// (e.g., "https://api.example.com/api"). baseURL and apiKey must be non-empty.
func New(baseURL, apiKey string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("jobtts: baseURL must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("jobtts: apiKey must not be empty")
	}
	p := &Provider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		pollInterval: defaultPollInterval,
		maxAttempts:  defaultMaxAttempts,
		voices:       defaultVoiceMap,
		defaultVoice: defaultVoiceMap["onyx"],
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- wire types ----

// createRequest is the JSON body sent to POST /tts/create.
type createRequest struct {
	Texts string  `json:"Texts"`
	Voice string  `json:"Voice"`
	Speed float64 `json:"Speed,omitempty"`
	Pitch int     `json:"Pitch"`
}

// statusResponse is the envelope returned by both the create and status
// endpoints. Status is one of "SUCCESS", "PENDING", or "ERROR".
type statusResponse struct {
	Status  string `json:"Status"`
	ID      int64  `json:"Id"`
	Data    string `json:"Data"`
	Message string `json:"Message"`
}

// ---- Synthesize ----

// Synthesize implements tts.Provider. It submits a synthesis job and, for
// deferred completions, polls the status endpoint until the job terminates
// or the attempt budget runs out.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	voice := p.voices.Resolve(req.Voice, p.defaultVoice)

	created, err := p.createJob(ctx, req.Text, voice, req.Speed)
	if err != nil {
		return nil, err
	}

	switch created.Status {
	case "SUCCESS":
		return p.resultFromData(created.Data)
	case "PENDING":
		data, err := p.pollForCompletion(ctx, created.ID)
		if err != nil {
			return nil, err
		}
		return p.resultFromData(data)
	default:
		// Some broker deployments omit the explicit SUCCESS status when the
		// clip was already cached; a populated Data field still means done.
		if created.Data != "" {
			return p.resultFromData(created.Data)
		}
		if created.Message != "" {
			return nil, fmt.Errorf("jobtts: broker error: %s", created.Message)
		}
		return nil, fmt.Errorf("jobtts: unexpected job status %q", created.Status)
	}
}

// createJob submits a synthesis job and decodes the status envelope.
func (p *Provider) createJob(ctx context.Context, text, voice string, speed float64) (*statusResponse, error) {
	body, err := json.Marshal(createRequest{Texts: text, Voice: voice, Speed: speed})
	if err != nil {
		return nil, fmt.Errorf("jobtts: marshal create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+createEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("jobtts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jobtts: POST %s: %w", createEndpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("jobtts: read create response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("jobtts: POST %s returned status %d: %s", createEndpoint, resp.StatusCode, raw)
	}

	var sr statusResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("jobtts: malformed create response %q: %w", raw, err)
	}
	return &sr, nil
}

// pollForCompletion polls GET /tts/status/{id} every pollInterval until the
// job reports SUCCESS or ERROR, or the attempt budget is exhausted.
//
// A transient non-2xx or undecodable status response consumes an attempt and
// the loop continues; only a broker-reported ERROR terminates early.
func (p *Provider) pollForCompletion(ctx context.Context, jobID int64) (string, error) {
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, p.pollInterval); err != nil {
				return "", err
			}
		}

		sr, err := p.pollOnce(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}

		switch sr.Status {
		case "SUCCESS":
			return sr.Data, nil
		case "ERROR":
			if sr.Message != "" {
				return "", fmt.Errorf("jobtts: job %d failed: %s", jobID, sr.Message)
			}
			return "", fmt.Errorf("jobtts: job %d failed", jobID)
		}
		// PENDING: keep polling.
	}
	return "", fmt.Errorf("jobtts: job %d after %d attempts: %w", jobID, p.maxAttempts, tts.ErrTimeout)
}

// pollOnce performs a single status request.
func (p *Provider) pollOnce(ctx context.Context, jobID int64) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s%s%d", p.baseURL, statusEndpoint, jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("jobtts: status request: %w", err)
	}
	req.Header.Set("X-API-Key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jobtts: GET status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jobtts: GET status returned %d", resp.StatusCode)
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("jobtts: decode status response: %w", err)
	}
	return &sr, nil
}

// resultFromData turns the broker's Data field into a Result. Data is either
// a full URL (used directly) or a broker-relative filename.
func (p *Provider) resultFromData(data string) (*tts.Result, error) {
	if data == "" {
		return nil, errors.New("jobtts: broker returned an empty audio reference")
	}
	if strings.HasPrefix(data, "http://") || strings.HasPrefix(data, "https://") {
		return &tts.Result{URL: data}, nil
	}
	return &tts.Result{
		URL: p.baseURL + streamEndpoint + "?filename=" + url.QueryEscape(data),
	}, nil
}

// Voices implements tts.Provider.
func (p *Provider) Voices() []string {
	return tts.CanonicalVoices
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
