// Package generate runs the voiceover pipeline: validate the request, check
// the caller's plan and balance, synthesize speech, persist the audio and
// the voiceover record, then debit credits.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/voxcast/voxcast/internal/audiostore"
	"github.com/voxcast/voxcast/internal/ledger"
	"github.com/voxcast/voxcast/internal/observe"
	"github.com/voxcast/voxcast/internal/voiceover"
	"github.com/voxcast/voxcast/pkg/provider/tts"
)

// Speed bounds accepted for any plan. A zero speed means "use the default".
const (
	MinSpeed     = 0.25
	MaxSpeed     = 4.0
	DefaultSpeed = 1.0
)

// MaxTextChars is the hard ceiling on input length, independent of plan.
const MaxTextChars = 10000

// Request is a validated-on-entry generation request for an authenticated
// user.
type Request struct {
	UserID string
	Text   string
	Voice  string
	Speed  float64
}

// Response is the outcome of a completed generation.
type Response struct {
	Record           voiceover.Record
	Plan             ledger.Plan
	CreditsUsed      int
	CreditsRemaining int
}

// Orchestrator drives a single generation request through the pipeline.
// Store may be nil when the configured provider always returns hosted URLs.
type Orchestrator struct {
	provider     tts.Provider
	ledger       ledger.Ledger
	store        audiostore.Store
	repo         voiceover.Repository
	log          *slog.Logger
	metrics      *observe.Metrics
	providerName string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records synthesis latency and debit failures to m, attributed
// to the named provider.
func WithMetrics(m *observe.Metrics, providerName string) Option {
	return func(o *Orchestrator) {
		o.metrics = m
		o.providerName = providerName
	}
}

// New creates an Orchestrator. A nil logger falls back to slog.Default.
func New(provider tts.Provider, l ledger.Ledger, store audiostore.Store, repo voiceover.Repository, log *slog.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{provider: provider, ledger: l, store: store, repo: repo, log: log}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate runs the full pipeline. The returned error is either a
// *RequestError (the caller's fault, nothing charged) or a *PipelineError
// (a stage failed server-side, nothing charged).
//
// Credits are debited last, after the voiceover is already persisted. A
// debit failure at that point is logged and swallowed rather than failing a
// voiceover that was delivered; the response then reports the pre-debit
// balance.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Response, error) {
	speed, err := o.validate(req)
	if err != nil {
		return nil, err
	}

	bal, err := o.ledger.Balance(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, ledger.ErrProfileNotFound) {
			return nil, reject(ReasonProfileNotFound, "no profile for this user")
		}
		return nil, &PipelineError{Stage: StageLedger, Err: err}
	}

	policy := ledger.PolicyFor(bal.Plan)
	chars := utf8.RuneCountInString(req.Text)
	if chars > policy.MaxChars {
		return nil, reject(ReasonPlanLimitExceeded,
			"text is %d characters; the %s plan allows %d", chars, bal.Plan, policy.MaxChars)
	}

	needed := ledger.CreditsNeeded(req.Text)
	// Early rejection only; the atomic debit below is the real gate.
	if bal.Credits < needed {
		return nil, &RequestError{
			Reason:           ReasonInsufficientCredits,
			Msg:              fmt.Sprintf("this voiceover needs %d credits but only %d remain", needed, bal.Credits),
			CreditsNeeded:    needed,
			CreditsAvailable: bal.Credits,
		}
	}

	quality := tts.QualityStandard
	if policy.HD {
		quality = tts.QualityHD
	}
	synthStart := time.Now()
	result, err := o.provider.Synthesize(ctx, tts.Request{
		Text:    req.Text,
		Voice:   req.Voice,
		Speed:   speed,
		Quality: quality,
	})
	if o.metrics != nil {
		o.metrics.RecordSynthesis(ctx, o.providerName, time.Since(synthStart).Seconds())
	}
	if err != nil {
		return nil, &PipelineError{Stage: StageProvider, Err: err}
	}

	audioURL, storedKey, err := o.persistAudio(ctx, req.UserID, result)
	if err != nil {
		return nil, &PipelineError{Stage: StageStorage, Err: err}
	}

	rec := voiceover.Record{
		ProfileID:       bal.ProfileID,
		TextInput:       req.Text,
		VoiceID:         req.Voice,
		AudioURL:        audioURL,
		DurationSeconds: voiceover.EstimateDuration(req.Text),
	}
	if err := o.repo.Create(ctx, &rec); err != nil {
		o.rollbackAudio(ctx, storedKey)
		return nil, &PipelineError{Stage: StagePersist, Err: err}
	}

	remaining, err := o.ledger.Debit(ctx, req.UserID, needed)
	if err != nil {
		// The voiceover was delivered; do not fail it over the ledger.
		o.log.Error("credit debit failed after successful generation",
			"user_id", req.UserID, "voiceover_id", rec.ID, "credits", needed, "err", err)
		if o.metrics != nil {
			o.metrics.RecordDebitFailure(ctx)
		}
		remaining = bal.Credits
	}

	return &Response{Record: rec, Plan: bal.Plan, CreditsUsed: needed, CreditsRemaining: remaining}, nil
}

func (o *Orchestrator) validate(req Request) (float64, error) {
	if strings.TrimSpace(req.Text) == "" {
		return 0, reject(ReasonEmptyText, "text must not be empty")
	}
	if chars := utf8.RuneCountInString(req.Text); chars > MaxTextChars {
		return 0, reject(ReasonTextTooLong, "text is %d characters; the maximum is %d", chars, MaxTextChars)
	}
	if !slices.Contains(o.provider.Voices(), req.Voice) {
		return 0, reject(ReasonInvalidVoice, "unknown voice %q", req.Voice)
	}
	speed := req.Speed
	if speed == 0 {
		speed = DefaultSpeed
	}
	if speed < MinSpeed || speed > MaxSpeed {
		return 0, reject(ReasonInvalidSpeed, "speed %.2f is out of range [%.2f, %.2f]", speed, MinSpeed, MaxSpeed)
	}
	return speed, nil
}

// persistAudio returns the URL to record for the clip. Provider-hosted URLs
// pass through untouched; raw audio is uploaded to the store. The returned
// key is non-empty only for uploaded audio and is used for rollback.
func (o *Orchestrator) persistAudio(ctx context.Context, userID string, result *tts.Result) (url, key string, err error) {
	if result.URL != "" {
		return result.URL, "", nil
	}
	if o.store == nil {
		return "", "", errors.New("provider returned raw audio but no store is configured")
	}
	stored, err := o.store.Put(ctx, userID, result.Audio)
	if err != nil {
		return "", "", err
	}
	return stored.URL, stored.Key, nil
}

// rollbackAudio removes audio that was uploaded for a record that failed to
// persist. Best effort; a leak is preferable to masking the original error.
func (o *Orchestrator) rollbackAudio(ctx context.Context, key string) {
	if key == "" || o.store == nil {
		return
	}
	if err := o.store.Delete(ctx, key); err != nil {
		o.log.Warn("failed to delete orphaned audio", "key", key, "err", err)
	}
}
