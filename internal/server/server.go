// Package server exposes the Voxcast HTTP API.
//
// All /v1 routes require a bearer token. Signed audio downloads under /audio
// are authenticated by the URL signature instead, so links can be shared for
// their lifetime.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxcast/voxcast/internal/audiostore"
	"github.com/voxcast/voxcast/internal/auth"
	"github.com/voxcast/voxcast/internal/generate"
	"github.com/voxcast/voxcast/internal/health"
	"github.com/voxcast/voxcast/internal/ledger"
	"github.com/voxcast/voxcast/internal/observe"
	"github.com/voxcast/voxcast/internal/voiceover"
	"github.com/voxcast/voxcast/pkg/provider/tts"
)

// Generator runs the voiceover pipeline. *generate.Orchestrator satisfies it.
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (*generate.Response, error)
}

// ProfileStore reads full profiles for the dashboard endpoint.
// *ledger.PostgresLedger satisfies it.
type ProfileStore interface {
	Profile(ctx context.Context, userID string) (*ledger.Profile, error)
}

// Server holds the HTTP handler dependencies.
type Server struct {
	generator    Generator
	verifier     auth.TokenVerifier
	profiles     ProfileStore
	repo         voiceover.Repository
	store        audiostore.Store   // nil when no object store is configured
	signer       *audiostore.Signer // nil when store is nil
	provider     tts.Provider
	providerName string
	health       *health.Handler
	metrics      *observe.Metrics
	log          *slog.Logger
}

// Config collects the dependencies for [New].
type Config struct {
	Generator    Generator
	Verifier     auth.TokenVerifier
	Profiles     ProfileStore
	Repo         voiceover.Repository
	Store        audiostore.Store
	Signer       *audiostore.Signer
	Provider     tts.Provider
	ProviderName string
	Health       *health.Handler
	Metrics      *observe.Metrics
	Logger       *slog.Logger
}

// New creates a Server. Nil Metrics falls back to the package default and a
// nil Logger to slog.Default.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	return &Server{
		generator:    cfg.Generator,
		verifier:     cfg.Verifier,
		profiles:     cfg.Profiles,
		repo:         cfg.Repo,
		store:        cfg.Store,
		signer:       cfg.Signer,
		provider:     cfg.Provider,
		providerName: cfg.ProviderName,
		health:       cfg.Health,
		metrics:      cfg.Metrics,
		log:          cfg.Logger,
	}
}

// Handler returns the fully wired HTTP handler: routes, CORS, and the
// observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/voiceovers", s.requireUser(s.handleCreateVoiceover))
	mux.HandleFunc("GET /v1/voiceovers", s.requireUser(s.handleListVoiceovers))
	mux.HandleFunc("GET /v1/profile", s.requireUser(s.handleProfile))
	mux.HandleFunc("GET /v1/voices", s.handleVoices)
	mux.HandleFunc("GET /audio/{key...}", s.handleAudio)
	mux.HandleFunc("OPTIONS /", s.handlePreflight)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(withCORS(mux))
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

type userKey struct{}

// requireUser verifies the bearer token and stores the user ID in the
// request context.
func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "missing bearer token", "unauthorized")
			return
		}
		userID, err := s.verifier.Verify(header[len(prefix):])
		if err != nil {
			observe.Logger(r.Context()).Warn("token rejected", "err", err)
			writeError(w, http.StatusUnauthorized, "invalid or expired token", "unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	}
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

// ---------------------------------------------------------------------------
// Voiceover generation
// ---------------------------------------------------------------------------

type createVoiceoverRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	// Language is accepted for wire compatibility but unused: the voice ids
	// already encode the locale.
	Language string  `json:"language,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
}

type voiceoverResponse struct {
	ID              string `json:"id"`
	TextInput       string `json:"text_input"`
	VoiceID         string `json:"voice_id"`
	AudioURL        string `json:"audio_url"`
	DurationSeconds int    `json:"duration_seconds"`
	CreatedAt       string `json:"created_at"`
}

type createVoiceoverResponse struct {
	Success          bool              `json:"success"`
	Voiceover        voiceoverResponse `json:"voiceover"`
	CreditsUsed      int               `json:"creditsUsed"`
	CreditsRemaining int               `json:"creditsRemaining"`
}

func (s *Server) handleCreateVoiceover(w http.ResponseWriter, r *http.Request) {
	var body createVoiceoverRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON", "bad_request")
		return
	}

	ctx := r.Context()
	s.metrics.InFlightGenerations.Add(ctx, 1)
	defer s.metrics.InFlightGenerations.Add(ctx, -1)

	resp, err := s.generator.Generate(ctx, generate.Request{
		UserID: userID(r),
		Text:   body.Text,
		Voice:  body.Voice,
		Speed:  body.Speed,
	})
	if err != nil {
		s.writeGenerateError(w, r, err)
		return
	}

	s.metrics.RecordVoiceover(ctx, resp.Record.VoiceID, string(resp.Plan))
	s.metrics.CreditsDebited.Add(ctx, int64(resp.CreditsUsed))

	writeJSON(w, http.StatusOK, createVoiceoverResponse{
		Success:          true,
		Voiceover:        toVoiceoverResponse(resp.Record),
		CreditsUsed:      resp.CreditsUsed,
		CreditsRemaining: resp.CreditsRemaining,
	})
}

// writeGenerateError maps pipeline errors onto HTTP statuses.
func (s *Server) writeGenerateError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var reqErr *generate.RequestError
	if errors.As(err, &reqErr) {
		s.metrics.RecordRejection(ctx, string(reqErr.Reason))
		body := errorResponse{Error: reqErr.Msg, Details: string(reqErr.Reason)}
		if reqErr.Reason == generate.ReasonInsufficientCredits {
			// A zero balance must still appear in the body, so the fields
			// are pointers rather than omitempty ints.
			body.CreditsNeeded = &reqErr.CreditsNeeded
			body.CreditsAvailable = &reqErr.CreditsAvailable
		}
		writeJSON(w, statusForReason(reqErr.Reason), body)
		return
	}

	var pipeErr *generate.PipelineError
	if errors.As(err, &pipeErr) && pipeErr.Stage == generate.StageProvider {
		s.metrics.RecordProviderError(ctx, s.providerName)
	}
	observe.Logger(ctx).Error("voiceover generation failed", "err", err)
	writeError(w, http.StatusInternalServerError, "voiceover generation failed", "internal")
}

func statusForReason(reason generate.Reason) int {
	switch reason {
	case generate.ReasonInsufficientCredits:
		return http.StatusPaymentRequired
	case generate.ReasonProfileNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func (s *Server) handleListVoiceovers(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 100", "bad_request")
			return
		}
		limit = n
	}

	profile, err := s.profiles.Profile(r.Context(), userID(r))
	if err != nil {
		s.writeProfileError(w, r, err)
		return
	}

	recs, err := s.repo.ListRecent(r.Context(), profile.ID, limit)
	if err != nil {
		observe.Logger(r.Context()).Error("list voiceovers failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not list voiceovers", "internal")
		return
	}

	out := make([]voiceoverResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toVoiceoverResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"voiceovers": out})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.profiles.Profile(r.Context(), userID(r))
	if err != nil {
		s.writeProfileError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        profile.ID,
		"userId":    profile.UserID,
		"name":      profile.Name,
		"email":     profile.Email,
		"plan":      string(profile.Plan),
		"credits":   profile.Credits,
		"createdAt": profile.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (s *Server) writeProfileError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ledger.ErrProfileNotFound) {
		writeError(w, http.StatusNotFound, "no profile for this user", "profile_not_found")
		return
	}
	observe.Logger(r.Context()).Error("profile lookup failed", "err", err)
	writeError(w, http.StatusInternalServerError, "could not load profile", "internal")
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"voices": s.provider.Voices()})
}

// ---------------------------------------------------------------------------
// Signed audio downloads
// ---------------------------------------------------------------------------

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || s.signer == nil {
		writeError(w, http.StatusNotFound, "audio downloads are not available", "not_found")
		return
	}

	key := r.PathValue("key")
	exp, err := strconv.ParseInt(r.URL.Query().Get("exp"), 10, 64)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing or malformed signature", "unauthorized")
		return
	}
	if err := s.signer.Verify(key, exp, r.URL.Query().Get("sig")); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired link", "unauthorized")
		return
	}

	audio, err := s.store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, audiostore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audio not found", "not_found")
			return
		}
		observe.Logger(r.Context()).Error("audio fetch failed", "key", key, "err", err)
		writeError(w, http.StatusInternalServerError, "could not fetch audio", "internal")
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(audio)
}

// ---------------------------------------------------------------------------
// CORS and JSON plumbing
// ---------------------------------------------------------------------------

func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// withCORS sets permissive CORS headers on every response. The API is meant
// to be called from browser frontends on other origins.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		next.ServeHTTP(w, r)
	})
}

func toVoiceoverResponse(rec voiceover.Record) voiceoverResponse {
	return voiceoverResponse{
		ID:              rec.ID,
		TextInput:       rec.TextInput,
		VoiceID:         rec.VoiceID,
		AudioURL:        rec.AudioURL,
		DurationSeconds: rec.DurationSeconds,
		CreatedAt:       rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// errorResponse is the error body shape shared by all endpoints. Details is
// a stable machine-readable reason. The credit fields are set only on 402s;
// pointers keep a legitimate zero balance from being dropped by omitempty.
type errorResponse struct {
	Error            string `json:"error"`
	Details          string `json:"details,omitempty"`
	CreditsNeeded    *int   `json:"creditsNeeded,omitempty"`
	CreditsAvailable *int   `json:"creditsAvailable,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, reason string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// The status line is already written; all that is left is to log.
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response body", "err", err)
	}
}
