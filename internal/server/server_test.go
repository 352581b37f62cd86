package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/voxcast/voxcast/internal/audiostore"
	"github.com/voxcast/voxcast/internal/generate"
	"github.com/voxcast/voxcast/internal/ledger"
	"github.com/voxcast/voxcast/internal/voiceover"
	"github.com/voxcast/voxcast/pkg/provider/tts/mock"
)

// ---------------------------------------------------------------------------
// Test helpers — fakes
// ---------------------------------------------------------------------------

type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (string, error) {
	if token == "good-token" {
		return "user-1", nil
	}
	return "", errors.New("auth: invalid token")
}

type fakeGenerator struct {
	resp    *generate.Response
	err     error
	lastReq generate.Request
}

func (f *fakeGenerator) Generate(_ context.Context, req generate.Request) (*generate.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeProfiles struct {
	profile *ledger.Profile
	err     error
}

func (f *fakeProfiles) Profile(_ context.Context, _ string) (*ledger.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

type fakeRepo struct {
	recs []voiceover.Record
	err  error
}

func (f *fakeRepo) Create(_ context.Context, _ *voiceover.Record) error { return nil }

func (f *fakeRepo) ListRecent(_ context.Context, _ string, _ int) ([]voiceover.Record, error) {
	return f.recs, f.err
}

type fakeAudioStore struct {
	objects map[string][]byte
}

func (f *fakeAudioStore) Put(_ context.Context, _ string, _ []byte) (*audiostore.StoredAudio, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAudioStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, audiostore.ErrNotFound
	}
	return data, nil
}

func (f *fakeAudioStore) Delete(_ context.Context, _ string) error { return nil }

type testServer struct {
	*Server
	gen      *fakeGenerator
	profiles *fakeProfiles
	repo     *fakeRepo
	audio    *fakeAudioStore
	signer   *audiostore.Signer
	srv      *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := &testServer{
		gen: &fakeGenerator{resp: &generate.Response{
			Record: voiceover.Record{
				ID:              "rec-1",
				ProfileID:       "profile-1",
				TextInput:       "hello world",
				VoiceID:         "alloy",
				AudioURL:        "https://api.voxcast.example/audio/user-1/1-a.mp3?exp=1&sig=s",
				DurationSeconds: 1,
				CreatedAt:       created,
			},
			Plan:             ledger.PlanFree,
			CreditsUsed:      1,
			CreditsRemaining: 49,
		}},
		profiles: &fakeProfiles{profile: &ledger.Profile{
			ID: "profile-1", UserID: "user-1", Name: "Ada", Email: "ada@example.com",
			Plan: ledger.PlanFree, Credits: 49, CreatedAt: created,
		}},
		repo:  &fakeRepo{},
		audio: &fakeAudioStore{objects: map[string][]byte{}},
	}

	signer, err := audiostore.NewSigner("test-secret", "https://api.voxcast.example", 0)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	ts.signer = signer

	ts.Server = New(Config{
		Generator:    ts.gen,
		Verifier:     fakeVerifier{},
		Profiles:     ts.profiles,
		Repo:         ts.repo,
		Store:        ts.audio,
		Signer:       signer,
		Provider:     &mock.Provider{},
		ProviderName: "mock",
	})
	ts.srv = httptest.NewServer(ts.Server.Handler())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func TestAuth_MissingToken(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "POST", "/v1/voiceovers", "", `{"text":"hi","voice":"alloy"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAuth_BadToken(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "GET", "/v1/profile", "forged", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

// ---------------------------------------------------------------------------
// POST /v1/voiceovers
// ---------------------------------------------------------------------------

func TestCreateVoiceover_OK(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "POST", "/v1/voiceovers", "good-token", `{"text":"hello world","voice":"alloy","speed":1.5}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body := decodeJSON[createVoiceoverResponse](t, resp)
	if !body.Success {
		t.Error("success = false, want true")
	}
	if body.Voiceover.ID != "rec-1" {
		t.Errorf("voiceover.id = %q", body.Voiceover.ID)
	}
	if body.CreditsUsed != 1 || body.CreditsRemaining != 49 {
		t.Errorf("credits = %d / %d, want 1 / 49", body.CreditsUsed, body.CreditsRemaining)
	}
	if !strings.HasPrefix(body.Voiceover.AudioURL, "https://api.voxcast.example/audio/") {
		t.Errorf("audio_url = %q", body.Voiceover.AudioURL)
	}

	// The authenticated user, not anything in the body, selects the account.
	if ts.gen.lastReq.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", ts.gen.lastReq.UserID)
	}
	if ts.gen.lastReq.Speed != 1.5 {
		t.Errorf("Speed = %v, want 1.5", ts.gen.lastReq.Speed)
	}
}

func TestCreateVoiceover_PayloadFieldNames(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "POST", "/v1/voiceovers", "good-token", `{"text":"hello world","voice":"alloy"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body := decodeJSON[map[string]any](t, resp)
	vo, ok := body["voiceover"].(map[string]any)
	if !ok {
		t.Fatalf("voiceover = %T, want an object", body["voiceover"])
	}
	for _, key := range []string{"id", "text_input", "voice_id", "audio_url", "duration_seconds", "created_at"} {
		if _, ok := vo[key]; !ok {
			t.Errorf("voiceover payload is missing %q (keys: %v)", key, vo)
		}
	}
}

func TestCreateVoiceover_LanguageAccepted(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "POST", "/v1/voiceovers", "good-token", `{"text":"bonjour","voice":"alloy","language":"fr"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ts.gen.lastReq.Text != "bonjour" {
		t.Errorf("Text = %q, want bonjour", ts.gen.lastReq.Text)
	}
}

func TestCreateVoiceover_MalformedJSON(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "POST", "/v1/voiceovers", "good-token", `{"text": `)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateVoiceover_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"empty text", &generate.RequestError{Reason: generate.ReasonEmptyText, Msg: "text must not be empty"}, 400, "empty_text"},
		{"invalid voice", &generate.RequestError{Reason: generate.ReasonInvalidVoice, Msg: "unknown voice"}, 400, "invalid_voice"},
		{"plan limit", &generate.RequestError{Reason: generate.ReasonPlanLimitExceeded, Msg: "too long for plan"}, 400, "plan_limit_exceeded"},
		{"no credits", &generate.RequestError{Reason: generate.ReasonInsufficientCredits, Msg: "not enough credits"}, 402, "insufficient_credits"},
		{"no profile", &generate.RequestError{Reason: generate.ReasonProfileNotFound, Msg: "no profile"}, 404, "profile_not_found"},
		{"provider down", &generate.PipelineError{Stage: generate.StageProvider, Err: errors.New("boom")}, 500, "internal"},
		{"storage down", &generate.PipelineError{Stage: generate.StageStorage, Err: errors.New("boom")}, 500, "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.gen.err = tc.err

			resp := ts.do(t, "POST", "/v1/voiceovers", "good-token", `{"text":"hi","voice":"alloy"}`)
			if resp.StatusCode != tc.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			body := decodeJSON[errorResponse](t, resp)
			if body.Details != tc.reason {
				t.Errorf("details = %q, want %q", body.Details, tc.reason)
			}
			if body.Error == "" {
				t.Error("error message must not be empty")
			}
		})
	}
}

func TestCreateVoiceover_InsufficientCreditsReportsShortfall(t *testing.T) {
	ts := newTestServer(t)
	ts.gen.err = &generate.RequestError{
		Reason:           generate.ReasonInsufficientCredits,
		Msg:              "this voiceover needs 3 credits but only 1 remain",
		CreditsNeeded:    3,
		CreditsAvailable: 1,
	}

	resp := ts.do(t, "POST", "/v1/voiceovers", "good-token", `{"text":"hi","voice":"alloy"}`)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	body := decodeJSON[errorResponse](t, resp)
	if body.CreditsNeeded == nil || body.CreditsAvailable == nil {
		t.Fatal("creditsNeeded and creditsAvailable must be present on a 402")
	}
	if *body.CreditsNeeded != 3 || *body.CreditsAvailable != 1 {
		t.Errorf("shortfall = %d / %d, want 3 / 1", *body.CreditsNeeded, *body.CreditsAvailable)
	}
}

func TestCreateVoiceover_ZeroBalanceStillReported(t *testing.T) {
	ts := newTestServer(t)
	ts.gen.err = &generate.RequestError{
		Reason:           generate.ReasonInsufficientCredits,
		Msg:              "this voiceover needs 1 credit but only 0 remain",
		CreditsNeeded:    1,
		CreditsAvailable: 0,
	}

	resp := ts.do(t, "POST", "/v1/voiceovers", "good-token", `{"text":"hi","voice":"alloy"}`)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(raw), `"creditsAvailable":0`) {
		t.Errorf("body = %s, want a zero balance reported explicitly", raw)
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestWriteJSON_EncodeFailureKeepsResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	// The status line is already on the wire when encoding fails; nothing
	// more may be appended to the body.
	if strings.Contains(rec.Body.String(), "encoding failure") {
		t.Errorf("body = %q, want no secondary error payload", rec.Body.String())
	}
}

func TestListVoiceovers(t *testing.T) {
	ts := newTestServer(t)
	ts.repo.recs = []voiceover.Record{
		{ID: "rec-2", TextInput: "second", VoiceID: "nova", AudioURL: "u2", CreatedAt: time.Now()},
		{ID: "rec-1", TextInput: "first", VoiceID: "alloy", AudioURL: "u1", CreatedAt: time.Now()},
	}

	resp := ts.do(t, "GET", "/v1/voiceovers", "good-token", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeJSON[map[string][]voiceoverResponse](t, resp)
	if got := body["voiceovers"]; len(got) != 2 || got[0].ID != "rec-2" {
		t.Errorf("voiceovers = %+v", got)
	}
}

func TestListVoiceovers_BadLimit(t *testing.T) {
	ts := newTestServer(t)
	for _, limit := range []string{"0", "-3", "101", "lots"} {
		resp := ts.do(t, "GET", "/v1/voiceovers?limit="+limit, "good-token", "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, resp.StatusCode)
		}
	}
}

func TestProfile(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "GET", "/v1/profile", "good-token", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeJSON[map[string]any](t, resp)
	if body["plan"] != "free" || body["credits"] != float64(49) {
		t.Errorf("profile = %v", body)
	}
}

func TestProfile_NotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.profiles.err = ledger.ErrProfileNotFound

	resp := ts.do(t, "GET", "/v1/profile", "good-token", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestVoices(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "GET", "/v1/voices", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeJSON[map[string][]string](t, resp)
	if len(body["voices"]) == 0 {
		t.Error("voices must not be empty")
	}
}

// ---------------------------------------------------------------------------
// Signed audio downloads
// ---------------------------------------------------------------------------

func signedPath(t *testing.T, ts *testServer, key string) string {
	t.Helper()
	u, err := url.Parse(ts.signer.SignedURL(key))
	if err != nil {
		t.Fatalf("parse signed URL: %v", err)
	}
	return u.Path + "?" + u.RawQuery
}

func TestAudio_SignedDownload(t *testing.T) {
	ts := newTestServer(t)
	ts.audio.objects["user-1/1-a.mp3"] = []byte("mp3 bytes")

	resp := ts.do(t, "GET", signedPath(t, ts, "user-1/1-a.mp3"), "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q, want audio/mpeg", ct)
	}
}

func TestAudio_BadSignature(t *testing.T) {
	ts := newTestServer(t)
	ts.audio.objects["user-1/1-a.mp3"] = []byte("mp3 bytes")

	exp := time.Now().Add(time.Hour).Unix()
	path := fmt.Sprintf("/audio/user-1/1-a.mp3?exp=%d&sig=deadbeef", exp)
	resp := ts.do(t, "GET", path, "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAudio_MissingSignatureParams(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "GET", "/audio/user-1/1-a.mp3", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAudio_NotFound(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "GET", signedPath(t, ts, "user-1/gone.mp3"), "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// ---------------------------------------------------------------------------
// CORS and operational endpoints
// ---------------------------------------------------------------------------

func TestPreflight(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "OPTIONS", "/v1/voiceovers", "", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); !strings.Contains(got, "authorization") {
		t.Errorf("Allow-Headers = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestCORSHeadersOnAPIResponses(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "GET", "/v1/voices", "", "")
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "GET", "/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "GET", "/metrics", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
