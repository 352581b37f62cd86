// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return a controlled synthesis result and to verify the
// requests handed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeResult: &tts.Result{Audio: []byte("mp3bytes"), Format: "mp3"},
//	}
//	res, _ := p.Synthesize(ctx, tts.Request{Text: "hi", Voice: "alloy"})
package mock

import (
	"context"
	"sync"

	"github.com/voxcast/voxcast/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeResult is returned by Synthesize when SynthesizeErr is nil.
	SynthesizeResult *tts.Result

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// SynthesizeFunc, if non-nil, overrides SynthesizeResult/SynthesizeErr
	// entirely. Useful for per-call behaviour such as failing the Nth call.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (*tts.Result, error)

	// VoicesResult is returned by Voices. Defaults to tts.CanonicalVoices
	// when nil.
	VoicesResult []string

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the configured result.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	fn := p.SynthesizeFunc
	res, err := p.SynthesizeResult, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return res, err
}

// Voices returns VoicesResult, defaulting to the canonical voice set.
func (p *Provider) Voices() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.VoicesResult != nil {
		return p.VoicesResult
	}
	return tts.CanonicalVoices
}

// CallCount returns the number of Synthesize invocations so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
