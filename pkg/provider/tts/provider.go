// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., the OpenAI speech
// API or a job-based synthesis broker) and presents a uniform one-shot
// interface: submit text, receive a reference to rendered audio. Providers
// that complete asynchronously (job id plus status polling) hide the polling
// loop behind the same call.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrTimeout is returned by providers with deferred completion when a
// synthesis job does not reach a terminal status within the configured
// attempt budget.
var ErrTimeout = errors.New("tts: synthesis timed out")

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (e.g., concurrent requests from different
// users).
type Provider interface {
	// Synthesize renders req.Text as speech and returns a reference to the
	// audio: either inline bytes or a provider-hosted URL, never both.
	//
	// Providers that operate asynchronously poll their status endpoint on a
	// fixed cadence until the job completes; the call returns ErrTimeout
	// (possibly wrapped) when the attempt budget is exhausted. The call must
	// also respect ctx cancellation between polls.
	//
	// Synthesize performs no side effects beyond the outbound network calls.
	// Quota accounting and persistence are the caller's responsibility.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// Voices returns the symbolic voice names this provider accepts. The
	// returned slice must not be modified by the caller.
	Voices() []string
}
