package generate

import "fmt"

// Reason classifies why a generation request was rejected before any audio
// was produced. Rejections are client-addressable and never charge credits.
type Reason string

const (
	ReasonEmptyText           Reason = "empty_text"
	ReasonTextTooLong         Reason = "text_too_long"
	ReasonInvalidVoice        Reason = "invalid_voice"
	ReasonInvalidSpeed        Reason = "invalid_speed"
	ReasonProfileNotFound     Reason = "profile_not_found"
	ReasonPlanLimitExceeded   Reason = "plan_limit_exceeded"
	ReasonInsufficientCredits Reason = "insufficient_credits"
)

// RequestError is a rejection of the caller's request. The Reason maps onto
// an HTTP status at the transport layer; Msg is safe to show to end users.
type RequestError struct {
	Reason Reason
	Msg    string

	// CreditsNeeded and CreditsAvailable report the shortfall when Reason
	// is ReasonInsufficientCredits; zero otherwise.
	CreditsNeeded    int
	CreditsAvailable int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("generate: %s: %s", e.Reason, e.Msg)
}

func reject(reason Reason, format string, args ...any) *RequestError {
	return &RequestError{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// Stage identifies the pipeline stage where an accepted request failed.
type Stage string

const (
	StageLedger   Stage = "ledger"
	StageProvider Stage = "provider"
	StageStorage  Stage = "storage"
	StagePersist  Stage = "persist"
)

// PipelineError reports a failure in one of the pipeline stages after the
// request itself was accepted. These are server-side failures.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("generate: %s stage: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
