// Package voiceover persists one record per accepted generation request.
//
// Records are created only after synthesis and audio persistence succeed and
// are immutable thereafter; this core never deletes them.
package voiceover

import (
	"context"
	"errors"
	"math"
	"time"
	"unicode/utf8"
)

// ErrPersistFailed wraps database write failures on the create path so the
// orchestrator can distinguish them from provider and storage failures.
var ErrPersistFailed = errors.New("voiceover: persist failed")

// Record is a single voiceover generation result.
type Record struct {
	ID              string
	ProfileID       string
	TextInput       string
	VoiceID         string
	AudioURL        string
	DurationSeconds int
	CreatedAt       time.Time
}

// Repository stores and lists voiceover records.
type Repository interface {
	// Create persists rec and fills in the generated ID and CreatedAt.
	// Failures are reported as errors wrapping ErrPersistFailed.
	Create(ctx context.Context, rec *Record) error

	// ListRecent returns up to limit records for the profile, newest first.
	// This is the dashboard read path, not part of the generation pipeline.
	ListRecent(ctx context.Context, profileID string, limit int) ([]Record, error)
}

// EstimateDuration returns a rough clip length in seconds for the given
// text, assuming 150 words per minute and 5 characters per word.
func EstimateDuration(text string) int {
	chars := utf8.RuneCountInString(text)
	if chars == 0 {
		return 0
	}
	words := float64(chars) / 5
	return int(math.Ceil(words / 150 * 60))
}
