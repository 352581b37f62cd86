// Package audiostore persists synthesized audio clips and issues
// time-bounded download URLs for them.
//
// Providers that already host their output hand back a public URL and bypass
// this package entirely; everything else goes through a [Store].
package audiostore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested audio object does not exist,
// typically because its key expired or was deleted after a failed pipeline.
var ErrNotFound = errors.New("audiostore: object not found")

// StoredAudio describes a persisted clip.
type StoredAudio struct {
	// Key is the storage key, "<userID>/<unix-millis>-<uuid>.mp3".
	Key string
	// URL is a signed, time-bounded download URL for the clip.
	URL string
}

// Store persists audio bytes and serves them back by key.
type Store interface {
	// Put stores audio under a fresh key scoped to the user and returns
	// the key together with a signed download URL.
	Put(ctx context.Context, userID string, audio []byte) (*StoredAudio, error)

	// Get returns the raw audio bytes for key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object. Used to roll back orphaned audio when a
	// later pipeline stage fails.
	Delete(ctx context.Context, key string) error
}
