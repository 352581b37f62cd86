package audiostore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Bucket is the subset of nats.ObjectStore used by [NATSStore].
type Bucket interface {
	Put(obj *nats.ObjectMeta, reader io.Reader, opts ...nats.ObjectOpt) (*nats.ObjectInfo, error)
	Get(name string, opts ...nats.GetObjectOpt) (nats.ObjectResult, error)
	Delete(name string) error
}

// NATSStore is a [Store] backed by a NATS JetStream object store bucket.
type NATSStore struct {
	bucket Bucket
	signer *Signer
	now    func() time.Time
}

var _ Store = (*NATSStore)(nil)

// NewNATSStore creates the bucket if it does not exist yet and returns a
// store bound to it.
func NewNATSStore(js nats.JetStreamContext, bucketName string, signer *Signer) (*NATSStore, error) {
	bucket, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Generated voiceover audio (%s).", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("audiostore: create bucket %q: %w", bucketName, err)
		}
		bucket, err = js.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("audiostore: bind bucket %q: %w", bucketName, err)
		}
	}
	return NewNATSStoreWithBucket(bucket, signer), nil
}

// NewNATSStoreWithBucket wraps an already-bound bucket.
func NewNATSStoreWithBucket(bucket Bucket, signer *Signer) *NATSStore {
	return &NATSStore{bucket: bucket, signer: signer, now: time.Now}
}

// Put implements [Store].
func (s *NATSStore) Put(_ context.Context, userID string, audio []byte) (*StoredAudio, error) {
	if userID == "" {
		return nil, errors.New("audiostore: user id must not be empty")
	}
	if len(audio) == 0 {
		return nil, errors.New("audiostore: audio must not be empty")
	}

	key := fmt.Sprintf("%s/%d-%s.mp3", userID, s.now().UnixMilli(), uuid.NewString())
	if _, err := s.bucket.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(audio)); err != nil {
		return nil, fmt.Errorf("audiostore: put %q: %w", key, err)
	}
	return &StoredAudio{Key: key, URL: s.signer.SignedURL(key)}, nil
}

// Get implements [Store].
func (s *NATSStore) Get(_ context.Context, key string) ([]byte, error) {
	obj, err := s.bucket.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("audiostore: get %q: %w", key, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()
	if readErr != nil {
		return nil, fmt.Errorf("audiostore: read %q: %w", key, readErr)
	}
	if closeErr != nil {
		return data, fmt.Errorf("audiostore: close %q: %w", key, closeErr)
	}
	return data, nil
}

// Delete implements [Store].
func (s *NATSStore) Delete(_ context.Context, key string) error {
	if err := s.bucket.Delete(key); err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("audiostore: delete %q: %w", key, err)
	}
	return nil
}
