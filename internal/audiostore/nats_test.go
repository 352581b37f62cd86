package audiostore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// ---------------------------------------------------------------------------
// Test helpers — fake bucket
// ---------------------------------------------------------------------------

type fakeBucket struct {
	objects map[string][]byte
	putErr  error
	getErr  error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (b *fakeBucket) Put(obj *nats.ObjectMeta, r io.Reader, _ ...nats.ObjectOpt) (*nats.ObjectInfo, error) {
	if b.putErr != nil {
		return nil, b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	b.objects[obj.Name] = data
	return &nats.ObjectInfo{ObjectMeta: *obj, Size: uint64(len(data))}, nil
}

func (b *fakeBucket) Get(name string, _ ...nats.GetObjectOpt) (nats.ObjectResult, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	data, ok := b.objects[name]
	if !ok {
		return nil, nats.ErrObjectNotFound
	}
	return &fakeResult{Reader: bytes.NewReader(data)}, nil
}

func (b *fakeBucket) Delete(name string) error {
	if _, ok := b.objects[name]; !ok {
		return nats.ErrObjectNotFound
	}
	delete(b.objects, name)
	return nil
}

type fakeResult struct {
	*bytes.Reader
}

func (r *fakeResult) Close() error                    { return nil }
func (r *fakeResult) Info() (*nats.ObjectInfo, error) { return nil, nil }
func (r *fakeResult) Error() error                    { return nil }

func testStore(t *testing.T, bucket Bucket) *NATSStore {
	t.Helper()
	signer, err := NewSigner("test-secret", "https://api.example.com", 0)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return NewNATSStoreWithBucket(bucket, signer)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

var keyPattern = regexp.MustCompile(`^user-1/\d+-[0-9a-f-]{36}\.mp3$`)

func TestPut_KeyAndSignedURL(t *testing.T) {
	bucket := newFakeBucket()
	store := testStore(t, bucket)
	store.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	stored, err := store.Put(context.Background(), "user-1", []byte("mp3 bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !keyPattern.MatchString(stored.Key) {
		t.Errorf("key %q does not match <user>/<millis>-<uuid>.mp3", stored.Key)
	}
	if !strings.HasPrefix(stored.URL, "https://api.example.com/audio/"+stored.Key+"?") {
		t.Errorf("URL %q is not a signed link to the stored key", stored.URL)
	}
	if got := bucket.objects[stored.Key]; string(got) != "mp3 bytes" {
		t.Errorf("stored bytes = %q", got)
	}
}

func TestPut_DistinctKeysPerCall(t *testing.T) {
	store := testStore(t, newFakeBucket())

	a, err := store.Put(context.Background(), "user-1", []byte("x"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	b, err := store.Put(context.Background(), "user-1", []byte("x"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if a.Key == b.Key {
		t.Errorf("two uploads share key %q", a.Key)
	}
}

func TestPut_Validation(t *testing.T) {
	store := testStore(t, newFakeBucket())

	if _, err := store.Put(context.Background(), "", []byte("x")); err == nil {
		t.Error("expected an error for an empty user id")
	}
	if _, err := store.Put(context.Background(), "user-1", nil); err == nil {
		t.Error("expected an error for empty audio")
	}
}

func TestPut_BucketFailure(t *testing.T) {
	bucket := newFakeBucket()
	bucket.putErr = errors.New("jetstream unavailable")
	store := testStore(t, bucket)

	if _, err := store.Put(context.Background(), "user-1", []byte("x")); err == nil {
		t.Fatal("expected the bucket failure to surface")
	}
}

func TestGet_RoundTrip(t *testing.T) {
	bucket := newFakeBucket()
	store := testStore(t, bucket)

	stored, err := store.Put(context.Background(), "user-1", []byte("clip"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err := store.Get(context.Background(), stored.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "clip" {
		t.Errorf("Get = %q, want clip", data)
	}
}

func TestGet_Missing(t *testing.T) {
	store := testStore(t, newFakeBucket())
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	bucket := newFakeBucket()
	store := testStore(t, bucket)

	stored, err := store.Put(context.Background(), "user-1", []byte("clip"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(context.Background(), stored.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := bucket.objects[stored.Key]; ok {
		t.Error("object still present after Delete")
	}
	if err := store.Delete(context.Background(), stored.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete err = %v, want ErrNotFound", err)
	}
}
