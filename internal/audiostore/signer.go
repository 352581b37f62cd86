package audiostore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// DefaultURLTTL is how long a signed download URL stays valid.
const DefaultURLTTL = 7 * 24 * time.Hour

var (
	// ErrURLExpired is returned by [Signer.Verify] for an expired URL.
	ErrURLExpired = errors.New("audiostore: url expired")
	// ErrBadSignature is returned by [Signer.Verify] when the signature
	// does not match the key and expiry.
	ErrBadSignature = errors.New("audiostore: bad signature")
)

// Signer produces and verifies HMAC-SHA256 signed download URLs of the form
//
//	<baseURL>/audio/<key>?exp=<unix>&sig=<hex>
//
// The signature covers both the key and the expiry, so neither can be
// altered without invalidating the URL.
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner creates a Signer. baseURL is the public origin of this service
// without a trailing slash. A non-positive ttl falls back to [DefaultURLTTL].
func NewSigner(secret, baseURL string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("audiostore: signing secret must not be empty")
	}
	if baseURL == "" {
		return nil, errors.New("audiostore: base URL must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &Signer{
		secret:  []byte(secret),
		baseURL: baseURL,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// SignedURL returns a download URL for key that expires after the
// configured TTL.
func (s *Signer) SignedURL(key string) string {
	exp := s.now().Add(s.ttl).Unix()
	return fmt.Sprintf("%s/audio/%s?exp=%d&sig=%s", s.baseURL, key, exp, s.sign(key, exp))
}

// Verify checks the signature and expiry extracted from a download URL.
func (s *Signer) Verify(key string, exp int64, sig string) error {
	if s.now().Unix() > exp {
		return ErrURLExpired
	}
	want := s.sign(key, exp)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return ErrBadSignature
	}
	return nil
}

func (s *Signer) sign(key string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", key, exp)
	return hex.EncodeToString(mac.Sum(nil))
}
