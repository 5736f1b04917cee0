// Package media issues and verifies short-lived signed URLs for interview
// audio playback. Keys are opaque object paths; signatures are HMAC-SHA256
// over the key and expiry so no playback state is stored.
package media

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrExpired is returned when a signed URL's expiry has passed.
	ErrExpired = errors.New("media: url expired")
	// ErrBadSignature is returned when the signature does not verify.
	ErrBadSignature = errors.New("media: bad signature")
)

// Signer mints and checks signed playback URLs.
type Signer struct {
	key []byte
	ttl time.Duration
}

// NewSigner creates a signer. ttl <= 0 defaults to 15 minutes.
func NewSigner(key string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{key: []byte(key), ttl: ttl}
}

func (s *Signer) mac(audioKey string, expMs int64) string {
	m := hmac.New(sha256.New, s.key)
	fmt.Fprintf(m, "%s\n%d", audioKey, expMs)
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}

// SignedPath returns a relative playback path for audioKey, valid until
// nowMs + ttl. nowMs <= 0 means the current time.
func (s *Signer) SignedPath(audioKey string, nowMs int64) string {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	expMs := nowMs + s.ttl.Milliseconds()
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(expMs, 10))
	q.Set("sig", s.mac(audioKey, expMs))
	return "/media/" + url.PathEscape(audioKey) + "?" + q.Encode()
}

// Verify checks a playback request's expiry and signature.
func (s *Signer) Verify(audioKey, expStr, sig string, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	expMs, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal([]byte(s.mac(audioKey, expMs)), []byte(sig)) {
		return ErrBadSignature
	}
	if expMs <= nowMs {
		return ErrExpired
	}
	return nil
}
