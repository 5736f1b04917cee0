package media

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestSignedPathRoundTrip(t *testing.T) {
	s := NewSigner("secret-key", 15*time.Minute)
	nowMs := int64(1_700_000_000_000)

	path := s.SignedPath("audio/svy-1/r-1.ogg", nowMs)
	if !strings.HasPrefix(path, "/media/") {
		t.Fatalf("unexpected path %q", path)
	}
	u, err := url.Parse(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	key, err := url.PathUnescape(strings.TrimPrefix(u.Path, "/media/"))
	if err != nil {
		t.Fatalf("unescape: %v", err)
	}
	q := u.Query()
	if err := s.Verify(key, q.Get("exp"), q.Get("sig"), nowMs+60_000); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := s.Verify(key, q.Get("exp"), q.Get("sig"), nowMs+16*60_000); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := NewSigner("secret-key", time.Minute)
	nowMs := int64(1_700_000_000_000)
	u, _ := url.Parse(s.SignedPath("audio/a.ogg", nowMs))
	q := u.Query()

	if err := s.Verify("audio/b.ogg", q.Get("exp"), q.Get("sig"), nowMs); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("key swap: %v", err)
	}
	if err := s.Verify("audio/a.ogg", "9999999999999", q.Get("sig"), nowMs); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expiry extension: %v", err)
	}
	other := NewSigner("other-key", time.Minute)
	if err := other.Verify("audio/a.ogg", q.Get("exp"), q.Get("sig"), nowMs); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong key: %v", err)
	}
}
