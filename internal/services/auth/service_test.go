package authsvc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/canvasshq/canvass/internal/model"
	"github.com/canvasshq/canvass/internal/runtime"
	pebblestore "github.com/canvasshq/canvass/internal/storage/pebble"
	logpkg "github.com/canvasshq/canvass/pkg/log"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt, logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel)), "test-secret", time.Hour)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "Agent@Example.com", "hunter2hunter2", "Agent One", model.RoleQualityAgent)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Email != "agent@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if u.PasswordHash == "hunter2hunter2" || u.PasswordHash == "" {
		t.Fatalf("password stored unhashed")
	}

	got, token, err := s.Authenticate(ctx, "agent@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.UserID != u.UserID || token == "" {
		t.Fatalf("authenticate result: %+v %q", got, token)
	}

	claims, err := s.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != u.UserID || claims.Role != model.RoleQualityAgent {
		t.Fatalf("claims: %+v", claims)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	if _, err := s.Register(ctx, "a@example.com", "password123", "A", model.RoleInterviewer); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.Register(ctx, "A@example.com", "password456", "B", model.RoleInterviewer); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	if _, err := s.Register(ctx, "a@example.com", "short", "A", model.RoleInterviewer); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := s.Register(ctx, "not-an-email", "password123", "A", model.RoleInterviewer); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.Register(ctx, "a@example.com", "password123", "A", model.Role("superuser")); err == nil {
		t.Fatalf("expected role error")
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	if _, err := s.Register(ctx, "a@example.com", "password123", "A", model.RoleInterviewer); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := s.Authenticate(ctx, "a@example.com", "wrongwrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, _, err := s.Authenticate(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("missing user: %v", err)
	}
}

func TestVerifyTokenRejectsForgeries(t *testing.T) {
	s := newTestService(t)
	u := &model.User{UserID: "u-1", Role: model.RoleCompanyAdmin}
	token, err := s.IssueToken(u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other := New(s.rt, s.logger, "other-secret", time.Hour)
	if _, err := other.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: %v", err)
	}
	if _, err := s.VerifyToken(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token: %v", err)
	}
	if _, err := s.VerifyToken(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token: %v", err)
	}
}
