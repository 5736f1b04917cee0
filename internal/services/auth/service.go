// Package authsvc handles user accounts and token-based authentication.
// Passwords are bcrypt-hashed; sessions are stateless HS256 JWTs carrying the
// user id and role.
package authsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/canvasshq/canvass/internal/model"
	"github.com/canvasshq/canvass/internal/runtime"
	"github.com/canvasshq/canvass/internal/store"
	logpkg "github.com/canvasshq/canvass/pkg/log"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrWeakPassword       = errors.New("auth: password too short")
)

// Claims is the token payload.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and validates credentials.
type Service struct {
	rt       *runtime.Runtime
	logger   logpkg.Logger
	secret   []byte
	tokenTTL time.Duration
}

// New returns an auth service signing tokens with secret.
func New(rt *runtime.Runtime, logger logpkg.Logger, secret string, tokenTTL time.Duration) *Service {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &Service{
		rt:       rt,
		logger:   logger.WithComponent("auth"),
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
	}
}

// Register creates a user account. Emails are unique, case-insensitive.
func (s *Service) Register(ctx context.Context, email, password, name string, role model.Role) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: bad email", ErrInvalidCredentials)
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}
	switch role {
	case model.RoleCompanyAdmin, model.RoleQualityAgent, model.RoleInterviewer:
	default:
		return nil, fmt.Errorf("auth: unknown role %q", role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		UserID:       uuid.NewString(),
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAtMs:  time.Now().UnixMilli(),
	}
	db := s.rt.DB()
	err = db.Update(ctx, func(b *pebble.Batch) error {
		taken, err := db.Has(store.UserEmailKey(email))
		if err != nil {
			return err
		}
		if taken {
			return ErrEmailTaken
		}
		return store.BatchPutUser(b, u)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", logpkg.Str("user", u.UserID), logpkg.Str("role", string(role)))
	return u, nil
}

// Authenticate checks credentials and returns the user and a signed token.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := store.GetUserByEmail(s.rt.DB(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a comparison so missing and wrong-password take similar time.
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000"), []byte(password))
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.IssueToken(u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// IssueToken signs a fresh token for u.
func (s *Service) IssueToken(u *model.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyToken parses and validates a bearer token.
func (s *Service) VerifyToken(tokenStr string) (*Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return store.GetUser(s.rt.DB(), userID)
}
