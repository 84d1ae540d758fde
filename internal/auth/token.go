package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"usada-checkout/internal/storage"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMissing = errors.New("auth token not found")
	ErrTokenExpired = errors.New("auth token expired")
)

// TokenSource supplies the bearer token for the order API. The token is
// acquired and refreshed elsewhere; this subsystem only reads it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a plain function to a TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticTokenSource returns the same token on every call.
func StaticTokenSource(token string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) {
		if token == "" {
			return "", ErrTokenMissing
		}
		return token, nil
	})
}

// Storage keys the auth layer has historically written tokens under,
// tried in order.
var tokenKeys = []string{"auth_token", "token", "access_token"}

// storageTokenSource reads the token from durable storage, checking each
// known key until one holds a value.
type storageTokenSource struct {
	store storage.Store
}

func NewStorageTokenSource(store storage.Store) TokenSource {
	return &storageTokenSource{store: store}
}

func (s *storageTokenSource) Token(ctx context.Context) (string, error) {
	for _, key := range tokenKeys {
		data, err := s.store.Read(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}

		token := strings.TrimSpace(strings.Trim(string(data), `"`))
		if token != "" {
			return token, nil
		}
	}
	return "", ErrTokenMissing
}

// CheckExpiry inspects the token's exp claim without verifying the
// signature. Verification belongs to the backend; this is only an early
// exit so an already-dead token fails fast instead of burning a round
// trip on a guaranteed 401. Tokens that are not JWTs pass through.
func CheckExpiry(token string, now time.Time) error {
	parser := jwt.NewParser()

	claims := jwt.RegisteredClaims{}
	_, _, err := parser.ParseUnverified(token, &claims)
	if err != nil {
		return nil
	}

	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(now) {
		return ErrTokenExpired
	}
	return nil
}
