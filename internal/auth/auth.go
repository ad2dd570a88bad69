// Package auth honors the one security concern spec.md §1 keeps in scope:
// "Security is out of scope beyond honoring a per-request capability
// token." A capability token here is an opaque bearer string accepted at
// the master's query-submission boundary and forwarded to workers
// unchanged — there is no role or per-table permission model.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/qserv/qserv/internal/errors"
)

// Token is a registered capability token: an opaque identity plus an
// optional expiry.
type Token struct {
	Value     string
	Requester string
	ExpiresAt time.Time
}

func (t *Token) expired() bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(t.ExpiresAt)
}

// Validator checks a capability token presented with a request.
type Validator interface {
	Validate(ctx context.Context, token string) (*Token, error)
}

// StaticValidator validates tokens against a fixed, in-memory set,
// grounded on the teacher's StaticTokenAuthenticator: a process-wide map
// guarded by a mutex, no external identity provider.
type StaticValidator struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

func NewStaticValidator() *StaticValidator {
	return &StaticValidator{tokens: make(map[string]*Token)}
}

// Register adds a capability token accepted for the given requester.
func (v *StaticValidator) Register(value, requester string, expiresAt time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[value] = &Token{Value: value, Requester: requester, ExpiresAt: expiresAt}
}

func (v *StaticValidator) Validate(_ context.Context, token string) (*Token, error) {
	if token == "" {
		return nil, errors.NewAuthError("no capability token presented")
	}
	v.mu.RLock()
	t, ok := v.tokens[token]
	v.mu.RUnlock()
	if !ok {
		return nil, errors.NewAuthError("unrecognized capability token")
	}
	if t.expired() {
		return nil, errors.NewAuthError("capability token expired")
	}
	return t, nil
}

type contextKey string

const tokenContextKey contextKey = "qserv_token"

// ContextWithToken attaches the validated token to ctx so downstream
// dispatch can forward the same capability token to workers.
func ContextWithToken(ctx context.Context, t *Token) context.Context {
	return context.WithValue(ctx, tokenContextKey, t)
}

// TokenFromContext extracts the validated token, or nil if none is set.
func TokenFromContext(ctx context.Context) *Token {
	t, _ := ctx.Value(tokenContextKey).(*Token)
	return t
}
