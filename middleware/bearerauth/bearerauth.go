// Package bearerauth authenticates requests with opaque bearer tokens
// whose sessions live in a mocaca.Storage.
package bearerauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/xid"
	"golang.org/x/xerrors"

	"github.com/mocaca/mocaca"
)

// LocalsSession is the Ctx.Locals key holding the authenticated *Session.
const LocalsSession = "session"

const (
	prefix    = "Bearer "
	keyPrefix = "session:"
)

var (
	// ErrUnauthorized is returned when the token is missing or unknown.
	ErrUnauthorized = mocaca.NewHttpError(mocaca.StatusUnauthorized, "authentication required")

	// ErrForbidden is returned when a valid session lacks admin rights.
	ErrForbidden = mocaca.NewHttpError(mocaca.StatusForbidden, "admin access required")
)

// Session is the payload stored for a logged in user.
type Session struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// Sessions issues and resolves tokens.
type Sessions struct {
	store mocaca.Storage
	ttl   time.Duration
}

// NewSessions stores sessions in store. Each session expires ttl after it
// was created.
func NewSessions(store mocaca.Storage, ttl time.Duration) *Sessions {
	return &Sessions{store: store, ttl: ttl}
}

// Create stores sess and returns its token. The token is an xid followed by
// 128 random bits.
func (s *Sessions) Create(ctx context.Context, sess Session) (string, error) {
	var secret [16]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", xerrors.Errorf("generate token: %w", err)
	}
	token := xid.New().String() + hex.EncodeToString(secret[:])

	payload, err := json.Marshal(sess)
	if err != nil {
		return "", xerrors.Errorf("encode session: %w", err)
	}
	if err := s.store.Set(ctx, keyPrefix+token, payload, s.ttl); err != nil {
		return "", xerrors.Errorf("store session: %w", err)
	}
	return token, nil
}

// Lookup returns the session for token, or ErrUnauthorized.
func (s *Sessions) Lookup(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	payload, err := s.store.Get(ctx, keyPrefix+token)
	if errors.Is(err, mocaca.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, xerrors.Errorf("load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, xerrors.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// Revoke deletes the session for token.
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	return s.store.Delete(ctx, keyPrefix+token)
}

// Token extracts the bearer token from the Authorization header.
func Token(c *mocaca.Ctx) string {
	h := c.Get(mocaca.HeaderAuthorization)
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// FromCtx returns the session stored by one of the middlewares.
func FromCtx(c *mocaca.Ctx) (*Session, bool) {
	sess, ok := c.Locals(LocalsSession).(*Session)
	return sess, ok && sess != nil
}

// Required rejects requests without a valid session with 401.
func (s *Sessions) Required() mocaca.Middleware {
	return func(c *mocaca.Ctx) {
		if !s.authenticate(c, true) {
			return
		}
		c.Next()
	}
}

// Optional attaches the session when a valid token is sent and lets every
// request through.
func (s *Sessions) Optional() mocaca.Middleware {
	return func(c *mocaca.Ctx) {
		if Token(c) != "" && !s.authenticate(c, false) {
			return
		}
		c.Next()
	}
}

// Admin requires a valid session that belongs to an admin. Other users get
// 403.
func (s *Sessions) Admin() mocaca.Middleware {
	return func(c *mocaca.Ctx) {
		if !s.authenticate(c, true) {
			return
		}
		if sess, _ := FromCtx(c); !sess.IsAdmin {
			c.Error(ErrForbidden)
			return
		}
		c.Next()
	}
}

// authenticate resolves the token into Locals. Unknown tokens stop the
// chain only when required is set; storage failures always do.
func (s *Sessions) authenticate(c *mocaca.Ctx, required bool) bool {
	sess, err := s.Lookup(c.Context(), Token(c))
	switch {
	case err == nil:
		c.Locals(LocalsSession, sess)
		return true
	case errors.Is(err, ErrUnauthorized):
		if required {
			c.Error(ErrUnauthorized)
			return false
		}
		return true
	default:
		c.Error(err)
		return false
	}
}
