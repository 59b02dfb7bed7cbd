// Package auth maps bearer tokens to the (user id, is admin) identity the game works with.
// Tokens are issued by the surrounding application; players without one play anonymously.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"livequiz-service/internal/domain"
)

const anonPrefix = "anon-"

// Identity is who is calling.
type Identity struct {
	UserID    string `json:"userId"`
	IsAdmin   bool   `json:"isAdmin"`
	Anonymous bool   `json:"anonymous"`
}

// Claims is the token payload.
type Claims struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return NewIssuerWithClock(secret, ttl, clockwork.NewRealClock())
}

func NewIssuerWithClock(secret string, ttl time.Duration, clock clockwork.Clock) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, clock: clock}
}

// Issue returns a signed token for userID.
func (i *Issuer) Issue(userID string, isAdmin bool) (string, error) {
	if len(i.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := i.clock.Now()
	claims := Claims{
		UserID:  userID,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token. Any failure is reported as domain.ErrUnauthorized.
func (i *Issuer) Verify(token string) (Identity, error) {
	if len(i.secret) == 0 {
		return Identity{}, domain.ErrUnauthorized
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.clock.Now))
	if err != nil || !parsed.Valid || claims.UserID == "" {
		return Identity{}, domain.ErrUnauthorized
	}
	return Identity{UserID: claims.UserID, IsAdmin: claims.IsAdmin}, nil
}

// FromRequest resolves the caller of r. A bearer token (header or `token` query
// parameter) must verify; without one the caller is an anonymous player, keeping
// the `userId` they present so a reconnect rejoins with the same identity.
func (i *Issuer) FromRequest(r *http.Request) (Identity, error) {
	token := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return Identity{}, domain.ErrUnauthorized
		}
		token = parts[1]
	}
	if token != "" {
		return i.Verify(token)
	}
	return Anonymous(r.URL.Query().Get("userId")), nil
}

// Anonymous returns a player identity, generating an id when none is presented.
func Anonymous(presented string) Identity {
	id, err := uuid.Parse(strings.TrimPrefix(presented, anonPrefix))
	if err != nil {
		id = uuid.New()
	}
	return Identity{UserID: anonPrefix + id.String(), Anonymous: true}
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
