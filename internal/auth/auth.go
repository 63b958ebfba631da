// Package auth verifies bearer tokens and carries the caller's profile in
// the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Debunkem/CodeCollab/internal/room"
	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

type contextKey string

const profileCtxKey contextKey = "profile"

// Tokens signs and verifies HS256 tokens carrying a user profile
type Tokens struct {
	auth *jwtauth.JWTAuth
	ttl  time.Duration
}

func NewTokens(secret []byte, ttl time.Duration) *Tokens {
	return &Tokens{
		auth: jwtauth.New("HS256", secret, nil),
		ttl:  ttl,
	}
}

// Issue mints a token for the profile
func (t *Tokens) Issue(p room.Profile) (string, error) {
	if p.ID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrUnauthorized)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":  p.ID,
		"username": p.Username,
		"avatar":   p.Avatar,
		"iat":      now.Unix(),
		"exp":      now.Add(t.ttl).Unix(),
	}
	_, tokenString, err := t.auth.Encode(claims)
	return tokenString, err
}

// Verifier finds a token in the Authorization header or, for websocket
// upgrades that cannot set headers, in the jwt query parameter.
func (t *Tokens) Verifier() func(http.Handler) http.Handler {
	return jwtauth.Verify(t.auth, jwtauth.TokenFromHeader, jwtauth.TokenFromQuery)
}

// ProfileFromClaims extracts the user profile; user_id is mandatory
func ProfileFromClaims(claims map[string]interface{}) (room.Profile, error) {
	id, ok := claims["user_id"].(string)
	if !ok || id == "" {
		return room.Profile{}, fmt.Errorf("%w: user_id claim is missing or not a string", ErrUnauthorized)
	}
	username, _ := claims["username"].(string)
	avatar, _ := claims["avatar"].(string)
	return room.Profile{ID: id, Username: username, Avatar: avatar}, nil
}

func WithProfile(ctx context.Context, p room.Profile) context.Context {
	return context.WithValue(ctx, profileCtxKey, p)
}

func ProfileFromContext(ctx context.Context) (room.Profile, bool) {
	p, ok := ctx.Value(profileCtxKey).(room.Profile)
	return p, ok
}
