// Package auth covers the two credentials the API hands out: tenant API keys
// for REST calls, and short-lived session tokens for the signaling endpoint.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Audience accepted on signaling session tokens.
const Audience = "pulsemeet-signaling"

// SessionClaims are the claims carried by a signaling session token. The
// token pre-binds a single user to a single meeting; a connection presenting
// it needs no registry lookup at admission time.
type SessionClaims struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	MeetingCode string    `json:"meeting_code"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies signaling session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a session-token issuer. ttl defaults to 24h when
// zero or negative.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("session token secret must not be empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Generate mints a session token binding (tenant, meeting, user).
func (i *TokenIssuer) Generate(tenantID uuid.UUID, meetingCode, userID, displayName, role string) (string, error) {
	if meetingCode == "" || userID == "" {
		return "", errors.New("meeting code and user id are required")
	}
	now := i.now()
	claims := SessionClaims{
		TenantID:    tenantID,
		MeetingCode: meetingCode,
		UserID:      userID,
		DisplayName: displayName,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify parses and validates a session token, returning its claims.
func (i *TokenIssuer) Verify(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithAudience(Audience),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.MeetingCode == "" || claims.UserID == "" {
		return nil, errors.New("token missing meeting binding")
	}
	return claims, nil
}

// SetNow overrides the clock; tests only.
func (i *TokenIssuer) SetNow(now func() time.Time) { i.now = now }
