package realtime

import (
	"context"

	"github.com/google/uuid"

	"github.com/pulsemeet/backend/internal/auth"
	"github.com/pulsemeet/backend/internal/meetings"
	"github.com/pulsemeet/backend/internal/models"
)

// SessionBinding is the identity a connection carries after admission. All
// relay and presence decisions key off it; nothing is re-checked per message.
type SessionBinding struct {
	MeetingCode string
	TenantID    uuid.UUID
	UserID      string
	DisplayName string
	Role        string
	// TokenMode is true when the connection was admitted by a pre-signed
	// session token rather than a registry lookup. Token-mode connections may
	// reference meetings the registry does not track, so media state is not
	// persisted for them.
	TokenMode bool
}

// TokenVerifier validates signaling session tokens. Satisfied by
// *auth.TokenIssuer.
type TokenVerifier interface {
	Verify(token string) (*auth.SessionClaims, error)
}

// Registry answers admission questions for credential-mode connections.
// Satisfied by *meetings.Service.
type Registry interface {
	CanAdmit(ctx context.Context, code, userID string) (meetings.Decision, error)
}

// AdmitParams are the query parameters a connection presents.
type AdmitParams struct {
	Token       string
	MeetingCode string
	UserID      string
	DisplayName string
	Role        string
}

// Admitter decides whether a connection may enter a room, before the
// WebSocket upgrade. Two modes: a session token binds the connection on its
// own authority; otherwise meeting id and user id are checked against the
// registry.
type Admitter struct {
	tokens   TokenVerifier
	registry Registry
}

// NewAdmitter creates an admission gate.
func NewAdmitter(tokens TokenVerifier, registry Registry) *Admitter {
	return &Admitter{tokens: tokens, registry: registry}
}

// Admit evaluates the connection parameters. A non-empty reason is a denial;
// errors are infrastructure failures only.
func (a *Admitter) Admit(ctx context.Context, p AdmitParams) (SessionBinding, string, error) {
	if p.Token != "" {
		claims, err := a.tokens.Verify(p.Token)
		if err != nil {
			// A presented token that fails verification is terminal; there is
			// no fallback to credential mode.
			return SessionBinding{}, meetings.ReasonAuthFailed, nil
		}
		role := claims.Role
		if role == "" {
			role = models.RoleParticipant
		}
		return SessionBinding{
			MeetingCode: claims.MeetingCode,
			TenantID:    claims.TenantID,
			UserID:      claims.UserID,
			DisplayName: claims.DisplayName,
			Role:        role,
			TokenMode:   true,
		}, "", nil
	}

	if p.MeetingCode == "" || p.UserID == "" {
		return SessionBinding{}, meetings.ReasonAuthFailed, nil
	}
	d, err := a.registry.CanAdmit(ctx, p.MeetingCode, p.UserID)
	if err != nil {
		return SessionBinding{}, "", err
	}
	if !d.Allowed {
		return SessionBinding{}, d.Reason, nil
	}
	role := p.Role
	if role == "" {
		role = models.RoleParticipant
	}
	return SessionBinding{
		MeetingCode: p.MeetingCode,
		TenantID:    d.Meeting.TenantID,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Role:        role,
	}, "", nil
}
