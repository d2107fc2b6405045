package models

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle event names delivered to webhook subscribers.
const (
	EventMeetingCreated   = "meeting.created"
	EventMeetingStarted   = "meeting.started"
	EventMeetingEnded     = "meeting.ended"
	EventMeetingCancelled = "meeting.cancelled"
	EventMeetingExpired   = "meeting.expired"
	EventUserJoined       = "user.joined"
	EventUserLeft         = "user.left"
)

// WebhookSubscription is a tenant's lifecycle-event endpoint. One per tenant,
// replaced wholesale on subscribe.
type WebhookSubscription struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	EndpointURL   string    `json:"endpoint_url"`
	SigningSecret string    `json:"-"`
	UpdatedAt     time.Time `json:"updated_at"`
}
