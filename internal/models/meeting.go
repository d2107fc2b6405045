package models

import (
	"time"

	"github.com/google/uuid"
)

// MeetingStatus is the lifecycle state of a meeting.
type MeetingStatus string

const (
	MeetingStatusCreated   MeetingStatus = "created"
	MeetingStatusScheduled MeetingStatus = "scheduled"
	MeetingStatusActive    MeetingStatus = "active"
	MeetingStatusCompleted MeetingStatus = "completed"
	MeetingStatusCancelled MeetingStatus = "cancelled"
	MeetingStatusExpired   MeetingStatus = "expired"
)

// meetingTransitions is the full transition table. Any transition not listed
// here is illegal and must be rejected by the registry.
var meetingTransitions = map[MeetingStatus][]MeetingStatus{
	MeetingStatusCreated:   {MeetingStatusActive, MeetingStatusCancelled, MeetingStatusExpired},
	MeetingStatusScheduled: {MeetingStatusActive, MeetingStatusCancelled, MeetingStatusExpired},
	MeetingStatusActive:    {MeetingStatusCompleted},
}

// CanTransition reports whether a meeting may move from one status to another.
func (s MeetingStatus) CanTransition(to MeetingStatus) bool {
	for _, t := range meetingTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status permits no further lifecycle transitions.
func (s MeetingStatus) Terminal() bool {
	return s == MeetingStatusCompleted || s == MeetingStatusCancelled || s == MeetingStatusExpired
}

// Admissible reports whether new joins are accepted in this status.
func (s MeetingStatus) Admissible() bool {
	return s == MeetingStatusCreated || s == MeetingStatusScheduled || s == MeetingStatusActive
}

// MeetingSettings holds per-meeting policy flags.
type MeetingSettings struct {
	AllowAnonymous   bool `json:"allow_anonymous"`
	WaitingRoom      bool `json:"waiting_room"`
	RecordingEnabled bool `json:"recording_enabled"`
	// MaxParticipants caps concurrently active participants. 0 means
	// unlimited; values of 100 or more are also treated as unlimited for
	// compatibility with existing callers.
	MaxParticipants int `json:"max_participants"`
}

// Meeting is a two-party real-time session. Code is the permanent,
// globally unique human-readable identifier; meetings are never deleted,
// they reach a terminal status and are retained for audit.
type Meeting struct {
	Code            string            `json:"code"`
	TenantID        uuid.UUID         `json:"tenant_id"`
	Creator         string            `json:"creator"`
	Title           string            `json:"title"`
	Status          MeetingStatus     `json:"status"`
	ScheduledAt     *time.Time        `json:"scheduled_at,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	DurationMinutes int               `json:"duration_minutes"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	Settings        MeetingSettings   `json:"settings"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Expired reports whether the meeting's expiry instant has passed at t.
// Meetings without an expiry never expire.
func (m *Meeting) Expired(t time.Time) bool {
	return m.ExpiresAt != nil && t.After(*m.ExpiresAt)
}
