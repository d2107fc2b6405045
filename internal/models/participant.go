package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantStatus is the presence state of a participant within a meeting.
type ParticipantStatus string

const (
	ParticipantStatusJoined       ParticipantStatus = "joined"
	ParticipantStatusConnected    ParticipantStatus = "connected"
	ParticipantStatusDisconnected ParticipantStatus = "disconnected"
	ParticipantStatusLeft         ParticipantStatus = "left"
)

// Active reports whether the participant counts against meeting capacity.
func (s ParticipantStatus) Active() bool {
	return s == ParticipantStatusJoined || s == ParticipantStatusConnected
}

// Participant roles.
const (
	RoleHost        = "host"
	RoleParticipant = "participant"
	RoleObserver    = "observer"
)

// MediaState holds the participant's current media toggles.
type MediaState struct {
	AudioEnabled  bool `json:"audio_enabled"`
	VideoEnabled  bool `json:"video_enabled"`
	ScreenSharing bool `json:"screen_sharing"`
}

// Participant is one user's presence record in a meeting, identified by the
// composite (meeting code, user id). Records are never deleted; rejoin by the
// same pair updates the existing record.
type Participant struct {
	MeetingCode     string            `json:"meeting_code"`
	UserID          string            `json:"user_id"`
	TenantID        uuid.UUID         `json:"tenant_id"`
	DisplayName     string            `json:"display_name"`
	Role            string            `json:"role"`
	Status          ParticipantStatus `json:"status"`
	JoinedAt        time.Time         `json:"joined_at"`
	ConnectedAt     *time.Time        `json:"connected_at,omitempty"`
	LeftAt          *time.Time        `json:"left_at,omitempty"`
	DurationSeconds int64             `json:"duration_seconds"`
	MediaState      MediaState        `json:"media_state"`
}
