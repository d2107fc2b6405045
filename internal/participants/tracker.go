// Package participants owns per-meeting presence: who joined, their
// connection state, media toggles and attendance duration. Records are keyed
// by (meeting code, user id), created on first join and never deleted.
package participants

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsemeet/backend/internal/models"
)

// ErrNotFound is returned when no record exists for the (meeting, user) pair.
var ErrNotFound = errors.New("participant not found")

// Store is the persistence contract the tracker drives.
type Store interface {
	Upsert(ctx context.Context, p *models.Participant) error
	Get(ctx context.Context, meetingCode, userID string) (*models.Participant, error)
	SetConnected(ctx context.Context, meetingCode, userID string, at time.Time) error
	SetDisconnected(ctx context.Context, meetingCode, userID string) error
	SetLeft(ctx context.Context, meetingCode, userID string, at time.Time) error
	SetMediaState(ctx context.Context, meetingCode, userID string, ms models.MediaState) error
	ListActive(ctx context.Context, meetingCode string) ([]models.Participant, error)
	CountActive(ctx context.Context, meetingCode string) (int, error)
	CountActiveExcluding(ctx context.Context, meetingCode, userID string) (int, error)
	MarkAllLeft(ctx context.Context, meetingCode string, at time.Time) error
}

// Tracker serializes presence transitions per participant. The REST
// join/leave path and the realtime disconnect path both write here, so every
// per-key update takes a stripe lock first.
type Tracker struct {
	store  Store
	locks  keyedMutex
	now    func() time.Time
	logger *zap.Logger
}

// NewTracker creates a tracker over the given store.
func NewTracker(store Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, now: time.Now, logger: logger}
}

// RecordJoin creates the participant record, or resets an existing record's
// status to joined. Rejoin by the same (meeting, user) pair is idempotent:
// it never creates a duplicate.
func (t *Tracker) RecordJoin(ctx context.Context, meetingCode string, tenantID uuid.UUID, userID, displayName, role string) (*models.Participant, error) {
	if role == "" {
		role = models.RoleParticipant
	}
	m := t.locks.lock(meetingCode + "/" + userID)
	defer m.Unlock()

	p := &models.Participant{
		MeetingCode: meetingCode,
		UserID:      userID,
		TenantID:    tenantID,
		DisplayName: displayName,
		Role:        role,
		Status:      models.ParticipantStatusJoined,
		JoinedAt:    t.now(),
		MediaState:  models.MediaState{AudioEnabled: true, VideoEnabled: true},
	}
	if err := t.store.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// RecordConnected marks the participant's realtime channel as established.
func (t *Tracker) RecordConnected(ctx context.Context, meetingCode, userID string) error {
	m := t.locks.lock(meetingCode + "/" + userID)
	defer m.Unlock()
	return t.store.SetConnected(ctx, meetingCode, userID, t.now())
}

// RecordDisconnected marks a transport-level drop without an explicit leave.
func (t *Tracker) RecordDisconnected(ctx context.Context, meetingCode, userID string) error {
	m := t.locks.lock(meetingCode + "/" + userID)
	defer m.Unlock()
	return t.store.SetDisconnected(ctx, meetingCode, userID)
}

// RecordLeft marks the participant as gone and stamps leftAt; the store
// recomputes durationSeconds from joinedAt whenever leftAt is set.
func (t *Tracker) RecordLeft(ctx context.Context, meetingCode, userID string) error {
	m := t.locks.lock(meetingCode + "/" + userID)
	defer m.Unlock()
	return t.store.SetLeft(ctx, meetingCode, userID, t.now())
}

// UpdateMediaState persists the participant's current media toggles.
func (t *Tracker) UpdateMediaState(ctx context.Context, meetingCode, userID string, ms models.MediaState) error {
	m := t.locks.lock(meetingCode + "/" + userID)
	defer m.Unlock()
	return t.store.SetMediaState(ctx, meetingCode, userID, ms)
}

// MediaStatePatch updates only the fields it carries; absent fields keep their
// stored value.
type MediaStatePatch struct {
	AudioEnabled  *bool `json:"audio_enabled"`
	VideoEnabled  *bool `json:"video_enabled"`
	ScreenSharing *bool `json:"screen_sharing"`
}

// ApplyMediaState merges the patch into the participant's stored media state.
// The read-modify-write runs under the pair's stripe lock, so concurrent
// patches never clobber each other's fields.
func (t *Tracker) ApplyMediaState(ctx context.Context, meetingCode, userID string, patch MediaStatePatch) (models.MediaState, error) {
	m := t.locks.lock(meetingCode + "/" + userID)
	defer m.Unlock()
	p, err := t.store.Get(ctx, meetingCode, userID)
	if err != nil {
		return models.MediaState{}, err
	}
	ms := p.MediaState
	if patch.AudioEnabled != nil {
		ms.AudioEnabled = *patch.AudioEnabled
	}
	if patch.VideoEnabled != nil {
		ms.VideoEnabled = *patch.VideoEnabled
	}
	if patch.ScreenSharing != nil {
		ms.ScreenSharing = *patch.ScreenSharing
	}
	if err := t.store.SetMediaState(ctx, meetingCode, userID, ms); err != nil {
		return models.MediaState{}, err
	}
	return ms, nil
}

// SetScreenSharing flips only the screenSharing toggle, leaving the audio and
// video flags as they are.
func (t *Tracker) SetScreenSharing(ctx context.Context, meetingCode, userID string, on bool) error {
	_, err := t.ApplyMediaState(ctx, meetingCode, userID, MediaStatePatch{ScreenSharing: &on})
	return err
}

// Get returns the participant record for the pair.
func (t *Tracker) Get(ctx context.Context, meetingCode, userID string) (*models.Participant, error) {
	return t.store.Get(ctx, meetingCode, userID)
}

// ListActive returns participants whose status is joined or connected.
func (t *Tracker) ListActive(ctx context.Context, meetingCode string) ([]models.Participant, error) {
	return t.store.ListActive(ctx, meetingCode)
}

// CountActive returns the number of active participants in the meeting.
func (t *Tracker) CountActive(ctx context.Context, meetingCode string) (int, error) {
	return t.store.CountActive(ctx, meetingCode)
}

// CountActiveExcluding counts active participants other than userID, so a
// rejoin by an already-counted user never trips the capacity limit.
func (t *Tracker) CountActiveExcluding(ctx context.Context, meetingCode, userID string) (int, error) {
	return t.store.CountActiveExcluding(ctx, meetingCode, userID)
}

// MarkAllLeft bulk-transitions every active participant to left. Used on
// meeting end, cancel and cleanup.
func (t *Tracker) MarkAllLeft(ctx context.Context, meetingCode string) error {
	return t.store.MarkAllLeft(ctx, meetingCode, t.now())
}

// SetNow overrides the clock; tests only.
func (t *Tracker) SetNow(now func() time.Time) { t.now = now }
