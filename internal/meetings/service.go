// Package meetings owns the meeting lifecycle: creation, the status state
// machine, admission policy, and the operations callers and the signaling
// layer drive it with. All status transitions go through this package so
// they stay auditable from one place.
package meetings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsemeet/backend/internal/meetcode"
	"github.com/pulsemeet/backend/internal/models"
	"github.com/pulsemeet/backend/internal/participants"
	"github.com/pulsemeet/backend/internal/turncred"
)

// Store is the meeting persistence contract. SetActive and SetTerminal apply
// the transition atomically and report whether a row actually moved, so
// concurrent callers race safely on the same meeting.
type Store interface {
	Insert(ctx context.Context, m *models.Meeting) error
	GetByCode(ctx context.Context, code string) (*models.Meeting, error)
	SetActive(ctx context.Context, code string, startedAt time.Time) (bool, error)
	SetTerminal(ctx context.Context, code string, status models.MeetingStatus, endedAt time.Time) (bool, error)
	ExpireOverdue(ctx context.Context, now time.Time) ([]models.Meeting, error)
}

// CodeAllocator reserves globally unique meeting codes.
type CodeAllocator interface {
	Allocate(ctx context.Context, tenantID uuid.UUID) (string, error)
}

// PresenceTracker is the participant contract the registry depends on.
// Satisfied by *participants.Tracker.
type PresenceTracker interface {
	RecordJoin(ctx context.Context, meetingCode string, tenantID uuid.UUID, userID, displayName, role string) (*models.Participant, error)
	RecordConnected(ctx context.Context, meetingCode, userID string) error
	RecordDisconnected(ctx context.Context, meetingCode, userID string) error
	RecordLeft(ctx context.Context, meetingCode, userID string) error
	ApplyMediaState(ctx context.Context, meetingCode, userID string, patch participants.MediaStatePatch) (models.MediaState, error)
	SetScreenSharing(ctx context.Context, meetingCode, userID string, on bool) error
	ListActive(ctx context.Context, meetingCode string) ([]models.Participant, error)
	CountActive(ctx context.Context, meetingCode string) (int, error)
	CountActiveExcluding(ctx context.Context, meetingCode, userID string) (int, error)
	MarkAllLeft(ctx context.Context, meetingCode string) error
}

// Notifier delivers lifecycle events. Fire-and-forget: implementations must
// never block or surface delivery failures to the caller.
type Notifier interface {
	Notify(ctx context.Context, tenantID uuid.UUID, event string, data any)
}

// Options are the caller-supplied meeting creation parameters.
type Options struct {
	Title           string
	ScheduledAt     *time.Time
	DurationMinutes int
	Settings        *models.MeetingSettings
	Metadata        map[string]string
}

// Decision is the admission verdict for a (meeting, user) pair.
type Decision struct {
	Allowed bool
	Reason  string
	Meeting *models.Meeting
}

// JoinResult is the outcome of a Join call. Denials are results, not errors.
type JoinResult struct {
	Allowed     bool                 `json:"allowed"`
	Reason      string               `json:"reason,omitempty"`
	Meeting     *models.Meeting      `json:"meeting,omitempty"`
	Participant *models.Participant  `json:"participant,omitempty"`
	Credential  *turncred.Credential `json:"credential,omitempty"`
}

// ValidateResult is the outcome of a Validate call.
type ValidateResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// StatusResult is the outcome of a GetStatus call.
type StatusResult struct {
	Status             models.MeetingStatus `json:"status"`
	ActiveParticipants []models.Participant `json:"active_participants"`
}

// ServiceConfig holds lifecycle policy knobs.
type ServiceConfig struct {
	DefaultDurationMinutes int
	ExpiryBufferMinutes    int
}

// Service is the meeting registry.
type Service struct {
	store   Store
	codes   CodeAllocator
	tracker PresenceTracker
	creds   *turncred.Issuer
	events  Notifier
	cfg     ServiceConfig
	now     func() time.Time
	logger  *zap.Logger
}

// NewService creates the registry.
func NewService(store Store, codes CodeAllocator, tracker PresenceTracker, creds *turncred.Issuer, events Notifier, cfg ServiceConfig, logger *zap.Logger) *Service {
	if cfg.DefaultDurationMinutes <= 0 {
		cfg.DefaultDurationMinutes = 60
	}
	if cfg.ExpiryBufferMinutes < 0 {
		cfg.ExpiryBufferMinutes = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		codes:   codes,
		tracker: tracker,
		creds:   creds,
		events:  events,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
}

// Create allocates an identifier and persists a new meeting. Meetings with a
// scheduledAt start as scheduled and carry an expiry of
// scheduledAt + duration + buffer; otherwise they start as created with no
// expiry.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, creator string, opts Options) (*models.Meeting, error) {
	if creator == "" {
		return nil, fmt.Errorf("%w: creator is required", ErrValidation)
	}
	duration := opts.DurationMinutes
	if duration <= 0 {
		duration = s.cfg.DefaultDurationMinutes
	}
	settings := models.MeetingSettings{AllowAnonymous: true, MaxParticipants: 2}
	if opts.Settings != nil {
		settings = *opts.Settings
	}

	code, err := s.codes.Allocate(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	m := &models.Meeting{
		Code:            code,
		TenantID:        tenantID,
		Creator:         creator,
		Title:           opts.Title,
		Status:          models.MeetingStatusCreated,
		DurationMinutes: duration,
		Settings:        settings,
		Metadata:        opts.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if opts.ScheduledAt != nil {
		sched := opts.ScheduledAt.UTC()
		m.Status = models.MeetingStatusScheduled
		m.ScheduledAt = &sched
		expires := sched.Add(time.Duration(duration+s.cfg.ExpiryBufferMinutes) * time.Minute)
		m.ExpiresAt = &expires
	}
	if err := s.store.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("insert meeting: %w", err)
	}

	s.events.Notify(ctx, tenantID, models.EventMeetingCreated, m)
	s.logger.Info("meeting created",
		zap.String("code", m.Code),
		zap.String("tenant_id", tenantID.String()),
		zap.String("status", string(m.Status)))
	return m, nil
}

// CanAdmit decides whether userID may join the meeting. It fails closed:
// unknown codes, terminal statuses, expiry and capacity all deny with a
// stable reason. Expiry is evaluated lazily here, transitioning the meeting
// as a side effect.
func (s *Service) CanAdmit(ctx context.Context, code, userID string) (Decision, error) {
	m, reason, err := s.lookup(ctx, code)
	if err != nil {
		return Decision{}, err
	}
	if reason != "" {
		return Decision{Reason: reason, Meeting: m}, nil
	}

	limit := m.Settings.MaxParticipants
	// 0 disables the check; so do values >= 100, a convention kept for
	// compatibility with existing callers.
	if limit > 0 && limit < 100 {
		n, err := s.tracker.CountActiveExcluding(ctx, code, userID)
		if err != nil {
			return Decision{}, fmt.Errorf("count active participants: %w", err)
		}
		if n >= limit {
			return Decision{Reason: ReasonFull, Meeting: m}, nil
		}
	}
	return Decision{Allowed: true, Meeting: m}, nil
}

// lookup fetches the meeting and applies the lazy expiry transition. A
// non-empty reason means the meeting cannot admit joins.
func (s *Service) lookup(ctx context.Context, code string) (*models.Meeting, string, error) {
	// Malformed codes are rejected without touching storage.
	if !meetcode.Validate(code) {
		return nil, ReasonNotFound, nil
	}
	m, err := s.store.GetByCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return nil, ReasonNotFound, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("get meeting: %w", err)
	}

	if (m.Status == models.MeetingStatusCreated || m.Status == models.MeetingStatusScheduled) && m.Expired(s.now()) {
		moved, err := s.store.SetTerminal(ctx, code, models.MeetingStatusExpired, s.now())
		if err != nil {
			return nil, "", fmt.Errorf("expire meeting: %w", err)
		}
		m.Status = models.MeetingStatusExpired
		if moved {
			s.events.Notify(ctx, m.TenantID, models.EventMeetingExpired, m)
			s.logger.Info("meeting expired lazily", zap.String("code", code))
		}
		return m, ReasonExpired, nil
	}

	switch m.Status {
	case models.MeetingStatusCompleted:
		return m, ReasonCompleted, nil
	case models.MeetingStatusCancelled:
		return m, ReasonCancelled, nil
	case models.MeetingStatusExpired:
		return m, ReasonExpired, nil
	}
	return m, "", nil
}

// Join admits userID to the meeting: presence is recorded, the meeting is
// activated on first join, and relay credentials are minted. Denials are
// returned in the result, never as errors.
func (s *Service) Join(ctx context.Context, tenantID uuid.UUID, code, userID, displayName, role string) (JoinResult, error) {
	if userID == "" {
		return JoinResult{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	d, err := s.CanAdmit(ctx, code, userID)
	if err != nil {
		return JoinResult{}, err
	}
	if d.Allowed && d.Meeting.TenantID != tenantID {
		// Do not confirm a foreign tenant's meeting exists.
		d = Decision{Reason: ReasonNotFound}
	}
	if !d.Allowed {
		return JoinResult{Reason: d.Reason}, nil
	}

	p, err := s.tracker.RecordJoin(ctx, code, d.Meeting.TenantID, userID, displayName, role)
	if err != nil {
		return JoinResult{}, fmt.Errorf("record join: %w", err)
	}
	if err := s.TransitionOnJoin(ctx, d.Meeting); err != nil {
		return JoinResult{}, err
	}
	cred := s.creds.Issue(d.Meeting.TenantID)
	return JoinResult{
		Allowed:     true,
		Meeting:     d.Meeting,
		Participant: p,
		Credential:  &cred,
	}, nil
}

// TransitionOnJoin moves a created or scheduled meeting to active. Only the
// first successful join performs the transition; later joins are no-ops.
func (s *Service) TransitionOnJoin(ctx context.Context, m *models.Meeting) error {
	if m.Status != models.MeetingStatusCreated && m.Status != models.MeetingStatusScheduled {
		return nil
	}
	now := s.now()
	moved, err := s.store.SetActive(ctx, m.Code, now)
	if err != nil {
		return fmt.Errorf("activate meeting: %w", err)
	}
	m.Status = models.MeetingStatusActive
	m.StartedAt = &now
	if moved {
		s.events.Notify(ctx, m.TenantID, models.EventMeetingStarted, m)
		s.logger.Info("meeting started", zap.String("code", m.Code))
	}
	return nil
}

// Leave records an explicit leave and completes the meeting when the last
// active participant is gone.
func (s *Service) Leave(ctx context.Context, tenantID uuid.UUID, code, userID string) error {
	m, err := s.getOwned(ctx, tenantID, code)
	if err != nil {
		return err
	}
	if err := s.tracker.RecordLeft(ctx, code, userID); err != nil {
		if errors.Is(err, participants.ErrNotFound) {
			return fmt.Errorf("%w: participant %s", ErrNotFound, userID)
		}
		return fmt.Errorf("record left: %w", err)
	}
	s.events.Notify(ctx, m.TenantID, models.EventUserLeft, userEvent(code, userID, ""))
	return s.TransitionOnAllLeft(ctx, m)
}

// TransitionOnAllLeft completes an active meeting once no active
// participants remain. Safe to call speculatively.
func (s *Service) TransitionOnAllLeft(ctx context.Context, m *models.Meeting) error {
	if m.Status != models.MeetingStatusActive {
		return nil
	}
	n, err := s.tracker.CountActive(ctx, m.Code)
	if err != nil {
		return fmt.Errorf("count active participants: %w", err)
	}
	if n > 0 {
		return nil
	}
	now := s.now()
	moved, err := s.store.SetTerminal(ctx, m.Code, models.MeetingStatusCompleted, now)
	if err != nil {
		return fmt.Errorf("complete meeting: %w", err)
	}
	if moved {
		m.Status = models.MeetingStatusCompleted
		m.EndedAt = &now
		s.events.Notify(ctx, m.TenantID, models.EventMeetingEnded, m)
		s.logger.Info("meeting completed (all participants left)", zap.String("code", m.Code))
	}
	return nil
}

// End explicitly completes an active meeting, forcing all active
// participants to left first.
func (s *Service) End(ctx context.Context, tenantID uuid.UUID, code, actor string) error {
	m, err := s.getOwned(ctx, tenantID, code)
	if err != nil {
		return err
	}
	if m.Status != models.MeetingStatusActive {
		return fmt.Errorf("%w: cannot end a %s meeting", ErrWrongStatus, m.Status)
	}
	if err := s.tracker.MarkAllLeft(ctx, code); err != nil {
		return fmt.Errorf("mark all left: %w", err)
	}
	now := s.now()
	moved, err := s.store.SetTerminal(ctx, code, models.MeetingStatusCompleted, now)
	if err != nil {
		return fmt.Errorf("complete meeting: %w", err)
	}
	if moved {
		m.Status = models.MeetingStatusCompleted
		m.EndedAt = &now
		s.events.Notify(ctx, m.TenantID, models.EventMeetingEnded, m)
		s.logger.Info("meeting ended", zap.String("code", code), zap.String("actor", actor))
	}
	return nil
}

// Cancel cancels a meeting that never went active.
func (s *Service) Cancel(ctx context.Context, tenantID uuid.UUID, code, actor string) error {
	m, err := s.getOwned(ctx, tenantID, code)
	if err != nil {
		return err
	}
	if !m.Status.CanTransition(models.MeetingStatusCancelled) {
		return fmt.Errorf("%w: cannot cancel a %s meeting", ErrWrongStatus, m.Status)
	}
	if err := s.tracker.MarkAllLeft(ctx, code); err != nil {
		return fmt.Errorf("mark all left: %w", err)
	}
	now := s.now()
	moved, err := s.store.SetTerminal(ctx, code, models.MeetingStatusCancelled, now)
	if err != nil {
		return fmt.Errorf("cancel meeting: %w", err)
	}
	if moved {
		m.Status = models.MeetingStatusCancelled
		m.EndedAt = &now
		s.events.Notify(ctx, m.TenantID, models.EventMeetingCancelled, m)
		s.logger.Info("meeting cancelled", zap.String("code", code), zap.String("actor", actor))
	}
	return nil
}

// Validate checks whether the code refers to a joinable meeting. Malformed
// codes are rejected without any storage access.
func (s *Service) Validate(ctx context.Context, code string) (ValidateResult, error) {
	if !meetcode.Validate(code) {
		return ValidateResult{Reason: ReasonInvalidFormat}, nil
	}
	_, reason, err := s.lookup(ctx, code)
	if err != nil {
		return ValidateResult{}, err
	}
	if reason != "" {
		return ValidateResult{Reason: reason}, nil
	}
	return ValidateResult{Valid: true}, nil
}

// Get returns the meeting, scoped to the owning tenant.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID, code string) (*models.Meeting, error) {
	return s.getOwned(ctx, tenantID, code)
}

// GetStatus returns the meeting status and its active participants.
func (s *Service) GetStatus(ctx context.Context, tenantID uuid.UUID, code string) (StatusResult, error) {
	m, err := s.getOwned(ctx, tenantID, code)
	if err != nil {
		return StatusResult{}, err
	}
	active, err := s.tracker.ListActive(ctx, code)
	if err != nil {
		return StatusResult{}, fmt.Errorf("list active participants: %w", err)
	}
	return StatusResult{Status: m.Status, ActiveParticipants: active}, nil
}

// Cleanup force-marks every participant of the meeting as left.
func (s *Service) Cleanup(ctx context.Context, tenantID uuid.UUID, code string) error {
	m, err := s.getOwned(ctx, tenantID, code)
	if err != nil {
		return err
	}
	if err := s.tracker.MarkAllLeft(ctx, code); err != nil {
		return fmt.Errorf("mark all left: %w", err)
	}
	return s.TransitionOnAllLeft(ctx, m)
}

// Connected records presence for an admitted realtime connection and fires
// user.joined. Session-token connections may reference meetings the registry
// does not know (legacy path); presence is still tracked for them.
func (s *Service) Connected(ctx context.Context, code string, tenantID uuid.UUID, userID, displayName, role string) error {
	if _, err := s.tracker.RecordJoin(ctx, code, tenantID, userID, displayName, role); err != nil {
		return fmt.Errorf("record join: %w", err)
	}
	if err := s.tracker.RecordConnected(ctx, code, userID); err != nil {
		return fmt.Errorf("record connected: %w", err)
	}
	m, err := s.store.GetByCode(ctx, code)
	if err == nil {
		if err := s.TransitionOnJoin(ctx, m); err != nil {
			return err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("get meeting: %w", err)
	}
	s.events.Notify(ctx, tenantID, models.EventUserJoined, userEvent(code, userID, displayName))
	return nil
}

// Disconnected handles a realtime connection going away, by transport close
// or explicit leave: the participant is marked left, the meeting completes
// if it was the last one, and user.left fires.
func (s *Service) Disconnected(ctx context.Context, code string, tenantID uuid.UUID, userID string) error {
	if err := s.tracker.RecordLeft(ctx, code, userID); err != nil && !errors.Is(err, participants.ErrNotFound) {
		return fmt.Errorf("record left: %w", err)
	}
	s.events.Notify(ctx, tenantID, models.EventUserLeft, userEvent(code, userID, ""))
	m, err := s.store.GetByCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get meeting: %w", err)
	}
	return s.TransitionOnAllLeft(ctx, m)
}

// ApplyMediaState merges a media-state patch into the participant's record.
// Fields the patch omits keep their stored value.
func (s *Service) ApplyMediaState(ctx context.Context, code, userID string, patch participants.MediaStatePatch) (models.MediaState, error) {
	return s.tracker.ApplyMediaState(ctx, code, userID, patch)
}

// SetScreenSharing records the start or stop of a participant's screen share
// without touching the audio and video toggles.
func (s *Service) SetScreenSharing(ctx context.Context, code, userID string, on bool) error {
	return s.tracker.SetScreenSharing(ctx, code, userID, on)
}

// SweepExpired bulk-expires overdue created/scheduled meetings. Lazy expiry
// at admission time keeps the system correct without it; the sweep keeps
// queries honest. Returns the number of meetings expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire overdue meetings: %w", err)
	}
	for i := range expired {
		m := &expired[i]
		if err := s.tracker.MarkAllLeft(ctx, m.Code); err != nil {
			s.logger.Error("mark all left for expired meeting failed",
				zap.String("code", m.Code), zap.Error(err))
			continue
		}
		s.events.Notify(ctx, m.TenantID, models.EventMeetingExpired, m)
	}
	return len(expired), nil
}

func (s *Service) getOwned(ctx context.Context, tenantID uuid.UUID, code string) (*models.Meeting, error) {
	if !meetcode.Validate(code) {
		return nil, ErrNotFound
	}
	m, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if m.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return m, nil
}

// SetNow overrides the clock; tests only.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

func userEvent(code, userID, displayName string) map[string]string {
	ev := map[string]string{"meeting_code": code, "user_id": userID}
	if displayName != "" {
		ev["display_name"] = displayName
	}
	return ev
}
