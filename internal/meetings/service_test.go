package meetings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pulsemeet/backend/internal/models"
	"github.com/pulsemeet/backend/internal/participants"
	"github.com/pulsemeet/backend/internal/turncred"
)

// memMeetings is an in-memory Store mirroring the repository's conditional
// update semantics.
type memMeetings struct {
	mu   sync.Mutex
	rows map[string]*models.Meeting
}

func newMemMeetings() *memMeetings {
	return &memMeetings{rows: make(map[string]*models.Meeting)}
}

func (s *memMeetings) Insert(_ context.Context, m *models.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[m.Code]; ok {
		return errors.New("duplicate code")
	}
	cp := *m
	s.rows[m.Code] = &cp
	return nil
}

func (s *memMeetings) GetByCode(_ context.Context, code string) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memMeetings) SetActive(_ context.Context, code string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[code]
	if !ok || (m.Status != models.MeetingStatusCreated && m.Status != models.MeetingStatusScheduled) {
		return false, nil
	}
	m.Status = models.MeetingStatusActive
	t := startedAt
	m.StartedAt = &t
	return true, nil
}

func (s *memMeetings) SetTerminal(_ context.Context, code string, status models.MeetingStatus, endedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[code]
	if !ok || !m.Status.CanTransition(status) {
		return false, nil
	}
	m.Status = status
	t := endedAt
	m.EndedAt = &t
	return true, nil
}

func (s *memMeetings) ExpireOverdue(_ context.Context, now time.Time) ([]models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Meeting
	for _, m := range s.rows {
		if (m.Status == models.MeetingStatusCreated || m.Status == models.MeetingStatusScheduled) && m.Expired(now) {
			m.Status = models.MeetingStatusExpired
			t := now
			m.EndedAt = &t
			out = append(out, *m)
		}
	}
	return out, nil
}

// fakeTracker implements PresenceTracker over a flat map.
type fakeTracker struct {
	mu   sync.Mutex
	rows map[string]*models.Participant
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{rows: make(map[string]*models.Participant)}
}

func pkey(code, user string) string { return code + "/" + user }

func (t *fakeTracker) RecordJoin(_ context.Context, code string, tenantID uuid.UUID, userID, displayName, role string) (*models.Participant, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.rows[pkey(code, userID)]; ok {
		p.Status = models.ParticipantStatusJoined
		p.DisplayName = displayName
		cp := *p
		return &cp, nil
	}
	p := &models.Participant{
		MeetingCode: code, TenantID: tenantID, UserID: userID,
		DisplayName: displayName, Role: role,
		Status: models.ParticipantStatusJoined,
	}
	t.rows[pkey(code, userID)] = p
	cp := *p
	return &cp, nil
}

func (t *fakeTracker) setStatus(code, user string, st models.ParticipantStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.rows[pkey(code, user)]
	if !ok {
		return participants.ErrNotFound
	}
	p.Status = st
	return nil
}

func (t *fakeTracker) RecordConnected(_ context.Context, code, user string) error {
	return t.setStatus(code, user, models.ParticipantStatusConnected)
}

func (t *fakeTracker) RecordDisconnected(_ context.Context, code, user string) error {
	return t.setStatus(code, user, models.ParticipantStatusDisconnected)
}

func (t *fakeTracker) RecordLeft(_ context.Context, code, user string) error {
	return t.setStatus(code, user, models.ParticipantStatusLeft)
}

func (t *fakeTracker) ApplyMediaState(_ context.Context, code, user string, patch participants.MediaStatePatch) (models.MediaState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.rows[pkey(code, user)]
	if !ok {
		return models.MediaState{}, participants.ErrNotFound
	}
	if patch.AudioEnabled != nil {
		p.MediaState.AudioEnabled = *patch.AudioEnabled
	}
	if patch.VideoEnabled != nil {
		p.MediaState.VideoEnabled = *patch.VideoEnabled
	}
	if patch.ScreenSharing != nil {
		p.MediaState.ScreenSharing = *patch.ScreenSharing
	}
	return p.MediaState, nil
}

func (t *fakeTracker) SetScreenSharing(ctx context.Context, code, user string, on bool) error {
	_, err := t.ApplyMediaState(ctx, code, user, participants.MediaStatePatch{ScreenSharing: &on})
	return err
}

func (t *fakeTracker) ListActive(_ context.Context, code string) ([]models.Participant, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.Participant
	for _, p := range t.rows {
		if p.MeetingCode == code && p.Status.Active() {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (t *fakeTracker) CountActive(ctx context.Context, code string) (int, error) {
	list, _ := t.ListActive(ctx, code)
	return len(list), nil
}

func (t *fakeTracker) CountActiveExcluding(_ context.Context, code, user string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, p := range t.rows {
		if p.MeetingCode == code && p.UserID != user && p.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (t *fakeTracker) MarkAllLeft(_ context.Context, code string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.rows {
		if p.MeetingCode == code && p.Status.Active() {
			p.Status = models.ParticipantStatusLeft
		}
	}
	return nil
}

// recordingNotifier captures fired events in order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, _ uuid.UUID, event string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) has(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

// seqAllocator hands out codes from a fixed list.
type seqAllocator struct {
	mu    sync.Mutex
	codes []string
	next  int
}

func (a *seqAllocator) Allocate(_ context.Context, _ uuid.UUID) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next >= len(a.codes) {
		return "", errors.New("out of codes")
	}
	c := a.codes[a.next]
	a.next++
	return c, nil
}

type fixture struct {
	svc     *Service
	store   *memMeetings
	tracker *fakeTracker
	events  *recordingNotifier
	clock   *time.Time
	tenant  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemMeetings()
	tracker := newFakeTracker()
	events := &recordingNotifier{}
	alloc := &seqAllocator{codes: []string{"abc-1234-xyz", "def-5678-uvw", "ghi-9012-rst"}}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now

	issuer, err := turncred.NewIssuer(turncred.Config{
		SharedSecret: "test-secret",
		URLs:         []string{"turn:turn.example.com:3478"},
		Now:          func() time.Time { return *clock },
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	svc := NewService(store, alloc, tracker, issuer, events,
		ServiceConfig{DefaultDurationMinutes: 60, ExpiryBufferMinutes: 30}, nil)
	svc.SetNow(func() time.Time { return *clock })

	return &fixture{svc: svc, store: store, tracker: tracker, events: events, clock: clock, tenant: uuid.New()}
}

func TestCreate_Defaults(t *testing.T) {
	f := newFixture(t)
	m, err := f.svc.Create(context.Background(), f.tenant, "host-1", Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.Code != "abc-1234-xyz" {
		t.Fatalf("code = %q", m.Code)
	}
	if m.Status != models.MeetingStatusCreated {
		t.Fatalf("status = %q, want created", m.Status)
	}
	if m.ExpiresAt != nil {
		t.Fatal("unscheduled meeting must not carry an expiry")
	}
	if m.DurationMinutes != 60 {
		t.Fatalf("duration = %d, want default 60", m.DurationMinutes)
	}
	if m.Settings.MaxParticipants != 2 {
		t.Fatalf("max participants = %d, want 2", m.Settings.MaxParticipants)
	}
	if !f.events.has(models.EventMeetingCreated) {
		t.Fatal("meeting.created not fired")
	}
}

func TestCreate_ScheduledSetsExpiry(t *testing.T) {
	f := newFixture(t)
	sched := f.clock.Add(24 * time.Hour)
	m, err := f.svc.Create(context.Background(), f.tenant, "host-1", Options{ScheduledAt: &sched})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.Status != models.MeetingStatusScheduled {
		t.Fatalf("status = %q, want scheduled", m.Status)
	}
	want := sched.Add(90 * time.Minute) // 60m duration + 30m buffer
	if m.ExpiresAt == nil || !m.ExpiresAt.Equal(want) {
		t.Fatalf("expiresAt = %v, want %v", m.ExpiresAt, want)
	}
}

func TestCreate_RequiresCreator(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.tenant, "", Options{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestJoin_UnknownCodeDeniesWithoutError(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Join(context.Background(), f.tenant, "zzz-9999-zzz", "u1", "Alice", "")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if res.Allowed || res.Reason != ReasonNotFound {
		t.Fatalf("result = %+v, want denial with %q", res, ReasonNotFound)
	}
}

func TestJoin_ActivatesAndIssuesCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.svc.Create(ctx, f.tenant, "host-1", Options{})

	res, err := f.svc.Join(ctx, f.tenant, m.Code, "u1", "Alice", models.RoleHost)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("denied: %q", res.Reason)
	}
	if res.Meeting.Status != models.MeetingStatusActive {
		t.Fatalf("status = %q, want active after first join", res.Meeting.Status)
	}
	if res.Credential == nil || res.Credential.Username == "" {
		t.Fatal("no relay credential issued")
	}
	if !f.events.has(models.EventMeetingStarted) {
		t.Fatal("meeting.started not fired")
	}

	// second join must not re-fire meeting.started
	f.events.events = nil
	if _, err := f.svc.Join(ctx, f.tenant, m.Code, "u2", "Bob", ""); err != nil {
		t.Fatalf("second Join: %v", err)
	}
	if f.events.has(models.EventMeetingStarted) {
		t.Fatal("meeting.started fired twice")
	}
}

func TestJoin_CapacityCountsRejoinOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.svc.Create(ctx, f.tenant, "host-1", Options{
		Settings: &models.MeetingSettings{AllowAnonymous: true, MaxParticipants: 2},
	})

	for _, u := range []string{"u1", "u2"} {
		res, err := f.svc.Join(ctx, f.tenant, m.Code, u, u, "")
		if err != nil || !res.Allowed {
			t.Fatalf("Join %s: err=%v allowed=%v", u, err, res.Allowed)
		}
	}

	// a third user is over capacity
	res, err := f.svc.Join(ctx, f.tenant, m.Code, "u3", "u3", "")
	if err != nil {
		t.Fatalf("Join u3: %v", err)
	}
	if res.Allowed || res.Reason != ReasonFull {
		t.Fatalf("result = %+v, want denial with %q", res, ReasonFull)
	}

	// a rejoin by an existing member never trips the limit
	res, err = f.svc.Join(ctx, f.tenant, m.Code, "u1", "u1 again", "")
	if err != nil {
		t.Fatalf("rejoin u1: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("rejoin denied: %q", res.Reason)
	}
}

func TestJoin_UnlimitedCapacityConventions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, limit := range []int{0, 100, 500} {
		m, err := f.svc.Create(ctx, f.tenant, "host-1", Options{
			Settings: &models.MeetingSettings{MaxParticipants: limit},
		})
		if err != nil {
			t.Fatalf("Create limit=%d: %v", limit, err)
		}
		for i := 0; i < 5; i++ {
			res, err := f.svc.Join(ctx, f.tenant, m.Code, string(rune('a'+i)), "u", "")
			if err != nil || !res.Allowed {
				t.Fatalf("limit=%d join %d: err=%v res=%+v", limit, i, err, res)
			}
		}
	}
}

func TestJoin_ForeignTenantLooksLikeNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.svc.Create(ctx, f.tenant, "host-1", Options{})

	res, err := f.svc.Join(ctx, uuid.New(), m.Code, "u1", "Alice", "")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if res.Allowed || res.Reason != ReasonNotFound {
		t.Fatalf("foreign tenant got %+v, want %q denial", res, ReasonNotFound)
	}
}

func TestLeave_LastParticipantCompletesMeeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.svc.Create(ctx, f.tenant, "host-1", Options{})

	for _, u := range []string{"u1", "u2"} {
		if _, err := f.svc.Join(ctx, f.tenant, m.Code, u, u, ""); err != nil {
			t.Fatalf("Join %s: %v", u, err)
		}
	}
	if err := f.svc.Leave(ctx, f.tenant, m.Code, "u1"); err != nil {
		t.Fatalf("Leave u1: %v", err)
	}
	got, _ := f.store.GetByCode(ctx, m.Code)
	if got.Status != models.MeetingStatusActive {
		t.Fatalf("status after first leave = %q, want active", got.Status)
	}

	if err := f.svc.Leave(ctx, f.tenant, m.Code, "u2"); err != nil {
		t.Fatalf("Leave u2: %v", err)
	}
	got, _ = f.store.GetByCode(ctx, m.Code)
	if got.Status != models.MeetingStatusCompleted {
		t.Fatalf("status after last leave = %q, want completed", got.Status)
	}
	if got.EndedAt == nil {
		t.Fatal("endedAt not stamped")
	}
	if !f.events.has(models.EventMeetingEnded) {
		t.Fatal("meeting.ended not fired")
	}
}

func TestLazyExpiry_OnAdmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sched := f.clock.Add(time.Hour)
	m, _ := f.svc.Create(ctx, f.tenant, "host-1", Options{ScheduledAt: &sched})

	// move past scheduledAt + 60m duration + 30m buffer
	*f.clock = f.clock.Add(time.Hour + 91*time.Minute)

	res, err := f.svc.Join(ctx, f.tenant, m.Code, "u1", "Alice", "")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if res.Allowed || res.Reason != ReasonExpired {
		t.Fatalf("result = %+v, want denial with %q", res, ReasonExpired)
	}
	got, _ := f.store.GetByCode(ctx, m.Code)
	if got.Status != models.MeetingStatusExpired {
		t.Fatalf("status = %q, want expired (lazy transition)", got.Status)
	}
	if !f.events.has(models.EventMeetingExpired) {
		t.Fatal("meeting.expired not fired")
	}
}

func TestExpiry_NeverFiresOnActiveMeeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sched := *f.clock
	m, _ := f.svc.Create(ctx, f.tenant, "host-1", Options{ScheduledAt: &sched})
	if _, err := f.svc.Join(ctx, f.tenant, m.Code, "u1", "Alice", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}

	*f.clock = f.clock.Add(10 * time.Hour)
	res, err := f.svc.Validate(ctx, m.Code)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Valid {
		t.Fatalf("active meeting invalidated: %q", res.Reason)
	}
}

func TestValidate_MalformedWithoutStorage(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Validate(context.Background(), "not a code")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Valid || res.Reason != ReasonInvalidFormat {
		t.Fatalf("result = %+v, want %q", res, ReasonInvalidFormat)
	}
}

func TestEnd_RequiresActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.svc.Create(ctx, f.tenant, "host-1", Options{})

	if err := f.svc.End(ctx, f.tenant, m.Code, "host-1"); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("End on created meeting: err = %v, want ErrWrongStatus", err)
	}

	if _, err := f.svc.Join(ctx, f.tenant, m.Code, "u1", "Alice", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := f.svc.End(ctx, f.tenant, m.Code, "host-1"); err != nil {
		t.Fatalf("End: %v", err)
	}
	got, _ := f.store.GetByCode(ctx, m.Code)
	if got.Status != models.MeetingStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if n, _ := f.tracker.CountActive(ctx, m.Code); n != 0 {
		t.Fatalf("active participants after End = %d, want 0", n)
	}
}

func TestCancel_OnlyBeforeActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.svc.Create(ctx, f.tenant, "host-1", Options{})
	if err := f.svc.Cancel(ctx, f.tenant, m.Code, "host-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !f.events.has(models.EventMeetingCancelled) {
		t.Fatal("meeting.cancelled not fired")
	}

	m2, _ := f.svc.Create(ctx, f.tenant, "host-1", Options{})
	if _, err := f.svc.Join(ctx, f.tenant, m2.Code, "u1", "Alice", ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := f.svc.Cancel(ctx, f.tenant, m2.Code, "host-1"); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("Cancel on active meeting: err = %v, want ErrWrongStatus", err)
	}
}

func TestTerminalDenialReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// completed
	m1, _ := f.svc.Create(ctx, f.tenant, "host-1", Options{})
	_, _ = f.svc.Join(ctx, f.tenant, m1.Code, "u1", "u1", "")
	_ = f.svc.End(ctx, f.tenant, m1.Code, "host-1")

	// cancelled
	m2, _ := f.svc.Create(ctx, f.tenant, "host-1", Options{})
	_ = f.svc.Cancel(ctx, f.tenant, m2.Code, "host-1")

	cases := []struct {
		code   string
		reason string
	}{
		{m1.Code, ReasonCompleted},
		{m2.Code, ReasonCancelled},
	}
	for _, tc := range cases {
		res, err := f.svc.Join(ctx, f.tenant, tc.code, "u9", "u9", "")
		if err != nil {
			t.Fatalf("Join %s: %v", tc.code, err)
		}
		if res.Allowed || res.Reason != tc.reason {
			t.Fatalf("Join %s = %+v, want denial %q", tc.code, res, tc.reason)
		}
	}
}

func TestConnected_FiresUserJoinedAndActivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.svc.Create(ctx, f.tenant, "host-1", Options{})

	if err := f.svc.Connected(ctx, m.Code, f.tenant, "u1", "Alice", models.RoleHost); err != nil {
		t.Fatalf("Connected: %v", err)
	}
	if !f.events.has(models.EventUserJoined) {
		t.Fatal("user.joined not fired on connect")
	}
	got, _ := f.store.GetByCode(ctx, m.Code)
	if got.Status != models.MeetingStatusActive {
		t.Fatalf("status = %q, want active", got.Status)
	}
}

func TestDisconnected_LastConnectionCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.svc.Create(ctx, f.tenant, "host-1", Options{})
	if err := f.svc.Connected(ctx, m.Code, f.tenant, "u1", "Alice", ""); err != nil {
		t.Fatalf("Connected: %v", err)
	}

	if err := f.svc.Disconnected(ctx, m.Code, f.tenant, "u1"); err != nil {
		t.Fatalf("Disconnected: %v", err)
	}
	if !f.events.has(models.EventUserLeft) {
		t.Fatal("user.left not fired on disconnect")
	}
	got, _ := f.store.GetByCode(ctx, m.Code)
	if got.Status != models.MeetingStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
}

func TestDisconnected_UnknownMeetingTolerated(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Disconnected(context.Background(), "zzz-0000-zzz", f.tenant, "ghost"); err != nil {
		t.Fatalf("Disconnected on unknown meeting: %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sched := f.clock.Add(time.Hour)
	if _, err := f.svc.Create(ctx, f.tenant, "host-1", Options{ScheduledAt: &sched}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.Create(ctx, f.tenant, "host-1", Options{}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	*f.clock = f.clock.Add(13 * time.Hour)
	n, err := f.svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d meetings, want 1 (unscheduled never expires)", n)
	}
	if !f.events.has(models.EventMeetingExpired) {
		t.Fatal("meeting.expired not fired by sweep")
	}
}

func TestGetOwned_TenantScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.svc.Create(ctx, f.tenant, "host-1", Options{})

	if _, err := f.svc.Get(ctx, uuid.New(), m.Code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign tenant Get: err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.Get(ctx, f.tenant, m.Code); err != nil {
		t.Fatalf("owner Get: %v", err)
	}
}
