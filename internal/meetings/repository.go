package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsemeet/backend/internal/models"
)

// Repository is the PostgreSQL-backed meeting store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a meeting repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const meetingColumns = `code, tenant_id, creator, title, status, scheduled_at, started_at, ended_at,
	duration_minutes, expires_at, allow_anonymous, waiting_room, recording_enabled, max_participants,
	metadata, created_at, updated_at`

// Insert persists a new meeting. The code must already be reserved in the
// ledger; the foreign key enforces it.
func (r *Repository) Insert(ctx context.Context, m *models.Meeting) error {
	meta := []byte("{}")
	if m.Metadata != nil {
		var err error
		if meta, err = json.Marshal(m.Metadata); err != nil {
			return err
		}
	}
	const q = `INSERT INTO meetings
		(code, tenant_id, creator, title, status, scheduled_at, duration_minutes, expires_at,
		 allow_anonymous, waiting_room, recording_enabled, max_participants, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, q,
		m.Code, m.TenantID, m.Creator, m.Title, m.Status, m.ScheduledAt, m.DurationMinutes, m.ExpiresAt,
		m.Settings.AllowAnonymous, m.Settings.WaitingRoom, m.Settings.RecordingEnabled,
		m.Settings.MaxParticipants, meta,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

// GetByCode returns the meeting for the code, or ErrNotFound.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.Meeting, error) {
	const q = `SELECT ` + meetingColumns + ` FROM meetings WHERE code = $1`
	row := r.pool.QueryRow(ctx, q, code)
	m, err := scanMeeting(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// SetActive transitions a created or scheduled meeting to active. Reports
// false when another caller already moved it.
func (r *Repository) SetActive(ctx context.Context, code string, startedAt time.Time) (bool, error) {
	const q = `UPDATE meetings SET status = 'active', started_at = $2, updated_at = NOW()
		WHERE code = $1 AND status IN ('created', 'scheduled')`
	tag, err := r.pool.Exec(ctx, q, code, startedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetTerminal applies a terminal transition. The allowed source statuses
// come from the transition table, so an illegal move affects zero rows.
func (r *Repository) SetTerminal(ctx context.Context, code string, status models.MeetingStatus, endedAt time.Time) (bool, error) {
	const q = `UPDATE meetings SET status = $2, ended_at = $3, updated_at = NOW()
		WHERE code = $1 AND status = ANY($4)`
	tag, err := r.pool.Exec(ctx, q, code, status, endedAt, transitionSources(status))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ExpireOverdue bulk-expires created/scheduled meetings whose expiry has
// passed, returning the affected meetings.
func (r *Repository) ExpireOverdue(ctx context.Context, now time.Time) ([]models.Meeting, error) {
	const q = `UPDATE meetings SET status = 'expired', ended_at = $1, updated_at = NOW()
		WHERE status IN ('created', 'scheduled') AND expires_at IS NOT NULL AND expires_at < $1
		RETURNING ` + meetingColumns
	rows, err := r.pool.Query(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

// transitionSources returns the statuses a meeting may hold immediately
// before moving to the given terminal status.
func transitionSources(to models.MeetingStatus) []string {
	switch to {
	case models.MeetingStatusCompleted:
		return []string{"active"}
	case models.MeetingStatusCancelled, models.MeetingStatusExpired:
		return []string{"created", "scheduled"}
	default:
		return nil
	}
}

func scanMeeting(row pgx.Row) (*models.Meeting, error) {
	var m models.Meeting
	var meta []byte
	err := row.Scan(
		&m.Code, &m.TenantID, &m.Creator, &m.Title, &m.Status, &m.ScheduledAt, &m.StartedAt, &m.EndedAt,
		&m.DurationMinutes, &m.ExpiresAt, &m.Settings.AllowAnonymous, &m.Settings.WaitingRoom,
		&m.Settings.RecordingEnabled, &m.Settings.MaxParticipants, &meta, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, err
		}
	}
	return &m, nil
}
