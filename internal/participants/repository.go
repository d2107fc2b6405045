package participants

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsemeet/backend/internal/models"
)

// Repository is the PostgreSQL-backed participant store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a participant repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const participantColumns = `meeting_code, user_id, tenant_id, display_name, role, status,
	joined_at, connected_at, left_at, duration_seconds, audio_enabled, video_enabled, screen_sharing`

// Upsert inserts the participant or, when the (meeting, user) pair already
// exists, resets its status to joined and refreshes the display name. The
// original joined_at is preserved on rejoin.
func (r *Repository) Upsert(ctx context.Context, p *models.Participant) error {
	const q = `INSERT INTO participants
		(meeting_code, user_id, tenant_id, display_name, role, status, joined_at, audio_enabled, video_enabled, screen_sharing)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (meeting_code, user_id) DO UPDATE SET
			status = 'joined',
			display_name = EXCLUDED.display_name
		RETURNING joined_at, status`
	return r.pool.QueryRow(ctx, q,
		p.MeetingCode, p.UserID, p.TenantID, p.DisplayName, p.Role, p.Status,
		p.JoinedAt, p.MediaState.AudioEnabled, p.MediaState.VideoEnabled, p.MediaState.ScreenSharing,
	).Scan(&p.JoinedAt, &p.Status)
}

// Get returns the participant for the pair, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, meetingCode, userID string) (*models.Participant, error) {
	const q = `SELECT ` + participantColumns + ` FROM participants WHERE meeting_code = $1 AND user_id = $2`
	var p models.Participant
	err := r.pool.QueryRow(ctx, q, meetingCode, userID).Scan(
		&p.MeetingCode, &p.UserID, &p.TenantID, &p.DisplayName, &p.Role, &p.Status,
		&p.JoinedAt, &p.ConnectedAt, &p.LeftAt, &p.DurationSeconds,
		&p.MediaState.AudioEnabled, &p.MediaState.VideoEnabled, &p.MediaState.ScreenSharing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// SetConnected stamps connected_at and moves the status to connected.
func (r *Repository) SetConnected(ctx context.Context, meetingCode, userID string, at time.Time) error {
	const q = `UPDATE participants SET status = 'connected', connected_at = $3
		WHERE meeting_code = $1 AND user_id = $2`
	return r.exec(ctx, q, meetingCode, userID, at)
}

// SetDisconnected moves the status to disconnected.
func (r *Repository) SetDisconnected(ctx context.Context, meetingCode, userID string) error {
	const q = `UPDATE participants SET status = 'disconnected'
		WHERE meeting_code = $1 AND user_id = $2`
	return r.exec(ctx, q, meetingCode, userID)
}

// SetLeft stamps left_at and recomputes duration_seconds from joined_at.
func (r *Repository) SetLeft(ctx context.Context, meetingCode, userID string, at time.Time) error {
	const q = `UPDATE participants SET status = 'left', left_at = $3,
		duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3::timestamptz - joined_at))::BIGINT)
		WHERE meeting_code = $1 AND user_id = $2`
	return r.exec(ctx, q, meetingCode, userID, at)
}

// SetMediaState persists the media toggles.
func (r *Repository) SetMediaState(ctx context.Context, meetingCode, userID string, ms models.MediaState) error {
	const q = `UPDATE participants SET audio_enabled = $3, video_enabled = $4, screen_sharing = $5
		WHERE meeting_code = $1 AND user_id = $2`
	return r.exec(ctx, q, meetingCode, userID, ms.AudioEnabled, ms.VideoEnabled, ms.ScreenSharing)
}

// ListActive returns participants with status joined or connected.
func (r *Repository) ListActive(ctx context.Context, meetingCode string) ([]models.Participant, error) {
	const q = `SELECT ` + participantColumns + ` FROM participants
		WHERE meeting_code = $1 AND status IN ('joined', 'connected') ORDER BY joined_at`
	rows, err := r.pool.Query(ctx, q, meetingCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(
			&p.MeetingCode, &p.UserID, &p.TenantID, &p.DisplayName, &p.Role, &p.Status,
			&p.JoinedAt, &p.ConnectedAt, &p.LeftAt, &p.DurationSeconds,
			&p.MediaState.AudioEnabled, &p.MediaState.VideoEnabled, &p.MediaState.ScreenSharing); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// CountActive counts participants with status joined or connected.
func (r *Repository) CountActive(ctx context.Context, meetingCode string) (int, error) {
	const q = `SELECT COUNT(*) FROM participants
		WHERE meeting_code = $1 AND status IN ('joined', 'connected')`
	var n int
	err := r.pool.QueryRow(ctx, q, meetingCode).Scan(&n)
	return n, err
}

// CountActiveExcluding counts active participants other than userID.
func (r *Repository) CountActiveExcluding(ctx context.Context, meetingCode, userID string) (int, error) {
	const q = `SELECT COUNT(*) FROM participants
		WHERE meeting_code = $1 AND user_id <> $2 AND status IN ('joined', 'connected')`
	var n int
	err := r.pool.QueryRow(ctx, q, meetingCode, userID).Scan(&n)
	return n, err
}

// MarkAllLeft bulk-transitions all active participants to left.
func (r *Repository) MarkAllLeft(ctx context.Context, meetingCode string, at time.Time) error {
	const q = `UPDATE participants SET status = 'left', left_at = $2,
		duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($2::timestamptz - joined_at))::BIGINT)
		WHERE meeting_code = $1 AND status IN ('joined', 'connected')`
	_, err := r.pool.Exec(ctx, q, meetingCode, at)
	return err
}

func (r *Repository) exec(ctx context.Context, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
