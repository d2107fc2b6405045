package meetcode

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// PGLedger is the PostgreSQL-backed reservation ledger. Rows are append-only;
// nothing ever deletes from meeting_codes.
type PGLedger struct {
	pool *pgxpool.Pool
}

// NewPGLedger creates a ledger over the given pool.
func NewPGLedger(pool *pgxpool.Pool) *PGLedger {
	return &PGLedger{pool: pool}
}

// Reserve inserts the code, relying on the primary key constraint to settle
// races between concurrent allocators.
func (l *PGLedger) Reserve(ctx context.Context, code string, tenantID uuid.UUID) error {
	const q = `INSERT INTO meeting_codes (code, tenant_id, generated_at) VALUES ($1, $2, NOW())`
	_, err := l.pool.Exec(ctx, q, code, tenantID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrCodeTaken
		}
		return err
	}
	return nil
}
