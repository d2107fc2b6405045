package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsemeet/backend/internal/models"
	"github.com/pulsemeet/backend/pkg/utils"
)

// ErrInvalidKey is returned when an API key does not match any tenant.
var ErrInvalidKey = errors.New("invalid API key")

// Repository is the PostgreSQL-backed tenant store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a tenant repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create persists a new tenant with the bcrypt hash of its API-key secret.
func (r *Repository) Create(ctx context.Context, t *models.Tenant) error {
	const q = `INSERT INTO tenants (id, name, api_key_hash) VALUES ($1, $2, $3)
		RETURNING created_at`
	return r.pool.QueryRow(ctx, q, t.ID, t.Name, t.APIKeyHash).Scan(&t.CreatedAt)
}

// GetByID returns the tenant, or ErrInvalidKey when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	const q = `SELECT id, name, api_key_hash, created_at FROM tenants WHERE id = $1`
	var t models.Tenant
	err := r.pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// VerifyAPIKey checks the secret against the tenant's stored hash.
func (r *Repository) VerifyAPIKey(ctx context.Context, tenantID uuid.UUID, secret string) (string, error) {
	t, err := r.GetByID(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if !utils.CheckAPIKey(secret, t.APIKeyHash) {
		return "", ErrInvalidKey
	}
	return t.Name, nil
}
