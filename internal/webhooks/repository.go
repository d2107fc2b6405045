package webhooks

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsemeet/backend/internal/models"
)

// Repository handles webhook subscription persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a webhook subscription repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert replaces the tenant's subscription.
func (r *Repository) Upsert(ctx context.Context, sub *models.WebhookSubscription) error {
	const q = `INSERT INTO webhook_subscriptions (tenant_id, endpoint_url, signing_secret, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET endpoint_url = EXCLUDED.endpoint_url,
			signing_secret = EXCLUDED.signing_secret, updated_at = NOW()
		RETURNING updated_at`
	return r.pool.QueryRow(ctx, q, sub.TenantID, sub.EndpointURL, sub.SigningSecret).Scan(&sub.UpdatedAt)
}

// GetByTenant returns the tenant's subscription, or nil when none exists.
func (r *Repository) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*models.WebhookSubscription, error) {
	const q = `SELECT tenant_id, endpoint_url, signing_secret, updated_at
		FROM webhook_subscriptions WHERE tenant_id = $1`
	var sub models.WebhookSubscription
	err := r.pool.QueryRow(ctx, q, tenantID).Scan(&sub.TenantID, &sub.EndpointURL, &sub.SigningSecret, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}
