package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated caller application. Tenants authenticate to the REST
// API with an API key of the form "<tenant id>.<secret>"; only the bcrypt
// hash of the secret is stored.
type Tenant struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}
