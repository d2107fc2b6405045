package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pulsemeet/backend/pkg/response"
)

// Context keys set by the auth middleware.
const (
	ContextTenantID   = "tenant_id"
	ContextTenantName = "tenant_name"
)

// TenantVerifier checks an API key secret against the tenant's stored hash.
// Satisfied by *auth.Repository.
type TenantVerifier interface {
	VerifyAPIKey(ctx context.Context, tenantID uuid.UUID, secret string) (name string, err error)
}

// APIKey returns a middleware that authenticates tenant API calls. Keys are
// presented as "X-Api-Key: <tenantID>.<secret>". On success the tenant id is
// placed in the request context under ContextTenantID.
func APIKey(verifier TenantVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Api-Key")
		if key == "" {
			response.Unauthorized(c, "missing API key")
			c.Abort()
			return
		}
		idPart, secret, ok := strings.Cut(key, ".")
		if !ok || secret == "" {
			response.Unauthorized(c, "malformed API key")
			c.Abort()
			return
		}
		tenantID, err := uuid.Parse(idPart)
		if err != nil {
			response.Unauthorized(c, "malformed API key")
			c.Abort()
			return
		}
		name, err := verifier.VerifyAPIKey(c.Request.Context(), tenantID, secret)
		if err != nil {
			response.Unauthorized(c, "invalid API key")
			c.Abort()
			return
		}
		c.Set(ContextTenantID, tenantID)
		c.Set(ContextTenantName, name)
		c.Next()
	}
}
