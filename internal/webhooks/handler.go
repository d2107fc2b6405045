package webhooks

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsemeet/backend/internal/middleware"
	"github.com/pulsemeet/backend/internal/models"
	"github.com/pulsemeet/backend/pkg/response"
)

// SubscribeRequest is the body for PUT /webhooks/subscription.
type SubscribeRequest struct {
	EndpointURL   string `json:"endpoint_url" binding:"required,url"`
	SigningSecret string `json:"signing_secret"`
}

// Handler handles webhook subscription endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Subscribe handles PUT /webhooks/subscription. The subscription is replaced
// wholesale; one endpoint per tenant.
func (h *Handler) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	tenantID := c.MustGet(middleware.ContextTenantID).(uuid.UUID)

	sub := &models.WebhookSubscription{
		TenantID:      tenantID,
		EndpointURL:   req.EndpointURL,
		SigningSecret: req.SigningSecret,
	}
	if err := h.repo.Upsert(c.Request.Context(), sub); err != nil {
		h.logger.Error("upsert webhook subscription failed",
			zap.String("tenant_id", tenantID.String()), zap.Error(err))
		response.Internal(c, "failed to save subscription")
		return
	}
	response.OK(c, sub)
}
