package auth

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsemeet/backend/internal/meetings"
	"github.com/pulsemeet/backend/internal/middleware"
	"github.com/pulsemeet/backend/internal/models"
	"github.com/pulsemeet/backend/pkg/response"
	"github.com/pulsemeet/backend/pkg/utils"
)

// ProvisionRequest is the body for POST /tenants.
type ProvisionRequest struct {
	Name string `json:"name" binding:"required"`
}

// SessionTokenRequest is the body for POST /meetings/:code/session-token.
type SessionTokenRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Handler handles tenant provisioning and session-token minting.
type Handler struct {
	repo     *Repository
	tokens   *TokenIssuer
	meetings *meetings.Service
	logger   *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo *Repository, tokens *TokenIssuer, svc *meetings.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, tokens: tokens, meetings: svc, logger: logger}
}

// Provision handles POST /tenants. The full API key is returned exactly once;
// only its hash is stored.
func (h *Handler) Provision(c *gin.Context) {
	var req ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	secret, err := randomSecret()
	if err != nil {
		h.logger.Error("generate API key secret failed", zap.Error(err))
		response.Internal(c, "failed to provision tenant")
		return
	}
	hash, err := utils.HashAPIKey(secret)
	if err != nil {
		h.logger.Error("hash API key failed", zap.Error(err))
		response.Internal(c, "failed to provision tenant")
		return
	}

	t := &models.Tenant{ID: uuid.New(), Name: req.Name, APIKeyHash: hash}
	if err := h.repo.Create(c.Request.Context(), t); err != nil {
		h.logger.Error("create tenant failed", zap.Error(err))
		response.Internal(c, "failed to provision tenant")
		return
	}

	h.logger.Info("tenant provisioned", zap.String("tenant_id", t.ID.String()), zap.String("name", t.Name))
	response.Created(c, gin.H{
		"tenant":  t,
		"api_key": t.ID.String() + "." + secret,
	})
}

// SessionToken handles POST /meetings/:code/session-token. The meeting must
// belong to the calling tenant and still admit the user.
func (h *Handler) SessionToken(c *gin.Context) {
	var req SessionTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	tenantID := c.MustGet(middleware.ContextTenantID).(uuid.UUID)
	code := c.Param("code")

	if _, err := h.meetings.Get(c.Request.Context(), tenantID, code); err != nil {
		response.NotFound(c, "not found")
		return
	}
	d, err := h.meetings.CanAdmit(c.Request.Context(), code, req.UserID)
	if err != nil {
		h.logger.Error("admission check failed", zap.String("code", code), zap.Error(err))
		response.Internal(c, "failed to mint session token")
		return
	}
	if !d.Allowed {
		response.Conflict(c, d.Reason)
		return
	}

	token, err := h.tokens.Generate(tenantID, code, req.UserID, req.DisplayName, req.Role)
	if err != nil {
		h.logger.Error("mint session token failed", zap.String("code", code), zap.Error(err))
		response.Internal(c, "failed to mint session token")
		return
	}
	response.OK(c, gin.H{"token": token})
}

func randomSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
