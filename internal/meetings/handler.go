package meetings

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsemeet/backend/internal/middleware"
	"github.com/pulsemeet/backend/internal/models"
	"github.com/pulsemeet/backend/internal/turncred"
	"github.com/pulsemeet/backend/pkg/response"
)

// CreateRequest is the body for POST /meetings.
type CreateRequest struct {
	Creator         string                  `json:"creator" binding:"required"`
	Title           string                  `json:"title"`
	ScheduledAt     *string                 `json:"scheduled_at"` // RFC3339
	DurationMinutes int                     `json:"duration_minutes"`
	Settings        *models.MeetingSettings `json:"settings"`
	Metadata        map[string]string       `json:"metadata"`
}

// JoinRequest is the body for POST /meetings/:code/join.
type JoinRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// LeaveRequest is the body for POST /meetings/:code/leave.
type LeaveRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// ActorRequest is the body for end/cancel calls.
type ActorRequest struct {
	Actor string `json:"actor"`
}

// Handler exposes the meeting operations over HTTP.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a meeting handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func tenantFrom(c *gin.Context) uuid.UUID {
	return c.MustGet(middleware.ContextTenantID).(uuid.UUID)
}

// Create handles POST /meetings.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	opts := Options{
		Title:           req.Title,
		DurationMinutes: req.DurationMinutes,
		Settings:        req.Settings,
		Metadata:        req.Metadata,
	}
	if req.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			response.BadRequest(c, "invalid scheduled_at")
			return
		}
		opts.ScheduledAt = &t
	}

	m, err := h.svc.Create(c.Request.Context(), tenantFrom(c), req.Creator, opts)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			response.BadRequest(c, err.Error())
			return
		}
		h.logger.Error("create meeting failed", zap.Error(err))
		response.Internal(c, "failed to create meeting")
		return
	}
	response.Created(c, m)
}

// Get handles GET /meetings/:code.
func (h *Handler) Get(c *gin.Context) {
	m, err := h.svc.Get(c.Request.Context(), tenantFrom(c), c.Param("code"))
	if err != nil {
		h.respondErr(c, err, "failed to load meeting")
		return
	}
	response.OK(c, m)
}

// Validate handles GET /meetings/:code/validate. Malformed codes are
// answered without storage access.
func (h *Handler) Validate(c *gin.Context) {
	res, err := h.svc.Validate(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.logger.Error("validate meeting failed", zap.Error(err))
		response.Internal(c, "failed to validate meeting")
		return
	}
	response.OK(c, res)
}

// Join handles POST /meetings/:code/join. Denials come back as a 200 with
// allowed=false and a stable reason; client UIs branch on it.
func (h *Handler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Join(c.Request.Context(), tenantFrom(c), c.Param("code"), req.UserID, req.DisplayName, req.Role)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			response.BadRequest(c, err.Error())
			return
		}
		h.logger.Error("join failed", zap.String("code", c.Param("code")), zap.Error(err))
		response.Internal(c, "failed to join meeting")
		return
	}
	if res.Allowed && res.Credential != nil {
		// Clients bootstrap WebRTC straight from this.
		response.OK(c, gin.H{
			"allowed":     true,
			"meeting":     res.Meeting,
			"participant": res.Participant,
			"credential":  res.Credential,
			"ice_servers": turncred.ICEServers(*res.Credential),
		})
		return
	}
	response.OK(c, res)
}

// Leave handles POST /meetings/:code/leave.
func (h *Handler) Leave(c *gin.Context) {
	var req LeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.svc.Leave(c.Request.Context(), tenantFrom(c), c.Param("code"), req.UserID); err != nil {
		h.respondErr(c, err, "failed to leave meeting")
		return
	}
	response.OK(c, gin.H{"left": true})
}

// Status handles GET /meetings/:code/status.
func (h *Handler) Status(c *gin.Context) {
	res, err := h.svc.GetStatus(c.Request.Context(), tenantFrom(c), c.Param("code"))
	if err != nil {
		h.respondErr(c, err, "failed to load meeting status")
		return
	}
	response.OK(c, res)
}

// End handles POST /meetings/:code/end.
func (h *Handler) End(c *gin.Context) {
	var req ActorRequest
	_ = c.ShouldBindJSON(&req)
	if err := h.svc.End(c.Request.Context(), tenantFrom(c), c.Param("code"), req.Actor); err != nil {
		h.respondErr(c, err, "failed to end meeting")
		return
	}
	response.OK(c, gin.H{"status": models.MeetingStatusCompleted})
}

// Cancel handles POST /meetings/:code/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	var req ActorRequest
	_ = c.ShouldBindJSON(&req)
	if err := h.svc.Cancel(c.Request.Context(), tenantFrom(c), c.Param("code"), req.Actor); err != nil {
		h.respondErr(c, err, "failed to cancel meeting")
		return
	}
	response.OK(c, gin.H{"status": models.MeetingStatusCancelled})
}

// Cleanup handles POST /meetings/:code/cleanup.
func (h *Handler) Cleanup(c *gin.Context) {
	if err := h.svc.Cleanup(c.Request.Context(), tenantFrom(c), c.Param("code")); err != nil {
		h.respondErr(c, err, "failed to clean up meeting")
		return
	}
	response.OK(c, gin.H{"cleaned": true})
}

func (h *Handler) respondErr(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, ReasonNotFound)
	case errors.Is(err, ErrWrongStatus):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrValidation):
		response.BadRequest(c, err.Error())
	default:
		h.logger.Error(fallback, zap.Error(err))
		response.Internal(c, fallback)
	}
}
