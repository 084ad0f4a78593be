package settlements

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tripnest/backend/internal/middleware"
	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/pkg/apperror"
	"github.com/tripnest/backend/pkg/response"
)

// MarkPayoutRequest is the body for POST /settlements/:batchId/payout.
type MarkPayoutRequest struct {
	Status    string `json:"status" binding:"required"`
	Reference string `json:"reference"`
}

type Handler struct {
	svc    *Service
	logger *zap.Logger
}

func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if !apperror.IsValidation(err) && !apperror.IsConflict(err) && !apperror.IsNotFound(err) && !apperror.IsForbidden(err) {
		h.logger.Error(op+" failed", zap.Error(err), zap.String("request_id", c.GetString(middleware.ContextRequestID)))
	}
	response.Error(c, err)
}

func listOrEmpty(list []models.ProcessedBatch) []models.ProcessedBatch {
	if list == nil {
		return []models.ProcessedBatch{}
	}
	return list
}

// List handles GET /settlements (admin). ?ownerId narrows to one owner.
func (h *Handler) List(c *gin.Context) {
	var owner *uuid.UUID
	if raw := c.Query("ownerId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid ownerId")
			return
		}
		owner = &id
	}
	list, err := h.svc.ProcessedBatches(c.Request.Context(), owner)
	if err != nil {
		h.fail(c, "list settlements", err)
		return
	}
	response.OK(c, listOrEmpty(list))
}

// ListMine handles GET /owner/settlements.
func (h *Handler) ListMine(c *gin.Context) {
	actor, ok := middleware.Actor(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	list, err := h.svc.ProcessedBatches(c.Request.Context(), &actor.UserID)
	if err != nil {
		h.fail(c, "list owner settlements", err)
		return
	}
	response.OK(c, listOrEmpty(list))
}

// MarkPayout handles POST /settlements/:batchId/payout (admin).
func (h *Handler) MarkPayout(c *gin.Context) {
	actor, ok := middleware.Actor(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	batchID, err := uuid.Parse(c.Param("batchId"))
	if err != nil {
		response.BadRequest(c, "invalid batch id")
		return
	}
	var req MarkPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	pb, err := h.svc.MarkPayout(c.Request.Context(), actor, batchID, models.PayoutStatus(req.Status), req.Reference)
	if err != nil {
		h.fail(c, "mark payout", err)
		return
	}
	response.OK(c, pb)
}

// Statement handles GET /settlements/:batchId/statement.
func (h *Handler) Statement(c *gin.Context) {
	actor, ok := middleware.Actor(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	batchID, err := uuid.Parse(c.Param("batchId"))
	if err != nil {
		response.BadRequest(c, "invalid batch id")
		return
	}
	url, err := h.svc.StatementURL(c.Request.Context(), actor, batchID)
	if err != nil {
		h.fail(c, "statement url", err)
		return
	}
	response.OK(c, gin.H{"url": url})
}
