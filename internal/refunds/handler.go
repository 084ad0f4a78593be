package refunds

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tripnest/backend/internal/middleware"
	"github.com/tripnest/backend/pkg/apperror"
	"github.com/tripnest/backend/pkg/response"
)

// ActionRequestBody is the body for POST /bookings/:id/refund.
type ActionRequestBody struct {
	Reason         string   `json:"reason"`
	ApprovedAmount *float64 `json:"approvedAmount"`
	Remarks        string   `json:"remarks"`
	UTR            string   `json:"utr"`
}

// Handler exposes the refund workflow over HTTP.
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

// Act handles POST /bookings/:id/refund?action=...
func (h *Handler) Act(c *gin.Context) {
	actor, ok := middleware.Actor(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid booking id")
		return
	}
	action := Action(c.Query("action"))
	if !action.Valid() {
		response.BadRequest(c, "action must be one of request, approve, reject, process, reject_admin")
		return
	}
	var body ActionRequestBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}

	ctx := c.Request.Context()
	var data interface{}
	switch action {
	case ActionRequest:
		data, err = h.svc.Request(ctx, actor, id, body.Reason)
	case ActionApprove:
		if body.ApprovedAmount == nil {
			err = apperror.ValidationError{Field: "approvedAmount", Msg: "required"}
			break
		}
		data, err = h.svc.Approve(ctx, actor, id, *body.ApprovedAmount, body.Remarks)
	case ActionReject:
		data, err = h.svc.Reject(ctx, actor, id, body.Reason)
	case ActionProcess:
		data, err = h.svc.Process(ctx, actor, id, body.UTR)
	case ActionRejectByAdmin:
		data, err = h.svc.RejectByAdmin(ctx, actor, id, body.Reason)
	}
	if err != nil {
		if !apperror.IsValidation(err) && !apperror.IsConflict(err) && !apperror.IsNotFound(err) && !apperror.IsForbidden(err) {
			h.logger.Error("refund action failed",
				zap.String("action", string(action)),
				zap.String("booking_id", id.String()),
				zap.String("request_id", c.GetString(middleware.ContextRequestID)),
				zap.Error(err),
			)
		}
		response.Error(c, err)
		return
	}
	response.OK(c, data)
}
