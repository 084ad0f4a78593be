package bookings

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tripnest/backend/internal/middleware"
	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/pkg/apperror"
	"github.com/tripnest/backend/pkg/response"
)

// CreateBookingRequest is the body for POST /bookings.
type CreateBookingRequest struct {
	TripID            string `json:"tripId" binding:"required"`
	BatchID           string `json:"batchId" binding:"required"`
	NumberOfTravelers int    `json:"numberOfTravelers"`
	PaymentType       string `json:"paymentType" binding:"required"`
	CouponCode        string `json:"couponCode,omitempty"`
}

// VerifyPaymentRequest is the body for POST /bookings/:id/payments/verify.
type VerifyPaymentRequest struct {
	OrderID   string `json:"orderId" binding:"required"`
	PaymentID string `json:"paymentId" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// Handler handles booking HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a bookings handler.
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

func actorOrAbort(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.Actor(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
	}
	return actor, ok
}

// Create handles POST /bookings.
func (h *Handler) Create(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	listingID, err := uuid.Parse(req.TripID)
	if err != nil {
		response.BadRequest(c, "invalid tripId")
		return
	}
	batchID, err := uuid.Parse(req.BatchID)
	if err != nil {
		response.BadRequest(c, "invalid batchId")
		return
	}
	res, err := h.svc.Create(c.Request.Context(), CreateRequest{
		TravelerID:        actor.UserID,
		ListingID:         listingID,
		BatchID:           batchID,
		NumberOfTravelers: req.NumberOfTravelers,
		PaymentType:       models.PaymentType(req.PaymentType),
		CouponCode:        req.CouponCode,
	})
	if err != nil {
		h.fail(c, "create booking", err)
		return
	}
	response.Created(c, res)
}

// Get handles GET /bookings/:id.
func (h *Handler) Get(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid booking id")
		return
	}
	b, err := h.svc.Get(c.Request.Context(), actor, id)
	if err != nil {
		h.fail(c, "get booking", err)
		return
	}
	response.OK(c, b)
}

// ListMine handles GET /me/bookings.
func (h *Handler) ListMine(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	list, err := h.svc.ListForTraveler(c.Request.Context(), actor)
	if err != nil {
		h.fail(c, "list bookings", err)
		return
	}
	if list == nil {
		list = []models.Booking{}
	}
	response.OK(c, list)
}

// ListForBatch handles GET /batches/:id/bookings.
func (h *Handler) ListForBatch(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid batch id")
		return
	}
	list, err := h.svc.ListForBatch(c.Request.Context(), actor, batchID)
	if err != nil {
		h.fail(c, "list batch bookings", err)
		return
	}
	if list == nil {
		list = []models.Booking{}
	}
	response.OK(c, list)
}

// VerifyPayment handles POST /bookings/:id/payments/verify.
func (h *Handler) VerifyPayment(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid booking id")
		return
	}
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	b, err := h.svc.VerifyAndConfirm(c.Request.Context(), actor, id, req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		h.fail(c, "verify payment", err)
		return
	}
	response.OK(c, b)
}

// RequestBalance handles POST /bookings/:id/balance.
func (h *Handler) RequestBalance(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid booking id")
		return
	}
	res, err := h.svc.RequestBalancePayment(c.Request.Context(), actor, id)
	if err != nil {
		h.fail(c, "request balance payment", err)
		return
	}
	response.OK(c, res)
}
