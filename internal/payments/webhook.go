package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tripnest/backend/pkg/queue"
	"github.com/tripnest/backend/pkg/response"
)

const maxWebhookBody = 1 << 20

// Webhook events that confirm money was captured.
const (
	EventPaymentCaptured = "payment.captured"
	EventOrderPaid       = "order.paid"
)

// PaymentJobs accepts captured payments for asynchronous confirmation.
type PaymentJobs interface {
	EnqueuePaymentCaptured(ctx context.Context, payload queue.PaymentCapturedPayload) error
}

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Amount  int64  `json:"amount"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// WebhookHandler receives gateway webhooks.
type WebhookHandler struct {
	secret string
	jobs   PaymentJobs
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler verifying bodies with secret.
func NewWebhookHandler(secret string, jobs PaymentJobs, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{secret: secret, jobs: jobs, logger: logger}
}

// Razorpay handles POST /webhooks/razorpay.
func (h *WebhookHandler) Razorpay(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}
	if !VerifyWebhook(h.secret, body, c.GetHeader("X-Razorpay-Signature")) {
		h.logger.Warn("webhook signature mismatch", zap.String("client_ip", c.ClientIP()))
		response.Unauthorized(c, "invalid signature")
		return
	}
	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		response.BadRequest(c, "invalid payload")
		return
	}
	if ev.Event != EventPaymentCaptured && ev.Event != EventOrderPaid {
		response.OK(c, gin.H{"ignored": ev.Event})
		return
	}
	entity := ev.Payload.Payment.Entity
	if entity.ID == "" || entity.OrderID == "" {
		response.BadRequest(c, "payment entity missing id or order_id")
		return
	}
	payload := queue.PaymentCapturedPayload{
		OrderID:     entity.OrderID,
		PaymentID:   entity.ID,
		AmountPaise: entity.Amount,
		EventID:     c.GetHeader("X-Razorpay-Event-Id"),
	}
	if err := h.jobs.EnqueuePaymentCaptured(c.Request.Context(), payload); err != nil {
		h.logger.Error("enqueue payment captured failed", zap.String("order_id", entity.OrderID), zap.Error(err))
		// Non-2xx makes the gateway redeliver.
		c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Error: "try again later"})
		return
	}
	h.logger.Info("payment webhook accepted", zap.String("event", ev.Event), zap.String("order_id", entity.OrderID), zap.String("payment_id", entity.ID))
	response.OK(c, nil)
}
