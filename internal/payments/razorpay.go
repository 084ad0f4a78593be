package payments

import (
	"context"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
	"go.uber.org/zap"
)

// Razorpay is the live gateway.
type Razorpay struct {
	client    *razorpay.Client
	keySecret string
	logger    *zap.Logger
}

// NewRazorpay creates a Razorpay gateway from API credentials.
func NewRazorpay(keyID, keySecret string, logger *zap.Logger) *Razorpay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Razorpay{
		client:    razorpay.NewClient(keyID, keySecret),
		keySecret: keySecret,
		logger:    logger,
	}
}

// CreateOrder creates an order for amount paise.
func (r *Razorpay) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}
	body, err := r.client.Order.Create(data, nil)
	if err != nil {
		r.logger.Warn("razorpay create order failed", zap.String("receipt", receipt), zap.Error(err))
		return nil, fmt.Errorf("create order: %w", err)
	}
	id, _ := body["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("create order: response has no id")
	}
	return &Order{
		ID:       id,
		Amount:   int64Field(body, "amount", amount),
		Currency: stringField(body, "currency", currency),
		Receipt:  receipt,
	}, nil
}

// Refund refunds amount paise of a captured payment.
func (r *Razorpay) Refund(ctx context.Context, paymentID string, amount int64, receipt string, notes map[string]string) (*Refund, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := map[string]interface{}{}
	if receipt != "" {
		data["receipt"] = receipt
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}
	body, err := r.client.Payment.Refund(paymentID, int(amount), data, nil)
	if err != nil {
		r.logger.Warn("razorpay refund failed", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, fmt.Errorf("refund: %w", err)
	}
	refund := refundFromBody(body, amount)
	if refund.ID == "" {
		return nil, fmt.Errorf("refund: response has no id")
	}
	if refund.Receipt == "" {
		refund.Receipt = receipt
	}
	return refund, nil
}

// FindRefund scans the payment's refunds for receipt.
func (r *Razorpay) FindRefund(ctx context.Context, paymentID, receipt string) (*Refund, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := r.client.Payment.FetchMultipleRefund(paymentID, map[string]interface{}{"count": 100}, nil)
	if err != nil {
		r.logger.Warn("razorpay fetch refunds failed", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, fmt.Errorf("fetch refunds: %w", err)
	}
	items, _ := body["items"].([]interface{})
	for _, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if got, _ := entry["receipt"].(string); got == receipt {
			return refundFromBody(entry, 0), nil
		}
	}
	return nil, nil
}

func refundFromBody(body map[string]interface{}, amount int64) *Refund {
	id, _ := body["id"].(string)
	receipt, _ := body["receipt"].(string)
	return &Refund{
		ID:      id,
		Amount:  int64Field(body, "amount", amount),
		Status:  stringField(body, "status", "processed"),
		Receipt: receipt,
	}
}

// VerifySignature checks a checkout callback signature.
func (r *Razorpay) VerifySignature(orderID, paymentID, signature string) bool {
	return VerifyCheckout(r.keySecret, orderID, paymentID, signature)
}

// JSON numbers decode as float64.
func int64Field(body map[string]interface{}, key string, fallback int64) int64 {
	if v, ok := body[key].(float64); ok {
		return int64(v)
	}
	return fallback
}

func stringField(body map[string]interface{}, key, fallback string) string {
	if v, ok := body[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
