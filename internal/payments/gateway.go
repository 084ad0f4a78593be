// Package payments adapts the external payment gateway. Amounts crossing this
// boundary are integer paise; the rest of the engine works in rupees.
package payments

import (
	"context"
)

// Order is a gateway order the client pays against.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
}

// Refund is the gateway's record of a refund.
type Refund struct {
	ID      string `json:"id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
	Receipt string `json:"receipt,omitempty"`
}

// Gateway is the payment provider contract.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*Order, error)
	// Refund sends a refund tagged with receipt. The gateway does not dedupe
	// receipts; callers look one up with FindRefund before retrying.
	Refund(ctx context.Context, paymentID string, amount int64, receipt string, notes map[string]string) (*Refund, error)
	// FindRefund returns the payment's refund carrying receipt, or nil if none was sent.
	FindRefund(ctx context.Context, paymentID, receipt string) (*Refund, error)
	VerifySignature(orderID, paymentID, signature string) bool
}
