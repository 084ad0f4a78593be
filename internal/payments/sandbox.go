package payments

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrSandboxUnavailable is returned by the sandbox while a failure is injected.
var ErrSandboxUnavailable = errors.New("sandbox gateway unavailable")

// Sandbox is an in-process gateway for local development and tests. Orders and
// refunds always succeed unless a failure is injected.
type Sandbox struct {
	secret string

	mu          sync.Mutex
	orders      map[string]Order
	refunds     []sandboxRefund
	failOrders  bool
	failRefunds bool
}

// NewSandbox creates a sandbox that signs checkouts with secret.
func NewSandbox(secret string) *Sandbox {
	if secret == "" {
		secret = "sandbox-secret"
	}
	return &Sandbox{secret: secret, orders: make(map[string]Order)}
}

type sandboxRefund struct {
	paymentID string
	Refund
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")[:14]
}

func (s *Sandbox) CreateOrder(_ context.Context, amount int64, currency, receipt string, _ map[string]string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOrders {
		return nil, ErrSandboxUnavailable
	}
	o := Order{ID: newID("order_"), Amount: amount, Currency: currency, Receipt: receipt}
	s.orders[o.ID] = o
	return &o, nil
}

func (s *Sandbox) Refund(_ context.Context, paymentID string, amount int64, receipt string, _ map[string]string) (*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRefunds {
		return nil, ErrSandboxUnavailable
	}
	if paymentID == "" {
		return nil, errors.New("payment id is required")
	}
	r := Refund{ID: newID("rfnd_"), Amount: amount, Status: "processed", Receipt: receipt}
	s.refunds = append(s.refunds, sandboxRefund{paymentID: paymentID, Refund: r})
	return &r, nil
}

func (s *Sandbox) FindRefund(_ context.Context, paymentID, receipt string) (*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRefunds {
		return nil, ErrSandboxUnavailable
	}
	for _, r := range s.refunds {
		if r.paymentID == paymentID && r.Receipt == receipt {
			out := r.Refund
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Sandbox) VerifySignature(orderID, paymentID, signature string) bool {
	return VerifyCheckout(s.secret, orderID, paymentID, signature)
}

// Sign produces the checkout signature a real client would receive.
func (s *Sandbox) Sign(orderID, paymentID string) string {
	return CheckoutSignature(s.secret, orderID, paymentID)
}

// FailOrders toggles injected order failures.
func (s *Sandbox) FailOrders(fail bool) {
	s.mu.Lock()
	s.failOrders = fail
	s.mu.Unlock()
}

// FailRefunds toggles injected refund failures.
func (s *Sandbox) FailRefunds(fail bool) {
	s.mu.Lock()
	s.failRefunds = fail
	s.mu.Unlock()
}

// Order returns a created order by id.
func (s *Sandbox) Order(id string) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

// Refunds returns the refunds issued so far.
func (s *Sandbox) Refunds() []Refund {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Refund, 0, len(s.refunds))
	for _, r := range s.refunds {
		out = append(out, r.Refund)
	}
	return out
}
