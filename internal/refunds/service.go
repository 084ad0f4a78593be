// Package refunds runs the refund workflow: a traveler requests, the listing
// owner approves or rejects, and an admin processes the approved amount
// through the payment gateway or rejects it.
package refunds

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tripnest/backend/internal/inventory"
	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/internal/payments"
	"github.com/tripnest/backend/internal/store"
	"github.com/tripnest/backend/pkg/apperror"
	"github.com/tripnest/backend/pkg/money"
)

var (
	ErrBookingNotFound = apperror.NotFoundError{Resource: "booking"}
	ErrNotYourBooking  = apperror.ForbiddenError{Msg: "booking belongs to another user"}
)

const (
	// CodeNoPayment means there is no captured payment to refund against.
	CodeNoPayment = "no_gateway_payment"
	// CodeRefundProcessing means another Process call holds the refund claim.
	CodeRefundProcessing = "refund_processing"
)

// ClaimTTL is how long a Process call owns a booking's refund. A claim older
// than this belongs to a call that died and may be taken over.
const ClaimTTL = 2 * time.Minute

// Result is the booking after a refund action. Refund is set only by Process.
type Result struct {
	Booking *models.Booking  `json:"booking"`
	Refund  *payments.Refund `json:"refund,omitempty"`
}

// Service applies refund actions.
type Service struct {
	store     store.Store
	gateway   payments.Gateway
	inventory *inventory.Manager
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st store.Store, gw payments.Gateway, inv *inventory.Manager, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{store: st, gateway: gw, inventory: inv, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// partyOf resolves the role actor plays for booking b.
func partyOf(actor models.Actor, b *models.Booking) (Party, error) {
	switch {
	case actor.IsAdmin():
		return PartyAdmin, nil
	case actor.Role == models.RoleTraveler:
		if b.TravelerID != actor.UserID {
			return "", ErrNotYourBooking
		}
		return PartyTraveler, nil
	case actor.Owns(b.Vertical, b.OwnerID):
		return PartyOwner, nil
	}
	return "", apperror.ForbiddenError{Msg: "listing belongs to another owner"}
}

// transition locks the booking, checks the move and lets mutate apply it.
// mutate runs inside the transaction; any error it returns leaves the
// booking untouched.
func (s *Service) transition(ctx context.Context, actor models.Actor, bookingID uuid.UUID, action Action, mutate func(q store.Queries, b *models.Booking, now time.Time) error) (*models.Booking, error) {
	now := s.now()
	var out *models.Booking
	var from models.RefundStatus
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		b, err := q.LockBooking(ctx, bookingID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrBookingNotFound
		}
		if err != nil {
			return apperror.InternalError{Msg: "lock booking", Err: err}
		}
		party, err := partyOf(actor, b)
		if err != nil {
			return err
		}
		from = b.RefundStatus
		next, err := Next(b.RefundStatus, party, action)
		if err != nil {
			return err
		}
		if err := mutate(q, b, now); err != nil {
			return err
		}
		b.RefundStatus = next
		b.UpdatedAt = now
		if err := q.UpdateBooking(ctx, b); err != nil {
			return apperror.InternalError{Msg: "update booking", Err: err}
		}
		out = b
		return nil
	})
	if err != nil {
		s.logger.Warn("refund action rejected",
			zap.String("booking_id", bookingID.String()),
			zap.String("action", string(action)),
			zap.String("actor_id", actor.UserID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	s.logger.Info("refund status changed",
		zap.String("booking_id", bookingID.String()),
		zap.String("action", string(action)),
		zap.String("from", string(from)),
		zap.String("to", string(out.RefundStatus)),
	)
	return out, nil
}

func requireReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", apperror.ValidationError{Field: "reason", Msg: "required"}
	}
	return reason, nil
}

// Request opens a refund on the traveler's own booking.
func (s *Service) Request(ctx context.Context, actor models.Actor, bookingID uuid.UUID, reason string) (*models.Booking, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, actor, bookingID, ActionRequest, func(_ store.Queries, b *models.Booking, now time.Time) error {
		b.RefundReason = reason
		b.RefundRequestDate = &now
		b.CancellationInitiator = models.CancelledByTraveler
		return nil
	})
}

// Approve accepts a requested refund for amount, which must be positive and
// at most the booking's refund cap.
func (s *Service) Approve(ctx context.Context, actor models.Actor, bookingID uuid.UUID, amount float64, remarks string) (*models.Booking, error) {
	amount = money.Round(amount)
	if amount <= 0 {
		return nil, apperror.ValidationError{Field: "approvedAmount", Msg: "must be greater than 0"}
	}
	return s.transition(ctx, actor, bookingID, ActionApprove, func(_ store.Queries, b *models.Booking, _ time.Time) error {
		if limit := b.RefundCap(); amount > limit {
			return apperror.ValidationError{Field: "approvedAmount", Msg: "exceeds the refundable amount of " + money.Format(limit)}
		}
		b.ApprovedRefundAmount = &amount
		b.OrganizerRemarks = strings.TrimSpace(remarks)
		b.RejectionReason = ""
		return nil
	})
}

// Reject declines a requested refund.
func (s *Service) Reject(ctx context.Context, actor models.Actor, bookingID uuid.UUID, reason string) (*models.Booking, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, actor, bookingID, ActionReject, func(_ store.Queries, b *models.Booking, _ time.Time) error {
		b.RejectionReason = reason
		return nil
	})
}

// RejectByAdmin overrules an owner's approval. It is refused while a Process
// call is talking to the gateway.
func (s *Service) RejectByAdmin(ctx context.Context, actor models.Actor, bookingID uuid.UUID, reason string) (*models.Booking, error) {
	reason, err := requireReason(reason)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, actor, bookingID, ActionRejectByAdmin, func(_ store.Queries, b *models.Booking, now time.Time) error {
		if claimLive(b, now) {
			return apperror.ConflictError{Code: CodeRefundProcessing, Msg: "refund is being sent to the gateway"}
		}
		b.RejectionReason = reason
		return nil
	})
}

// claim is a committed refund attempt.
type claim struct {
	paymentID string
	receipt   string
	reason    string
	amount    float64
	at        time.Time
	// resumed is set when an earlier attempt may already have reached the gateway.
	resumed bool
}

func claimLive(b *models.Booking, now time.Time) bool {
	return b.RefundAttemptAt != nil && now.Sub(*b.RefundAttemptAt) < ClaimTTL
}

// claimRefund checks that actor may process the refund and commits the attempt
// marker before any money moves.
func (s *Service) claimRefund(ctx context.Context, actor models.Actor, bookingID uuid.UUID) (*claim, error) {
	now := s.now()
	var c *claim
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		b, err := q.LockBooking(ctx, bookingID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrBookingNotFound
		}
		if err != nil {
			return apperror.InternalError{Msg: "lock booking", Err: err}
		}
		party, err := partyOf(actor, b)
		if err != nil {
			return err
		}
		if _, err := Next(b.RefundStatus, party, ActionProcess); err != nil {
			return err
		}
		if b.GatewayPaymentID == "" {
			return apperror.ConflictError{Code: CodeNoPayment, Msg: "booking has no captured payment to refund"}
		}
		if b.ApprovedRefundAmount == nil || *b.ApprovedRefundAmount <= 0 {
			return apperror.ConflictError{Code: CodeInvalidTransition, Msg: "refund has no approved amount"}
		}
		if claimLive(b, now) {
			return apperror.ConflictError{Code: CodeRefundProcessing, Msg: "refund is already being processed, retry shortly"}
		}
		c = &claim{
			paymentID: b.GatewayPaymentID,
			receipt:   b.RefundReceipt(),
			reason:    b.RefundReason,
			amount:    *b.ApprovedRefundAmount,
			at:        now,
			resumed:   b.RefundAttemptKey != "",
		}
		b.RefundAttemptKey = c.receipt
		b.RefundAttemptAt = &now
		b.UpdatedAt = now
		if err := q.UpdateBooking(ctx, b); err != nil {
			return apperror.InternalError{Msg: "claim refund", Err: err}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("refund action rejected",
			zap.String("booking_id", bookingID.String()),
			zap.String("action", string(ActionProcess)),
			zap.String("actor_id", actor.UserID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	return c, nil
}

// sendRefund issues the gateway refund for c. A resumed claim first looks
// for the refund an earlier attempt sent.
func (s *Service) sendRefund(ctx context.Context, bookingID uuid.UUID, c *claim) (*payments.Refund, error) {
	if c.resumed {
		r, err := s.gateway.FindRefund(ctx, c.paymentID, c.receipt)
		if err != nil {
			return nil, apperror.GatewayError{Op: "find refund", Err: err}
		}
		if r != nil {
			s.logger.Info("refund already sent by an earlier attempt",
				zap.String("booking_id", bookingID.String()),
				zap.String("gateway_refund_id", r.ID),
			)
			return r, nil
		}
	}
	r, err := s.gateway.Refund(ctx, c.paymentID, money.ToPaise(c.amount), c.receipt, map[string]string{
		"booking_id": bookingID.String(),
		"reason":     c.reason,
	})
	if err != nil {
		return nil, apperror.GatewayError{Op: "refund", Err: err}
	}
	return r, nil
}

// releaseClaim lets the admin retry at once after the gateway refused the
// refund. The receipt stays so a retry still checks for a refund that got
// through despite the error.
func (s *Service) releaseClaim(ctx context.Context, bookingID uuid.UUID, c *claim) {
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		b, err := q.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.RefundAttemptAt == nil || !b.RefundAttemptAt.Equal(c.at) {
			return nil
		}
		b.RefundAttemptAt = nil
		return q.UpdateBooking(ctx, b)
	})
	if err != nil {
		s.logger.Warn("release refund claim failed", zap.String("booking_id", bookingID.String()), zap.Error(err))
	}
}

// Process pays out an approved refund through the gateway, cancels the
// booking and returns its slots. The attempt is committed before the gateway
// call, so a retry after any failure reuses the refund already sent instead of
// paying twice.
func (s *Service) Process(ctx context.Context, actor models.Actor, bookingID uuid.UUID, utr string) (*Result, error) {
	c, err := s.claimRefund(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	// The local record must be written once money has moved, even if the
	// caller has gone away.
	ctx = context.WithoutCancel(ctx)

	refund, err := s.sendRefund(ctx, bookingID, c)
	if err != nil {
		s.releaseClaim(ctx, bookingID, c)
		s.logger.Warn("refund action rejected",
			zap.String("booking_id", bookingID.String()),
			zap.String("action", string(ActionProcess)),
			zap.Error(err),
		)
		return nil, err
	}

	b, err := s.transition(ctx, actor, bookingID, ActionProcess, func(q store.Queries, b *models.Booking, now time.Time) error {
		wasCancelled := b.PaymentStatus == models.PaymentStatusCancelled
		b.GatewayRefundID = refund.ID
		b.RefundUTR = strings.TrimSpace(utr)
		b.RefundProcessedAt = &now
		b.RefundAttemptAt = nil
		b.AmountPaid = money.Round(b.AmountPaid - c.amount)
		if b.AmountPaid < 0 {
			b.AmountPaid = 0
		}
		b.BalanceDue = 0
		b.PendingOrderAmount = 0
		b.AmountDueNow = 0
		b.PaymentStatus = models.PaymentStatusCancelled
		if b.CancelledAt == nil {
			b.CancelledAt = &now
		}
		// Auto-cancelled bookings already gave their slots back.
		if !wasCancelled {
			if _, err := s.inventory.Release(ctx, q, b.BatchID, b.NumberOfTravelers); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("refund sent but not recorded",
			zap.String("booking_id", bookingID.String()),
			zap.String("gateway_refund_id", refund.ID),
			zap.Error(err),
		)
		return nil, err
	}
	s.logger.Info("refund processed",
		zap.String("booking_id", b.ID.String()),
		zap.String("gateway_refund_id", refund.ID),
		zap.Int64("amount_paise", refund.Amount),
	)
	return &Result{Booking: b, Refund: refund}, nil
}
