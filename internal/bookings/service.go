// Package bookings is the booking ledger: it creates bookings under an atomic
// slot reservation, confirms gateway payments and cancels bookings whose
// balance was not paid in time.
package bookings

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
	"github.com/tripnest/backend/internal/pricing"
	"github.com/tripnest/backend/internal/store"
	"github.com/tripnest/backend/pkg/apperror"
	"github.com/tripnest/backend/pkg/money"
)

var (
	ErrTripNotFound    = apperror.NotFoundError{Resource: "trip"}
	ErrBatchNotFound   = apperror.NotFoundError{Resource: "batch"}
	ErrBookingNotFound = apperror.NotFoundError{Resource: "booking"}
	ErrNotYourBooking  = apperror.ForbiddenError{Msg: "booking belongs to another user"}
)

// Conflict codes returned by the ledger.
const (
	CodeBookingCancelled = "booking_cancelled"
	CodeOrderMismatch    = "order_mismatch"
	CodeAmountMismatch   = "amount_mismatch"
	CodeNoBalanceDue     = "no_balance_due"
	CodeRefundInProgress = "refund_in_progress"
)

// CreateRequest is a traveler's booking attempt.
type CreateRequest struct {
	TravelerID        uuid.UUID
	ListingID         uuid.UUID
	BatchID           uuid.UUID
	NumberOfTravelers int
	PaymentType       models.PaymentType
	CouponCode        string
}

// CreateResult is the new booking and the gateway order to pay. Order is nil
// when nothing is owed.
type CreateResult struct {
	Booking *models.Booking `json:"booking"`
	Order   *payments.Order `json:"order,omitempty"`
}

// Service is the booking ledger.
type Service struct {
	store     store.Store
	gateway   payments.Gateway
	pricing   *pricing.Calculator
	inventory *inventory.Manager
	currency  string
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the booking ledger. currency is used for listings that carry none.
func NewService(st store.Store, gw payments.Gateway, calc *pricing.Calculator, inv *inventory.Manager, currency string, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if currency == "" {
		currency = "INR"
	}
	s := &Service{store: st, gateway: gw, pricing: calc, inventory: inv, currency: currency, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) currencyOf(l *models.Listing) string {
	if l != nil && l.Currency != "" {
		return l.Currency
	}
	return s.currency
}

// Create books req.NumberOfTravelers slots. Coupon redemption, slot reservation,
// the booking row and the gateway order all commit together or not at all.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.NumberOfTravelers < 1 {
		return nil, apperror.ValidationError{Field: "numberOfTravelers", Msg: "must be at least 1"}
	}
	if !req.PaymentType.Valid() {
		return nil, apperror.ValidationError{Field: "paymentType", Msg: "must be Full or Partial"}
	}
	now := s.now()

	listing, err := s.store.GetListing(ctx, req.ListingID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !listing.IsActive) {
		return nil, ErrTripNotFound
	}
	if err != nil {
		return nil, apperror.InternalError{Msg: "load listing", Err: err}
	}
	batch, err := s.store.GetBatch(ctx, req.BatchID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && (batch.ListingID != listing.ID || batch.Status == models.BatchStatusInactive)) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, apperror.InternalError{Msg: "load batch", Err: err}
	}
	if req.PaymentType == models.PaymentTypePartial && !listing.AllowsPartialPayment() {
		return nil, apperror.ValidationError{Field: "paymentType", Msg: "partial payment is not available for this listing"}
	}

	sub, err := s.store.GetSubscription(ctx, req.TravelerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, apperror.InternalError{Msg: "load subscription", Err: err}
	}
	var coupon *models.Coupon
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		coupon, err = s.store.GetCouponByCode(ctx, code)
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.logger.Info("coupon not applied", zap.String("code", code), zap.String("reason", pricing.CouponNotFound))
			coupon = nil
		case err != nil:
			return nil, apperror.InternalError{Msg: "load coupon", Err: err}
		}
	}

	in := pricing.Input{
		UnitPrice:                 batch.UnitPrice(listing),
		Travelers:                 req.NumberOfTravelers,
		Subscription:              sub,
		Coupon:                    coupon,
		OwnerID:                   listing.OwnerID,
		PaymentType:               req.PaymentType,
		SpotReservationPercentage: listing.SpotReservationPercentage,
		Now:                       now,
	}

	var result CreateResult
	err = s.store.WithTx(ctx, func(q store.Queries) error {
		quote := s.pricing.Quote(in)
		if quote.CouponApplied {
			ok, err := q.RedeemCoupon(ctx, coupon.ID, now)
			if err != nil {
				return apperror.InternalError{Msg: "redeem coupon", Err: err}
			}
			if !ok {
				// Lost the race for the last use: price without it.
				noCoupon := in
				noCoupon.Coupon = nil
				quote = s.pricing.Quote(noCoupon)
				quote.CouponRejected = pricing.CouponRaceLost
			}
		}
		if quote.CouponRejected != "" {
			s.logger.Info("coupon not applied", zap.String("code", coupon.Code), zap.String("reason", quote.CouponRejected))
		}

		if _, err := s.inventory.Reserve(ctx, q, batch.ID, req.NumberOfTravelers); err != nil {
			return err
		}

		b := &models.Booking{
			ID:                   uuid.New(),
			Vertical:             listing.Kind,
			TravelerID:           req.TravelerID,
			OwnerID:              listing.OwnerID,
			ListingID:            listing.ID,
			BatchID:              batch.ID,
			NumberOfTravelers:    req.NumberOfTravelers,
			UnitPrice:            quote.UnitPrice,
			TotalPrice:           quote.TotalPrice,
			PaymentType:          req.PaymentType,
			AmountPaid:           0,
			BalanceDue:           quote.TotalPrice,
			AmountDueNow:         quote.AmountToPay,
			PaymentStatus:        models.PaymentStatusPendingPayment,
			RefundStatus:         models.RefundStatusNone,
			CouponDiscount:       quote.CouponDiscount,
			SubscriptionDiscount: quote.SubscriptionDiscount,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if req.PaymentType == models.PaymentTypePartial {
			b.PaymentStatus = models.PaymentStatusReserved
		}
		if quote.CouponApplied {
			b.CouponCode = coupon.Code
		}
		if listing.Kind == models.ListingKindExperience {
			date := batch.StartDate
			b.ActivityDate = &date
			b.TimeSlot = batch.TimeSlot
		}
		if quote.TotalPrice == 0 {
			b.PaymentStatus = models.PaymentStatusPaidInFull
			b.AmountDueNow = 0
		}
		if err := q.CreateBooking(ctx, b); err != nil {
			return apperror.InternalError{Msg: "insert booking", Err: err}
		}

		if quote.AmountToPay > 0 {
			order, err := s.gateway.CreateOrder(ctx, money.ToPaise(quote.AmountToPay), s.currencyOf(listing), b.ID.String(), map[string]string{
				"booking_id": b.ID.String(),
				"purpose":    "booking",
			})
			if err != nil {
				return apperror.GatewayError{Op: "create order", Err: err}
			}
			b.GatewayOrderID = order.ID
			b.PendingOrderAmount = quote.AmountToPay
			if err := q.UpdateBooking(ctx, b); err != nil {
				return apperror.InternalError{Msg: "store order id", Err: err}
			}
			result.Order = order
		}
		result.Booking = b
		return nil
	})
	if err != nil {
		s.logger.Warn("booking not created",
			zap.String("batch_id", req.BatchID.String()),
			zap.String("traveler_id", req.TravelerID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("booking created",
		zap.String("booking_id", result.Booking.ID.String()),
		zap.String("batch_id", batch.ID.String()),
		zap.Int("travelers", result.Booking.NumberOfTravelers),
		zap.Float64("total_price", result.Booking.TotalPrice),
		zap.String("payment_status", string(result.Booking.PaymentStatus)),
	)
	return &result, nil
}

// PaymentUnapplied reports whether err refused a payment the gateway already
// captured. That money is held by the platform and needs manual reconciliation.
func PaymentUnapplied(err error) bool {
	switch apperror.ConflictCode(err) {
	case CodeOrderMismatch, CodeAmountMismatch, CodeBookingCancelled:
		return true
	}
	return false
}

// ConfirmPayment marks the booking's pending order as paid by paymentID.
// Repeating a confirmation with the same payment id is a no-op.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID uuid.UUID, paymentID string) (*models.Booking, error) {
	return s.confirm(ctx, bookingID, "", paymentID, -1)
}

// VerifyAndConfirm handles the checkout callback: the signature must match
// before the payment is recorded.
func (s *Service) VerifyAndConfirm(ctx context.Context, actor models.Actor, bookingID uuid.UUID, orderID, paymentID, signature string) (*models.Booking, error) {
	if orderID == "" || paymentID == "" || signature == "" {
		return nil, apperror.ValidationError{Msg: "orderId, paymentId and signature are required"}
	}
	b, err := s.getBooking(ctx, s.store, bookingID)
	if err != nil {
		return nil, err
	}
	if b.TravelerID != actor.UserID {
		return nil, ErrNotYourBooking
	}
	if !s.gateway.VerifySignature(orderID, paymentID, signature) {
		s.logger.Warn("payment signature mismatch", zap.String("booking_id", bookingID.String()), zap.String("order_id", orderID))
		return nil, apperror.ValidationError{Field: "signature", Msg: "payment signature mismatch"}
	}
	return s.confirm(ctx, bookingID, orderID, paymentID, -1)
}

// ConfirmByOrder handles a captured-payment webhook for orderID.
func (s *Service) ConfirmByOrder(ctx context.Context, orderID, paymentID string, amountPaise int64) (*models.Booking, error) {
	b, err := s.store.GetBookingByOrderID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFoundError{Resource: "order"}
	}
	if err != nil {
		return nil, apperror.InternalError{Msg: "find booking by order", Err: err}
	}
	return s.confirm(ctx, b.ID, orderID, paymentID, amountPaise)
}

// confirm applies a payment. An empty orderID means the booking's current
// order; a negative amountPaise skips the amount check.
func (s *Service) confirm(ctx context.Context, bookingID uuid.UUID, orderID, paymentID string, amountPaise int64) (*models.Booking, error) {
	if paymentID == "" {
		return nil, apperror.ValidationError{Field: "paymentId", Msg: "required"}
	}
	now := s.now()
	var out *models.Booking
	applied := false
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		b, err := s.lockBooking(ctx, q, bookingID)
		if err != nil {
			return err
		}
		if orderID == "" {
			orderID = b.GatewayOrderID
		}
		inserted, err := q.RecordPayment(ctx, &models.BookingPayment{
			ID:               uuid.New(),
			BookingID:        b.ID,
			GatewayOrderID:   orderID,
			GatewayPaymentID: paymentID,
			Amount:           b.PendingOrderAmount,
			CreatedAt:        now,
		})
		if err != nil {
			return apperror.InternalError{Msg: "record payment", Err: err}
		}
		if !inserted {
			out = b
			return nil
		}

		if b.GatewayOrderID == "" || orderID != b.GatewayOrderID || b.PendingOrderAmount <= 0 {
			return apperror.ConflictError{Code: CodeOrderMismatch, Msg: "payment does not match the booking's pending order"}
		}
		if amountPaise >= 0 && amountPaise != money.ToPaise(b.PendingOrderAmount) {
			return apperror.ConflictError{Code: CodeAmountMismatch, Msg: "paid amount does not match the order amount"}
		}
		batch, listing, err := s.refs(ctx, q, b)
		if err != nil {
			return err
		}
		if b.EffectivePaymentStatus(batch, listing, now) == models.PaymentStatusCancelled {
			return apperror.ConflictError{Code: CodeBookingCancelled, Msg: "booking is cancelled"}
		}

		b.AmountPaid = money.Round(b.AmountPaid + b.PendingOrderAmount)
		b.BalanceDue = money.Round(b.TotalPrice - b.AmountPaid)
		b.PendingOrderAmount = 0
		b.AmountDueNow = 0
		b.GatewayPaymentID = paymentID
		b.UpdatedAt = now
		switch {
		case b.BalanceDue <= 0:
			b.BalanceDue = 0
			b.PaymentStatus = models.PaymentStatusPaidInFull
		case b.PaymentStatus == models.PaymentStatusPendingPayment:
			b.PaymentStatus = models.PaymentStatusReserved
		}
		if err := q.UpdateBooking(ctx, b); err != nil {
			return apperror.InternalError{Msg: "update booking", Err: err}
		}
		out = b
		applied = true
		return nil
	})
	if PaymentUnapplied(err) {
		s.logger.Error("captured payment not applied",
			zap.String("booking_id", bookingID.String()),
			zap.String("order_id", orderID),
			zap.String("payment_id", paymentID),
			zap.Int64("amount_paise", amountPaise),
			zap.String("code", apperror.ConflictCode(err)),
		)
	}
	if err != nil {
		return nil, err
	}
	if applied {
		s.logger.Info("payment confirmed",
			zap.String("booking_id", out.ID.String()),
			zap.String("payment_id", paymentID),
			zap.Float64("amount_paid", out.AmountPaid),
			zap.String("payment_status", string(out.PaymentStatus)),
		)
	} else {
		s.logger.Info("duplicate payment confirmation ignored", zap.String("booking_id", out.ID.String()), zap.String("payment_id", paymentID))
	}
	return out, nil
}

// RequestBalancePayment opens a gateway order for the outstanding balance of a
// reserved booking. Asking again returns the same open order.
func (s *Service) RequestBalancePayment(ctx context.Context, actor models.Actor, bookingID uuid.UUID) (*CreateResult, error) {
	now := s.now()
	var result CreateResult
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		b, err := s.lockBooking(ctx, q, bookingID)
		if err != nil {
			return err
		}
		if b.TravelerID != actor.UserID {
			return ErrNotYourBooking
		}
		batch, listing, err := s.refs(ctx, q, b)
		if err != nil {
			return err
		}
		if b.EffectivePaymentStatus(batch, listing, now) == models.PaymentStatusCancelled {
			return apperror.ConflictError{Code: CodeBookingCancelled, Msg: "booking is cancelled"}
		}
		if b.RefundStatus.OpenDispute() {
			return apperror.ConflictError{Code: CodeRefundInProgress, Msg: "a refund is in progress for this booking"}
		}
		currency := s.currencyOf(listing)
		if b.PaymentStatus == models.PaymentStatusPendingBalance && b.GatewayOrderID != "" && b.PendingOrderAmount > 0 {
			result.Booking = b
			result.Order = &payments.Order{ID: b.GatewayOrderID, Amount: money.ToPaise(b.PendingOrderAmount), Currency: currency, Receipt: b.ID.String()}
			return nil
		}
		if b.PaymentStatus != models.PaymentStatusReserved || b.AmountPaid <= 0 || b.BalanceDue <= 0 {
			return apperror.ConflictError{Code: CodeNoBalanceDue, Msg: "no balance payment is due for this booking"}
		}

		order, err := s.gateway.CreateOrder(ctx, money.ToPaise(b.BalanceDue), currency, b.ID.String(), map[string]string{
			"booking_id": b.ID.String(),
			"purpose":    "balance",
		})
		if err != nil {
			return apperror.GatewayError{Op: "create order", Err: err}
		}
		b.GatewayOrderID = order.ID
		b.PendingOrderAmount = b.BalanceDue
		b.AmountDueNow = b.BalanceDue
		b.PaymentStatus = models.PaymentStatusPendingBalance
		b.UpdatedAt = now
		if err := q.UpdateBooking(ctx, b); err != nil {
			return apperror.InternalError{Msg: "update booking", Err: err}
		}
		result.Booking = b
		result.Order = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AutoCancelUnpaidBalance persists the derived cancellation of every booking
// whose balance deadline has passed and returns their slots. Running it again
// changes nothing: each booking is rechecked under its row lock.
func (s *Service) AutoCancelUnpaidBalance(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.store.ListUnpaidBookings(ctx)
	if err != nil {
		return 0, apperror.InternalError{Msg: "list unpaid bookings", Err: err}
	}
	refs := newRefCache(s.store)
	cancelled := 0
	var firstErr error
	for i := range candidates {
		c := &candidates[i]
		batch, listing, err := refs.get(ctx, c)
		if err != nil {
			s.logger.Warn("auto-cancel: load batch failed", zap.String("booking_id", c.ID.String()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if c.EffectivePaymentStatus(batch, listing, now) != models.PaymentStatusCancelled {
			continue
		}
		changed := false
		err = s.store.WithTx(ctx, func(q store.Queries) error {
			b, err := s.lockBooking(ctx, q, c.ID)
			if err != nil {
				return err
			}
			if !b.PaymentStatus.Unpaid() || b.EffectivePaymentStatus(batch, listing, now) != models.PaymentStatusCancelled {
				return nil
			}
			b.PaymentStatus = models.PaymentStatusCancelled
			b.CancellationInitiator = models.CancelledBySystem
			b.CancelledAt = &now
			b.PendingOrderAmount = 0
			b.AmountDueNow = 0
			b.UpdatedAt = now
			if err := q.UpdateBooking(ctx, b); err != nil {
				return apperror.InternalError{Msg: "cancel booking", Err: err}
			}
			if _, err := s.inventory.Release(ctx, q, b.BatchID, b.NumberOfTravelers); err != nil {
				return err
			}
			changed = true
			return nil
		})
		if err != nil {
			s.logger.Warn("auto-cancel failed", zap.String("booking_id", c.ID.String()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if changed {
			cancelled++
			s.logger.Info("booking auto-cancelled for unpaid balance",
				zap.String("booking_id", c.ID.String()),
				zap.String("batch_id", c.BatchID.String()),
				zap.Float64("balance_due", c.BalanceDue),
			)
		}
	}
	return cancelled, firstErr
}

func (s *Service) getBooking(ctx context.Context, q store.Queries, id uuid.UUID) (*models.Booking, error) {
	b, err := q.GetBooking(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, apperror.InternalError{Msg: "load booking", Err: err}
	}
	return b, nil
}

func (s *Service) lockBooking(ctx context.Context, q store.Queries, id uuid.UUID) (*models.Booking, error) {
	b, err := q.LockBooking(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, apperror.InternalError{Msg: "lock booking", Err: err}
	}
	return b, nil
}

func (s *Service) refs(ctx context.Context, q store.Queries, b *models.Booking) (*models.Batch, *models.Listing, error) {
	return newRefCache(q).get(ctx, b)
}
