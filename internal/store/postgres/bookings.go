package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/internal/store"
)

const bookingColumns = `id, vertical, traveler_id, owner_id, listing_id, batch_id, activity_date, time_slot,
	number_of_travelers, unit_price, total_price, payment_type, amount_paid, balance_due, amount_due_now,
	payment_status, refund_status, coupon_code, coupon_discount, subscription_discount,
	gateway_order_id, pending_order_amount, gateway_payment_id, refund_reason, refund_request_date,
	cancellation_initiator, approved_refund_amount, organizer_remarks, rejection_reason,
	gateway_refund_id, refund_utr, refund_processed_at, cancelled_at, created_at, updated_at,
	refund_attempt_key, refund_attempt_at`

func scanBooking(row pgx.Row, b *models.Booking) error {
	return row.Scan(&b.ID, &b.Vertical, &b.TravelerID, &b.OwnerID, &b.ListingID, &b.BatchID, &b.ActivityDate, &b.TimeSlot,
		&b.NumberOfTravelers, &b.UnitPrice, &b.TotalPrice, &b.PaymentType, &b.AmountPaid, &b.BalanceDue, &b.AmountDueNow,
		&b.PaymentStatus, &b.RefundStatus, &b.CouponCode, &b.CouponDiscount, &b.SubscriptionDiscount,
		&b.GatewayOrderID, &b.PendingOrderAmount, &b.GatewayPaymentID, &b.RefundReason, &b.RefundRequestDate,
		&b.CancellationInitiator, &b.ApprovedRefundAmount, &b.OrganizerRemarks, &b.RejectionReason,
		&b.GatewayRefundID, &b.RefundUTR, &b.RefundProcessedAt, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt,
		&b.RefundAttemptKey, &b.RefundAttemptAt)
}

func bookingArgs(b *models.Booking) []any {
	return []any{b.ID, b.Vertical, b.TravelerID, b.OwnerID, b.ListingID, b.BatchID, b.ActivityDate, b.TimeSlot,
		b.NumberOfTravelers, b.UnitPrice, b.TotalPrice, b.PaymentType, b.AmountPaid, b.BalanceDue, b.AmountDueNow,
		b.PaymentStatus, b.RefundStatus, b.CouponCode, b.CouponDiscount, b.SubscriptionDiscount,
		b.GatewayOrderID, b.PendingOrderAmount, b.GatewayPaymentID, b.RefundReason, b.RefundRequestDate,
		b.CancellationInitiator, b.ApprovedRefundAmount, b.OrganizerRemarks, b.RejectionReason,
		b.GatewayRefundID, b.RefundUTR, b.RefundProcessedAt, b.CancelledAt, b.CreatedAt, b.UpdatedAt,
		b.RefundAttemptKey, b.RefundAttemptAt}
}

// CreateBooking inserts a booking.
func (s *Store) CreateBooking(ctx context.Context, b *models.Booking) error {
	const q = `INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		        $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37)`
	if _, err := s.db.Exec(ctx, q, bookingArgs(b)...); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// UpdateBooking writes every mutable field of a booking.
func (s *Store) UpdateBooking(ctx context.Context, b *models.Booking) error {
	const q = `
		UPDATE bookings SET
			amount_paid = $2, balance_due = $3, amount_due_now = $4, payment_status = $5, refund_status = $6,
			gateway_order_id = $7, pending_order_amount = $8, gateway_payment_id = $9,
			refund_reason = $10, refund_request_date = $11, cancellation_initiator = $12,
			approved_refund_amount = $13, organizer_remarks = $14, rejection_reason = $15,
			gateway_refund_id = $16, refund_utr = $17, refund_processed_at = $18, cancelled_at = $19,
			updated_at = $20, refund_attempt_key = $21, refund_attempt_at = $22
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, q, b.ID, b.AmountPaid, b.BalanceDue, b.AmountDueNow, b.PaymentStatus, b.RefundStatus,
		b.GatewayOrderID, b.PendingOrderAmount, b.GatewayPaymentID,
		b.RefundReason, b.RefundRequestDate, b.CancellationInitiator,
		b.ApprovedRefundAmount, b.OrganizerRemarks, b.RejectionReason,
		b.GatewayRefundID, b.RefundUTR, b.RefundProcessedAt, b.CancelledAt,
		b.UpdatedAt, b.RefundAttemptKey, b.RefundAttemptAt)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetBooking returns a booking by ID.
func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	var b models.Booking
	if err := scanBooking(s.db.QueryRow(ctx, q, id), &b); err != nil {
		return nil, notFound(err, "get booking")
	}
	return &b, nil
}

// LockBooking reads a booking with SELECT ... FOR UPDATE.
func (s *Store) LockBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	var b models.Booking
	if err := scanBooking(s.db.QueryRow(ctx, q, id), &b); err != nil {
		return nil, notFound(err, "lock booking")
	}
	return &b, nil
}

// GetBookingByOrderID finds the booking that owns a gateway order.
func (s *Store) GetBookingByOrderID(ctx context.Context, orderID string) (*models.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE gateway_order_id = $1 AND gateway_order_id <> ''`
	var b models.Booking
	if err := scanBooking(s.db.QueryRow(ctx, q, orderID), &b); err != nil {
		return nil, notFound(err, "get booking by order")
	}
	return &b, nil
}

func (s *Store) listBookings(ctx context.Context, q string, args ...any) ([]models.Booking, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()
	var list []models.Booking
	for rows.Next() {
		var b models.Booking
		if err := scanBooking(rows, &b); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

// ListBookingsByBatch returns all bookings of a batch, oldest first.
func (s *Store) ListBookingsByBatch(ctx context.Context, batchID uuid.UUID) ([]models.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE batch_id = $1 ORDER BY created_at`
	return s.listBookings(ctx, q, batchID)
}

// ListBookingsByTraveler returns a traveler's bookings, newest first.
func (s *Store) ListBookingsByTraveler(ctx context.Context, travelerID uuid.UUID) ([]models.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE traveler_id = $1 ORDER BY created_at DESC`
	return s.listBookings(ctx, q, travelerID)
}

// ListUnpaidBookings returns bookings with an outstanding balance that are not yet settled or cancelled.
func (s *Store) ListUnpaidBookings(ctx context.Context) ([]models.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings
		WHERE payment_status IN ('Pending Payment', 'Reserved', 'Pending Balance') AND balance_due > 0
		ORDER BY created_at`
	return s.listBookings(ctx, q)
}

// RecordPayment inserts a captured payment; a repeated gateway payment id is ignored.
func (s *Store) RecordPayment(ctx context.Context, p *models.BookingPayment) (bool, error) {
	const q = `
		INSERT INTO booking_payments (id, booking_id, gateway_order_id, gateway_payment_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (gateway_payment_id) DO NOTHING`
	tag, err := s.db.Exec(ctx, q, p.ID, p.BookingID, p.GatewayOrderID, p.GatewayPaymentID, p.Amount, p.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("record payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
