// Package store declares the persistence contract of the booking engine.
// Slot and coupon counters are only ever changed through ReserveSlots,
// ReleaseSlots and RedeemCoupon, each a single conditional update.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tripnest/backend/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientSlots is returned when a batch cannot cover a reservation.
	ErrInsufficientSlots = errors.New("insufficient slots")
)

// Queries is every read and write the engine performs. Implementations run
// against either the pool or an open transaction.
type Queries interface {
	GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*models.Batch, error)
	ListEndedBatches(ctx context.Context, before time.Time) ([]models.Batch, error)

	// ReserveSlots decrements available slots by count only if enough remain,
	// flipping the batch to Full at zero. Returns ErrInsufficientSlots otherwise.
	ReserveSlots(ctx context.Context, batchID uuid.UUID, count int) (*models.Batch, error)
	// ReleaseSlots increments available slots by count, capped at capacity,
	// flipping a Full batch back to Active.
	ReleaseSlots(ctx context.Context, batchID uuid.UUID, count int) (*models.Batch, error)

	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	// RedeemCoupon increments times_used only if the coupon is still active,
	// unexpired at now and below its usage limit. Reports whether it did.
	RedeemCoupon(ctx context.Context, couponID uuid.UUID, now time.Time) (bool, error)

	// GetSubscription returns the user's subscription or ErrNotFound.
	GetSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)

	CreateBooking(ctx context.Context, b *models.Booking) error
	UpdateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	// LockBooking reads a booking and holds its row lock until the transaction ends.
	LockBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetBookingByOrderID(ctx context.Context, orderID string) (*models.Booking, error)
	ListBookingsByBatch(ctx context.Context, batchID uuid.UUID) ([]models.Booking, error)
	ListBookingsByTraveler(ctx context.Context, travelerID uuid.UUID) ([]models.Booking, error)
	// ListUnpaidBookings returns bookings still waiting on money with a positive balance.
	ListUnpaidBookings(ctx context.Context) ([]models.Booking, error)

	// RecordPayment inserts the payment unless its gateway payment id was seen
	// before. Reports whether a row was inserted.
	RecordPayment(ctx context.Context, p *models.BookingPayment) (bool, error)

	// GetOwnerCommission returns the owner's commission override, or nil when none is set.
	GetOwnerCommission(ctx context.Context, ownerID uuid.UUID) (*float64, error)
	// GetPayout returns the batch's payout marker or ErrNotFound.
	GetPayout(ctx context.Context, batchID uuid.UUID) (*models.Payout, error)
	UpsertPayout(ctx context.Context, p *models.Payout) error
}

// Store is Queries plus transactions. fn's Queries see a single transaction:
// returning an error rolls back every write made through it.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(q Queries) error) error
}
