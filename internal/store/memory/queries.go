package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tripnest/backend/internal/models"
)

// Outside WithTx every call is its own transaction.

func (db *DB) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).GetListing(ctx, id)
}

func (db *DB) GetBatch(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).GetBatch(ctx, id)
}

func (db *DB) ListEndedBatches(ctx context.Context, before time.Time) ([]models.Batch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).ListEndedBatches(ctx, before)
}

func (db *DB) ReserveSlots(ctx context.Context, batchID uuid.UUID, count int) (*models.Batch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).ReserveSlots(ctx, batchID, count)
}

func (db *DB) ReleaseSlots(ctx context.Context, batchID uuid.UUID, count int) (*models.Batch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).ReleaseSlots(ctx, batchID, count)
}

func (db *DB) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).GetCouponByCode(ctx, code)
}

func (db *DB) RedeemCoupon(ctx context.Context, couponID uuid.UUID, now time.Time) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).RedeemCoupon(ctx, couponID, now)
}

func (db *DB) GetSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).GetSubscription(ctx, userID)
}

func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).CreateBooking(ctx, b)
}

func (db *DB) UpdateBooking(ctx context.Context, b *models.Booking) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).UpdateBooking(ctx, b)
}

func (db *DB) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).GetBooking(ctx, id)
}

func (db *DB) LockBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).LockBooking(ctx, id)
}

func (db *DB) GetBookingByOrderID(ctx context.Context, orderID string) (*models.Booking, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).GetBookingByOrderID(ctx, orderID)
}

func (db *DB) ListBookingsByBatch(ctx context.Context, batchID uuid.UUID) ([]models.Booking, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).ListBookingsByBatch(ctx, batchID)
}

func (db *DB) ListBookingsByTraveler(ctx context.Context, travelerID uuid.UUID) ([]models.Booking, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).ListBookingsByTraveler(ctx, travelerID)
}

func (db *DB) ListUnpaidBookings(ctx context.Context) ([]models.Booking, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).ListUnpaidBookings(ctx)
}

func (db *DB) RecordPayment(ctx context.Context, p *models.BookingPayment) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).RecordPayment(ctx, p)
}

func (db *DB) GetOwnerCommission(ctx context.Context, ownerID uuid.UUID) (*float64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).GetOwnerCommission(ctx, ownerID)
}

func (db *DB) GetPayout(ctx context.Context, batchID uuid.UUID) (*models.Payout, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).GetPayout(ctx, batchID)
}

func (db *DB) UpsertPayout(ctx context.Context, p *models.Payout) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return (&view{t: &db.t}).UpsertPayout(ctx, p)
}
