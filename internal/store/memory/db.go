// Package memory is an in-process store.Store for tests and local development.
// Transactions are serialized: WithTx holds the database lock for its whole
// duration and restores a snapshot when fn fails.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/internal/store"
)

type tables struct {
	listings      map[uuid.UUID]models.Listing
	batches       map[uuid.UUID]models.Batch
	coupons       map[uuid.UUID]models.Coupon
	subscriptions map[uuid.UUID]models.Subscription
	bookings      map[uuid.UUID]models.Booking
	payments      map[string]models.BookingPayment
	commissions   map[uuid.UUID]float64
	payouts       map[uuid.UUID]models.Payout
}

func newTables() tables {
	return tables{
		listings:      make(map[uuid.UUID]models.Listing),
		batches:       make(map[uuid.UUID]models.Batch),
		coupons:       make(map[uuid.UUID]models.Coupon),
		subscriptions: make(map[uuid.UUID]models.Subscription),
		bookings:      make(map[uuid.UUID]models.Booking),
		payments:      make(map[string]models.BookingPayment),
		commissions:   make(map[uuid.UUID]float64),
		payouts:       make(map[uuid.UUID]models.Payout),
	}
}

func (t tables) clone() tables {
	c := newTables()
	for k, v := range t.listings {
		c.listings[k] = v
	}
	for k, v := range t.batches {
		c.batches[k] = v
	}
	for k, v := range t.coupons {
		c.coupons[k] = v
	}
	for k, v := range t.subscriptions {
		c.subscriptions[k] = v
	}
	for k, v := range t.bookings {
		c.bookings[k] = v
	}
	for k, v := range t.payments {
		c.payments[k] = v
	}
	for k, v := range t.commissions {
		c.commissions[k] = v
	}
	for k, v := range t.payouts {
		c.payouts[k] = v
	}
	return c
}

// DB is a mutex-guarded store.Store.
type DB struct {
	mu sync.Mutex
	t  tables
}

var _ store.Store = (*DB)(nil)

// New returns an empty DB.
func New() *DB {
	return &DB{t: newTables()}
}

// WithTx runs fn with exclusive access. Writes are discarded if fn returns an error.
func (db *DB) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	snapshot := db.t.clone()
	if err := fn(&view{t: &db.t}); err != nil {
		db.t = snapshot
		return err
	}
	return nil
}

// Seeding helpers for tests and local runs.

func (db *DB) PutListing(l models.Listing) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t.listings[l.ID] = l
}

func (db *DB) PutBatch(b models.Batch) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t.batches[b.ID] = b
}

func (db *DB) PutCoupon(c models.Coupon) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t.coupons[c.ID] = c
}

func (db *DB) PutSubscription(s models.Subscription) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t.subscriptions[s.UserID] = s
}

func (db *DB) PutBooking(b models.Booking) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t.bookings[b.ID] = b
}

func (db *DB) SetOwnerCommission(ownerID uuid.UUID, rate float64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t.commissions[ownerID] = rate
}

// PaymentCount returns the number of recorded gateway payments.
func (db *DB) PaymentCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.t.payments)
}

// view implements store.Queries over tables without locking; callers hold DB.mu.
type view struct {
	t *tables
}

func (v *view) GetListing(_ context.Context, id uuid.UUID) (*models.Listing, error) {
	l, ok := v.t.listings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (v *view) GetBatch(_ context.Context, id uuid.UUID) (*models.Batch, error) {
	b, ok := v.t.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (v *view) ListEndedBatches(_ context.Context, before time.Time) ([]models.Batch, error) {
	var out []models.Batch
	for _, b := range v.t.batches {
		if b.EndDate.Before(before) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(out[j].EndDate) })
	return out, nil
}

func (v *view) ReserveSlots(_ context.Context, batchID uuid.UUID, count int) (*models.Batch, error) {
	b, ok := v.t.batches[batchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if b.AvailableSlots < count {
		return nil, store.ErrInsufficientSlots
	}
	b.AvailableSlots -= count
	if b.AvailableSlots == 0 {
		b.Status = models.BatchStatusFull
	}
	b.UpdatedAt = time.Now()
	v.t.batches[batchID] = b
	return &b, nil
}

func (v *view) ReleaseSlots(_ context.Context, batchID uuid.UUID, count int) (*models.Batch, error) {
	b, ok := v.t.batches[batchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	b.AvailableSlots += count
	if b.AvailableSlots > b.Capacity {
		b.AvailableSlots = b.Capacity
	}
	if b.Status == models.BatchStatusFull && b.AvailableSlots > 0 {
		b.Status = models.BatchStatusActive
	}
	b.UpdatedAt = time.Now()
	v.t.batches[batchID] = b
	return &b, nil
}

func (v *view) GetCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	for _, c := range v.t.coupons {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (v *view) RedeemCoupon(_ context.Context, couponID uuid.UUID, now time.Time) (bool, error) {
	c, ok := v.t.coupons[couponID]
	if !ok || !c.IsActive || c.Expired(now) || c.Exhausted() {
		return false, nil
	}
	c.TimesUsed++
	v.t.coupons[couponID] = c
	return true, nil
}

func (v *view) GetSubscription(_ context.Context, userID uuid.UUID) (*models.Subscription, error) {
	s, ok := v.t.subscriptions[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (v *view) CreateBooking(_ context.Context, b *models.Booking) error {
	if _, exists := v.t.bookings[b.ID]; exists {
		return fmt.Errorf("booking %s already exists", b.ID)
	}
	v.t.bookings[b.ID] = *b
	return nil
}

func (v *view) UpdateBooking(_ context.Context, b *models.Booking) error {
	if _, exists := v.t.bookings[b.ID]; !exists {
		return store.ErrNotFound
	}
	v.t.bookings[b.ID] = *b
	return nil
}

func (v *view) GetBooking(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	b, ok := v.t.bookings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

// LockBooking is GetBooking: the DB lock already serializes transactions.
func (v *view) LockBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return v.GetBooking(ctx, id)
}

func (v *view) GetBookingByOrderID(_ context.Context, orderID string) (*models.Booking, error) {
	for _, b := range v.t.bookings {
		if b.GatewayOrderID != "" && b.GatewayOrderID == orderID {
			return &b, nil
		}
	}
	return nil, store.ErrNotFound
}

func (v *view) listBookings(keep func(models.Booking) bool) []models.Booking {
	var out []models.Booking
	for _, b := range v.t.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (v *view) ListBookingsByBatch(_ context.Context, batchID uuid.UUID) ([]models.Booking, error) {
	return v.listBookings(func(b models.Booking) bool { return b.BatchID == batchID }), nil
}

func (v *view) ListBookingsByTraveler(_ context.Context, travelerID uuid.UUID) ([]models.Booking, error) {
	return v.listBookings(func(b models.Booking) bool { return b.TravelerID == travelerID }), nil
}

func (v *view) ListUnpaidBookings(_ context.Context) ([]models.Booking, error) {
	return v.listBookings(func(b models.Booking) bool {
		return b.PaymentStatus.Unpaid() && b.BalanceDue > 0
	}), nil
}

func (v *view) RecordPayment(_ context.Context, p *models.BookingPayment) (bool, error) {
	if _, seen := v.t.payments[p.GatewayPaymentID]; seen {
		return false, nil
	}
	v.t.payments[p.GatewayPaymentID] = *p
	return true, nil
}

func (v *view) GetOwnerCommission(_ context.Context, ownerID uuid.UUID) (*float64, error) {
	rate, ok := v.t.commissions[ownerID]
	if !ok {
		return nil, nil
	}
	return &rate, nil
}

func (v *view) GetPayout(_ context.Context, batchID uuid.UUID) (*models.Payout, error) {
	p, ok := v.t.payouts[batchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (v *view) UpsertPayout(_ context.Context, p *models.Payout) error {
	v.t.payouts[p.BatchID] = *p
	return nil
}
