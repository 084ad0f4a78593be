package bookings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripnest/backend/internal/inventory"
	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/internal/payments"
	"github.com/tripnest/backend/internal/pricing"
	"github.com/tripnest/backend/internal/store/memory"
	"github.com/tripnest/backend/pkg/apperror"
)

type fixture struct {
	db       *memory.DB
	gw       *payments.Sandbox
	svc      *Service
	now      time.Time
	owner    uuid.UUID
	traveler uuid.UUID
	listing  models.Listing
	batch    models.Batch
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	f := &fixture{
		db:       memory.New(),
		gw:       payments.NewSandbox("test-secret"),
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		owner:    uuid.New(),
		traveler: uuid.New(),
	}
	f.listing = models.Listing{
		ID:                        uuid.New(),
		Kind:                      models.ListingKindTrip,
		OwnerID:                   f.owner,
		Title:                     "Spiti Valley",
		BasePrice:                 5000,
		Currency:                  "INR",
		SpotReservationPercentage: 20,
		BalanceDueDays:            7,
		IsActive:                  true,
	}
	f.batch = models.Batch{
		ID:             uuid.New(),
		ListingID:      f.listing.ID,
		StartDate:      f.now.AddDate(0, 0, 30),
		EndDate:        f.now.AddDate(0, 0, 36),
		Capacity:       capacity,
		AvailableSlots: capacity,
		Status:         models.BatchStatusActive,
	}
	f.db.PutListing(f.listing)
	f.db.PutBatch(f.batch)
	f.svc = NewService(f.db, f.gw, pricing.NewCalculator(0.05), inventory.NewManager(nil), "INR", nil,
		WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) request(travelers int, pt models.PaymentType, coupon string) CreateRequest {
	return CreateRequest{
		TravelerID:        f.traveler,
		ListingID:         f.listing.ID,
		BatchID:           f.batch.ID,
		NumberOfTravelers: travelers,
		PaymentType:       pt,
		CouponCode:        coupon,
	}
}

func (f *fixture) slots(t *testing.T) int {
	t.Helper()
	b, err := f.db.GetBatch(context.Background(), f.batch.ID)
	require.NoError(t, err)
	return b.AvailableSlots
}

func (f *fixture) addCoupon(limit *int) models.Coupon {
	c := models.Coupon{ID: uuid.New(), Code: "MONSOON10", Type: models.CouponTypePercentage, Value: 10, Scope: models.CouponScopeGlobal, UsageLimit: limit, IsActive: true}
	f.db.PutCoupon(c)
	return c
}

func TestCreate_PartialWithProAndCoupon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.db.PutSubscription(models.Subscription{UserID: f.traveler, Tier: "pro", Status: "active", ExpiresAt: f.now.AddDate(1, 0, 0)})
	f.addCoupon(nil)

	res, err := f.svc.Create(ctx, f.request(2, models.PaymentTypePartial, "MONSOON10"))
	require.NoError(t, err)

	b := res.Booking
	assert.Equal(t, 8550.0, b.TotalPrice)
	assert.Equal(t, 500.0, b.SubscriptionDiscount)
	assert.Equal(t, 950.0, b.CouponDiscount)
	assert.Equal(t, 1710.0, b.AmountDueNow)
	assert.Equal(t, 0.0, b.AmountPaid)
	assert.Equal(t, 8550.0, b.BalanceDue)
	assert.Equal(t, models.PaymentStatusReserved, b.PaymentStatus)
	assert.Equal(t, models.RefundStatusNone, b.RefundStatus)
	assert.Equal(t, "MONSOON10", b.CouponCode)

	require.NotNil(t, res.Order)
	assert.Equal(t, int64(171000), res.Order.Amount)
	assert.Equal(t, "INR", res.Order.Currency)
	assert.Equal(t, b.ID.String(), res.Order.Receipt)
	assert.Equal(t, res.Order.ID, b.GatewayOrderID)

	assert.Equal(t, 8, f.slots(t))
	c, err := f.db.GetCouponByCode(ctx, "MONSOON10")
	require.NoError(t, err)
	assert.Equal(t, 1, c.TimesUsed)
}

func TestCreate_FullPaymentStartsPending(t *testing.T) {
	f := newFixture(t, 10)
	res, err := f.svc.Create(context.Background(), f.request(1, models.PaymentTypeFull, ""))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPendingPayment, res.Booking.PaymentStatus)
	assert.Equal(t, 5000.0, res.Booking.AmountDueNow)
	assert.Equal(t, int64(500000), res.Order.Amount)
}

func TestCreate_ConcurrentBookingsNeverOversell(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Create(ctx, f.request(3, models.PaymentTypeFull, ""))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, inventory.ErrInsufficientSlots), "unexpected error: %v", err)
		assert.Equal(t, "Not enough slots available", err.Error())
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, f.slots(t))
}

func TestCreate_CouponUsageLimitUnderContention(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 50)
	limit := 3
	f.addCoupon(&limit)

	var wg sync.WaitGroup
	results := make([]*CreateResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Create(ctx, f.request(1, models.PaymentTypeFull, "MONSOON10"))
			if err == nil {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	discounted := 0
	for _, res := range results {
		require.NotNil(t, res)
		if res.Booking.CouponCode != "" {
			discounted++
			assert.Equal(t, 4500.0, res.Booking.TotalPrice)
		} else {
			assert.Equal(t, 5000.0, res.Booking.TotalPrice)
		}
	}
	assert.Equal(t, 3, discounted)
	c, err := f.db.GetCouponByCode(ctx, "MONSOON10")
	require.NoError(t, err)
	assert.Equal(t, 3, c.TimesUsed)
}

func TestCreate_GatewayFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	f.addCoupon(nil)
	f.gw.FailOrders(true)

	_, err := f.svc.Create(ctx, f.request(2, models.PaymentTypePartial, "MONSOON10"))
	require.Error(t, err)
	assert.True(t, apperror.IsGateway(err))

	assert.Equal(t, 5, f.slots(t))
	c, err := f.db.GetCouponByCode(ctx, "MONSOON10")
	require.NoError(t, err)
	assert.Zero(t, c.TimesUsed)
	list, err := f.db.ListBookingsByTraveler(ctx, f.traveler)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)

	otherBatch := models.Batch{ID: uuid.New(), ListingID: uuid.New(), Capacity: 5, AvailableSlots: 5, Status: models.BatchStatusActive}
	f.db.PutBatch(otherBatch)
	inactive := f.batch
	inactive.ID = uuid.New()
	inactive.Status = models.BatchStatusInactive
	f.db.PutBatch(inactive)

	noDeposit := f.listing
	noDeposit.ID = uuid.New()
	noDeposit.SpotReservationPercentage = 0
	f.db.PutListing(noDeposit)
	noDepositBatch := f.batch
	noDepositBatch.ID = uuid.New()
	noDepositBatch.ListingID = noDeposit.ID
	f.db.PutBatch(noDepositBatch)

	tests := []struct {
		name  string
		mod   func(r *CreateRequest)
		check func(error) bool
	}{
		{"zero travelers", func(r *CreateRequest) { r.NumberOfTravelers = 0 }, apperror.IsValidation},
		{"bad payment type", func(r *CreateRequest) { r.PaymentType = "Later" }, apperror.IsValidation},
		{"unknown trip", func(r *CreateRequest) { r.ListingID = uuid.New() }, func(err error) bool { return errors.Is(err, ErrTripNotFound) }},
		{"unknown batch", func(r *CreateRequest) { r.BatchID = uuid.New() }, func(err error) bool { return errors.Is(err, ErrBatchNotFound) }},
		{"batch of another trip", func(r *CreateRequest) { r.BatchID = otherBatch.ID }, func(err error) bool { return errors.Is(err, ErrBatchNotFound) }},
		{"inactive batch", func(r *CreateRequest) { r.BatchID = inactive.ID }, func(err error) bool { return errors.Is(err, ErrBatchNotFound) }},
		{"partial not offered", func(r *CreateRequest) { r.ListingID = noDeposit.ID; r.BatchID = noDepositBatch.ID }, apperror.IsValidation},
		{"too many travelers", func(r *CreateRequest) { r.NumberOfTravelers = 6 }, func(err error) bool { return errors.Is(err, inventory.ErrInsufficientSlots) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(1, models.PaymentTypePartial, "")
			tt.mod(&req)
			_, err := f.svc.Create(ctx, req)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
	assert.Equal(t, 5, f.slots(t))
}

func TestConfirmPayment_FullAndIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	res, err := f.svc.Create(ctx, f.request(2, models.PaymentTypeFull, ""))
	require.NoError(t, err)

	b, err := f.svc.ConfirmPayment(ctx, res.Booking.ID, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaidInFull, b.PaymentStatus)
	assert.Equal(t, 10000.0, b.AmountPaid)
	assert.Zero(t, b.BalanceDue)
	assert.Equal(t, "pay_1", b.GatewayPaymentID)

	again, err := f.svc.ConfirmPayment(ctx, res.Booking.ID, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, again.AmountPaid)
	assert.Equal(t, 1, f.db.PaymentCount())
}

func TestPartialThenBalanceFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	f.db.PutSubscription(models.Subscription{UserID: f.traveler, Tier: "pro", Status: "active", ExpiresAt: f.now.AddDate(1, 0, 0)})
	f.addCoupon(nil)
	traveler := models.Actor{UserID: f.traveler, Role: models.RoleTraveler}

	res, err := f.svc.Create(ctx, f.request(2, models.PaymentTypePartial, "MONSOON10"))
	require.NoError(t, err)

	sig := f.gw.Sign(res.Order.ID, "pay_dep")
	b, err := f.svc.VerifyAndConfirm(ctx, traveler, res.Booking.ID, res.Order.ID, "pay_dep", sig)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusReserved, b.PaymentStatus)
	assert.Equal(t, 1710.0, b.AmountPaid)
	assert.Equal(t, 6840.0, b.BalanceDue)
	assert.Equal(t, b.TotalPrice, b.AmountPaid+b.BalanceDue)

	bal, err := f.svc.RequestBalancePayment(ctx, traveler, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPendingBalance, bal.Booking.PaymentStatus)
	assert.Equal(t, int64(684000), bal.Order.Amount)

	same, err := f.svc.RequestBalancePayment(ctx, traveler, b.ID)
	require.NoError(t, err)
	assert.Equal(t, bal.Order.ID, same.Order.ID)

	b, err = f.svc.ConfirmByOrder(ctx, bal.Order.ID, "pay_bal", 684000)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaidInFull, b.PaymentStatus)
	assert.Equal(t, 8550.0, b.AmountPaid)
	assert.Zero(t, b.BalanceDue)

	_, err = f.svc.RequestBalancePayment(ctx, traveler, b.ID)
	assert.Equal(t, CodeNoBalanceDue, apperror.ConflictCode(err))
}

func TestConfirmByOrder_BalanceAfterRefundIsUnapplied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	traveler := models.Actor{UserID: f.traveler, Role: models.RoleTraveler}

	res, err := f.svc.Create(ctx, f.request(1, models.PaymentTypePartial, ""))
	require.NoError(t, err)
	_, err = f.svc.ConfirmByOrder(ctx, res.Order.ID, "pay_dep", res.Order.Amount)
	require.NoError(t, err)
	bal, err := f.svc.RequestBalancePayment(ctx, traveler, res.Booking.ID)
	require.NoError(t, err)

	// a processed refund closes the balance order
	b, err := f.db.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	b.PendingOrderAmount = 0
	b.AmountDueNow = 0
	b.BalanceDue = 0
	b.PaymentStatus = models.PaymentStatusCancelled
	b.RefundStatus = models.RefundStatusProcessed
	f.db.PutBooking(*b)

	_, err = f.svc.ConfirmByOrder(ctx, bal.Order.ID, "pay_late", bal.Order.Amount)
	require.Error(t, err)
	assert.Equal(t, CodeOrderMismatch, apperror.ConflictCode(err))
	assert.True(t, PaymentUnapplied(err))
	assert.Equal(t, 1, f.db.PaymentCount())

	assert.False(t, PaymentUnapplied(apperror.NotFoundError{Resource: "order"}))
	assert.False(t, PaymentUnapplied(nil))
}

func TestVerifyAndConfirm_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	res, err := f.svc.Create(ctx, f.request(1, models.PaymentTypeFull, ""))
	require.NoError(t, err)
	traveler := models.Actor{UserID: f.traveler, Role: models.RoleTraveler}

	_, err = f.svc.VerifyAndConfirm(ctx, traveler, res.Booking.ID, res.Order.ID, "pay_1", "forged")
	assert.True(t, apperror.IsValidation(err))

	stranger := models.Actor{UserID: uuid.New(), Role: models.RoleTraveler}
	_, err = f.svc.VerifyAndConfirm(ctx, stranger, res.Booking.ID, res.Order.ID, "pay_1", f.gw.Sign(res.Order.ID, "pay_1"))
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.svc.ConfirmByOrder(ctx, res.Order.ID, "pay_1", 1)
	assert.Equal(t, CodeAmountMismatch, apperror.ConflictCode(err))
	assert.Zero(t, f.db.PaymentCount())
}

func TestAutoCancelUnpaidBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	traveler := models.Actor{UserID: f.traveler, Role: models.RoleTraveler}

	res, err := f.svc.Create(ctx, f.request(2, models.PaymentTypePartial, ""))
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, res.Booking.ID, "pay_dep")
	require.NoError(t, err)
	paid, err := f.svc.Create(ctx, f.request(1, models.PaymentTypeFull, ""))
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, paid.Booking.ID, "pay_full")
	require.NoError(t, err)
	require.Equal(t, 2, f.slots(t))

	// Before the deadline nothing changes.
	n, err := f.svc.AutoCancelUnpaidBalance(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Past batch start minus balance-due days.
	f.now = f.batch.StartDate.AddDate(0, 0, -7).Add(time.Hour)

	got, err := f.svc.Get(ctx, traveler, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, got.PaymentStatus, "derived status applies before the job runs")
	assert.Equal(t, 2, f.slots(t))

	n, err = f.svc.AutoCancelUnpaidBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 4, f.slots(t))

	n, err = f.svc.AutoCancelUnpaidBalance(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 4, f.slots(t))

	stored, err := f.db.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, stored.PaymentStatus)
	assert.Equal(t, models.CancelledBySystem, stored.CancellationInitiator)

	full, err := f.svc.Get(ctx, traveler, paid.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaidInFull, full.PaymentStatus)

	_, err = f.svc.ConfirmPayment(ctx, res.Booking.ID, "pay_late")
	assert.Error(t, err)
}

func TestReads_AccessControl(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	res, err := f.svc.Create(ctx, f.request(1, models.PaymentTypeFull, ""))
	require.NoError(t, err)

	owner := models.Actor{UserID: f.owner, Role: models.RoleOrganizer}
	admin := models.Actor{UserID: uuid.New(), Role: models.RoleAdmin}
	stranger := models.Actor{UserID: uuid.New(), Role: models.RoleTraveler}
	otherOrganizer := models.Actor{UserID: uuid.New(), Role: models.RoleOrganizer}

	_, err = f.svc.Get(ctx, owner, res.Booking.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, admin, res.Booking.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, stranger, res.Booking.ID)
	assert.True(t, apperror.IsForbidden(err))

	list, err := f.svc.ListForBatch(ctx, owner, f.batch.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	_, err = f.svc.ListForBatch(ctx, otherOrganizer, f.batch.ID)
	assert.True(t, apperror.IsForbidden(err))

	mine, err := f.svc.ListForTraveler(ctx, models.Actor{UserID: f.traveler, Role: models.RoleTraveler})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
