package refunds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripnest/backend/internal/inventory"
	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/internal/payments"
	"github.com/tripnest/backend/internal/store"
	"github.com/tripnest/backend/internal/store/memory"
	"github.com/tripnest/backend/pkg/apperror"
)

type fixture struct {
	db       *memory.DB
	gw       *payments.Sandbox
	svc      *Service
	now      time.Time
	batch    models.Batch
	booking  models.Booking
	traveler models.Actor
	owner    models.Actor
	admin    models.Actor
}

func newFixture(t *testing.T, kind models.ListingKind) *fixture {
	t.Helper()
	ownerRole := models.RoleOrganizer
	if kind == models.ListingKindExperience {
		ownerRole = models.RoleVendor
	}
	f := &fixture{
		db:       memory.New(),
		gw:       payments.NewSandbox("test-secret"),
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		traveler: models.Actor{UserID: uuid.New(), Role: models.RoleTraveler},
		owner:    models.Actor{UserID: uuid.New(), Role: ownerRole},
		admin:    models.Actor{UserID: uuid.New(), Role: models.RoleAdmin},
	}
	listing := models.Listing{ID: uuid.New(), Kind: kind, OwnerID: f.owner.UserID, Title: "Rishikesh", BasePrice: 5000, BalanceDueDays: 7, SpotReservationPercentage: 20, IsActive: true}
	f.batch = models.Batch{
		ID:             uuid.New(),
		ListingID:      listing.ID,
		StartDate:      f.now.AddDate(0, 0, 30),
		EndDate:        f.now.AddDate(0, 0, 32),
		Capacity:       10,
		AvailableSlots: 8,
		Status:         models.BatchStatusActive,
	}
	f.booking = models.Booking{
		ID:                uuid.New(),
		Vertical:          kind,
		TravelerID:        f.traveler.UserID,
		OwnerID:           f.owner.UserID,
		ListingID:         listing.ID,
		BatchID:           f.batch.ID,
		NumberOfTravelers: 2,
		UnitPrice:         5000,
		TotalPrice:        10000,
		PaymentType:       models.PaymentTypePartial,
		AmountPaid:        2000,
		BalanceDue:        8000,
		PaymentStatus:     models.PaymentStatusReserved,
		RefundStatus:      models.RefundStatusNone,
		GatewayOrderID:    "order_1",
		GatewayPaymentID:  "pay_1",
		CreatedAt:         f.now,
		UpdatedAt:         f.now,
	}
	f.db.PutListing(listing)
	f.db.PutBatch(f.batch)
	f.db.PutBooking(f.booking)
	f.svc = NewService(f.db, f.gw, inventory.NewManager(nil), nil, WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) load(t *testing.T) *models.Booking {
	t.Helper()
	b, err := f.db.GetBooking(context.Background(), f.booking.ID)
	require.NoError(t, err)
	return b
}

func (f *fixture) slots(t *testing.T) int {
	t.Helper()
	b, err := f.db.GetBatch(context.Background(), f.batch.ID)
	require.NoError(t, err)
	return b.AvailableSlots
}

func TestRefund_ApproveThenProcess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.ListingKindTrip)

	b, err := f.svc.Request(ctx, f.traveler, f.booking.ID, "  change of plans ")
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusRequested, b.RefundStatus)
	assert.Equal(t, "change of plans", b.RefundReason)
	assert.Equal(t, models.CancelledByTraveler, b.CancellationInitiator)
	require.NotNil(t, b.RefundRequestDate)

	b, err = f.svc.Approve(ctx, f.owner, f.booking.ID, 1500, "partial refund")
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusApprovedByOrganizer, b.RefundStatus)
	require.NotNil(t, b.ApprovedRefundAmount)
	assert.Equal(t, 1500.0, *b.ApprovedRefundAmount)

	res, err := f.svc.Process(ctx, f.admin, f.booking.ID, "UTR123")
	require.NoError(t, err)
	require.NotNil(t, res.Refund)
	assert.Equal(t, int64(150000), res.Refund.Amount)

	got := f.load(t)
	assert.Equal(t, models.RefundStatusProcessed, got.RefundStatus)
	assert.Equal(t, models.PaymentStatusCancelled, got.PaymentStatus)
	assert.Equal(t, 500.0, got.AmountPaid)
	assert.Equal(t, 0.0, got.BalanceDue)
	assert.Equal(t, res.Refund.ID, got.GatewayRefundID)
	assert.Equal(t, "UTR123", got.RefundUTR)
	require.NotNil(t, got.RefundProcessedAt)
	assert.Equal(t, 10, f.slots(t))
	assert.Len(t, f.gw.Refunds(), 1)
}

func TestRefund_RejectByOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.ListingKindTrip)
	_, err := f.svc.Request(ctx, f.traveler, f.booking.ID, "sick")
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, f.owner, f.booking.ID, " ")
	assert.True(t, apperror.IsValidation(err))

	b, err := f.svc.Reject(ctx, f.owner, f.booking.ID, "non-refundable window")
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusRejectedByOrganizer, b.RefundStatus)
	assert.Equal(t, "non-refundable window", b.RejectionReason)

	_, err = f.svc.Process(ctx, f.admin, f.booking.ID, "")
	assert.True(t, apperror.IsConflict(err))
	assert.Equal(t, models.PaymentStatusReserved, f.load(t).PaymentStatus)
	assert.Equal(t, 8, f.slots(t))
}

func TestRefund_RejectByAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.ListingKindTrip)
	_, err := f.svc.Request(ctx, f.traveler, f.booking.ID, "sick")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.owner, f.booking.ID, 2000, "")
	require.NoError(t, err)

	b, err := f.svc.RejectByAdmin(ctx, f.admin, f.booking.ID, "duplicate claim")
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusRejectedByAdmin, b.RefundStatus)
	assert.Empty(t, f.gw.Refunds())
}

func TestRefund_GatewayFailureKeepsApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.ListingKindTrip)
	_, err := f.svc.Request(ctx, f.traveler, f.booking.ID, "sick")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.owner, f.booking.ID, 2000, "")
	require.NoError(t, err)

	f.gw.FailRefunds(true)
	_, err = f.svc.Process(ctx, f.admin, f.booking.ID, "")
	require.Error(t, err)
	assert.True(t, apperror.IsGateway(err))

	got := f.load(t)
	assert.Equal(t, models.RefundStatusApprovedByOrganizer, got.RefundStatus)
	assert.Equal(t, models.PaymentStatusReserved, got.PaymentStatus)
	assert.Equal(t, 2000.0, got.AmountPaid)
	assert.Equal(t, 8, f.slots(t))
	assert.Equal(t, got.RefundReceipt(), got.RefundAttemptKey)
	assert.Nil(t, got.RefundAttemptAt, "a refused refund releases its claim")

	f.gw.FailRefunds(false)
	_, err = f.svc.Process(ctx, f.admin, f.booking.ID, "")
	require.NoError(t, err)
	got = f.load(t)
	assert.Equal(t, models.RefundStatusProcessed, got.RefundStatus)
	assert.Nil(t, got.RefundAttemptAt)
	require.Len(t, f.gw.Refunds(), 1)
	assert.Equal(t, got.RefundReceipt(), f.gw.Refunds()[0].Receipt)
}

// flakyStore fails the write that records a processed refund once.
type flakyStore struct {
	*memory.DB
	failRecord bool
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	return s.DB.WithTx(ctx, func(q store.Queries) error {
		return fn(&flakyQueries{Queries: q, s: s})
	})
}

type flakyQueries struct {
	store.Queries
	s *flakyStore
}

func (q *flakyQueries) UpdateBooking(ctx context.Context, b *models.Booking) error {
	if q.s.failRecord && b.RefundStatus == models.RefundStatusProcessed {
		q.s.failRecord = false
		return errors.New("connection reset")
	}
	return q.Queries.UpdateBooking(ctx, b)
}

func TestRefund_RecordFailureNeverRefundsTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.ListingKindTrip)
	flaky := &flakyStore{DB: f.db, failRecord: true}
	svc := NewService(flaky, f.gw, inventory.NewManager(nil), nil, WithClock(func() time.Time { return f.now }))

	_, err := svc.Request(ctx, f.traveler, f.booking.ID, "sick")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, f.owner, f.booking.ID, 1500, "")
	require.NoError(t, err)

	_, err = svc.Process(ctx, f.admin, f.booking.ID, "")
	require.Error(t, err)
	assert.True(t, apperror.IsInternal(err))
	got := f.load(t)
	assert.Equal(t, models.RefundStatusApprovedByOrganizer, got.RefundStatus)
	assert.NotNil(t, got.RefundAttemptAt)
	require.Len(t, f.gw.Refunds(), 1)

	// the claim of the failed call is still live
	_, err = svc.Process(ctx, f.admin, f.booking.ID, "")
	assert.Equal(t, CodeRefundProcessing, apperror.ConflictCode(err))
	_, err = svc.RejectByAdmin(ctx, f.admin, f.booking.ID, "changed my mind")
	assert.Equal(t, CodeRefundProcessing, apperror.ConflictCode(err))

	f.now = f.now.Add(ClaimTTL)
	res, err := svc.Process(ctx, f.admin, f.booking.ID, "UTR9")
	require.NoError(t, err)
	assert.Len(t, f.gw.Refunds(), 1, "the retry reuses the refund already sent")
	assert.Equal(t, f.gw.Refunds()[0].ID, res.Refund.ID)

	got = f.load(t)
	assert.Equal(t, models.RefundStatusProcessed, got.RefundStatus)
	assert.Equal(t, res.Refund.ID, got.GatewayRefundID)
	assert.Equal(t, 500.0, got.AmountPaid)
	assert.Equal(t, 10, f.slots(t))
}

func TestRefund_ForbiddenActors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.ListingKindTrip)
	stranger := models.Actor{UserID: uuid.New(), Role: models.RoleTraveler}
	otherOrganizer := models.Actor{UserID: uuid.New(), Role: models.RoleOrganizer}
	vendorWithSameID := models.Actor{UserID: f.owner.UserID, Role: models.RoleVendor}

	_, err := f.svc.Request(ctx, stranger, f.booking.ID, "mine now")
	assert.True(t, apperror.IsForbidden(err))
	_, err = f.svc.Request(ctx, f.owner, f.booking.ID, "owner request")
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.svc.Request(ctx, f.traveler, f.booking.ID, "sick")
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, otherOrganizer, f.booking.ID, 100, "")
	assert.True(t, apperror.IsForbidden(err))
	_, err = f.svc.Approve(ctx, vendorWithSameID, f.booking.ID, 100, "")
	assert.True(t, apperror.IsForbidden(err))
	_, err = f.svc.Approve(ctx, f.traveler, f.booking.ID, 100, "")
	assert.True(t, apperror.IsForbidden(err))
	_, err = f.svc.Approve(ctx, f.admin, f.booking.ID, 100, "")
	assert.True(t, apperror.IsForbidden(err))
	_, err = f.svc.Process(ctx, f.owner, f.booking.ID, "")
	assert.True(t, apperror.IsForbidden(err))

	// admin cannot skip the owner's decision
	_, err = f.svc.Process(ctx, f.admin, f.booking.ID, "")
	assert.True(t, apperror.IsConflict(err))
	assert.Equal(t, models.RefundStatusRequested, f.load(t).RefundStatus)

	_, err = f.svc.Request(ctx, f.traveler, uuid.New(), "missing")
	assert.True(t, apperror.IsNotFound(err))
}

func TestRefund_ApproveCapPerVertical(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		kind   models.ListingKind
		ok     float64
		tooBig float64
	}{
		{name: "trip caps at amount paid", kind: models.ListingKindTrip, ok: 2000, tooBig: 2000.01},
		{name: "experience caps at total price", kind: models.ListingKindExperience, ok: 10000, tooBig: 10000.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.kind)
			_, err := f.svc.Request(ctx, f.traveler, f.booking.ID, "sick")
			require.NoError(t, err)

			_, err = f.svc.Approve(ctx, f.owner, f.booking.ID, tt.tooBig, "")
			assert.True(t, apperror.IsValidation(err))
			_, err = f.svc.Approve(ctx, f.owner, f.booking.ID, 0, "")
			assert.True(t, apperror.IsValidation(err))
			assert.Equal(t, models.RefundStatusRequested, f.load(t).RefundStatus)

			b, err := f.svc.Approve(ctx, f.owner, f.booking.ID, tt.ok, "")
			require.NoError(t, err)
			assert.Equal(t, tt.ok, *b.ApprovedRefundAmount)
		})
	}
}

func TestRefund_ProcessAfterAutoCancelKeepsSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.ListingKindTrip)
	b := f.booking
	b.PaymentStatus = models.PaymentStatusCancelled
	b.CancellationInitiator = models.CancelledBySystem
	f.db.PutBooking(b)
	// auto-cancel already released the two slots
	batch := f.batch
	batch.AvailableSlots = 10
	f.db.PutBatch(batch)

	_, err := f.svc.Request(ctx, f.traveler, b.ID, "deposit back please")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.owner, b.ID, 2000, "")
	require.NoError(t, err)
	_, err = f.svc.Process(ctx, f.admin, b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 10, f.slots(t))
}

func TestRefund_ProcessNeedsCapturedPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.ListingKindExperience)
	b := f.booking
	b.GatewayPaymentID = ""
	f.db.PutBooking(b)

	_, err := f.svc.Request(ctx, f.traveler, b.ID, "sick")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.owner, b.ID, 500, "")
	require.NoError(t, err)
	_, err = f.svc.Process(ctx, f.admin, b.ID, "")
	assert.Equal(t, CodeNoPayment, apperror.ConflictCode(err))
	assert.Equal(t, models.RefundStatusApprovedByOrganizer, f.load(t).RefundStatus)
}
