package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/internal/store"
)

var batchCols = []string{"id", "listing_id", "start_date", "end_date", "time_slot", "capacity",
	"available_slots", "status", "price_override", "is_last_minute_deal", "deal_price", "created_at", "updated_at"}

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return mock, New(mock)
}

func batchRow(b models.Batch) *pgxmock.Rows {
	return pgxmock.NewRows(batchCols).AddRow(b.ID, b.ListingID, b.StartDate, b.EndDate, b.TimeSlot, b.Capacity,
		b.AvailableSlots, b.Status, nil, false, nil, b.CreatedAt, b.UpdatedAt)
}

func sampleBatch(available int, status models.BatchStatus) models.Batch {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return models.Batch{
		ID:             uuid.New(),
		ListingID:      uuid.New(),
		StartDate:      now.AddDate(0, 0, 30),
		EndDate:        now.AddDate(0, 0, 32),
		Capacity:       10,
		AvailableSlots: available,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

var (
	reserveSQL = regexp.QuoteMeta("WHERE id = $1 AND available_slots >= $2")
	existsSQL  = regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM batches WHERE id = $1)")
)

func TestReserveSlots(t *testing.T) {
	ctx := context.Background()

	t.Run("decrements when enough remain", func(t *testing.T) {
		mock, s := newMock(t)
		want := sampleBatch(0, models.BatchStatusFull)
		mock.ExpectQuery(reserveSQL).WithArgs(want.ID, 2).WillReturnRows(batchRow(want))

		got, err := s.ReserveSlots(ctx, want.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, 0, got.AvailableSlots)
		assert.Equal(t, models.BatchStatusFull, got.Status)
	})

	t.Run("short batch", func(t *testing.T) {
		mock, s := newMock(t)
		id := uuid.New()
		mock.ExpectQuery(reserveSQL).WithArgs(id, 3).WillReturnRows(pgxmock.NewRows(batchCols))
		mock.ExpectQuery(existsSQL).WithArgs(id).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := s.ReserveSlots(ctx, id, 3)
		assert.ErrorIs(t, err, store.ErrInsufficientSlots)
	})

	t.Run("missing batch", func(t *testing.T) {
		mock, s := newMock(t)
		id := uuid.New()
		mock.ExpectQuery(reserveSQL).WithArgs(id, 1).WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(existsSQL).WithArgs(id).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := s.ReserveSlots(ctx, id, 1)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("driver error is not a sentinel", func(t *testing.T) {
		mock, s := newMock(t)
		id := uuid.New()
		mock.ExpectQuery(reserveSQL).WithArgs(id, 1).WillReturnError(errors.New("connection reset"))

		_, err := s.ReserveSlots(ctx, id, 1)
		require.Error(t, err)
		assert.NotErrorIs(t, err, store.ErrInsufficientSlots)
		assert.NotErrorIs(t, err, store.ErrNotFound)
		assert.Contains(t, err.Error(), "reserve slots")
	})
}

func TestReleaseSlots(t *testing.T) {
	ctx := context.Background()
	releaseSQL := regexp.QuoteMeta("SET available_slots = LEAST(capacity, available_slots + $2)")

	t.Run("capped at capacity", func(t *testing.T) {
		mock, s := newMock(t)
		want := sampleBatch(10, models.BatchStatusActive)
		mock.ExpectQuery(releaseSQL).WithArgs(want.ID, 4).WillReturnRows(batchRow(want))

		got, err := s.ReleaseSlots(ctx, want.ID, 4)
		require.NoError(t, err)
		assert.Equal(t, 10, got.AvailableSlots)
		assert.Equal(t, models.BatchStatusActive, got.Status)
	})

	t.Run("missing batch", func(t *testing.T) {
		mock, s := newMock(t)
		id := uuid.New()
		mock.ExpectQuery(releaseSQL).WithArgs(id, 1).WillReturnError(pgx.ErrNoRows)

		_, err := s.ReleaseSlots(ctx, id, 1)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestRedeemCoupon(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	redeemSQL := regexp.QuoteMeta("AND (usage_limit IS NULL OR times_used < usage_limit)")

	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "below limit", affected: 1, want: true},
		{name: "exhausted, expired or inactive", affected: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, s := newMock(t)
			id := uuid.New()
			mock.ExpectExec(redeemSQL).WithArgs(id, now).WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			ok, err := s.RedeemCoupon(ctx, id, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestRecordPayment(t *testing.T) {
	ctx := context.Background()
	conflictSQL := regexp.QuoteMeta("ON CONFLICT (gateway_payment_id) DO NOTHING")
	p := &models.BookingPayment{
		ID:               uuid.New(),
		BookingID:        uuid.New(),
		GatewayOrderID:   "order_1",
		GatewayPaymentID: "pay_1",
		Amount:           1710,
		CreatedAt:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	mock, s := newMock(t)
	mock.ExpectExec(conflictSQL).
		WithArgs(p.ID, p.BookingID, p.GatewayOrderID, p.GatewayPaymentID, p.Amount, p.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(conflictSQL).
		WithArgs(p.ID, p.BookingID, p.GatewayOrderID, p.GatewayPaymentID, p.Amount, p.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := s.RecordPayment(ctx, p)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.RecordPayment(ctx, p)
	require.NoError(t, err)
	assert.False(t, inserted, "a repeated gateway payment id is ignored")
}

func TestBookingSentinels(t *testing.T) {
	ctx := context.Background()

	t.Run("lock missing booking", func(t *testing.T) {
		mock, s := newMock(t)
		id := uuid.New()
		mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = $1 FOR UPDATE")).WithArgs(id).WillReturnError(pgx.ErrNoRows)

		_, err := s.LockBooking(ctx, id)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("update missing booking", func(t *testing.T) {
		mock, s := newMock(t)
		b := &models.Booking{ID: uuid.New()}
		mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET")).WithArgs(bookingUpdateArgs(b)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.ErrorIs(t, s.UpdateBooking(ctx, b), store.ErrNotFound)
	})
}

func bookingUpdateArgs(b *models.Booking) []any {
	return []any{b.ID, b.AmountPaid, b.BalanceDue, b.AmountDueNow, b.PaymentStatus, b.RefundStatus,
		b.GatewayOrderID, b.PendingOrderAmount, b.GatewayPaymentID,
		b.RefundReason, b.RefundRequestDate, b.CancellationInitiator,
		b.ApprovedRefundAmount, b.OrganizerRemarks, b.RejectionReason,
		b.GatewayRefundID, b.RefundUTR, b.RefundProcessedAt, b.CancelledAt,
		b.UpdatedAt, b.RefundAttemptKey, b.RefundAttemptAt}
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		mock, s := newMock(t)
		want := sampleBatch(7, models.BatchStatusActive)
		mock.ExpectBegin()
		mock.ExpectQuery(reserveSQL).WithArgs(want.ID, 1).WillReturnRows(batchRow(want))
		mock.ExpectCommit()

		err := s.WithTx(ctx, func(q store.Queries) error {
			_, err := q.ReserveSlots(ctx, want.ID, 1)
			return err
		})
		require.NoError(t, err)
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		mock, s := newMock(t)
		id := uuid.New()
		mock.ExpectBegin()
		mock.ExpectQuery(reserveSQL).WithArgs(id, 5).WillReturnRows(pgxmock.NewRows(batchCols))
		mock.ExpectQuery(existsSQL).WithArgs(id).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(q store.Queries) error {
			_, err := q.ReserveSlots(ctx, id, 5)
			return err
		})
		assert.ErrorIs(t, err, store.ErrInsufficientSlots)
	})
}
