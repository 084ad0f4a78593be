package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/internal/store"
)

const listingColumns = `id, kind, owner_id, title, base_price, currency,
	spot_reservation_percentage, balance_due_days, is_active, created_at, updated_at`

const batchColumns = `id, listing_id, start_date, end_date, time_slot, capacity,
	available_slots, status, price_override, is_last_minute_deal, deal_price, created_at, updated_at`

func scanBatch(row pgx.Row, b *models.Batch) error {
	return row.Scan(&b.ID, &b.ListingID, &b.StartDate, &b.EndDate, &b.TimeSlot, &b.Capacity,
		&b.AvailableSlots, &b.Status, &b.PriceOverride, &b.IsLastMinuteDeal, &b.DealPrice, &b.CreatedAt, &b.UpdatedAt)
}

// GetListing returns a listing by ID.
func (s *Store) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	const q = `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`
	var l models.Listing
	err := s.db.QueryRow(ctx, q, id).Scan(&l.ID, &l.Kind, &l.OwnerID, &l.Title, &l.BasePrice, &l.Currency,
		&l.SpotReservationPercentage, &l.BalanceDueDays, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get listing")
	}
	return &l, nil
}

// GetBatch returns a batch by ID.
func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	const q = `SELECT ` + batchColumns + ` FROM batches WHERE id = $1`
	var b models.Batch
	if err := scanBatch(s.db.QueryRow(ctx, q, id), &b); err != nil {
		return nil, notFound(err, "get batch")
	}
	return &b, nil
}

// ListEndedBatches returns batches whose end date is before the given instant.
func (s *Store) ListEndedBatches(ctx context.Context, before time.Time) ([]models.Batch, error) {
	const q = `SELECT ` + batchColumns + ` FROM batches WHERE end_date < $1 ORDER BY end_date`
	rows, err := s.db.Query(ctx, q, before)
	if err != nil {
		return nil, fmt.Errorf("list ended batches: %w", err)
	}
	defer rows.Close()
	var list []models.Batch
	for rows.Next() {
		var b models.Batch
		if err := scanBatch(rows, &b); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

// ReserveSlots is a single conditional decrement: the WHERE clause refuses the
// update when fewer than count slots remain, so two concurrent reservations can
// never both succeed against the last slots.
func (s *Store) ReserveSlots(ctx context.Context, batchID uuid.UUID, count int) (*models.Batch, error) {
	const q = `
		UPDATE batches
		SET available_slots = available_slots - $2,
		    status = CASE WHEN available_slots - $2 = 0 THEN 'Full' ELSE status END,
		    updated_at = now()
		WHERE id = $1 AND available_slots >= $2
		RETURNING ` + batchColumns
	var b models.Batch
	err := scanBatch(s.db.QueryRow(ctx, q, batchID, count), &b)
	if err == nil {
		return &b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reserve slots: %w", err)
	}
	// Distinguish a missing batch from a short one.
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM batches WHERE id = $1)`, batchID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check batch: %w", err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrInsufficientSlots
}

// ReleaseSlots returns slots to a batch without exceeding capacity.
func (s *Store) ReleaseSlots(ctx context.Context, batchID uuid.UUID, count int) (*models.Batch, error) {
	const q = `
		UPDATE batches
		SET available_slots = LEAST(capacity, available_slots + $2),
		    status = CASE WHEN status = 'Full' AND LEAST(capacity, available_slots + $2) > 0 THEN 'Active' ELSE status END,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + batchColumns
	var b models.Batch
	if err := scanBatch(s.db.QueryRow(ctx, q, batchID, count), &b); err != nil {
		return nil, notFound(err, "release slots")
	}
	return &b, nil
}
