package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tripnest/backend/internal/models"
)

// GetOwnerCommission returns the owner's override rate, or nil if the platform default applies.
func (s *Store) GetOwnerCommission(ctx context.Context, ownerID uuid.UUID) (*float64, error) {
	var rate float64
	err := s.db.QueryRow(ctx, `SELECT rate FROM owner_commissions WHERE owner_id = $1`, ownerID).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get owner commission: %w", err)
	}
	return &rate, nil
}

// GetPayout returns the payout marker of a batch.
func (s *Store) GetPayout(ctx context.Context, batchID uuid.UUID) (*models.Payout, error) {
	const q = `SELECT batch_id, owner_id, status, reference, statement_key, updated_at FROM payouts WHERE batch_id = $1`
	var p models.Payout
	if err := s.db.QueryRow(ctx, q, batchID).Scan(&p.BatchID, &p.OwnerID, &p.Status, &p.Reference, &p.StatementKey, &p.UpdatedAt); err != nil {
		return nil, notFound(err, "get payout")
	}
	return &p, nil
}

// UpsertPayout creates or replaces the payout marker of a batch.
func (s *Store) UpsertPayout(ctx context.Context, p *models.Payout) error {
	const q = `
		INSERT INTO payouts (batch_id, owner_id, status, reference, statement_key, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (batch_id) DO UPDATE SET
			status = EXCLUDED.status,
			reference = EXCLUDED.reference,
			statement_key = EXCLUDED.statement_key,
			updated_at = EXCLUDED.updated_at`
	if _, err := s.db.Exec(ctx, q, p.BatchID, p.OwnerID, p.Status, p.Reference, p.StatementKey, p.UpdatedAt); err != nil {
		return fmt.Errorf("upsert payout: %w", err)
	}
	return nil
}
