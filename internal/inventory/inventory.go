// Package inventory reserves and releases batch slots. Both operations run
// inside the caller's transaction and delegate to single conditional updates.
package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/internal/store"
	"github.com/tripnest/backend/pkg/apperror"
)

// CodeInsufficientSlots identifies the conflict returned when a batch is short.
const CodeInsufficientSlots = "insufficient_slots"

// ErrInsufficientSlots is returned by Reserve when too few slots remain.
var ErrInsufficientSlots = apperror.ConflictError{Code: CodeInsufficientSlots, Msg: "Not enough slots available"}

// Manager reserves and releases slots.
type Manager struct {
	logger *zap.Logger
}

// NewManager creates an inventory Manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// Reserve takes count slots from the batch or fails with ErrInsufficientSlots.
func (m *Manager) Reserve(ctx context.Context, q store.Queries, batchID uuid.UUID, count int) (*models.Batch, error) {
	if count < 1 {
		return nil, apperror.ValidationError{Field: "numberOfTravelers", Msg: "must be at least 1"}
	}
	b, err := q.ReserveSlots(ctx, batchID, count)
	switch {
	case errors.Is(err, store.ErrInsufficientSlots):
		return nil, ErrInsufficientSlots
	case errors.Is(err, store.ErrNotFound):
		return nil, apperror.NotFoundError{Resource: "batch"}
	case err != nil:
		return nil, apperror.InternalError{Msg: "reserve slots", Err: err}
	}
	m.logger.Debug("slots reserved",
		zap.String("batch_id", batchID.String()),
		zap.Int("count", count),
		zap.Int("available", b.AvailableSlots),
	)
	return b, nil
}

// Release returns count slots to the batch, never exceeding its capacity.
func (m *Manager) Release(ctx context.Context, q store.Queries, batchID uuid.UUID, count int) (*models.Batch, error) {
	if count < 1 {
		return nil, apperror.ValidationError{Field: "count", Msg: "must be at least 1"}
	}
	b, err := q.ReleaseSlots(ctx, batchID, count)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, apperror.NotFoundError{Resource: "batch"}
	case err != nil:
		return nil, apperror.InternalError{Msg: "release slots", Err: err}
	}
	m.logger.Debug("slots released",
		zap.String("batch_id", batchID.String()),
		zap.Int("count", count),
		zap.Int("available", b.AvailableSlots),
	)
	return b, nil
}
