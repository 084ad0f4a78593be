package settlements

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/internal/store"
	"github.com/tripnest/backend/pkg/apperror"
	"github.com/tripnest/backend/pkg/storage"
)

// Conflict codes returned by the settlement service.
const (
	CodeBatchOnHold     = "batch_on_hold"
	CodeBatchNotEnded   = "batch_not_ended"
	CodePayoutBackwards = "payout_status_backwards"
	CodeNoStatement     = "statement_not_ready"
)

var ErrBatchNotFound = apperror.NotFoundError{Resource: "batch"}

// StatementStore keeps exported payout statements.
type StatementStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	PresignGet(ctx context.Context, key string) (string, error)
}

// Statement is the exported payout statement of one batch.
type Statement struct {
	models.ProcessedBatch
	GeneratedAt time.Time `json:"generated_at"`
	Lines       []Line    `json:"lines"`
}

// Service computes settlements and records payouts.
type Service struct {
	store       store.Store
	statements  StatementStore
	defaultRate float64
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the settlement service. defaultRate is the platform
// commission applied to owners without an override. statements may be nil,
// in which case statement export is unavailable.
func NewService(st store.Store, statements StatementStore, defaultRate float64, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{store: st, statements: statements, defaultRate: defaultRate, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type settled struct {
	batch  models.ProcessedBatch
	lines  []Line
	payout *models.Payout
}

// settle loads and aggregates one batch. ok is false for batches on hold.
func (s *Service) settle(ctx context.Context, q store.Queries, batch *models.Batch, listing *models.Listing, now time.Time) (*settled, bool, error) {
	bookings, err := q.ListBookingsByBatch(ctx, batch.ID)
	if err != nil {
		return nil, false, apperror.InternalError{Msg: "list batch bookings", Err: err}
	}
	rate := s.defaultRate
	override, err := q.GetOwnerCommission(ctx, listing.OwnerID)
	if err != nil {
		return nil, false, apperror.InternalError{Msg: "load owner commission", Err: err}
	}
	if override != nil {
		rate = *override
	}
	payout, err := q.GetPayout(ctx, batch.ID)
	if errors.Is(err, store.ErrNotFound) {
		payout = nil
	} else if err != nil {
		return nil, false, apperror.InternalError{Msg: "load payout", Err: err}
	}
	pb, lines, ok := Aggregate(batch, listing, bookings, rate, payout, now)
	if !ok {
		return nil, false, nil
	}
	return &settled{batch: pb, lines: lines, payout: payout}, true, nil
}

// collect settles every ended batch, optionally only those of one owner.
func (s *Service) collect(ctx context.Context, ownerID *uuid.UUID) ([]settled, error) {
	now := s.now()
	batches, err := s.store.ListEndedBatches(ctx, now)
	if err != nil {
		return nil, apperror.InternalError{Msg: "list ended batches", Err: err}
	}
	listings := make(map[uuid.UUID]*models.Listing)
	var out []settled
	for i := range batches {
		batch := &batches[i]
		listing, ok := listings[batch.ListingID]
		if !ok {
			listing, err = s.store.GetListing(ctx, batch.ListingID)
			if err != nil {
				return nil, apperror.InternalError{Msg: "load listing", Err: err}
			}
			listings[batch.ListingID] = listing
		}
		if ownerID != nil && listing.OwnerID != *ownerID {
			continue
		}
		st, ok, err := s.settle(ctx, s.store, batch, listing, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Debug("batch held for open refund", zap.String("batch_id", batch.ID.String()))
			continue
		}
		out = append(out, *st)
	}
	return out, nil
}

// ProcessedBatches returns the settlement of every ended, dispute-free batch,
// restricted to ownerID when it is not nil.
func (s *Service) ProcessedBatches(ctx context.Context, ownerID *uuid.UUID) ([]models.ProcessedBatch, error) {
	all, err := s.collect(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]models.ProcessedBatch, 0, len(all))
	for _, st := range all {
		out = append(out, st.batch)
	}
	return out, nil
}

// PendingStatements returns the processed batches with no exported statement yet.
func (s *Service) PendingStatements(ctx context.Context) ([]uuid.UUID, error) {
	all, err := s.collect(ctx, nil)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for _, st := range all {
		if st.payout == nil || st.payout.StatementKey == "" {
			ids = append(ids, st.batch.BatchID)
		}
	}
	return ids, nil
}

// loadEnded settles a single batch inside q, failing when it has not ended or is on hold.
func (s *Service) loadEnded(ctx context.Context, q store.Queries, batchID uuid.UUID, now time.Time) (*settled, error) {
	batch, err := q.GetBatch(ctx, batchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, apperror.InternalError{Msg: "load batch", Err: err}
	}
	if !batch.EndDate.Before(now) {
		return nil, apperror.ConflictError{Code: CodeBatchNotEnded, Msg: "batch has not ended yet"}
	}
	listing, err := q.GetListing(ctx, batch.ListingID)
	if err != nil {
		return nil, apperror.InternalError{Msg: "load listing", Err: err}
	}
	st, ok, err := s.settle(ctx, q, batch, listing, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.ConflictError{Code: CodeBatchOnHold, Msg: "batch has an open refund dispute"}
	}
	return st, nil
}

// MarkPayout moves a batch's payout forward: Available for Payout, then
// Processing, then Paid. Statuses never move back.
func (s *Service) MarkPayout(ctx context.Context, actor models.Actor, batchID uuid.UUID, status models.PayoutStatus, reference string) (*models.ProcessedBatch, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ForbiddenError{Msg: "only admins can update payouts"}
	}
	if status.Rank() < 0 {
		return nil, apperror.ValidationError{Field: "status", Msg: "must be Processing or Paid"}
	}
	now := s.now()
	var out models.ProcessedBatch
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		st, err := s.loadEnded(ctx, q, batchID, now)
		if err != nil {
			return err
		}
		if status.Rank() <= st.batch.Status.Rank() {
			return apperror.ConflictError{
				Code: CodePayoutBackwards,
				Msg:  "payout is already " + string(st.batch.Status),
			}
		}
		p := models.Payout{BatchID: batchID, OwnerID: st.batch.OwnerID}
		if st.payout != nil {
			p = *st.payout
		}
		p.Status = status
		if ref := strings.TrimSpace(reference); ref != "" {
			p.Reference = ref
		}
		p.UpdatedAt = now
		if err := q.UpsertPayout(ctx, &p); err != nil {
			return apperror.InternalError{Msg: "upsert payout", Err: err}
		}
		out = st.batch
		out.Status = p.Status
		out.PayoutReference = p.Reference
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("payout status changed",
		zap.String("batch_id", batchID.String()),
		zap.String("status", string(out.Status)),
		zap.Float64("net_earning", out.NetEarning),
	)
	return &out, nil
}

// ExportStatement writes the batch's payout statement to the statement store
// and records its key. Exporting again overwrites the object.
func (s *Service) ExportStatement(ctx context.Context, batchID uuid.UUID) (string, error) {
	if s.statements == nil {
		return "", apperror.InternalError{Msg: "statement storage is not configured"}
	}
	now := s.now()
	var key string
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		st, err := s.loadEnded(ctx, q, batchID, now)
		if err != nil {
			return err
		}
		body, err := json.MarshalIndent(Statement{ProcessedBatch: st.batch, GeneratedAt: now, Lines: st.lines}, "", "  ")
		if err != nil {
			return apperror.InternalError{Msg: "encode statement", Err: err}
		}
		key = storage.StatementKey(st.batch.OwnerID.String(), batchID.String())
		if err := s.statements.Put(ctx, key, "application/json", body); err != nil {
			return apperror.InternalError{Msg: "upload statement", Err: err}
		}
		p := models.Payout{BatchID: batchID, OwnerID: st.batch.OwnerID, Status: models.PayoutStatusAvailable}
		if st.payout != nil {
			p = *st.payout
		}
		p.StatementKey = key
		p.UpdatedAt = now
		if err := q.UpsertPayout(ctx, &p); err != nil {
			return apperror.InternalError{Msg: "record statement", Err: err}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("payout statement exported", zap.String("batch_id", batchID.String()), zap.String("key", key))
	return key, nil
}

// StatementURL returns a short-lived download link for the batch's statement
// to its owner or an admin.
func (s *Service) StatementURL(ctx context.Context, actor models.Actor, batchID uuid.UUID) (string, error) {
	if s.statements == nil {
		return "", apperror.InternalError{Msg: "statement storage is not configured"}
	}
	batch, err := s.store.GetBatch(ctx, batchID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrBatchNotFound
	}
	if err != nil {
		return "", apperror.InternalError{Msg: "load batch", Err: err}
	}
	listing, err := s.store.GetListing(ctx, batch.ListingID)
	if err != nil {
		return "", apperror.InternalError{Msg: "load listing", Err: err}
	}
	if !actor.IsAdmin() && !actor.Owns(listing.Kind, listing.OwnerID) {
		return "", apperror.ForbiddenError{Msg: "batch belongs to another owner"}
	}
	payout, err := s.store.GetPayout(ctx, batchID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && payout.StatementKey == "") {
		return "", apperror.ConflictError{Code: CodeNoStatement, Msg: "statement is not ready yet"}
	}
	if err != nil {
		return "", apperror.InternalError{Msg: "load payout", Err: err}
	}
	url, err := s.statements.PresignGet(ctx, payout.StatementKey)
	if err != nil {
		return "", apperror.InternalError{Msg: "presign statement", Err: err}
	}
	return url, nil
}
