package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tripnest/backend/pkg/queue"
)

// Lock names guarding each sweep across worker replicas.
const (
	LockReconcile  = "reconcile"
	LockSettlement = "settlement"
)

// statementLock marks a batch whose statement job was queued recently.
func statementLock(batchID uuid.UUID) string {
	return "statement:" + batchID.String()
}

// AutoCanceller persists cancellations of bookings past their balance deadline.
type AutoCanceller interface {
	AutoCancelUnpaidBalance(ctx context.Context) (int, error)
}

// StatementPlanner lists processed batches that still need a statement.
type StatementPlanner interface {
	PendingStatements(ctx context.Context) ([]uuid.UUID, error)
}

// StatementEnqueuer queues statement exports.
type StatementEnqueuer interface {
	EnqueueSettlementStatement(ctx context.Context, payload queue.SettlementStatementPayload) error
}

// Locker takes a named lock shared by all replicas.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// SweeperConfig sets how often each sweep runs and how long its lock lives.
type SweeperConfig struct {
	ReconcileInterval  time.Duration
	SettlementInterval time.Duration
	LockTTL            time.Duration
	// StatementDedupe is how long a queued statement job suppresses another
	// one for the same batch.
	StatementDedupe time.Duration
}

// Sweeper runs the periodic reconciliation and settlement sweeps. A nil
// planner disables the settlement sweep.
type Sweeper struct {
	bookings AutoCanceller
	planner  StatementPlanner
	jobs     StatementEnqueuer
	locker   Locker
	cfg      SweeperConfig
	logger   *zap.Logger
}

func NewSweeper(bookings AutoCanceller, planner StatementPlanner, jobs StatementEnqueuer, locker Locker, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 5 * time.Minute
	}
	if cfg.SettlementInterval <= 0 {
		cfg.SettlementInterval = time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.StatementDedupe <= 0 {
		cfg.StatementDedupe = 3 * time.Hour
	}
	return &Sweeper{bookings: bookings, planner: planner, jobs: jobs, locker: locker, cfg: cfg, logger: logger}
}

// withLock runs fn only if this replica wins the named lock. It reports
// whether fn ran.
func (s *Sweeper) withLock(ctx context.Context, name string, fn func(ctx context.Context)) bool {
	release, ok, err := s.locker.TryLock(ctx, name, s.cfg.LockTTL)
	if err != nil {
		s.logger.Warn("sweep lock failed", zap.String("sweep", name), zap.Error(err))
		return false
	}
	if !ok {
		s.logger.Debug("sweep held by another worker", zap.String("sweep", name))
		return false
	}
	defer release()
	fn(ctx)
	return true
}

// Reconcile cancels bookings whose unpaid balance is past due.
func (s *Sweeper) Reconcile(ctx context.Context) bool {
	return s.withLock(ctx, LockReconcile, func(ctx context.Context) {
		n, err := s.bookings.AutoCancelUnpaidBalance(ctx)
		if err != nil {
			s.logger.Error("reconcile sweep incomplete", zap.Int("cancelled", n), zap.Error(err))
			return
		}
		if n > 0 {
			s.logger.Info("reconcile sweep done", zap.Int("cancelled", n))
		}
	})
}

// Settle queues a statement export for each processed batch without one,
// skipping batches queued within StatementDedupe.
func (s *Sweeper) Settle(ctx context.Context) bool {
	if s.planner == nil {
		return false
	}
	return s.withLock(ctx, LockSettlement, func(ctx context.Context) {
		ids, err := s.planner.PendingStatements(ctx)
		if err != nil {
			s.logger.Error("settlement sweep failed", zap.Error(err))
			return
		}
		queued := 0
		for _, id := range ids {
			// The marker is left to expire.
			release, ok, err := s.locker.TryLock(ctx, statementLock(id), s.cfg.StatementDedupe)
			if err != nil {
				s.logger.Warn("statement dedupe failed", zap.String("batch_id", id.String()), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			if err := s.jobs.EnqueueSettlementStatement(ctx, queue.SettlementStatementPayload{BatchID: id}); err != nil {
				release()
				s.logger.Warn("enqueue statement failed", zap.String("batch_id", id.String()), zap.Error(err))
				continue
			}
			queued++
		}
		if queued > 0 {
			s.logger.Info("settlement sweep done", zap.Int("queued", queued), zap.Int("pending", len(ids)))
		}
	})
}

// Run performs both sweeps at start and then on their intervals until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	reconcile := time.NewTicker(s.cfg.ReconcileInterval)
	defer reconcile.Stop()
	settle := time.NewTicker(s.cfg.SettlementInterval)
	defer settle.Stop()

	s.Reconcile(ctx)
	s.Settle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return
		case <-reconcile.C:
			s.Reconcile(ctx)
		case <-settle.C:
			s.Settle(ctx)
		}
	}
}
