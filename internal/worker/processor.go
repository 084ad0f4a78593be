// Package worker runs the background side of the booking engine: it applies
// queued gateway payments, exports payout statements and sweeps for bookings
// whose balance deadline has passed.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tripnest/backend/internal/bookings"
	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/pkg/apperror"
	"github.com/tripnest/backend/pkg/queue"
)

// PaymentConfirmer applies a captured gateway payment to its booking.
type PaymentConfirmer interface {
	ConfirmByOrder(ctx context.Context, orderID, paymentID string, amountPaise int64) (*models.Booking, error)
}

// StatementExporter writes a batch's payout statement.
type StatementExporter interface {
	ExportStatement(ctx context.Context, batchID uuid.UUID) (string, error)
}

// JobQueue is the part of queue.Queue the processor consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
	DeadLetter(ctx context.Context, job *queue.Job) error
}

// Processor executes queued jobs.
type Processor struct {
	payments   PaymentConfirmer
	statements StatementExporter
	queue      JobQueue
	backoff    time.Duration
	logger     *zap.Logger
}

// NewProcessor creates a job processor. statements may be nil when statement
// storage is not configured; such jobs then fail and end up in the DLQ.
func NewProcessor(payments PaymentConfirmer, statements StatementExporter, q JobQueue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{payments: payments, statements: statements, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// permanent reports whether retrying err can never succeed, e.g. a payment
// for a cancelled booking or an unknown order.
func permanent(err error) bool {
	return apperror.IsConflict(err) || apperror.IsNotFound(err) || apperror.IsValidation(err) || apperror.IsForbidden(err)
}

// Process executes one job. Permanent failures are logged and dropped.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	var err error
	switch job.Type {
	case queue.JobTypePaymentCaptured:
		err = p.paymentCaptured(ctx, job)
	case queue.JobTypeSettlementStatement:
		err = p.settlementStatement(ctx, job)
	default:
		p.logger.Warn("dropping job of unknown type", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		return nil
	}
	if err != nil && permanent(err) {
		p.logger.Warn("dropping job",
			zap.String("job_id", job.ID),
			zap.String("type", string(job.Type)),
			zap.String("code", apperror.ConflictCode(err)),
			zap.Error(err),
		)
		return nil
	}
	return err
}

func (p *Processor) paymentCaptured(ctx context.Context, job *queue.Job) error {
	var payload queue.PaymentCapturedPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return apperror.ValidationError{Field: "payload", Msg: "malformed payment event", Err: err}
	}
	b, err := p.payments.ConfirmByOrder(ctx, payload.OrderID, payload.PaymentID, payload.AmountPaise)
	if bookings.PaymentUnapplied(err) {
		// Captured money with nowhere to go is kept on the DLQ for reconciliation.
		p.logger.Error("captured payment parked for reconciliation",
			zap.String("job_id", job.ID),
			zap.String("order_id", payload.OrderID),
			zap.String("payment_id", payload.PaymentID),
			zap.Int64("amount_paise", payload.AmountPaise),
			zap.String("code", apperror.ConflictCode(err)),
		)
		return p.queue.DeadLetter(ctx, job)
	}
	if err != nil {
		return err
	}
	p.logger.Info("payment event applied",
		zap.String("job_id", job.ID),
		zap.String("booking_id", b.ID.String()),
		zap.String("payment_id", payload.PaymentID),
		zap.String("payment_status", string(b.PaymentStatus)),
	)
	return nil
}

func (p *Processor) settlementStatement(ctx context.Context, job *queue.Job) error {
	if p.statements == nil {
		return fmt.Errorf("statement export is not configured")
	}
	var payload queue.SettlementStatementPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return apperror.ValidationError{Field: "payload", Msg: "malformed statement job", Err: err}
	}
	key, err := p.statements.ExportStatement(ctx, payload.BatchID)
	if err != nil {
		return err
	}
	p.logger.Info("statement job done", zap.String("job_id", job.ID), zap.String("batch_id", payload.BatchID.String()), zap.String("key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("job processor stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, p.backoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			sleep(ctx, p.backoff)
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
