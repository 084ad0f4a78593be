package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueuePayments is the Redis list key for gateway payment events.
	QueuePayments = "worker:payments"
	// QueueStatements is the Redis list key for payout statement exports.
	QueueStatements = "worker:statements"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// PollTimeout bounds a single blocking pop so shutdown is noticed.
	PollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypePaymentCaptured     JobType = "payment_captured"
	JobTypeSettlementStatement JobType = "settlement_statement"
)

// queueFor returns the list a job type lives on.
func queueFor(t JobType) string {
	if t == JobTypeSettlementStatement {
		return QueueStatements
	}
	return QueuePayments
}

// PaymentCapturedPayload is a gateway payment.captured event.
type PaymentCapturedPayload struct {
	OrderID     string `json:"order_id"`
	PaymentID   string `json:"payment_id"`
	AmountPaise int64  `json:"amount_paise"`
	EventID     string `json:"event_id,omitempty"`
}

// SettlementStatementPayload asks the worker to export a payout statement for a batch.
type SettlementStatementPayload struct {
	BatchID uuid.UUID `json:"batch_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func (q *Queue) enqueue(ctx context.Context, jobType JobType, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, queueFor(jobType), raw).Err(); err != nil {
		return nil, fmt.Errorf("rpush: %w", err)
	}
	return &job, nil
}

// EnqueuePaymentCaptured enqueues a captured-payment confirmation.
func (q *Queue) EnqueuePaymentCaptured(ctx context.Context, payload PaymentCapturedPayload) error {
	job, err := q.enqueue(ctx, JobTypePaymentCaptured, payload)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued payment captured job", zap.String("job_id", job.ID), zap.String("order_id", payload.OrderID))
	return nil
}

// EnqueueSettlementStatement enqueues a payout statement export.
func (q *Queue) EnqueueSettlementStatement(ctx context.Context, payload SettlementStatementPayload) error {
	job, err := q.enqueue(ctx, JobTypeSettlementStatement, payload)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued settlement statement job", zap.String("job_id", job.ID), zap.String("batch_id", payload.BatchID.String()))
	return nil
}

// Dequeue blocks for up to PollTimeout waiting for a job. Payment jobs are
// served before statement jobs. A nil job with nil error means nothing arrived.
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, PollTimeout, QueuePayments, QueueStatements).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		return q.DeadLetter(ctx, job)
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, queueFor(job.Type), raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// DeadLetter parks a job on the DLQ for manual handling.
func (q *Queue) DeadLetter(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
		q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
		return err
	}
	q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
	return nil
}
