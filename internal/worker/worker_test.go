package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripnest/backend/internal/bookings"
	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/pkg/apperror"
	"github.com/tripnest/backend/pkg/queue"
)

type fakeConfirmer struct {
	calls []queue.PaymentCapturedPayload
	err   error
}

func (f *fakeConfirmer) ConfirmByOrder(_ context.Context, orderID, paymentID string, amountPaise int64) (*models.Booking, error) {
	f.calls = append(f.calls, queue.PaymentCapturedPayload{OrderID: orderID, PaymentID: paymentID, AmountPaise: amountPaise})
	if f.err != nil {
		return nil, f.err
	}
	return &models.Booking{ID: uuid.New(), PaymentStatus: models.PaymentStatusPaidInFull}, nil
}

type fakeExporter struct {
	batches []uuid.UUID
	err     error
}

func (f *fakeExporter) ExportStatement(_ context.Context, batchID uuid.UUID) (string, error) {
	f.batches = append(f.batches, batchID)
	return "statements/x.json", f.err
}

type fakeQueue struct {
	mu         sync.Mutex
	jobs       []*queue.Job
	retried    []*queue.Job
	queued     []queue.SettlementStatementPayload
	dead       []*queue.Job
	enqueueErr error
}

func (f *fakeQueue) DeadLetter(_ context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = append(f.dead, job)
	return nil
}

func (f *fakeQueue) Dequeue(ctx context.Context) (*queue.Job, string, error) {
	f.mu.Lock()
	if len(f.jobs) > 0 {
		job := f.jobs[0]
		f.jobs = f.jobs[1:]
		f.mu.Unlock()
		return job, "test", nil
	}
	f.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, "", nil
	}
}

func (f *fakeQueue) Retry(_ context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.Attempt++
	f.retried = append(f.retried, job)
	return nil
}

func (f *fakeQueue) EnqueueSettlementStatement(_ context.Context, p queue.SettlementStatementPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.queued = append(f.queued, p)
	return nil
}

func job(t *testing.T, typ queue.JobType, payload any) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: uuid.NewString(), Type: typ, Payload: raw}
}

func TestProcess_PaymentCaptured(t *testing.T) {
	confirmer := &fakeConfirmer{}
	p := NewProcessor(confirmer, nil, &fakeQueue{}, nil)

	err := p.Process(context.Background(), job(t, queue.JobTypePaymentCaptured, queue.PaymentCapturedPayload{OrderID: "order_1", PaymentID: "pay_1", AmountPaise: 171000}))
	require.NoError(t, err)
	require.Len(t, confirmer.calls, 1)
	assert.Equal(t, "order_1", confirmer.calls[0].OrderID)
	assert.Equal(t, int64(171000), confirmer.calls[0].AmountPaise)
}

func TestProcess_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantErr  bool
		wantDead bool
	}{
		{name: "payment for a cancelled booking is parked", err: apperror.ConflictError{Code: bookings.CodeBookingCancelled}, wantDead: true},
		{name: "payment for a closed order is parked", err: apperror.ConflictError{Code: bookings.CodeOrderMismatch}, wantDead: true},
		{name: "short payment is parked", err: apperror.ConflictError{Code: bookings.CodeAmountMismatch}, wantDead: true},
		{name: "unknown order is dropped", err: apperror.NotFoundError{Resource: "order"}},
		{name: "database outage is retried", err: apperror.InternalError{Msg: "lock booking", Err: errors.New("conn reset")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{}
			p := NewProcessor(&fakeConfirmer{err: tt.err}, nil, q, nil)
			err := p.Process(context.Background(), job(t, queue.JobTypePaymentCaptured, queue.PaymentCapturedPayload{OrderID: "o", PaymentID: "p"}))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantDead {
				require.Len(t, q.dead, 1)
				assert.Empty(t, q.retried)
			} else {
				assert.Empty(t, q.dead)
			}
		})
	}
}

func TestProcess_MalformedAndUnknownJobsAreDropped(t *testing.T) {
	p := NewProcessor(&fakeConfirmer{}, &fakeExporter{}, &fakeQueue{}, nil)
	assert.NoError(t, p.Process(context.Background(), &queue.Job{ID: "1", Type: queue.JobTypePaymentCaptured, Payload: []byte(`{"order_id":`)}))
	assert.NoError(t, p.Process(context.Background(), &queue.Job{ID: "2", Type: "recording_upload", Payload: []byte(`{}`)}))
}

func TestProcess_SettlementStatement(t *testing.T) {
	exporter := &fakeExporter{}
	p := NewProcessor(&fakeConfirmer{}, exporter, &fakeQueue{}, nil)
	batchID := uuid.New()
	require.NoError(t, p.Process(context.Background(), job(t, queue.JobTypeSettlementStatement, queue.SettlementStatementPayload{BatchID: batchID})))
	assert.Equal(t, []uuid.UUID{batchID}, exporter.batches)

	noStore := NewProcessor(&fakeConfirmer{}, nil, &fakeQueue{}, nil)
	assert.Error(t, noStore.Process(context.Background(), job(t, queue.JobTypeSettlementStatement, queue.SettlementStatementPayload{BatchID: batchID})))
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	q := &fakeQueue{}
	q.jobs = []*queue.Job{
		job(t, queue.JobTypePaymentCaptured, queue.PaymentCapturedPayload{OrderID: "o", PaymentID: "p"}),
	}
	p := NewProcessor(&fakeConfirmer{err: errors.New("db down")}, nil, q, nil)
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.retried) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 1, q.retried[0].Attempt)
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released int
}

func (f *fakeLocker) TryLock(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[name] {
		return nil, false, nil
	}
	f.held[name] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, name)
		f.released++
	}, true, nil
}

type fakeCanceller struct{ runs int }

func (f *fakeCanceller) AutoCancelUnpaidBalance(context.Context) (int, error) {
	f.runs++
	return 2, nil
}

type fakePlanner struct{ ids []uuid.UUID }

func (f *fakePlanner) PendingStatements(context.Context) ([]uuid.UUID, error) { return f.ids, nil }

func TestSweeper_LockGuardsSweeps(t *testing.T) {
	ctx := context.Background()
	locker := &fakeLocker{held: map[string]bool{}}
	canceller := &fakeCanceller{}
	planner := &fakePlanner{ids: []uuid.UUID{uuid.New(), uuid.New()}}
	q := &fakeQueue{}
	s := NewSweeper(canceller, planner, q, locker, SweeperConfig{}, nil)

	assert.True(t, s.Reconcile(ctx))
	assert.Equal(t, 1, canceller.runs)
	assert.Equal(t, 1, locker.released)

	locker.held[LockReconcile] = true
	assert.False(t, s.Reconcile(ctx))
	assert.Equal(t, 1, canceller.runs)

	assert.True(t, s.Settle(ctx))
	require.Len(t, q.queued, 2)
	assert.Equal(t, planner.ids[0], q.queued[0].BatchID)
}

func TestSweeper_SettleQueuesEachBatchOnce(t *testing.T) {
	ctx := context.Background()
	locker := &fakeLocker{held: map[string]bool{}}
	planner := &fakePlanner{ids: []uuid.UUID{uuid.New(), uuid.New()}}
	q := &fakeQueue{}
	s := NewSweeper(&fakeCanceller{}, planner, q, locker, SweeperConfig{}, nil)

	assert.True(t, s.Settle(ctx))
	assert.True(t, s.Settle(ctx))
	assert.Len(t, q.queued, 2, "batches already queued are not queued again")

	// a failed enqueue drops its marker so the next sweep retries
	fresh := uuid.New()
	planner.ids = []uuid.UUID{fresh}
	q.enqueueErr = errors.New("redis down")
	assert.True(t, s.Settle(ctx))
	assert.False(t, locker.held[statementLock(fresh)])

	q.enqueueErr = nil
	assert.True(t, s.Settle(ctx))
	require.Len(t, q.queued, 3)
	assert.Equal(t, fresh, q.queued[2].BatchID)
}

func TestSweeper_SettleDisabledWithoutPlanner(t *testing.T) {
	q := &fakeQueue{}
	s := NewSweeper(&fakeCanceller{}, nil, q, &fakeLocker{held: map[string]bool{}}, SweeperConfig{}, nil)

	assert.False(t, s.Settle(context.Background()))
	assert.Empty(t, q.queued)
}
