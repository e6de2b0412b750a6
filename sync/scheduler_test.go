package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-banklink/core"
)

type captureEnqueuer struct {
	messages []*core.JobExecutionMessage
	err      error
}

func (e *captureEnqueuer) Enqueue(_ context.Context, msg *core.JobExecutionMessage) error {
	if e.err != nil {
		return e.err
	}
	e.messages = append(e.messages, msg)
	return nil
}

func TestSchedulerEnqueueActive(t *testing.T) {
	connections := newMemConnectionStore()
	_, _ = connections.Upsert(context.Background(), core.BankConnection{
		UserID: "user-1", Provider: "truelayer", Status: core.ConnectionStatusActive,
	})
	_, _ = connections.Upsert(context.Background(), core.BankConnection{
		UserID: "user-2", Provider: "truelayer", Status: core.ConnectionStatusPendingReauth,
	})

	enqueuer := &captureEnqueuer{}
	scheduler, err := NewScheduler(enqueuer, connections, time.Hour, nil)
	if err != nil {
		t.Fatalf("NewScheduler returned error: %v", err)
	}

	if err := scheduler.EnqueueActive(context.Background()); err != nil {
		t.Fatalf("EnqueueActive returned error: %v", err)
	}
	if len(enqueuer.messages) != 1 {
		t.Fatalf("expected one enqueued job, got %d", len(enqueuer.messages))
	}
	message := enqueuer.messages[0]
	if message.JobID != core.SyncJobID {
		t.Fatalf("unexpected job id: %s", message.JobID)
	}
	if got := message.Parameters["user_id"]; got != "user-1" {
		t.Fatalf("unexpected user_id param: %v", got)
	}
}

type stubDelivery struct {
	message *core.JobExecutionMessage
	acked   bool
	nacked  bool
	nack    core.JobNackOptions
}

func (d *stubDelivery) Message() *core.JobExecutionMessage { return d.message }

func (d *stubDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *stubDelivery) Nack(_ context.Context, opts core.JobNackOptions) error {
	d.nacked = true
	d.nack = opts
	return nil
}

type stubRunner struct {
	summary core.SyncSummary
	err     error
	calls   int
	userID  string
}

func (r *stubRunner) SyncConnection(_ context.Context, userID string, _ string, _ time.Time, _ time.Time) (core.SyncSummary, error) {
	r.calls++
	r.userID = userID
	return r.summary, r.err
}

type singleDequeuer struct {
	delivery core.JobDelivery
	served   bool
}

func (d *singleDequeuer) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if d.served {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	d.served = true
	return d.delivery, nil
}

func TestWorkerAcksSuccessfulJob(t *testing.T) {
	delivery := &stubDelivery{message: &core.JobExecutionMessage{
		JobID:      core.SyncJobID,
		Parameters: map[string]any{"user_id": "user-1", "provider": "truelayer"},
	}}
	runner := &stubRunner{summary: core.SyncSummary{Inserted: 3}}
	worker, err := NewWorker(&singleDequeuer{delivery: delivery}, runner, nil)
	if err != nil {
		t.Fatalf("NewWorker returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = worker.Run(ctx)

	if runner.calls != 1 || runner.userID != "user-1" {
		t.Fatalf("expected one sync call for user-1, got %d (%s)", runner.calls, runner.userID)
	}
	if !delivery.acked || delivery.nacked {
		t.Fatalf("expected ack without nack, got ack=%v nack=%v", delivery.acked, delivery.nacked)
	}
}

func TestWorkerNacksFailedJob(t *testing.T) {
	delivery := &stubDelivery{message: &core.JobExecutionMessage{
		JobID:      core.SyncJobID,
		Parameters: map[string]any{"user_id": "user-1", "provider": "truelayer"},
	}}
	runner := &stubRunner{err: fmt.Errorf("provider unavailable")}
	worker, err := NewWorker(&singleDequeuer{delivery: delivery}, runner, nil, WithWorkerNackDelay(5*time.Second))
	if err != nil {
		t.Fatalf("NewWorker returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = worker.Run(ctx)

	if !delivery.nacked {
		t.Fatal("expected nack")
	}
	if !delivery.nack.Requeue || delivery.nack.Delay != 5*time.Second {
		t.Fatalf("unexpected nack options: %+v", delivery.nack)
	}
}

func TestWorkerDeadLettersMalformedJob(t *testing.T) {
	delivery := &stubDelivery{message: &core.JobExecutionMessage{JobID: core.SyncJobID}}
	runner := &stubRunner{}
	worker, err := NewWorker(&singleDequeuer{delivery: delivery}, runner, nil)
	if err != nil {
		t.Fatalf("NewWorker returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = worker.Run(ctx)

	if runner.calls != 0 {
		t.Fatal("expected no sync attempt for malformed job")
	}
	if !delivery.nacked || !delivery.nack.DeadLetter {
		t.Fatalf("expected dead letter nack, got %+v", delivery.nack)
	}
}
