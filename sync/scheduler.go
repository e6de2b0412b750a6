package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-banklink/adapters/gologger"
	"github.com/goliatone/go-banklink/core"
)

const DefaultInterval = 6 * time.Hour

// Scheduler periodically enqueues a sync job for every active connection.
type Scheduler struct {
	enqueuer    core.JobEnqueuer
	connections core.ConnectionStore
	logger      core.Logger
	interval    time.Duration
}

func NewScheduler(enqueuer core.JobEnqueuer, connections core.ConnectionStore, interval time.Duration, logger core.Logger) (*Scheduler, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("sync: scheduler requires a job enqueuer")
	}
	if connections == nil {
		return nil, fmt.Errorf("sync: scheduler requires a connection store")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		_, logger = gologger.Resolve("scheduler", nil, nil)
	}
	return &Scheduler{
		enqueuer:    enqueuer,
		connections: connections,
		logger:      logger,
		interval:    interval,
	}, nil
}

// Run enqueues one round immediately and then on every tick until the context
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("sync: scheduler is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.EnqueueActive(ctx); err != nil {
		s.logger.Error("scheduled sync round failed", "error", err.Error())
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.EnqueueActive(ctx); err != nil {
				s.logger.Error("scheduled sync round failed", "error", err.Error())
			}
		}
	}
}

// EnqueueActive queues one sync job per active connection. Individual enqueue
// failures are logged and do not stop the round.
func (s *Scheduler) EnqueueActive(ctx context.Context) error {
	connections, err := s.connections.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("sync: list active connections: %w", err)
	}
	for _, connection := range connections {
		message := &core.JobExecutionMessage{
			JobID: core.SyncJobID,
			Parameters: map[string]any{
				"user_id":  connection.UserID,
				"provider": connection.Provider,
			},
			IdempotencyKey: connection.UserID + "::" + connection.Provider,
		}
		if err := s.enqueuer.Enqueue(ctx, message); err != nil {
			s.logger.Error("sync enqueue failed",
				"user_id", connection.UserID,
				"provider", connection.Provider,
				"error", err.Error(),
			)
		}
	}
	s.logger.Info("sync round enqueued", "connections", len(connections))
	return nil
}

// SyncRunner is the worker-facing slice of the reconciler.
type SyncRunner interface {
	SyncConnection(ctx context.Context, userID string, provider string, from time.Time, to time.Time) (core.SyncSummary, error)
}

// Worker consumes queued sync jobs and runs them through the reconciler.
type Worker struct {
	dequeuer core.JobDequeuer
	runner   SyncRunner
	logger   core.Logger
	hooks    []core.JobWorkerHook
	nackWait time.Duration
}

type WorkerOption func(*Worker)

func WithWorkerHooks(hooks ...core.JobWorkerHook) WorkerOption {
	return func(w *Worker) {
		for _, hook := range hooks {
			if hook != nil {
				w.hooks = append(w.hooks, hook)
			}
		}
	}
}

func WithWorkerNackDelay(delay time.Duration) WorkerOption {
	return func(w *Worker) {
		if delay > 0 {
			w.nackWait = delay
		}
	}
}

func NewWorker(dequeuer core.JobDequeuer, runner SyncRunner, logger core.Logger, opts ...WorkerOption) (*Worker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("sync: worker requires a dequeuer")
	}
	if runner == nil {
		return nil, fmt.Errorf("sync: worker requires a sync runner")
	}
	if logger == nil {
		_, logger = gologger.Resolve("worker", nil, nil)
	}
	worker := &Worker{
		dequeuer: dequeuer,
		runner:   runner,
		logger:   logger,
		nackWait: time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(worker)
		}
	}
	return worker, nil
}

// Run consumes deliveries until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return fmt.Errorf("sync: worker is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delivery, err := w.dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("dequeue failed", "error", err.Error())
			continue
		}
		if delivery == nil {
			continue
		}
		w.handle(ctx, delivery)
	}
}

func (w *Worker) handle(ctx context.Context, delivery core.JobDelivery) {
	message := delivery.Message()
	if message == nil {
		_ = delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "missing message"})
		return
	}

	startedAt := time.Now()
	event := core.JobWorkerEvent{Message: message, Attempt: 1, StartedAt: startedAt}
	for _, hook := range w.hooks {
		hook.OnStart(ctx, event)
	}

	userID := paramString(message.Parameters, "user_id")
	provider := paramString(message.Parameters, "provider")
	if userID == "" || provider == "" {
		_ = delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "missing user_id or provider"})
		return
	}

	summary, err := w.runner.SyncConnection(ctx, userID, provider, time.Time{}, time.Time{})
	event.Duration = time.Since(startedAt)
	if err != nil {
		event.Err = err
		for _, hook := range w.hooks {
			hook.OnFailure(ctx, event)
		}
		w.logger.Error("sync job failed",
			"user_id", userID,
			"provider", provider,
			"error", err.Error(),
		)
		_ = delivery.Nack(ctx, core.JobNackOptions{Requeue: true, Delay: w.nackWait, Reason: err.Error()})
		return
	}

	for _, hook := range w.hooks {
		hook.OnSuccess(ctx, event)
	}
	w.logger.Info("sync job completed",
		"user_id", userID,
		"provider", provider,
		"inserted", summary.Inserted,
		"skipped", summary.Skipped,
	)
	_ = delivery.Ack(ctx)
}

func paramString(params map[string]any, key string) string {
	if len(params) == 0 {
		return ""
	}
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}
