package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-banklink/core"
)

const memoryQueueCapacity = 1024

// memoryQueue is a single-process job queue for deployments without a broker.
// Messages sharing an idempotency key are collapsed while one is in flight.
type memoryQueue struct {
	mu      sync.Mutex
	pending map[string]struct{}
	ch      chan *core.JobExecutionMessage
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{
		pending: map[string]struct{}{},
		ch:      make(chan *core.JobExecutionMessage, memoryQueueCapacity),
	}
}

func (q *memoryQueue) Enqueue(_ context.Context, msg *core.JobExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("banklinkd: job message is required")
	}
	q.mu.Lock()
	if msg.IdempotencyKey != "" {
		if _, inFlight := q.pending[msg.IdempotencyKey]; inFlight {
			q.mu.Unlock()
			return nil
		}
		q.pending[msg.IdempotencyKey] = struct{}{}
	}
	q.mu.Unlock()

	select {
	case q.ch <- msg:
		return nil
	default:
		q.release(msg)
		return fmt.Errorf("banklinkd: job queue is full")
	}
}

func (q *memoryQueue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-q.ch:
		return &memoryDelivery{queue: q, msg: msg}, nil
	}
}

func (q *memoryQueue) release(msg *core.JobExecutionMessage) {
	if msg == nil || msg.IdempotencyKey == "" {
		return
	}
	q.mu.Lock()
	delete(q.pending, msg.IdempotencyKey)
	q.mu.Unlock()
}

type memoryDelivery struct {
	queue *memoryQueue
	msg   *core.JobExecutionMessage
	once  sync.Once
}

func (d *memoryDelivery) Message() *core.JobExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.once.Do(func() {
		d.queue.release(d.msg)
	})
	return nil
}

func (d *memoryDelivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	var err error
	d.once.Do(func() {
		d.queue.release(d.msg)
		if !opts.Requeue || opts.DeadLetter {
			return
		}
		if opts.Delay <= 0 {
			err = d.queue.Enqueue(ctx, d.msg)
			return
		}
		msg := d.msg
		time.AfterFunc(opts.Delay, func() {
			_ = d.queue.Enqueue(context.Background(), msg)
		})
	})
	return err
}

var (
	_ core.JobEnqueuer = (*memoryQueue)(nil)
	_ core.JobDequeuer = (*memoryQueue)(nil)
	_ core.JobDelivery = (*memoryDelivery)(nil)
)
