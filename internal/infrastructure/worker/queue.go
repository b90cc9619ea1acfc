// Package worker contains the background emission pipeline: a queue of
// pending submissions and the worker pool that drains it against the
// provider clients.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// dequeueBlockTimeout bounds each blocking pop so workers can observe
// shutdown.
const dequeueBlockTimeout = 2 * time.Second

// ErrQueueClosed is returned by Dequeue after Close.
var ErrQueueClosed = errors.New("worker: queue closed")

// EmissionJob is one queued submission request.
type EmissionJob struct {
	InvoiceID  uuid.UUID `json:"invoice_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewEmissionJob creates a first-attempt job for an invoice.
func NewEmissionJob(tenantID, invoiceID uuid.UUID) EmissionJob {
	return EmissionJob{
		InvoiceID:  invoiceID,
		TenantID:   tenantID,
		EnqueuedAt: time.Now(),
	}
}

// Queue transports emission jobs between the request path and the worker
// pool. Dequeue blocks up to a short internal timeout and returns (nil,
// nil) when nothing arrived, so callers can loop and re-check their
// context.
type Queue interface {
	Enqueue(ctx context.Context, job EmissionJob) error
	Dequeue(ctx context.Context) (*EmissionJob, error)
	Close() error
}

// RedisQueue is a Redis-list backed queue. Producers LPUSH, workers BRPOP;
// jobs survive process restarts.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue on the given Redis list key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

// Enqueue pushes a job onto the list.
func (q *RedisQueue) Enqueue(ctx context.Context, job EmissionJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

// Dequeue pops the oldest job, blocking briefly when the list is empty.
func (q *RedisQueue) Dequeue(ctx context.Context) (*EmissionJob, error) {
	res, err := q.client.BRPop(ctx, dequeueBlockTimeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, nil
	}
	var job EmissionJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (q *RedisQueue) Close() error { return nil }

// MemoryQueue is a channel-backed queue for tests and single-process
// deployments without Redis.
type MemoryQueue struct {
	jobs   chan EmissionJob
	closed chan struct{}
}

// NewMemoryQueue creates an in-process queue with the given buffer size.
func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		jobs:   make(chan EmissionJob, size),
		closed: make(chan struct{}),
	}
}

// Enqueue delivers the job to the channel.
func (q *MemoryQueue) Enqueue(ctx context.Context, job EmissionJob) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- job:
		return nil
	}
}

// Dequeue receives the next job, returning (nil, nil) when nothing arrives
// within the block timeout.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*EmissionJob, error) {
	timer := time.NewTimer(dequeueBlockTimeout)
	defer timer.Stop()
	select {
	case <-q.closed:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case job := <-q.jobs:
		return &job, nil
	case <-timer.C:
		return nil, nil
	}
}

// Close stops the queue; pending jobs are dropped.
func (q *MemoryQueue) Close() error {
	select {
	case <-q.closed:
		return nil
	default:
		close(q.closed)
	}
	return nil
}
