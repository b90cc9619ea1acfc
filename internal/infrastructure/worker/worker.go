package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/config"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/logger"
)

// Processor executes one queued emission end to end.
type Processor interface {
	ProcessEmission(ctx context.Context, tenantID, invoiceID uuid.UUID) error
}

// EmissionWorker drains the queue with a fixed pool of goroutines. Only
// communication failures are retried; every other error is final because
// the processor has already recorded the outcome on the invoice.
type EmissionWorker struct {
	config    config.WorkerConfig
	queue     Queue
	processor Processor
	logger    *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewEmissionWorker creates a worker pool over the given queue.
func NewEmissionWorker(cfg config.WorkerConfig, queue Queue, processor Processor, logger *zap.Logger) *EmissionWorker {
	return &EmissionWorker{
		config:    cfg,
		queue:     queue,
		processor: processor,
		logger:    logger.Named("emission_worker"),
	}
}

// Start launches the worker goroutines. Calling Start on a running worker
// is a no-op.
func (w *EmissionWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = true
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	concurrency := w.config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i)
	}

	w.logger.Info("emission worker started", zap.Int("concurrency", concurrency))
	return nil
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (w *EmissionWorker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	w.logger.Info("emission worker stopped")
}

func (w *EmissionWorker) loop(ctx context.Context, id int) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("dequeue failed", zap.Int("worker", id), zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}
		w.handle(ctx, *job)
	}
}

func (w *EmissionWorker) handle(ctx context.Context, job EmissionJob) {
	jobCtx, cancel := context.WithTimeout(ctx, w.config.EmitTimeout)
	jobCtx = logger.ContextWithTenantID(jobCtx, job.TenantID.String())
	err := w.processor.ProcessEmission(jobCtx, job.TenantID, job.InvoiceID)
	cancel()

	if err == nil {
		return
	}

	if !errors.Is(err, emission.ErrCommunication) {
		w.logger.Error("emission failed",
			zap.String("invoice_id", job.InvoiceID.String()),
			zap.Int("attempt", job.Attempt+1),
			zap.Error(err),
		)
		return
	}

	attempt := job.Attempt + 1
	if attempt >= w.config.MaxAttempts {
		w.logger.Error("emission abandoned after communication failures",
			zap.String("invoice_id", job.InvoiceID.String()),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return
	}

	delay := backoff(w.config.RetryBackoff, attempt)
	w.logger.Warn("communication failure, scheduling retry",
		zap.String("invoice_id", job.InvoiceID.String()),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(err),
	)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	job.Attempt = attempt
	if err := w.queue.Enqueue(ctx, job); err != nil {
		w.logger.Error("failed to requeue job",
			zap.String("invoice_id", job.InvoiceID.String()),
			zap.Error(err),
		)
	}
}

// backoff doubles the base delay per attempt.
func backoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
