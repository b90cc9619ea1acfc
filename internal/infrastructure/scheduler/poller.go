// Package scheduler runs the reconciliation poller: a ticker loop that
// re-queries providers for invoices stuck in SUBMITTING, covering lost
// webhooks and asynchronous backends.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caixadigital/nfse-gateway/internal/infrastructure/config"
)

// Sweeper reconciles a batch of stuck invoices. Implementations must treat
// per-invoice failures as part of the sweep, never as a reason to abort it.
type Sweeper interface {
	SweepSubmitting(ctx context.Context, updatedBefore time.Time, limit int) (int, error)
}

// ReconciliationPoller triggers a sweep on a fixed interval. Invoices are
// only eligible once they have sat in SUBMITTING for the configured grace
// period, so fast webhook deliveries win the race without contention.
type ReconciliationPoller struct {
	config  config.PollerConfig
	sweeper Sweeper
	logger  *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewReconciliationPoller creates the poller.
func NewReconciliationPoller(cfg config.PollerConfig, sweeper Sweeper, logger *zap.Logger) *ReconciliationPoller {
	return &ReconciliationPoller{
		config:  cfg,
		sweeper: sweeper,
		logger:  logger.Named("reconciliation_poller"),
	}
}

// Start launches the ticker loop. Calling Start on a running poller is a
// no-op.
func (p *ReconciliationPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Info("reconciliation poller started",
		zap.Duration("interval", p.config.Interval),
		zap.Duration("grace_period", p.config.GracePeriod),
		zap.Int("batch_limit", p.config.BatchLimit),
	)
	return nil
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (p *ReconciliationPoller) Stop() {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.logger.Info("reconciliation poller stopped")
}

func (p *ReconciliationPoller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *ReconciliationPoller) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.GracePeriod)
	reconciled, err := p.sweeper.SweepSubmitting(ctx, cutoff, p.config.BatchLimit)
	if err != nil {
		p.logger.Error("reconciliation sweep failed", zap.Error(err))
		return
	}
	if reconciled > 0 {
		p.logger.Info("reconciliation sweep finished", zap.Int("reconciled", reconciled))
	}
}
