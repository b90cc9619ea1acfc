package fiscal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/domain/shared"
)

// ReconciliationService re-queries providers for invoices stuck in
// SUBMITTING past the grace period, covering lost webhooks and missed
// synchronous responses. The scheduler drives it.
type ReconciliationService struct {
	invoices fiscal.InvoiceRepository
	events   fiscal.FiscalEventRepository
	configs  fiscal.BackendConfigRepository
	issuers  fiscal.IssuerRepository
	registry ClientRegistry
	applier  outcomeApplier
	logger   *zap.Logger
}

func NewReconciliationService(
	invoices fiscal.InvoiceRepository,
	events fiscal.FiscalEventRepository,
	configs fiscal.BackendConfigRepository,
	issuers fiscal.IssuerRepository,
	registry ClientRegistry,
	logger *zap.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		invoices: invoices,
		events:   events,
		configs:  configs,
		issuers:  issuers,
		registry: registry,
		applier:  outcomeApplier{invoices: invoices, logger: logger},
		logger:   logger.Named("reconciliation_service"),
	}
}

// SweepSubmitting queries every invoice left in SUBMITTING before the
// cutoff and applies whatever the provider reports now. A failure on one
// invoice never aborts the sweep.
func (s *ReconciliationService) SweepSubmitting(ctx context.Context, updatedBefore time.Time, limit int) (int, error) {
	stuck, err := s.invoices.FindStuckSubmitting(ctx, updatedBefore, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range stuck {
		invoice := &stuck[i]
		applied, err := s.reconcile(ctx, invoice)
		if err != nil {
			s.logger.Warn("reconciliation failed for invoice",
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("backend", invoice.Backend),
				zap.Error(err),
			)
			continue
		}
		if applied {
			settled++
		}
	}
	return settled, nil
}

func (s *ReconciliationService) reconcile(ctx context.Context, invoice *fiscal.Invoice) (bool, error) {
	client, err := s.clientFor(ctx, invoice.TenantID)
	if err != nil {
		return false, err
	}

	result, err := client.Query(ctx, invoice)
	if err != nil {
		return false, err
	}

	status, mapped := emission.MapStatus(invoice.Backend, result.RawStatus)
	if !mapped {
		switch result.Outcome {
		case emission.OutcomeAuthorized:
			status = fiscal.StatusAuthorized
		case emission.OutcomeRejected:
			status = fiscal.StatusRejected
		default:
			// Still processing; leave it for the next sweep.
			return false, nil
		}
	}
	if status == fiscal.StatusSubmitting {
		return false, nil
	}

	updated, applied, err := s.applier.apply(ctx, invoice.ID, status, OutcomeData{
		Protocol:   invoice.Protocol,
		RawPayload: result.RawPayload,
		Message:    result.Message,
	})
	if err != nil {
		if errors.Is(err, emission.ErrUnmappedStatus) {
			return false, nil
		}
		return false, err
	}
	if !applied {
		// A webhook settled it between the listing and the query.
		return false, nil
	}

	s.appendEvent(ctx, updated, fiscal.EventTypeForStatus(status), updated.Protocol, result.Message, status != fiscal.StatusRejected)
	return true, nil
}

func (s *ReconciliationService) clientFor(ctx context.Context, tenantID uuid.UUID) (emission.Client, error) {
	config, err := s.configs.FindByTenant(ctx, tenantID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	issuer, err := s.issuers.FindByTenant(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		issuer = &fiscal.Issuer{TenantID: tenantID}
	}
	return s.registry.ClientFor(config, issuer), nil
}

func (s *ReconciliationService) appendEvent(ctx context.Context, invoice *fiscal.Invoice, eventType fiscal.EventType, protocol, message string, success bool) {
	event, err := fiscal.NewFiscalEvent(invoice.TenantID, invoice.ID, eventType, protocol, message, success)
	if err == nil {
		err = s.events.Append(ctx, event)
	}
	if err != nil {
		s.logger.Error("failed to append fiscal event",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}
