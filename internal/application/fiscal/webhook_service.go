package fiscal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/domain/shared"
)

// WebhookService reconciles asynchronous provider callbacks with the
// invoice lifecycle. Delivery is at-least-once, so repeated or stale
// callbacks must acknowledge without re-applying.
type WebhookService struct {
	invoices fiscal.InvoiceRepository
	events   fiscal.FiscalEventRepository
	configs  fiscal.BackendConfigRepository
	applier  outcomeApplier
	logger   *zap.Logger
}

func NewWebhookService(
	invoices fiscal.InvoiceRepository,
	events fiscal.FiscalEventRepository,
	configs fiscal.BackendConfigRepository,
	logger *zap.Logger,
) *WebhookService {
	return &WebhookService{
		invoices: invoices,
		events:   events,
		configs:  configs,
		applier:  outcomeApplier{invoices: invoices, logger: logger},
		logger:   logger.Named("webhook_service"),
	}
}

// HandleCallback authenticates the shared token, resolves the invoice the
// payload refers to and applies the reported status under the same guards
// as every other outcome path.
func (s *WebhookService) HandleCallback(ctx context.Context, token string, payload WebhookPayload) (*WebhookResult, error) {
	config, err := s.configs.FindByWebhookToken(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown webhook token", emission.ErrAuthentication)
		}
		return nil, err
	}

	invoice, err := s.resolveInvoice(ctx, config.TenantID, payload)
	if err != nil {
		return nil, err
	}

	status, mapped := emission.MapStatus(config.Backend, payload.Status)
	if !mapped {
		s.logger.Warn("webhook reported unmapped status",
			zap.String("backend", config.Backend),
			zap.String("raw_status", payload.Status),
			zap.String("invoice_id", invoice.ID.String()),
		)
		s.appendEvent(ctx, invoice, fiscal.EventTypeQuery, payload.Protocol,
			fmt.Sprintf("status desconhecido do provedor: %s", payload.Status), false)
		return &WebhookResult{Applied: false, Status: invoice.Status, InvoiceID: invoice.ID, Message: "status not mapped"}, nil
	}

	updated, applied, err := s.applier.apply(ctx, invoice.ID, status, OutcomeData{
		NfseNumber:       payload.NfseNumber,
		VerificationCode: payload.VerificationCode,
		AccessKey:        payload.AccessKey,
		Protocol:         payload.Protocol,
		DocumentURL:      payload.DocumentURL,
		RawPayload:       payload.RawBody,
		Message:          payload.Message,
	})
	if err != nil {
		if errors.Is(err, emission.ErrUnmappedStatus) {
			// PROCESSING and other non-transitioning statuses: nothing to do.
			s.appendEvent(ctx, invoice, fiscal.EventTypeQuery, payload.Protocol,
				fmt.Sprintf("provedor reportou %s", payload.Status), true)
			return &WebhookResult{Applied: false, Status: invoice.Status, InvoiceID: invoice.ID, Message: "no transition"}, nil
		}
		return nil, err
	}

	if !applied {
		// Re-delivery or stale callback: the invoice already settled.
		s.appendEvent(ctx, updated, fiscal.EventTypeQuery, payload.Protocol,
			fmt.Sprintf("callback ignorado, nota ja em %s", updated.Status), true)
		return &WebhookResult{Applied: false, Status: updated.Status, InvoiceID: updated.ID, Message: "already settled"}, nil
	}

	s.appendEvent(ctx, updated, fiscal.EventTypeForStatus(status), payload.Protocol, payload.Message, status != fiscal.StatusRejected)
	return &WebhookResult{Applied: true, Status: updated.Status, InvoiceID: updated.ID, Message: payload.Message}, nil
}

// resolveInvoice tries the provider reference first (our invoice ID) and
// falls back to the tracking protocol.
func (s *WebhookService) resolveInvoice(ctx context.Context, tenantID uuid.UUID, payload WebhookPayload) (*fiscal.Invoice, error) {
	if payload.Reference != "" {
		if id, err := uuid.Parse(payload.Reference); err == nil {
			invoice, err := s.invoices.FindByIDForTenant(ctx, tenantID, id)
			if err == nil {
				return invoice, nil
			}
			if !errors.Is(err, shared.ErrNotFound) {
				return nil, err
			}
		}
	}
	if payload.Protocol != "" {
		invoice, err := s.invoices.FindByProtocol(ctx, tenantID, payload.Protocol)
		if err == nil {
			return invoice, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no invoice for reference %q protocol %q", shared.ErrNotFound, payload.Reference, payload.Protocol)
}

func (s *WebhookService) appendEvent(ctx context.Context, invoice *fiscal.Invoice, eventType fiscal.EventType, protocol, message string, success bool) {
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
