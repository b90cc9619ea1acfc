package fiscal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/domain/shared"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/worker"
)

// EmissionService drives the invoice lifecycle: creation, queued
// submission, cancellation and document retrieval. It is also the worker
// pool's Processor.
type EmissionService struct {
	invoices fiscal.InvoiceRepository
	events   fiscal.FiscalEventRepository
	configs  fiscal.BackendConfigRepository
	issuers  fiscal.IssuerRepository
	registry ClientRegistry
	queue    worker.Queue
	applier  outcomeApplier
	logger   *zap.Logger
}

// NewEmissionService creates the emission application service
func NewEmissionService(
	invoices fiscal.InvoiceRepository,
	events fiscal.FiscalEventRepository,
	configs fiscal.BackendConfigRepository,
	issuers fiscal.IssuerRepository,
	registry ClientRegistry,
	queue worker.Queue,
	logger *zap.Logger,
) *EmissionService {
	return &EmissionService{
		invoices: invoices,
		events:   events,
		configs:  configs,
		issuers:  issuers,
		registry: registry,
		queue:    queue,
		applier:  outcomeApplier{invoices: invoices, logger: logger},
		logger:   logger.Named("emission_service"),
	}
}

// CreateInvoice creates a draft invoice with the next RPS number for the
// tenant's series and records the GERACAO event. A repeated idempotency key
// returns the previously created invoice untouched.
func (s *EmissionService) CreateInvoice(ctx context.Context, tenantID uuid.UUID, req CreateInvoiceRequest) (*InvoiceResponse, error) {
	if req.IdempotencyKey != nil {
		existing, err := s.invoices.FindByIdempotencyKey(ctx, tenantID, *req.IdempotencyKey)
		if err == nil {
			response := ToInvoiceResponse(existing)
			return &response, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}

	config, err := s.loadConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	issuer, err := s.issuers.FindByTenant(ctx, tenantID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	series := req.RPSSeries
	if series == "" {
		if issuer != nil && issuer.DefaultRPSSeries != "" {
			series = issuer.DefaultRPSSeries
		} else {
			series = "1"
		}
	}

	rpsNumber, err := s.invoices.NextRPSNumber(ctx, tenantID, series)
	if err != nil {
		return nil, err
	}

	issueDate := time.Now()
	if req.IssueDate != nil {
		issueDate = *req.IssueDate
	}
	competence := issueDate
	if req.CompetenceDate != nil {
		competence = *req.CompetenceDate
	}

	backend := emission.BackendMock
	environment := fiscal.EnvironmentSandbox
	if config != nil {
		backend = config.Backend
		environment = config.Environment
	}

	simplifiedRegime := issuer != nil && issuer.SimplifiedRegime
	serviceCity := ""
	if issuer != nil {
		serviceCity = issuer.CityIBGE
	}

	invoice, err := fiscal.NewInvoice(fiscal.InvoiceParams{
		TenantID:         tenantID,
		CustomerID:       req.CustomerID,
		CustomerName:     req.CustomerName,
		CustomerDoc:      req.CustomerDoc,
		CustomerMail:     req.CustomerMail,
		RPSNumber:        rpsNumber,
		RPSSeries:        series,
		ServiceCode:      req.ServiceCode,
		MunicipalCode:    req.MunicipalCode,
		Description:      req.Description,
		ServiceCityIBGE:  serviceCity,
		IssueDate:        issueDate,
		CompetenceDate:   competence,
		SimplifiedRegime: simplifiedRegime,
		ServiceAmount:    req.ServiceAmount,
		DeductionAmount:  req.DeductionAmount,
		ISSRate:          req.ISSRate,
		ISSWithheld:      req.ISSWithheld,
		PISAmount:        req.PISAmount,
		COFINSAmount:     req.COFINSAmount,
		INSSAmount:       req.INSSAmount,
		IRAmount:         req.IRAmount,
		CSLLAmount:       req.CSLLAmount,
		Backend:          backend,
		Environment:      environment,
	})
	if err != nil {
		return nil, err
	}
	if req.IdempotencyKey != nil {
		invoice.IdempotencyKey = *req.IdempotencyKey
	}

	if err := s.invoices.Save(ctx, invoice); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, invoice, fiscal.EventTypeGeneration, "", "nota criada", true)

	response := ToInvoiceResponse(invoice)
	return &response, nil
}

// RequestEmission moves a draft invoice to SUBMITTING, records the ENVIO
// event and enqueues the submission for the worker pool.
func (s *EmissionService) RequestEmission(ctx context.Context, tenantID, invoiceID uuid.UUID) (*InvoiceResponse, error) {
	invoice, err := s.invoices.FindByIDForTenant(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := invoice.MarkSubmitting(); err != nil {
		return nil, err
	}
	if err := s.invoices.Save(ctx, invoice); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, invoice, fiscal.EventTypeSubmission, "", "emissao enfileirada", true)

	if err := s.queue.Enqueue(ctx, worker.NewEmissionJob(tenantID, invoiceID)); err != nil {
		return nil, err
	}

	response := ToInvoiceResponse(invoice)
	return &response, nil
}

// ProcessEmission is the worker entry point: it builds, signs and submits
// the invoice through the tenant's provider client and applies the outcome.
//
// Certificate and signature failures are terminal and reject the invoice
// before any network traffic happens. Communication failures leave the
// invoice in SUBMITTING and propagate so the worker retries. Structured
// provider rejections are terminal.
func (s *EmissionService) ProcessEmission(ctx context.Context, tenantID, invoiceID uuid.UUID) error {
	invoice, err := s.invoices.FindByIDForTenant(ctx, tenantID, invoiceID)
	if err != nil {
		return err
	}
	if invoice.Status != fiscal.StatusSubmitting {
		s.logger.Info("skipping emission, invoice no longer submitting",
			zap.String("invoice_id", invoiceID.String()),
			zap.String("status", string(invoice.Status)),
		)
		return nil
	}

	client, issuer, err := s.clientFor(ctx, tenantID)
	if err != nil {
		return err
	}

	result, err := client.Emit(ctx, invoice, issuer)
	if err != nil {
		if errors.Is(err, emission.ErrCommunication) {
			return err
		}
		// Certificate, signature or other terminal failure: reject without
		// retry and keep the cause on the invoice.
		_, _, applyErr := s.applier.apply(ctx, invoiceID, fiscal.StatusRejected, OutcomeData{Message: err.Error()})
		if applyErr != nil {
			return applyErr
		}
		s.appendEvent(ctx, invoice, fiscal.EventTypeRejected, "", err.Error(), false)
		return nil
	}

	switch result.Outcome {
	case emission.OutcomeAuthorized:
		_, applied, err := s.applier.apply(ctx, invoiceID, fiscal.StatusAuthorized, outcomeData(result))
		if err != nil {
			return err
		}
		if applied {
			s.appendEvent(ctx, invoice, fiscal.EventTypeAuthorized, result.Protocol, result.Message, true)
		}
	case emission.OutcomeRejected:
		_, applied, err := s.applier.apply(ctx, invoiceID, fiscal.StatusRejected, outcomeData(result))
		if err != nil {
			return err
		}
		if applied {
			s.appendEvent(ctx, invoice, fiscal.EventTypeRejected, result.Protocol, result.Message, false)
		}
	case emission.OutcomeProcessing:
		// Keep the tracking protocol; webhook or poller concludes later.
		_, _, err := s.invoices.TransitionStatus(ctx, invoiceID,
			[]fiscal.Status{fiscal.StatusSubmitting},
			func(inv *fiscal.Invoice) error {
				inv.Protocol = result.Protocol
				inv.RawProviderPayload = result.RawPayload
				return nil
			})
		if err != nil {
			return err
		}
	}
	return nil
}

// RequestCancellation asks the provider to cancel an authorized invoice and
// applies the result.
func (s *EmissionService) RequestCancellation(ctx context.Context, tenantID, invoiceID uuid.UUID, reason string) (*InvoiceResponse, error) {
	invoice, err := s.invoices.FindByIDForTenant(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := invoice.RequestCancellation(reason); err != nil {
		return nil, err
	}
	if err := s.invoices.Save(ctx, invoice); err != nil {
		return nil, err
	}

	client, _, err := s.clientFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result, err := client.Cancel(ctx, invoice, reason)
	if err != nil {
		if errors.Is(err, emission.ErrCommunication) {
			// Stays in CANCELLATION_REQUESTED; the poller re-checks later.
			response := ToInvoiceResponse(invoice)
			return &response, err
		}
		// Provider refused: the invoice remains valid.
		reverted, _, revertErr := s.invoices.TransitionStatus(ctx, invoiceID,
			[]fiscal.Status{fiscal.StatusCancellationRequested},
			func(inv *fiscal.Invoice) error {
				inv.Status = fiscal.StatusAuthorized
				inv.CancelReason = ""
				inv.LastError = err.Error()
				return nil
			})
		if revertErr != nil {
			return nil, revertErr
		}
		s.appendEvent(ctx, invoice, fiscal.EventTypeCancellation, "", err.Error(), false)
		response := ToInvoiceResponse(reverted)
		return &response, err
	}

	if result.Done {
		updated, applied, err := s.applier.apply(ctx, invoiceID, fiscal.StatusCancelled, OutcomeData{
			Protocol:   result.Protocol,
			RawPayload: result.RawPayload,
			Message:    result.Message,
		})
		if err != nil {
			return nil, err
		}
		if applied {
			s.appendEvent(ctx, updated, fiscal.EventTypeCancellation, result.Protocol, result.Message, true)
		}
		response := ToInvoiceResponse(updated)
		return &response, nil
	}

	response := ToInvoiceResponse(invoice)
	return &response, nil
}

// GetInvoice returns one invoice scoped to the tenant
func (s *EmissionService) GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*InvoiceResponse, error) {
	invoice, err := s.invoices.FindByIDForTenant(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	response := ToInvoiceResponse(invoice)
	return &response, nil
}

// ListEvents returns the lifecycle trail of an invoice
func (s *EmissionService) ListEvents(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]FiscalEventResponse, error) {
	if _, err := s.invoices.FindByIDForTenant(ctx, tenantID, invoiceID); err != nil {
		return nil, err
	}
	events, err := s.events.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	responses := make([]FiscalEventResponse, 0, len(events))
	for i := range events {
		responses = append(responses, ToFiscalEventResponse(&events[i]))
	}
	return responses, nil
}

// FetchDocument retrieves the DANFSe rendition for an authorized invoice.
// Returns (nil, nil) when the provider has none.
func (s *EmissionService) FetchDocument(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]byte, error) {
	invoice, err := s.invoices.FindByIDForTenant(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != fiscal.StatusAuthorized && invoice.Status != fiscal.StatusCancelled {
		return nil, fmt.Errorf("%w: no document before authorization", shared.ErrInvalidState)
	}

	client, _, err := s.clientFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return client.FetchDocument(ctx, invoice)
}

func (s *EmissionService) loadConfig(ctx context.Context, tenantID uuid.UUID) (*fiscal.BackendConfig, error) {
	config, err := s.configs.FindByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return config, nil
}

func (s *EmissionService) clientFor(ctx context.Context, tenantID uuid.UUID) (emission.Client, *fiscal.Issuer, error) {
	config, err := s.loadConfig(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	issuer, err := s.issuers.FindByTenant(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, nil, err
		}
		issuer = &fiscal.Issuer{TenantID: tenantID}
	}
	return s.registry.ClientFor(config, issuer), issuer, nil
}

func (s *EmissionService) appendEvent(ctx context.Context, invoice *fiscal.Invoice, eventType fiscal.EventType, protocol, message string, success bool) {
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

func outcomeData(result *emission.EmissionResult) OutcomeData {
	return OutcomeData{
		NfseNumber:       result.NfseNumber,
		VerificationCode: result.VerificationCode,
		AccessKey:        result.AccessKey,
		Protocol:         result.Protocol,
		DocumentURL:      result.DocumentURL,
		RawPayload:       result.RawPayload,
		Message:          result.Message,
	}
}
