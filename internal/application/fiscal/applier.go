package fiscal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
)

// ClientRegistry selects the provider client serving a tenant
// configuration. Satisfied by provider.Registry.
type ClientRegistry interface {
	ClientFor(config *fiscal.BackendConfig, issuer *fiscal.Issuer) emission.Client
}

// OutcomeData carries the provider-assigned fields accompanying a terminal
// outcome, whatever path delivered it (synchronous response, webhook or
// poll).
type OutcomeData struct {
	NfseNumber       string
	VerificationCode string
	AccessKey        string
	Protocol         string
	DocumentURL      string
	RawPayload       string
	Message          string
}

// outcomeApplier is the single place a provider-reported terminal status
// becomes an invoice transition. Webhook, poller and the synchronous
// emission path all converge here, so the compare-and-set guards are
// identical regardless of which one delivers the news first.
type outcomeApplier struct {
	invoices fiscal.InvoiceRepository
	logger   *zap.Logger
}

// apply transitions the invoice to the mapped status under the appropriate
// source-status guard. It returns the stored invoice and whether this call
// performed the transition; a false return with nil error means another
// path got there first and the stored state stands.
func (a *outcomeApplier) apply(ctx context.Context, invoiceID uuid.UUID, status fiscal.Status, data OutcomeData) (*fiscal.Invoice, bool, error) {
	switch status {
	case fiscal.StatusAuthorized:
		return a.invoices.TransitionStatus(ctx, invoiceID,
			[]fiscal.Status{fiscal.StatusSubmitting},
			func(inv *fiscal.Invoice) error {
				return inv.ApplyAuthorization(data.NfseNumber, data.VerificationCode, data.AccessKey, data.Protocol, data.DocumentURL, data.RawPayload)
			})
	case fiscal.StatusRejected:
		return a.invoices.TransitionStatus(ctx, invoiceID,
			[]fiscal.Status{fiscal.StatusSubmitting},
			func(inv *fiscal.Invoice) error {
				return inv.ApplyRejection(data.Message, data.RawPayload)
			})
	case fiscal.StatusCancelled:
		return a.invoices.TransitionStatus(ctx, invoiceID,
			[]fiscal.Status{fiscal.StatusCancellationRequested, fiscal.StatusAuthorized},
			func(inv *fiscal.Invoice) error {
				if inv.Status == fiscal.StatusAuthorized {
					// Provider-initiated cancellation; register the request
					// before applying it.
					reason := data.Message
					if reason == "" {
						reason = "cancelamento informado pelo provedor"
					}
					if err := inv.RequestCancellation(reason); err != nil {
						return err
					}
				}
				return inv.ApplyCancellation(data.Protocol)
			})
	default:
		return nil, false, fmt.Errorf("%w: no transition for status %s", emission.ErrUnmappedStatus, status)
	}
}
