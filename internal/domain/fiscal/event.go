package fiscal

import (
	"github.com/google/uuid"

	"github.com/caixadigital/nfse-gateway/internal/domain/shared"
)

// FiscalEvent is one append-only entry in an invoice's lifecycle trail.
// Events are never updated or deleted; every processed webhook callback and
// poll outcome records one, including no-ops.
type FiscalEvent struct {
	shared.BaseEntity
	TenantID  uuid.UUID
	InvoiceID uuid.UUID
	Type      EventType
	Protocol  string
	Message   string
	Success   bool
}

// NewFiscalEvent creates a lifecycle event for an invoice
func NewFiscalEvent(tenantID, invoiceID uuid.UUID, eventType EventType, protocol, message string, success bool) (*FiscalEvent, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if invoiceID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_INVOICE", "Invoice ID cannot be empty")
	}
	return &FiscalEvent{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		InvoiceID:  invoiceID,
		Type:       eventType,
		Protocol:   protocol,
		Message:    message,
		Success:    success,
	}, nil
}
