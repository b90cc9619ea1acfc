package fiscal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InvoiceRepository persists Invoice aggregates.
//
// TransitionStatus is the compare-and-set primitive both reconciliation
// paths (webhook and poller) go through: the update only applies while the
// stored status is one of from, so a stale poll result can never overwrite
// a newer terminal state. It returns the refreshed invoice and whether the
// guard matched.
type InvoiceRepository interface {
	Save(ctx context.Context, invoice *Invoice) error
	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)
	FindByProtocol(ctx context.Context, tenantID uuid.UUID, protocol string) (*Invoice, error)
	FindByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key uuid.UUID) (*Invoice, error)
	FindStuckSubmitting(ctx context.Context, updatedBefore time.Time, limit int) ([]Invoice, error)
	NextRPSNumber(ctx context.Context, tenantID uuid.UUID, series string) (int64, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []Status, apply func(*Invoice) error) (*Invoice, bool, error)
}

// FiscalEventRepository is append-only: lifecycle events are written once
// and listed, never changed.
type FiscalEventRepository interface {
	Append(ctx context.Context, event *FiscalEvent) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]FiscalEvent, error)
	CountByInvoiceAndType(ctx context.Context, invoiceID uuid.UUID, eventType EventType) (int64, error)
}

// BackendConfigRepository persists per-tenant emission configuration.
// Implementations decrypt credential fields on read and encrypt on save.
type BackendConfigRepository interface {
	Save(ctx context.Context, config *BackendConfig) error
	FindByTenant(ctx context.Context, tenantID uuid.UUID) (*BackendConfig, error)
	FindByWebhookToken(ctx context.Context, token string) (*BackendConfig, error)
}

// APICallLogRepository is the write-once audit store for outbound HTTP
// calls. No update or delete is exposed at all; immutability is a property
// of the interface, not a guarded failure.
type APICallLogRepository interface {
	Create(ctx context.Context, log *APICallLog) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]APICallLog, error)
	CountByBackend(ctx context.Context, tenantID uuid.UUID, backend string) (int64, error)
}

// IssuerRepository resolves the tenant registration data stamped on
// emitted documents.
type IssuerRepository interface {
	FindByTenant(ctx context.Context, tenantID uuid.UUID) (*Issuer, error)
}
