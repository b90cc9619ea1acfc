package fiscal

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/domain/shared"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/worker"
)

// In-memory repositories backing the service tests. TransitionStatus keeps
// the same compare-and-set contract as the GORM implementation.

type memInvoices struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*fiscal.Invoice
}

func newMemInvoices() *memInvoices {
	return &memInvoices{invoices: make(map[uuid.UUID]*fiscal.Invoice)}
}

func (m *memInvoices) Save(_ context.Context, invoice *fiscal.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *invoice
	clone.UpdatedAt = time.Now()
	m.invoices[invoice.ID] = &clone
	return nil
}

func (m *memInvoices) FindByID(_ context.Context, id uuid.UUID) (*fiscal.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.invoices[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *stored
	return &clone, nil
}

func (m *memInvoices) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*fiscal.Invoice, error) {
	invoice, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return invoice, nil
}

func (m *memInvoices) FindByProtocol(_ context.Context, tenantID uuid.UUID, protocol string) (*fiscal.Invoice, error) {
	if protocol == "" {
		return nil, shared.NewDomainError("INVALID_PROTOCOL", "Protocol cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.invoices {
		if stored.TenantID == tenantID && stored.Protocol == protocol {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memInvoices) FindByIdempotencyKey(_ context.Context, tenantID uuid.UUID, key uuid.UUID) (*fiscal.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.invoices {
		if stored.TenantID == tenantID && stored.IdempotencyKey == key {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memInvoices) FindStuckSubmitting(_ context.Context, updatedBefore time.Time, limit int) ([]fiscal.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stuck []fiscal.Invoice
	for _, stored := range m.invoices {
		if stored.Status == fiscal.StatusSubmitting && stored.UpdatedAt.Before(updatedBefore) {
			stuck = append(stuck, *stored)
		}
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt) })
	if limit > 0 && len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

func (m *memInvoices) NextRPSNumber(_ context.Context, tenantID uuid.UUID, series string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, stored := range m.invoices {
		if stored.TenantID == tenantID && stored.RPSSeries == series && stored.RPSNumber > max {
			max = stored.RPSNumber
		}
	}
	return max + 1, nil
}

func (m *memInvoices) TransitionStatus(_ context.Context, id uuid.UUID, from []fiscal.Status, apply func(*fiscal.Invoice) error) (*fiscal.Invoice, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.invoices[id]
	if !ok {
		return nil, false, shared.ErrNotFound
	}
	guard := false
	for _, status := range from {
		if stored.Status == status {
			guard = true
			break
		}
	}
	if !guard {
		clone := *stored
		return &clone, false, nil
	}
	working := *stored
	if err := apply(&working); err != nil {
		return nil, false, err
	}
	working.UpdatedAt = time.Now()
	m.invoices[id] = &working
	clone := working
	return &clone, true, nil
}

// backdate rewinds an invoice's update timestamp so it qualifies as stuck
func (m *memInvoices) backdate(id uuid.UUID, age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.invoices[id]; ok {
		stored.UpdatedAt = time.Now().Add(-age)
	}
}

type memEvents struct {
	mu     sync.Mutex
	events []fiscal.FiscalEvent
}

func (m *memEvents) Append(_ context.Context, event *fiscal.FiscalEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *memEvents) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]fiscal.FiscalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []fiscal.FiscalEvent
	for _, event := range m.events {
		if event.InvoiceID == invoiceID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (m *memEvents) CountByInvoiceAndType(_ context.Context, invoiceID uuid.UUID, eventType fiscal.EventType) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, event := range m.events {
		if event.InvoiceID == invoiceID && event.Type == eventType {
			count++
		}
	}
	return count, nil
}

type memConfigs struct {
	mu      sync.Mutex
	configs map[uuid.UUID]*fiscal.BackendConfig
}

func newMemConfigs() *memConfigs {
	return &memConfigs{configs: make(map[uuid.UUID]*fiscal.BackendConfig)}
}

func (m *memConfigs) Save(_ context.Context, config *fiscal.BackendConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *config
	m.configs[config.TenantID] = &clone
	return nil
}

func (m *memConfigs) FindByTenant(_ context.Context, tenantID uuid.UUID) (*fiscal.BackendConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.configs[tenantID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *stored
	return &clone, nil
}

func (m *memConfigs) FindByWebhookToken(_ context.Context, token string) (*fiscal.BackendConfig, error) {
	if token == "" {
		return nil, shared.ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.configs {
		if stored.WebhookToken == token {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

type memIssuers struct {
	issuers map[uuid.UUID]*fiscal.Issuer
}

func (m *memIssuers) FindByTenant(_ context.Context, tenantID uuid.UUID) (*fiscal.Issuer, error) {
	if issuer, ok := m.issuers[tenantID]; ok {
		clone := *issuer
		return &clone, nil
	}
	return nil, shared.ErrNotFound
}

// stubClient is a scriptable emission.Client
type stubClient struct {
	name        string
	emitResult  *emission.EmissionResult
	emitErr     error
	queryResult *emission.QueryResult
	queryErr    error
	cancel      *emission.CancellationResult
	cancelErr   error
	document    []byte

	mu         sync.Mutex
	emitCalls  int
	queryCalls int
}

func (c *stubClient) Name() string { return c.name }

func (c *stubClient) Emit(_ context.Context, _ *fiscal.Invoice, _ *fiscal.Issuer) (*emission.EmissionResult, error) {
	c.mu.Lock()
	c.emitCalls++
	c.mu.Unlock()
	if c.emitErr != nil {
		return nil, c.emitErr
	}
	return c.emitResult, nil
}

func (c *stubClient) Query(_ context.Context, _ *fiscal.Invoice) (*emission.QueryResult, error) {
	c.mu.Lock()
	c.queryCalls++
	c.mu.Unlock()
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return c.queryResult, nil
}

func (c *stubClient) Cancel(_ context.Context, _ *fiscal.Invoice, _ string) (*emission.CancellationResult, error) {
	if c.cancelErr != nil {
		return nil, c.cancelErr
	}
	return c.cancel, nil
}

func (c *stubClient) FetchDocument(_ context.Context, _ *fiscal.Invoice) ([]byte, error) {
	return c.document, nil
}

type stubRegistry struct {
	client emission.Client
}

func (r *stubRegistry) ClientFor(_ *fiscal.BackendConfig, _ *fiscal.Issuer) emission.Client {
	return r.client
}

type memQueue struct {
	mu   sync.Mutex
	jobs []worker.EmissionJob
}

func (q *memQueue) Enqueue(_ context.Context, job worker.EmissionJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) Dequeue(_ context.Context) (*worker.EmissionJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return &job, nil
}

func (q *memQueue) Close() error { return nil }

// testHarness wires the services over the in-memory stores
type testHarness struct {
	tenantID uuid.UUID
	invoices *memInvoices
	events   *memEvents
	configs  *memConfigs
	issuers  *memIssuers
	queue    *memQueue
	client   *stubClient
	emitter  *EmissionService
	webhooks *WebhookService
	sweeper  *ReconciliationService
}

func newHarness(client *stubClient) *testHarness {
	tenantID := uuid.New()
	invoices := newMemInvoices()
	events := &memEvents{}
	configs := newMemConfigs()
	issuers := &memIssuers{issuers: map[uuid.UUID]*fiscal.Issuer{
		tenantID: {
			TenantID:          tenantID,
			CNPJ:              "12345678000195",
			MunicipalRegistry: "987654",
			LegalName:         "Padaria Pao Quente LTDA",
			CityIBGE:          "3550308",
			State:             "SP",
			DefaultRPSSeries:  "1",
		},
	}}
	configs.Save(context.Background(), &fiscal.BackendConfig{
		TenantID:     tenantID,
		Backend:      emission.BackendFocus,
		Environment:  fiscal.EnvironmentSandbox,
		APIToken:     "focus-token",
		WebhookToken: "hook-secret",
	})
	queue := &memQueue{}
	registry := &stubRegistry{client: client}
	logger := zap.NewNop()

	return &testHarness{
		tenantID: tenantID,
		invoices: invoices,
		events:   events,
		configs:  configs,
		issuers:  issuers,
		queue:    queue,
		client:   client,
		emitter:  NewEmissionService(invoices, events, configs, issuers, registry, queue, logger),
		webhooks: NewWebhookService(invoices, events, configs, logger),
		sweeper:  NewReconciliationService(invoices, events, configs, issuers, registry, logger),
	}
}

func (h *testHarness) createdInvoice(t *testing.T) *InvoiceResponse {
	t.Helper()
	resp, err := h.emitter.CreateInvoice(context.Background(), h.tenantID, CreateInvoiceRequest{
		CustomerID:    uuid.New(),
		CustomerName:  "Mercearia do Bairro",
		CustomerDoc:   "11222333000181",
		ServiceCode:   "07.02",
		Description:   "Consultoria em sistemas",
		ServiceAmount: decimal.NewFromFloat(150.00),
		ISSRate:       decimal.NewFromFloat(0.05),
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	return resp
}
