package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appfiscal "github.com/caixadigital/nfse-gateway/internal/application/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/domain/shared"
	"github.com/caixadigital/nfse-gateway/internal/interfaces/http/middleware"
	"github.com/caixadigital/nfse-gateway/internal/interfaces/http/router"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

// Minimal in-memory stores for handler tests.

type hInvoices struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*fiscal.Invoice
}

func (m *hInvoices) Save(_ context.Context, invoice *fiscal.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *invoice
	m.invoices[invoice.ID] = &clone
	return nil
}

func (m *hInvoices) FindByID(_ context.Context, id uuid.UUID) (*fiscal.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.invoices[id]; ok {
		clone := *stored
		return &clone, nil
	}
	return nil, shared.ErrNotFound
}

func (m *hInvoices) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*fiscal.Invoice, error) {
	invoice, err := m.FindByID(ctx, id)
	if err != nil || invoice.TenantID != tenantID {
		return nil, shared.ErrNotFound
	}
	return invoice, nil
}

func (m *hInvoices) FindByProtocol(_ context.Context, tenantID uuid.UUID, protocol string) (*fiscal.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.invoices {
		if stored.TenantID == tenantID && stored.Protocol == protocol && protocol != "" {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *hInvoices) FindByIdempotencyKey(_ context.Context, tenantID uuid.UUID, key uuid.UUID) (*fiscal.Invoice, error) {
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

func (m *hInvoices) FindStuckSubmitting(context.Context, time.Time, int) ([]fiscal.Invoice, error) {
	return nil, nil
}

func (m *hInvoices) NextRPSNumber(_ context.Context, tenantID uuid.UUID, series string) (int64, error) {
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

func (m *hInvoices) TransitionStatus(_ context.Context, id uuid.UUID, from []fiscal.Status, apply func(*fiscal.Invoice) error) (*fiscal.Invoice, bool, error) {
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
	m.invoices[id] = &working
	clone := working
	return &clone, true, nil
}

type hEvents struct {
	mu     sync.Mutex
	events []fiscal.FiscalEvent
}

func (m *hEvents) Append(_ context.Context, event *fiscal.FiscalEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *hEvents) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]fiscal.FiscalEvent, error) {
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

func (m *hEvents) CountByInvoiceAndType(_ context.Context, invoiceID uuid.UUID, eventType fiscal.EventType) (int64, error) {
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

type hConfigs struct {
	config *fiscal.BackendConfig
}

func (m *hConfigs) Save(context.Context, *fiscal.BackendConfig) error { return nil }

func (m *hConfigs) FindByTenant(_ context.Context, tenantID uuid.UUID) (*fiscal.BackendConfig, error) {
	if m.config != nil && m.config.TenantID == tenantID {
		clone := *m.config
		return &clone, nil
	}
	return nil, shared.ErrNotFound
}

func (m *hConfigs) FindByWebhookToken(_ context.Context, token string) (*fiscal.BackendConfig, error) {
	if m.config != nil && token != "" && m.config.WebhookToken == token {
		clone := *m.config
		return &clone, nil
	}
	return nil, shared.ErrNotFound
}

func webhookTestServer(t *testing.T) (*gin.Engine, *hInvoices, uuid.UUID) {
	t.Helper()
	tenantID := uuid.New()
	invoices := &hInvoices{invoices: make(map[uuid.UUID]*fiscal.Invoice)}
	events := &hEvents{}
	configs := &hConfigs{config: &fiscal.BackendConfig{
		TenantID:     tenantID,
		Backend:      "focus_nfe",
		WebhookToken: "hook-secret",
	}}

	service := appfiscal.NewWebhookService(invoices, events, configs, zap.NewNop())

	engine := gin.New()
	engine.Use(middleware.RequestID())
	r := router.NewRouter(engine)
	r.Register(NewWebhookHandler(service))
	r.Setup()
	return engine, invoices, tenantID
}

func storeSubmitting(t *testing.T, invoices *hInvoices, tenantID uuid.UUID) *fiscal.Invoice {
	t.Helper()
	invoice, err := fiscal.NewInvoice(fiscal.InvoiceParams{
		TenantID:       tenantID,
		CustomerID:     uuid.New(),
		CustomerName:   "Cliente Teste",
		RPSNumber:      1,
		RPSSeries:      "1",
		ServiceCode:    "07.02",
		Description:    "servico de teste",
		IssueDate:      time.Now(),
		CompetenceDate: time.Now(),
		ServiceAmount:  decimal.NewFromFloat(100),
		ISSRate:        decimal.NewFromFloat(0.02),
		Backend:        "focus_nfe",
		Environment:    fiscal.EnvironmentSandbox,
	})
	require.NoError(t, err)
	require.NoError(t, invoice.MarkSubmitting())
	require.NoError(t, invoices.Save(context.Background(), invoice))
	return invoice
}

func TestWebhookEndpointAuthorizes(t *testing.T) {
	engine, invoices, tenantID := webhookTestServer(t)
	invoice := storeSubmitting(t, invoices, tenantID)

	body := `{"ref":"` + invoice.ID.String() + `","status":"autorizado","numero":"321"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/nfse", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(WebhookTokenHeader, "hook-secret")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	stored, err := invoices.FindByID(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, fiscal.StatusAuthorized, stored.Status)
	assert.Equal(t, "321", stored.NfseNumber)
}

func TestWebhookEndpointRejectsBadToken(t *testing.T) {
	engine, invoices, tenantID := webhookTestServer(t)
	invoice := storeSubmitting(t, invoices, tenantID)

	body := `{"ref":"` + invoice.ID.String() + `","status":"autorizado"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/nfse", strings.NewReader(body))
	req.Header.Set(WebhookTokenHeader, "wrong")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookEndpointMalformedBody(t *testing.T) {
	engine, _, _ := webhookTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/nfse", strings.NewReader("{not json"))
	req.Header.Set(WebhookTokenHeader, "hook-secret")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookEndpointMissingReference(t *testing.T) {
	engine, _, _ := webhookTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/nfse", strings.NewReader(`{"status":"autorizado"}`))
	req.Header.Set(WebhookTokenHeader, "hook-secret")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookEndpointUnknownInvoice(t *testing.T) {
	engine, _, _ := webhookTestServer(t)

	body := `{"ref":"` + uuid.NewString() + `","status":"autorizado"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/nfse", strings.NewReader(body))
	req.Header.Set(WebhookTokenHeader, "hook-secret")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookEndpointTokenViaQuery(t *testing.T) {
	engine, invoices, tenantID := webhookTestServer(t)
	invoice := storeSubmitting(t, invoices, tenantID)

	body := `{"ref":"` + invoice.ID.String() + `","status":"erro_autorizacao","mensagem":"dados invalidos"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/nfse?token=hook-secret", strings.NewReader(body))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	stored, err := invoices.FindByID(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, fiscal.StatusRejected, stored.Status)
}

func TestWebhookEndpointLiveness(t *testing.T) {
	engine, _, _ := webhookTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/nfse", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
