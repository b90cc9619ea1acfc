package provider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
)

// memoryCallLogs is an in-memory APICallLogRepository for transport tests.
type memoryCallLogs struct {
	mu      sync.Mutex
	entries []fiscal.APICallLog
	failing bool
}

func (m *memoryCallLogs) Create(ctx context.Context, log *fiscal.APICallLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return context.DeadlineExceeded
	}
	m.entries = append(m.entries, *log)
	return nil
}

func (m *memoryCallLogs) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]fiscal.APICallLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []fiscal.APICallLog
	for _, e := range m.entries {
		if e.InvoiceID != nil && *e.InvoiceID == invoiceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryCallLogs) CountByBackend(ctx context.Context, tenantID uuid.UUID, backend string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.Backend == backend {
			n++
		}
	}
	return n, nil
}

func (m *memoryCallLogs) last(t *testing.T) fiscal.APICallLog {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.entries)
	return m.entries[len(m.entries)-1]
}

func (m *memoryCallLogs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func testInvoice(t *testing.T) *fiscal.Invoice {
	t.Helper()
	inv, err := fiscal.NewInvoice(fiscal.InvoiceParams{
		TenantID:        uuid.New(),
		CustomerID:      uuid.New(),
		CustomerName:    "Cliente Exemplo LTDA",
		CustomerDoc:     "11222333000181",
		CustomerMail:    "fiscal@cliente.example",
		RPSNumber:       42,
		RPSSeries:       "1",
		ServiceCode:     "01.07",
		Description:     "Desenvolvimento de software sob encomenda",
		ServiceCityIBGE: "3550308",
		IssueDate:       time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		CompetenceDate:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ServiceAmount:   decimal.NewFromFloat(150.00),
		ISSRate:         decimal.NewFromFloat(0.05),
	})
	require.NoError(t, err)
	return inv
}

func testIssuer() *fiscal.Issuer {
	return &fiscal.Issuer{
		TenantID:          uuid.New(),
		CNPJ:              "12345678000195",
		MunicipalRegistry: "987654",
		LegalName:         "Prestadora Exemplo LTDA",
		Street:            "Rua das Acacias",
		Number:            "100",
		District:          "Centro",
		CityIBGE:          "3550308",
		State:             "SP",
		ZipCode:           "01001000",
		DefaultRPSSeries:  "1",
	}
}
