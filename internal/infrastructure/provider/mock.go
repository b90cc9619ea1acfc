package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
)

// MockClient simulates a provider for development, tests and tenants with
// no emission configuration. Everything succeeds synchronously and no HTTP
// call (and therefore no audit row) is ever produced.
type MockClient struct{}

var _ emission.Client = (*MockClient)(nil)

// NewMockClient creates the no-op provider client.
func NewMockClient() *MockClient { return &MockClient{} }

// Name implements emission.Client
func (c *MockClient) Name() string { return emission.BackendMock }

// Emit implements emission.Client
func (c *MockClient) Emit(ctx context.Context, inv *fiscal.Invoice, issuer *fiscal.Issuer) (*emission.EmissionResult, error) {
	return &emission.EmissionResult{
		Outcome:          emission.OutcomeAuthorized,
		NfseNumber:       fmt.Sprintf("%d", inv.RPSNumber),
		VerificationCode: "MOCK-" + strings.ToUpper(uuid.NewString()[:8]),
		AccessKey:        mockAccessKey(),
		Protocol:         "MOCK-" + strings.ToUpper(uuid.NewString()[:12]),
		RawPayload:       `<nfse><mock>true</mock></nfse>`,
		Message:          "NFS-e emitida com sucesso (mock)",
	}, nil
}

// Query implements emission.Client
func (c *MockClient) Query(ctx context.Context, inv *fiscal.Invoice) (*emission.QueryResult, error) {
	return &emission.QueryResult{
		Outcome:    emission.OutcomeAuthorized,
		RawStatus:  "autorizada",
		RawPayload: `<consulta><mock>true</mock></consulta>`,
		Message:    "consulta realizada com sucesso (mock)",
	}, nil
}

// Cancel implements emission.Client
func (c *MockClient) Cancel(ctx context.Context, inv *fiscal.Invoice, reason string) (*emission.CancellationResult, error) {
	return &emission.CancellationResult{
		Done:     true,
		Protocol: "CANCEL-" + strings.ToUpper(uuid.NewString()[:12]),
		Message:  "cancelamento realizado com sucesso (mock): " + reason,
	}, nil
}

// FetchDocument implements emission.Client. The mock provider renders no
// document.
func (c *MockClient) FetchDocument(ctx context.Context, inv *fiscal.Invoice) ([]byte, error) {
	return nil, nil
}

// mockAccessKey fabricates a 50-character access-key-shaped value.
func mockAccessKey() string {
	hex := strings.ToUpper(strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", ""))
	return "MOCK" + hex[:46]
}
