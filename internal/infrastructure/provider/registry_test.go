package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
	"github.com/google/uuid"
)

func TestRegistryFallsBackToMockWithoutConfig(t *testing.T) {
	registry := DefaultRegistry(NewTransport(&memoryCallLogs{}, zap.NewNop()), zap.NewNop())

	client := registry.ClientFor(nil, testIssuer())
	assert.Equal(t, emission.BackendMock, client.Name())
}

func TestRegistryFallsBackToMockForUnknownBackend(t *testing.T) {
	registry := DefaultRegistry(NewTransport(&memoryCallLogs{}, zap.NewNop()), zap.NewNop())

	client := registry.ClientFor(&fiscal.BackendConfig{
		TenantID: uuid.New(),
		Backend:  "prefeitura_legada",
	}, testIssuer())
	assert.Equal(t, emission.BackendMock, client.Name())
}

func TestRegistryDispatchesRegisteredBackends(t *testing.T) {
	registry := DefaultRegistry(NewTransport(&memoryCallLogs{}, zap.NewNop()), zap.NewNop())

	for _, key := range []string{
		emission.BackendMock,
		emission.BackendNational,
		emission.BackendFocus,
		emission.BackendTecnoSpeed,
	} {
		client := registry.ClientFor(&fiscal.BackendConfig{TenantID: uuid.New(), Backend: key}, testIssuer())
		assert.Equal(t, key, client.Name())
	}
	assert.Len(t, registry.Keys(), 4)
}

func TestMockClientLifecycle(t *testing.T) {
	logs := &memoryCallLogs{}
	client := NewMockClient()
	inv := testInvoice(t)

	result, err := client.Emit(context.Background(), inv, testIssuer())
	require.NoError(t, err)
	assert.Equal(t, emission.OutcomeAuthorized, result.Outcome)
	assert.Equal(t, "42", result.NfseNumber)
	assert.Len(t, result.AccessKey, 50)
	assert.True(t, len(result.Protocol) > 0)

	query, err := client.Query(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, emission.OutcomeAuthorized, query.Outcome)

	cancel, err := client.Cancel(context.Background(), inv, "teste")
	require.NoError(t, err)
	assert.True(t, cancel.Done)

	doc, err := client.FetchDocument(context.Background(), inv)
	require.NoError(t, err)
	assert.Nil(t, doc)

	// The mock never talks HTTP, so nothing reaches the audit store.
	assert.Equal(t, 0, logs.count())
}
