package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
)

func newFocusClientForTest(t *testing.T, handler http.Handler) (*FocusClient, *memoryCallLogs, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	logs := &memoryCallLogs{}
	client := NewFocusClient(
		&fiscal.BackendConfig{
			Backend:     emission.BackendFocus,
			Environment: fiscal.EnvironmentSandbox,
			APIToken:    "focus-token",
		},
		testIssuer(),
		NewTransport(logs, zap.NewNop()),
		zap.NewNop(),
	)
	client.baseURL = srv.URL
	return client, logs, srv.Close
}

func TestFocusEmitAuthorized(t *testing.T) {
	inv := testInvoice(t)

	var gotAuth, gotRef string
	var gotPayload focusEmitPayload
	client, logs, cleanup := newFocusClientForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRef = r.URL.Query().Get("ref")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"autorizado","numero":"777","codigo_verificacao":"VRF-1","protocolo":"PROT-1","url_danfse":"https://danfse.example/777"}`))
	}))
	defer cleanup()

	result, err := client.Emit(context.Background(), inv, testIssuer())
	require.NoError(t, err)
	assert.Equal(t, emission.OutcomeAuthorized, result.Outcome)
	assert.Equal(t, "777", result.NfseNumber)
	assert.Equal(t, "VRF-1", result.VerificationCode)
	assert.Equal(t, "PROT-1", result.Protocol)
	assert.Equal(t, "https://danfse.example/777", result.DocumentURL)

	expectedAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("focus-token:"))
	assert.Equal(t, expectedAuth, gotAuth)
	assert.Equal(t, inv.ID.String(), gotRef)
	assert.Equal(t, "12345678000195", gotPayload.Issuer.CNPJ)
	assert.Equal(t, "150.00", gotPayload.Service.Amount)
	require.NotNil(t, gotPayload.Recipient)
	assert.Equal(t, "11222333000181", gotPayload.Recipient.Document)

	assert.Equal(t, 1, logs.count())
}

func TestFocusEmitAcceptedStaysProcessing(t *testing.T) {
	client, _, cleanup := newFocusClientForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"processando_autorizacao"}`))
	}))
	defer cleanup()

	inv := testInvoice(t)
	result, err := client.Emit(context.Background(), inv, testIssuer())
	require.NoError(t, err)
	assert.Equal(t, emission.OutcomeProcessing, result.Outcome)
	// No protocol in the response, the invoice id stands in as the reference.
	assert.Equal(t, inv.ID.String(), result.Protocol)
}

func TestFocusEmitRejectedJoinsErrorMessages(t *testing.T) {
	client, _, cleanup := newFocusClientForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"erros":[{"codigo":"E01","mensagem":"CNPJ do prestador invalido"},{"codigo":"E02","mensagem":"aliquota fora da faixa"}]}`))
	}))
	defer cleanup()

	result, err := client.Emit(context.Background(), testInvoice(t), testIssuer())
	require.NoError(t, err)
	assert.Equal(t, emission.OutcomeRejected, result.Outcome)
	assert.Contains(t, result.Message, "CNPJ do prestador invalido")
	assert.Contains(t, result.Message, "aliquota fora da faixa")
}

func TestFocusEmitNetworkFailure(t *testing.T) {
	logs := &memoryCallLogs{}
	client := NewFocusClient(
		&fiscal.BackendConfig{Backend: emission.BackendFocus, APIToken: "tok"},
		testIssuer(),
		NewTransport(logs, zap.NewNop()),
		zap.NewNop(),
	)
	client.baseURL = "http://127.0.0.1:1"

	result, err := client.Emit(context.Background(), testInvoice(t), testIssuer())
	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, emission.ErrCommunication)
	// The failed attempt is still audited.
	assert.Equal(t, 1, logs.count())
}

func TestFocusQuery(t *testing.T) {
	client, _, cleanup := newFocusClientForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"autorizado","numero":"777"}`))
	}))
	defer cleanup()

	result, err := client.Query(context.Background(), testInvoice(t))
	require.NoError(t, err)
	assert.Equal(t, emission.OutcomeAuthorized, result.Outcome)
	assert.Equal(t, "autorizado", result.RawStatus)
}

func TestFocusCancel(t *testing.T) {
	var gotMethod string
	var gotBody map[string]string
	client, _, cleanup := newFocusClientForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"cancelado","protocolo":"PROT-C"}`))
	}))
	defer cleanup()

	result, err := client.Cancel(context.Background(), testInvoice(t), "erro de digitacao no valor")
	require.NoError(t, err)
	assert.True(t, result.Done)
	assert.Equal(t, "PROT-C", result.Protocol)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "erro de digitacao no valor", gotBody["justificativa"])
}

func TestFocusCancelRejected(t *testing.T) {
	client, _, cleanup := newFocusClientForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"erros":[{"mensagem":"nota ja cancelada"}]}`))
	}))
	defer cleanup()

	_, err := client.Cancel(context.Background(), testInvoice(t), "motivo")
	require.Error(t, err)
	assert.ErrorIs(t, err, emission.ErrProviderRejection)
	assert.Contains(t, err.Error(), "nota ja cancelada")
}

func TestFocusFetchDocument(t *testing.T) {
	pdf := []byte("%PDF-1.7 fake")
	client, _, cleanup := newFocusClientForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ".pdf")
		w.WriteHeader(http.StatusOK)
		w.Write(pdf)
	}))
	defer cleanup()

	got, err := client.FetchDocument(context.Background(), testInvoice(t))
	require.NoError(t, err)
	assert.Equal(t, pdf, got)
}
