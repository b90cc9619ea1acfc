package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
)

const (
	focusProductionURL = "https://api.focusnfe.com.br/v2"
	focusSandboxURL    = "https://homologacao.focusnfe.com.br/v2"
)

// FocusClient integrates with the Focus NFe REST API v2. Authentication is
// HTTP Basic with the API token as username and an empty password. Emission
// is asynchronous: a 2xx without a terminal status only acknowledges the
// submission.
type FocusClient struct {
	config    *fiscal.BackendConfig
	issuer    *fiscal.Issuer
	transport *Transport
	logger    *zap.Logger
	baseURL   string
}

var _ emission.Client = (*FocusClient)(nil)

// NewFocusClient creates a client bound to one tenant's configuration.
func NewFocusClient(config *fiscal.BackendConfig, issuer *fiscal.Issuer, transport *Transport, logger *zap.Logger) *FocusClient {
	baseURL := focusSandboxURL
	if config.Environment == fiscal.EnvironmentProduction {
		baseURL = focusProductionURL
	}
	return &FocusClient{
		config:    config,
		issuer:    issuer,
		transport: transport,
		logger:    logger.Named("focus_nfe"),
		baseURL:   baseURL,
	}
}

// Name implements emission.Client
func (c *FocusClient) Name() string { return emission.BackendFocus }

type focusIssuer struct {
	CNPJ              string `json:"cnpj"`
	MunicipalRegistry string `json:"inscricao_municipal"`
	CityCode          string `json:"codigo_municipio"`
}

type focusRecipient struct {
	Document string `json:"cpf_cnpj"`
	Name     string `json:"razao_social"`
	Email    string `json:"email,omitempty"`
}

type focusService struct {
	Description   string `json:"discriminacao"`
	Rate          string `json:"aliquota"`
	Amount        string `json:"valor_servicos"`
	ISSWithheld   string `json:"iss_retido"`
	ServiceCode   string `json:"item_lista_servico"`
	MunicipalCode string `json:"codigo_tributario_municipio,omitempty"`
}

type focusEmitPayload struct {
	IssueDate       string          `json:"data_emissao"`
	OperationNature string          `json:"natureza_operacao"`
	Issuer          focusIssuer     `json:"prestador"`
	Recipient       *focusRecipient `json:"tomador,omitempty"`
	Service         focusService    `json:"servico"`
}

type focusError struct {
	Message string `json:"mensagem"`
	Code    string `json:"codigo"`
}

type focusResponse struct {
	Status           string       `json:"status"`
	Number           string       `json:"numero"`
	VerificationCode string       `json:"codigo_verificacao"`
	Protocol         string       `json:"protocolo"`
	XML              string       `json:"xml_nfse"`
	DocumentURL      string       `json:"url_danfse"`
	Message          string       `json:"mensagem"`
	Errors           []focusError `json:"erros"`
}

// Emit submits the invoice. The invoice id doubles as the provider-side
// reference so retries of the same invoice are idempotent on their end.
func (c *FocusClient) Emit(ctx context.Context, inv *fiscal.Invoice, issuer *fiscal.Issuer) (*emission.EmissionResult, error) {
	payload, err := json.Marshal(c.emitPayload(inv, issuer))
	if err != nil {
		return nil, fmt.Errorf("focus: encoding payload: %w", err)
	}

	resp, err := c.call(ctx, inv, http.MethodPost, fmt.Sprintf("%s/nfse?ref=%s", c.baseURL, inv.ID), payload)
	if err != nil {
		return nil, err
	}

	var parsed focusResponse
	_ = json.Unmarshal(resp.Body, &parsed)

	if !resp.Success() {
		return &emission.EmissionResult{
			Outcome:    emission.OutcomeRejected,
			RawPayload: string(resp.Body),
			Message:    focusMessage(&parsed, resp.StatusCode),
		}, nil
	}

	if status, ok := emission.MapStatus(emission.BackendFocus, parsed.Status); ok && status == fiscal.StatusAuthorized {
		return &emission.EmissionResult{
			Outcome:          emission.OutcomeAuthorized,
			NfseNumber:       parsed.Number,
			VerificationCode: parsed.VerificationCode,
			Protocol:         parsed.Protocol,
			DocumentURL:      parsed.DocumentURL,
			RawPayload:       string(resp.Body),
			Message:          "NFS-e autorizada via Focus NFe",
		}, nil
	}

	protocol := parsed.Protocol
	if protocol == "" {
		protocol = inv.ID.String()
	}
	return &emission.EmissionResult{
		Outcome:    emission.OutcomeProcessing,
		Protocol:   protocol,
		RawPayload: string(resp.Body),
		Message:    fmt.Sprintf("NFS-e em processamento: %s", parsed.Status),
	}, nil
}

// Query implements emission.Client
func (c *FocusClient) Query(ctx context.Context, inv *fiscal.Invoice) (*emission.QueryResult, error) {
	resp, err := c.call(ctx, inv, http.MethodGet, fmt.Sprintf("%s/nfse/%s", c.baseURL, inv.ID), nil)
	if err != nil {
		return nil, err
	}

	var parsed focusResponse
	_ = json.Unmarshal(resp.Body, &parsed)

	if !resp.Success() {
		return &emission.QueryResult{
			RawPayload: string(resp.Body),
			Message:    focusMessage(&parsed, resp.StatusCode),
		}, fmt.Errorf("%w: query returned HTTP %d", emission.ErrProviderRejection, resp.StatusCode)
	}

	return &emission.QueryResult{
		Outcome:    queryOutcome(emission.BackendFocus, parsed.Status),
		RawStatus:  parsed.Status,
		RawPayload: string(resp.Body),
		Message:    parsed.Message,
	}, nil
}

// Cancel implements emission.Client. Focus cancels synchronously on a 2xx.
func (c *FocusClient) Cancel(ctx context.Context, inv *fiscal.Invoice, reason string) (*emission.CancellationResult, error) {
	payload, _ := json.Marshal(map[string]string{"justificativa": reason})

	resp, err := c.call(ctx, inv, http.MethodDelete, fmt.Sprintf("%s/nfse/%s", c.baseURL, inv.ID), payload)
	if err != nil {
		return nil, err
	}

	var parsed focusResponse
	_ = json.Unmarshal(resp.Body, &parsed)

	if !resp.Success() {
		return &emission.CancellationResult{
			RawPayload: string(resp.Body),
			Message:    focusMessage(&parsed, resp.StatusCode),
		}, fmt.Errorf("%w: %s", emission.ErrProviderRejection, focusMessage(&parsed, resp.StatusCode))
	}

	return &emission.CancellationResult{
		Done:       true,
		Protocol:   parsed.Protocol,
		RawPayload: string(resp.Body),
		Message:    "cancelamento processado",
	}, nil
}

// FetchDocument implements emission.Client
func (c *FocusClient) FetchDocument(ctx context.Context, inv *fiscal.Invoice) ([]byte, error) {
	resp, err := c.call(ctx, inv, http.MethodGet, fmt.Sprintf("%s/nfse/%s.pdf", c.baseURL, inv.ID), nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, fmt.Errorf("%w: document download returned HTTP %d", emission.ErrProviderRejection, resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *FocusClient) emitPayload(inv *fiscal.Invoice, issuer *fiscal.Issuer) *focusEmitPayload {
	payload := &focusEmitPayload{
		IssueDate:       inv.IssueDate.Format(time.RFC3339),
		OperationNature: "1",
		Issuer: focusIssuer{
			CNPJ:              issuer.CNPJ,
			MunicipalRegistry: issuer.MunicipalRegistry,
			CityCode:          issuer.CityIBGE,
		},
		Service: focusService{
			Description:   inv.Description,
			Rate:          inv.ISSRate.String(),
			Amount:        inv.ServiceAmount.StringFixed(2),
			ISSWithheld:   fmt.Sprintf("%t", inv.ISSWithheld),
			ServiceCode:   inv.ServiceCode,
			MunicipalCode: inv.MunicipalCode,
		},
	}
	if inv.CustomerDoc != "" {
		payload.Recipient = &focusRecipient{
			Document: inv.CustomerDoc,
			Name:     inv.CustomerName,
			Email:    inv.CustomerMail,
		}
	}
	return payload
}

func (c *FocusClient) call(ctx context.Context, inv *fiscal.Invoice, method, url string, body []byte) (*Response, error) {
	invoiceID := inv.ID
	return c.transport.Do(ctx, &Request{
		TenantID:  inv.TenantID,
		InvoiceID: &invoiceID,
		Backend:   emission.BackendFocus,
		Method:    method,
		URL:       url,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Accept":        "application/json",
			"Authorization": basicAuth(c.config.APIToken),
		},
		Body: body,
	})
}

// basicAuth builds the Focus authentication header: the API token is the
// username, the password is empty.
func basicAuth(token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token+":"))
}

func focusMessage(parsed *focusResponse, statusCode int) string {
	if len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			msgs = append(msgs, e.Message)
		}
		return strings.Join(msgs, "; ")
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	return fmt.Sprintf("Erro HTTP %d", statusCode)
}
