package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
)

const (
	tecnospeedProductionURL = "https://nfse.tecnospeed.com.br/api/v1"
	tecnospeedSandboxURL    = "https://nfse-homologacao.tecnospeed.com.br/api/v1"
)

// TecnoSpeedClient integrates with the TecnoSpeed NFS-e REST API.
// Authentication is the software-house token in the token_sh header.
type TecnoSpeedClient struct {
	config    *fiscal.BackendConfig
	issuer    *fiscal.Issuer
	transport *Transport
	logger    *zap.Logger
	baseURL   string
}

var _ emission.Client = (*TecnoSpeedClient)(nil)

// NewTecnoSpeedClient creates a client bound to one tenant's configuration.
func NewTecnoSpeedClient(config *fiscal.BackendConfig, issuer *fiscal.Issuer, transport *Transport, logger *zap.Logger) *TecnoSpeedClient {
	baseURL := tecnospeedSandboxURL
	if config.Environment == fiscal.EnvironmentProduction {
		baseURL = tecnospeedProductionURL
	}
	return &TecnoSpeedClient{
		config:    config,
		issuer:    issuer,
		transport: transport,
		logger:    logger.Named("tecnospeed"),
		baseURL:   baseURL,
	}
}

// Name implements emission.Client
func (c *TecnoSpeedClient) Name() string { return emission.BackendTecnoSpeed }

type tecnospeedIssuer struct {
	CNPJ              string `json:"cnpj"`
	MunicipalRegistry string `json:"inscricao_municipal"`
	CityCode          string `json:"codigo_municipio_ibge"`
}

type tecnospeedRecipient struct {
	Document string `json:"cpf_cnpj"`
	Name     string `json:"razao_social"`
	Email    string `json:"email,omitempty"`
}

type tecnospeedService struct {
	Description   string `json:"discriminacao"`
	ServiceCode   string `json:"codigo_item_lista_servico"`
	MunicipalCode string `json:"codigo_tributacao_municipio,omitempty"`
	Amount        string `json:"valor_servicos"`
	Rate          string `json:"aliquota_iss"`
	ISSWithheld   bool   `json:"iss_retido"`
}

type tecnospeedEmitPayload struct {
	DocumentType string               `json:"tipo_documento"`
	IssueDate    string               `json:"data_emissao"`
	Competence   string               `json:"competencia"`
	Issuer       tecnospeedIssuer     `json:"prestador"`
	Recipient    *tecnospeedRecipient `json:"tomador,omitempty"`
	Service      tecnospeedService    `json:"servico"`
	TotalAmount  string               `json:"valor_total"`
}

type tecnospeedResponse struct {
	Situation        string `json:"situacao"`
	Number           string `json:"numero_nfse"`
	VerificationCode string `json:"codigo_verificacao"`
	Protocol         string `json:"protocolo"`
	XML              string `json:"xml"`
	DocumentURL      string `json:"link_pdf"`
	Message          string `json:"mensagem"`
	Errors           any    `json:"erros"`
}

// Emit implements emission.Client
func (c *TecnoSpeedClient) Emit(ctx context.Context, inv *fiscal.Invoice, issuer *fiscal.Issuer) (*emission.EmissionResult, error) {
	payload, err := json.Marshal(c.emitPayload(inv, issuer))
	if err != nil {
		return nil, fmt.Errorf("tecnospeed: encoding payload: %w", err)
	}

	resp, err := c.call(ctx, inv, http.MethodPost, c.baseURL+"/nfse/enviar", payload)
	if err != nil {
		return nil, err
	}

	var parsed tecnospeedResponse
	_ = json.Unmarshal(resp.Body, &parsed)

	if !resp.Success() {
		return &emission.EmissionResult{
			Outcome:    emission.OutcomeRejected,
			RawPayload: string(resp.Body),
			Message:    tecnospeedMessage(&parsed, resp.StatusCode),
		}, nil
	}

	if status, ok := emission.MapStatus(emission.BackendTecnoSpeed, parsed.Situation); ok && status == fiscal.StatusAuthorized {
		return &emission.EmissionResult{
			Outcome:          emission.OutcomeAuthorized,
			NfseNumber:       parsed.Number,
			VerificationCode: parsed.VerificationCode,
			Protocol:         parsed.Protocol,
			DocumentURL:      parsed.DocumentURL,
			RawPayload:       string(resp.Body),
			Message:          "NFS-e autorizada via TecnoSpeed",
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
		Message:    fmt.Sprintf("NFS-e em processamento: %s", parsed.Situation),
	}, nil
}

// Query implements emission.Client
func (c *TecnoSpeedClient) Query(ctx context.Context, inv *fiscal.Invoice) (*emission.QueryResult, error) {
	resp, err := c.call(ctx, inv, http.MethodGet, fmt.Sprintf("%s/nfse/consultar/%s", c.baseURL, inv.ID), nil)
	if err != nil {
		return nil, err
	}

	var parsed tecnospeedResponse
	_ = json.Unmarshal(resp.Body, &parsed)

	if !resp.Success() {
		return &emission.QueryResult{
			RawPayload: string(resp.Body),
			Message:    tecnospeedMessage(&parsed, resp.StatusCode),
		}, fmt.Errorf("%w: query returned HTTP %d", emission.ErrProviderRejection, resp.StatusCode)
	}

	return &emission.QueryResult{
		Outcome:    queryOutcome(emission.BackendTecnoSpeed, parsed.Situation),
		RawStatus:  parsed.Situation,
		RawPayload: string(resp.Body),
		Message:    parsed.Message,
	}, nil
}

// Cancel implements emission.Client
func (c *TecnoSpeedClient) Cancel(ctx context.Context, inv *fiscal.Invoice, reason string) (*emission.CancellationResult, error) {
	payload, _ := json.Marshal(map[string]string{
		"id":                  inv.ID.String(),
		"motivo_cancelamento": reason,
	})

	resp, err := c.call(ctx, inv, http.MethodPost, c.baseURL+"/nfse/cancelar", payload)
	if err != nil {
		return nil, err
	}

	var parsed tecnospeedResponse
	_ = json.Unmarshal(resp.Body, &parsed)

	if !resp.Success() {
		return &emission.CancellationResult{
			RawPayload: string(resp.Body),
			Message:    tecnospeedMessage(&parsed, resp.StatusCode),
		}, fmt.Errorf("%w: %s", emission.ErrProviderRejection, tecnospeedMessage(&parsed, resp.StatusCode))
	}

	return &emission.CancellationResult{
		Done:       true,
		Protocol:   parsed.Protocol,
		RawPayload: string(resp.Body),
		Message:    "cancelamento processado",
	}, nil
}

// FetchDocument implements emission.Client
func (c *TecnoSpeedClient) FetchDocument(ctx context.Context, inv *fiscal.Invoice) ([]byte, error) {
	resp, err := c.call(ctx, inv, http.MethodGet, fmt.Sprintf("%s/nfse/imprimir/%s", c.baseURL, inv.ID), nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, fmt.Errorf("%w: document download returned HTTP %d", emission.ErrProviderRejection, resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *TecnoSpeedClient) emitPayload(inv *fiscal.Invoice, issuer *fiscal.Issuer) *tecnospeedEmitPayload {
	payload := &tecnospeedEmitPayload{
		DocumentType: "NFSE",
		IssueDate:    inv.IssueDate.Format(time.RFC3339),
		Competence:   inv.CompetenceDate.Format("2006-01-02"),
		Issuer: tecnospeedIssuer{
			CNPJ:              issuer.CNPJ,
			MunicipalRegistry: issuer.MunicipalRegistry,
			CityCode:          issuer.CityIBGE,
		},
		Service: tecnospeedService{
			Description:   inv.Description,
			ServiceCode:   inv.ServiceCode,
			MunicipalCode: inv.MunicipalCode,
			Amount:        inv.ServiceAmount.StringFixed(2),
			Rate:          inv.ISSRate.String(),
			ISSWithheld:   inv.ISSWithheld,
		},
		TotalAmount: inv.ServiceAmount.StringFixed(2),
	}
	if inv.CustomerDoc != "" {
		payload.Recipient = &tecnospeedRecipient{
			Document: inv.CustomerDoc,
			Name:     inv.CustomerName,
			Email:    inv.CustomerMail,
		}
	}
	return payload
}

func (c *TecnoSpeedClient) call(ctx context.Context, inv *fiscal.Invoice, method, url string, body []byte) (*Response, error) {
	invoiceID := inv.ID
	return c.transport.Do(ctx, &Request{
		TenantID:  inv.TenantID,
		InvoiceID: &invoiceID,
		Backend:   emission.BackendTecnoSpeed,
		Method:    method,
		URL:       url,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"token_sh":     c.config.APIToken,
		},
		Body: body,
	})
}

func tecnospeedMessage(parsed *tecnospeedResponse, statusCode int) string {
	switch errs := parsed.Errors.(type) {
	case string:
		if errs != "" {
			return errs
		}
	case []any:
		if len(errs) > 0 {
			msg := ""
			for i, e := range errs {
				if i > 0 {
					msg += "; "
				}
				if m, ok := e.(map[string]any); ok {
					if s, ok := m["mensagem"].(string); ok {
						msg += s
						continue
					}
				}
				msg += fmt.Sprint(e)
			}
			return msg
		}
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	return fmt.Sprintf("Erro HTTP %d", statusCode)
}
