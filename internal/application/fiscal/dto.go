package fiscal

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
)

// CreateInvoiceRequest carries the caller-supplied fields for a new invoice
type CreateInvoiceRequest struct {
	CustomerID     uuid.UUID  `json:"customer_id" binding:"required"`
	CustomerName   string     `json:"customer_name" binding:"required,max=200"`
	CustomerDoc    string     `json:"customer_doc" binding:"omitempty,cpfcnpj"`
	CustomerMail   string     `json:"customer_mail" binding:"omitempty,email"`
	RPSSeries      string     `json:"rps_series" binding:"omitempty,max=5"`
	ServiceCode    string     `json:"service_code" binding:"required,max=10"`
	MunicipalCode  string     `json:"municipal_code" binding:"omitempty,max=20"`
	Description    string     `json:"description" binding:"required"`
	IssueDate      *time.Time `json:"issue_date"`
	CompetenceDate *time.Time `json:"competence_date"`

	ServiceAmount   decimal.Decimal `json:"service_amount" binding:"required"`
	DeductionAmount decimal.Decimal `json:"deduction_amount"`
	ISSRate         decimal.Decimal `json:"iss_rate" binding:"required"`
	ISSWithheld     bool            `json:"iss_withheld"`
	PISAmount       decimal.Decimal `json:"pis_amount"`
	COFINSAmount    decimal.Decimal `json:"cofins_amount"`
	INSSAmount      decimal.Decimal `json:"inss_amount"`
	IRAmount        decimal.Decimal `json:"ir_amount"`
	CSLLAmount      decimal.Decimal `json:"csll_amount"`

	// IdempotencyKey lets clients retry creation safely. When a previous
	// invoice carries the same key, that invoice is returned unchanged.
	IdempotencyKey *uuid.UUID `json:"idempotency_key"`
}

// InvoiceResponse is the outward representation of an invoice
type InvoiceResponse struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	IdempotencyKey uuid.UUID `json:"idempotency_key"`
	CustomerID     uuid.UUID `json:"customer_id"`
	CustomerName   string    `json:"customer_name"`
	CustomerDoc    string    `json:"customer_doc,omitempty"`

	RPSNumber int64  `json:"rps_number"`
	RPSSeries string `json:"rps_series"`

	ServiceCode    string    `json:"service_code"`
	Description    string    `json:"description"`
	IssueDate      time.Time `json:"issue_date"`
	CompetenceDate time.Time `json:"competence_date"`

	ServiceAmount   decimal.Decimal `json:"service_amount"`
	DeductionAmount decimal.Decimal `json:"deduction_amount"`
	CalcBase        decimal.Decimal `json:"calc_base"`
	ISSRate         decimal.Decimal `json:"iss_rate"`
	ISSAmount       decimal.Decimal `json:"iss_amount"`
	ISSWithheld     bool            `json:"iss_withheld"`
	NetAmount       decimal.Decimal `json:"net_amount"`

	Status      fiscal.Status      `json:"status"`
	Backend     string             `json:"backend"`
	Environment fiscal.Environment `json:"environment"`

	NfseNumber       string `json:"nfse_number,omitempty"`
	VerificationCode string `json:"verification_code,omitempty"`
	AccessKey        string `json:"access_key,omitempty"`
	Protocol         string `json:"protocol,omitempty"`
	DocumentURL      string `json:"document_url,omitempty"`
	LastError        string `json:"last_error,omitempty"`

	CancelReason string     `json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ToInvoiceResponse converts a domain invoice to its response form
func ToInvoiceResponse(inv *fiscal.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:               inv.ID,
		TenantID:         inv.TenantID,
		IdempotencyKey:   inv.IdempotencyKey,
		CustomerID:       inv.CustomerID,
		CustomerName:     inv.CustomerName,
		CustomerDoc:      inv.CustomerDoc,
		RPSNumber:        inv.RPSNumber,
		RPSSeries:        inv.RPSSeries,
		ServiceCode:      inv.ServiceCode,
		Description:      inv.Description,
		IssueDate:        inv.IssueDate,
		CompetenceDate:   inv.CompetenceDate,
		ServiceAmount:    inv.ServiceAmount,
		DeductionAmount:  inv.DeductionAmount,
		CalcBase:         inv.CalcBase,
		ISSRate:          inv.ISSRate,
		ISSAmount:        inv.ISSAmount,
		ISSWithheld:      inv.ISSWithheld,
		NetAmount:        inv.NetAmount,
		Status:           inv.Status,
		Backend:          inv.Backend,
		Environment:      inv.Environment,
		NfseNumber:       inv.NfseNumber,
		VerificationCode: inv.VerificationCode,
		AccessKey:        inv.AccessKey,
		Protocol:         inv.Protocol,
		DocumentURL:      inv.DocumentURL,
		LastError:        inv.LastError,
		CancelReason:     inv.CancelReason,
		CancelledAt:      inv.CancelledAt,
		CreatedAt:        inv.CreatedAt,
		UpdatedAt:        inv.UpdatedAt,
	}
}

// FiscalEventResponse is the outward representation of a lifecycle event
type FiscalEventResponse struct {
	ID        uuid.UUID        `json:"id"`
	InvoiceID uuid.UUID        `json:"invoice_id"`
	Type      fiscal.EventType `json:"type"`
	Protocol  string           `json:"protocol,omitempty"`
	Message   string           `json:"message,omitempty"`
	Success   bool             `json:"success"`
	CreatedAt time.Time        `json:"created_at"`
}

// ToFiscalEventResponse converts a domain event to its response form
func ToFiscalEventResponse(e *fiscal.FiscalEvent) FiscalEventResponse {
	return FiscalEventResponse{
		ID:        e.ID,
		InvoiceID: e.InvoiceID,
		Type:      e.Type,
		Protocol:  e.Protocol,
		Message:   e.Message,
		Success:   e.Success,
		CreatedAt: e.CreatedAt,
	}
}

// WebhookPayload is the normalized callback body. Providers differ in field
// names; the HTTP layer maps their aliases onto this shape before the
// service sees it.
type WebhookPayload struct {
	Reference        string `json:"ref"`
	Protocol         string `json:"protocolo"`
	Status           string `json:"status"`
	NfseNumber       string `json:"numero"`
	VerificationCode string `json:"codigo_verificacao"`
	AccessKey        string `json:"chave_acesso"`
	DocumentURL      string `json:"url_danfse"`
	Message          string `json:"mensagem"`
	RawBody          string `json:"-"`
}

// WebhookResult reports how a callback was handled
type WebhookResult struct {
	Applied   bool          `json:"applied"`
	Status    fiscal.Status `json:"status"`
	InvoiceID uuid.UUID     `json:"invoice_id"`
	Message   string        `json:"message,omitempty"`
}
