package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
)

// InvoiceModel is the persistence model for the Invoice aggregate.
type InvoiceModel struct {
	BaseModel
	TenantID       uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_invoice_tenant_rps,priority:1"`
	IdempotencyKey uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_invoice_idempotency"`

	CustomerID   uuid.UUID `gorm:"type:uuid;not null;index"`
	CustomerName string    `gorm:"type:varchar(200);not null"`
	CustomerDoc  string    `gorm:"type:varchar(14)"`
	CustomerMail string    `gorm:"type:varchar(200)"`

	RPSNumber int64  `gorm:"not null;uniqueIndex:idx_invoice_tenant_rps,priority:3"`
	RPSSeries string `gorm:"type:varchar(5);not null;uniqueIndex:idx_invoice_tenant_rps,priority:2"`

	ServiceCode      string    `gorm:"type:varchar(10);not null"`
	MunicipalCode    string    `gorm:"type:varchar(20)"`
	Description      string    `gorm:"type:text;not null"`
	ServiceCityIBGE  string    `gorm:"type:varchar(7)"`
	IssueDate        time.Time `gorm:"not null"`
	CompetenceDate   time.Time `gorm:"not null"`
	SimplifiedRegime bool      `gorm:"not null;default:false"`

	ServiceAmount   decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	DeductionAmount decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	CalcBase        decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	ISSRate         decimal.Decimal `gorm:"type:decimal(8,4);not null"`
	ISSAmount       decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	ISSWithheld     bool            `gorm:"not null;default:false"`
	PISAmount       decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	COFINSAmount    decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	INSSAmount      decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	IRAmount        decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	CSLLAmount      decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	CBSAmount       decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	IBSAmount       decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	NetAmount       decimal.Decimal `gorm:"type:decimal(18,2);not null"`

	Status      fiscal.Status      `gorm:"type:varchar(30);not null;index"`
	Backend     string             `gorm:"type:varchar(30);not null"`
	Environment fiscal.Environment `gorm:"type:varchar(15);not null"`

	NfseNumber       string `gorm:"type:varchar(20)"`
	VerificationCode string `gorm:"type:varchar(50)"`
	AccessKey        string `gorm:"type:varchar(50);index"`
	Protocol         string `gorm:"type:varchar(60);index"`
	DocumentURL      string `gorm:"type:text"`

	RawProviderPayload string `gorm:"type:text"`
	LastError          string `gorm:"type:text"`

	CancelReason   string     `gorm:"type:text"`
	CancelledAt    *time.Time `gorm:""`
	SupersededByID *uuid.UUID `gorm:"type:uuid"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice aggregate.
func (m *InvoiceModel) ToDomain() *fiscal.Invoice {
	return &fiscal.Invoice{
		BaseEntity:         m.BaseModel.ToDomain(),
		TenantID:           m.TenantID,
		IdempotencyKey:     m.IdempotencyKey,
		CustomerID:         m.CustomerID,
		CustomerName:       m.CustomerName,
		CustomerDoc:        m.CustomerDoc,
		CustomerMail:       m.CustomerMail,
		RPSNumber:          m.RPSNumber,
		RPSSeries:          m.RPSSeries,
		ServiceCode:        m.ServiceCode,
		MunicipalCode:      m.MunicipalCode,
		Description:        m.Description,
		ServiceCityIBGE:    m.ServiceCityIBGE,
		IssueDate:          m.IssueDate,
		CompetenceDate:     m.CompetenceDate,
		SimplifiedRegime:   m.SimplifiedRegime,
		ServiceAmount:      m.ServiceAmount,
		DeductionAmount:    m.DeductionAmount,
		CalcBase:           m.CalcBase,
		ISSRate:            m.ISSRate,
		ISSAmount:          m.ISSAmount,
		ISSWithheld:        m.ISSWithheld,
		PISAmount:          m.PISAmount,
		COFINSAmount:       m.COFINSAmount,
		INSSAmount:         m.INSSAmount,
		IRAmount:           m.IRAmount,
		CSLLAmount:         m.CSLLAmount,
		CBSAmount:          m.CBSAmount,
		IBSAmount:          m.IBSAmount,
		NetAmount:          m.NetAmount,
		Status:             m.Status,
		Backend:            m.Backend,
		Environment:        m.Environment,
		NfseNumber:         m.NfseNumber,
		VerificationCode:   m.VerificationCode,
		AccessKey:          m.AccessKey,
		Protocol:           m.Protocol,
		DocumentURL:        m.DocumentURL,
		RawProviderPayload: m.RawProviderPayload,
		LastError:          m.LastError,
		CancelReason:       m.CancelReason,
		CancelledAt:        m.CancelledAt,
		SupersededByID:     m.SupersededByID,
	}
}

// FromDomain populates the persistence model from a domain Invoice aggregate.
func (m *InvoiceModel) FromDomain(inv *fiscal.Invoice) {
	m.FromDomainBaseEntity(inv.BaseEntity)
	m.TenantID = inv.TenantID
	m.IdempotencyKey = inv.IdempotencyKey
	m.CustomerID = inv.CustomerID
	m.CustomerName = inv.CustomerName
	m.CustomerDoc = inv.CustomerDoc
	m.CustomerMail = inv.CustomerMail
	m.RPSNumber = inv.RPSNumber
	m.RPSSeries = inv.RPSSeries
	m.ServiceCode = inv.ServiceCode
	m.MunicipalCode = inv.MunicipalCode
	m.Description = inv.Description
	m.ServiceCityIBGE = inv.ServiceCityIBGE
	m.IssueDate = inv.IssueDate
	m.CompetenceDate = inv.CompetenceDate
	m.SimplifiedRegime = inv.SimplifiedRegime
	m.ServiceAmount = inv.ServiceAmount
	m.DeductionAmount = inv.DeductionAmount
	m.CalcBase = inv.CalcBase
	m.ISSRate = inv.ISSRate
	m.ISSAmount = inv.ISSAmount
	m.ISSWithheld = inv.ISSWithheld
	m.PISAmount = inv.PISAmount
	m.COFINSAmount = inv.COFINSAmount
	m.INSSAmount = inv.INSSAmount
	m.IRAmount = inv.IRAmount
	m.CSLLAmount = inv.CSLLAmount
	m.CBSAmount = inv.CBSAmount
	m.IBSAmount = inv.IBSAmount
	m.NetAmount = inv.NetAmount
	m.Status = inv.Status
	m.Backend = inv.Backend
	m.Environment = inv.Environment
	m.NfseNumber = inv.NfseNumber
	m.VerificationCode = inv.VerificationCode
	m.AccessKey = inv.AccessKey
	m.Protocol = inv.Protocol
	m.DocumentURL = inv.DocumentURL
	m.RawProviderPayload = inv.RawProviderPayload
	m.LastError = inv.LastError
	m.CancelReason = inv.CancelReason
	m.CancelledAt = inv.CancelledAt
	m.SupersededByID = inv.SupersededByID
}

// InvoiceModelFromDomain creates a new persistence model from a domain Invoice.
func InvoiceModelFromDomain(inv *fiscal.Invoice) *InvoiceModel {
	m := &InvoiceModel{}
	m.FromDomain(inv)
	return m
}

// FiscalEventModel is the persistence model for the append-only lifecycle
// trail.
type FiscalEventModel struct {
	BaseModel
	TenantID  uuid.UUID        `gorm:"type:uuid;not null;index"`
	InvoiceID uuid.UUID        `gorm:"type:uuid;not null;index"`
	Type      fiscal.EventType `gorm:"type:varchar(20);not null"`
	Protocol  string           `gorm:"type:varchar(60)"`
	Message   string           `gorm:"type:text"`
	Success   bool             `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (FiscalEventModel) TableName() string {
	return "fiscal_events"
}

// ToDomain converts the persistence model to a domain FiscalEvent.
func (m *FiscalEventModel) ToDomain() *fiscal.FiscalEvent {
	return &fiscal.FiscalEvent{
		BaseEntity: m.BaseModel.ToDomain(),
		TenantID:   m.TenantID,
		InvoiceID:  m.InvoiceID,
		Type:       m.Type,
		Protocol:   m.Protocol,
		Message:    m.Message,
		Success:    m.Success,
	}
}

// FromDomain populates the persistence model from a domain FiscalEvent.
func (m *FiscalEventModel) FromDomain(e *fiscal.FiscalEvent) {
	m.FromDomainBaseEntity(e.BaseEntity)
	m.TenantID = e.TenantID
	m.InvoiceID = e.InvoiceID
	m.Type = e.Type
	m.Protocol = e.Protocol
	m.Message = e.Message
	m.Success = e.Success
}

// BackendConfigModel is the persistence model for per-tenant emission
// configuration. Credential columns hold ciphertext; the repository
// encrypts on save and decrypts on read.
type BackendConfigModel struct {
	BaseModel
	TenantID    uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex"`
	Backend     string             `gorm:"type:varchar(30);not null"`
	Environment fiscal.Environment `gorm:"type:varchar(15);not null"`

	APIToken              string `gorm:"type:text"`
	APISecret             string `gorm:"type:text"`
	WebhookToken          string `gorm:"type:varchar(100);index"`
	CertificateP12        []byte `gorm:"type:bytea"`
	CertificatePassphrase string `gorm:"type:text"`
	AutoEmit              bool   `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (BackendConfigModel) TableName() string {
	return "backend_configs"
}

// ToDomain converts the persistence model to a domain BackendConfig. The
// credential fields still carry ciphertext at this point.
func (m *BackendConfigModel) ToDomain() *fiscal.BackendConfig {
	return &fiscal.BackendConfig{
		BaseEntity:            m.BaseModel.ToDomain(),
		TenantID:              m.TenantID,
		Backend:               m.Backend,
		Environment:           m.Environment,
		APIToken:              m.APIToken,
		APISecret:             m.APISecret,
		WebhookToken:          m.WebhookToken,
		CertificateP12:        m.CertificateP12,
		CertificatePassphrase: m.CertificatePassphrase,
		AutoEmit:              m.AutoEmit,
	}
}

// FromDomain populates the persistence model from a domain BackendConfig.
func (m *BackendConfigModel) FromDomain(c *fiscal.BackendConfig) {
	m.FromDomainBaseEntity(c.BaseEntity)
	m.TenantID = c.TenantID
	m.Backend = c.Backend
	m.Environment = c.Environment
	m.APIToken = c.APIToken
	m.APISecret = c.APISecret
	m.WebhookToken = c.WebhookToken
	m.CertificateP12 = c.CertificateP12
	m.CertificatePassphrase = c.CertificatePassphrase
	m.AutoEmit = c.AutoEmit
}

// IssuerModel is the persistence model for tenant registration data.
type IssuerModel struct {
	TenantID          uuid.UUID `gorm:"type:uuid;primary_key"`
	CNPJ              string    `gorm:"type:varchar(14);not null"`
	MunicipalRegistry string    `gorm:"type:varchar(20)"`
	LegalName         string    `gorm:"type:varchar(200);not null"`
	TradeName         string    `gorm:"type:varchar(200)"`
	Street            string    `gorm:"type:varchar(200)"`
	Number            string    `gorm:"type:varchar(20)"`
	District          string    `gorm:"type:varchar(100)"`
	CityIBGE          string    `gorm:"type:varchar(7);not null"`
	State             string    `gorm:"type:varchar(2)"`
	ZipCode           string    `gorm:"type:varchar(8)"`
	SimplifiedRegime  bool      `gorm:"not null;default:false"`
	DefaultRPSSeries  string    `gorm:"type:varchar(5);not null;default:'1'"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IssuerModel) TableName() string {
	return "issuers"
}

// ToDomain converts the persistence model to a domain Issuer.
func (m *IssuerModel) ToDomain() *fiscal.Issuer {
	return &fiscal.Issuer{
		TenantID:          m.TenantID,
		CNPJ:              m.CNPJ,
		MunicipalRegistry: m.MunicipalRegistry,
		LegalName:         m.LegalName,
		TradeName:         m.TradeName,
		Street:            m.Street,
		Number:            m.Number,
		District:          m.District,
		CityIBGE:          m.CityIBGE,
		State:             m.State,
		ZipCode:           m.ZipCode,
		SimplifiedRegime:  m.SimplifiedRegime,
		DefaultRPSSeries:  m.DefaultRPSSeries,
	}
}

// FromDomain populates the persistence model from a domain Issuer.
func (m *IssuerModel) FromDomain(i *fiscal.Issuer) {
	m.TenantID = i.TenantID
	m.CNPJ = i.CNPJ
	m.MunicipalRegistry = i.MunicipalRegistry
	m.LegalName = i.LegalName
	m.TradeName = i.TradeName
	m.Street = i.Street
	m.Number = i.Number
	m.District = i.District
	m.CityIBGE = i.CityIBGE
	m.State = i.State
	m.ZipCode = i.ZipCode
	m.SimplifiedRegime = i.SimplifiedRegime
	m.DefaultRPSSeries = i.DefaultRPSSeries
}

// APICallLogModel is the persistence model for the write-once HTTP audit
// trail. Header maps are stored as JSON.
type APICallLogModel struct {
	ID        uuid.UUID  `gorm:"type:uuid;primary_key"`
	TenantID  uuid.UUID  `gorm:"type:uuid;not null;index"`
	InvoiceID *uuid.UUID `gorm:"type:uuid;index"`
	Backend   string     `gorm:"type:varchar(30);not null;index"`

	Method          string `gorm:"type:varchar(10);not null"`
	URL             string `gorm:"type:text;not null"`
	RequestHeaders  string `gorm:"type:jsonb"`
	RequestBody     string `gorm:"type:text"`
	StatusCode      int    `gorm:"not null;default:0"`
	ResponseHeaders string `gorm:"type:jsonb"`
	ResponseBody    string `gorm:"type:text"`

	DurationMS int64     `gorm:"not null;default:0"`
	Success    bool      `gorm:"not null;default:false"`
	Error      string    `gorm:"type:text"`
	RequestID  uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt  time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (APICallLogModel) TableName() string {
	return "api_call_logs"
}

// ToDomain converts the persistence model to a domain APICallLog.
func (m *APICallLogModel) ToDomain() *fiscal.APICallLog {
	return &fiscal.APICallLog{
		ID:              m.ID,
		TenantID:        m.TenantID,
		InvoiceID:       m.InvoiceID,
		Backend:         m.Backend,
		Method:          m.Method,
		URL:             m.URL,
		RequestHeaders:  decodeHeaders(m.RequestHeaders),
		RequestBody:     m.RequestBody,
		StatusCode:      m.StatusCode,
		ResponseHeaders: decodeHeaders(m.ResponseHeaders),
		ResponseBody:    m.ResponseBody,
		Duration:        time.Duration(m.DurationMS) * time.Millisecond,
		Success:         m.Success,
		Error:           m.Error,
		RequestID:       m.RequestID,
		CreatedAt:       m.CreatedAt,
	}
}

// FromDomain populates the persistence model from a domain APICallLog.
func (m *APICallLogModel) FromDomain(l *fiscal.APICallLog) {
	m.ID = l.ID
	m.TenantID = l.TenantID
	m.InvoiceID = l.InvoiceID
	m.Backend = l.Backend
	m.Method = l.Method
	m.URL = l.URL
	m.RequestHeaders = encodeHeaders(l.RequestHeaders)
	m.RequestBody = l.RequestBody
	m.StatusCode = l.StatusCode
	m.ResponseHeaders = encodeHeaders(l.ResponseHeaders)
	m.ResponseBody = l.ResponseBody
	m.DurationMS = l.Duration.Milliseconds()
	m.Success = l.Success
	m.Error = l.Error
	m.RequestID = l.RequestID
	m.CreatedAt = l.CreatedAt
}

func encodeHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(headers)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func decodeHeaders(raw string) map[string]string {
	headers := map[string]string{}
	if raw == "" {
		return headers
	}
	_ = json.Unmarshal([]byte(raw), &headers)
	return headers
}
