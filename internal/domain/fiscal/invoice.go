package fiscal

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caixadigital/nfse-gateway/internal/domain/shared"
)

// Invoice is the NFS-e aggregate: one service invoice issued on behalf of a
// tenant. Monetary figures are fixed-point decimals; derived figures
// (calculation base, ISS value, net amount) are computed once at creation
// and never recomputed after the invoice reaches a terminal success state.
type Invoice struct {
	shared.BaseEntity
	TenantID uuid.UUID

	// IdempotencyKey is generated once at creation and detects duplicate
	// submissions across retries. Distinct from ID.
	IdempotencyKey uuid.UUID

	// Recipient
	CustomerID   uuid.UUID
	CustomerName string
	CustomerDoc  string // CPF (11) or CNPJ (14), digits only; may be empty
	CustomerMail string

	// RPS (provisional receipt) identification
	RPSNumber int64
	RPSSeries string

	// Service
	ServiceCode      string // LC 116 item code
	MunicipalCode    string
	Description      string
	ServiceCityIBGE  string
	IssueDate        time.Time
	CompetenceDate   time.Time
	SimplifiedRegime bool // Simples Nacional issuer

	// Amounts
	ServiceAmount   decimal.Decimal
	DeductionAmount decimal.Decimal
	CalcBase        decimal.Decimal
	ISSRate         decimal.Decimal
	ISSAmount       decimal.Decimal
	ISSWithheld     bool
	PISAmount       decimal.Decimal
	COFINSAmount    decimal.Decimal
	INSSAmount      decimal.Decimal
	IRAmount        decimal.Decimal
	CSLLAmount      decimal.Decimal
	CBSAmount       decimal.Decimal
	IBSAmount       decimal.Decimal
	NetAmount       decimal.Decimal

	// Lifecycle
	Status      Status
	Backend     string
	Environment Environment

	// Provider-assigned fields, populated only on success
	NfseNumber       string
	VerificationCode string
	AccessKey        string
	Protocol         string
	DocumentURL      string

	// Audit
	RawProviderPayload string
	LastError          string

	// Cancellation / supersession
	CancelReason   string
	CancelledAt    *time.Time
	SupersededByID *uuid.UUID
}

// InvoiceParams carries the caller-supplied fields for NewInvoice.
type InvoiceParams struct {
	TenantID         uuid.UUID
	CustomerID       uuid.UUID
	CustomerName     string
	CustomerDoc      string
	CustomerMail     string
	RPSNumber        int64
	RPSSeries        string
	ServiceCode      string
	MunicipalCode    string
	Description      string
	ServiceCityIBGE  string
	IssueDate        time.Time
	CompetenceDate   time.Time
	SimplifiedRegime bool
	ServiceAmount    decimal.Decimal
	DeductionAmount  decimal.Decimal
	ISSRate          decimal.Decimal
	ISSWithheld      bool
	PISAmount        decimal.Decimal
	COFINSAmount     decimal.Decimal
	INSSAmount       decimal.Decimal
	IRAmount         decimal.Decimal
	CSLLAmount       decimal.Decimal
	CBSAmount        decimal.Decimal
	IBSAmount        decimal.Decimal
	Backend          string
	Environment      Environment
}

// NewInvoice creates a draft invoice with derived amounts computed and a
// fresh idempotency key.
func NewInvoice(p InvoiceParams) (*Invoice, error) {
	if p.TenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if p.RPSNumber <= 0 {
		return nil, shared.NewDomainError("INVALID_RPS", "RPS number must be positive")
	}
	if !p.ServiceAmount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Service amount must be positive")
	}
	if p.ISSRate.IsNegative() || p.ISSRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, shared.NewDomainError("INVALID_RATE", "ISS rate must be between 0 and 1")
	}
	if p.DeductionAmount.GreaterThan(p.ServiceAmount) {
		return nil, shared.NewDomainError("INVALID_DEDUCTION", "Deductions cannot exceed service amount")
	}
	if !p.Environment.IsValid() {
		p.Environment = EnvironmentSandbox
	}
	if p.RPSSeries == "" {
		p.RPSSeries = "1"
	}

	inv := &Invoice{
		BaseEntity:       shared.NewBaseEntity(),
		TenantID:         p.TenantID,
		IdempotencyKey:   uuid.New(),
		CustomerID:       p.CustomerID,
		CustomerName:     p.CustomerName,
		CustomerDoc:      p.CustomerDoc,
		CustomerMail:     p.CustomerMail,
		RPSNumber:        p.RPSNumber,
		RPSSeries:        p.RPSSeries,
		ServiceCode:      p.ServiceCode,
		MunicipalCode:    p.MunicipalCode,
		Description:      p.Description,
		ServiceCityIBGE:  p.ServiceCityIBGE,
		IssueDate:        p.IssueDate,
		CompetenceDate:   p.CompetenceDate,
		SimplifiedRegime: p.SimplifiedRegime,
		ServiceAmount:    p.ServiceAmount,
		DeductionAmount:  p.DeductionAmount,
		ISSRate:          p.ISSRate,
		ISSWithheld:      p.ISSWithheld,
		PISAmount:        p.PISAmount,
		COFINSAmount:     p.COFINSAmount,
		INSSAmount:       p.INSSAmount,
		IRAmount:         p.IRAmount,
		CSLLAmount:       p.CSLLAmount,
		CBSAmount:        p.CBSAmount,
		IBSAmount:        p.IBSAmount,
		Status:           StatusDraft,
		Backend:          p.Backend,
		Environment:      p.Environment,
	}
	inv.computeDerived()
	return inv, nil
}

// computeDerived fills CalcBase, ISSAmount and NetAmount from the input
// amounts. ISS is rounded to 2 fractional digits, matching the schema.
func (i *Invoice) computeDerived() {
	i.CalcBase = i.ServiceAmount.Sub(i.DeductionAmount)
	i.ISSAmount = i.CalcBase.Mul(i.ISSRate).Round(2)

	withholdings := i.PISAmount.Add(i.COFINSAmount).Add(i.INSSAmount).
		Add(i.IRAmount).Add(i.CSLLAmount)
	if i.ISSWithheld {
		withholdings = withholdings.Add(i.ISSAmount)
	}
	i.NetAmount = i.ServiceAmount.Sub(withholdings)
}

// MarkSubmitting moves a draft invoice onto the emission path.
func (i *Invoice) MarkSubmitting() error {
	if !i.Status.CanTransition(StatusSubmitting) {
		return shared.ErrInvalidState
	}
	i.Status = StatusSubmitting
	return nil
}

// ApplyAuthorization records a terminal authorization. Re-applying to an
// already authorized invoice is a no-op; the access key is immutable once
// set.
func (i *Invoice) ApplyAuthorization(number, verification, accessKey, protocol, docURL, rawPayload string) error {
	if i.Status == StatusAuthorized {
		return nil
	}
	if !i.Status.CanTransition(StatusAuthorized) {
		return shared.ErrInvalidState
	}
	i.Status = StatusAuthorized
	if number != "" {
		i.NfseNumber = number
	}
	if verification != "" {
		i.VerificationCode = verification
	}
	if i.AccessKey == "" {
		i.AccessKey = accessKey
	}
	if protocol != "" {
		i.Protocol = protocol
	}
	if docURL != "" {
		i.DocumentURL = docURL
	}
	if rawPayload != "" {
		i.RawProviderPayload = rawPayload
	}
	i.LastError = ""
	return nil
}

// ApplyRejection records a terminal provider rejection with its message.
func (i *Invoice) ApplyRejection(message, rawPayload string) error {
	if i.Status == StatusRejected {
		return nil
	}
	if !i.Status.CanTransition(StatusRejected) {
		return shared.ErrInvalidState
	}
	i.Status = StatusRejected
	i.LastError = message
	if rawPayload != "" {
		i.RawProviderPayload = rawPayload
	}
	return nil
}

// RequestCancellation marks an authorized invoice for cancellation. The
// reason is mandatory; the provider window is enforced by CanCancel.
func (i *Invoice) RequestCancellation(reason string) error {
	if reason == "" {
		return shared.NewDomainError("INVALID_REASON", "Cancellation reason cannot be empty")
	}
	if !i.CanCancel() {
		return shared.ErrInvalidState
	}
	i.Status = StatusCancellationRequested
	i.CancelReason = reason
	return nil
}

// ApplyCancellation records the provider-confirmed cancellation.
func (i *Invoice) ApplyCancellation(protocol string) error {
	if i.Status == StatusCancelled {
		return nil
	}
	if !i.Status.CanTransition(StatusCancelled) {
		return shared.ErrInvalidState
	}
	now := time.Now()
	i.Status = StatusCancelled
	i.CancelledAt = &now
	if protocol != "" {
		i.Protocol = protocol
	}
	return nil
}

// Supersede marks this invoice as replaced by a new one. Tax figures are
// never mutated in place; corrections always go through a new invoice.
func (i *Invoice) Supersede(replacementID uuid.UUID) error {
	if !i.Status.CanTransition(StatusSuperseded) {
		return shared.ErrInvalidState
	}
	i.Status = StatusSuperseded
	i.SupersededByID = &replacementID
	return nil
}

// CancellationWindow is the provider-side deadline for cancelling an
// authorized invoice, counted from the issue date.
const CancellationWindow = 30 * 24 * time.Hour

// CanCancel returns true when the invoice is authorized and still inside
// the cancellation window.
func (i *Invoice) CanCancel() bool {
	if i.Status != StatusAuthorized {
		return false
	}
	return time.Now().Before(i.IssueDate.Add(CancellationWindow))
}
