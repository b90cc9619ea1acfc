package fiscal

import (
	"github.com/google/uuid"

	"github.com/caixadigital/nfse-gateway/internal/domain/shared"
)

// BackendConfig is the per-tenant emission configuration: which provider
// client serves the tenant, the target environment, and the credentials for
// that provider. API credentials and the certificate passphrase are stored
// encrypted at rest and decrypted only transiently by the repository layer.
type BackendConfig struct {
	shared.BaseEntity
	TenantID    uuid.UUID
	Backend     string
	Environment Environment

	// Gateway provider credentials (Focus NFe / TecnoSpeed)
	APIToken  string
	APISecret string

	// Shared token authenticating inbound webhook callbacks
	WebhookToken string

	// A1 certificate for the direct government backend (PKCS#12 container)
	CertificateP12        []byte
	CertificatePassphrase string

	// Emit automatically when a cash movement is confirmed
	AutoEmit bool
}

// NewBackendConfig creates a tenant emission configuration
func NewBackendConfig(tenantID uuid.UUID, backend string, env Environment) (*BackendConfig, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if backend == "" {
		return nil, shared.NewDomainError("INVALID_BACKEND", "Backend key cannot be empty")
	}
	if !env.IsValid() {
		env = EnvironmentSandbox
	}
	return &BackendConfig{
		BaseEntity:  shared.NewBaseEntity(),
		TenantID:    tenantID,
		Backend:     backend,
		Environment: env,
	}, nil
}

// HasCertificate returns true when an A1 certificate container is configured
func (c *BackendConfig) HasCertificate() bool {
	return len(c.CertificateP12) > 0
}

// Issuer holds the tenant registration data stamped on every emitted
// document: federal/municipal registrations and the establishment address.
type Issuer struct {
	TenantID          uuid.UUID
	CNPJ              string // 14 digits
	MunicipalRegistry string
	LegalName         string
	TradeName         string
	Street            string
	Number            string
	District          string
	CityIBGE          string // 7-digit IBGE city code
	State             string
	ZipCode           string
	SimplifiedRegime  bool
	DefaultRPSSeries  string
}
