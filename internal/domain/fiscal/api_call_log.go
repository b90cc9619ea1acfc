package fiscal

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// APICallLog is one write-once record per outbound HTTP call to a provider.
// It exists purely for audit and debugging; the storage layer exposes no
// update or delete for it.
type APICallLog struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	InvoiceID *uuid.UUID
	Backend   string

	Method          string
	URL             string
	RequestHeaders  map[string]string
	RequestBody     string
	StatusCode      int
	ResponseHeaders map[string]string
	ResponseBody    string

	Duration  time.Duration
	Success   bool
	Error     string
	RequestID uuid.UUID
	CreatedAt time.Time
}

// MaxLoggedBodyBytes caps request/response bodies persisted for audit.
const MaxLoggedBodyBytes = 10_000

// RedactedValue replaces sensitive header values in persisted logs.
const RedactedValue = "***REDACTED***"

// sensitiveHeaders is the fixed set of header names whose values never reach
// storage. Extend it when onboarding a provider with a new secret header.
var sensitiveHeaders = map[string]struct{}{
	"authorization": {},
	"token_sh":      {},
	"x-api-key":     {},
	"cookie":        {},
	"set-cookie":    {},
}

// SanitizeHeaders returns a copy of headers with sensitive values redacted
func SanitizeHeaders(headers map[string]string) map[string]string {
	sanitized := make(map[string]string, len(headers))
	for key, value := range headers {
		if _, sensitive := sensitiveHeaders[strings.ToLower(key)]; sensitive {
			sanitized[key] = RedactedValue
		} else {
			sanitized[key] = value
		}
	}
	return sanitized
}

// TruncateBody caps a body string at MaxLoggedBodyBytes for persistence
func TruncateBody(body string) string {
	if len(body) > MaxLoggedBodyBytes {
		return body[:MaxLoggedBodyBytes]
	}
	return body
}

// NewAPICallLog creates an audit record for one outbound call. Headers are
// sanitized and bodies truncated at construction so no raw secret ever
// reaches the repository.
func NewAPICallLog(tenantID uuid.UUID, invoiceID *uuid.UUID, backend, method, url string) *APICallLog {
	return &APICallLog{
		ID:        uuid.New(),
		TenantID:  tenantID,
		InvoiceID: invoiceID,
		Backend:   backend,
		Method:    method,
		URL:       url,
		RequestID: uuid.New(),
		CreatedAt: time.Now(),
	}
}
