package emission

import (
	"strings"

	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
)

// Backend registry keys. Registration itself is explicit and additive; the
// keys live here so the vocabulary tables and the clients agree on them.
const (
	BackendMock       = "mock"
	BackendNational   = "portal_nacional"
	BackendFocus      = "focus_nfe"
	BackendTecnoSpeed = "tecnospeed"
)

// Per-provider status vocabulary. Providers use different words for the
// same lifecycle concept; these tables are the single source of truth for
// both the webhook path and the poller. An unmapped value is ignored, never
// an error: providers add intermediate statuses over time and an unknown
// word must not corrupt invoice state.
var (
	focusVocabulary = map[string]fiscal.Status{
		"autorizado":       fiscal.StatusAuthorized,
		"autorizada":       fiscal.StatusAuthorized,
		"cancelado":        fiscal.StatusCancelled,
		"cancelada":        fiscal.StatusCancelled,
		"erro_autorizacao": fiscal.StatusRejected,
		"rejeitado":        fiscal.StatusRejected,
	}

	tecnospeedVocabulary = map[string]fiscal.Status{
		"autorizada": fiscal.StatusAuthorized,
		"aut":        fiscal.StatusAuthorized,
		"cancelada":  fiscal.StatusCancelled,
		"rejeitada":  fiscal.StatusRejected,
		"erro":       fiscal.StatusRejected,
	}

	nationalVocabulary = map[string]fiscal.Status{
		"100": fiscal.StatusAuthorized, // autorizada
		"101": fiscal.StatusCancelled,  // cancelada
		"301": fiscal.StatusRejected,   // rejeitada
	}
)

// MapStatus translates a provider status word into a lifecycle status using
// the backend's vocabulary table. ok is false for unmapped values.
func MapStatus(backend, raw string) (fiscal.Status, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	var table map[string]fiscal.Status
	switch backend {
	case BackendFocus:
		table = focusVocabulary
	case BackendTecnoSpeed:
		table = tecnospeedVocabulary
	case BackendNational:
		table = nationalVocabulary
	default:
		return "", false
	}
	status, ok := table[raw]
	return status, ok
}
