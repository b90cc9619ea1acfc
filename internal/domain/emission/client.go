package emission

import (
	"context"

	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
)

// Outcome classifies a provider response to an emission or query.
type Outcome string

const (
	// OutcomeAuthorized: synchronous terminal success.
	OutcomeAuthorized Outcome = "AUTHORIZED"
	// OutcomeRejected: synchronous terminal structured rejection.
	OutcomeRejected Outcome = "REJECTED"
	// OutcomeProcessing: asynchronous acceptance; only a tracking
	// reference is known, the final state arrives via webhook or poll.
	OutcomeProcessing Outcome = "PROCESSING"
)

// EmissionResult is the immutable value returned by Client.Emit.
type EmissionResult struct {
	Outcome          Outcome
	NfseNumber       string
	VerificationCode string
	AccessKey        string
	Protocol         string
	DocumentURL      string
	RawPayload       string
	Message          string
}

// QueryResult is the immutable value returned by Client.Query. RawStatus is
// the provider's own vocabulary; mapping to a lifecycle status goes through
// StatusVocabulary.
type QueryResult struct {
	Outcome    Outcome
	RawStatus  string
	RawPayload string
	Message    string
}

// CancellationResult is the immutable value returned by Client.Cancel.
type CancellationResult struct {
	Done       bool
	Protocol   string
	RawPayload string
	Message    string
}

// Client is the per-provider emission strategy. Implementations differ only
// in base URLs, authentication headers, wire field mapping and status
// vocabulary; everything else is shared.
//
// All methods return ErrCommunication-wrapped errors for transport-level
// failures and ErrProviderRejection-wrapped errors for structured terminal
// rejections, so callers never need provider-specific error handling.
type Client interface {
	// Name returns the registry key of this backend.
	Name() string

	// Emit submits the invoice and classifies the response.
	Emit(ctx context.Context, invoice *fiscal.Invoice, issuer *fiscal.Issuer) (*EmissionResult, error)

	// Query re-asks the provider for current status, preferring the access
	// key and falling back to the tracking protocol.
	Query(ctx context.Context, invoice *fiscal.Invoice) (*QueryResult, error)

	// Cancel requests cancellation of an authorized invoice.
	Cancel(ctx context.Context, invoice *fiscal.Invoice, reason string) (*CancellationResult, error)

	// FetchDocument retrieves the human-readable rendition (DANFSe PDF).
	// Best effort: (nil, nil) when the provider has none.
	FetchDocument(ctx context.Context, invoice *fiscal.Invoice) ([]byte, error)
}
