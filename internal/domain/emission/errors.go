package emission

import "errors"

// Error taxonomy for the emission gateway. Callers classify failures with
// errors.Is; the class decides retry behavior.
var (
	// ErrCertificate: bad PKCS#12 container, wrong passphrase, or missing
	// key material. Fatal, surfaced to the tenant to fix credentials.
	ErrCertificate = errors.New("emission: invalid certificate")

	// ErrSignature: the document could not be signed. Fatal; indicates a
	// builder defect, never retried.
	ErrSignature = errors.New("emission: signature failed")

	// ErrCommunication: timeout, connection or TLS failure. Transient;
	// retried with backoff, the invoice stays in SUBMITTING.
	ErrCommunication = errors.New("emission: provider unreachable")

	// ErrProviderRejection: structured rejection from the authority.
	// Terminal, never retried; message surfaced verbatim.
	ErrProviderRejection = errors.New("emission: provider rejected document")

	// ErrAuthentication: webhook token did not match any tenant.
	ErrAuthentication = errors.New("emission: webhook authentication failed")

	// ErrUnmappedStatus: provider vocabulary unknown to the mapping table.
	// Acknowledged and ignored; observable for table maintenance.
	ErrUnmappedStatus = errors.New("emission: unmapped provider status")

	// ErrNotConfigured: the tenant has no usable emission configuration.
	ErrNotConfigured = errors.New("emission: backend not configured")
)
