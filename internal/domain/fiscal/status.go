package fiscal

// Status represents the lifecycle state of a service invoice.
//
// The emission path moves DRAFT → SUBMITTING → AUTHORIZED | REJECTED.
// An authorized invoice may move to CANCELLATION_REQUESTED → CANCELLED,
// or become SUPERSEDED by a replacement invoice that references it.
type Status string

const (
	StatusDraft                 Status = "DRAFT"
	StatusSubmitting            Status = "SUBMITTING"
	StatusAuthorized            Status = "AUTHORIZED"
	StatusRejected              Status = "REJECTED"
	StatusCancellationRequested Status = "CANCELLATION_REQUESTED"
	StatusCancelled             Status = "CANCELLED"
	StatusSuperseded            Status = "SUPERSEDED"
)

// IsValid returns true if the status is a known lifecycle state
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusSubmitting, StatusAuthorized, StatusRejected,
		StatusCancellationRequested, StatusCancelled, StatusSuperseded:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for states the emission/cancellation machinery
// never transitions out of on its own.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusSuperseded:
		return true
	default:
		return false
	}
}

// IsRetryable returns true for the states automatic emission retries may
// originate from.
func (s Status) IsRetryable() bool {
	return s == StatusDraft || s == StatusSubmitting
}

// CanTransition returns true if the lifecycle permits moving from s to next.
// Re-applying the current state is allowed so that duplicate terminal
// updates stay idempotent.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusDraft:
		return next == StatusSubmitting
	case StatusSubmitting:
		return next == StatusAuthorized || next == StatusRejected
	case StatusAuthorized:
		return next == StatusCancellationRequested || next == StatusSuperseded
	case StatusCancellationRequested:
		return next == StatusCancelled || next == StatusAuthorized
	default:
		return false
	}
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// Environment selects the provider endpoint set used for an invoice.
type Environment string

const (
	EnvironmentSandbox    Environment = "SANDBOX"
	EnvironmentProduction Environment = "PRODUCTION"
)

// IsValid returns true if the environment is known
func (e Environment) IsValid() bool {
	return e == EnvironmentSandbox || e == EnvironmentProduction
}

// EventType classifies append-only invoice lifecycle events.
type EventType string

const (
	EventTypeGeneration   EventType = "GERACAO"
	EventTypeSubmission   EventType = "ENVIO"
	EventTypeAuthorized   EventType = "AUTORIZACAO"
	EventTypeRejected     EventType = "REJEICAO"
	EventTypeQuery        EventType = "CONSULTA"
	EventTypeCancellation EventType = "CANCELAMENTO"
	EventTypeSupersession EventType = "SUBSTITUICAO"
)

// EventTypeForStatus maps a terminal status transition to its lifecycle
// event type.
func EventTypeForStatus(s Status) EventType {
	switch s {
	case StatusAuthorized:
		return EventTypeAuthorized
	case StatusRejected:
		return EventTypeRejected
	case StatusCancelled:
		return EventTypeCancellation
	case StatusSuperseded:
		return EventTypeSupersession
	default:
		return EventTypeQuery
	}
}
