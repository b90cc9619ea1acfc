package provider

import (
	"go.uber.org/zap"

	"github.com/caixadigital/nfse-gateway/internal/domain/emission"
	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
)

// Factory builds a provider client bound to one tenant's configuration.
type Factory func(config *fiscal.BackendConfig, issuer *fiscal.Issuer) emission.Client

// Registry selects the provider client for a tenant. It is populated
// explicitly at startup and injected wherever dispatch happens; there is no
// package-level registration. Missing configuration and unknown backend
// keys both fall back to the mock client so a misconfigured tenant can
// never reach a real provider by accident.
type Registry struct {
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.Named("registry"),
	}
}

// Register adds a factory under a backend key. Later registrations replace
// earlier ones.
func (r *Registry) Register(key string, factory Factory) {
	r.factories[key] = factory
}

// Keys returns the registered backend keys.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	return keys
}

// ClientFor returns the client serving the given tenant configuration.
func (r *Registry) ClientFor(config *fiscal.BackendConfig, issuer *fiscal.Issuer) emission.Client {
	if config == nil {
		r.logger.Info("no backend config, falling back to mock client")
		return NewMockClient()
	}

	factory, ok := r.factories[config.Backend]
	if !ok {
		r.logger.Warn("unknown backend key, falling back to mock client",
			zap.String("backend", config.Backend),
			zap.String("tenant_id", config.TenantID.String()),
		)
		return NewMockClient()
	}

	return factory(config, issuer)
}

// DefaultRegistry wires the built-in backends against the shared transport.
func DefaultRegistry(transport *Transport, logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(emission.BackendMock, func(config *fiscal.BackendConfig, issuer *fiscal.Issuer) emission.Client {
		return NewMockClient()
	})
	r.Register(emission.BackendNational, func(config *fiscal.BackendConfig, issuer *fiscal.Issuer) emission.Client {
		return NewNationalClient(config, issuer, transport, logger)
	})
	r.Register(emission.BackendFocus, func(config *fiscal.BackendConfig, issuer *fiscal.Issuer) emission.Client {
		return NewFocusClient(config, issuer, transport, logger)
	})
	r.Register(emission.BackendTecnoSpeed, func(config *fiscal.BackendConfig, issuer *fiscal.Issuer) emission.Client {
		return NewTecnoSpeedClient(config, issuer, transport, logger)
	})
	return r
}
