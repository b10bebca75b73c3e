package providers

import (
	"fmt"
	"sort"

	"github.com/systmms/dsstore/internal/config"
	"github.com/systmms/dsstore/pkg/provider"
)

// StoreTypeGCP is the registered type of the Secret Manager backend.
const StoreTypeGCP = "gcp.secretmanager"

// Registry manages backend creation and registration
type Registry struct {
	factories map[string]Factory
}

// Factory builds a dialer for one store from its configuration.
type Factory func(project, location string, cfg config.StoreConfig) (provider.Dialer, error)

// NewRegistry creates a new registry with the built-in backends
func NewRegistry() *Registry {
	registry := &Registry{
		factories: make(map[string]Factory),
	}

	registry.RegisterFactory(StoreTypeGCP, NewGCPDialerFactory)

	return registry
}

// RegisterFactory registers a backend factory for a given type
func (r *Registry) RegisterFactory(storeType string, factory Factory) {
	r.factories[storeType] = factory
}

// Dialer creates the dialer for a configured store
func (r *Registry) Dialer(def *config.Definition, store string) (provider.Dialer, error) {
	cfg, err := def.GetStore(store)
	if err != nil {
		return nil, err
	}
	factory, exists := r.factories[cfg.Type]
	if !exists {
		return nil, &UnknownTypeError{Type: cfg.Type, Supported: r.GetSupportedTypes()}
	}
	dial, err := factory(def.Project, def.Location, cfg)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", store, err)
	}
	return dial, nil
}

// GetSupportedTypes returns the supported store types, sorted
func (r *Registry) GetSupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for storeType := range r.factories {
		types = append(types, storeType)
	}
	sort.Strings(types)
	return types
}

// IsSupported checks if a store type is supported
func (r *Registry) IsSupported(storeType string) bool {
	_, exists := r.factories[storeType]
	return exists
}

// NewGCPDialerFactory creates a Secret Manager dialer factory
func NewGCPDialerFactory(project, location string, cfg config.StoreConfig) (provider.Dialer, error) {
	return NewGCPDialer(GCPConfigFrom(project, location, cfg)), nil
}

// GCPConfigFrom converts a store section to a GCPConfig.
func GCPConfigFrom(project, location string, cfg config.StoreConfig) GCPConfig {
	gc := GCPConfig{
		Project:                   project,
		Location:                  location,
		NamePrefix:                cfg.NamePrefix,
		CredentialsFile:           cfg.CredentialsFile,
		ImpersonateServiceAccount: cfg.ImpersonateServiceAccount,
		Endpoint:                  cfg.Endpoint,
		Timeout:                   cfg.Timeout(),
	}
	if cfg.Keyring != nil {
		gc.KeyringService = cfg.Keyring.Service
		gc.KeyringUser = cfg.Keyring.User
	}
	return gc
}
