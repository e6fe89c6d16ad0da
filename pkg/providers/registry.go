package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kadirpekel/conduit/internal/config"
	"github.com/kadirpekel/conduit/pkg/registry"
)

// Factory builds a Provider instance from merged settings (the agent's
// provider-scoped settings layered over the ProviderConfig's declared
// schema defaults). Concrete adapters register a Factory with the
// Registry at process start; the core never imports a concrete adapter
// package.
type Factory func(cfg *config.ProviderConfig, merged map[string]string) (Provider, error)

type entry struct {
	cfg     *config.ProviderConfig
	factory Factory
}

// Registry discovers provider adapters and holds their declared
// capabilities and settings schema across every Service.
type Registry struct {
	*registry.BaseRegistry[entry]

	mu                sync.RWMutex
	disabledProviders map[string]bool
}

// NewRegistry builds an empty Registry. disabled lists process-wide
// denylisted provider names.
func NewRegistry(disabled []string) *Registry {
	d := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		d[name] = true
	}
	return &Registry{
		BaseRegistry:      registry.NewBaseRegistry[entry](),
		disabledProviders: d,
	}
}

// Declare registers a provider's configuration and instantiation factory.
func (r *Registry) Declare(cfg *config.ProviderConfig, factory Factory) error {
	if cfg == nil || cfg.Name == "" {
		return fmt.Errorf("providers: config with a name is required")
	}
	if factory == nil {
		return fmt.Errorf("providers: factory is required for %q", cfg.Name)
	}
	cfg.SetDefaults()
	return r.Register(cfg.Name, entry{cfg: cfg, factory: factory})
}

// List returns every declared, non-process-disabled provider name,
// sorted for deterministic router tie-breaks.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0)
	for _, e := range r.BaseRegistry.List() {
		if r.disabledProviders[e.cfg.Name] {
			continue
		}
		names = append(names, e.cfg.Name)
	}
	sort.Strings(names)
	return names
}

// Capabilities returns the declared services for a provider.
func (r *Registry) Capabilities(name string) ([]config.Service, error) {
	e, ok := r.BaseRegistry.Get(name)
	if !ok {
		return nil, fmt.Errorf("providers: %q is not registered", name)
	}
	return e.cfg.Services, nil
}

// SettingsSchema returns the name->default settings map for admin
// introspection.
func (r *Registry) SettingsSchema(name string) (map[string]string, error) {
	e, ok := r.BaseRegistry.Get(name)
	if !ok {
		return nil, fmt.Errorf("providers: %q is not registered", name)
	}
	return e.cfg.SettingsSchema, nil
}

// Config returns the declared ProviderConfig for a provider.
func (r *Registry) Config(name string) (*config.ProviderConfig, error) {
	e, ok := r.BaseRegistry.Get(name)
	if !ok {
		return nil, fmt.Errorf("providers: %q is not registered", name)
	}
	return e.cfg, nil
}

// Instantiate builds a fresh Provider instance from merged settings. A
// new instance is created per request (or per chain step) and never
// shared or mutated across concurrent requests.
func (r *Registry) Instantiate(name string, merged map[string]string) (Provider, error) {
	e, ok := r.BaseRegistry.Get(name)
	if !ok {
		return nil, fmt.Errorf("providers: %q is not registered", name)
	}
	if r.isDisabled(name) {
		return nil, fmt.Errorf("providers: %q is disabled", name)
	}
	return e.factory(e.cfg, merged)
}

// ForService returns the names of declared, non-disabled providers
// offering svc, in deterministic (sorted) order.
func (r *Registry) ForService(svc config.Service) []string {
	var out []string
	for _, name := range r.List() {
		e, ok := r.BaseRegistry.Get(name)
		if !ok {
			continue
		}
		if e.cfg.HasService(svc) {
			out = append(out, name)
		}
	}
	return out
}

func (r *Registry) isDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disabledProviders[name]
}
