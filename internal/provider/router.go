package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Router opens providers by name and maps each block to exactly one of them.
// Blocks without an explicit binding use the default provider.
type Router struct {
	factories   map[string]Factory
	configs     map[string]Config
	pool        map[string]Provider
	bindings    map[string]string
	defaultName string
	mu          sync.RWMutex
}

// NewRouter creates a router whose unbound blocks go to defaultName
func NewRouter(defaultName string) *Router {
	return &Router{
		factories:   make(map[string]Factory),
		configs:     make(map[string]Config),
		pool:        make(map[string]Provider),
		bindings:    make(map[string]string),
		defaultName: defaultName,
	}
}

// Register registers a provider factory and its configuration
func (r *Router) Register(name string, factory Factory, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	r.configs[name] = cfg
}

// Bind routes block to the named provider. Block names match without
// regard to case since config keys arrive lowercased.
func (r *Router) Bind(block, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[strings.ToLower(block)] = name
}

// Supported returns the registered provider names
func (r *Router) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// For returns the provider serving block, opening it if needed
func (r *Router) For(ctx context.Context, block string) (Provider, error) {
	r.mu.RLock()
	name, ok := r.bindings[strings.ToLower(block)]
	r.mu.RUnlock()
	if !ok {
		name = r.defaultName
	}
	return r.Get(ctx, name)
}

// Get returns the named provider, reopening it when the pooled one is unhealthy
func (r *Router) Get(ctx context.Context, name string) (Provider, error) {
	r.mu.RLock()
	if p, ok := r.pool[name]; ok {
		r.mu.RUnlock()
		if err := p.HealthCheck(ctx); err == nil {
			return p, nil
		}
		log.Warn().Str("provider", name).Msg("provider unhealthy, reopening")
	} else {
		r.mu.RUnlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if p, ok := r.pool[name]; ok {
		if err := p.HealthCheck(ctx); err == nil {
			return p, nil
		}
		p.Close()
		delete(r.pool, name)
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}

	p, err := factory(ctx, r.configs[name])
	if err != nil {
		return nil, fmt.Errorf("failed to open provider %s: %w", name, err)
	}

	r.pool[name] = p
	log.Info().Str("provider", name).Msg("provider opened")
	return p, nil
}

// Use pools an already opened provider under name
func (r *Router) Use(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.pool[name]; ok && old != p {
		old.Close()
	}
	r.pool[name] = p
	if _, ok := r.factories[name]; !ok {
		r.factories[name] = func(context.Context, Config) (Provider, error) { return p, nil }
	}
}

// HealthCheck checks every open provider
func (r *Router) HealthCheck(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, p := range r.pool {
		if err := p.HealthCheck(ctx); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
	}
	return nil
}

// CloseAll closes all providers
func (r *Router) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, p := range r.pool {
		if err := p.Close(); err != nil {
			log.Error().Err(err).Str("provider", name).Msg("failed to close provider")
		}
		delete(r.pool, name)
	}
}

// PoolSize returns the current number of open providers
func (r *Router) PoolSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pool)
}
