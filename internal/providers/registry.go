package providers

import (
	"context"
	"fmt"
	"sort"
)

// Factory builds a provider from configuration. Construction is deferred so
// only the selected provider needs credentials.
type Factory func(ctx context.Context, cfg Config) (Provider, error)

type Registry struct {
	providers map[string]Provider
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}, factories: map[string]Factory{}}
}

func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

func (r *Registry) RegisterFactory(name string, f Factory) {
	r.factories[name] = f
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not registered: %s (available: %v)", name, r.Names())
	}
	return p, nil
}

// Open returns the registered provider, building it from its factory on
// first use.
func (r *Registry) Open(ctx context.Context, name string, cfg Config) (Provider, error) {
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("provider not registered: %s (available: %v)", name, r.Names())
	}
	p, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init provider %s: %w", name, err)
	}
	r.providers[name] = p
	return p, nil
}

func (r *Registry) Names() []string {
	seen := map[string]bool{}
	names := make([]string, 0, len(r.providers)+len(r.factories))
	for n := range r.providers {
		seen[n] = true
		names = append(names, n)
	}
	for n := range r.factories {
		if !seen[n] {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}
