package core

import (
	"context"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
	"github.com/3cpo-dev/shardfleet/internal/providers/ec2"
	"github.com/3cpo-dev/shardfleet/internal/providers/hetzner"
	"github.com/3cpo-dev/shardfleet/internal/providers/localssh"
	"github.com/3cpo-dev/shardfleet/internal/providers/vultr"
)

// DefaultRegistry knows every built-in provider.
func DefaultRegistry() *prov.Registry {
	reg := prov.NewRegistry()
	reg.RegisterFactory("ec2", func(ctx context.Context, cfg prov.Config) (prov.Provider, error) {
		p, err := ec2.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	reg.RegisterFactory("hetzner", func(ctx context.Context, cfg prov.Config) (prov.Provider, error) {
		return hetzner.New(cfg), nil
	})
	reg.RegisterFactory("vultr", func(ctx context.Context, cfg prov.Config) (prov.Provider, error) {
		return vultr.New(cfg), nil
	})
	reg.RegisterFactory("localssh", func(ctx context.Context, cfg prov.Config) (prov.Provider, error) {
		return localssh.New(cfg), nil
	})
	return reg
}
