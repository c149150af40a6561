// Package localssh attaches to hosts listed in configuration. Useful for
// machines you already own: every host is reported as running and nothing
// is ever created or destroyed.
package localssh

import (
	"context"
	"fmt"

	"github.com/3cpo-dev/shardfleet/internal/providers"
)

const Group = "localssh"

type Provider struct {
	cfg providers.Config
}

var _ providers.Provider = (*Provider)(nil)

func New(cfg providers.Config) *Provider { return &Provider{cfg: cfg} }

func (p *Provider) Name() string { return "localssh" }

func (p *Provider) ListInstances(ctx context.Context, fleet string) ([]providers.InstanceRecord, error) {
	_ = ctx
	_ = fleet
	var records []providers.InstanceRecord
	for _, h := range p.cfg.Providers.LocalSSH.Hosts {
		records = append(records, providers.InstanceRecord{
			ID:      fmt.Sprintf("local-%s", h.Name),
			Address: h.IP,
			State:   providers.StateRunning,
			Group:   Group,
		})
	}
	return records, nil
}

func (p *Provider) CreateInstances(ctx context.Context, req providers.CreateRequest) ([]providers.InstanceRecord, error) {
	return nil, fmt.Errorf("localssh cannot create instances; list hosts under providers.localssh.hosts")
}

// TerminateInstances always fails. Attached hosts are not ours to destroy,
// and reporting success would leave them listed as running forever.
func (p *Provider) TerminateInstances(ctx context.Context, ids []string) error {
	_ = ctx
	return fmt.Errorf("localssh hosts are not managed; nothing terminated (%d requested)", len(ids))
}
