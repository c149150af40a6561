// Package hetzner implements the fleet provider on Hetzner Cloud. Fleet
// membership is a server label; Hetzner has no reservations so every server
// of a fleet is in a single group.
package hetzner

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/rs/zerolog/log"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
)

const (
	LabelKey          = "cluster-name"
	Group             = "hetzner"
	DefaultServerType = "cx22"
	DefaultImage      = "ubuntu-24.04"
	DefaultLocation   = "fsn1"
)

// ServerAPI is the subset of hcloud.ServerClient the provider uses.
type ServerAPI interface {
	AllWithOpts(ctx context.Context, opts hcloud.ServerListOpts) ([]*hcloud.Server, error)
	Create(ctx context.Context, opts hcloud.ServerCreateOpts) (hcloud.ServerCreateResult, *hcloud.Response, error)
	DeleteWithResult(ctx context.Context, server *hcloud.Server) (*hcloud.ServerDeleteResult, *hcloud.Response, error)
}

type Provider struct {
	servers ServerAPI
	cfg     prov.Config
}

var _ prov.Provider = (*Provider)(nil)

func New(cfg prov.Config) *Provider {
	client := hcloud.NewClient(
		hcloud.WithToken(cfg.Providers.Hetzner.Token),
		hcloud.WithApplication("shardfleet", ""),
	)
	return NewWithAPI(&client.Server, cfg)
}

func NewWithAPI(servers ServerAPI, cfg prov.Config) *Provider {
	return &Provider{servers: servers, cfg: cfg}
}

func (p *Provider) Name() string { return "hetzner" }

func (p *Provider) token() error {
	if p.cfg.Providers.Hetzner.Token == "" {
		return fmt.Errorf("hetzner token missing; set providers.hetzner.token or HCLOUD_TOKEN")
	}
	return nil
}

func (p *Provider) ListInstances(ctx context.Context, fleet string) ([]prov.InstanceRecord, error) {
	servers, err := p.servers.AllWithOpts(ctx, hcloud.ServerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: LabelKey + "=" + fleet},
	})
	if err != nil {
		return nil, fmt.Errorf("hcloud list servers: %w", err)
	}
	records := make([]prov.InstanceRecord, 0, len(servers))
	for _, s := range servers {
		records = append(records, toRecord(s))
	}
	return records, nil
}

func (p *Provider) CreateInstances(ctx context.Context, req prov.CreateRequest) ([]prov.InstanceRecord, error) {
	if err := p.token(); err != nil {
		return nil, err
	}
	hc := p.cfg.Providers.Hetzner
	serverType := firstNonEmpty(req.Size, hc.ServerType, DefaultServerType)
	image := firstNonEmpty(req.Image, hc.Image, DefaultImage)
	location := firstNonEmpty(req.Region, hc.Location, DefaultLocation)
	userData := ""
	if req.SSHKey != "" {
		userData = prov.CloudInitUserData(req.SSHUser, req.SSHKey, p.cfg.Defaults.RemoteBase)
	}

	var records []prov.InstanceRecord
	for i := 0; i < req.Count; i++ {
		name := fmt.Sprintf("%s-%d", req.Fleet, i+1)
		res, _, err := p.servers.Create(ctx, hcloud.ServerCreateOpts{
			Name:       name,
			ServerType: &hcloud.ServerType{Name: serverType},
			Image:      &hcloud.Image{Name: image},
			Location:   &hcloud.Location{Name: location},
			Labels:     map[string]string{LabelKey: req.Fleet},
			UserData:   userData,
		})
		if err != nil {
			return records, fmt.Errorf("hcloud create server %s: %w", name, err)
		}
		log.Debug().Str("server", name).Int64("id", res.Server.ID).Msg("server requested")
		records = append(records, toRecord(res.Server))
	}
	return records, nil
}

// TerminateInstances deletes each server. Servers that are already gone are
// skipped so teardown can be repeated.
func (p *Provider) TerminateInstances(ctx context.Context, ids []string) error {
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid hetzner server id %q", raw)
		}
		if _, _, err := p.servers.DeleteWithResult(ctx, &hcloud.Server{ID: id}); err != nil {
			if hcloud.IsError(err, hcloud.ErrorCodeNotFound) {
				log.Warn().Str("id", raw).Msg("server already deleted")
				continue
			}
			return fmt.Errorf("hcloud delete server %s: %w", raw, err)
		}
	}
	return nil
}

func toRecord(s *hcloud.Server) prov.InstanceRecord {
	addr := ""
	if ip := s.PublicNet.IPv4.IP; ip != nil && !ip.IsUnspecified() {
		addr = ip.String()
	}
	return prov.InstanceRecord{
		ID:      strconv.FormatInt(s.ID, 10),
		Address: addr,
		State:   mapStatus(s.Status),
		Group:   Group,
	}
}

func mapStatus(s hcloud.ServerStatus) prov.State {
	switch s {
	case hcloud.ServerStatusInitializing, hcloud.ServerStatusStarting:
		return prov.StatePending
	case hcloud.ServerStatusRunning:
		return prov.StateRunning
	case hcloud.ServerStatusDeleting:
		// deleted servers disappear from the API; deleting is the last state we see
		return prov.StateTerminated
	default:
		return prov.StateOther
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
