package hetzner

import (
	"context"
	"net"
	"testing"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
)

type fakeServers struct {
	servers  []*hcloud.Server
	listOpts hcloud.ServerListOpts
	created  []hcloud.ServerCreateOpts
	deleted  []int64
	missing  map[int64]bool
}

func (f *fakeServers) AllWithOpts(ctx context.Context, opts hcloud.ServerListOpts) ([]*hcloud.Server, error) {
	f.listOpts = opts
	return f.servers, nil
}

func (f *fakeServers) Create(ctx context.Context, opts hcloud.ServerCreateOpts) (hcloud.ServerCreateResult, *hcloud.Response, error) {
	f.created = append(f.created, opts)
	return hcloud.ServerCreateResult{Server: &hcloud.Server{
		ID:     int64(len(f.created)),
		Name:   opts.Name,
		Status: hcloud.ServerStatusInitializing,
	}}, nil, nil
}

func (f *fakeServers) DeleteWithResult(ctx context.Context, s *hcloud.Server) (*hcloud.ServerDeleteResult, *hcloud.Response, error) {
	if f.missing[s.ID] {
		return nil, nil, hcloud.Error{Code: hcloud.ErrorCodeNotFound, Message: "not found"}
	}
	f.deleted = append(f.deleted, s.ID)
	return &hcloud.ServerDeleteResult{}, nil, nil
}

func server(id int64, status hcloud.ServerStatus, ip string) *hcloud.Server {
	s := &hcloud.Server{ID: id, Status: status}
	if ip != "" {
		s.PublicNet.IPv4.IP = net.ParseIP(ip)
	}
	return s
}

func TestListInstancesMapsStatus(t *testing.T) {
	fake := &fakeServers{servers: []*hcloud.Server{
		server(1, hcloud.ServerStatusRunning, "203.0.113.1"),
		server(2, hcloud.ServerStatusInitializing, ""),
		server(3, hcloud.ServerStatusOff, "203.0.113.3"),
		server(4, hcloud.ServerStatusDeleting, "203.0.113.4"),
	}}
	p := NewWithAPI(fake, prov.Config{})

	records, err := p.ListInstances(context.Background(), "primes")
	require.NoError(t, err)
	assert.Equal(t, "cluster-name=primes", fake.listOpts.LabelSelector)
	require.Len(t, records, 4)
	assert.Equal(t, prov.InstanceRecord{ID: "1", Address: "203.0.113.1", State: prov.StateRunning, Group: Group}, records[0])
	assert.Equal(t, prov.StatePending, records[1].State)
	assert.Empty(t, records[1].Address)
	assert.Equal(t, prov.StateOther, records[2].State)
	assert.Equal(t, prov.StateTerminated, records[3].State)
}

func TestCreateInstancesLabelsServers(t *testing.T) {
	fake := &fakeServers{}
	cfg := prov.Config{}
	cfg.Providers.Hetzner.Token = "tok"
	p := NewWithAPI(fake, cfg)

	records, err := p.CreateInstances(context.Background(), prov.CreateRequest{Fleet: "primes", Count: 2, SSHKey: "ssh-ed25519 AAAA"})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	require.Len(t, fake.created, 2)
	assert.Equal(t, "primes-2", fake.created[1].Name)
	assert.Equal(t, "primes", fake.created[0].Labels[LabelKey])
	assert.Equal(t, DefaultServerType, fake.created[0].ServerType.Name)
	assert.Contains(t, fake.created[0].UserData, "ssh-ed25519 AAAA")
}

func TestCreateInstancesRequiresToken(t *testing.T) {
	p := NewWithAPI(&fakeServers{}, prov.Config{})
	_, err := p.CreateInstances(context.Background(), prov.CreateRequest{Fleet: "primes", Count: 1})
	require.Error(t, err)
}

func TestTerminateInstancesSkipsMissing(t *testing.T) {
	fake := &fakeServers{missing: map[int64]bool{2: true}}
	p := NewWithAPI(fake, prov.Config{})
	require.NoError(t, p.TerminateInstances(context.Background(), []string{"1", "2", "3"}))
	assert.Equal(t, []int64{1, 3}, fake.deleted)

	require.Error(t, p.TerminateInstances(context.Background(), []string{"abc"}))
}
