package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
)

// MockProvider serves a fixed set of records and marks terminated ids.
type MockProvider struct {
	mu           sync.Mutex
	name         string
	records      []prov.InstanceRecord
	listErr      error
	terminateErr error
	listCalls    int
	terminated   [][]string
	created      []prov.CreateRequest
}

func (m *MockProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *MockProvider) ListInstances(ctx context.Context, fleet string) ([]prov.InstanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]prov.InstanceRecord(nil), m.records...), nil
}

func (m *MockProvider) CreateInstances(ctx context.Context, req prov.CreateRequest) ([]prov.InstanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, req)
	var out []prov.InstanceRecord
	for i := 0; i < req.Count; i++ {
		out = append(out, prov.InstanceRecord{ID: fmt.Sprintf("mock-%d", i+1), State: prov.StatePending, Group: "g"})
	}
	return out, nil
}

func (m *MockProvider) TerminateInstances(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = append(m.terminated, ids)
	if m.terminateErr != nil {
		return m.terminateErr
	}
	gone := map[string]bool{}
	for _, id := range ids {
		gone[id] = true
	}
	for i := range m.records {
		if gone[m.records[i].ID] {
			m.records[i].State = prov.StateTerminated
		}
	}
	return nil
}

type copyCall struct{ Local, Host, Remote string }

type execCall struct{ Host, Command string }

// mockChannel records every call. Failures are injected per host.
type mockChannel struct {
	mu       sync.Mutex
	copies   []copyCall
	execs    []execCall
	fetches  []copyCall
	existing map[string]bool
	output   string

	probeErr map[string]error
	copyErr  map[string]error
	execErr  map[string]error
	fetchErr map[string]error
	// block, when set, holds every Exec until closed.
	block chan struct{}
}

func newMockChannel() *mockChannel {
	return &mockChannel{
		existing: map[string]bool{},
		probeErr: map[string]error{},
		copyErr:  map[string]error{},
		execErr:  map[string]error{},
		fetchErr: map[string]error{},
	}
}

func (c *mockChannel) Copy(ctx context.Context, localPath, host, remotePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.copyErr[host]; err != nil {
		return err
	}
	c.copies = append(c.copies, copyCall{localPath, host, remotePath})
	c.existing[host+":"+remotePath] = true
	return nil
}

func (c *mockChannel) Exec(ctx context.Context, host, command string, stdout, stderr io.Writer) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	c.execs = append(c.execs, execCall{host, command})
	err := c.execErr[host]
	out := c.output
	c.mu.Unlock()
	if stdout != nil && out != "" {
		_, _ = io.WriteString(stdout, out)
	}
	return err
}

func (c *mockChannel) Exists(ctx context.Context, host, remotePath string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.existing[host+":"+remotePath], nil
}

func (c *mockChannel) Fetch(ctx context.Context, host, remotePath, localDir string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fetchErr[host]; err != nil {
		return 0, err
	}
	c.fetches = append(c.fetches, copyCall{Local: localDir, Host: host, Remote: remotePath})
	return 1, nil
}

func (c *mockChannel) Probe(ctx context.Context, host string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probeErr[host]
}

func (c *mockChannel) Close() error { return nil }

func (c *mockChannel) execsFor(host string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.execs {
		if e.Host == host {
			out = append(out, e.Command)
		}
	}
	return out
}

func (c *mockChannel) sideEffects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.copies) + len(c.execs) + len(c.fetches)
}

var errBoom = errors.New("boom")

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func running(id, addr string) prov.InstanceRecord {
	return prov.InstanceRecord{ID: id, Address: addr, State: prov.StateRunning, Group: "r-1"}
}

var readyRoster = Roster{Ready: true, Addresses: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}}
