package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/3cpo-dev/shardfleet/internal/core"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	root.SetContext(context.Background())
	err := root.Execute()
	return out.String(), err
}

// localFleet writes a config using the static-host provider and returns its
// path and the roster path it points at.
func localFleet(t *testing.T) (string, string) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	roster := filepath.Join(dir, "neighbors.txt")
	cfg := "providers:\n" +
		"  default: localssh\n" +
		"  localssh:\n" +
		"    hosts:\n" +
		"      - name: a\n" +
		"        ip: 10.0.0.1\n" +
		"      - name: b\n" +
		"        ip: 10.0.0.2\n" +
		"defaults:\n" +
		"  roster_path: " + roster + "\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path, roster
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "shardfleet "+version)
}

func TestCheckWritesRoster(t *testing.T) {
	cfg, roster := localFleet(t)
	out, err := execute(t, "--config", cfg, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Ready")
	assert.Contains(t, out, "10.0.0.2")

	r, err := core.ReadRosterFile(roster)
	require.NoError(t, err)
	assert.True(t, r.Ready)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, r.Addresses)
}

func TestRosterFlagOverridesConfig(t *testing.T) {
	cfg, _ := localFleet(t)
	other := filepath.Join(t.TempDir(), "other.txt")
	_, err := execute(t, "--config", cfg, "--roster", other, "check")
	require.NoError(t, err)
	assert.FileExists(t, other)
}

func TestPartitionUsesRosterSize(t *testing.T) {
	cfg, _ := localFleet(t)
	_, err := execute(t, "--config", cfg, "check")
	require.NoError(t, err)

	out := t.TempDir()
	stdout, err := execute(t, "--config", cfg, "partition", "--n", "100", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "WORKER")
	assert.FileExists(t, filepath.Join(out, "config-0.json"))
	assert.FileExists(t, filepath.Join(out, "config-1.json"))
	assert.NoFileExists(t, filepath.Join(out, "config-2.json"))
}

func TestPartitionRefusesNotReadyRoster(t *testing.T) {
	cfg, roster := localFleet(t)
	require.NoError(t, core.WriteRosterFile(roster, core.Roster{Ready: false, Addresses: []string{"10.0.0.1"}}))

	out := t.TempDir()
	_, err := execute(t, "--config", cfg, "partition", "--n", "100", "--out", out)
	require.ErrorIs(t, err, core.ErrNotReady)
	assert.NoFileExists(t, filepath.Join(out, "config-0.json"))
}

func TestPartitionRejectsInvalidWorkerCount(t *testing.T) {
	_, err := execute(t, "partition", "--n", "7", "-k", "4", "--out", t.TempDir())
	require.ErrorIs(t, err, core.ErrInvalidPartition)
	assert.Contains(t, err.Error(), "balanced")

	_, err = execute(t, "partition", "--n", "7", "-k", "4", "--strategy", "balanced", "--out", t.TempDir())
	require.NoError(t, err)
}

func TestRunReportsMissingScriptFirst(t *testing.T) {
	cfg, _ := localFleet(t)
	_, err := execute(t, "--config", cfg, "run", filepath.Join(t.TempDir(), "missing.sh"))
	require.ErrorIs(t, err, core.ErrMissingLocalFile)
	assert.NotEmpty(t, core.Hint(err))
}

func TestSendConfigsNeedsRoster(t *testing.T) {
	cfg, _ := localFleet(t)
	_, err := execute(t, "--config", cfg, "send-configs", "--dir", t.TempDir())
	require.ErrorIs(t, err, core.ErrMissingLocalFile)
}

func TestHistoryWithoutLedger(t *testing.T) {
	cfg, _ := localFleet(t)
	_, err := execute(t, "--config", cfg, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger")
}

func TestMissingExplicitConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "ls")
	require.ErrorIs(t, err, core.ErrMissingLocalFile)
}

func TestInitWritesConfigAndKey(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "shardfleet", "config.yaml")

	out, err := execute(t, "--config", path, "--provider", "hetzner", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "generated")
	assert.FileExists(t, path)
	assert.FileExists(t, filepath.Join(filepath.Dir(path), "id_ed25519"))
	assert.FileExists(t, filepath.Join(filepath.Dir(path), "id_ed25519.pub"))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "default: hetzner")

	out, err = execute(t, "--config", path, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestExpandSupport(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.py", "b.py", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	files, err := expandSupport([]string{filepath.Join(dir, "*.py"), "plain.bin"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.py"), filepath.Join(dir, "b.py"), "plain.bin"}, files)

	_, err = expandSupport([]string{filepath.Join(dir, "*.go")})
	require.ErrorIs(t, err, core.ErrMissingLocalFile)
}
