package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/shardfleet/internal/telemetry"
)

// RemoteConfigName is where each worker finds its shard config, relative to
// the remote base path.
const RemoteConfigName = "configuration"

type ConfigDistributor struct {
	ch           RemoteChannel
	remoteBase   string
	probeTimeout time.Duration
	metrics      *telemetry.Metrics
}

func NewConfigDistributor(ch RemoteChannel, remoteBase string, probeTimeout time.Duration, m *telemetry.Metrics) *ConfigDistributor {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &ConfigDistributor{ch: ch, remoteBase: remoteBase, probeTimeout: probeTimeout, metrics: m}
}

// Distribute copies artifacts[i] to roster.Addresses[i]. All preconditions
// are checked before the first copy; after that the first failure stops the
// run and files already copied stay in place.
func (d *ConfigDistributor) Distribute(ctx context.Context, roster Roster, artifacts []string) error {
	if err := roster.RequireReady(); err != nil {
		return err
	}
	if err := requireLocalFiles(artifacts...); err != nil {
		return err
	}
	if len(artifacts) != len(roster.Addresses) {
		return fmt.Errorf("%w: %d artifacts for %d instances", ErrCountMismatch, len(artifacts), len(roster.Addresses))
	}
	for _, host := range roster.Addresses {
		if err := d.ch.Probe(ctx, host, d.probeTimeout); err != nil {
			return remoteErr(host, "probe", err)
		}
	}

	dest := path.Join(d.remoteBase, RemoteConfigName)
	for i, host := range roster.Addresses {
		start := time.Now()
		err := d.ch.Copy(ctx, artifacts[i], host, dest)
		d.metrics.RecordRemoteOp("copy", time.Since(start), err == nil)
		if err != nil {
			return remoteErr(host, "copy "+filepath.Base(artifacts[i]), err)
		}
		log.Info().Str("host", host).Str("artifact", artifacts[i]).Msg("configuration sent")
	}
	return nil
}

func requireLocalFiles(paths ...string) error {
	for _, p := range paths {
		st, err := os.Stat(p)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingLocalFile, p)
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		if st.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ErrMissingLocalFile, p)
		}
	}
	return nil
}

var trailingIndex = regexp.MustCompile(`(\d+)\D*$`)

// CollectArtifacts lists files in dir matching a doublestar pattern, ordered
// by the last number in each file name so config-10 sorts after config-9.
func CollectArtifacts(dir, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid artifact pattern %q", pattern)
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob artifacts: %w", err)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, aok := artifactIndex(matches[i])
		b, bok := artifactIndex(matches[j])
		if aok && bok && a != b {
			return a < b
		}
		if aok != bok {
			return aok
		}
		return matches[i] < matches[j]
	})
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.Join(dir, filepath.FromSlash(m))
	}
	return out, nil
}

func artifactIndex(name string) (int, bool) {
	m := trailingIndex.FindStringSubmatch(path.Base(name))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}
