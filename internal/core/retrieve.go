package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/shardfleet/internal/telemetry"
)

type Retriever struct {
	ch          RemoteChannel
	remoteBase  string
	concurrency int
	metrics     *telemetry.Metrics
}

func NewRetriever(ch RemoteChannel, remoteBase string, concurrency int, m *telemetry.Metrics) *Retriever {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Retriever{ch: ch, remoteBase: remoteBase, concurrency: concurrency, metrics: m}
}

// WorkerDir is where files fetched from worker i land.
func WorkerDir(localDir string, i int) string {
	return filepath.Join(localDir, fmt.Sprintf("worker-%d", i))
}

// Retrieve fetches remotePaths from every node into localDir/worker-<i>.
// Relative paths are resolved against the remote base. Nodes are fetched in
// parallel; every failure is collected and returned together.
func (r *Retriever) Retrieve(ctx context.Context, roster Roster, remotePaths []string, localDir string) error {
	if err := roster.RequireReady(); err != nil {
		return err
	}
	if len(roster.Addresses) == 0 {
		return fmt.Errorf("%w: roster has no addresses", ErrEmptyFleet)
	}
	if len(remotePaths) == 0 {
		return errors.New("no remote paths to retrieve")
	}

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for i, host := range roster.Addresses {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			dir := WorkerDir(localDir, i)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("worker %d: %w", i, err))
				mu.Unlock()
				return
			}
			for _, p := range remotePaths {
				if !path.IsAbs(p) {
					p = path.Join(r.remoteBase, p)
				}
				start := time.Now()
				n, err := r.ch.Fetch(ctx, host, p, dir)
				r.metrics.RecordRemoteOp("fetch", time.Since(start), err == nil)
				if err != nil {
					mu.Lock()
					errs = append(errs, remoteErr(host, "fetch "+p, err))
					mu.Unlock()
					continue
				}
				log.Info().Str("host", host).Str("path", p).Int("files", n).Msg("retrieved")
			}
		}(i, host)
	}
	wg.Wait()
	return errors.Join(errs...)
}
