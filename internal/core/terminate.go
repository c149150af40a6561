package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
	"github.com/3cpo-dev/shardfleet/internal/telemetry"
)

type GroupTermination struct {
	Group string
	IDs   []string
}

type TerminationResult struct {
	Fleet  string
	Total  int
	Groups []GroupTermination
}

type ClusterTerminator struct {
	provider prov.Provider
	confirm  Confirmer
	metrics  *telemetry.Metrics
}

func NewClusterTerminator(p prov.Provider, c Confirmer, m *telemetry.Metrics) *ClusterTerminator {
	return &ClusterTerminator{provider: p, confirm: c, metrics: m}
}

// Terminate asks for confirmation and then terminates every instance of the
// fleet that is not already terminated, one provider call per group.
// Re-running it only targets what is left.
func (t *ClusterTerminator) Terminate(ctx context.Context, fleet string) (TerminationResult, error) {
	res := TerminationResult{Fleet: fleet}
	records, err := t.provider.ListInstances(ctx, fleet)
	if err != nil {
		return res, fmt.Errorf("list instances: %w", err)
	}

	order, groups := prov.GroupByReservation(records)
	for _, g := range order {
		var ids []string
		for _, r := range groups[g] {
			if r.State != prov.StateTerminated {
				ids = append(ids, r.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}
		res.Groups = append(res.Groups, GroupTermination{Group: g, IDs: ids})
		res.Total += len(ids)
	}
	if res.Total == 0 {
		return res, fmt.Errorf("%w: fleet %q has no live instances", ErrNothingToTerminate, fleet)
	}

	ok, err := t.confirm.Confirm(ctx, fmt.Sprintf("Terminate %d instances of fleet %q?", res.Total, fleet))
	if err != nil {
		return res, fmt.Errorf("confirm: %w", err)
	}
	if !ok {
		return res, fmt.Errorf("%w: termination of %q declined", ErrOperationCancelled, fleet)
	}

	for _, g := range res.Groups {
		start := time.Now()
		err := t.provider.TerminateInstances(ctx, g.IDs)
		t.metrics.RecordFleetOp(t.provider.Name(), "terminate", time.Since(start), err == nil)
		if err != nil {
			return res, fmt.Errorf("terminate group %s: %w", g.Group, err)
		}
		log.Info().Str("group", g.Group).Int("instances", len(g.IDs)).Msg("termination requested")
	}
	return res, nil
}
