package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
)

// Report carries the details of a readiness check that the Roster leaves
// out.
type Report struct {
	Total   int
	Running int
	States  map[prov.State]int
	// Unaddressed lists running instances without a public address. They
	// count as ready but are missing from the roster.
	Unaddressed []string
}

type ReadinessPoller struct {
	provider prov.Provider
}

func NewReadinessPoller(p prov.Provider) *ReadinessPoller {
	return &ReadinessPoller{provider: p}
}

// Check takes one snapshot of the fleet. It never writes the roster file.
func (rp *ReadinessPoller) Check(ctx context.Context, fleet string) (Roster, Report, error) {
	records, err := rp.provider.ListInstances(ctx, fleet)
	if err != nil {
		return Roster{}, Report{}, fmt.Errorf("list instances: %w", err)
	}
	if len(records) == 0 {
		return Roster{}, Report{}, fmt.Errorf("%w %q", ErrEmptyFleet, fleet)
	}

	rep := Report{Total: len(records), States: map[prov.State]int{}}
	roster := Roster{Ready: true, Addresses: make([]string, 0, len(records))}
	for _, r := range records {
		rep.States[r.State]++
		if r.State != prov.StateRunning {
			roster.Ready = false
		} else {
			rep.Running++
		}
		if r.Address == "" {
			if r.State == prov.StateRunning {
				rep.Unaddressed = append(rep.Unaddressed, r.ID)
				log.Warn().Str("instance", r.ID).Msg("running instance has no public address; left out of roster")
			}
			continue
		}
		roster.Addresses = append(roster.Addresses, r.Address)
	}
	log.Debug().Str("fleet", fleet).Int("total", rep.Total).Int("running", rep.Running).Bool("ready", roster.Ready).Msg("readiness checked")
	return roster, rep, nil
}
