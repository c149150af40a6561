package core

import (
	"context"
	"fmt"
	"time"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
)

// Diagnose probes every roster address on the SSH port and adds the
// provider's own findings when it can report on network access.
func Diagnose(ctx context.Context, ch RemoteChannel, p prov.Provider, fleet string, roster Roster, timeout time.Duration) ([]prov.Finding, error) {
	var findings []prov.Finding
	for _, host := range roster.Addresses {
		f := prov.Finding{Subject: "ssh " + host, OK: true, Detail: "reachable"}
		if err := ch.Probe(ctx, host, timeout); err != nil {
			f.OK = false
			f.Detail = err.Error()
		}
		findings = append(findings, f)
	}
	d, ok := p.(prov.Diagnoser)
	if !ok {
		return findings, nil
	}
	more, err := d.Diagnose(ctx, fleet)
	if err != nil {
		return findings, fmt.Errorf("%s diagnose: %w", p.Name(), err)
	}
	return append(findings, more...), nil
}
