package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
	"github.com/3cpo-dev/shardfleet/internal/ssh"
	"github.com/3cpo-dev/shardfleet/internal/telemetry"
)

type Options struct {
	Config   prov.Config
	Provider prov.Provider
	// Channel is built from Config.SSH on first use when nil.
	Channel RemoteChannel
	// Store is optional; without it nothing is recorded.
	Store   *Store
	Metrics *telemetry.Metrics
	Out     io.Writer
}

// Orchestrator is the entrypoint for coordinating a fleet: it ties the
// provider, the remote channel, the roster file and the ledger together.
type Orchestrator struct {
	cfg      prov.Config
	provider prov.Provider
	store    *Store
	metrics  *telemetry.Metrics
	out      io.Writer

	chOnce sync.Once
	ch     RemoteChannel
	chErr  error
}

func NewOrchestrator(o Options) *Orchestrator {
	if o.Out == nil {
		o.Out = os.Stdout
	}
	return &Orchestrator{
		cfg:      o.Config,
		provider: o.Provider,
		store:    o.Store,
		metrics:  o.Metrics,
		out:      o.Out,
		ch:       o.Channel,
	}
}

func (o *Orchestrator) Health(ctx context.Context) error {
	if o.store != nil {
		if err := o.store.Ping(ctx); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (o *Orchestrator) Fleet() string { return o.cfg.Fleet }

func (o *Orchestrator) Provider() prov.Provider { return o.provider }

func (o *Orchestrator) channel() (RemoteChannel, error) {
	o.chOnce.Do(func() {
		if o.ch != nil {
			return
		}
		c, err := ssh.NewChannelFromConfig(o.cfg)
		if err != nil {
			o.chErr = err
			return
		}
		o.ch = c
	})
	return o.ch, o.chErr
}

func (o *Orchestrator) requireFleet() error {
	if o.cfg.Fleet == "" && o.provider.Name() != "localssh" {
		return errors.New("fleet name required; pass --name or set fleet in the config file")
	}
	return nil
}

func (o *Orchestrator) timeFleetOp(op string, start time.Time, err error) {
	o.metrics.RecordFleetOp(o.provider.Name(), op, time.Since(start), err == nil)
}

// Check queries the fleet once and replaces the roster file with the
// result. An empty fleet leaves the existing roster file alone.
func (o *Orchestrator) Check(ctx context.Context) (Roster, Report, error) {
	if err := o.requireFleet(); err != nil {
		return Roster{}, Report{}, err
	}
	start := time.Now()
	roster, rep, err := NewReadinessPoller(o.provider).Check(ctx, o.cfg.Fleet)
	o.timeFleetOp("list", start, err)
	if err != nil {
		return Roster{}, Report{}, err
	}
	o.metrics.SetReadiness(rep.Total, rep.Running, len(rep.Unaddressed))
	if err := WriteRosterFile(o.cfg.Defaults.RosterPath, roster); err != nil {
		return roster, rep, err
	}
	if o.store != nil {
		if err := o.store.RecordCheck(ctx, o.cfg.Fleet, roster, rep); err != nil {
			log.Warn().Err(err).Msg("ledger write failed")
		}
	}
	return roster, rep, nil
}

func (o *Orchestrator) LoadRoster() (Roster, error) {
	return ReadRosterFile(o.cfg.Defaults.RosterPath)
}

func (o *Orchestrator) List(ctx context.Context) ([]prov.InstanceRecord, error) {
	if err := o.requireFleet(); err != nil {
		return nil, err
	}
	start := time.Now()
	records, err := o.provider.ListInstances(ctx, o.cfg.Fleet)
	o.timeFleetOp("list", start, err)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return records, nil
}

// Create validates and submits a creation request. Empty fields fall back
// to configuration; the SSH public key is derived from the configured
// private key when one exists.
func (o *Orchestrator) Create(ctx context.Context, req prov.CreateRequest) ([]prov.InstanceRecord, error) {
	if req.Fleet == "" {
		req.Fleet = o.cfg.Fleet
	}
	if req.KeyName == "" {
		req.KeyName = o.cfg.Providers.EC2.KeyName
	}
	if req.SSHUser == "" {
		req.SSHUser = o.cfg.SSH.User
	}
	if req.SSHKey == "" && o.cfg.SSH.KeyPath != "" {
		if pub, err := ssh.AuthorizedKey(o.cfg.SSH.KeyPath); err == nil {
			req.SSHKey = pub
		} else {
			log.Debug().Err(err).Msg("no public key derived from ssh key")
		}
	}
	if err := prov.NewCreateRequestValidator().Validate(o.provider.Name(), req); err != nil {
		return nil, err
	}
	start := time.Now()
	records, err := o.provider.CreateInstances(ctx, req)
	o.timeFleetOp("create", start, err)
	if err != nil {
		return records, fmt.Errorf("create instances: %w", err)
	}
	log.Info().Str("fleet", req.Fleet).Int("instances", len(records)).Msg("instances requested")
	return records, nil
}

func (o *Orchestrator) SendConfigs(ctx context.Context, artifacts []string) error {
	roster, err := o.LoadRoster()
	if err != nil {
		return err
	}
	ch, err := o.channel()
	if err != nil {
		return err
	}
	return NewConfigDistributor(ch, o.cfg.Defaults.RemoteBase, o.cfg.Defaults.ProbeTimeout, o.metrics).Distribute(ctx, roster, artifacts)
}

// Run dispatches job to the roster. Missing local files are reported before
// the roster is read.
func (o *Orchestrator) Run(ctx context.Context, job DispatchJob) (*Launch, error) {
	if job.RemoteBasePath == "" {
		job.RemoteBasePath = o.cfg.Defaults.RemoteBase
	}
	if err := requireLocalFiles(append([]string{job.ScriptPath}, job.SupportFiles...)...); err != nil {
		return nil, err
	}
	roster, err := o.LoadRoster()
	if err != nil {
		return nil, err
	}
	ch, err := o.channel()
	if err != nil {
		return nil, err
	}
	l, err := NewJobDispatcher(ch, o.out, o.metrics).Dispatch(ctx, job, roster)
	if l != nil && o.store != nil {
		if lerr := o.store.RecordLaunch(ctx, o.cfg.Fleet, l); lerr != nil {
			log.Warn().Err(lerr).Msg("ledger write failed")
		}
	}
	return l, err
}

func (o *Orchestrator) Retrieve(ctx context.Context, remotePaths []string, localDir string) error {
	roster, err := o.LoadRoster()
	if err != nil {
		return err
	}
	ch, err := o.channel()
	if err != nil {
		return err
	}
	return NewRetriever(ch, o.cfg.Defaults.RemoteBase, o.cfg.Defaults.Concurrency, o.metrics).Retrieve(ctx, roster, remotePaths, localDir)
}

// Diagnose probes the roster addresses, querying the provider directly when
// no roster file exists yet.
func (o *Orchestrator) Diagnose(ctx context.Context) ([]prov.Finding, error) {
	roster, err := o.LoadRoster()
	if errors.Is(err, ErrMissingLocalFile) {
		if err := o.requireFleet(); err != nil {
			return nil, err
		}
		roster, _, err = NewReadinessPoller(o.provider).Check(ctx, o.cfg.Fleet)
	}
	if err != nil {
		return nil, err
	}
	ch, err := o.channel()
	if err != nil {
		return nil, err
	}
	return Diagnose(ctx, ch, o.provider, o.cfg.Fleet, roster, o.cfg.Defaults.ProbeTimeout)
}

func (o *Orchestrator) Terminate(ctx context.Context, c Confirmer) (TerminationResult, error) {
	if err := o.requireFleet(); err != nil {
		return TerminationResult{}, err
	}
	res, err := NewClusterTerminator(o.provider, c, o.metrics).Terminate(ctx, o.cfg.Fleet)
	if err == nil && o.store != nil {
		if lerr := o.store.RecordTermination(ctx, res); lerr != nil {
			log.Warn().Err(lerr).Msg("ledger write failed")
		}
	}
	return res, err
}

func (o *Orchestrator) History(ctx context.Context, limit int) ([]LaunchRecord, error) {
	if o.store == nil {
		return nil, errors.New("ledger not configured; set defaults.ledger_path")
	}
	return o.store.RecentLaunches(ctx, o.cfg.Fleet, limit)
}

// Close releases the remote channel and the ledger.
func (o *Orchestrator) Close() error {
	var errs []error
	if o.ch != nil {
		errs = append(errs, o.ch.Close())
	}
	if o.store != nil {
		errs = append(errs, o.store.Close())
	}
	return errors.Join(errs...)
}
