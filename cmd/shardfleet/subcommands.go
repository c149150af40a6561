package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	core "github.com/3cpo-dev/shardfleet/internal/core"
	prov "github.com/3cpo-dev/shardfleet/internal/providers"
	gssh "github.com/3cpo-dev/shardfleet/internal/ssh"
	"github.com/3cpo-dev/shardfleet/internal/telemetry"
)

// Global flags that override config keys.
var flagKeys = map[string]string{
	"name":     "fleet",
	"provider": "providers.default",
	"roster":   "defaults.roster_path",
}

// Resolve the configuration
func resolveConfig(cmd *cobra.Command) (prov.Config, error) {
	v := core.NewViper()
	if err := bindFlags(v, cmd); err != nil {
		return prov.Config{}, err
	}
	cfgPath, _ := cmd.Flags().GetString("config")
	return core.LoadConfig(v, cfgPath)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

type session struct {
	cfg         prov.Config
	orch        *core.Orchestrator
	metrics     *telemetry.Metrics
	metricsFile string
}

// Open the provider, the ledger and the orchestrator for one command
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	p, err := core.DefaultRegistry().Open(cmd.Context(), cfg.Providers.Default, cfg)
	if err != nil {
		return nil, err
	}
	var store *core.Store
	if cfg.Defaults.LedgerPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Defaults.LedgerPath), 0o700); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
		if store, err = core.NewStore(cfg.Defaults.LedgerPath); err != nil {
			return nil, err
		}
	}
	metricsFile, _ := cmd.Flags().GetString("metrics-file")
	m := telemetry.NewMetrics()
	log.Debug().Str("provider", p.Name()).Str("fleet", cfg.Fleet).Msg("session opened")
	return &session{
		cfg:         cfg,
		metrics:     m,
		metricsFile: metricsFile,
		orch: core.NewOrchestrator(core.Options{
			Config:   cfg,
			Provider: p,
			Store:    store,
			Metrics:  m,
			Out:      cmd.OutOrStdout(),
		}),
	}, nil
}

func (s *session) close() {
	if err := s.metrics.WriteTextfile(s.metricsFile); err != nil {
		log.Warn().Err(err).Str("path", s.metricsFile).Msg("metrics export failed")
	}
	if err := s.orch.Close(); err != nil {
		log.Debug().Err(err).Msg("close session")
	}
}

// withSession runs fn against an open session and releases it afterwards
func withSession(fn func(cmd *cobra.Command, args []string, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()
		return fn(cmd, args, s)
	}
}

// Initialize configuration, key pair and known_hosts
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and generate an SSH key. Run this the first time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = core.DefaultConfigPath()
			}
			cfg := core.DefaultConfig()
			if provider, _ := cmd.Flags().GetString("provider"); provider != "" {
				cfg.Providers.Default = provider
			}
			if name, _ := cmd.Flags().GetString("name"); name != "" {
				cfg.Fleet = name
			}
			keyPath := filepath.Join(filepath.Dir(path), "id_ed25519")
			if _, err := os.Stat(keyPath); errors.Is(err, os.ErrNotExist) {
				if _, err := gssh.GenerateEd25519Keypair(keyPath); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s\n", okStyle.Render("generated"), keyPath)
			} else {
				fmt.Fprintf(out, "%s %s\n", dimStyle.Render("kept"), keyPath)
			}
			cfg.SSH.KeyPath = keyPath
			if err := gssh.EnsureKnownHostsFile(cfg.SSH.KnownHosts); err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(out, "%s %s already exists\n", dimStyle.Render("kept"), path)
				return nil
			}
			if err := core.WriteConfigFile(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", okStyle.Render("wrote"), path)
			return nil
		},
	}
	return cmd
}

// Create fleet instances
func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Request a fleet of instances from the provider",
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			count, _ := cmd.Flags().GetInt("count")
			region, _ := cmd.Flags().GetString("region")
			image, _ := cmd.Flags().GetString("image")
			size, _ := cmd.Flags().GetString("type")
			key, _ := cmd.Flags().GetString("key")
			spot, _ := cmd.Flags().GetString("spot-price")
			records, err := s.orch.Create(cmd.Context(), prov.CreateRequest{
				Count:     count,
				Region:    region,
				Image:     image,
				Size:      size,
				KeyName:   key,
				SpotPrice: spot,
			})
			if len(records) > 0 {
				renderInstances(cmd.OutOrStdout(), records)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("run `shardfleet check` until the fleet is ready"))
			return nil
		}),
	}
	cmd.Flags().Int("count", 1, "number of instances")
	cmd.Flags().String("region", "", "region/location (provider-specific)")
	cmd.Flags().String("image", "", "image/AMI (provider-specific)")
	cmd.Flags().String("type", "", "instance type/plan (provider-specific)")
	cmd.Flags().String("key", "", "EC2 key pair name")
	cmd.Flags().String("spot-price", "", "EC2 spot max price")
	return cmd
}

// Check readiness and write the roster
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that every instance is running and write the roster file",
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			roster, rep, err := s.orch.Check(cmd.Context())
			if err != nil {
				return err
			}
			renderReadiness(cmd.OutOrStdout(), s.orch.Fleet(), s.cfg.Defaults.RosterPath, roster, rep)
			return nil
		}),
	}
}

// List fleet instances
func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List the instances of a fleet",
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			records, err := s.orch.List(cmd.Context())
			if err != nil {
				return err
			}
			renderInstances(cmd.OutOrStdout(), records)
			return nil
		}),
	}
}

// Split [2, n) into shard configs
func newPartitionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partition",
		Short: "Split the search range [2, n) into one shard config per worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt64("n")
			k, _ := cmd.Flags().GetInt("workers")
			strategyName, _ := cmd.Flags().GetString("strategy")
			dir, _ := cmd.Flags().GetString("out")
			strategy, err := core.ParseStrategy(strategyName)
			if err != nil {
				return err
			}
			if k == 0 {
				cfg, err := resolveConfig(cmd)
				if err != nil {
					return err
				}
				roster, err := core.ReadRosterFile(cfg.Defaults.RosterPath)
				if err != nil {
					return err
				}
				if err := roster.RequireReady(); err != nil {
					return err
				}
				k = len(roster.Addresses)
				log.Info().Int("workers", k).Str("roster", cfg.Defaults.RosterPath).Msg("worker count taken from roster")
			}
			items, err := core.Partition(n, k, strategy)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			files, err := core.WriteShardConfigs(dir, items)
			if err != nil {
				return err
			}
			renderWorkItems(cmd.OutOrStdout(), items, files)
			return nil
		},
	}
	cmd.Flags().Int64("n", 0, "exclusive upper bound of the search range")
	cmd.Flags().IntP("workers", "k", 0, "number of shards (default: roster size)")
	cmd.Flags().String("strategy", string(core.Strided), "strided or balanced")
	cmd.Flags().String("out", ".", "directory for config-<i>.json files")
	_ = cmd.MarkFlagRequired("n")
	return cmd
}

// Send shard configs to the fleet
func newSendConfigsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send-configs [files...]",
		Short: "Copy shard config i to worker i as <remote base>/configuration",
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			artifacts := args
			if len(artifacts) == 0 {
				dir, _ := cmd.Flags().GetString("dir")
				pattern, _ := cmd.Flags().GetString("pattern")
				var err error
				if artifacts, err = core.CollectArtifacts(dir, pattern); err != nil {
					return err
				}
			}
			if err := s.orch.SendConfigs(cmd.Context(), artifacts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d configs\n", okStyle.Render("sent"), len(artifacts))
			return nil
		}),
	}
	cmd.Flags().String("dir", ".", "directory holding shard configs")
	cmd.Flags().String("pattern", "config-*.json", "doublestar pattern selecting shard configs in --dir")
	return cmd
}

// Run a script on every node
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <script> [support files...]",
		Short: "Run a script on every node of the roster (detached unless --foreground)",
		Args:  cobra.MinimumNArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			foreground, _ := cmd.Flags().GetBool("foreground")
			support, _ := cmd.Flags().GetStringSlice("support")
			files, err := expandSupport(append(support, args[1:]...))
			if err != nil {
				return err
			}
			mode := core.Background
			if foreground {
				mode = core.Foreground
			}
			l, err := s.orch.Run(cmd.Context(), core.DispatchJob{ScriptPath: args[0], SupportFiles: files, Mode: mode})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if mode == core.Foreground {
				fmt.Fprintf(out, "%s on %d nodes\n", okStyle.Render("completed"), len(l.Nodes))
				return nil
			}
			if err := l.Submitted(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s on %d nodes\n", okStyle.Render("launched"), l.ID, len(l.Nodes))
			fmt.Fprintln(out, dimStyle.Render("output goes to "+l.LogPath+" on each node"))
			return nil
		}),
	}
	cmd.Flags().Bool("foreground", false, "run node by node and stream output")
	cmd.Flags().StringSlice("support", nil, "support files or doublestar patterns copied next to the script")
	return cmd
}

// expandSupport expands glob patterns; plain paths pass through untouched so
// a missing file is reported by the dispatcher.
func expandSupport(patterns []string) ([]string, error) {
	var files []string
	for _, p := range patterns {
		if !hasMeta(p) {
			files = append(files, p)
			continue
		}
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", p, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: no files match %s", core.ErrMissingLocalFile, p)
		}
		files = append(files, matches...)
	}
	return files, nil
}

func hasMeta(s string) bool {
	for _, c := range s {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// Retrieve results from every node
func newRetrieveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrieve <remote paths...>",
		Short: "Fetch files from every node into <out>/worker-<i>",
		Args:  cobra.MinimumNArgs(1),
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			dir, _ := cmd.Flags().GetString("out")
			if err := s.orch.Retrieve(cmd.Context(), args, dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s into %s\n", okStyle.Render("retrieved"), dir)
			return nil
		}),
	}
	cmd.Flags().String("out", "results", "local directory for retrieved files")
	return cmd
}

// Diagnose connectivity
func newDiagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Probe SSH reachability of every node and check provider firewall rules",
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			findings, err := s.orch.Diagnose(cmd.Context())
			if err != nil {
				return err
			}
			if failed := renderFindings(cmd.OutOrStdout(), findings); failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(findings))
			}
			return nil
		}),
	}
}

// Terminate the fleet
func newTerminateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terminate",
		Short: "Terminate every instance of the fleet",
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			yes, _ := cmd.Flags().GetBool("yes")
			res, err := s.orch.Terminate(cmd.Context(), core.NewConfirmer(yes, os.Stdin, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			renderTermination(cmd.OutOrStdout(), res)
			return nil
		}),
	}
	cmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// Show recent launches
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent launches recorded in the ledger",
		RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
			limit, _ := cmd.Flags().GetInt("limit")
			launches, err := s.orch.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderLaunches(cmd.OutOrStdout(), launches)
			return nil
		}),
	}
	cmd.Flags().Int("limit", 10, "number of launches to show")
	return cmd
}
