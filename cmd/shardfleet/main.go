package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	core "github.com/3cpo-dev/shardfleet/internal/core"
)

var (
	version   = "1.0.0"
	commit    = ""
	buildDate = ""
)

// Create the root command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shardfleet",
		Short: "shardfleet: split a search range across a cloud fleet and run it",
		Long: "shardfleet checks that a fleet of instances is up, hands every worker its " +
			"slice of the search range, launches the job on all of them and tears the fleet down.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("log", "l", "info", "Set log level. Available: trace, debug, info, warn, error, fatal")
	cmd.PersistentFlags().String("config", "", "config file (default ~/.config/shardfleet/config.yaml)")
	cmd.PersistentFlags().String("provider", "", "provider name: ec2, hetzner, vultr, localssh")
	cmd.PersistentFlags().String("name", "", "fleet name")
	cmd.PersistentFlags().String("roster", "", "roster file (default ./neighbors.txt)")
	cmd.PersistentFlags().String("metrics-file", "", "write Prometheus metrics to this file when the command ends")

	cmd.PersistentPreRun = func(c *cobra.Command, args []string) {
		levelStr, _ := c.Flags().GetString("log")
		switch levelStr {
		case "trace":
			zerolog.SetGlobalLevel(zerolog.TraceLevel)
		case "debug":
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		case "info":
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		case "warn":
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		case "error":
			zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		case "fatal":
			zerolog.SetGlobalLevel(zerolog.FatalLevel)
		default:
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newPartitionCmd())
	cmd.AddCommand(newSendConfigsCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newRetrieveCmd())
	cmd.AddCommand(newDiagnoseCmd())
	cmd.AddCommand(newTerminateCmd())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}

// Create the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shardfleet %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

// Setup the logger
func setupLogger() {
	level := zerolog.InfoLevel
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(level)
}

// reportError prints err and, when one is known, the corrective action.
func reportError(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
	if hint := core.Hint(err); hint != "" {
		fmt.Fprintln(os.Stderr, hintStyle.Render("hint: ")+hint)
	}
}

// Main entry point
func main() {
	setupLogger()
	root := newRootCmd()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		reportError(err)
		cancel()
		os.Exit(1)
	}
}
