package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/systmms/dsstore/cmd/dsstore/commands"
	"github.com/systmms/dsstore/internal/config"
	dserrors "github.com/systmms/dsstore/internal/errors"
	"github.com/systmms/dsstore/internal/logging"
	"github.com/systmms/dsstore/internal/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := run()
	secure.Purge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile  string
		noColor     bool
		debug       bool
		metricsAddr string
	)

	cfg := &config.Config{Logger: logging.New(false, false)}
	rt := commands.NewRuntime(cfg)
	defer func() { _ = rt.Close() }()

	rootCmd := &cobra.Command{
		Use:   "dsstore",
		Short: "Resilient access to secret and parameter stores",
		Long: `dsstore reads and writes versioned secrets and parameters through a
pooled, retrying client with one structured log record per operation.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
			rt.MetricsAddr = metricsAddr
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default dsstore.yaml if present)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(
		commands.NewSecretsCommand(rt),
		commands.NewParamsCommand(rt),
		commands.NewStatsCommand(rt),
		commands.NewDoctorCommand(rt),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}
