package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/upb/registry-console/app"
	"github.com/upb/registry-console/config"
	"github.com/upb/registry-console/internal/observability"
	"go.uber.org/zap"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "registry-console",
		Short: "Operator console for the epilepsy registry",
		Long: `registry-console serves the registry's web console and offers the same
session from the command line. Every command shares the persisted
credential of the configured profile (SESSION_PROFILE).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		loginCmd(),
		logoutCmd(),
		whoamiCmd(),
		listCmd(),
		queryCmd(),
		versionCmd(),
	)

	return rootCmd
}

// initLogger builds the process logger from LOG_LEVEL and LOG_FORMAT
func initLogger() (*zap.Logger, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = "json"
	}
	return observability.NewLogger(level, format)
}

// bootstrap loads configuration and wires the dependencies shared by all commands
func bootstrap(ctx context.Context) (*app.Dependencies, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return deps, nil
}

// withDeps runs fn with wired dependencies and closes them afterwards
func withDeps(cmd *cobra.Command, fn func(ctx context.Context, deps *app.Dependencies) error) error {
	ctx := cmd.Context()
	deps, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	return fn(ctx, deps)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "registry-console %s (%s)\n", version, commit)
		},
	}
}
