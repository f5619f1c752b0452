/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the policy engine server, and hosts the operator
  subcommands that run the same services without HTTP.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (defaults, YAML file, POLICY_* environment, then flags)
  2. Initialize SQLite store
  3. Build versioning, approval and payroll services
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMANDS:
  policy-engine                 Run the HTTP server (same as "serve")
  policy-engine serve           Run the HTTP server
  policy-engine sync            Apply a month of adjustments to a payroll run
  policy-engine impact          Print the payroll impact report
  policy-engine import FILE     Create policies from a YAML rule book
  policy-engine export          Print policies as a YAML rule book
  policy-engine transitions     Print the approval state machine

GLOBAL FLAGS:
  --config   YAML config file (optional)
  --db       SQLite database path, overrides db.path
             Use ":memory:" for in-memory database
  --verbose  Debug logging

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with a config file
  ./policy-engine --config=./config.yaml

  # Run a demo server on a different port
  ./policy-engine serve --db=":memory:" --port=3000 --demo

  # Apply March to payroll run 42
  ./policy-engine sync --run=run-42 --org=org-1 --month=3 --year=2025

SEE ALSO:
  - config/config.go: Configuration
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/warp/policy-engine/approval"
	"github.com/warp/policy-engine/config"
	"github.com/warp/policy-engine/payroll"
	"github.com/warp/policy-engine/store/sqlite"
	"github.com/warp/policy-engine/versioning"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	DBPath     string
	Verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	serve := &serveOptions{}

	cmd := &cobra.Command{
		Use:           "policy-engine",
		Short:         "Compensation policy lifecycle, versioning and payroll impact engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, serve)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite database path (overrides db.path)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	serve.bind(cmd)

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newImpactCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newTransitionsCommand())
	return cmd
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app is the wired set of services every command works with.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *sqlite.Store
	versions  *versioning.Service
	approvals *approval.Workflow
	payroll   *payroll.Service
}

func newApp(opts *rootOptions, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.DBPath != "" {
		cfg.DB.Path = opts.DBPath
	}
	logger := cfg.Log.NewLogger(logOut, opts.Verbose)

	thresholds, err := cfg.Approval.Thresholds()
	if err != nil {
		return nil, err
	}
	authority, err := approval.NewAuthority(cfg.Approval.Roles())
	if err != nil {
		return nil, fmt.Errorf("approval authority: %w", err)
	}
	printer, err := payroll.NewPrinter(cfg.Payroll.Locale)
	if err != nil {
		return nil, err
	}

	if cfg.DB.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	versions := versioning.NewService(store)
	versions.Logger = logger
	versions.Retain = cfg.Versioning.Retain

	approvals := approval.NewWorkflow(store, authority)
	approvals.Logger = logger
	approvals.Thresholds = thresholds

	pay := payroll.NewService(store)
	pay.Logger = logger
	pay.Concurrency = cfg.Payroll.SyncConcurrency
	pay.Printer = printer
	pay.Currency = cfg.Payroll.Currency

	logger.Debug("application wired",
		"db", cfg.DB.Path,
		"ceo_threshold", thresholds.Default.String(),
		"retain", cfg.Versioning.Retain,
		"sync_concurrency", cfg.Payroll.SyncConcurrency)

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		versions:  versions,
		approvals: approvals,
		payroll:   pay,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
