/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the points ledger. Loads configuration, builds the
  storage chain and runs the HTTP server or a maintenance command.

COMMANDS:
  serve      Run the HTTP API and frontend (default when no command is given)
  balance    Print the current balance and the backend that served it
  reconcile  Rewrite the JSON file with a recomputed total_points

GLOBAL FLAGS:
  --config           YAML config file (optional)
  --port             HTTP server port
  --data-file        JSON ledger file; "" disables the file backend
  --opening-balance  Points the household starts from
  --log-level        debug | info | warn | error

  Flags override environment variables, which override the config file.

EXAMPLES:
  # Local only: file + memory
  ./server serve --data-file=./data/points.json --opening-balance=13

  # MySQL first, file fallback
  POINTS_REMOTE_DRIVER=mysql POINTS_REMOTE_DSN='u:p@tcp(db:3306)/points?parseTime=true' ./server

SEE ALSO:
  - config/config.go: Configuration sources
  - backend/backend.go: Storage chain
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"

	"github.com/hearth/points-ledger/config"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath     string
	Port           int
	DataFile       string
	OpeningBalance int64
	LogLevel       string
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Household points ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	flags.IntVar(&opts.Port, "port", 8080, "HTTP server port")
	flags.StringVar(&opts.DataFile, "data-file", "data/points.json", `JSON ledger file ("" disables it)`)
	flags.Int64Var(&opts.OpeningBalance, "opening-balance", 0, "points the household starts from")
	flags.StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewBalanceCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))

	return cmd
}

// loadConfig reads the config file and environment, then applies the
// flags the user actually set.
func loadConfig(cmd *cobra.Command, opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = opts.Port
	}
	if flags.Changed("data-file") {
		cfg.Storage.File.Path = opts.DataFile
		cfg.Storage.File.Enabled = opts.DataFile != ""
	}
	if flags.Changed("opening-balance") {
		cfg.Ledger.OpeningBalance = opts.OpeningBalance
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
