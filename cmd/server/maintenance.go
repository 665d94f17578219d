package main

import (
	"errors"
	"fmt"

	"github.com/hearth/points-ledger/backend"
	"github.com/hearth/points-ledger/store/file"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Print the current balance",
		Long: `Print the current balance through the same fallback chain the server
uses, together with the backend that answered.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			sel, err := backend.Build(cfg.Storage, zap.NewNop(), nil)
			if err != nil {
				return err
			}
			defer sel.Close()

			l, err := newLedger(cfg, sel)
			if err != nil {
				return err
			}
			res := l.Balance(cmd.Context())
			if res.Err != nil {
				return res.Err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total_points: %d\nbackend: %s (%s)\n", res.Value, res.Backend, res.Status)
			return nil
		},
	}
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute total_points in the JSON ledger file",
		Long: `Load the JSON ledger file (legacy layouts included), recompute the
total from its records and write it back in the current layout.

The stored total is never used by the server; this only fixes what
humans and older readers see in the file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if !cfg.Storage.File.Enabled {
				return errors.New("file storage is disabled")
			}

			store := file.New(cfg.Storage.File.Path)
			stored, recomputed, err := store.Reconcile(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "file: %s\nstored total_points: %d\nrecomputed: %d\n", store.Path(), stored, recomputed)
			if stored != recomputed {
				fmt.Fprintf(out, "fixed drift of %d\n", recomputed-stored)
			}
			return nil
		},
	}
}
