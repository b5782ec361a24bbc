package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/congo-pay/walletcore/internal/engine"
	"github.com/congo-pay/walletcore/internal/infra"
	"github.com/congo-pay/walletcore/internal/logging"
	"github.com/congo-pay/walletcore/internal/server"
)

// withEngine opens the database and runs fn against an engine on it.
func (a *app) withEngine(ctx context.Context, fn func(*engine.Engine) error) error {
	if a.cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	db, err := infra.NewPostgresPool(ctx, a.cfg.DatabaseURL, infra.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer db.Close()

	logger := logging.New(a.cfg.LogLevel)
	return fn(server.NewEngine(a.cfg, db, nil, nil, logger))
}

func newReconcileCmd(a *app) *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Finalise entries left pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(eng *engine.Engine) error {
				report, err := eng.Reconcile(cmd.Context(), olderThan, limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d settled=%d failed=%d pending=%d errors=%d\n",
					report.Scanned, report.Settled, report.Failed, report.Pending, report.Errors)
				if report.Errors > 0 {
					return fmt.Errorf("%d entries could not be reconciled", report.Errors)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Minute, "only entries pending for longer than this")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to process")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every balance against its ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(eng *engine.Engine) error {
				report, err := eng.Audit(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, m := range report.Mismatches {
					fmt.Fprintf(out, "MISMATCH account=%s balance=%d ledger=%d\n", m.AccountID, m.Balance, m.LedgerSum)
				}
				fmt.Fprintf(out, "checked %d accounts, %d mismatches\n", report.Checked, len(report.Mismatches))
				if len(report.Mismatches) > 0 {
					return errors.New("ledger verification failed")
				}
				return nil
			})
		},
	}
}
