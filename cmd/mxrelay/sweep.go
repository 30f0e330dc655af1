package main

import (
	"context"
	"fmt"

	"github.com/jawr/mxrelay/internal/logger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	sweepMode  string
	sweepDays  int
	sweepCount int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Apply the retention policy to the email log once",
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepMode, "mode", "", "override the retention mode (days or count)")
	sweepCmd.Flags().IntVar(&sweepDays, "days", 0, "override the days to keep")
	sweepCmd.Flags().IntVar(&sweepCount, "count", 0, "override the number of rows to keep")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	if len(cfg.Database.URL) == 0 {
		return errors.New("database.url is required to sweep a persistent log")
	}

	policy := cfg.Retention.RetentionPolicy
	if len(sweepMode) > 0 {
		policy.Mode = logger.RetentionMode(sweepMode)
	}
	if sweepDays > 0 {
		policy.Days = sweepDays
	}
	if sweepCount > 0 {
		policy.Count = sweepCount
	}

	ctx := context.Background()

	a := &app{cfg: cfg, log: log}
	defer a.Close()

	if err := a.openStore(ctx); err != nil {
		return err
	}

	sweeper := logger.NewSweeper(a.store, policy, log)

	deleted, err := sweeper.Sweep(ctx)
	if err != nil {
		return errors.WithMessage(err, "Sweep")
	}

	policy = sweeper.Policy()
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d log entries (mode=%s days=%d count=%d)\n", deleted, policy.Mode, policy.Days, policy.Count)

	return nil
}
