package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test the API connection and list scheduled tasks",
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()

	if len(cfg.EmailIt.APIKey) == 0 {
		return errors.New("emailit.api_key is not configured")
	}

	if err := a.state.Refresh(ctx, a.client); err != nil {
		return errors.WithMessage(err, "connection test")
	}

	settings := a.state.Settings()
	fmt.Fprintf(out, "connection active\n")
	fmt.Fprintf(out, "default from: %s\n", settings.DefaultFrom())
	for _, d := range a.state.Domains() {
		fmt.Fprintf(out, "domain: %s\n", d)
	}

	tasks, err := a.sched.Pending()
	if err != nil {
		return errors.WithMessage(err, "Pending")
	}

	fmt.Fprintf(out, "%d scheduled tasks\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(out, "  %s at %s\n", t.Identity, t.RunAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}
