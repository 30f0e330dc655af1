package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jawr/mxrelay/internal/cache"
	"github.com/jawr/mxrelay/internal/controlpanel"
	"github.com/jawr/mxrelay/internal/smtp"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, the admin API and the SMTP endpoint",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return errors.WithMessage(err, "Validate")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	a.refresh(ctx)

	if err := a.scheduleSweep(); err != nil {
		return errors.WithMessage(err, "scheduleSweep")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.sched.Run(ctx)
	})

	if len(cfg.HTTP.Addr) > 0 {
		contentCache, err := cache.NewCache(cfg.HTTP.CacheMaxCost, cache.DefaultCacheTTL)
		if err != nil {
			return errors.WithMessage(err, "cache.NewCache")
		}
		defer contentCache.Close()

		site, err := controlpanel.NewSite(controlpanel.Config{
			State:        a.state,
			Store:        a.store,
			Sweeper:      a.sweeper,
			Mailer:       a.mailer,
			Lister:       a.client,
			Provider:     a.client,
			Cache:        contentCache,
			Username:     cfg.HTTP.Username,
			PasswordHash: cfg.HTTP.PasswordHash,
			Log:          log,
		})
		if err != nil {
			return errors.WithMessage(err, "controlpanel.NewSite")
		}

		g.Go(func() error {
			return site.Run(ctx, cfg.HTTP.Addr)
		})
	}

	if len(cfg.SMTP.Addr) > 0 {
		server, err := smtp.NewServer(a.mailer, smtp.Options{
			Addr:           cfg.SMTP.Addr,
			Domain:         cfg.SMTP.Domain,
			Username:       cfg.SMTP.Username,
			PasswordHash:   cfg.SMTP.PasswordHash,
			AllowAnonymous: cfg.SMTP.AllowAnonymous,
		}, log)
		if err != nil {
			return errors.WithMessage(err, "smtp.NewServer")
		}

		g.Go(func() error {
			return server.Run(ctx)
		})
	}

	log.Info().Msg("mxrelay started")

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("mxrelay stopped")

	return nil
}
