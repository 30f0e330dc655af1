package main

import (
	"github.com/jawr/mxrelay/internal/config"
	"github.com/jawr/mxrelay/internal/logging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mxrelay",
	Short: "Relay application mail through the EmailIt API",
	Long: `mxrelay accepts mail over its admin API or SMTP, queues each
message, delivers it through the EmailIt API and keeps a log of
every attempt.

Example:
  mxrelay serve -c mxrelay.yaml
  mxrelay check -c mxrelay.yaml
  mxrelay send -c mxrelay.yaml --to a@example.com --subject hi --text hello`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (defaults only when empty)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}

// loadConfig reads the config file and builds the logger from it.
// Validation is left to the commands that need it.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), errors.WithMessage(err, "config.Load")
	}

	log, err := logging.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), errors.WithMessage(err, "logging.New")
	}

	return cfg, log, nil
}
