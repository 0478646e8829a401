package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/amruthjakku/AgriVoice/internal/config"
	"github.com/amruthjakku/AgriVoice/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("agrivoice failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}
	var logLevel, logFormat string

	root := &cobra.Command{
		Use:           "agrivoice",
		Short:         "Voice-first farming advice: ask a question, get a spoken answer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			*cfg = config.Load()
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			logging.Setup(cfg.LogLevel, cfg.LogFormat)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	root.AddCommand(newServeCmd(cfg), newMigrateCmd(cfg), newAskCmd(), newStatusCmd())
	return root
}
