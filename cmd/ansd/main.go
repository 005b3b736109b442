package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ans-project/ans/internal/server"
)

var version = "dev"

func main() {
	var (
		cfgFile  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:     "ansd",
		Short:   "ANS registry daemon: signed agent registration and lookup",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			level, err := zerolog.ParseLevel(cfg.Log.Level)
			if err != nil {
				return fmt.Errorf("log.level: %w", err)
			}
			logger := zerolog.New(
				zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
			).Level(level).With().Timestamp().Logger()

			d := server.NewDaemon(cfg, logger)
			return d.Run()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides log.level)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
