package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ans-project/ans/internal/secrets"
)

var (
	cfgFile string

	// cfg is shared by all subcommands once PersistentPreRunE has loaded it.
	cfg = viper.New()

	// Version is set by the main package via ldflags.
	Version = "dev"
)

// NewRootCmd creates the root ansctl command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ansctl",
		Short:         "ANS CLI: generate keys, register and look up agents",
		Version:       Version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file path (default: ~/.config/ans/ansctl.toml)")
	flags.String("registry", "http://127.0.0.1:8080", "registry base URL")
	flags.String("api-key", "", "bearer token for write requests")
	flags.Duration("timeout", 30*time.Second, "per-request timeout")

	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newRegisterCmd())
	rootCmd.AddCommand(newLookupCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newDeregisterCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newSecretsCmd())

	return rootCmd
}

// loadConfig merges flags, ANS_* env vars and the optional config file.
// Flags win over env, env over file.
func loadConfig(cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()
	cfg.BindPFlag("registry.url", flags.Lookup("registry"))
	cfg.BindPFlag("registry.api_key", flags.Lookup("api-key"))
	cfg.BindPFlag("registry.timeout", flags.Lookup("timeout"))

	cfg.BindEnv("registry.url", "ANS_REGISTRY_URL")
	cfg.BindEnv("registry.api_key", "ANS_API_KEY")
	cfg.BindEnv("nats.url", "ANS_NATS_URL")
	cfg.BindEnv("nats.token", "ANS_NATS_TOKEN")
	cfg.SetDefault("nats.url", "nats://127.0.0.1:4222")

	cfg.SetConfigType("toml")
	if cfgFile != "" {
		cfg.SetConfigFile(cfgFile)
	} else {
		cfg.SetConfigName("ansctl")
		cfg.AddConfigPath("$HOME/.config/ans")
		cfg.AddConfigPath(".")
	}
	if err := cfg.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return secrets.Load(cfg)
}
