package mcp

import (
	"time"

	"github.com/spf13/viper"

	"github.com/ans-project/ans/internal/secrets"
)

// Config holds all configuration for the MCP server.
type Config struct {
	Registry RegistryConfig `mapstructure:"registry"`
}

// RegistryConfig holds settings for reaching the ANS registry.
type RegistryConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"` // #nosec G117 -- config deserialization, not hardcoded
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoadConfig reads the MCP server configuration from file, env vars, and defaults.
func LoadConfig(cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("registry.url", "http://127.0.0.1:8080")
	v.SetDefault("registry.timeout", 10*time.Second)

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("ans-mcp")
		v.AddConfigPath("/etc/ans")
		v.AddConfigPath("$HOME/.config/ans")
		v.AddConfigPath(".")
	}

	v.BindEnv("registry.url", "ANS_REGISTRY_URL")
	v.BindEnv("registry.api_key", "ANS_API_KEY")

	_ = v.ReadInConfig() // config file is optional

	if err := secrets.Load(v); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
