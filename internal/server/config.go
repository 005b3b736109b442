package server

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ans-project/ans/internal/api"
	"github.com/ans-project/ans/internal/registry"
	"github.com/ans-project/ans/internal/secrets"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Store    StoreConfig    `mapstructure:"store"`
	Registry RegistryConfig `mapstructure:"registry"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	APIKeys     []string `mapstructure:"api_keys"` // #nosec G117 -- config deserialization, not hardcoded
	RateLimit   float64  `mapstructure:"rate_limit"`
	RateBurst   int      `mapstructure:"rate_burst"`
	Metrics     bool     `mapstructure:"metrics"`
	// TrustedProxies are CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// NATSConfig selects the embedded server or an external URL. Sync events are
// published only when Sync is true.
type NATSConfig struct {
	Embedded bool   `mapstructure:"embedded"`
	URL      string `mapstructure:"url"`
	DataDir  string `mapstructure:"data_dir"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Token    string `mapstructure:"token"`
	Sync     bool   `mapstructure:"sync"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // memory, leveldb or jetstream
	Path    string `mapstructure:"path"`    // leveldb directory
	Bucket  string `mapstructure:"bucket"`  // jetstream KV bucket
}

// RegistryConfig tunes the registry service.
type RegistryConfig struct {
	KeyCacheSize     int           `mapstructure:"key_cache_size"`
	DeregisterWindow time.Duration `mapstructure:"deregister_window"`
	MaxLookupLimit   int           `mapstructure:"max_lookup_limit"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// needsNATS reports whether the configuration uses NATS at all.
func (c Config) needsNATS() bool {
	return c.NATS.Sync || c.Store.Backend == registry.BackendJetStream
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case registry.BackendMemory, registry.BackendJetStream:
	case registry.BackendLevelDB:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the leveldb backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q (want memory, leveldb or jetstream)", c.Store.Backend)
	}
	if c.needsNATS() && !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.embedded is false")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if _, err := api.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}
	return nil
}

// LoadConfig reads configuration from file, env, and flags.
func LoadConfig(cfgFile string) (Config, error) {
	v := viper.New()

	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "ans")

	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.metrics", true)
	v.SetDefault("nats.embedded", true)
	v.SetDefault("nats.data_dir", filepath.Join(dataDir, "nats"))
	v.SetDefault("nats.sync", true)
	v.SetDefault("store.backend", registry.BackendLevelDB)
	v.SetDefault("store.path", filepath.Join(dataDir, "agents"))
	v.SetDefault("store.bucket", registry.DefaultBucket)
	v.SetDefault("registry.key_cache_size", 1024)
	v.SetDefault("registry.deregister_window", 5*time.Minute)
	v.SetDefault("registry.max_lookup_limit", 100)
	v.SetDefault("log.level", "info")

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("ansd")
		v.AddConfigPath("/etc/ans")
		v.AddConfigPath("$HOME/.config/ans")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ANS")
	v.AutomaticEnv()

	v.BindEnv("server.listen", "ANS_LISTEN")
	v.BindEnv("nats.url", "ANS_NATS_URL")
	v.BindEnv("nats.token", "ANS_NATS_TOKEN")
	v.BindEnv("store.backend", "ANS_STORE")
	v.BindEnv("log.level", "ANS_LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional unless named explicitly.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := secrets.Load(v); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}
