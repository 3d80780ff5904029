// Package config handles configuration loading for marketd. It
// supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/seaquant/marketd/internal/options"
)

// Config represents the complete application configuration.
type Config struct {
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`
	Chains    ChainsConfig    `mapstructure:"chains"    yaml:"chains"`
	Options   options.Config  `mapstructure:"options"   yaml:"options"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Cache     CacheConfig     `mapstructure:"cache"     yaml:"cache"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
}

// ProvidersConfig holds per-upstream credentials and limits.
type ProvidersConfig struct {
	Finnhub      KeyedProviderConfig `mapstructure:"finnhub"      yaml:"finnhub"`
	FMP          KeyedProviderConfig `mapstructure:"fmp"          yaml:"fmp"`
	AlphaVantage KeyedProviderConfig `mapstructure:"alphavantage" yaml:"alphavantage"`
	Robinhood    RobinhoodConfig     `mapstructure:"robinhood"    yaml:"robinhood"`
}

// KeyedProviderConfig is the configuration for an API-key provider.
// Keys are listed in rotation order; limits apply to each key.
type KeyedProviderConfig struct {
	Keys      []string `mapstructure:"keys"       yaml:"keys"`
	PerMinute int      `mapstructure:"per_minute" yaml:"per_minute"`
	PerDay    int      `mapstructure:"per_day"    yaml:"per_day"`
	TimeoutMS int      `mapstructure:"timeout_ms" yaml:"timeout_ms"`
}

// Enabled reports whether at least one key is configured.
func (c KeyedProviderConfig) Enabled() bool { return len(c.Keys) > 0 }

// RobinhoodConfig holds the session-based Robinhood configuration.
type RobinhoodConfig struct {
	SessionToken string `mapstructure:"session_token" yaml:"session_token"`
	PerMinute    int    `mapstructure:"per_minute"    yaml:"per_minute"`
	TimeoutMS    int    `mapstructure:"timeout_ms"    yaml:"timeout_ms"`
}

// Enabled reports whether a session token is configured.
func (c RobinhoodConfig) Enabled() bool { return c.SessionToken != "" }

// ChainsConfig names the provider priority order per data type. Order
// matters: the first provider that succeeds wins.
type ChainsConfig struct {
	Quote        []string `mapstructure:"quote"         yaml:"quote"`
	Fundamentals []string `mapstructure:"fundamentals"  yaml:"fundamentals"`
	OptionsChain []string `mapstructure:"options_chain" yaml:"options_chain"`
	Historical   []string `mapstructure:"historical"    yaml:"historical"`
	Indicator    []string `mapstructure:"indicator"     yaml:"indicator"`
}

// RateLimitConfig holds the daily window rollover settings.
type RateLimitConfig struct {
	DailyResetHour int    `mapstructure:"daily_reset_hour" yaml:"daily_reset_hour"`
	Timezone       string `mapstructure:"timezone"         yaml:"timezone"`
}

// CacheConfig holds the facade response cache settings.
type CacheConfig struct {
	QuoteTTLSec    int `mapstructure:"quote_ttl_sec"    yaml:"quote_ttl_sec"`
	DefaultTTLSec  int `mapstructure:"default_ttl_sec"  yaml:"default_ttl_sec"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"          yaml:"host"`
	Port        int      `mapstructure:"port"          yaml:"port"`
	AuthToken   string   `mapstructure:"auth_token"    yaml:"auth_token"`
	CORSOrigins []string `mapstructure:"cors_origins"  yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `mapstructure:"level"    yaml:"level"`  // "debug", "info", "warn", "error"
	Format  string `mapstructure:"format"   yaml:"format"` // "text" or "json"
	File    string `mapstructure:"file"     yaml:"file"`   // empty means stderr only
	MaxSize int    `mapstructure:"max_size" yaml:"max_size"` // megabytes per log file
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.marketd/config.yaml (home directory)
//  3. /etc/marketd/config.yaml (system)
//
// Environment variables override config file values.
// Format: MARKETD_<SECTION>_<KEY>, e.g., MARKETD_API_AUTH_TOKEN
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".marketd"))
	v.AddConfigPath("/etc/marketd")

	v.SetEnvPrefix("MARKETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file found: defaults plus env vars are enough.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("MARKETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Provider limits match the documented free tiers.
	v.SetDefault("providers.finnhub.per_minute", 60)
	v.SetDefault("providers.finnhub.timeout_ms", 10000)
	v.SetDefault("providers.fmp.per_minute", 30)
	v.SetDefault("providers.fmp.per_day", 250)
	v.SetDefault("providers.fmp.timeout_ms", 10000)
	v.SetDefault("providers.alphavantage.per_minute", 5)
	v.SetDefault("providers.alphavantage.per_day", 25)
	v.SetDefault("providers.alphavantage.timeout_ms", 15000)
	v.SetDefault("providers.robinhood.per_minute", 120)
	v.SetDefault("providers.robinhood.timeout_ms", 15000)

	// Chain priority order per data type.
	v.SetDefault("chains.quote", []string{"robinhood", "finnhub", "fmp", "alphavantage"})
	v.SetDefault("chains.fundamentals", []string{"robinhood", "finnhub", "fmp"})
	v.SetDefault("chains.options_chain", []string{"robinhood"})
	v.SetDefault("chains.historical", []string{"robinhood", "finnhub", "fmp", "alphavantage"})
	v.SetDefault("chains.indicator", []string{"alphavantage"})

	// Options filter thresholds.
	v.SetDefault("options.strike_range_pct", 0.15)
	v.SetDefault("options.min_volume", 0)
	v.SetDefault("options.min_open_interest", 10)
	v.SetDefault("options.tight_spread_pct", 0.10)
	v.SetDefault("options.max_expirations", 3)
	v.SetDefault("options.max_contracts", 16)

	// Daily quota windows roll over at midnight US market time.
	v.SetDefault("ratelimit.daily_reset_hour", 0)
	v.SetDefault("ratelimit.timezone", "America/New_York")

	// Cache defaults.
	v.SetDefault("cache.quote_ttl_sec", 15)
	v.SetDefault("cache.default_ttl_sec", 300)

	// API defaults.
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"*"})

	// Logging defaults.
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.max_size", 50)
}

// overrideFromEnv explicitly reads sensitive keys from environment
// variables so they never need to live in a config file.
func overrideFromEnv(cfg *Config) {
	if keys := os.Getenv("MARKETD_FINNHUB_KEYS"); keys != "" {
		cfg.Providers.Finnhub.Keys = splitKeys(keys)
	}
	if keys := os.Getenv("MARKETD_FMP_KEYS"); keys != "" {
		cfg.Providers.FMP.Keys = splitKeys(keys)
	}
	if keys := os.Getenv("MARKETD_ALPHAVANTAGE_KEYS"); keys != "" {
		cfg.Providers.AlphaVantage.Keys = splitKeys(keys)
	}
	if token := os.Getenv("MARKETD_ROBINHOOD_SESSION"); token != "" {
		cfg.Providers.Robinhood.SessionToken = token
	}
	if token := os.Getenv("MARKETD_API_AUTH_TOKEN"); token != "" {
		cfg.API.AuthToken = token
	}
}

func splitKeys(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
