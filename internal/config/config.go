package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Secrets     SecretsConfig     `yaml:"secrets" mapstructure:"secrets"`
	MarketCheck MarketCheckConfig `yaml:"marketcheck" mapstructure:"marketcheck"`
	VPIC        VPICConfig        `yaml:"vpic" mapstructure:"vpic"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Search      SearchConfig      `yaml:"search" mapstructure:"search"`
	Fallback    FallbackConfig    `yaml:"fallback" mapstructure:"fallback"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SecretsConfig selects where provider credentials come from.
type SecretsConfig struct {
	Source  string            `yaml:"source" mapstructure:"source"` // "config" or "postgres"
	TTLSecs int               `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	Values  map[string]string `yaml:"values" mapstructure:"values"`
}

// MarketCheckConfig holds listing provider settings. The API key itself is
// resolved through the secret store, never read from here.
type MarketCheckConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Rows        int     `yaml:"rows" mapstructure:"rows"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// VPICConfig holds NHTSA vPIC decoder settings.
type VPICConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// CacheConfig configures the HTTP response cache and the per-VIN result cache.
type CacheConfig struct {
	HTTPTTLMins       int `yaml:"http_ttl_mins" mapstructure:"http_ttl_mins"`
	HTTPMaxEntries    int `yaml:"http_max_entries" mapstructure:"http_max_entries"`
	ActiveTTLDays     int `yaml:"active_ttl_days" mapstructure:"active_ttl_days"`
	HistoricalTTLDays int `yaml:"historical_ttl_days" mapstructure:"historical_ttl_days"`
}

// SearchConfig configures the listing search strategies.
type SearchConfig struct {
	DefaultRadius      int `yaml:"default_radius" mapstructure:"default_radius"`
	MaxRadius          int `yaml:"max_radius" mapstructure:"max_radius"`
	AttemptTimeoutSecs int `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
}

// FallbackConfig configures the fallback payload builder.
type FallbackConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	StatsIntervalSecs  int      `yaml:"stats_interval_secs" mapstructure:"stats_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VEHICLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "vehicles.db")
	v.SetDefault("secrets.source", "config")
	v.SetDefault("secrets.ttl_secs", 300)
	v.SetDefault("marketcheck.base_url", "https://mc-api.marketcheck.com")
	v.SetDefault("marketcheck.timeout_secs", 15)
	v.SetDefault("marketcheck.rate_limit", 5)
	v.SetDefault("marketcheck.rows", 50)
	v.SetDefault("marketcheck.max_retries", 2)
	v.SetDefault("vpic.base_url", "https://vpic.nhtsa.dot.gov")
	v.SetDefault("vpic.timeout_secs", 10)
	v.SetDefault("vpic.rate_limit", 10)
	v.SetDefault("cache.http_ttl_mins", 5)
	v.SetDefault("cache.http_max_entries", 2000)
	v.SetDefault("cache.active_ttl_days", 7)
	v.SetDefault("cache.historical_ttl_days", 30)
	v.SetDefault("search.default_radius", 100)
	v.SetDefault("search.max_radius", 500)
	v.SetDefault("search.attempt_timeout_secs", 20)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_secs", 60)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.stats_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required for postgres (VEHICLE_STORE_DATABASE_URL)")
	}
	switch c.Secrets.Source {
	case "config":
	case "postgres":
		if c.Store.Driver != "postgres" {
			return eris.New("config: secrets.source=postgres requires store.driver=postgres")
		}
	default:
		return eris.Errorf("config: unsupported secrets source %q", c.Secrets.Source)
	}
	if c.Cache.ActiveTTLDays <= 0 || c.Cache.HistoricalTTLDays <= 0 {
		return eris.New("config: cache TTL days must be positive")
	}
	if c.Search.DefaultRadius <= 0 || c.Search.DefaultRadius > c.Search.MaxRadius {
		return eris.Errorf("config: search.default_radius must be within 1..%d", c.Search.MaxRadius)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
