package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Wikipedia WikipediaConfig `yaml:"wikipedia" mapstructure:"wikipedia"`
	Yahoo     YahooConfig     `yaml:"yahoo" mapstructure:"yahoo"`
	Browser   BrowserConfig   `yaml:"browser" mapstructure:"browser"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Resolve   ResolveConfig   `yaml:"resolve" mapstructure:"resolve"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the document store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // mongo, postgres, sqlite
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Database    string `yaml:"database" mapstructure:"database"`
	Collection  string `yaml:"collection" mapstructure:"collection"`
}

// WikipediaConfig holds MediaWiki API settings for the primary lookup.
type WikipediaConfig struct {
	APIURL    string  `yaml:"api_url" mapstructure:"api_url"`
	UserAgent string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// YahooConfig holds the financial-data source settings.
type YahooConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	CookieURL string  `yaml:"cookie_url" mapstructure:"cookie_url"`
	UserAgent string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// BrowserConfig configures the headless browser used by the search worker.
type BrowserConfig struct {
	Bin                string `yaml:"bin" mapstructure:"bin"`
	Headless           bool   `yaml:"headless" mapstructure:"headless"`
	ProfileDir         string `yaml:"profile_dir" mapstructure:"profile_dir"`
	UserAgent          string `yaml:"user_agent" mapstructure:"user_agent"`
	PageLoadTimeoutSec int    `yaml:"page_load_timeout_secs" mapstructure:"page_load_timeout_secs"`
	ImplicitWaitSec    int    `yaml:"implicit_wait_secs" mapstructure:"implicit_wait_secs"`
}

// PageLoadTimeout returns the per-navigation timeout.
func (c BrowserConfig) PageLoadTimeout() time.Duration {
	return time.Duration(c.PageLoadTimeoutSec) * time.Second
}

// ImplicitWait returns how long element lookups wait for a match.
func (c BrowserConfig) ImplicitWait() time.Duration {
	return time.Duration(c.ImplicitWaitSec) * time.Second
}

// SearchConfig configures the search-engine fallback and its worker process.
type SearchConfig struct {
	Engine          string `yaml:"engine" mapstructure:"engine"`
	Retries         int    `yaml:"retries" mapstructure:"retries"`
	RetryDelayMs    int    `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	DeadlineSecs    int    `yaml:"deadline_secs" mapstructure:"deadline_secs"`
	GraceSecs       int    `yaml:"grace_secs" mapstructure:"grace_secs"`
	BreakerFailures int    `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSec int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ResolveConfig configures the batch orchestrator.
type ResolveConfig struct {
	BatchSize     int  `yaml:"batch_size" mapstructure:"batch_size"`
	RecordDelayMs int  `yaml:"record_delay_ms" mapstructure:"record_delay_ms"`
	SkipSearch    bool `yaml:"skip_search" mapstructure:"skip_search"`
	SkipFinancial bool `yaml:"skip_financial" mapstructure:"skip_financial"`
}

// ServerConfig configures the read-only status server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MetricsConfig configures the optional Prometheus listener during runs.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
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
	v.SetEnvPrefix("RESOLVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "mongo")
	v.SetDefault("store.database_url", "mongodb://localhost:27017")
	v.SetDefault("store.database", "Project3")
	v.SetDefault("store.collection", "PortfolioIntelligence")
	v.SetDefault("wikipedia.api_url", "https://en.wikipedia.org/w/api.php")
	v.SetDefault("wikipedia.user_agent", "profile-resolver/1.0 (company profile research)")
	v.SetDefault("wikipedia.rate_limit", 5.0)
	v.SetDefault("yahoo.base_url", "https://query2.finance.yahoo.com")
	v.SetDefault("yahoo.cookie_url", "https://fc.yahoo.com")
	v.SetDefault("yahoo.user_agent", "Mozilla/5.0")
	v.SetDefault("yahoo.rate_limit", 2.0)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0")
	v.SetDefault("browser.page_load_timeout_secs", 12)
	v.SetDefault("browser.implicit_wait_secs", 2)
	v.SetDefault("search.engine", "https://www.bing.com/search")
	v.SetDefault("search.retries", 2)
	v.SetDefault("search.retry_delay_ms", 500)
	v.SetDefault("search.deadline_secs", 45)
	v.SetDefault("search.grace_secs", 2)
	v.SetDefault("search.breaker_failures", 3)
	v.SetDefault("search.breaker_reset_secs", 300)
	v.SetDefault("resolve.batch_size", 150)
	v.SetDefault("resolve.record_delay_ms", 1500)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
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

// Validate checks the values a batch run cannot do without.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "mongo":
		if c.Store.Database == "" || c.Store.Collection == "" {
			return eris.New("config: store.database and store.collection are required for mongo")
		}
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" && c.Store.Driver != "sqlite" {
		return eris.New("config: store.database_url is required (RESOLVER_STORE_DATABASE_URL)")
	}
	if c.Resolve.BatchSize <= 0 {
		return eris.New("config: resolve.batch_size must be positive")
	}
	if c.Search.DeadlineSecs <= 0 {
		return eris.New("config: search.deadline_secs must be positive")
	}
	if c.Search.Retries <= 0 {
		return eris.New("config: search.retries must be positive")
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

// InitWorkerLogger initializes logging for a search-worker process. Output
// goes to stderr with a console encoder so the parent can relay it line by
// line; stdout is reserved for the result message.
func InitWorkerLogger(cfg LogConfig) error {
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	zapCfg.EncoderConfig.TimeKey = ""
	zapCfg.DisableStacktrace = true

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build worker logger")
	}
	zap.ReplaceGlobals(logger.Named("search-worker"))
	return nil
}
