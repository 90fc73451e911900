package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig      `yaml:"store" mapstructure:"store"`
	Fetch       FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Thresholds  Thresholds       `yaml:"thresholds" mapstructure:"thresholds"`
	Pipeline    PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Select      SelectConfig     `yaml:"select" mapstructure:"select"`
	Anthropic   AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Server      ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig        `yaml:"log" mapstructure:"log"`
	ProfilePath string           `yaml:"profile_path" mapstructure:"profile_path"`
	SeedsPath   string           `yaml:"seeds_path" mapstructure:"seeds_path"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FetchConfig configures the HTTP fetcher and page cache.
type FetchConfig struct {
	UserAgent       string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries      int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerDomain   float64 `yaml:"rate_per_domain" mapstructure:"rate_per_domain"`
	Burst           int     `yaml:"burst" mapstructure:"burst"`
	MaxInFlight     int     `yaml:"max_in_flight" mapstructure:"max_in_flight"`
	MaxBodyBytes    int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	CacheTTLHours   int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	PersistentCache bool    `yaml:"persistent_cache" mapstructure:"persistent_cache"`
}

// PipelineConfig configures orchestration limits.
type PipelineConfig struct {
	MaxConcurrentDomains int `yaml:"max_concurrent_domains" mapstructure:"max_concurrent_domains"`
	MaxProfilesPerDomain int `yaml:"max_profiles_per_domain" mapstructure:"max_profiles_per_domain"`
	ProfileWorkers       int `yaml:"profile_workers" mapstructure:"profile_workers"`
	DirectoryTimeoutSecs int `yaml:"directory_timeout_secs" mapstructure:"directory_timeout_secs"`
	PersistMaxAttempts   int `yaml:"persist_max_attempts" mapstructure:"persist_max_attempts"`
}

// SelectConfig configures final top-N selection.
type SelectConfig struct {
	Target            int `yaml:"target" mapstructure:"target"`
	MaxPerInstitution int `yaml:"max_per_institution" mapstructure:"max_per_institution"`
	MinInstitutions   int `yaml:"min_institutions" mapstructure:"min_institutions"`
	QueryLimit        int `yaml:"query_limit" mapstructure:"query_limit"`
}

// AnthropicConfig holds Anthropic API settings for the relevance summarizer.
type AnthropicConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	Model            string `yaml:"model" mapstructure:"model"`
	MaxTokens        int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxInputChars    int    `yaml:"max_input_chars" mapstructure:"max_input_chars"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int    `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures recall-loss alerting over recent runs.
type MonitoringConfig struct {
	Enabled             bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	// MinCandidates is the candidate volume below which rate alerts stay quiet.
	MinCandidates        int     `yaml:"min_candidates" mapstructure:"min_candidates"`
	FetchFailureRate     float64 `yaml:"fetch_failure_rate" mapstructure:"fetch_failure_rate"`
	DropReasonShare      float64 `yaml:"drop_reason_share" mapstructure:"drop_reason_share"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables take precedence.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SUPERVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "supervisors.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("profile_path", "profile.yaml")
	v.SetDefault("seeds_path", "seeds.yaml")

	v.SetDefault("fetch.user_agent", "supervisor-finder/1.0 (+academic research crawler)")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_domain", 1.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.max_in_flight", 5)
	v.SetDefault("fetch.max_body_bytes", 2<<20)
	v.SetDefault("fetch.cache_ttl_hours", 7*24)
	v.SetDefault("fetch.persistent_cache", true)

	v.SetDefault("pipeline.max_concurrent_domains", 5)
	v.SetDefault("pipeline.max_profiles_per_domain", 30)
	v.SetDefault("pipeline.profile_workers", 5)
	v.SetDefault("pipeline.directory_timeout_secs", 120)
	v.SetDefault("pipeline.persist_max_attempts", 3)

	v.SetDefault("select.target", 100)
	v.SetDefault("select.max_per_institution", 10)
	v.SetDefault("select.min_institutions", 0)
	v.SetDefault("select.query_limit", 1000)

	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("anthropic.max_input_chars", 4000)
	v.SetDefault("anthropic.failure_threshold", 5)
	v.SetDefault("anthropic.reset_timeout_secs", 60)

	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.min_candidates", 50)
	v.SetDefault("monitoring.fetch_failure_rate", 0.5)
	v.SetDefault("monitoring.drop_reason_share", 0.4)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)

	d := DefaultThresholds()
	v.SetDefault("thresholds.min_profile_links", d.MinProfileLinks)
	v.SetDefault("thresholds.conservative_profile_links", d.ConservativeProfileLinks)
	v.SetDefault("thresholds.max_pagination_pages", d.MaxPaginationPages)
	v.SetDefault("thresholds.min_text_length", d.MinTextLength)
	v.SetDefault("thresholds.min_text_length_profile_id", d.MinTextLengthProfileID)
	v.SetDefault("thresholds.min_name_length", d.MinNameLength)
	v.SetDefault("thresholds.min_institution_length", d.MinInstitutionLength)
	v.SetDefault("thresholds.min_fit_score", d.MinFitScore)
	v.SetDefault("thresholds.pi_min_fit_score", d.PIMinFitScore)
	v.SetDefault("thresholds.max_publication_links", d.MaxPublicationLinks)
	v.SetDefault("thresholds.core_weight", d.CoreWeight)
	v.SetDefault("thresholds.core_cap", d.CoreCap)
	v.SetDefault("thresholds.adjacent_weight", d.AdjacentWeight)
	v.SetDefault("thresholds.adjacent_cap", d.AdjacentCap)
	v.SetDefault("thresholds.email_bonus", d.EmailBonus)
	v.SetDefault("thresholds.high_confidence_bonus", d.HighConfidenceBonus)
	v.SetDefault("thresholds.core_tier_score", d.CoreTierScore)
	v.SetDefault("thresholds.adjacent_tier_score", d.AdjacentTierScore)
	v.SetDefault("thresholds.select_min_fit_score", d.SelectMinFitScore)
	v.SetDefault("thresholds.select_pi_min_fit_score", d.SelectPIMinFitScore)
}

// Validate checks the configuration required by the given command mode
// ("run", "select" or "serve") and returns all problems at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Select.Target <= 0 {
		errs = append(errs, "select.target must be > 0")
	}
	if c.Select.MaxPerInstitution < 0 {
		errs = append(errs, "select.max_per_institution must be >= 0")
	}
	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	switch mode {
	case "run":
		if c.SeedsPath == "" {
			errs = append(errs, "seeds_path is required")
		}
		if c.Fetch.RatePerDomain <= 0 {
			errs = append(errs, "fetch.rate_per_domain must be > 0")
		}
		if c.Fetch.MaxInFlight < 1 || c.Fetch.MaxInFlight > 50 {
			errs = append(errs, "fetch.max_in_flight must be between 1 and 50")
		}
		if c.Pipeline.MaxConcurrentDomains < 1 || c.Pipeline.MaxConcurrentDomains > 50 {
			errs = append(errs, "pipeline.max_concurrent_domains must be between 1 and 50")
		}
	case "select":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		errs = append(errs, "unknown mode "+mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
