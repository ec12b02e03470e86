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
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Executor ExecutorConfig `yaml:"executor" mapstructure:"executor"`
	Breaker  BreakerConfig  `yaml:"breaker" mapstructure:"breaker"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Anomaly  AnomalyConfig  `yaml:"anomaly" mapstructure:"anomaly"`
	Fraud    FraudConfig    `yaml:"fraud" mapstructure:"fraud"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// RegistryConfig configures the data source catalog.
type RegistryConfig struct {
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// ExecutorConfig configures federation execution.
type ExecutorConfig struct {
	MaxConcurrent      int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RetryAttempts      int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	StageTimeoutSecs   int `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	OverallTimeoutSecs int `yaml:"overall_timeout_secs" mapstructure:"overall_timeout_secs"`
}

// StageTimeout returns the per-stage timeout as a duration.
func (c ExecutorConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSecs) * time.Second
}

// OverallTimeout returns the investigation-level timeout as a duration.
func (c ExecutorConfig) OverallTimeout() time.Duration {
	return time.Duration(c.OverallTimeoutSecs) * time.Second
}

// BreakerConfig configures circuit breakers, shared across investigations.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CoolDownSecs     int `yaml:"cool_down_secs" mapstructure:"cool_down_secs"`
}

// CoolDown returns the breaker cool-down as a duration.
func (c BreakerConfig) CoolDown() time.Duration {
	return time.Duration(c.CoolDownSecs) * time.Second
}

// CacheConfig configures the response cache backend.
type CacheConfig struct {
	Backend     string `yaml:"backend" mapstructure:"backend"` // memory, sqlite, postgres, off
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	FastSecs    int    `yaml:"fast_secs" mapstructure:"fast_secs"`
	StandardSec int    `yaml:"standard_secs" mapstructure:"standard_secs"`
	DurableSecs int    `yaml:"durable_secs" mapstructure:"durable_secs"`
}

// AnomalyConfig configures detection thresholds.
type AnomalyConfig struct {
	DeviationSigma      float64 `yaml:"deviation_sigma" mapstructure:"deviation_sigma"`
	ConcentrationShare  float64 `yaml:"concentration_share" mapstructure:"concentration_share"`
	BenfordAlpha        float64 `yaml:"benford_alpha" mapstructure:"benford_alpha"`
	BenfordMinSample    int     `yaml:"benford_min_sample" mapstructure:"benford_min_sample"`
	DuplicateSimilarity float64 `yaml:"duplicate_similarity" mapstructure:"duplicate_similarity"`
}

// FraudConfig configures pattern thresholds.
type FraudConfig struct {
	CartelMinMembers   int     `yaml:"cartel_min_members" mapstructure:"cartel_min_members"`
	CartelSuspicion    float64 `yaml:"cartel_suspicion" mapstructure:"cartel_suspicion"`
	ReportingThreshold float64 `yaml:"reporting_threshold" mapstructure:"reporting_threshold"`
	LayeringHopHours   int     `yaml:"layering_hop_hours" mapstructure:"layering_hop_hours"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the fields required by a run mode.
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func() {
		if c.Executor.MaxConcurrent < 1 || c.Executor.MaxConcurrent > 64 {
			problems = append(problems, "executor.max_concurrent must be between 1 and 64")
		}
		if c.Executor.StageTimeoutSecs <= 0 {
			problems = append(problems, "executor.stage_timeout_secs must be > 0")
		}
		if c.Executor.OverallTimeoutSecs <= 0 {
			problems = append(problems, "executor.overall_timeout_secs must be > 0")
		}
		if c.Breaker.FailureThreshold <= 0 {
			problems = append(problems, "breaker.failure_threshold must be > 0")
		}
		if c.Anomaly.ConcentrationShare <= 0 || c.Anomaly.ConcentrationShare >= 1 {
			problems = append(problems, "anomaly.concentration_share must be in (0,1)")
		}
		if c.Anomaly.BenfordAlpha <= 0 || c.Anomaly.BenfordAlpha >= 1 {
			problems = append(problems, "anomaly.benford_alpha must be in (0,1)")
		}
		switch c.Cache.Backend {
		case "memory", "sqlite", "postgres", "off":
		default:
			problems = append(problems, "cache.backend must be memory, sqlite, postgres, or off")
		}
		if c.Cache.Backend == "postgres" && c.Cache.DatabaseURL == "" {
			problems = append(problems, "cache.database_url is required for the postgres backend")
		}
	}

	switch mode {
	case "investigate", "sources":
		check()
	case "serve":
		check()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FEDPROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("registry.catalog_path", "sources.yaml")
	v.SetDefault("executor.max_concurrent", 8)
	v.SetDefault("executor.retry_attempts", 2)
	v.SetDefault("executor.stage_timeout_secs", 30)
	v.SetDefault("executor.overall_timeout_secs", 300)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cool_down_secs", 60)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.path", "fedprobe-cache.db")
	v.SetDefault("cache.fast_secs", 300)
	v.SetDefault("cache.standard_secs", 3600)
	v.SetDefault("cache.durable_secs", 86400)
	v.SetDefault("anomaly.deviation_sigma", 2.5)
	v.SetDefault("anomaly.concentration_share", 0.70)
	v.SetDefault("anomaly.benford_alpha", 0.05)
	v.SetDefault("anomaly.benford_min_sample", 30)
	v.SetDefault("anomaly.duplicate_similarity", 0.85)
	v.SetDefault("fraud.cartel_min_members", 3)
	v.SetDefault("fraud.cartel_suspicion", 0.5)
	v.SetDefault("fraud.reporting_threshold", 10000)
	v.SetDefault("fraud.layering_hop_hours", 72)
	v.SetDefault("server.port", 8080)
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
