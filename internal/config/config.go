package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment override, e.g. TOWNMAP_SHEET_URL.
const EnvPrefix = "TOWNMAP"

// Config holds the full application configuration.
type Config struct {
	Sheet      SheetConfig      `yaml:"sheet" mapstructure:"sheet"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Publish    PublishConfig    `yaml:"publish" mapstructure:"publish"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// SheetConfig describes the published spreadsheet export and how it is polled.
type SheetConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	Format         string `yaml:"format" mapstructure:"format"`
	PollIntervalMs int    `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	// TimeoutSecs bounds a single download. Zero means no timeout.
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	ColumnsFile string `yaml:"columns_file" mapstructure:"columns_file"`
	SheetName   string `yaml:"sheet_name" mapstructure:"sheet_name"`
}

// StoreConfig configures cycle history and snapshot persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "none", "memory", "sqlite", "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
	// RetentionHours bounds cycle history. Zero keeps everything.
	RetentionHours int `yaml:"retention_hours" mapstructure:"retention_hours"`
}

// Enabled reports whether a persistent store is configured.
func (s StoreConfig) Enabled() bool {
	return s.Driver != "" && s.Driver != "none"
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PublishConfig configures out-of-process update notifications.
type PublishConfig struct {
	RedisAddr     string   `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string   `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int      `yaml:"redis_db" mapstructure:"redis_db"`
	RedisChannel  string   `yaml:"redis_channel" mapstructure:"redis_channel"`
	KafkaBrokers  []string `yaml:"kafka_brokers" mapstructure:"kafka_brokers"`
	KafkaTopic    string   `yaml:"kafka_topic" mapstructure:"kafka_topic"`
}

// ArchiveConfig configures the raw export archive bucket.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Region    string `yaml:"region" mapstructure:"region"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// Enabled reports whether archiving is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != "" && a.Bucket != ""
}

// MonitoringConfig configures failure alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ConsecutiveFailures  int     `yaml:"consecutive_failures" mapstructure:"consecutive_failures"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StaleAfterMinutes    int     `yaml:"stale_after_minutes" mapstructure:"stale_after_minutes"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("sheet.url", "")
	v.SetDefault("sheet.format", "csv")
	v.SetDefault("sheet.poll_interval_ms", 5000)
	v.SetDefault("sheet.timeout_secs", 0)
	v.SetDefault("sheet.max_retries", 3)
	v.SetDefault("sheet.user_agent", "townmap/1.0")
	v.SetDefault("sheet.columns_file", "")
	v.SetDefault("sheet.sheet_name", "")
	v.SetDefault("store.driver", "none")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.retention_hours", 168)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("publish.redis_addr", "")
	v.SetDefault("publish.redis_password", "")
	v.SetDefault("publish.redis_db", 0)
	v.SetDefault("publish.redis_channel", "townmap:updates")
	v.SetDefault("publish.kafka_brokers", []string{})
	v.SetDefault("publish.kafka_topic", "townmap.updates")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.use_ssl", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.consecutive_failures", 3)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.stale_after_minutes", 60)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)

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

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch mode {
	case "serve", "sync":
		if c.Sheet.URL == "" {
			missing = append(missing, "sheet.url")
		}
		if c.Sheet.PollIntervalMs < 0 {
			return eris.Errorf("config: sheet.poll_interval_ms must be >= 0, got %d", c.Sheet.PollIntervalMs)
		}
		if c.Sheet.MaxRetries < 0 {
			return eris.Errorf("config: sheet.max_retries must be >= 0, got %d", c.Sheet.MaxRetries)
		}
		if c.Sheet.TimeoutSecs < 0 {
			return eris.Errorf("config: sheet.timeout_secs must be >= 0, got %d", c.Sheet.TimeoutSecs)
		}
		switch c.Sheet.Format {
		case "", "csv", "xlsx":
		default:
			return eris.Errorf("config: sheet.format must be csv or xlsx, got %q", c.Sheet.Format)
		}
		if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
			return eris.Errorf("config: server.port must be 1-65535, got %d", c.Server.Port)
		}
	case "history":
		if !c.Store.Enabled() {
			return eris.New("config: history requires store.driver (memory, sqlite or postgres)")
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	switch c.Store.Driver {
	case "", "none", "memory":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url")
		}
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}

	if c.Store.RetentionHours < 0 {
		return eris.Errorf("config: store.retention_hours must be >= 0, got %d", c.Store.RetentionHours)
	}
	if c.Store.RetentionHours > 0 && c.Store.RetentionHours < c.Monitoring.LookbackWindowHours {
		return eris.Errorf("config: store.retention_hours (%d) must cover monitoring.lookback_window_hours (%d)",
			c.Store.RetentionHours, c.Monitoring.LookbackWindowHours)
	}
	if c.Monitoring.ConsecutiveFailures < 0 {
		return eris.Errorf("config: monitoring.consecutive_failures must be >= 0, got %d", c.Monitoring.ConsecutiveFailures)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required fields for %s: %s", mode, strings.Join(missing, ", "))
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
