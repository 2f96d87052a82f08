package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"marketwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	History   HistoryConfig   `mapstructure:"history"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN runs
// the service on the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// GatewayConfig captures upstream price gateway connectivity.
type GatewayConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// SyncConfig governs the refresh cycle.
type SyncConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	RetryCount    int           `mapstructure:"retry_count"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
}

// AlertingConfig defines evaluation cadence and delivery routing.
type AlertingConfig struct {
	EvalInterval time.Duration  `mapstructure:"eval_interval"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery transport.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// BroadcastConfig governs the summary scheduler and the singleton global
// channel destination.
type BroadcastConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	GlobalChatID   int64         `mapstructure:"global_chat_id"`
	GlobalInterval time.Duration `mapstructure:"global_interval"`
}

// HistoryConfig sets price history persistence behaviour.
type HistoryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Retention time.Duration `mapstructure:"retention"`
}

// MetricsConfig exposes the optional Prometheus listener.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("gateway.request_timeout", "15s")
	v.SetDefault("gateway.user_agent", "marketwatch/1.0")
	v.SetDefault("gateway.requests_per_second", 2.0)

	v.SetDefault("sync.interval", "15m")
	v.SetDefault("sync.align_to_bucket", true)
	v.SetDefault("sync.startup_delay", "0s")
	v.SetDefault("sync.retry_count", 3)
	v.SetDefault("sync.backoff_base", "2s")

	v.SetDefault("alerting.eval_interval", "60s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("broadcast.tick_interval", "60s")
	v.SetDefault("broadcast.global_chat_id", int64(0))
	v.SetDefault("broadcast.global_interval", "1h")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.retention", "720h")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be greater than zero")
	}
	if c.Sync.RetryCount <= 0 {
		return fmt.Errorf("sync.retry_count must be greater than zero")
	}
	if c.Sync.BackoffBase < 0 {
		return fmt.Errorf("sync.backoff_base cannot be negative")
	}
	if c.Alerting.EvalInterval <= 0 {
		return fmt.Errorf("alerting.eval_interval must be greater than zero")
	}
	if c.Broadcast.TickInterval <= 0 {
		return fmt.Errorf("broadcast.tick_interval must be greater than zero")
	}
	if c.Broadcast.GlobalChatID != 0 && c.Broadcast.GlobalInterval <= 0 {
		return fmt.Errorf("broadcast.global_interval must be greater than zero when a global chat is set")
	}
	if c.History.Enabled && c.History.Retention <= 0 {
		return fmt.Errorf("history.retention must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
