package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"poolwatcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Labcom    LabcomConfig    `mapstructure:"labcom"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// LabcomConfig covers upstream LabCom Cloud API access.
type LabcomConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Token             string        `mapstructure:"token"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MinRequestSpacing time.Duration `mapstructure:"min_request_spacing"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	UserAgent         string        `mapstructure:"user_agent"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

// SchedulerConfig governs refresh cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. Persistence is
// optional; with an empty DSN the daemon runs memory-only.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// AlertingConfig defines chemistry alert thresholds and routing.
type AlertingConfig struct {
	Enabled             bool           `mapstructure:"enabled"`
	CombinedChlorineMax float64        `mapstructure:"combined_chlorine_max"`
	Cooldown            time.Duration  `mapstructure:"cooldown"`
	Channels            []string       `mapstructure:"channels"`
	Telegram            TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POOLWATCHER")
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
	v.SetDefault("app.name", "poolwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("labcom.base_url", "https://backend.labcom.cloud/graphql")
	v.SetDefault("labcom.request_timeout", "30s")
	v.SetDefault("labcom.min_request_spacing", "60s")
	v.SetDefault("labcom.rate_limit_cooldown", "60s")
	v.SetDefault("labcom.max_attempts", 3)
	v.SetDefault("labcom.user_agent", "poolwatcher/1.0")
	v.SetDefault("labcom.cache_ttl", "30s")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x706f6f6c))

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9135")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.combined_chlorine_max", 0.5)
	v.SetDefault("alerting.cooldown", "6h")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
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
	if c.Labcom.Token == "" {
		return fmt.Errorf("labcom.token is required")
	}
	if c.Labcom.MaxAttempts <= 0 {
		return fmt.Errorf("labcom.max_attempts must be greater than zero")
	}
	if c.Labcom.MinRequestSpacing < 0 {
		return fmt.Errorf("labcom.min_request_spacing cannot be negative")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.CombinedChlorineMax < 0 {
		return fmt.Errorf("alerting.combined_chlorine_max cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
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
