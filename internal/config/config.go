// Package config loads and exposes application configuration (TOML + environment).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath         = "config.toml"
	DefaultHTTPAddr           = ":8080"
	DefaultPGHost             = "127.0.0.1"
	DefaultPGPort             = 5432
	DefaultPGUser             = "postgres"
	DefaultPGDatabase         = "helpdesk"
	DefaultPGSSLMode          = "disable"
	DefaultRabbitExchange     = "helpdesk.events"
	DefaultQueueBroker        = "postgres"
	DefaultQueueConcurrency   = 200
	DefaultQueuePollInterval  = time.Second
	DefaultStalledTimeout     = 5 * time.Minute
	DefaultTelegramEndpoint   = "https://api.telegram.org/bot%s/%s"
	DefaultMetaGraphURL       = "https://graph.facebook.com/v20.0"
	DefaultWebhookTimeout     = 15 * time.Second
	DefaultDaysToClose        = 3
	DefaultCloseSweepCron     = "0 3 * * *"
	DefaultSettingsCacheTTL   = time.Minute
	DefaultSessionRefresh     = 30 * time.Second
	DefaultChatbotInactiveMin = 30
)

// Config is the root application configuration.
type Config struct {
	Log      LogConfig      `toml:"log" envPrefix:"LOG_"`
	Server   ServerConfig   `toml:"server" envPrefix:"SERVER_"`
	Postgres PostgresConfig `toml:"postgres" envPrefix:"POSTGRES_"`
	RabbitMQ RabbitMQConfig `toml:"rabbitmq" envPrefix:"RABBITMQ_"`
	Queue    QueueConfig    `toml:"queue" envPrefix:"QUEUE_"`
	Channels ChannelsConfig `toml:"channels" envPrefix:"CHANNELS_"`
	Helpdesk HelpdeskConfig `toml:"helpdesk" envPrefix:"HELPDESK_"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr" env:"ADDR"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host" env:"HOST"`
	Port     int    `toml:"port" env:"PORT"`
	User     string `toml:"user" env:"USER"`
	Password string `toml:"password" env:"PASSWORD"`
	Database string `toml:"database" env:"DATABASE"`
	SSLMode  string `toml:"sslmode" env:"SSLMODE"`
}

// RabbitMQConfig enables cross-process event fan-out. An empty URL keeps events in-process.
type RabbitMQConfig struct {
	URL      string `toml:"url" env:"URL"`
	Exchange string `toml:"exchange" env:"EXCHANGE"`
}

// Enabled reports whether a broker URL is configured.
func (c RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

// QueueConfig configures the background job runner.
type QueueConfig struct {
	// Broker is "postgres" (durable, multi-process) or "memory" (single process).
	Broker             string        `toml:"broker" env:"BROKER"`
	DefaultConcurrency int           `toml:"default_concurrency" env:"DEFAULT_CONCURRENCY"`
	PollInterval       time.Duration `toml:"poll_interval" env:"POLL_INTERVAL"`
	StalledTimeout     time.Duration `toml:"stalled_timeout" env:"STALLED_TIMEOUT"`
	// AdvisoryLocks adds a Postgres advisory lock to the per-tenant send guard.
	AdvisoryLocks bool `toml:"advisory_locks" env:"ADVISORY_LOCKS"`
}

// ChannelsConfig holds platform endpoints for the channel adapters.
type ChannelsConfig struct {
	TelegramEndpoint string        `toml:"telegram_endpoint" env:"TELEGRAM_ENDPOINT"`
	MetaGraphURL     string        `toml:"meta_graph_url" env:"META_GRAPH_URL"`
	MetaVerifyToken  string        `toml:"meta_verify_token" env:"META_VERIFY_TOKEN"`
	WebhookTimeout   time.Duration `toml:"webhook_timeout" env:"WEBHOOK_TIMEOUT"`
	SessionRefresh   time.Duration `toml:"session_refresh" env:"SESSION_REFRESH"`
}

// HelpdeskConfig holds tenant-independent defaults for the ticket lifecycle.
type HelpdeskConfig struct {
	DefaultDaysToClose        int           `toml:"default_days_to_close" env:"DEFAULT_DAYS_TO_CLOSE"`
	DefaultChatbotInactiveMin int           `toml:"default_chatbot_inactive_minutes" env:"DEFAULT_CHATBOT_INACTIVE_MINUTES"`
	CloseSweepCron            string        `toml:"close_sweep_cron" env:"CLOSE_SWEEP_CRON"`
	SettingsCacheTTL          time.Duration `toml:"settings_cache_ttl" env:"SETTINGS_CACHE_TTL"`
}

// Defaults returns the configuration used when no file or environment overrides exist.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange: DefaultRabbitExchange,
		},
		Queue: QueueConfig{
			Broker:             DefaultQueueBroker,
			DefaultConcurrency: DefaultQueueConcurrency,
			PollInterval:       DefaultQueuePollInterval,
			StalledTimeout:     DefaultStalledTimeout,
		},
		Channels: ChannelsConfig{
			TelegramEndpoint: DefaultTelegramEndpoint,
			MetaGraphURL:     DefaultMetaGraphURL,
			WebhookTimeout:   DefaultWebhookTimeout,
			SessionRefresh:   DefaultSessionRefresh,
		},
		Helpdesk: HelpdeskConfig{
			DefaultDaysToClose:        DefaultDaysToClose,
			DefaultChatbotInactiveMin: DefaultChatbotInactiveMin,
			CloseSweepCron:            DefaultCloseSweepCron,
			SettingsCacheTTL:          DefaultSettingsCacheTTL,
		},
	}
}

// Load reads the TOML config file at path, applies defaults for missing fields,
// then applies HELPDESK_* environment overrides (a .env file next to the process is honoured).
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "HELPDESK_"}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects values the lifecycle core cannot run with.
func (c Config) Validate() error {
	if c.Helpdesk.DefaultDaysToClose <= 0 {
		return fmt.Errorf("helpdesk.default_days_to_close must be > 0, got %d", c.Helpdesk.DefaultDaysToClose)
	}
	switch c.Queue.Broker {
	case "postgres", "memory":
	default:
		return fmt.Errorf("queue.broker must be postgres or memory, got %q", c.Queue.Broker)
	}
	if c.Queue.DefaultConcurrency <= 0 {
		return fmt.Errorf("queue.default_concurrency must be > 0")
	}
	return nil
}
