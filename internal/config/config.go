// Package config loads seqflow settings from defaults, an optional YAML
// file, a .env file and SEQFLOW_* environment variables, in increasing
// order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "SEQFLOW"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Relays   RelayConfig    `mapstructure:"relays"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Redis    RedisConfig    `mapstructure:"redis"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // memory, postgres or sqlite
	URL    string `mapstructure:"url"`
}

// RelayConfig holds the webhook relay endpoint of each outbound action.
type RelayConfig struct {
	Research string `mapstructure:"research"`
	Text     string `mapstructure:"text"`
	Email    string `mapstructure:"email"`
	Slack    string `mapstructure:"slack"`
	Discord  string `mapstructure:"discord"`
}

type DefaultsConfig struct {
	SlackChannel   string `mapstructure:"slack_channel"`
	DiscordChannel string `mapstructure:"discord_channel"`
	ResearchQuery  string `mapstructure:"research_query"`
	OutputFormat   string `mapstructure:"output_format"`
	OutputLength   string `mapstructure:"output_length"`
}

type DispatchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

type RunnerConfig struct {
	Ordering string `mapstructure:"ordering"` // index or position
}

type WorkersConfig struct {
	Count     int `mapstructure:"count"`
	QueueSize int `mapstructure:"queue_size"`
}

// RedisConfig enables execution event publishing when URL is set.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

// LLMConfig switches research steps to a language model when Provider is set.
type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// DiscordConfig switches Discord delivery to a bot session when BotToken is set.
type DiscordConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_grace", 10*time.Second)
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.url", "")
	v.SetDefault("relays.research", "")
	v.SetDefault("relays.text", "")
	v.SetDefault("relays.email", "")
	v.SetDefault("relays.slack", "")
	v.SetDefault("relays.discord", "")
	v.SetDefault("defaults.slack_channel", "#general")
	v.SetDefault("defaults.discord_channel", "general")
	v.SetDefault("defaults.research_query", "Latest industry news and trends")
	v.SetDefault("defaults.output_format", "summary")
	v.SetDefault("defaults.output_length", "medium")
	v.SetDefault("dispatch.timeout", 30*time.Second)
	v.SetDefault("dispatch.rate_per_second", 0)
	v.SetDefault("dispatch.burst", 1)
	v.SetDefault("runner.ordering", "index")
	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.queue_size", 64)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", "seqflow:executions")
	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("discord.bot_token", "")
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "text")
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are consulted.
func Load(path string) (*Config, error) {
	// .env is optional
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, errors.Wrap(err, "load .env")
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if cfg.Database.URL == "" && cfg.Database.Driver == "postgres" {
		cfg.Database.URL = postgresURLFromEnv()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Database.URL == "" {
			return errors.Errorf("database.url is required for driver %s", c.Database.Driver)
		}
	default:
		return errors.Errorf("unsupported database driver %q (memory, postgres, sqlite)", c.Database.Driver)
	}
	switch c.Runner.Ordering {
	case "", "index", "order", "position":
	default:
		return errors.Errorf("unsupported runner ordering %q (index, position)", c.Runner.Ordering)
	}
	if c.Dispatch.Timeout < 0 {
		return errors.New("dispatch.timeout cannot be negative")
	}
	if c.Workers.Count < 0 || c.Workers.QueueSize < 0 {
		return errors.New("workers.count and workers.queue_size cannot be negative")
	}
	if c.LLM.Provider != "" && c.LLM.Provider != "openai" {
		return errors.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}
	return nil
}

// postgresURLFromEnv builds a connection string from the DB_* variables.
func postgresURLFromEnv() string {
	user, password := os.Getenv("DB_USERNAME"), os.Getenv("DB_PASSWORD")
	host, port, name := os.Getenv("DB_HOST"), os.Getenv("DB_PORT"), os.Getenv("DB_NAME")
	if user == "" || host == "" || name == "" {
		return ""
	}
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
}
