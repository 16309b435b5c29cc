// Package config provides configuration management for ccsched.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for ccsched.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds the embedded database configuration.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `mapstructure:"path"`
}

// AgentConfig holds the Claude Code subprocess configuration.
type AgentConfig struct {
	// ClaudePath is the Claude Code executable. A relative path is resolved
	// against the daemon's working directory before spawning.
	ClaudePath string `mapstructure:"claudePath"`

	// ExtraEnv is appended to the inherited environment of every agent run.
	ExtraEnv map[string]string `mapstructure:"extraEnv"`
}

// SchedulerConfig holds the scheduling loop configuration.
type SchedulerConfig struct {
	TickInterval     int `mapstructure:"tickInterval"`     // in seconds
	QueueSize        int `mapstructure:"queueSize"`        // worker handoff channel capacity
	RateLimitBuffer  int `mapstructure:"rateLimitBuffer"`  // rate-limit channel capacity
	MaxVerifications int `mapstructure:"maxVerifications"` // verification passes per task
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Addr returns the host:port bind address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TickIntervalDuration returns the tick interval as a time.Duration.
func (s *SchedulerConfig) TickIntervalDuration() time.Duration {
	return time.Duration(s.TickInterval) * time.Second
}

// detectDefaultLogFormat returns "json" in production environments and "text"
// for terminal use.
func detectDefaultLogFormat() string {
	if env := os.Getenv("CCSCHED_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 39512)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults
	v.SetDefault("database.path", "./ccsched.db")

	// Agent defaults
	v.SetDefault("agent.claudePath", "claude")

	// Scheduler defaults
	v.SetDefault("scheduler.tickInterval", 5)
	v.SetDefault("scheduler.queueSize", 100)
	v.SetDefault("scheduler.rateLimitBuffer", 10)
	v.SetDefault("scheduler.maxVerifications", 3)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stderr")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CCSCHED_ with underscore naming.
// The config file is config.yaml in the current directory or /etc/ccsched/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CCSCHED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for env vars whose names differ from config keys.
	_ = v.BindEnv("agent.claudePath", "CLAUDE_PATH", "CCSCHED_AGENT_CLAUDE_PATH")
	_ = v.BindEnv("database.path", "CCSCHED_DATABASE_PATH")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ccsched/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if cfg.Agent.ClaudePath == "" {
		errs = append(errs, "agent.claudePath is required")
	}

	if cfg.Scheduler.TickInterval <= 0 {
		errs = append(errs, "scheduler.tickInterval must be positive")
	}
	if cfg.Scheduler.QueueSize <= 0 {
		errs = append(errs, "scheduler.queueSize must be positive")
	}
	if cfg.Scheduler.MaxVerifications <= 0 {
		errs = append(errs, "scheduler.maxVerifications must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
