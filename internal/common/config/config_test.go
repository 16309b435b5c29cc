package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 39512, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:39512", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeoutDuration())
	assert.Equal(t, "./ccsched.db", cfg.Database.Path)
	assert.Equal(t, "claude", cfg.Agent.ClaudePath)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.TickIntervalDuration())
	assert.Equal(t, 3, cfg.Scheduler.MaxVerifications)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CCSCHED_SERVER_PORT", "8099")
	t.Setenv("CCSCHED_DATABASE_PATH", "/var/lib/ccsched/tasks.db")
	t.Setenv("CLAUDE_PATH", "/opt/claude/bin/claude")
	t.Setenv("CCSCHED_LOGGING_LEVEL", "debug")

	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8099, cfg.Server.Port)
	assert.Equal(t, "/var/lib/ccsched/tasks.db", cfg.Database.Path)
	assert.Equal(t, "/opt/claude/bin/claude", cfg.Agent.ClaudePath)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
server:
  port: 9001
scheduler:
  tickInterval: 1
agent:
  claudePath: /usr/local/bin/claude
  extraEnv:
    ANTHROPIC_MODEL: claude-opus
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Scheduler.TickInterval)
	assert.Equal(t, "/usr/local/bin/claude", cfg.Agent.ClaudePath)
	assert.Equal(t, "claude-opus", cfg.Agent.ExtraEnv["ANTHROPIC_MODEL"])
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "missing claude path",
			mutate:  func(c *Config) { c.Agent.ClaudePath = "" },
			wantErr: "agent.claudePath",
		},
		{
			name:    "zero tick interval",
			mutate:  func(c *Config) { c.Scheduler.TickInterval = 0 },
			wantErr: "scheduler.tickInterval",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadWithPath(t.TempDir())
			require.NoError(t, err)

			tt.mutate(cfg)
			err = validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDetectDefaultLogFormat(t *testing.T) {
	t.Setenv("CCSCHED_ENV", "production")
	assert.Equal(t, "json", detectDefaultLogFormat())

	t.Setenv("CCSCHED_ENV", "")
	assert.Equal(t, "text", detectDefaultLogFormat())
}
