package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "gpt-4o-mini", cfg.Provider.Model)
	assert.Equal(t, 5*time.Minute, cfg.Engine.LevelTimeout)
	assert.False(t, cfg.Production())
}

func TestLoader_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "levelflow.yaml")
	yaml := `
environment: production
server:
  addr: ":9090"
storage:
  type: sqlite
  dsn: /var/lib/levelflow/data.db
provider:
  model: gpt-4o
auth:
  jwt_secret: test-secret
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, EnvProduction, cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "/var/lib/levelflow/data.db", cfg.Storage.DSN)
	assert.Equal(t, "gpt-4o", cfg.Provider.Model)
	// 文件未覆盖的字段保持默认值
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/no/such/file.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("LEVELFLOW_SERVER_ADDR", ":7070")
	t.Setenv("LEVELFLOW_STORAGE_TYPE", "redis")
	t.Setenv("LEVELFLOW_ENGINE_LEVEL_TIMEOUT", "90s")
	t.Setenv("LEVELFLOW_RATE_LIMIT_RPS", "25.5")
	t.Setenv("LEVELFLOW_HEALTH_ENABLED", "false")
	t.Setenv("LEVELFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/levelflow.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, 90*time.Second, cfg.Engine.LevelTimeout)
	assert.Equal(t, 25.5, cfg.RateLimit.RPS)
	assert.False(t, cfg.Health.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/levelflow.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "levelflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0o600))

	t.Setenv("LEVELFLOW_SERVER_ADDR", ":6060")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.Server.Addr)
}

func TestLoader_InvalidConfig(t *testing.T) {
	t.Setenv("LEVELFLOW_STORAGE_TYPE", "etcd")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage type")
}

func TestLoader_CustomValidator(t *testing.T) {
	called := false
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			called = true
			return nil
		}).
		Load()
	require.NoError(t, err)
	assert.True(t, called)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default is valid", func(c *Config) {}, ""},
		{"bad environment", func(c *Config) { c.Environment = "staging" }, "unknown environment"},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server addr is required"},
		{"bad rate limit", func(c *Config) { c.RateLimit.RPS = 0 }, "rps must be positive"},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry.Enabled = true }, "otlp_endpoint"},
		{"production requires jwt secret", func(c *Config) { c.Environment = EnvProduction }, "jwt_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_HealthMonitorEnabled(t *testing.T) {
	tests := []struct {
		name    string
		env     Environment
		enabled bool
		want    bool
	}{
		{"production enabled", EnvProduction, true, true},
		{"production disabled", EnvProduction, false, false},
		{"development never monitors", EnvDevelopment, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Environment = tt.env
			cfg.Health.Enabled = tt.enabled
			assert.Equal(t, tt.want, cfg.HealthMonitorEnabled())
		})
	}
}

func TestStorageConfig_BuildDSN(t *testing.T) {
	tests := []struct {
		name   string
		config StorageConfig
		want   string
	}{
		{
			"explicit dsn wins",
			StorageConfig{Type: "postgres", DSN: "postgres://u@h/db"},
			"postgres://u@h/db",
		},
		{
			"postgres from fields",
			StorageConfig{Type: "postgres", Host: "db", Port: 5432, User: "lf", Password: "pw", Name: "levelflow"},
			"host=db port=5432 user=lf password=pw dbname=levelflow sslmode=disable",
		},
		{
			"mysql from fields",
			StorageConfig{Type: "mysql", Host: "db", Port: 3306, User: "lf", Password: "pw", Name: "levelflow"},
			"lf:pw@tcp(db:3306)/levelflow?parseTime=true",
		},
		{
			"sqlite defaults to memory",
			StorageConfig{Type: "sqlite"},
			":memory:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.BuildDSN())
		})
	}
}
