package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("IDENTITY_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("DATABASE_HOST", "localhost")
	t.Setenv("DATABASE_DBNAME", "mocktest")
	t.Setenv("DATABASE_USER", "postgres")
}

func TestLoad_DefaultsFromEnv(t *testing.T) {
	// Arrange
	setRequiredEnv(t)

	// Act
	cfg, err := Load("")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 1, cfg.Exam.FreeMaxAttempts)
	assert.Equal(t, 3, cfg.Exam.PaidMaxAttempts)
	assert.Equal(t, 0.25, cfg.Exam.NegativeMCQ)
	assert.Equal(t, time.Second, cfg.Exam.TickInterval)
	assert.Equal(t, "@every 1m", cfg.Exam.SweepSpec)
	assert.NotEmpty(t, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Email.Enabled)
	assert.Equal(t, "single", cfg.Redis.Mode)
	assert.Equal(t, "mocktest", cfg.Redis.KeyPrefix)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	// Arrange
	setRequiredEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
exam:
  paid_max_attempts: 5
  nat_epsilon: 0.001
  tick_interval: 250ms
  catalog_cache_ttl: 1m
server:
  allowed_origins:
    - https://exam.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	// Act
	cfg, err := Load(path)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Exam.PaidMaxAttempts)
	assert.Equal(t, 0.001, cfg.Exam.NATEpsilon)
	assert.Equal(t, 250*time.Millisecond, cfg.Exam.TickInterval)
	assert.Equal(t, time.Minute, cfg.Exam.CatalogCacheTTL)
	assert.Equal(t, []string{"https://exam.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 1, cfg.Exam.FreeMaxAttempts, "Незаданные в файле значения берутся из умолчаний")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EXAM_FREE_MAX_ATTEMPTS", "2")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("exam:\n  free_max_attempts: 4\n"), 0o600))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Exam.FreeMaxAttempts)
}

func TestLoad_RedisKeyPrefixFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("REDIS_KEY_PREFIX", "mocktest-staging")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, "mocktest-staging", cfg.Redis.KeyPrefix)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{Host: "localhost", DBName: "mocktest", User: "postgres"},
			Identity: IdentityConfig{Secret: "secret"},
			Exam:     ExamConfig{FreeMaxAttempts: 1, PaidMaxAttempts: 3, NATEpsilon: 0.01},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing secret", mutate: func(c *Config) { c.Identity.Secret = "" }, wantErr: "identity secret"},
		{name: "missing database", mutate: func(c *Config) { c.Database.Host = "" }, wantErr: "database configuration"},
		{name: "zero quota", mutate: func(c *Config) { c.Exam.PaidMaxAttempts = 0 }, wantErr: "quotas"},
		{name: "negative epsilon", mutate: func(c *Config) { c.Exam.NATEpsilon = -1 }, wantErr: "nat_epsilon"},
		{name: "email without key", mutate: func(c *Config) { c.Email.Enabled = true }, wantErr: "api key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)

			err := c.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPostgresConnectionString(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "n", SSLMode: "disable"}

	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.PostgresConnectionString())
}
