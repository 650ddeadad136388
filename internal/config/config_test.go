package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	m, err := NewManager("")
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 75*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.LLM.BackoffBase)
	assert.Equal(t, 5*time.Second, cfg.LLM.BackoffMax)
	assert.Equal(t, "random", cfg.Pseudonym.Mode)
	assert.Equal(t, 1024, cfg.Cache.RecentOrders)
	assert.False(t, m.IsProduction())
	assert.True(t, m.IsDevelopment())
	assert.False(t, m.AuthEnabled())
	assert.NoError(t, m.Validate())
}

func TestNewManager_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DEIDGATE_SERVER_PORT", "9090")
	t.Setenv("DEIDGATE_LLM_MODEL", "local-model")
	t.Setenv("DEIDGATE_LLM_MAX_ATTEMPTS", "5")
	t.Setenv("DEIDGATE_STORE_DRIVER", "sqlite")
	t.Setenv("DEIDGATE_PSEUDONYM_MODE", "keyed")
	t.Setenv("DEIDGATE_PSEUDONYM_SALT", "per-deployment-salt-value")

	m, err := NewManager("")
	require.NoError(t, err)

	assert.Equal(t, 9090, m.GetServerConfig().Port)
	assert.Equal(t, "local-model", m.GetLLMConfig().Model)
	assert.Equal(t, 5, m.GetLLMConfig().MaxAttempts)
	assert.Equal(t, "sqlite", m.GetConfig().Store.Driver)
	assert.NoError(t, m.Validate())
}

func TestNewManager_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
  environment: production
database:
  host: db.internal
  ssl_mode: verify-full
llm:
  api_key: sk-test
auth:
  jwt_secret: 0123456789abcdef0123456789abcdef
`), 0o600))

	m, err := NewManager(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, m.GetServerConfig().Port)
	assert.Equal(t, "db.internal", m.GetDatabaseConfig().Host)
	assert.True(t, m.IsProduction())
	assert.True(t, m.AuthEnabled())
	assert.NoError(t, m.Validate())
}

func TestNewManager_MissingExplicitFile(t *testing.T) {
	_, err := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"DEIDGATE_SERVER_PORT": "70000"}},
		{"unknown store driver", map[string]string{"DEIDGATE_STORE_DRIVER": "mongo"}},
		{"zero attempts", map[string]string{"DEIDGATE_LLM_MAX_ATTEMPTS": "0"}},
		{"keyed without salt", map[string]string{"DEIDGATE_PSEUDONYM_MODE": "keyed"}},
		{"unknown pseudonym mode", map[string]string{"DEIDGATE_PSEUDONYM_MODE": "sequential"}},
		{"short jwt secret", map[string]string{"DEIDGATE_AUTH_JWT_SECRET": "short"}},
		{"production without secret", map[string]string{"DEIDGATE_SERVER_ENVIRONMENT": "production", "DEIDGATE_LLM_API_KEY": "sk"}},
		{"temperature out of range", map[string]string{"DEIDGATE_LLM_TEMPERATURE": "3"}},
		{"bad log level", map[string]string{"DEIDGATE_LOGGING_LEVEL": "verbose"}},
		{"bad log format", map[string]string{"DEIDGATE_LOGGING_FORMAT": "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			m, err := NewManager("")
			require.NoError(t, err)
			assert.Error(t, m.Validate())
		})
	}
}
