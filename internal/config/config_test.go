package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTH_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.Provider.APIKey)
	assert.Equal(t, DefaultBaseURL, cfg.Provider.BaseURL)
	assert.Equal(t, DefaultTokenURL, cfg.Provider.TokenURL)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "sqlite", cfg.Session.Store)
	assert.Equal(t, "authflow.sqlite", cfg.Session.DatabaseURL)
	assert.Equal(t, 5*time.Minute, cfg.Session.RefreshWindow)
	assert.Equal(t, DefaultRefreshSchedule, cfg.Session.RefreshSchedule)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.ListenAddr)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTH_API_KEY", "test-key")
	t.Setenv("AUTH_BASE_URL", "http://localhost:9099/")
	t.Setenv("SESSION_STORE", "Memory")
	t.Setenv("REFRESH_WINDOW", "90s")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9099", cfg.Provider.BaseURL)
	assert.Equal(t, "memory", cfg.Session.Store)
	assert.Equal(t, 90*time.Second, cfg.Session.RefreshWindow)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing api key",
			env:  map[string]string{"AUTH_API_KEY": ""},
			want: "AUTH_API_KEY is required",
		},
		{
			name: "bad store",
			env:  map[string]string{"AUTH_API_KEY": "k", "SESSION_STORE": "redis"},
			want: "invalid SESSION_STORE 'redis', must be one of: sqlite, keyring, memory",
		},
		{
			name: "bad duration",
			env:  map[string]string{"AUTH_API_KEY": "k", "REFRESH_WINDOW": "soon"},
			want: "invalid REFRESH_WINDOW",
		},
		{
			name: "negative duration",
			env:  map[string]string{"AUTH_API_KEY": "k", "AUTH_TIMEOUT": "-1s"},
			want: "invalid AUTH_TIMEOUT: must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
