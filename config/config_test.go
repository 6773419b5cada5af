package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.APIEndpoint, cfg.APIEndpoint)
	assert.Equal(t, def.RequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.CallTimeoutDuration())
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "shadowcall.toml")
	require.NoError(t, WriteDefault(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "api_endpoint")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadowcall.toml")
	cfg := Default()
	cfg.APIEndpoint = "http://localhost:8080"
	cfg.CallTimeout = 10000
	require.NoError(t, Write(path, cfg))

	t.Setenv("SHADOWCALL_USE_SIMULATION", "true")
	t.Setenv("SHADOWCALL_LOG_LEVEL", "debug")

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", got.APIEndpoint)
	assert.Equal(t, 10000, got.CallTimeout)
	assert.True(t, got.UseSimulation)
	assert.Equal(t, "debug", got.LogLevel)

	tc := got.Transport()
	assert.True(t, tc.UseSimulation)
	assert.Equal(t, got.RequestTimeout, tc.NetworkTimeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("SHADOWCALL_LOG_LEVEL", "chatty")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("endpoint = ["), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.CallbackWorkers = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = Default()
	cfg.RetryAttempts = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestLoadTransportEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr bool
		check   func(*testing.T, Config)
	}{
		{"request_timeout", "SHADOWCALL_REQUEST_TIMEOUT", "7000", false,
			func(t *testing.T, c Config) { assert.Equal(t, 7000, c.RequestTimeout) }},
		{"network_timeout_alias", "SHADOWCALL_NETWORK_TIMEOUT", "10000", false,
			func(t *testing.T, c Config) { assert.Equal(t, 10000, c.Transport().NetworkTimeout) }},
		{"retry_attempts", "SHADOWCALL_RETRY_ATTEMPTS", "5", false,
			func(t *testing.T, c Config) { assert.Equal(t, 5, c.Transport().RetryAttempts) }},
		{"timeout_below_min", "SHADOWCALL_NETWORK_TIMEOUT", "50", true, nil},
		{"timeout_above_max", "SHADOWCALL_NETWORK_TIMEOUT", "700000", true, nil},
		{"retries_negative", "SHADOWCALL_RETRY_ATTEMPTS", "-1", true, nil},
		{"retries_above_max", "SHADOWCALL_RETRY_ATTEMPTS", "101", true, nil},
		{"timeout_not_a_number", "SHADOWCALL_NETWORK_TIMEOUT", "soon", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg, err := Load("")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
