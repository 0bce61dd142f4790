package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	m, err := NewManager(path)
	require.NoError(t, err)

	cfg := m.Get()
	assert.Equal(t, DefaultSamplingInterval, cfg.SamplingInterval)
	assert.Equal(t, BackendAuto, cfg.Backend)
	assert.Equal(t, 15*time.Second, cfg.ListenerTimeout)
	assert.NoError(t, cfg.Validate())

	_, err = os.Stat(path)
	assert.NoError(t, err, "default config should be written to disk")
}

func TestNewManagerPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: x11\ncursor_poll_interval: 100ms\n"), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)

	cfg := m.Get()
	assert.Equal(t, BackendX11, cfg.Backend)
	assert.Equal(t, 100*time.Millisecond, cfg.CursorPollInterval)
	assert.Equal(t, DefaultSamplingInterval, cfg.SamplingInterval)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestNewManagerInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [unterminated"), 0644))

	_, err := NewManager(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero interval", func(c *Config) { c.SamplingInterval = 0 }, true},
		{"interval of one", func(c *Config) { c.SamplingInterval = 1 }, false},
		{"bad backend", func(c *Config) { c.Backend = "wayland" }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"negative port", func(c *Config) { c.StatusPort = -1 }, true},
		{"port too large", func(c *Config) { c.StatusPort = 70000 }, true},
		{"zero poll interval", func(c *Config) { c.CursorPollInterval = 0 }, true},
		{"zero listener timeout", func(c *Config) { c.ListenerTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSetValueAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	require.NoError(t, m.SetValue("sampling_interval", "10"))
	require.NoError(t, m.SetValue("listener_timeout", "30s"))
	require.NoError(t, m.SetValue("backend", "kwin"))

	v, err := m.GetValue("sampling_interval")
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	cfg := reloaded.Get()
	assert.Equal(t, 10, cfg.SamplingInterval)
	assert.Equal(t, 30*time.Second, cfg.ListenerTimeout)
	assert.Equal(t, BackendKWin, cfg.Backend)
}

func TestSetValueRejectsInvalid(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Error(t, m.SetValue("no_such_key", "1"))
	assert.Error(t, m.SetValue("sampling_interval", "0"))
	assert.Error(t, m.SetValue("sampling_interval", "many"))

	assert.Equal(t, DefaultSamplingInterval, m.Get().SamplingInterval)
}

func TestGetReturnsCopy(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	cfg := m.Get()
	cfg.SamplingInterval = 99
	assert.Equal(t, DefaultSamplingInterval, m.Get().SamplingInterval)
}
