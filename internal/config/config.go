package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bryanchriswhite/kwinidle/internal/logger"
	"gopkg.in/yaml.v3"
)

// Backend selects which host environment events are read from
type Backend string

const (
	BackendAuto Backend = "auto" // KWin script when KWin is on the bus, X11 otherwise
	BackendKWin Backend = "kwin" // KWin script relay
	BackendX11  Backend = "x11"  // X11 root window properties + D-Bus signals
)

// DefaultSamplingInterval is the number of cursor events per forwarded interaction
const DefaultSamplingInterval = 25

// Config represents the application configuration
type Config struct {
	LogLevel  string  `json:"log_level" yaml:"log_level"`
	LogPretty bool    `json:"log_pretty" yaml:"log_pretty"`
	Backend   Backend `json:"backend" yaml:"backend"`

	// SamplingInterval is read once at startup and fixed for the process lifetime
	SamplingInterval   int           `json:"sampling_interval" yaml:"sampling_interval"`
	CursorPollInterval time.Duration `json:"cursor_poll_interval" yaml:"cursor_poll_interval"`

	// StatusPort is the local status API port, 0 disables it
	StatusPort int `json:"status_port" yaml:"status_port"`

	ListenersPath   string        `json:"listeners_path" yaml:"listeners_path"`
	ListenerTimeout time.Duration `json:"listener_timeout" yaml:"listener_timeout"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	listeners := ""
	if home, err := os.UserHomeDir(); err == nil {
		listeners = filepath.Join(home, ".config", "kwinidle", "listeners")
	}

	return &Config{
		LogLevel:           "info",
		LogPretty:          true,
		Backend:            BackendAuto,
		SamplingInterval:   DefaultSamplingInterval,
		CursorPollInterval: 50 * time.Millisecond,
		StatusPort:         0,
		ListenersPath:      listeners,
		ListenerTimeout:    15 * time.Second,
	}
}

// Validate checks the configuration for values the daemon cannot run with
func (c *Config) Validate() error {
	var errs error
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = errors.Join(errs, err)
	}
	switch c.Backend {
	case BackendAuto, BackendKWin, BackendX11:
	default:
		errs = errors.Join(errs, fmt.Errorf("unknown backend %q (use: auto, kwin, x11)", c.Backend))
	}
	if c.SamplingInterval < 1 {
		errs = errors.Join(errs, fmt.Errorf("sampling_interval must be at least 1, got %d", c.SamplingInterval))
	}
	if c.CursorPollInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("cursor_poll_interval must be positive, got %s", c.CursorPollInterval))
	}
	if c.StatusPort < 0 || c.StatusPort > 65535 {
		errs = errors.Join(errs, fmt.Errorf("status_port out of range: %d", c.StatusPort))
	}
	if c.ListenerTimeout <= 0 {
		errs = errors.Join(errs, fmt.Errorf("listener_timeout must be positive, got %s", c.ListenerTimeout))
	}
	return errs
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/kwinidle/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "kwinidle", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing file
// is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	m := &Manager{configPath: path}

	if err := m.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Str("backend", string(m.config.Backend)).
		Int("sampling_interval", m.config.SamplingInterval).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk, filling unset keys with defaults
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Update replaces the configuration and saves it
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	m.mu.Lock()
	c := *cfg
	m.config = &c
	m.mu.Unlock()
	return m.Save()
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// fields returns the configuration as a yaml key map
func (c *Config) fields() (map[string]interface{}, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	fields := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return fields, nil
}

// GetValue returns the value stored under a yaml key
func (m *Manager) GetValue(key string) (interface{}, error) {
	fields, err := m.Get().fields()
	if err != nil {
		return nil, err
	}
	v, ok := fields[key]
	if !ok {
		return nil, fmt.Errorf("configuration key not found: %s", key)
	}
	return v, nil
}

// SetValue parses value as YAML, stores it under key, validates and saves
func (m *Manager) SetValue(key, value string) error {
	fields, err := m.Get().fields()
	if err != nil {
		return err
	}
	if _, ok := fields[key]; !ok {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	var parsed interface{}
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	fields[key] = parsed

	data, err := yaml.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return m.Update(cfg)
}
