// Package config loads patient portal client settings from YAML with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Session SessionConfig `yaml:"session"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
}

// APIConfig describes the clinic API the client talks to.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig tunes the client-side session lifecycle.
type SessionConfig struct {
	// InactivityTimeout is how long a session may go without an
	// authenticated request before it is expired locally.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`

	// CheckInterval is how often the inactivity monitor polls.
	CheckInterval time.Duration `yaml:"check_interval"`

	// RefreshCooldown is the minimum gap between token refresh attempts.
	RefreshCooldown time.Duration `yaml:"refresh_cooldown"`

	// MaxRefreshAttempts bounds consecutive failed refreshes.
	MaxRefreshAttempts int `yaml:"max_refresh_attempts"`

	// LogoutTimeout bounds the best-effort server logout call.
	LogoutTimeout time.Duration `yaml:"logout_timeout"`
}

// StorageConfig locates durable client state.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ServerConfig is used by the static file server and the mock clinic API.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// SessionDBPath is the bbolt file holding the persisted session.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.Storage.DataDir, "session.db")
}

// DeviceKeyPath is the file holding the per-device sealing secret.
func (c *Config) DeviceKeyPath() string {
	return filepath.Join(c.Storage.DataDir, "device.key")
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values
//  2. YAML file values, when path is non-empty
//  3. Environment variables (PORTAL_SECTION_KEY)
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: 15 * time.Second,
		},
		Session: SessionConfig{
			InactivityTimeout:  30 * time.Minute,
			CheckInterval:      time.Minute,
			RefreshCooldown:    5 * time.Second,
			MaxRefreshAttempts: 2,
			LogoutTimeout:      5 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
		Server: ServerConfig{
			Addr: ":3000",
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "patientportal")
	}
	return ".patientportal"
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORTAL_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("PORTAL_STORAGE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("PORTAL_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PORTAL_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PORTAL_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"PORTAL_API_TIMEOUT", &cfg.API.Timeout},
		{"PORTAL_SESSION_INACTIVITY_TIMEOUT", &cfg.Session.InactivityTimeout},
		{"PORTAL_SESSION_CHECK_INTERVAL", &cfg.Session.CheckInterval},
		{"PORTAL_SESSION_REFRESH_COOLDOWN", &cfg.Session.RefreshCooldown},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", d.env, err)
		}
		*d.dst = parsed
	}

	if v := os.Getenv("PORTAL_SESSION_MAX_REFRESH_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing PORTAL_SESSION_MAX_REFRESH_ATTEMPTS: %w", err)
		}
		cfg.Session.MaxRefreshAttempts = n
	}
	return nil
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.Session.InactivityTimeout <= 0 {
		errs = append(errs, errors.New("session.inactivity_timeout must be positive"))
	}
	if c.Session.CheckInterval <= 0 {
		errs = append(errs, errors.New("session.check_interval must be positive"))
	}
	if c.Session.RefreshCooldown < 0 {
		errs = append(errs, errors.New("session.refresh_cooldown must not be negative"))
	}
	if c.Session.MaxRefreshAttempts < 1 {
		errs = append(errs, errors.New("session.max_refresh_attempts must be at least 1"))
	}
	if c.Session.LogoutTimeout <= 0 {
		errs = append(errs, errors.New("session.logout_timeout must be positive"))
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}

	return errors.Join(errs...)
}
