package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for fieldsync.
type Config struct {
	// Environment controls log format and store strictness.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// Remote API base URL. Required.
	APIURL string `env:"FIELDSYNC_API_URL"`

	// Directory for the bbolt stores and the sqlite cache. Defaults to
	// ~/.fieldsync.
	DataDir string `env:"FIELDSYNC_DATA_DIR"`

	// Directory holding the keystore secret files. Defaults to
	// <DataDir>/keys.
	KeystoreDir string `env:"FIELDSYNC_KEYSTORE_DIR"`
	ServiceID   string `env:"FIELDSYNC_SERVICE_ID" envDefault:"fieldsync.securestore"`

	// Reachability. An empty URL leaves reachability unknown and the
	// link state alone decides.
	ReachabilityURL string        `env:"FIELDSYNC_REACHABILITY_URL"`
	Debounce        time.Duration `env:"FIELDSYNC_DEBOUNCE" envDefault:"500ms"`
	ResolvConf      string        `env:"FIELDSYNC_RESOLV_CONF" envDefault:"/etc/resolv.conf"`

	// Connection quality probe. Defaults to the API URL.
	ProbeURL      string        `env:"FIELDSYNC_PROBE_URL"`
	ProbeAttempts int           `env:"FIELDSYNC_PROBE_ATTEMPTS" envDefault:"3"`
	ProbeTimeout  time.Duration `env:"FIELDSYNC_PROBE_TIMEOUT" envDefault:"3s"`

	// Lists.
	OfflineDelay   time.Duration `env:"FIELDSYNC_OFFLINE_DELAY" envDefault:"300ms"`
	PageSize       int           `env:"FIELDSYNC_PAGE_SIZE" envDefault:"20"`
	SearchDebounce time.Duration `env:"FIELDSYNC_SEARCH_DEBOUNCE" envDefault:"250ms"`
	Assignee       string        `env:"FIELDSYNC_ASSIGNEE"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return nil, err
		}

		cfg.DataDir = dir
	}

	absDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data dir to absolute path: %w", err)
	}

	cfg.DataDir = absDir

	if cfg.KeystoreDir == "" {
		cfg.KeystoreDir = filepath.Join(cfg.DataDir, "keys")
	}

	if cfg.ProbeURL == "" {
		cfg.ProbeURL = cfg.APIURL
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("FIELDSYNC_API_URL is required")
	}

	if err := checkHTTPURL("FIELDSYNC_API_URL", c.APIURL); err != nil {
		return err
	}

	if c.ReachabilityURL != "" {
		if err := checkHTTPURL("FIELDSYNC_REACHABILITY_URL", c.ReachabilityURL); err != nil {
			return err
		}
	}

	if c.ProbeURL != "" {
		if err := checkHTTPURL("FIELDSYNC_PROBE_URL", c.ProbeURL); err != nil {
			return err
		}
	}

	if c.ProbeAttempts < 1 {
		return fmt.Errorf("FIELDSYNC_PROBE_ATTEMPTS must be at least 1")
	}

	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("FIELDSYNC_PROBE_TIMEOUT must be positive")
	}

	if c.Debounce <= 0 {
		return fmt.Errorf("FIELDSYNC_DEBOUNCE must be positive")
	}

	if c.SearchDebounce <= 0 {
		return fmt.Errorf("FIELDSYNC_SEARCH_DEBOUNCE must be positive")
	}

	if c.OfflineDelay < 0 {
		return fmt.Errorf("FIELDSYNC_OFFLINE_DELAY must not be negative")
	}

	if c.PageSize < 1 {
		return fmt.Errorf("FIELDSYNC_PAGE_SIZE must be at least 1")
	}

	if c.ServiceID == "" {
		return fmt.Errorf("FIELDSYNC_SERVICE_ID must not be empty")
	}

	return nil
}

func checkHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", name)
	}

	if u.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}

	return nil
}

// DefaultDataDir returns ~/.fieldsync.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".fieldsync"), nil
}

// SecurePath is the encrypted store file.
func (c *Config) SecurePath() string {
	return filepath.Join(c.DataDir, "secure.db")
}

// PlainPath is the flag store file.
func (c *Config) PlainPath() string {
	return filepath.Join(c.DataDir, "plain.db")
}

// CachePath is the sqlite cache file.
func (c *Config) CachePath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Strict reports whether store misuse should panic rather than degrade.
func (c *Config) Strict() bool {
	return !c.IsProduction()
}
