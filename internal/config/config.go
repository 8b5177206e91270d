// Package config loads the service configuration from a YAML or TOML file,
// an optional .env file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rental-occupancy/backend/internal/backoff"
	"github.com/rental-occupancy/backend/internal/homeassistant"
	"github.com/rental-occupancy/backend/internal/occupancy"
)

// Refresh bounds, in hours.
const (
	DefaultRefreshHours = 8
	MinRefreshHours     = 1
	MaxRefreshHours     = 24
)

// VacasaConfig holds the owner portal account.
type VacasaConfig struct {
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password,omitempty" toml:"password,omitempty"`
	// OwnerID skips owner discovery when set.
	OwnerID string `yaml:"owner_id,omitempty" toml:"owner_id,omitempty"`
	// TokenCache is the token cache file, relative to DataDir unless absolute.
	TokenCache string `yaml:"token_cache" toml:"token_cache"`
	// RefreshFraction is the share of token lifetime left when a refresh starts.
	RefreshFraction float64        `yaml:"refresh_fraction" toml:"refresh_fraction"`
	MaxAttempts     int            `yaml:"max_attempts" toml:"max_attempts"`
	Backoff         backoff.Config `yaml:"backoff" toml:"backoff"`
	Timeout         time.Duration  `yaml:"timeout" toml:"timeout"`
}

// RefreshConfig controls how often and how far the calendar is fetched.
type RefreshConfig struct {
	IntervalHours int           `yaml:"interval_hours" toml:"interval_hours"`
	PropertyTTL   time.Duration `yaml:"property_ttl" toml:"property_ttl"`
	PastDays      int           `yaml:"past_days" toml:"past_days"`
	FutureDays    int           `yaml:"future_days" toml:"future_days"`
	// HistoryDays is how long occupancy history and sync runs are kept.
	HistoryDays int `yaml:"history_days" toml:"history_days"`
}

// APIConfig protects the HTTP API with basic auth when PasswordHash is set.
type APIConfig struct {
	Username     string `yaml:"username,omitempty" toml:"username,omitempty"`
	PasswordHash string `yaml:"password_hash,omitempty" toml:"password_hash,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen    string `yaml:"listen" toml:"listen"`
	DataDir   string `yaml:"data_dir" toml:"data_dir"`
	LogLevel  string `yaml:"log_level" toml:"log_level"`
	LogPretty bool   `yaml:"log_pretty" toml:"log_pretty"`
	// Timezone is used for properties that don't report their own.
	Timezone string `yaml:"timezone" toml:"timezone"`

	Vacasa        VacasaConfig          `yaml:"vacasa" toml:"vacasa"`
	Refresh       RefreshConfig         `yaml:"refresh" toml:"refresh"`
	Occupancy     occupancy.RetryConfig `yaml:"occupancy" toml:"occupancy"`
	HomeAssistant homeassistant.Config  `yaml:"home_assistant" toml:"home_assistant"`
	API           APIConfig             `yaml:"api" toml:"api"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":8099",
		DataDir:  "/data",
		LogLevel: "info",
		Timezone: "UTC",
		Vacasa: VacasaConfig{
			TokenCache:      "vacasa_token.json",
			RefreshFraction: 0.2,
			MaxAttempts:     3,
			Backoff:         backoff.DefaultConfig(),
			Timeout:         30 * time.Second,
		},
		Refresh: RefreshConfig{
			IntervalHours: DefaultRefreshHours,
			PropertyTTL:   time.Hour,
			PastDays:      30,
			FutureDays:    365,
			HistoryDays:   90,
		},
		Occupancy:     occupancy.DefaultRetryConfig(),
		HomeAssistant: homeassistant.DefaultConfig(),
	}
}

// Normalize fills zero values with defaults so partially filled files
// still behave.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.Vacasa.TokenCache == "" {
		c.Vacasa.TokenCache = d.Vacasa.TokenCache
	}
	if c.Vacasa.RefreshFraction == 0 {
		c.Vacasa.RefreshFraction = d.Vacasa.RefreshFraction
	}
	if c.Vacasa.MaxAttempts == 0 {
		c.Vacasa.MaxAttempts = d.Vacasa.MaxAttempts
	}
	if c.Vacasa.Backoff == (backoff.Config{}) {
		c.Vacasa.Backoff = d.Vacasa.Backoff
	}
	if c.Vacasa.Timeout == 0 {
		c.Vacasa.Timeout = d.Vacasa.Timeout
	}
	if c.Refresh.IntervalHours == 0 {
		c.Refresh.IntervalHours = d.Refresh.IntervalHours
	}
	if c.Refresh.PropertyTTL == 0 {
		c.Refresh.PropertyTTL = d.Refresh.PropertyTTL
	}
	if c.Refresh.PastDays == 0 {
		c.Refresh.PastDays = d.Refresh.PastDays
	}
	if c.Refresh.FutureDays == 0 {
		c.Refresh.FutureDays = d.Refresh.FutureDays
	}
	if c.Refresh.HistoryDays == 0 {
		c.Refresh.HistoryDays = d.Refresh.HistoryDays
	}
	if c.Occupancy.MaxRetries == 0 {
		c.Occupancy.MaxRetries = d.Occupancy.MaxRetries
	}
	if c.Occupancy.Backoff == (backoff.Config{}) {
		c.Occupancy.Backoff = d.Occupancy.Backoff
	}
	if c.HomeAssistant.BaseURL == "" {
		c.HomeAssistant.BaseURL = d.HomeAssistant.BaseURL
	}
	if c.HomeAssistant.Timeout == 0 {
		c.HomeAssistant.Timeout = d.HomeAssistant.Timeout
	}
}

// Validate reports every invalid setting. Credentials are required.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Vacasa.Username) == "" {
		errs = append(errs, errors.New("vacasa.username is required"))
	}
	if c.Vacasa.Password == "" {
		errs = append(errs, errors.New("vacasa.password is required"))
	}
	if c.Refresh.IntervalHours < MinRefreshHours || c.Refresh.IntervalHours > MaxRefreshHours {
		errs = append(errs, fmt.Errorf("refresh.interval_hours must be between %d and %d, got %d",
			MinRefreshHours, MaxRefreshHours, c.Refresh.IntervalHours))
	}
	if c.Refresh.PropertyTTL <= 0 {
		errs = append(errs, errors.New("refresh.property_ttl must be positive"))
	}
	if c.Refresh.PastDays < 0 || c.Refresh.FutureDays < 0 {
		errs = append(errs, errors.New("refresh window days must not be negative"))
	}
	if c.Vacasa.RefreshFraction <= 0 || c.Vacasa.RefreshFraction >= 1 {
		errs = append(errs, fmt.Errorf("vacasa.refresh_fraction must be in (0,1), got %g", c.Vacasa.RefreshFraction))
	}
	if c.Vacasa.MaxAttempts < 1 {
		errs = append(errs, errors.New("vacasa.max_attempts must be at least 1"))
	}
	if err := validateBackoff("vacasa.backoff", c.Vacasa.Backoff); err != nil {
		errs = append(errs, err)
	}
	if c.Occupancy.MaxRetries < 1 {
		errs = append(errs, errors.New("occupancy.max_retries must be at least 1"))
	}
	if err := validateBackoff("occupancy.backoff", c.Occupancy.Backoff); err != nil {
		errs = append(errs, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	return errors.Join(errs...)
}

func validateBackoff(name string, b backoff.Config) error {
	switch {
	case b.InitialDelay <= 0:
		return fmt.Errorf("%s.initial_delay must be positive", name)
	case b.Multiplier < 1:
		return fmt.Errorf("%s.multiplier must be at least 1", name)
	case b.MaxDelay < b.InitialDelay:
		return fmt.Errorf("%s.max_delay must not be below initial_delay", name)
	case b.JitterFraction < 0 || b.JitterFraction > 1:
		return fmt.Errorf("%s.jitter_fraction must be in [0,1]", name)
	}
	return nil
}

// Location returns the fallback timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TokenCachePath resolves the token cache file against DataDir.
func (c *Config) TokenCachePath() string {
	if filepath.IsAbs(c.Vacasa.TokenCache) {
		return c.Vacasa.TokenCache
	}
	return filepath.Join(c.DataDir, c.Vacasa.TokenCache)
}

// DatabasePath is the SQLite file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "rental-occupancy.db")
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load reads path, writing a default file on first run. The format follows
// the extension: .toml is TOML, anything else YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() {
	setString(&c.Vacasa.Username, "VACASA_USERNAME")
	setString(&c.Vacasa.Password, "VACASA_PASSWORD")
	setString(&c.Vacasa.OwnerID, "VACASA_OWNER_ID")
	setString(&c.HomeAssistant.BaseURL, "HA_URL")
	setString(&c.HomeAssistant.Token, "HA_TOKEN")
	setString(&c.HomeAssistant.SupervisorToken, "SUPERVISOR_TOKEN")
	setString(&c.API.PasswordHash, "API_PASSWORD_HASH")
	setString(&c.API.Username, "API_USERNAME")
	setString(&c.LogLevel, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
