package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWritesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Refresh.IntervalHours != DefaultRefreshHours || cfg.Refresh.PropertyTTL != time.Hour {
		t.Fatalf("defaults = %+v", cfg.Refresh)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("mode = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Vacasa.Backoff != cfg.Vacasa.Backoff || again.Occupancy.MaxRetries != 3 {
		t.Fatalf("reloaded config differs: %+v", again)
	}
}

func TestLoadYAMLPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
listen: ":9000"
vacasa:
  username: owner@example.com
  backoff:
    initial_delay: 1s
    multiplier: 3
    max_delay: 20s
refresh:
  interval_hours: 4
  property_ttl: 30m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.Vacasa.Username != "owner@example.com" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Vacasa.Backoff.InitialDelay != time.Second || cfg.Vacasa.Backoff.Multiplier != 3 {
		t.Fatalf("backoff = %+v", cfg.Vacasa.Backoff)
	}
	if cfg.Refresh.IntervalHours != 4 || cfg.Refresh.PropertyTTL != 30*time.Minute {
		t.Fatalf("refresh = %+v", cfg.Refresh)
	}
	if cfg.Refresh.FutureDays != 365 || cfg.Vacasa.MaxAttempts != 3 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
listen = ":9100"
timezone = "America/Denver"

[vacasa]
username = "owner@example.com"
owner_id = "12345"

[refresh]
interval_hours = 12
property_ttl = "2h"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9100" || cfg.Vacasa.OwnerID != "12345" || cfg.Timezone != "America/Denver" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Refresh.IntervalHours != 12 || cfg.Refresh.PropertyTTL != 2*time.Hour {
		t.Fatalf("refresh = %+v", cfg.Refresh)
	}
}

func TestSaveTOMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := DefaultConfig()
	cfg.Vacasa.Username = "owner@example.com"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Vacasa.Username != cfg.Vacasa.Username || got.Refresh != cfg.Refresh {
		t.Fatalf("round trip: %+v", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("VACASA_USERNAME=file@example.com\nVACASA_PASSWORD=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VACASA_USERNAME", "")
	t.Setenv("VACASA_PASSWORD", "")
	os.Unsetenv("VACASA_USERNAME")
	os.Unsetenv("VACASA_PASSWORD")
	t.Setenv("HA_TOKEN", "ha-token")

	if err := LoadEnvFile(envPath); err != nil {
		t.Fatalf("env file: %v", err)
	}
	if err := LoadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.Vacasa.Username != "file@example.com" || cfg.Vacasa.Password != "from-file" {
		t.Fatalf("vacasa = %+v", cfg.Vacasa)
	}
	if cfg.HomeAssistant.Token != "ha-token" || !cfg.HomeAssistant.Enabled() {
		t.Fatalf("home assistant = %+v", cfg.HomeAssistant)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.Vacasa.Username = "owner@example.com"
		c.Vacasa.Password = "pw"
		return c
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*Config){
		"vacasa.username":          func(c *Config) { c.Vacasa.Username = " " },
		"vacasa.password":          func(c *Config) { c.Vacasa.Password = "" },
		"interval_hours":           func(c *Config) { c.Refresh.IntervalHours = 25 },
		"property_ttl":             func(c *Config) { c.Refresh.PropertyTTL = -time.Second },
		"window days":              func(c *Config) { c.Refresh.PastDays = -1 },
		"refresh_fraction":         func(c *Config) { c.Vacasa.RefreshFraction = 1.5 },
		"vacasa.backoff.max_delay": func(c *Config) { c.Vacasa.Backoff.MaxDelay = time.Millisecond },
		"occupancy.max_retries":    func(c *Config) { c.Occupancy.MaxRetries = 0 },
		"timezone":                 func(c *Config) { c.Timezone = "Mars/Olympus" },
	}
	for want, mutate := range cases {
		c := valid()
		mutate(c)
		err := c.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("mutation %q: err = %v", want, err)
		}
	}
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/occupancy"
	if got := cfg.TokenCachePath(); got != "/var/lib/occupancy/vacasa_token.json" {
		t.Fatalf("token cache = %s", got)
	}
	cfg.Vacasa.TokenCache = "/tmp/token.json"
	if got := cfg.TokenCachePath(); got != "/tmp/token.json" {
		t.Fatalf("absolute token cache = %s", got)
	}
}
