// Package homeassistant publishes occupancy and calendar entities to Home
// Assistant over its REST API.
package homeassistant

import "time"

// DefaultBaseURL is the Core API address inside a Supervisor add-on.
const DefaultBaseURL = "http://supervisor/core"

// Config holds the configuration for Home Assistant API access.
type Config struct {
	// BaseURL is the Home Assistant API base URL
	BaseURL string `yaml:"url" toml:"url"`

	// Token is the long-lived access token for API authentication
	Token string `yaml:"token" toml:"token"`

	// SupervisorToken is the Supervisor API token (for addon mode)
	SupervisorToken string `yaml:"-" toml:"-"`

	// Timeout for API requests
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// DefaultConfig returns the add-on defaults without credentials.
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 30 * time.Second,
	}
}

// IsAddonMode returns true if running as a Home Assistant addon.
func (c Config) IsAddonMode() bool {
	return c.SupervisorToken != ""
}

// AuthToken returns the appropriate authentication token.
func (c Config) AuthToken() string {
	if c.IsAddonMode() {
		return c.SupervisorToken
	}
	return c.Token
}

// Enabled reports whether any token is configured.
func (c Config) Enabled() bool {
	return c.AuthToken() != ""
}
