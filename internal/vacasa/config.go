// Package vacasa talks to the Vacasa owner portal: a browser-less login
// that yields a short-lived bearer token, and the owner API used to list
// units and reservations.
package vacasa

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/rental-occupancy/backend/internal/backoff"
)

// Portal defaults.
const (
	DefaultAuthURL     = "https://accounts.vacasa.io/login"
	DefaultAPIBaseURL  = "https://owner.vacasa.io/api/v1"
	DefaultClientID    = "KOIkAJP9XW7ZpTXwRa0B7O4qMuXSQ3p4BKFfTPhr"
	DefaultRedirectURI = "https://owners.vacasa.com"
	DefaultAudience    = "owner.vacasa.io"
	DefaultScope       = "owners:read employees:read"

	maxRedirects     = 10
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1.1 Safari/605.1.15"
)

// Endpoints locates the portal services.
type Endpoints struct {
	AuthURL     string `yaml:"auth_url" toml:"auth_url"`
	APIBaseURL  string `yaml:"api_base_url" toml:"api_base_url"`
	ClientID    string `yaml:"client_id" toml:"client_id"`
	RedirectURI string `yaml:"redirect_uri" toml:"redirect_uri"`
	Audience    string `yaml:"audience" toml:"audience"`
}

// DefaultEndpoints returns the production portal endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthURL:     DefaultAuthURL,
		APIBaseURL:  DefaultAPIBaseURL,
		ClientID:    DefaultClientID,
		RedirectURI: DefaultRedirectURI,
		Audience:    DefaultAudience,
	}
}

func (e Endpoints) withDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.AuthURL == "" {
		e.AuthURL = d.AuthURL
	}
	if e.APIBaseURL == "" {
		e.APIBaseURL = d.APIBaseURL
	}
	if e.ClientID == "" {
		e.ClientID = d.ClientID
	}
	if e.RedirectURI == "" {
		e.RedirectURI = d.RedirectURI
	}
	if e.Audience == "" {
		e.Audience = d.Audience
	}
	return e
}

// Credentials are the owner's portal login.
type Credentials struct {
	Username string
	Password string
}

// String never includes the password.
func (c Credentials) String() string {
	return c.Username + ":********"
}

// SessionConfig configures a SessionManager.
type SessionConfig struct {
	Endpoints   Endpoints
	Credentials Credentials
	// OwnerID, when set, skips owner discovery.
	OwnerID string

	// RefreshFraction is the share of token lifetime below which the token
	// is refreshed proactively.
	RefreshFraction  float64
	MinRefreshMargin time.Duration

	MaxAttempts int
	Backoff     backoff.Config

	HTTPClient *http.Client
	Timeout    time.Duration

	Now   func() time.Time
	Rand  *rand.Rand
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c SessionConfig) withDefaults() SessionConfig {
	c.Endpoints = c.Endpoints.withDefaults()
	if c.RefreshFraction <= 0 || c.RefreshFraction >= 1 {
		c.RefreshFraction = 0.2
	}
	if c.MinRefreshMargin <= 0 {
		c.MinRefreshMargin = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = backoff.DefaultConfig()
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
