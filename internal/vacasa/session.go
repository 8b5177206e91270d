package vacasa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/rental-occupancy/backend/internal/backoff"
	"github.com/rental-occupancy/backend/internal/observability"
)

// SessionState is the lifecycle state of the portal session.
type SessionState int

// Session states.
const (
	StateUnauthenticated SessionState = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
)

func (s SessionState) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}

// Session is an authenticated portal session.
type Session struct {
	Username      string
	Token         Token
	OwnerID       string
	CacheLocation string
}

// MarshalZerologObject logs the session without leaking the token.
func (s *Session) MarshalZerologObject(e *zerolog.Event) {
	e.Str("username", s.Username).
		Str("token", observability.TokenPrefix(s.Token.Raw)).
		Time("expires_at", s.Token.ExpiresAt).
		Str("owner_id", s.OwnerID)
}

// SessionInfo is a log- and API-safe snapshot of the session.
type SessionInfo struct {
	State       string     `json:"state"`
	Username    string     `json:"username"`
	TokenPrefix string     `json:"token_prefix,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	OwnerID     string     `json:"owner_id,omitempty"`
	Logins      int64      `json:"logins"`
	// LastError is the most recent login failure, cleared by a success.
	LastError string `json:"last_error,omitempty"`
	// Rejected is set when the portal refused the credentials.
	Rejected bool `json:"rejected"`
}

// SessionManager owns the credentials, the current token and its cache. It
// serializes refreshes so concurrent callers share one login.
type SessionManager struct {
	cfg     SessionConfig
	cache   TokenCache
	retrier *backoff.Retrier
	group   singleflight.Group

	mu          sync.RWMutex
	state       SessionState
	session     *Session
	ownerID     string
	cacheLoaded bool
	lastErr     error

	logins atomic.Int64
}

// NewSessionManager creates a manager. cache may be nil.
func NewSessionManager(cfg SessionConfig, cache TokenCache) *SessionManager {
	cfg = cfg.withDefaults()
	return &SessionManager{
		cfg:   cfg,
		cache: cache,
		retrier: &backoff.Retrier{
			Config:      cfg.Backoff,
			MaxAttempts: cfg.MaxAttempts,
			Retryable:   IsTransient,
			Rand:        cfg.Rand,
			Sleep:       cfg.Sleep,
		},
	}
}

// State returns the current lifecycle state.
func (m *SessionManager) State() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Logins returns how many network logins have been performed.
func (m *SessionManager) Logins() int64 {
	return m.logins.Load()
}

// Info returns a snapshot safe to log or serve.
func (m *SessionManager) Info() SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := SessionInfo{
		State:    m.state.String(),
		Username: m.cfg.Credentials.Username,
		OwnerID:  m.cfg.OwnerID,
		Logins:   m.logins.Load(),
	}
	if m.session != nil {
		exp := m.session.Token.ExpiresAt
		info.ExpiresAt = &exp
		info.TokenPrefix = observability.TokenPrefix(m.session.Token.Raw)
	}
	if m.ownerID != "" {
		info.OwnerID = m.ownerID
	}
	if m.lastErr != nil {
		info.LastError = m.lastErr.Error()
		info.Rejected = IsAuthentication(m.lastErr)
	}
	return info
}

// Authenticate performs a fresh login, regardless of the current token. A
// login already in flight is joined rather than duplicated.
func (m *SessionManager) Authenticate(ctx context.Context) (*Session, error) {
	v, err := m.shared(ctx, "refresh", func(ctx context.Context) (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// ValidToken returns a token with enough remaining lifetime, loading the
// cache or logging in when needed.
func (m *SessionManager) ValidToken(ctx context.Context) (string, error) {
	if s := m.fresh(); s != nil {
		return s.Token.Raw, nil
	}

	v, err := m.shared(ctx, "refresh", func(ctx context.Context) (any, error) {
		if s := m.fresh(); s != nil {
			return s, nil
		}
		if s := m.loadCache(); s != nil {
			return s, nil
		}
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(*Session).Token.Raw, nil
}

// shared runs fn once for all concurrent callers of key. fn runs on a
// context detached from any single caller's cancellation; each caller
// stops waiting when its own ctx is done.
func (m *SessionManager) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the current token and its cached copy.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	m.session = nil
	m.state = StateUnauthenticated
	m.cacheLoaded = true
	m.mu.Unlock()

	if m.cache != nil {
		if err := m.cache.Clear(); err != nil {
			log.Warn().Err(err).Msg("clearing token cache")
		}
	}
	log.Info().Str("username", m.cfg.Credentials.Username).Msg("session invalidated")
}

func (m *SessionManager) fresh() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil
	}
	if m.session.Token.NeedsRefresh(m.cfg.Now(), m.cfg.RefreshFraction, m.cfg.MinRefreshMargin) {
		return nil
	}
	return m.session
}

// loadCache adopts the cached token once per process if it is still fresh.
func (m *SessionManager) loadCache() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cacheLoaded || m.cache == nil {
		m.cacheLoaded = true
		return nil
	}
	m.cacheLoaded = true

	ct, err := m.cache.Load()
	if err != nil {
		log.Warn().Err(err).Msg("ignoring unreadable token cache")
		return nil
	}
	if ct == nil || (ct.Username != "" && ct.Username != m.cfg.Credentials.Username) {
		return nil
	}

	issued := ct.IssuedAt
	if issued.IsZero() {
		issued = m.cfg.Now()
	}
	// The stored expiry may come from the login fragment rather than an
	// exp claim, so it is passed on as the lifetime.
	var expiresIn time.Duration
	if !ct.Expiry.IsZero() {
		expiresIn = ct.Expiry.Sub(issued)
		if expiresIn <= 0 {
			log.Debug().Time("expires_at", ct.Expiry).Msg("cached token expired")
			return nil
		}
	}
	tok, err := ParseToken(ct.Token, expiresIn, issued)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring malformed cached token")
		return nil
	}
	if tok.NeedsRefresh(m.cfg.Now(), m.cfg.RefreshFraction, m.cfg.MinRefreshMargin) {
		log.Debug().Time("expires_at", tok.ExpiresAt).Msg("cached token too close to expiry")
		return nil
	}

	m.session = &Session{
		Username:      m.cfg.Credentials.Username,
		Token:         tok,
		OwnerID:       ct.OwnerID,
		CacheLocation: m.cacheLocation(),
	}
	if m.ownerID == "" {
		m.ownerID = ct.OwnerID
	}
	m.state = StateAuthenticated
	log.Info().Object("session", m.session).Msg("loaded cached token")
	return m.session
}

func (m *SessionManager) refresh(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	previous := m.session
	if previous == nil {
		m.state = StateAuthenticating
	} else {
		m.state = StateRefreshing
	}
	m.mu.Unlock()

	var res loginResult
	err := m.retrier.Do(ctx, "vacasa login", func(ctx context.Context) error {
		m.logins.Add(1)
		r, err := m.login(ctx)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err == nil {
		var tok Token
		tok, err = ParseToken(res.raw, res.expiresIn, m.cfg.Now())
		if err == nil {
			s := m.adopt(tok, previous)
			m.mu.Lock()
			m.lastErr = nil
			m.mu.Unlock()
			return s, nil
		}
	}

	m.mu.Lock()
	m.session = nil
	m.state = StateUnauthenticated
	m.lastErr = err
	m.mu.Unlock()
	log.Error().Err(err).Str("username", m.cfg.Credentials.Username).Msg("authentication failed")
	return nil, err
}

func (m *SessionManager) adopt(tok Token, previous *Session) *Session {
	s := &Session{
		Username:      m.cfg.Credentials.Username,
		Token:         tok,
		OwnerID:       m.cfg.OwnerID,
		CacheLocation: m.cacheLocation(),
	}
	m.mu.Lock()
	if s.OwnerID == "" {
		s.OwnerID = m.ownerID
	}
	if s.OwnerID == "" && previous != nil {
		s.OwnerID = previous.OwnerID
	}
	m.session = s
	m.state = StateAuthenticated
	m.cacheLoaded = true
	m.mu.Unlock()

	m.persist(s)
	log.Info().Object("session", s).Msg("authenticated")
	return s
}

func (m *SessionManager) persist(s *Session) {
	if m.cache == nil {
		return
	}
	err := m.cache.Save(&CachedToken{
		Token:     s.Token.Raw,
		Expiry:    s.Token.ExpiresAt,
		IssuedAt:  s.Token.IssuedAt,
		OwnerID:   s.OwnerID,
		Username:  s.Username,
		UpdatedAt: m.cfg.Now().UTC(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("saving token cache")
	}
}

func (m *SessionManager) cacheLocation() string {
	if fc, ok := m.cache.(*FileTokenCache); ok {
		return fc.Path()
	}
	return ""
}

// OwnerID returns the owner contact id, asking the portal's verify-token
// endpoint when it was not configured. A rejected token triggers one
// re-authentication.
func (m *SessionManager) OwnerID(ctx context.Context) (string, error) {
	if m.cfg.OwnerID != "" {
		return m.cfg.OwnerID, nil
	}
	m.mu.RLock()
	if m.ownerID != "" {
		id := m.ownerID
		m.mu.RUnlock()
		return id, nil
	}
	m.mu.RUnlock()

	v, err := m.shared(ctx, "owner", func(ctx context.Context) (any, error) {
		id, err := m.discoverOwnerID(ctx)
		if IsTokenExpired(err) {
			m.Invalidate()
			id, err = m.discoverOwnerID(ctx)
			if IsTokenExpired(err) {
				return "", &AuthenticationError{Reason: "token rejected after re-authentication", Err: err}
			}
		}
		return id, err
	})
	if err != nil {
		return "", err
	}
	id := v.(string)

	m.mu.Lock()
	m.ownerID = id
	s := m.session
	if s != nil {
		s.OwnerID = id
	}
	m.mu.Unlock()
	if s != nil {
		m.persist(s)
	}
	return id, nil
}

func (m *SessionManager) discoverOwnerID(ctx context.Context) (string, error) {
	// The session retries its own login; only the verify call is retried here.
	token, err := m.ValidToken(ctx)
	if err != nil {
		return "", err
	}

	var id string
	err = m.retrier.Do(ctx, "verify token", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(m.cfg.Endpoints.APIBaseURL, "/")+"/verify-token", nil)
		if err != nil {
			return fmt.Errorf("creating verify-token request: %w", err)
		}
		setAPIHeaders(req, token, "")

		resp, err := m.cfg.HTTPClient.Do(req)
		if err != nil {
			return classifyTransport("verify token", err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return classifyTransport("verify token", err)
		}
		if resp.StatusCode != http.StatusOK {
			return statusError("verify token", resp, body)
		}

		var payload struct {
			Data struct {
				ContactIDs []any `json:"contactIds"`
			} `json:"data"`
		}
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return &DataParseError{Op: "verify token", Detail: "invalid JSON", Err: err}
		}
		if len(payload.Data.ContactIDs) == 0 {
			return &DataParseError{Op: "verify token", Err: ErrNoOwnerID}
		}
		switch v := payload.Data.ContactIDs[0].(type) {
		case json.Number:
			id = v.String()
		case string:
			id = v
		}
		if id == "" {
			return &DataParseError{Op: "verify token", Err: ErrNoOwnerID}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	log.Info().Str("owner_id", id).Msg("discovered owner id")
	return id, nil
}

// setAPIHeaders applies the headers the owner API expects from the web app.
func setAPIHeaders(req *http.Request, token, ownerID string) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Origin", DefaultRedirectURI)
	req.Header.Set("Referer", DefaultRedirectURI+"/")
	req.Header.Set("User-Agent", defaultUserAgent)
	if ownerID != "" {
		req.Header.Set("X-Authorization-Contact", ownerID)
	}
}
