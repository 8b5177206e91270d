package vacasa

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	csrfPattern      = regexp.MustCompile(`name="csrfmiddlewaretoken" value="([^"]+)"`)
	bodyTokenPattern = regexp.MustCompile(`access_token=([^&"'\s<]+)`)
)

// loginResult is what the redirect chain yields.
type loginResult struct {
	raw       string
	expiresIn time.Duration
}

// login runs one pass of the portal's form login: fetch the login page for
// its CSRF token, post the credentials, then walk the redirect chain until a
// location's fragment carries the access token.
func (m *SessionManager) login(ctx context.Context) (loginResult, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return loginResult{}, fmt.Errorf("creating cookie jar: %w", err)
	}
	client := &http.Client{
		Transport: m.cfg.HTTPClient.Transport,
		Timeout:   m.cfg.HTTPClient.Timeout,
		Jar:       jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	now := m.cfg.Now()
	loginURL, err := url.Parse(m.cfg.Endpoints.AuthURL)
	if err != nil {
		return loginResult{}, fmt.Errorf("parsing auth url: %w", err)
	}
	loginURL.RawQuery = m.authorizeParams(now, true).Encode()

	csrf, err := fetchCSRF(ctx, client, loginURL.String())
	if err != nil {
		return loginResult{}, err
	}
	log.Debug().Str("csrf", truncate(csrf, 6)).Msg("fetched login page")

	location, err := m.submitCredentials(ctx, client, loginURL.String(), csrf, now)
	if err != nil {
		return loginResult{}, err
	}

	next, err := loginURL.Parse(location)
	if err != nil {
		return loginResult{}, &DataParseError{Op: "login", Detail: "invalid redirect location", Err: err}
	}
	return followRedirects(ctx, client, next)
}

// authorizeParams builds the query the portal expects on /login and inside
// the form's next field.
func (m *SessionManager) authorizeParams(now time.Time, withNext bool) url.Values {
	state := strconv.FormatInt(now.Unix(), 10)
	v := url.Values{}
	if withNext {
		v.Set("next", "/authorize")
	}
	v.Set("directory_hint", "email")
	v.Set("owner_migration_needed", "true")
	v.Set("client_id", m.cfg.Endpoints.ClientID)
	v.Set("response_type", "token")
	v.Set("redirect_uri", m.cfg.Endpoints.RedirectURI)
	v.Set("scope", DefaultScope)
	v.Set("audience", m.cfg.Endpoints.Audience)
	v.Set("state", state)
	v.Set("nonce", state+"-nonce")
	v.Set("mode", "owner")
	return v
}

func fetchCSRF(ctx context.Context, client *http.Client, loginURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating login page request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", classifyTransport("fetch login page", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", classifyTransport("read login page", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", &TransientNetworkError{Op: "fetch login page", StatusCode: resp.StatusCode}
		}
		return "", &AuthenticationError{Reason: fmt.Sprintf("login page unavailable (status %d)", resp.StatusCode)}
	}

	match := csrfPattern.FindSubmatch(body)
	if match == nil {
		return "", &DataParseError{Op: "fetch login page", Detail: "csrf token not found"}
	}
	return string(match[1]), nil
}

func (m *SessionManager) submitCredentials(ctx context.Context, client *http.Client, loginURL, csrf string, now time.Time) (string, error) {
	form := url.Values{}
	form.Set("csrfmiddlewaretoken", csrf)
	form.Set("username", m.cfg.Credentials.Username)
	form.Set("password", m.cfg.Credentials.Password)
	form.Set("next", "/authorize?"+m.authorizeParams(now, false).Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", loginURL)
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", classifyTransport("submit credentials", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusSeeOther:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", &TransientNetworkError{Op: "submit credentials", StatusCode: resp.StatusCode}
	default:
		return "", &AuthenticationError{
			Reason: fmt.Sprintf("portal rejected login (status %d)", resp.StatusCode),
			Err:    ErrInvalidCredentials,
		}
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", &DataParseError{Op: "submit credentials", Detail: "redirect without location"}
	}
	return location, nil
}

func followRedirects(ctx context.Context, client *http.Client, current *url.URL) (loginResult, error) {
	for hop := 0; hop < maxRedirects; hop++ {
		if res, ok := tokenFromFragment(current); ok {
			return res, nil
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current.String(), nil)
		if err != nil {
			return loginResult{}, fmt.Errorf("creating redirect request: %w", err)
		}
		req.Header.Set("User-Agent", defaultUserAgent)

		resp, err := client.Do(req)
		if err != nil {
			return loginResult{}, classifyTransport("follow redirect", err)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
			loc := resp.Header.Get("Location")
			if loc == "" {
				return loginResult{}, &DataParseError{Op: "follow redirect", Detail: "redirect without location"}
			}
			next, err := current.Parse(loc)
			if err != nil {
				return loginResult{}, &DataParseError{Op: "follow redirect", Detail: "invalid redirect location", Err: err}
			}
			current = next
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return loginResult{}, &TransientNetworkError{Op: "follow redirect", StatusCode: resp.StatusCode}
		}
		if m := bodyTokenPattern.FindSubmatch(body); m != nil {
			return loginResult{raw: string(m[1])}, nil
		}
		return loginResult{}, &DataParseError{Op: "follow redirect", Err: ErrNoToken}
	}
	return loginResult{}, &DataParseError{Op: "follow redirect", Detail: "too many redirects", Err: ErrNoToken}
}

func tokenFromFragment(u *url.URL) (loginResult, bool) {
	if u.Fragment == "" {
		return loginResult{}, false
	}
	values, err := url.ParseQuery(u.EscapedFragment())
	if err != nil {
		return loginResult{}, false
	}
	raw := values.Get("access_token")
	if raw == "" {
		return loginResult{}, false
	}
	res := loginResult{raw: raw}
	if secs, err := strconv.Atoi(values.Get("expires_in")); err == nil && secs > 0 {
		res.expiresIn = time.Duration(secs) * time.Second
	}
	return res, true
}
