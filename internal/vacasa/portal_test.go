package vacasa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rental-occupancy/backend/internal/backoff"
)

const (
	testUsername = "owner@example.com"
	testPassword = "correct-horse"
	testOwnerID  = "12345"
)

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 8, 16, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func makeJWT(t *testing.T, iat, exp time.Time) string {
	t.Helper()
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload, err := json.Marshal(map[string]any{
		"sub": "auth0|owner",
		"iat": iat.Unix(),
		"exp": exp.Unix(),
	})
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return header + "." + enc.EncodeToString(payload) + ".c2lnbmF0dXJl"
}

// fakePortal emulates the login flow and the owner API.
type fakePortal struct {
	t     *testing.T
	srv   *httptest.Server
	clock *testClock

	lifetime  time.Duration
	tokenFunc func() string
	postDelay time.Duration

	failPosts     atomic.Int32
	logins        atomic.Int32
	verifyCalls   atomic.Int32
	unitCalls     atomic.Int32
	resCalls      atomic.Int32
	unauthorized  atomic.Int32
	alwaysReject  atomic.Bool
	mu            sync.Mutex
	units         string
	reservations  map[string][]string
	lastOwnerHdr  string
	lastAuthHdr   string
	lastResQuery  string
	issuedTokens  []string
}

func newFakePortal(t *testing.T, clock *testClock) *fakePortal {
	t.Helper()
	p := &fakePortal{
		t:            t,
		clock:        clock,
		lifetime:     10 * time.Minute,
		reservations: map[string][]string{},
		units: `{"data":[{"id":"67890","type":"unit","attributes":{
			"name":"Beach House","code":"BH1","timezone":"America/Los_Angeles",
			"checkInTime":"16:00:00","checkOutTime":"10:00:00","maxOccupancyTotal":8,
			"rating":4.8,"location":{"lat":45.5,"lng":-123.9},
			"address":{"address_1":"1 Ocean Rd","city":"Manzanita","state":"OR","zip":"97130","country":{"code":"US"}},
			"amenities":{"rooms":{"bedrooms":3,"bathrooms":{"full":2,"half":1}},"hotTub":true,"petsFriendly":false},
			"parking":{"total":2}}}]}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login", p.handleLogin)
	mux.HandleFunc("/authorize", p.handleAuthorize)
	mux.HandleFunc("/api/v1/verify-token", p.handleVerify)
	mux.HandleFunc("/api/v1/owners/", p.handleOwners)
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePortal) issue() string {
	if p.tokenFunc != nil {
		return p.tokenFunc()
	}
	now := p.clock.Now()
	tok := makeJWT(p.t, now, now.Add(p.lifetime))
	p.mu.Lock()
	p.issuedTokens = append(p.issuedTokens, tok)
	p.mu.Unlock()
	return tok
}

func (p *fakePortal) currentToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.issuedTokens) == 0 {
		return ""
	}
	return p.issuedTokens[len(p.issuedTokens)-1]
}

func (p *fakePortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "cookie-csrf", Path: "/"})
		fmt.Fprint(w, `<html><form method="post"><input type="hidden" name="csrfmiddlewaretoken" value="csrf-abc123"></form></html>`)
	case http.MethodPost:
		p.logins.Add(1)
		if p.postDelay > 0 {
			time.Sleep(p.postDelay)
		}
		if p.failPosts.Load() > 0 {
			p.failPosts.Add(-1)
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("csrfmiddlewaretoken") != "csrf-abc123" {
			http.Error(w, "csrf", http.StatusForbidden)
			return
		}
		if !strings.HasPrefix(r.PostForm.Get("next"), "/authorize?") {
			http.Error(w, "next", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("username") != testUsername || r.PostForm.Get("password") != testPassword {
			// The portal re-renders the form on bad credentials.
			fmt.Fprint(w, `<html>Please enter a correct email and password.</html>`)
			return
		}
		w.Header().Set("Location", "/authorize?client_id=x&response_type=token")
		w.WriteHeader(http.StatusFound)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (p *fakePortal) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	loc := fmt.Sprintf("https://owners.example.invalid/#access_token=%s&token_type=Bearer&expires_in=%d",
		p.issue(), int(p.lifetime.Seconds()))
	w.Header().Set("Location", loc)
	w.WriteHeader(http.StatusFound)
}

func (p *fakePortal) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	p.mu.Lock()
	p.lastAuthHdr = r.Header.Get("Authorization")
	p.lastOwnerHdr = r.Header.Get("X-Authorization-Contact")
	p.mu.Unlock()

	if p.alwaysReject.Load() {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	if p.unauthorized.Load() > 0 {
		p.unauthorized.Add(-1)
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	if r.Header.Get("Authorization") != "Bearer "+p.currentToken() {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

func (p *fakePortal) handleVerify(w http.ResponseWriter, r *http.Request) {
	p.verifyCalls.Add(1)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+p.currentToken() {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	fmt.Fprintf(w, `{"data":{"contactIds":[%s]}}`, testOwnerID)
}

func (p *fakePortal) handleOwners(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/owners/"+testOwnerID)
	switch {
	case path == "/units":
		p.unitCalls.Add(1)
		if !p.checkAuth(w, r) {
			return
		}
		p.mu.Lock()
		body := p.units
		p.mu.Unlock()
		fmt.Fprint(w, body)
	case strings.HasPrefix(path, "/units/") && strings.HasSuffix(path, "/reservations"):
		p.resCalls.Add(1)
		if !p.checkAuth(w, r) {
			return
		}
		unit := strings.TrimSuffix(strings.TrimPrefix(path, "/units/"), "/reservations")
		p.mu.Lock()
		p.lastResQuery = r.URL.RawQuery
		pages := p.reservations[unit]
		p.mu.Unlock()

		n := 1
		fmt.Sscanf(r.URL.Query().Get("page[number]"), "%d", &n)
		if n-1 < len(pages) {
			fmt.Fprint(w, pages[n-1])
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	default:
		http.NotFound(w, r)
	}
}

func (p *fakePortal) sessionConfig() SessionConfig {
	return SessionConfig{
		Endpoints: Endpoints{
			AuthURL:    p.srv.URL + "/login",
			APIBaseURL: p.srv.URL + "/api/v1",
		},
		Credentials: Credentials{Username: testUsername, Password: testPassword},
		MaxAttempts: 3,
		Backoff:     backoff.Config{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond},
		HTTPClient:  p.srv.Client(),
		Now:         p.clock.Now,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}
