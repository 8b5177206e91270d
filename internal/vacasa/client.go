package vacasa

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/rental-occupancy/backend/internal/backoff"
	"github.com/rental-occupancy/backend/internal/storage/models"
)

// Reservation query window defaults.
const (
	DefaultPastDays   = 30
	DefaultFutureDays = 365
	defaultPageSize   = 100
	defaultMaxPages   = 20
)

// PropertyCache stores the last fetched property list. fetchedAt is zero
// when nothing is cached.
type PropertyCache interface {
	CachedProperties(ctx context.Context) (props []models.Property, fetchedAt time.Time, err error)
	StoreProperties(ctx context.Context, props []models.Property, fetchedAt time.Time) error
	ClearProperties(ctx context.Context) error
}

// ClientConfig tunes the fetcher.
type ClientConfig struct {
	PropertyTTL time.Duration
	PageSize    int
	MaxPages    int
}

// Client fetches units and reservations from the owner API on behalf of a
// session.
type Client struct {
	session *SessionManager
	http    *http.Client
	baseURL string
	now     func() time.Time
	cfg     ClientConfig
	cache   PropertyCache
	retrier *backoff.Retrier
	flights singleflight.Group

	mu      sync.Mutex
	props   []models.Property
	propsAt time.Time
}

// NewClient creates a fetcher. cache may be nil, in which case properties
// are cached in memory only.
func NewClient(session *SessionManager, cfg ClientConfig, cache PropertyCache) *Client {
	if cfg.PropertyTTL <= 0 {
		cfg.PropertyTTL = time.Hour
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	sc := session.cfg
	return &Client{
		session: session,
		http:    sc.HTTPClient,
		baseURL: strings.TrimRight(sc.Endpoints.APIBaseURL, "/"),
		now:     sc.Now,
		cfg:     cfg,
		cache:   cache,
		retrier: &backoff.Retrier{
			Config:      sc.Backoff,
			MaxAttempts: sc.MaxAttempts,
			Retryable:   IsTransient,
			Rand:        sc.Rand,
			Sleep:       sc.Sleep,
		},
	}
}

// Session returns the session the client authenticates with.
func (c *Client) Session() *SessionManager {
	return c.session
}

// ListProperties returns the owner's units, served from cache while it is
// younger than the TTL.
func (c *Client) ListProperties(ctx context.Context) ([]models.Property, error) {
	if props, ok := c.cachedProperties(ctx); ok {
		return props, nil
	}

	v, err, _ := c.flights.Do("properties", func() (any, error) {
		if props, ok := c.cachedProperties(ctx); ok {
			return props, nil
		}
		return c.fetchProperties(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Property), nil
}

// Property returns a single unit by id, or (nil, nil) if unknown.
func (c *Client) Property(ctx context.Context, id string) (*models.Property, error) {
	props, err := c.ListProperties(ctx)
	if err != nil {
		return nil, err
	}
	for i := range props {
		if props[i].ID == id {
			return &props[i], nil
		}
	}
	return nil, nil
}

// ClearCache drops cached properties so the next call refetches.
func (c *Client) ClearCache(ctx context.Context) error {
	c.mu.Lock()
	c.props = nil
	c.propsAt = time.Time{}
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.ClearProperties(ctx); err != nil {
			return fmt.Errorf("clearing property cache: %w", err)
		}
	}
	log.Info().Msg("property cache cleared")
	return nil
}

func (c *Client) cachedProperties(ctx context.Context) ([]models.Property, bool) {
	now := c.now()

	c.mu.Lock()
	if c.props != nil && now.Sub(c.propsAt) < c.cfg.PropertyTTL {
		props := c.props
		c.mu.Unlock()
		return props, true
	}
	c.mu.Unlock()

	if c.cache == nil {
		return nil, false
	}
	props, at, err := c.cache.CachedProperties(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("reading property cache")
		return nil, false
	}
	if at.IsZero() || now.Sub(at) >= c.cfg.PropertyTTL {
		return nil, false
	}

	c.mu.Lock()
	c.props, c.propsAt = props, at
	c.mu.Unlock()
	return props, true
}

func (c *Client) fetchProperties(ctx context.Context) ([]models.Property, error) {
	owner, err := c.session.OwnerID(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, "list units", "/owners/"+url.PathEscape(owner)+"/units", nil)
	if err != nil {
		return nil, err
	}

	var doc unitsDocument
	if err := decodeDocument("list units", body, &doc); err != nil {
		log.Warn().Err(err).Msg("discarding malformed units response")
		return nil, err
	}

	fetchedAt := c.now().UTC()
	props := make([]models.Property, 0, len(doc.Data))
	for _, u := range doc.Data {
		if err := validateStruct("list units", u); err != nil {
			log.Warn().Err(err).Str("unit_id", string(u.ID)).Msg("skipping malformed unit")
			continue
		}
		props = append(props, u.toProperty(fetchedAt))
	}

	c.mu.Lock()
	c.props, c.propsAt = props, fetchedAt
	c.mu.Unlock()
	if c.cache != nil {
		if err := c.cache.StoreProperties(ctx, props, fetchedAt); err != nil {
			log.Warn().Err(err).Msg("writing property cache")
		}
	}

	log.Info().Int("count", len(props)).Str("owner_id", owner).Msg("fetched properties")
	return props, nil
}

// ReservationPage is the outcome of listing one unit's reservations.
type ReservationPage struct {
	Reservations []models.Reservation
	// Skipped counts records dropped for failing validation.
	Skipped int
}

// ListReservations returns every reservation of unitID overlapping
// [from, to]. Concurrent identical requests share one fetch.
func (c *Client) ListReservations(ctx context.Context, unitID string, from, to time.Time) (ReservationPage, error) {
	start, end := from.Format("2006-01-02"), to.Format("2006-01-02")
	key := "reservations:" + unitID + ":" + start + ":" + end

	v, err, _ := c.flights.Do(key, func() (any, error) {
		return c.fetchReservations(ctx, unitID, start, end)
	})
	if err != nil {
		return ReservationPage{}, err
	}
	return v.(ReservationPage), nil
}

func (c *Client) fetchReservations(ctx context.Context, unitID, start, end string) (ReservationPage, error) {
	owner, err := c.session.OwnerID(ctx)
	if err != nil {
		return ReservationPage{}, err
	}
	path := "/owners/" + url.PathEscape(owner) + "/units/" + url.PathEscape(unitID) + "/reservations"

	var page ReservationPage
	for n := 1; n <= c.cfg.MaxPages; n++ {
		q := url.Values{}
		q.Set("startDate", start)
		q.Set("endDate", end)
		q.Set("page[limit]", strconv.Itoa(c.cfg.PageSize))
		q.Set("page[number]", strconv.Itoa(n))
		q.Set("filterCancelledReservations", "1")
		q.Set("unitRelationshipId", "")
		q.Set("sort", "asc")
		q.Set("acceptVersion", "v2")

		body, err := c.get(ctx, "list reservations", path, q)
		if err != nil {
			return ReservationPage{}, err
		}

		var doc reservationsDocument
		if err := decodeDocument("list reservations", body, &doc); err != nil {
			log.Warn().Err(err).Str("unit_id", unitID).Msg("discarding malformed reservations response")
			return ReservationPage{}, err
		}

		for _, r := range doc.Data {
			if err := validateStruct("list reservations", r); err != nil {
				log.Warn().Err(err).Str("unit_id", unitID).Str("reservation_id", string(r.ID)).Msg("skipping malformed reservation")
				page.Skipped++
				continue
			}
			page.Reservations = append(page.Reservations, r.toReservation(unitID))
		}

		if len(doc.Data) < c.cfg.PageSize {
			break
		}
	}

	log.Debug().
		Str("unit_id", unitID).
		Str("from", start).
		Str("to", end).
		Int("count", len(page.Reservations)).
		Int("skipped", page.Skipped).
		Msg("fetched reservations")
	return page, nil
}

// get performs an authenticated GET. A 401 invalidates the session and the
// request is replayed once with a fresh token.
func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	body, err := c.getWithRetry(ctx, op, path, query)
	if !IsTokenExpired(err) {
		return body, err
	}

	log.Warn().Str("operation", op).Msg("token rejected, re-authenticating")
	c.session.Invalidate()
	body, err = c.getWithRetry(ctx, op, path, query)
	if IsTokenExpired(err) {
		return nil, &AuthenticationError{Reason: op + ": token rejected after re-authentication", Err: err}
	}
	return body, err
}

// getWithRetry retries the request itself. The token and owner id are
// resolved once up front since the session already retries its login.
func (c *Client) getWithRetry(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	token, err := c.session.ValidToken(ctx)
	if err != nil {
		return nil, err
	}
	owner, err := c.session.OwnerID(ctx)
	if err != nil {
		return nil, err
	}

	var body []byte
	err = c.retrier.Do(ctx, op, func(ctx context.Context) error {
		b, err := c.getOnce(ctx, op, path, query, token, owner)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

func (c *Client) getOnce(ctx context.Context, op, path string, query url.Values, token, owner string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	setAPIHeaders(req, token, owner)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(op, resp, body)
	}
	return body, nil
}
