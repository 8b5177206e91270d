package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/rental-occupancy/backend/internal/api/handlers"
	"github.com/rental-occupancy/backend/internal/calendar"
	"github.com/rental-occupancy/backend/internal/storage"
	"github.com/rental-occupancy/backend/internal/storage/models"
	"github.com/rental-occupancy/backend/internal/vacasa"
)

var now = time.Date(2024, 8, 16, 18, 0, 0, 0, time.UTC)

type stubOccupancy struct{}

func (stubOccupancy) State(id string) (models.OccupancyState, bool) {
	if id != "p1" {
		return models.OccupancyState{}, false
	}
	return models.OccupancyState{PropertyID: "p1", Status: models.OccupancyOccupied, IsOccupied: true}, true
}

func (stubOccupancy) Attributes(string) (map[string]string, bool) {
	return map[string]string{"current_guest": "Ann"}, true
}

func (s stubOccupancy) States() []models.OccupancyState {
	st, _ := s.State("p1")
	return []models.OccupancyState{st}
}

type stubSession struct{ invalidated bool }

func (s *stubSession) Info() vacasa.SessionInfo {
	return vacasa.SessionInfo{State: "authenticated", Username: "owner@example.com", TokenPrefix: "eyJhbGci..."}
}

func (s *stubSession) Invalidate() { s.invalidated = true }

type stubCache struct{ cleared bool }

func (c *stubCache) ClearCache(context.Context) error {
	c.cleared = true
	return nil
}

type stubRefresher struct{ err error }

func (r stubRefresher) SyncNow(context.Context) ([]models.SyncResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []models.SyncResult{{PropertyID: "p1", Status: models.SyncStatusSuccess}}, nil
}

func testServices(t *testing.T) (Services, *stubSession, *stubCache) {
	t.Helper()
	registry := calendar.NewRegistry()
	st := registry.Ensure(models.Property{ID: "p1", Name: "Beach House", Timezone: "UTC"})
	st.Replace([]models.CalendarEvent{
		{UID: "reservation_1", PropertyID: "p1", Summary: "Guest Booking: Ann", Category: models.CategoryGuestBooking,
			Start: now.Add(-24 * time.Hour), End: now.Add(16 * time.Hour)},
		{UID: "reservation_2", PropertyID: "p1", Summary: "Owner Stay: Owner", Category: models.CategoryOwnerStay,
			Start: now.Add(10 * 24 * time.Hour), End: now.Add(12 * 24 * time.Hour)},
	}, now)
	registry.Ensure(models.Property{ID: "p2", Name: "Lake"})

	session := &stubSession{}
	cache := &stubCache{}
	return Services{
		Registry:  registry,
		Occupancy: stubOccupancy{},
		Session:   session,
		Cache:     cache,
		Refresher: stubRefresher{},
		Now:       func() time.Time { return now },
	}, session, cache
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPropertyRoutes(t *testing.T) {
	svc, _, _ := testServices(t)
	r := NewRouter(svc)

	rec := do(t, r, "GET", "/api/properties", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var props []handlers.PropertyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &props); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(props) != 2 || props[0].ID != "p1" || props[0].EventCount != 2 || props[0].Occupancy == nil {
		t.Fatalf("props = %+v", props)
	}
	if props[1].CalendarReady {
		t.Fatalf("unsynced property reported ready")
	}

	if rec := do(t, r, "GET", "/api/properties/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown property status = %d", rec.Code)
	}
}

func TestEventRoutes(t *testing.T) {
	svc, _, _ := testServices(t)
	r := NewRouter(svc)

	var events []models.CalendarEvent
	rec := do(t, r, "GET", "/api/properties/p1/events", "")
	json.Unmarshal(rec.Body.Bytes(), &events)
	if rec.Code != http.StatusOK || len(events) != 2 {
		t.Fatalf("default window: status=%d events=%d", rec.Code, len(events))
	}

	rec = do(t, r, "GET", "/api/properties/p1/events?start=2024-08-20&end=2024-09-30", "")
	events = nil
	json.Unmarshal(rec.Body.Bytes(), &events)
	if len(events) != 1 || events[0].UID != "reservation_2" {
		t.Fatalf("ranged events = %+v", events)
	}

	if rec := do(t, r, "GET", "/api/properties/p1/events?start=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad start status = %d", rec.Code)
	}
	if rec := do(t, r, "GET", "/api/properties/p1/events?start=2024-09-01&end=2024-08-01", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted range status = %d", rec.Code)
	}
}

func TestCalendarRoutes(t *testing.T) {
	svc, _, _ := testServices(t)
	r := NewRouter(svc)

	rec := do(t, r, "GET", "/api/properties/p1/calendar", "")
	var cal handlers.CalendarResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &cal); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !cal.Active || cal.Current == nil || cal.Current.UID != "reservation_1" || cal.EntityID != "calendar.beach_house" {
		t.Fatalf("calendar = %+v", cal)
	}
	if cal.Next == nil || cal.Next.UID != "reservation_2" || len(cal.Upcoming) != 2 {
		t.Fatalf("calendar = %+v", cal)
	}

	rec = do(t, r, "GET", "/api/properties/p1/calendar.ics", "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar") {
		t.Fatalf("ics status=%d type=%s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "UID:reservation_1") {
		t.Fatalf("ics body missing uid:\n%s", rec.Body.String())
	}

	if rec := do(t, r, "GET", "/api/properties/p2/calendar.ics", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unsynced ics status = %d", rec.Code)
	}
}

func TestOccupancyAndSessionRoutes(t *testing.T) {
	svc, _, _ := testServices(t)
	r := NewRouter(svc)

	rec := do(t, r, "GET", "/api/properties/p1/occupancy", "")
	var occ handlers.OccupancyResponse
	json.Unmarshal(rec.Body.Bytes(), &occ)
	if rec.Code != http.StatusOK || !occ.IsOccupied || occ.Attributes["current_guest"] != "Ann" {
		t.Fatalf("occupancy status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := do(t, r, "GET", "/api/properties/p2/occupancy", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing occupancy status = %d", rec.Code)
	}
	if rec := do(t, r, "GET", "/api/occupancy", ""); rec.Code != http.StatusOK {
		t.Fatalf("list occupancy status = %d", rec.Code)
	}

	rec = do(t, r, "GET", "/api/session", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"token_prefix":"eyJhbGci..."`) {
		t.Fatalf("session = %s", rec.Body.String())
	}
}

func TestServiceRoutes(t *testing.T) {
	svc, session, cache := testServices(t)
	r := NewRouter(svc)

	rec := do(t, r, "POST", "/api/services/refresh_data", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"property_id":"p1"`) {
		t.Fatalf("refresh status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(t, r, "POST", "/api/services/clear_cache", `{"token":true}`)
	if rec.Code != http.StatusNoContent || !cache.cleared || !session.invalidated {
		t.Fatalf("clear cache status=%d cleared=%v invalidated=%v", rec.Code, cache.cleared, session.invalidated)
	}

	svc.Refresher = stubRefresher{err: &vacasa.AuthenticationError{Reason: "credentials rejected", Err: vacasa.ErrInvalidCredentials}}
	rec = do(t, NewRouter(svc), "POST", "/api/services/refresh_data", "")
	if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), "authentication_error") {
		t.Fatalf("auth failure status=%d body=%s", rec.Code, rec.Body.String())
	}

	svc.Refresher = stubRefresher{err: &vacasa.TransientNetworkError{Op: "reservations", StatusCode: 503}}
	if rec := do(t, NewRouter(svc), "POST", "/api/services/refresh_data", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("transient failure status = %d", rec.Code)
	}
}

func TestBasicAuthProtectsAPI(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	svc, _, _ := testServices(t)
	svc.AuthUsername = "admin"
	svc.AuthPasswordHash = string(hash)
	r := NewRouter(svc)

	if rec := do(t, r, "GET", "/api/properties", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}

	req := httptest.NewRequest("GET", "/api/properties", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", rec.Code)
	}
}

func TestHealthReportsSchemaAndSession(t *testing.T) {
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "health.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	svc, _, _ := testServices(t)
	svc.DB = db
	rec := do(t, NewRouter(svc), "GET", "/api/health", "")
	var health handlers.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || health.Status != "healthy" || health.SchemaVersion != "001_initial.sql" || health.SessionState != "authenticated" {
		t.Fatalf("health status=%d body=%+v", rec.Code, health)
	}

	svc.DB = nil
	if rec := do(t, NewRouter(svc), "GET", "/api/health", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("missing database status = %d", rec.Code)
	}
}
