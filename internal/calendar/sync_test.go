package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rental-occupancy/backend/internal/storage/models"
	"github.com/rental-occupancy/backend/internal/vacasa"
)

type fakeFetcher struct {
	props    []models.Property
	pages    map[string]vacasa.ReservationPage
	errs     map[string]error
	listErr  error
	block    bool
	lastFrom time.Time
	lastTo   time.Time
}

func (f *fakeFetcher) ListProperties(ctx context.Context) ([]models.Property, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.props, f.listErr
}

func (f *fakeFetcher) ListReservations(_ context.Context, unitID string, from, to time.Time) (vacasa.ReservationPage, error) {
	f.lastFrom, f.lastTo = from, to
	if err := f.errs[unitID]; err != nil {
		return vacasa.ReservationPage{}, err
	}
	return f.pages[unitID], nil
}

func newTestSync(f *fakeFetcher, now time.Time) *SyncService {
	s := NewSyncService(f, NewSynthesizer(time.UTC), NewRegistry(), nil, nil, DefaultWindow())
	s.SetClock(func() time.Time { return now })
	return s
}

func TestSyncPopulatesStoreWithinWindow(t *testing.T) {
	now := time.Date(2024, 8, 16, 20, 0, 0, 0, time.UTC)
	f := &fakeFetcher{
		props: []models.Property{beachHouse},
		pages: map[string]vacasa.ReservationPage{
			beachHouse.ID: {
				Reservations: []models.Reservation{
					{ID: "1", UnitID: beachHouse.ID, StartDate: "2024-08-15", EndDate: "2024-08-18", FirstName: "Ann", LastName: "Lee"},
					{ID: "2", UnitID: beachHouse.ID, StartDate: "bad", EndDate: "2024-08-18"},
				},
				Skipped: 1,
			},
		},
	}
	s := newTestSync(f, now)

	results, err := s.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(results) != 1 || results[0].Status != models.SyncStatusSuccess {
		t.Fatalf("results = %+v", results)
	}
	if results[0].EventsCreated != 1 || results[0].Skipped != 2 {
		t.Fatalf("created=%d skipped=%d", results[0].EventsCreated, results[0].Skipped)
	}

	st := s.Registry().Get(beachHouse.ID)
	if st == nil || !st.Ready() || !st.Active(now) {
		t.Fatalf("store not populated")
	}

	loc := beachHouse.Location(time.UTC)
	wantFrom := time.Date(2024, 7, 17, 0, 0, 0, 0, loc)
	if !f.lastFrom.Equal(wantFrom) {
		t.Fatalf("window start = %v, want %v", f.lastFrom, wantFrom)
	}
	if days := f.lastTo.Sub(f.lastFrom).Hours() / 24; days < 394 || days > 396 {
		t.Fatalf("window spans %.1f days", days)
	}
}

func TestSyncFailureKeepsPreviousEvents(t *testing.T) {
	now := time.Date(2024, 8, 16, 20, 0, 0, 0, time.UTC)
	f := &fakeFetcher{
		props: []models.Property{beachHouse},
		pages: map[string]vacasa.ReservationPage{
			beachHouse.ID: {Reservations: []models.Reservation{
				{ID: "1", StartDate: "2024-08-15", EndDate: "2024-08-18"},
			}},
		},
		errs: map[string]error{},
	}
	s := newTestSync(f, now)
	if _, err := s.SyncAll(context.Background()); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	f.errs[beachHouse.ID] = &vacasa.DataParseError{Op: "reservations", Detail: "garbage"}
	result, err := s.SyncProperty(context.Background(), beachHouse)
	if !vacasa.IsDataParse(err) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if result.Status != models.SyncStatusError || result.ErrorMessage == "" {
		t.Fatalf("result = %+v", result)
	}
	if got := s.Registry().Get(beachHouse.ID).Events(); len(got) != 1 {
		t.Fatalf("previous events dropped: %+v", got)
	}
}

func TestSyncAllPropagatesListFailure(t *testing.T) {
	f := &fakeFetcher{listErr: errors.New("boom")}
	s := newTestSync(f, time.Now())
	if _, err := s.SyncAll(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestClampRefreshHours(t *testing.T) {
	cases := map[int]int{0: 8, -3: 8, 1: 1, 8: 8, 24: 24, 30: 24}
	for in, want := range cases {
		if got := ClampRefreshHours(in); got != want {
			t.Fatalf("ClampRefreshHours(%d) = %d, want %d", in, got, want)
		}
	}
}

type recordingPublisher struct {
	ids []string
}

func (p *recordingPublisher) PublishProperty(_ context.Context, prop models.Property) error {
	p.ids = append(p.ids, prop.ID)
	return errors.New("host unavailable")
}

func TestSyncAllPublishesFetchedProperties(t *testing.T) {
	lake := models.Property{ID: "2", Name: "Lake Cabin"}
	f := &fakeFetcher{
		props: []models.Property{beachHouse, lake},
		pages: map[string]vacasa.ReservationPage{},
	}
	s := newTestSync(f, time.Date(2024, 8, 16, 20, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	s.SetPropertyPublisher(pub)

	results, err := s.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("publish failures must not fail the sync: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if len(pub.ids) != 2 || pub.ids[0] != beachHouse.ID || pub.ids[1] != lake.ID {
		t.Fatalf("published %v", pub.ids)
	}

	f.listErr = errors.New("portal down")
	pub.ids = nil
	if _, err := s.SyncAll(context.Background()); err == nil {
		t.Fatalf("expected list failure")
	}
	if len(pub.ids) != 0 {
		t.Fatalf("published after a failed fetch: %v", pub.ids)
	}
}
