package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rental-occupancy/backend/internal/storage/models"
	"github.com/rental-occupancy/backend/internal/vacasa"
)

// Default stay boundaries when neither the reservation nor the property
// supplies a usable time.
const (
	DefaultCheckinTime  = "16:00"
	DefaultCheckoutTime = "10:00"
)

const dateLayout = "2006-01-02"

// Synthesizer converts reservations into calendar events. It holds no
// mutable state; the same inputs always produce the same event.
type Synthesizer struct {
	fallback *time.Location
}

// NewSynthesizer returns a synthesizer that localizes events of properties
// without a known timezone into fallback (UTC when nil).
func NewSynthesizer(fallback *time.Location) *Synthesizer {
	if fallback == nil {
		fallback = time.UTC
	}
	return &Synthesizer{fallback: fallback}
}

// Synthesize builds the calendar event for one reservation of property.
func (s *Synthesizer) Synthesize(r models.Reservation, p models.Property) (models.CalendarEvent, error) {
	loc := p.Location(s.fallback)

	startDay, err := time.ParseInLocation(dateLayout, r.StartDate, loc)
	if err != nil {
		return models.CalendarEvent{}, &vacasa.DataParseError{Op: "synthesize", Detail: fmt.Sprintf("reservation %s: invalid start date", r.ID)}
	}
	endDay, err := time.ParseInLocation(dateLayout, r.EndDate, loc)
	if err != nil {
		return models.CalendarEvent{}, &vacasa.DataParseError{Op: "synthesize", Detail: fmt.Sprintf("reservation %s: invalid end date", r.ID)}
	}
	if endDay.Before(startDay) {
		return models.CalendarEvent{}, &vacasa.DataParseError{Op: "synthesize", Detail: fmt.Sprintf("reservation %s: ends before it starts", r.ID)}
	}

	checkin := resolveClock(r.CheckinTime, p.DefaultCheckinTime, DefaultCheckinTime)
	checkout := resolveClock(r.CheckoutTime, p.DefaultCheckoutTime, DefaultCheckoutTime)

	start := atClock(startDay, checkin, loc)
	end := atClock(endDay, checkout, loc)
	if end.Before(start) {
		// Same-day holds with default times would otherwise end before they start.
		end = time.Date(endDay.Year(), endDay.Month(), endDay.Day(), 23, 59, 59, 0, loc)
	}

	category := Classify(r)
	return models.CalendarEvent{
		UID:           "reservation_" + r.ID,
		ReservationID: r.ID,
		PropertyID:    p.ID,
		Summary:       summary(r, category),
		Description:   description(r, category, start, end),
		Location:      p.Name,
		Category:      category,
		GuestName:     r.GuestName(),
		Start:         start,
		End:           end,
	}, nil
}

// SynthesizeAll converts every reservation, skipping the ones that cannot be
// converted. Events are ordered by start, end and uid.
func (s *Synthesizer) SynthesizeAll(reservations []models.Reservation, p models.Property) ([]models.CalendarEvent, []error) {
	events := make([]models.CalendarEvent, 0, len(reservations))
	var errs []error
	seen := make(map[string]bool, len(reservations))
	for _, r := range reservations {
		ev, err := s.Synthesize(r, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[ev.UID] {
			continue
		}
		seen[ev.UID] = true
		events = append(events, ev)
	}
	SortEvents(events)
	return events, errs
}

// SortEvents orders events by start, then end, then uid.
func SortEvents(events []models.CalendarEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		return a.UID < b.UID
	})
}

// IsPlaceholderClock reports whether the vendor sent midnight or noon, which
// it uses to mean "no time known".
func IsPlaceholderClock(d time.Duration) bool {
	return d == 0 || d == 12*time.Hour
}

// resolveClock picks the reservation's own time unless it is a
// placeholder, then the property's configured default, then fallback.
// Only the reservation's value is checked for placeholders.
func resolveClock(explicit, propertyDefault, fallback string) time.Duration {
	if d, ok := vacasa.ParseClock(explicit); ok && !IsPlaceholderClock(d) {
		return d
	}
	if d, ok := vacasa.ParseClock(propertyDefault); ok {
		return d
	}
	d, _ := vacasa.ParseClock(fallback)
	return d
}

func atClock(day time.Time, clock time.Duration, loc *time.Location) time.Time {
	h := int(clock / time.Hour)
	m := int(clock % time.Hour / time.Minute)
	sec := int(clock % time.Minute / time.Second)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, sec, 0, loc)
}

func summary(r models.Reservation, c models.Category) string {
	prefix := c.DisplayName()
	hold := holdOf(r)
	switch {
	case c == models.CategoryGuestBooking && r.GuestName() != "":
		return prefix + ": " + r.GuestName()
	case c == models.CategoryOwnerStay && hold.WhoBooked != "":
		return prefix + ": " + hold.WhoBooked
	case hold.HoldType != "":
		return prefix + ": " + hold.HoldType
	default:
		return prefix
	}
}

func description(r models.Reservation, c models.Category, start, end time.Time) string {
	hold := holdOf(r)
	lines := []string{
		"Check-in: " + start.Format("2006-01-02 15:04"),
		"Check-out: " + end.Format("2006-01-02 15:04"),
		"",
	}

	switch c {
	case models.CategoryGuestBooking:
		lines = append(lines, "Type: Guest booking")
	case models.CategoryOwnerStay:
		lines = append(lines, "Type: Owner stay")
	case models.CategoryMaintenance:
		lines = append(lines, "Type: Maintenance")
	case models.CategoryBlock:
		lines = append(lines, "Type: Block")
		if hold.HoldType != "" {
			lines = append(lines, "Block type: "+hold.HoldType)
		}
	default:
		lines = append(lines, "Type: Other")
	}

	if hold.WhoBooked != "" && c != models.CategoryOwnerStay {
		lines = append(lines, "Booked by: "+hold.WhoBooked)
	}
	if hold.ExternalNote != "" {
		lines = append(lines, "Note: "+hold.ExternalNote)
	}
	return strings.Join(lines, "\n")
}

func holdOf(r models.Reservation) models.OwnerHold {
	if r.OwnerHold == nil {
		return models.OwnerHold{}
	}
	return *r.OwnerHold
}
