package calendar

import (
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/rental-occupancy/backend/internal/storage/models"
)

const productID = "-//rental-occupancy//vacasa calendar//EN"

// WriteICS renders events as an iCalendar feed named name. stamp is used
// for DTSTAMP so identical inputs serialize identically.
func WriteICS(w io.Writer, name string, events []models.CalendarEvent, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName(name)

	for _, ev := range events {
		ve := cal.AddEvent(ev.UID)
		ve.SetDtStampTime(stamp.UTC())
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
		ve.SetSummary(ev.Summary)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		ve.SetProperty(ical.ComponentPropertyCategories, strings.ToUpper(string(ev.Category)))
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}
