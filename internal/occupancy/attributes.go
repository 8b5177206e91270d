package occupancy

import (
	"strconv"
	"time"

	"github.com/rental-occupancy/backend/internal/storage/models"
)

// AttributeLayout is the timestamp format used for attribute values.
const AttributeLayout = "2006-01-02 15:04:05"

// Attributes returns the metadata published next to the occupancy signal,
// with times rendered in loc. Keys with no value are omitted.
func Attributes(st models.OccupancyState, loc *time.Location) map[string]string {
	if loc == nil {
		loc = time.UTC
	}
	attrs := make(map[string]string)
	if ev := st.CurrentEvent; ev != nil {
		attrs["current_checkout"] = ev.End.In(loc).Format(AttributeLayout)
		setNonEmpty(attrs, "current_guest", ev.GuestName)
		attrs["current_reservation_type"] = string(ev.Category)
	}
	if ev := st.NextEvent; ev != nil {
		attrs["next_checkin"] = ev.Start.In(loc).Format(AttributeLayout)
		attrs["next_checkout"] = ev.End.In(loc).Format(AttributeLayout)
		setNonEmpty(attrs, "next_guest", ev.GuestName)
		attrs["next_reservation_type"] = string(ev.Category)
	}
	if st.Status == models.OccupancyPending {
		attrs["retry_count"] = strconv.Itoa(st.RetryCount)
	}
	return attrs
}

func setNonEmpty(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}
