// Package calendar turns vendor reservations into calendar events and keeps
// each property's event set current.
package calendar

import (
	"strings"

	"github.com/rental-occupancy/backend/internal/storage/models"
)

var maintenanceKeywords = []string{"maintenance", "property care"}

// Classify assigns exactly one category to a reservation. Owner holds are
// inspected first, then guest names (both first and last required);
// "other" catches the rest.
func Classify(r models.Reservation) models.Category {
	if r.OwnerHold != nil {
		hold := strings.ToLower(r.OwnerHold.HoldType)
		if strings.Contains(hold, "owner") {
			return models.CategoryOwnerStay
		}
		for _, kw := range maintenanceKeywords {
			if strings.Contains(hold, kw) {
				return models.CategoryMaintenance
			}
		}
		return models.CategoryBlock
	}
	if strings.TrimSpace(r.FirstName) != "" && strings.TrimSpace(r.LastName) != "" {
		return models.CategoryGuestBooking
	}
	return models.CategoryOther
}
