package calendar

import (
	"testing"

	"github.com/rental-occupancy/backend/internal/storage/models"
)

func TestClassify(t *testing.T) {
	hold := func(kind string) *models.OwnerHold { return &models.OwnerHold{HoldType: kind} }

	tests := []struct {
		name string
		in   models.Reservation
		want models.Category
	}{
		{"guest with both names", models.Reservation{FirstName: "Guest", LastName: "Name"}, models.CategoryGuestBooking},
		{"first name only is other", models.Reservation{FirstName: "Guest"}, models.CategoryOther},
		{"last name only is other", models.Reservation{LastName: "Name"}, models.CategoryOther},
		{"owner hold", models.Reservation{OwnerHold: hold("Owner Hold")}, models.CategoryOwnerStay},
		{"owner hold wins over guest name", models.Reservation{FirstName: "A", LastName: "B", OwnerHold: hold("owner stay")}, models.CategoryOwnerStay},
		{"maintenance hold", models.Reservation{OwnerHold: hold("Maintenance")}, models.CategoryMaintenance},
		{"property care hold", models.Reservation{OwnerHold: hold("Property Care Visit")}, models.CategoryMaintenance},
		{"repair hold is a block", models.Reservation{OwnerHold: hold("Repair")}, models.CategoryBlock},
		{"housekeeping hold is a block", models.Reservation{OwnerHold: hold("Housekeeping")}, models.CategoryBlock},
		{"other hold is a block", models.Reservation{OwnerHold: hold("Vacasa Hold")}, models.CategoryBlock},
		{"empty hold is a block", models.Reservation{OwnerHold: &models.OwnerHold{}}, models.CategoryBlock},
		{"nothing known", models.Reservation{}, models.CategoryOther},
		{"blank names", models.Reservation{FirstName: " ", LastName: ""}, models.CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in)
			if got != tt.want {
				t.Fatalf("Classify() = %s, want %s", got, tt.want)
			}
			if again := Classify(tt.in); again != got {
				t.Fatalf("Classify not deterministic: %s then %s", got, again)
			}
		})
	}
}
