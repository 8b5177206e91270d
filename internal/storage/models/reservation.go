package models

// Reservation is a vendor reservation record, read-only once fetched.
// Dates are civil dates (YYYY-MM-DD); times are HH:MM[:SS] when supplied.
type Reservation struct {
	ID           string     `json:"id"`
	UnitID       string     `json:"unit_id"`
	StartDate    string     `json:"start_date"`
	EndDate      string     `json:"end_date"`
	CheckinTime  string     `json:"checkin_time,omitempty"`
	CheckoutTime string     `json:"checkout_time,omitempty"`
	FirstName    string     `json:"first_name,omitempty"`
	LastName     string     `json:"last_name,omitempty"`
	OwnerHold    *OwnerHold `json:"owner_hold,omitempty"`
}

// OwnerHold marks a reservation created by the owner or the vendor rather
// than a paying guest.
type OwnerHold struct {
	HoldType     string `json:"hold_type,omitempty"`
	WhoBooked    string `json:"who_booked,omitempty"`
	ExternalNote string `json:"external_note,omitempty"`
}

// GuestName joins the guest's first and last names.
func (r Reservation) GuestName() string {
	switch {
	case r.FirstName != "" && r.LastName != "":
		return r.FirstName + " " + r.LastName
	case r.FirstName != "":
		return r.FirstName
	default:
		return r.LastName
	}
}

// Category is the classification of a reservation.
type Category string

// Category constants
const (
	CategoryGuestBooking Category = "guest_booking"
	CategoryOwnerStay    Category = "owner_stay"
	CategoryMaintenance  Category = "maintenance"
	CategoryBlock        Category = "block"
	CategoryOther        Category = "other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryGuestBooking,
	CategoryOwnerStay,
	CategoryMaintenance,
	CategoryBlock,
	CategoryOther,
}

// DisplayName is the human readable label used in event summaries.
func (c Category) DisplayName() string {
	switch c {
	case CategoryGuestBooking:
		return "Guest Booking"
	case CategoryOwnerStay:
		return "Owner Stay"
	case CategoryMaintenance:
		return "Maintenance"
	case CategoryBlock:
		return "Block"
	default:
		return "Other"
	}
}
