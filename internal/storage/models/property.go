// Package models contains the domain models for the application.
package models

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// unknownZones remembers timezone names already reported as unloadable.
var unknownZones sync.Map

// Property is a rental unit managed by the vendor on the owner's behalf.
// A fetch replaces the whole set; properties are never merged.
type Property struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Code                string    `json:"code,omitempty"`
	Timezone            string    `json:"timezone,omitempty"`
	DefaultCheckinTime  string    `json:"default_checkin_time,omitempty"`
	DefaultCheckoutTime string    `json:"default_checkout_time,omitempty"`
	MaxOccupancy        int       `json:"max_occupancy,omitempty"`
	MaxAdults           int       `json:"max_adults,omitempty"`
	MaxChildren         int       `json:"max_children,omitempty"`
	MaxPets             int       `json:"max_pets,omitempty"`
	Rating              float64   `json:"rating,omitempty"`
	Latitude            float64   `json:"latitude,omitempty"`
	Longitude           float64   `json:"longitude,omitempty"`
	Address             Address   `json:"address"`
	Amenities           Amenities `json:"amenities"`
	FetchedAt           time.Time `json:"fetched_at"`
}

// Address is the unit's postal address.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Amenities lists the features the vendor reports for a unit. Pointer
// fields are nil when the vendor did not report them.
type Amenities struct {
	Bedrooms      int   `json:"bedrooms,omitempty"`
	FullBathrooms int   `json:"full_bathrooms,omitempty"`
	HalfBathrooms int   `json:"half_bathrooms,omitempty"`
	HotTub        *bool `json:"hot_tub,omitempty"`
	PetFriendly   *bool `json:"pet_friendly,omitempty"`
	ParkingTotal  *int  `json:"parking_total,omitempty"`
}

// Location resolves the property's timezone, returning fallback when it is
// empty or unknown. An unknown zone is logged once per name.
func (p Property) Location(fallback *time.Location) *time.Location {
	if p.Timezone != "" {
		loc, err := time.LoadLocation(p.Timezone)
		if err == nil {
			return loc
		}
		if _, seen := unknownZones.LoadOrStore(p.Timezone, struct{}{}); !seen {
			log.Warn().Err(err).
				Str("timezone", p.Timezone).
				Str("property_id", p.ID).
				Msg("unknown property timezone, using fallback")
		}
	}
	if fallback == nil {
		return time.UTC
	}
	return fallback
}
