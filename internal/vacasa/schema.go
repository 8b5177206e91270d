package vacasa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rental-occupancy/backend/internal/storage/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// resourceID accepts JSON:API ids sent either as strings or numbers.
type resourceID string

func (id *resourceID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = resourceID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number")
	}
	*id = resourceID(n.String())
	return nil
}

type unitsDocument struct {
	Data []unitResource `json:"data" validate:"required"`
}

type unitResource struct {
	ID         resourceID     `json:"id" validate:"required"`
	Attributes unitAttributes `json:"attributes"`
}

type unitAttributes struct {
	Name              string   `json:"name"`
	Code              string   `json:"code"`
	Timezone          string   `json:"timezone"`
	CheckInTime       string   `json:"checkInTime"`
	CheckOutTime      string   `json:"checkOutTime"`
	MaxOccupancyTotal *float64 `json:"maxOccupancyTotal"`
	MaxAdults         *float64 `json:"maxAdults"`
	MaxChildren       *float64 `json:"maxChildren"`
	MaxPets           *float64 `json:"maxPets"`
	Rating            *float64 `json:"rating"`
	Location          *struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Address *struct {
		Address1 string `json:"address_1"`
		Address2 string `json:"address_2"`
		City     string `json:"city"`
		State    string `json:"state"`
		Zip      string `json:"zip"`
		Country  *struct {
			Name string `json:"name"`
			Code string `json:"code"`
		} `json:"country"`
	} `json:"address"`
	Amenities *struct {
		Rooms *struct {
			Bedrooms  *float64 `json:"bedrooms"`
			Bathrooms *struct {
				Full *float64 `json:"full"`
				Half *float64 `json:"half"`
			} `json:"bathrooms"`
		} `json:"rooms"`
		HotTub       *bool `json:"hotTub"`
		PetsFriendly *bool `json:"petsFriendly"`
	} `json:"amenities"`
	Parking *struct {
		Total *float64 `json:"total"`
	} `json:"parking"`
}

type reservationsDocument struct {
	Data []reservationResource `json:"data" validate:"required"`
}

type reservationResource struct {
	ID         resourceID            `json:"id" validate:"required"`
	Attributes reservationAttributes `json:"attributes"`
}

type reservationAttributes struct {
	StartDate    string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate      string `json:"endDate" validate:"required,datetime=2006-01-02"`
	CheckinTime  string `json:"checkinTime" validate:"omitempty,clocktime"`
	CheckoutTime string `json:"checkoutTime" validate:"omitempty,clocktime"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	OwnerHold    *struct {
		HoldType         string `json:"holdType"`
		HoldWhoBooked    string `json:"holdWhoBooked"`
		HoldExternalNote string `json:"holdExternalNote"`
	} `json:"ownerHold"`
}

func init() {
	validate.RegisterValidation("clocktime", func(fl validator.FieldLevel) bool {
		_, ok := ParseClock(fl.Field().String())
		return ok
	})
}

// ParseClock parses HH:MM or HH:MM:SS into an offset from midnight.
func ParseClock(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, true
		}
	}
	return 0, false
}

// decodeDocument decodes body into doc and validates its envelope. Any
// mismatch is reported as a DataParseError naming the offending fields,
// never their values.
func decodeDocument(op string, body []byte, doc any) error {
	if err := json.Unmarshal(body, doc); err != nil {
		return &DataParseError{Op: op, Detail: "invalid JSON", Err: err}
	}
	return validateStruct(op, doc)
}

func validateStruct(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace()+" ("+fe.Tag()+")")
		}
		return &DataParseError{Op: op, Detail: "schema mismatch: " + strings.Join(fields, ", ")}
	}
	return &DataParseError{Op: op, Detail: "schema mismatch", Err: err}
}

func intOf(f *float64) int {
	if f == nil {
		return 0
	}
	return int(*f)
}

func (u unitResource) toProperty(fetchedAt time.Time) models.Property {
	a := u.Attributes
	p := models.Property{
		ID:                  string(u.ID),
		Name:                a.Name,
		Code:                a.Code,
		Timezone:            a.Timezone,
		DefaultCheckinTime:  a.CheckInTime,
		DefaultCheckoutTime: a.CheckOutTime,
		MaxOccupancy:        intOf(a.MaxOccupancyTotal),
		MaxAdults:           intOf(a.MaxAdults),
		MaxChildren:         intOf(a.MaxChildren),
		MaxPets:             intOf(a.MaxPets),
		FetchedAt:           fetchedAt,
	}
	if p.Name == "" {
		p.Name = "Vacasa Unit " + p.ID
	}
	if a.Rating != nil {
		p.Rating = *a.Rating
	}
	if a.Location != nil {
		p.Latitude, p.Longitude = a.Location.Lat, a.Location.Lng
	}
	if a.Address != nil {
		p.Address = models.Address{
			Line1:      a.Address.Address1,
			Line2:      a.Address.Address2,
			City:       a.Address.City,
			State:      a.Address.State,
			PostalCode: a.Address.Zip,
		}
		if a.Address.Country != nil {
			p.Address.Country = a.Address.Country.Code
			if p.Address.Country == "" {
				p.Address.Country = a.Address.Country.Name
			}
		}
	}
	if am := a.Amenities; am != nil {
		p.Amenities.HotTub = am.HotTub
		p.Amenities.PetFriendly = am.PetsFriendly
		if am.Rooms != nil {
			p.Amenities.Bedrooms = intOf(am.Rooms.Bedrooms)
			if am.Rooms.Bathrooms != nil {
				p.Amenities.FullBathrooms = intOf(am.Rooms.Bathrooms.Full)
				p.Amenities.HalfBathrooms = intOf(am.Rooms.Bathrooms.Half)
			}
		}
	}
	if a.Parking != nil && a.Parking.Total != nil {
		total := int(*a.Parking.Total)
		p.Amenities.ParkingTotal = &total
	}
	return p
}

func (r reservationResource) toReservation(unitID string) models.Reservation {
	a := r.Attributes
	res := models.Reservation{
		ID:           string(r.ID),
		UnitID:       unitID,
		StartDate:    a.StartDate,
		EndDate:      a.EndDate,
		CheckinTime:  a.CheckinTime,
		CheckoutTime: a.CheckoutTime,
		FirstName:    strings.TrimSpace(a.FirstName),
		LastName:     strings.TrimSpace(a.LastName),
	}
	if a.OwnerHold != nil {
		res.OwnerHold = &models.OwnerHold{
			HoldType:     a.OwnerHold.HoldType,
			WhoBooked:    a.OwnerHold.HoldWhoBooked,
			ExternalNote: a.OwnerHold.HoldExternalNote,
		}
	}
	return res
}
