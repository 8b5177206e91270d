package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rental-occupancy/backend/internal/storage/models"
)

// Client publishes entity states to Home Assistant.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new Home Assistant API client.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// State is the body of POST /api/states/<entity_id>.
type State struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Slug turns a property name into an entity id fragment.
func Slug(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}

func propertySlug(p models.Property) string {
	if slug := Slug(p.Name); slug != "" {
		return slug
	}
	return "vacasa_" + Slug(p.ID)
}

// OccupancyEntityID returns the binary sensor id of p.
func OccupancyEntityID(p models.Property) string {
	return "binary_sensor." + propertySlug(p) + "_occupancy"
}

// CalendarEntityID returns the calendar entity id of p.
func CalendarEntityID(p models.Property) string {
	return "calendar." + propertySlug(p)
}

// PublishOccupancy sets the occupancy binary sensor. Unresolved states
// publish "unavailable" rather than a possibly wrong "off".
func (c *Client) PublishOccupancy(ctx context.Context, p models.Property, st models.OccupancyState, attrs map[string]string) error {
	state := "unavailable"
	if st.Status.Resolved() {
		state = "off"
		if st.IsOccupied {
			state = "on"
		}
	}

	attributes := map[string]any{
		"friendly_name": p.Name + " Occupancy",
		"device_class":  "occupancy",
		"property_id":   p.ID,
		"status":        string(st.Status),
	}
	for k, v := range attrs {
		attributes[k] = v
	}
	return c.setState(ctx, OccupancyEntityID(p), State{State: state, Attributes: attributes})
}

// PublishCalendar sets the calendar entity to the current event, or the
// next one when nothing is active.
func (c *Client) PublishCalendar(ctx context.Context, p models.Property, current, next *models.CalendarEvent) error {
	attributes := map[string]any{
		"friendly_name": p.Name + " Calendar",
		"property_id":   p.ID,
	}
	state := "off"
	ev := next
	if current != nil {
		state = "on"
		ev = current
	}
	if ev != nil {
		loc := p.Location(time.UTC)
		attributes["message"] = ev.Summary
		attributes["description"] = ev.Description
		attributes["location"] = ev.Location
		attributes["all_day"] = false
		attributes["start_time"] = ev.Start.In(loc).Format("2006-01-02 15:04:05")
		attributes["end_time"] = ev.End.In(loc).Format("2006-01-02 15:04:05")
	}
	return c.setState(ctx, CalendarEntityID(p), State{State: state, Attributes: attributes})
}

// SensorEntityID returns the id of one of p's descriptive sensors.
func SensorEntityID(p models.Property, kind string) string {
	return "sensor." + propertySlug(p) + "_" + kind
}

type propertySensor struct {
	kind  string
	name  string
	icon  string
	unit  string
	value string
	attrs map[string]any
}

// PublishProperty sets the descriptive sensors of p: rating, location,
// capacity, rooms, amenities and address. Unknown values publish
// "unknown". Every sensor is attempted even when one fails.
func (c *Client) PublishProperty(ctx context.Context, p models.Property) error {
	var errs []error
	for _, ps := range propertySensors(p) {
		attributes := map[string]any{
			"friendly_name": p.Name + " " + ps.name,
			"icon":          ps.icon,
			"property_id":   p.ID,
		}
		if ps.unit != "" {
			attributes["unit_of_measurement"] = ps.unit
		}
		for k, v := range ps.attrs {
			attributes[k] = v
		}
		entityID := SensorEntityID(p, ps.kind)
		if err := c.setState(ctx, entityID, State{State: ps.value, Attributes: attributes}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entityID, err))
		}
	}
	return errors.Join(errs...)
}

func propertySensors(p models.Property) []propertySensor {
	a := p.Amenities
	sensors := []propertySensor{
		{kind: "rating", name: "Rating", icon: "mdi:star", unit: "★", value: positiveFloat(p.Rating)},
		{kind: "location", name: "Location", icon: "mdi:map-marker", value: "unknown"},
		{kind: "timezone", name: "Timezone", icon: "mdi:clock-time-eight-outline", value: orUnknown(p.Timezone)},
		{kind: "max_occupancy", name: "Max Occupancy", icon: "mdi:account-group", unit: "people", value: strconv.Itoa(p.MaxOccupancy)},
		{kind: "max_adults", name: "Max Adults", icon: "mdi:account", unit: "people", value: strconv.Itoa(p.MaxAdults)},
		{kind: "max_children", name: "Max Children", icon: "mdi:account-child", unit: "people", value: strconv.Itoa(p.MaxChildren)},
		{kind: "max_pets", name: "Max Pets", icon: "mdi:paw", unit: "pets", value: strconv.Itoa(p.MaxPets)},
		{kind: "bedrooms", name: "Bedrooms", icon: "mdi:bed", unit: "rooms", value: strconv.Itoa(a.Bedrooms)},
		{
			kind: "bathrooms", name: "Bathrooms", icon: "mdi:shower", unit: "rooms",
			value: positiveFloat(float64(a.FullBathrooms) + float64(a.HalfBathrooms)*0.5),
			attrs: map[string]any{"full_bathrooms": a.FullBathrooms, "half_bathrooms": a.HalfBathrooms},
		},
		{kind: "hot_tub", name: "Hot Tub", icon: "mdi:hot-tub", value: yesNo(a.HotTub)},
		{kind: "pet_friendly", name: "Pet Friendly", icon: "mdi:paw", value: yesNo(a.PetFriendly)},
		{kind: "parking", name: "Parking", icon: "mdi:car", unit: "spaces", value: "unknown"},
		{kind: "address", name: "Address", icon: "mdi:map-marker", value: orUnknown(formatAddress(p.Address))},
	}
	if p.Latitude != 0 || p.Longitude != 0 {
		sensors[1].value = strconv.FormatFloat(p.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(p.Longitude, 'f', -1, 64)
		sensors[1].attrs = map[string]any{"latitude": p.Latitude, "longitude": p.Longitude}
	}
	if a.ParkingTotal != nil {
		sensors[11].value = strconv.Itoa(*a.ParkingTotal)
	}
	return sensors
}

func positiveFloat(f float64) string {
	if f <= 0 {
		return "unknown"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func yesNo(b *bool) string {
	switch {
	case b == nil:
		return "unknown"
	case *b:
		return "Yes"
	default:
		return "No"
	}
}

// formatAddress renders "line1, line2, city, state, zip, country",
// skipping empty parts.
func formatAddress(a models.Address) string {
	var parts []string
	for _, part := range []string{a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}

// CheckConnection verifies the API is reachable with the configured token.
func (c *Client) CheckConnection(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, body)
	}
	return nil
}

func (c *Client) setState(ctx context.Context, entityID string, st State) error {
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/states/"+entityID, bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, body)
	}

	return nil
}

// newRequest creates a new HTTP request with authentication.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.AuthToken())
	req.Header.Set("Content-Type", "application/json")

	return req, nil
}
