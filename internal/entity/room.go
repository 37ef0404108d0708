package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type RoomStatus string

const (
	RoomStatusAvailable   RoomStatus = "available"
	RoomStatusOccupied    RoomStatus = "occupied"
	RoomStatusMaintenance RoomStatus = "maintenance"
)

func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusAvailable, RoomStatusOccupied, RoomStatusMaintenance:
		return true
	}
	return false
}

type Amenity string

const (
	AmenityKaraoke         Amenity = "karaoke"
	AmenityProjector       Amenity = "projector"
	AmenityWhiteboard      Amenity = "whiteboard"
	AmenitySoundSystem     Amenity = "sound_system"
	AmenityTV              Amenity = "tv"
	AmenityAirConditioning Amenity = "air_conditioning"
	AmenityWiFi            Amenity = "wifi"
)

func (a Amenity) Valid() bool {
	switch a {
	case AmenityKaraoke, AmenityProjector, AmenityWhiteboard, AmenitySoundSystem,
		AmenityTV, AmenityAirConditioning, AmenityWiFi:
		return true
	}
	return false
}

type Address struct {
	Building string `json:"building,omitempty"`
	Floor    string `json:"floor,omitempty"`
	Street   string `json:"street,omitempty"`
	City     string `json:"city,omitempty"`
}

func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *Address) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan type %T into Address", value)
	}
	return json.Unmarshal(b, a)
}

type Room struct {
	ID           int64      `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Capacity     int        `json:"capacity" db:"capacity"`
	PricePerHour float64    `json:"price_per_hour" db:"price_per_hour"`
	OpenTime     ClockTime  `json:"open_time" db:"open_time"`
	CloseTime    ClockTime  `json:"close_time" db:"close_time"`
	Status       RoomStatus `json:"status" db:"status"`
	Amenities    []Amenity  `json:"amenities" db:"amenities"`
	Location     *Address   `json:"location,omitempty" db:"location"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

func (r *Room) OperatingHours() OperatingHours {
	return OperatingHours{Open: r.OpenTime, Close: r.CloseTime}
}

// Validate checks the fields an administrator can set.
func (r *Room) Validate() error {
	verr := NewValidationError()

	if r.Name == "" {
		verr.Add("name", "name is required")
	}
	if r.Capacity <= 0 {
		verr.Add("capacity", "capacity must be positive")
	}
	if r.PricePerHour < 0 {
		verr.Add("price_per_hour", "price must not be negative")
	}
	if !r.OpenTime.Valid() {
		verr.Add("open_time", "invalid open time")
	}
	if !r.CloseTime.Valid() {
		verr.Add("close_time", "invalid close time")
	}
	for _, a := range r.Amenities {
		if !a.Valid() {
			verr.Add("amenities", fmt.Sprintf("unknown amenity %q", a))
		}
	}
	if r.Status != "" && !r.Status.Valid() {
		verr.Add("status", fmt.Sprintf("unknown status %q", r.Status))
	}

	return verr.OrNil()
}

// AmenityStrings is the representation stored in the text[] column.
func (r *Room) AmenityStrings() []string {
	out := make([]string, 0, len(r.Amenities))
	for _, a := range r.Amenities {
		out = append(out, string(a))
	}
	return out
}

func AmenitiesFromStrings(values []string) []Amenity {
	out := make([]Amenity, 0, len(values))
	for _, v := range values {
		out = append(out, Amenity(v))
	}
	return out
}
