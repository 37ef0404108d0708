package entity

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// ClockTime is a wall clock time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

const clockTimeLayout = "15:04"

func NewClockTime(hour, minute int) ClockTime {
	return ClockTime{Hour: hour, Minute: minute}
}

// ParseClockTime accepts "HH:MM" and "HH:MM:SS" (seconds are dropped).
func ParseClockTime(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	layout := clockTimeLayout
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) Before(other ClockTime) bool {
	return c.Minutes() < other.Minutes()
}

// On returns the instant this clock time falls on for the given day in loc.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c ClockTime) Valid() bool {
	return c.Hour >= 0 && c.Hour < 24 && c.Minute >= 0 && c.Minute < 60
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

func (c ClockTime) Value() (driver.Value, error) {
	return c.String() + ":00", nil
}

func (c *ClockTime) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case time.Time:
		c.Hour, c.Minute = v.Hour(), v.Minute()
	case []byte:
		parsed, err := ParseClockTime(string(v))
		if err != nil {
			return err
		}
		*c = parsed
	case string:
		parsed, err := ParseClockTime(v)
		if err != nil {
			return err
		}
		*c = parsed
	default:
		return fmt.Errorf("cannot scan type %T into ClockTime", value)
	}
	return nil
}

// OperatingHours is the daily window a room can be booked in. Close earlier
// than Open means the window runs past midnight, equal values mean the room
// is open around the clock.
type OperatingHours struct {
	Open  ClockTime `json:"open_time"`
	Close ClockTime `json:"close_time"`
}

func (h OperatingHours) Overnight() bool {
	return h.Close.Before(h.Open)
}

// Window returns the concrete [open, close) interval that starts on day.
func (h OperatingHours) Window(day time.Time, loc *time.Location) (time.Time, time.Time) {
	start := h.Open.On(day, loc)
	end := h.Close.On(day, loc)
	if !start.Before(end) {
		end = h.Close.On(start.AddDate(0, 0, 1), loc)
	}
	return start, end
}

// FlexibleTime accepts both RFC 3339 and the zone-less "2006-01-02T15:04"
// layout used by browser datetime-local inputs.
type FlexibleTime struct {
	time.Time
}

const flexibleTimeLayout = "2006-01-02T15:04"

// DefaultLocation is used for zone-less input.
var DefaultLocation = time.Local

func ParseFlexibleTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(flexibleTimeLayout, s, DefaultLocation); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, DefaultLocation)
}

func (ft *FlexibleTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	t, err := ParseFlexibleTime(s)
	if err != nil {
		return err
	}
	ft.Time = t
	return nil
}

func (ft FlexibleTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + ft.Format(time.RFC3339) + `"`), nil
}
