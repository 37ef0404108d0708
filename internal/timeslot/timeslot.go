// Package timeslot turns a room's operating hours into bookable candidate slots.
package timeslot

import (
	"time"

	"github.com/ds124wfegd/roombooker/internal/entity"
)

// Options control slot layout for a single day.
type Options struct {
	SlotDuration  time.Duration
	BreakDuration time.Duration
	Location      *time.Location
}

func (o Options) validate() error {
	verr := entity.NewValidationError()
	if o.SlotDuration <= 0 {
		verr.Add("slot_duration", "slot duration must be positive")
	}
	if o.BreakDuration < 0 {
		verr.Add("break_duration", "break duration must not be negative")
	}
	return verr.OrNil()
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return entity.DefaultLocation
	}
	return o.Location
}

// Generate lays slots from open to close on date, each followed by the break.
// A trailing slot that would end after close is dropped. Overnight hours run
// into the next calendar day, equal open and close give a 24 hour window.
// The result depends only on the arguments.
func Generate(hours entity.OperatingHours, date time.Time, opts Options) ([]entity.Slot, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if !hours.Open.Valid() || !hours.Close.Valid() {
		return nil, entity.Validationf("operating_hours", "invalid operating hours %s-%s", hours.Open, hours.Close)
	}

	open, closing := hours.Window(date, opts.location())
	minutes := int(opts.SlotDuration / time.Minute)

	slots := make([]entity.Slot, 0, int(closing.Sub(open)/(opts.SlotDuration+opts.BreakDuration))+1)
	start := open
	for {
		end := start.Add(opts.SlotDuration)
		if end.After(closing) {
			break
		}
		slots = append(slots, entity.Slot{
			Start:           start,
			End:             end,
			DurationMinutes: minutes,
			Available:       true,
		})
		start = end.Add(opts.BreakDuration)
	}
	return slots, nil
}

// Mark flags slots that overlap an active booking or already started.
// Slots are modified in place and returned for chaining.
func Mark(slots []entity.Slot, bookings []*entity.Booking, now time.Time) []entity.Slot {
	for i := range slots {
		s := &slots[i]
		s.Past = !now.IsZero() && !s.Start.After(now)

		conflicts := entity.FindConflicts(bookings, s.Start, s.End)
		if len(conflicts) > 0 {
			id := conflicts[0].ID
			s.BookingID = &id
			s.Available = false
			continue
		}
		s.Available = !s.Past
	}
	return slots
}

// Summarize counts slots. Past free slots count as neither available nor booked.
func Summarize(slots []entity.Slot) entity.SlotSummary {
	sum := entity.SlotSummary{Total: len(slots)}
	for _, s := range slots {
		switch {
		case s.BookingID != nil:
			sum.BookedCount++
		case s.Available:
			sum.AvailableCount++
		}
	}
	return sum
}
