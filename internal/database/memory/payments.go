package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ds124wfegd/roombooker/internal/entity"
)

type paymentRepository struct {
	s *Store
}

func payableGuard(b *entity.Booking) error {
	switch {
	case b.PaymentStatus == entity.PaymentStatusPaid:
		return entity.ErrAlreadyPaid
	case b.Status == entity.BookingStatusCancelled:
		return entity.ErrBookingCancelled
	case b.PaymentStatus == entity.PaymentStatusRefunded:
		return fmt.Errorf("%w: booking was refunded", entity.ErrInvalidPaymentTransition)
	}
	return nil
}

// insert must be called with the write lock held.
func (r *paymentRepository) insert(p *entity.Payment, now time.Time) error {
	if p.IntentID != "" {
		for _, existing := range r.s.payments {
			if existing.IntentID == p.IntentID {
				return fmt.Errorf("%w: payment with this intent already exists", entity.ErrConflict)
			}
		}
	}

	r.s.nextPaymentID++
	p.ID = r.s.nextPaymentID
	p.CreatedAt = now
	p.UpdatedAt = now
	r.s.payments[p.ID] = clonePayment(p)
	return nil
}

func (r *paymentRepository) RecordManual(_ context.Context, payment *entity.Payment) (*entity.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bookings[payment.BookingID]
	if !ok {
		return nil, entity.ErrBookingNotFound
	}
	if err := payableGuard(b); err != nil {
		return nil, err
	}

	now := r.s.clock()
	payment.Status = entity.PaymentStatusPaid
	if err := r.insert(payment, now); err != nil {
		return nil, err
	}

	b.PaymentStatus = entity.PaymentStatusPaid
	b.UpdatedAt = now
	return cloneBooking(b), nil
}

func (r *paymentRepository) CreateIntent(_ context.Context, payment *entity.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bookings[payment.BookingID]
	if !ok {
		return entity.ErrBookingNotFound
	}
	if err := payableGuard(b); err != nil {
		return err
	}

	now := r.s.clock()
	payment.Status = entity.PaymentStatusPending
	if err := r.insert(payment, now); err != nil {
		return err
	}

	if b.PaymentStatus == entity.PaymentStatusFailed {
		b.PaymentStatus = entity.PaymentStatusPending
		b.UpdatedAt = now
	}
	return nil
}

func (r *paymentRepository) ApplyOutcome(_ context.Context, outcome entity.PaymentOutcome) (*entity.Payment, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if outcome.EventID != "" {
		if _, seen := r.s.events[outcome.EventID]; seen {
			return nil, false, nil
		}
	}

	var payment *entity.Payment
	for _, p := range r.s.payments {
		if p.IntentID == outcome.IntentID {
			payment = p
			break
		}
	}
	if payment == nil {
		return nil, false, entity.ErrPaymentNotFound
	}
	b, ok := r.s.bookings[payment.BookingID]
	if !ok {
		return nil, false, entity.ErrBookingNotFound
	}

	now := r.s.clock()
	// The event id is only consumed when the whole outcome applies.
	markSeen := func() {
		if outcome.EventID != "" {
			r.s.events[outcome.EventID] = now
		}
	}

	if payment.Status == outcome.Status {
		markSeen()
		return clonePayment(payment), false, nil
	}
	if !payment.Status.CanTransitionTo(outcome.Status) {
		return nil, false, fmt.Errorf("%w: %s -> %s", entity.ErrInvalidPaymentTransition, payment.Status, outcome.Status)
	}

	payment.Status = outcome.Status
	if outcome.TransactionID != "" {
		payment.TransactionID = outcome.TransactionID
	}
	payment.UpdatedAt = now
	if next, changed := entity.BookingPaymentStatusAfter(b.PaymentStatus, outcome.Status); changed {
		b.PaymentStatus = next
		b.UpdatedAt = now
	}
	markSeen()
	return clonePayment(payment), true, nil
}

func (r *paymentRepository) GetByIntentID(_ context.Context, intentID string) (*entity.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.payments {
		if p.IntentID == intentID {
			return clonePayment(p), nil
		}
	}
	return nil, entity.ErrPaymentNotFound
}

func (r *paymentRepository) ListByBooking(_ context.Context, bookingID int64) ([]*entity.Payment, error) {
	payments := r.collect(func(p *entity.Payment) bool { return p.BookingID == bookingID })
	sort.SliceStable(payments, func(i, j int) bool {
		if !payments[i].CreatedAt.Equal(payments[j].CreatedAt) {
			return payments[i].CreatedAt.After(payments[j].CreatedAt)
		}
		return payments[i].ID > payments[j].ID
	})
	return payments, nil
}

func (r *paymentRepository) ListPendingIntents(_ context.Context, olderThan time.Time) ([]*entity.Payment, error) {
	payments := r.collect(func(p *entity.Payment) bool {
		return p.Status == entity.PaymentStatusPending && p.IntentID != "" && !p.CreatedAt.After(olderThan)
	})
	sort.SliceStable(payments, func(i, j int) bool {
		if !payments[i].CreatedAt.Equal(payments[j].CreatedAt) {
			return payments[i].CreatedAt.Before(payments[j].CreatedAt)
		}
		return payments[i].ID < payments[j].ID
	})
	return payments, nil
}

func (r *paymentRepository) collect(match func(*entity.Payment) bool) []*entity.Payment {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*entity.Payment
	for _, p := range r.s.payments {
		if match(p) {
			out = append(out, clonePayment(p))
		}
	}
	return out
}
