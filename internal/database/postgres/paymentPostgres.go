package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ds124wfegd/roombooker/internal/entity"
)

const paymentColumns = `id, booking_id, amount, method, status, transaction_id, intent_id, proof_ref, created_at, updated_at`

type paymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func scanPayment(row rowScanner) (*entity.Payment, error) {
	var (
		p                        entity.Payment
		txID, intentID, proofRef sql.NullString
	)
	err := row.Scan(
		&p.ID,
		&p.BookingID,
		&p.Amount,
		&p.Method,
		&p.Status,
		&txID,
		&intentID,
		&proofRef,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.TransactionID = txID.String
	p.IntentID = intentID.String
	p.ProofRef = proofRef.String
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// lockBookingForPayment locks the booking row and returns its statuses.
func lockBookingForPayment(ctx context.Context, tx *sql.Tx, bookingID int64) (entity.BookingStatus, entity.PaymentStatus, error) {
	var (
		status  entity.BookingStatus
		payment entity.PaymentStatus
	)
	err := tx.QueryRowContext(ctx,
		`SELECT status, payment_status FROM bookings WHERE id = $1 FOR UPDATE`, bookingID,
	).Scan(&status, &payment)
	if err == sql.ErrNoRows {
		return "", "", entity.ErrBookingNotFound
	}
	if err != nil {
		return "", "", persistenceErr("lock booking", err)
	}
	return status, payment, nil
}

// payableGuard rejects payments against bookings that cannot take one.
func payableGuard(status entity.BookingStatus, payment entity.PaymentStatus) error {
	switch {
	case payment == entity.PaymentStatusPaid:
		return entity.ErrAlreadyPaid
	case status == entity.BookingStatusCancelled:
		return entity.ErrBookingCancelled
	case payment == entity.PaymentStatusRefunded:
		return fmt.Errorf("%w: booking was refunded", entity.ErrInvalidPaymentTransition)
	}
	return nil
}

func (r *paymentRepository) insert(ctx context.Context, tx *sql.Tx, p *entity.Payment, now time.Time) error {
	query := `
		INSERT INTO payments (booking_id, amount, method, status, transaction_id, intent_id, proof_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id
	`
	err := tx.QueryRowContext(ctx, query,
		p.BookingID,
		p.Amount,
		p.Method,
		p.Status,
		nullString(p.TransactionID),
		nullString(p.IntentID),
		nullString(p.ProofRef),
		now,
	).Scan(&p.ID)
	if err != nil {
		if pqCode(err) == pgUniqueViolation {
			return fmt.Errorf("%w: payment with this intent already exists", entity.ErrConflict)
		}
		return persistenceErr("create payment", err)
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// RecordManual walks failed bookings through pending to paid, which is the
// retry edge of the payment state machine.
func (r *paymentRepository) RecordManual(ctx context.Context, payment *entity.Payment) (*entity.Booking, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistenceErr("begin transaction", err)
	}
	defer tx.Rollback()

	status, current, err := lockBookingForPayment(ctx, tx, payment.BookingID)
	if err != nil {
		return nil, err
	}
	if err := payableGuard(status, current); err != nil {
		return nil, err
	}

	now := time.Now()
	payment.Status = entity.PaymentStatusPaid
	if err := r.insert(ctx, tx, payment, now); err != nil {
		return nil, err
	}

	query := `UPDATE bookings SET payment_status = 'paid', updated_at = $1 WHERE id = $2 RETURNING ` + bookingColumns
	booking, err := scanBooking(tx.QueryRowContext(ctx, query, now, payment.BookingID))
	if err != nil {
		return nil, persistenceErr("mark booking paid", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistenceErr("commit transaction", err)
	}
	return booking, nil
}

func (r *paymentRepository) CreateIntent(ctx context.Context, payment *entity.Payment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceErr("begin transaction", err)
	}
	defer tx.Rollback()

	status, current, err := lockBookingForPayment(ctx, tx, payment.BookingID)
	if err != nil {
		return err
	}
	if err := payableGuard(status, current); err != nil {
		return err
	}

	now := time.Now()
	payment.Status = entity.PaymentStatusPending
	if err := r.insert(ctx, tx, payment, now); err != nil {
		return err
	}

	if current == entity.PaymentStatusFailed {
		_, err := tx.ExecContext(ctx,
			`UPDATE bookings SET payment_status = 'pending', updated_at = $1 WHERE id = $2`, now, payment.BookingID)
		if err != nil {
			return persistenceErr("reset booking payment status", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistenceErr("commit transaction", err)
	}
	return nil
}

func (r *paymentRepository) ApplyOutcome(ctx context.Context, outcome entity.PaymentOutcome) (*entity.Payment, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, persistenceErr("begin transaction", err)
	}
	defer tx.Rollback()

	if outcome.EventID != "" {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO processed_events (event_id, processed_at) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`,
			outcome.EventID, time.Now())
		if err != nil {
			return nil, false, persistenceErr("record event", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, false, nil
		}
	}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE intent_id = $1 FOR UPDATE`
	payment, err := scanPayment(tx.QueryRowContext(ctx, query, outcome.IntentID))
	if err == sql.ErrNoRows {
		return nil, false, entity.ErrPaymentNotFound
	}
	if err != nil {
		return nil, false, persistenceErr("lock payment", err)
	}

	_, current, err := lockBookingForPayment(ctx, tx, payment.BookingID)
	if err != nil {
		return nil, false, err
	}

	if payment.Status == outcome.Status {
		if err := tx.Commit(); err != nil {
			return nil, false, persistenceErr("commit transaction", err)
		}
		return payment, false, nil
	}
	if !payment.Status.CanTransitionTo(outcome.Status) {
		return nil, false, fmt.Errorf("%w: %s -> %s", entity.ErrInvalidPaymentTransition, payment.Status, outcome.Status)
	}

	now := time.Now()
	query = `
		UPDATE payments
		SET status = $1, transaction_id = COALESCE($2, transaction_id), updated_at = $3
		WHERE id = $4
		RETURNING ` + paymentColumns
	payment, err = scanPayment(tx.QueryRowContext(ctx, query,
		outcome.Status, nullString(outcome.TransactionID), now, payment.ID))
	if err != nil {
		return nil, false, persistenceErr("update payment", err)
	}

	// The booking status may have moved through another payment.
	if next, changed := entity.BookingPaymentStatusAfter(current, outcome.Status); changed {
		_, err := tx.ExecContext(ctx,
			`UPDATE bookings SET payment_status = $1, updated_at = $2 WHERE id = $3`,
			next, now, payment.BookingID)
		if err != nil {
			return nil, false, persistenceErr("update booking payment status", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, persistenceErr("commit transaction", err)
	}
	return payment, true, nil
}

func (r *paymentRepository) GetByIntentID(ctx context.Context, intentID string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE intent_id = $1`

	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, intentID))
	if err == sql.ErrNoRows {
		return nil, entity.ErrPaymentNotFound
	}
	if err != nil {
		return nil, persistenceErr("get payment", err)
	}
	return payment, nil
}

// ListByBooking returns payments newest first, the head is authoritative
func (r *paymentRepository) ListByBooking(ctx context.Context, bookingID int64) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = $1 ORDER BY created_at DESC, id DESC`

	return r.queryPayments(ctx, "list payments", query, bookingID)
}

func (r *paymentRepository) ListPendingIntents(ctx context.Context, olderThan time.Time) ([]*entity.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = 'pending' AND intent_id IS NOT NULL AND created_at <= $1
		ORDER BY created_at
	`

	return r.queryPayments(ctx, "list pending intents", query, olderThan)
}

func (r *paymentRepository) queryPayments(ctx context.Context, op, query string, args ...interface{}) ([]*entity.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceErr(op, err)
	}
	defer rows.Close()

	var payments []*entity.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, persistenceErr(op, err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr(op, err)
	}
	return payments, nil
}
