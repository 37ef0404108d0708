package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/internal/gateway"
)

func (f *fixture) bookingStatus(t *testing.T, id int64) entity.PaymentStatus {
	t.Helper()
	details, err := f.bookings.Get(context.Background(), admin, id)
	require.NoError(t, err)
	return details.Booking.PaymentStatus
}

func TestCreatePaymentRequiresProof(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(10), day(11))

	req := &RecordPaymentRequest{BookingID: b.ID, Method: entity.PaymentMethodBankTransfer}
	_, err := f.payments.CreatePayment(ctx, customer, req)
	assert.ErrorIs(t, err, entity.ErrProofRequired)
	assert.ErrorIs(t, err, entity.ErrValidation)
	assert.Equal(t, entity.PaymentStatusPending, f.bookingStatus(t, b.ID))

	req.ProofRef = "slips/2025-06-01/42.jpg"
	payment, err := f.payments.CreatePayment(ctx, customer, req)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusPaid, payment.Status)
	assert.Equal(t, 300.0, payment.Amount)
	assert.Equal(t, "slips/2025-06-01/42.jpg", payment.ProofRef)
	assert.Equal(t, entity.PaymentStatusPaid, f.bookingStatus(t, b.ID))

	payments, err := f.payments.ListPayments(ctx, customer, b.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, payment.ID, payments[0].ID)

	assert.Contains(t, f.events.Keys(), EventPaymentPaid)
}

func TestCreatePaymentGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(10), day(11))

	_, err := f.payments.CreatePayment(ctx, customer, &RecordPaymentRequest{BookingID: b.ID, Method: "bitcoin"})
	assert.ErrorIs(t, err, entity.ErrValidation)

	_, err = f.payments.CreatePayment(ctx, customer, &RecordPaymentRequest{BookingID: b.ID, Method: entity.PaymentMethodGateway})
	assert.ErrorIs(t, err, entity.ErrValidation)

	negative := -5.0
	_, err = f.payments.CreatePayment(ctx, customer, &RecordPaymentRequest{BookingID: b.ID, Method: entity.PaymentMethodCash, Amount: &negative})
	assert.ErrorIs(t, err, entity.ErrValidation)

	_, err = f.payments.CreatePayment(ctx, stranger, &RecordPaymentRequest{BookingID: b.ID, Method: entity.PaymentMethodCash})
	assert.ErrorIs(t, err, entity.ErrForbidden)

	_, err = f.payments.CreatePayment(ctx, customer, &RecordPaymentRequest{BookingID: b.ID, Method: entity.PaymentMethodCash})
	require.NoError(t, err)

	_, err = f.payments.CreatePayment(ctx, customer, &RecordPaymentRequest{BookingID: b.ID, Method: entity.PaymentMethodCash})
	assert.ErrorIs(t, err, entity.ErrAlreadyPaid)
	assert.ErrorIs(t, err, entity.ErrConflict)

	cancelled := f.book(t, customer, day(12), day(13))
	_, err = f.bookings.Cancel(ctx, customer, cancelled.ID)
	require.NoError(t, err)
	_, err = f.payments.CreatePayment(ctx, customer, &RecordPaymentRequest{BookingID: cancelled.ID, Method: entity.PaymentMethodCash})
	assert.ErrorIs(t, err, entity.ErrBookingCancelled)
}

func TestIntentLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(10), day(12))

	result, err := f.payments.CreateIntent(ctx, customer, &CreateIntentRequest{BookingID: b.ID, Token: "tok_visa"})
	require.NoError(t, err)
	assert.Equal(t, int64(60000), result.Intent.Amount)
	assert.Equal(t, 600.0, result.Payment.Amount)
	assert.Equal(t, entity.PaymentMethodGateway, result.Payment.Method)
	assert.Equal(t, entity.PaymentStatusPending, result.Payment.Status)

	_, err = f.payments.ConfirmIntent(ctx, stranger, result.Intent.ID)
	assert.ErrorIs(t, err, entity.ErrForbidden)

	paid, err := f.payments.ConfirmIntent(ctx, customer, result.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusPaid, paid.Status)
	assert.NotEmpty(t, paid.TransactionID)
	assert.Equal(t, entity.PaymentStatusPaid, f.bookingStatus(t, b.ID))

	_, err = f.payments.CreateIntent(ctx, customer, &CreateIntentRequest{BookingID: b.ID, Token: "tok_visa"})
	assert.ErrorIs(t, err, entity.ErrAlreadyPaid)
}

func TestIntentDeclineThenRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(10), day(11))

	declined, err := f.payments.CreateIntent(ctx, customer, &CreateIntentRequest{BookingID: b.ID, Token: gateway.SandboxDeclineToken})
	require.NoError(t, err)

	failed, err := f.payments.ConfirmIntent(ctx, customer, declined.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusFailed, failed.Status)
	assert.Equal(t, entity.PaymentStatusFailed, f.bookingStatus(t, b.ID))

	// A new attempt moves the booking back to pending
	retry, err := f.payments.CreateIntent(ctx, customer, &CreateIntentRequest{BookingID: b.ID, Token: "tok_visa"})
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusPending, f.bookingStatus(t, b.ID))

	_, err = f.payments.ConfirmIntent(ctx, customer, retry.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusPaid, f.bookingStatus(t, b.ID))
}

func TestConcurrentIntentsDeclineThenSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(10), day(11))

	declined, err := f.payments.CreateIntent(ctx, customer, &CreateIntentRequest{BookingID: b.ID, Token: gateway.SandboxDeclineToken})
	require.NoError(t, err)
	card, err := f.payments.CreateIntent(ctx, customer, &CreateIntentRequest{BookingID: b.ID, Token: "tok_visa"})
	require.NoError(t, err)

	failed, err := f.payments.ConfirmIntent(ctx, customer, declined.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusFailed, failed.Status)
	assert.Equal(t, entity.PaymentStatusFailed, f.bookingStatus(t, b.ID))

	// The charge on the second intent is captured and must be recorded
	paid, err := f.payments.ConfirmIntent(ctx, customer, card.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusPaid, paid.Status)
	assert.NotEmpty(t, paid.TransactionID)
	assert.Equal(t, entity.PaymentStatusPaid, f.bookingStatus(t, b.ID))

	payments, err := f.payments.ListPayments(ctx, customer, b.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	statuses := map[string]entity.PaymentStatus{}
	for _, p := range payments {
		statuses[p.IntentID] = p.Status
	}
	assert.Equal(t, entity.PaymentStatusFailed, statuses[declined.Intent.ID])
	assert.Equal(t, entity.PaymentStatusPaid, statuses[card.Intent.ID])
}

func TestCancelStaleIntentKeepsPaidBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(10), day(11))

	stale, err := f.payments.CreateIntent(ctx, customer, &CreateIntentRequest{BookingID: b.ID, Token: "tok_visa"})
	require.NoError(t, err)
	card, err := f.payments.CreateIntent(ctx, customer, &CreateIntentRequest{BookingID: b.ID, Token: "tok_visa"})
	require.NoError(t, err)

	_, err = f.payments.ConfirmIntent(ctx, customer, card.Intent.ID)
	require.NoError(t, err)
	require.Equal(t, entity.PaymentStatusPaid, f.bookingStatus(t, b.ID))

	cancelled, err := f.payments.CancelIntent(ctx, customer, stale.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusFailed, cancelled.Status)
	assert.Equal(t, entity.PaymentStatusPaid, f.bookingStatus(t, b.ID))

	// A late failure event for the stale intent changes nothing on the booking
	applied, err := f.payments.HandleGatewayEvent(ctx, &entity.GatewayEvent{
		ID: "evt_stale", Type: entity.GatewayEventFailed, IntentID: stale.Intent.ID,
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, entity.PaymentStatusPaid, f.bookingStatus(t, b.ID))
}

func TestConfirmClosedIntentIsConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(10), day(11))

	result, err := f.payments.CreateIntent(ctx, customer, &CreateIntentRequest{BookingID: b.ID, Token: "tok_visa"})
	require.NoError(t, err)
	_, err = f.payments.CancelIntent(ctx, customer, result.Intent.ID)
	require.NoError(t, err)

	_, err = f.payments.ConfirmIntent(ctx, customer, result.Intent.ID)
	assert.ErrorIs(t, err, entity.ErrInvalidPaymentTransition)
	assert.ErrorIs(t, err, entity.ErrConflict)
	assert.NotErrorIs(t, err, entity.ErrGateway)
}

func TestCancelIntent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(10), day(11))

	result, err := f.payments.CreateIntent(ctx, customer, &CreateIntentRequest{BookingID: b.ID, Token: "tok_visa"})
	require.NoError(t, err)

	cancelled, err := f.payments.CancelIntent(ctx, customer, result.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusFailed, cancelled.Status)

	_, err = f.payments.CancelIntent(ctx, customer, result.Intent.ID)
	assert.ErrorIs(t, err, entity.ErrConflict)
}

func TestGatewayTimeoutLeavesBookingPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(10), day(11))

	result, err := f.payments.CreateIntent(ctx, customer, &CreateIntentRequest{BookingID: b.ID, Token: "tok_visa"})
	require.NoError(t, err)

	f.sandbox.SetDelay(500 * time.Millisecond)
	slow := f.paymentService(20 * time.Millisecond)

	_, err = slow.ConfirmIntent(ctx, customer, result.Intent.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrGateway)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, entity.PaymentStatusPending, f.bookingStatus(t, b.ID))
	payments, err := f.payments.ListPayments(ctx, customer, b.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, entity.PaymentStatusPending, payments[0].Status)
}

func TestHandleGatewayEventIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(10), day(11))

	result, err := f.payments.CreateIntent(ctx, customer, &CreateIntentRequest{BookingID: b.ID, Token: "tok_visa"})
	require.NoError(t, err)

	event := &entity.GatewayEvent{
		ID:            "evt_1",
		Type:          entity.GatewayEventSucceeded,
		IntentID:      result.Intent.ID,
		TransactionID: "txn_hook",
	}

	applied, err := f.payments.HandleGatewayEvent(ctx, event)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, entity.PaymentStatusPaid, f.bookingStatus(t, b.ID))

	applied, err = f.payments.HandleGatewayEvent(ctx, event)
	require.NoError(t, err)
	assert.False(t, applied)

	// Same outcome under another event id changes nothing either
	event.ID = "evt_2"
	applied, err = f.payments.HandleGatewayEvent(ctx, event)
	require.NoError(t, err)
	assert.False(t, applied)

	paidEvents := 0
	for _, key := range f.events.Keys() {
		if key == EventPaymentPaid {
			paidEvents++
		}
	}
	assert.Equal(t, 1, paidEvents)

	_, err = f.payments.HandleGatewayEvent(ctx, &entity.GatewayEvent{ID: "evt_3", Type: "payment.exploded", IntentID: result.Intent.ID})
	assert.ErrorIs(t, err, entity.ErrValidation)

	_, err = f.payments.HandleGatewayEvent(ctx, &entity.GatewayEvent{ID: "evt_4", Type: entity.GatewayEventSucceeded, IntentID: "pi_unknown"})
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(10), day(11))

	result, err := f.payments.CreateIntent(ctx, customer, &CreateIntentRequest{BookingID: b.ID, Token: "tok_visa"})
	require.NoError(t, err)

	_, err = f.payments.Refund(ctx, admin, result.Intent.ID, nil)
	assert.ErrorIs(t, err, entity.ErrNotPaid)

	paid, err := f.payments.ConfirmIntent(ctx, customer, result.Intent.ID)
	require.NoError(t, err)

	_, err = f.payments.Refund(ctx, customer, result.Intent.ID, nil)
	assert.ErrorIs(t, err, entity.ErrAdminOnly)

	refunded, err := f.payments.Refund(ctx, admin, result.Intent.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusRefunded, refunded.Status)
	assert.Equal(t, paid.TransactionID, refunded.TransactionID)
	assert.Equal(t, entity.PaymentStatusRefunded, f.bookingStatus(t, b.ID))
	assert.Contains(t, f.events.Keys(), EventPaymentRefunded)
}

func TestReconcilePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.book(t, customer, day(10), day(11))

	result, err := f.payments.CreateIntent(ctx, customer, &CreateIntentRequest{BookingID: b.ID, Token: "tok_visa"})
	require.NoError(t, err)
	require.NoError(t, f.sandbox.Settle(result.Intent.ID, gateway.IntentSucceeded))

	// Too young, the webhook may still arrive
	n, err := f.payments.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.advance(f.clock().Add(11 * time.Minute))
	n, err = f.payments.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, entity.PaymentStatusPaid, f.bookingStatus(t, b.ID))

	n, err = f.payments.ReconcilePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
