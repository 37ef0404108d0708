package gateway

import (
	"context"
	"fmt"
	"math"

	"github.com/ds124wfegd/roombooker/internal/entity"
)

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
	IntentCancelled IntentStatus = "cancelled"
	IntentRefunded  IntentStatus = "refunded"
)

// PaymentStatus maps a provider outcome onto the booking payment state.
// Pending intents map to no change.
func (s IntentStatus) PaymentStatus() (entity.PaymentStatus, bool) {
	switch s {
	case IntentSucceeded:
		return entity.PaymentStatusPaid, true
	case IntentFailed, IntentCancelled:
		return entity.PaymentStatusFailed, true
	case IntentRefunded:
		return entity.PaymentStatusRefunded, true
	}
	return "", false
}

type IntentRequest struct {
	BookingID int64
	// Amount is in the currency's smallest unit.
	Amount   int64
	Currency string
	// Token is the card or source token collected by the client.
	Token       string
	Description string
}

type Intent struct {
	ID             string       `json:"id"`
	Amount         int64        `json:"amount"`
	Currency       string       `json:"currency"`
	Status         IntentStatus `json:"status"`
	TransactionID  string       `json:"transaction_id,omitempty"`
	FailureCode    string       `json:"failure_code,omitempty"`
	FailureMessage string       `json:"failure_message,omitempty"`
}

// Gateway is the payment provider seen by the payment service. Every call
// honours ctx; a call that outlives it fails with an ErrGateway error and
// leaves the remote state unknown.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ConfirmIntent(ctx context.Context, intentID string) (*Intent, error)
	CancelIntent(ctx context.Context, intentID string) (*Intent, error)
	// Refund returns the whole captured amount when amount is zero.
	Refund(ctx context.Context, intentID string, amount int64) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)

	Currency() string
	MinimumAmount() int64
}

// MinorUnits converts a decimal price into the smallest currency unit,
// raised to the provider minimum.
func MinorUnits(amount float64, minimum int64) int64 {
	units := int64(math.Round(amount * 100))
	if units < minimum {
		return minimum
	}
	return units
}

func gatewayErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", entity.ErrGateway, op, err)
}

// call runs fn in its own goroutine so a provider client without context
// support still gives up when ctx is done.
func call(ctx context.Context, op string, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		if err != nil {
			return gatewayErr(op, err)
		}
		return nil
	case <-ctx.Done():
		return gatewayErr(op, ctx.Err())
	}
}
