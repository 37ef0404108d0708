package entity

import (
	"time"
)

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodPromptPay    PaymentMethod = "promptpay"
	PaymentMethodGateway      PaymentMethod = "gateway"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodBankTransfer,
		PaymentMethodPromptPay, PaymentMethodGateway:
		return true
	}
	return false
}

// RequiresProof is true for remote transfers the staff cannot witness.
func (m PaymentMethod) RequiresProof() bool {
	return m == PaymentMethodBankTransfer || m == PaymentMethodPromptPay
}

type Payment struct {
	ID            int64         `json:"id" db:"id"`
	BookingID     int64         `json:"booking_id" db:"booking_id"`
	Amount        float64       `json:"amount" db:"amount"`
	Method        PaymentMethod `json:"method" db:"method"`
	Status        PaymentStatus `json:"status" db:"status"`
	TransactionID string        `json:"transaction_id,omitempty" db:"transaction_id"`
	IntentID      string        `json:"intent_id,omitempty" db:"intent_id"`
	ProofRef      string        `json:"proof_ref,omitempty" db:"proof_ref"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// PaymentOutcome is a terminal (or retry) result for an intent that must be
// applied to the payment row and its booking together. A non-empty EventID
// makes the application idempotent.
type PaymentOutcome struct {
	EventID       string
	IntentID      string
	Status        PaymentStatus
	TransactionID string
}

type GatewayEventType string

const (
	GatewayEventSucceeded GatewayEventType = "payment.succeeded"
	GatewayEventFailed    GatewayEventType = "payment.failed"
	GatewayEventCancelled GatewayEventType = "payment.cancelled"
	GatewayEventRefunded  GatewayEventType = "payment.refunded"
)

// GatewayEvent is an asynchronous notification from the payment provider.
type GatewayEvent struct {
	ID            string           `json:"id" binding:"required"`
	Type          GatewayEventType `json:"type" binding:"required"`
	IntentID      string           `json:"intent_id" binding:"required"`
	TransactionID string           `json:"transaction_id,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// TargetStatus maps the event onto the payment state machine.
func (e *GatewayEvent) TargetStatus() (PaymentStatus, bool) {
	switch e.Type {
	case GatewayEventSucceeded:
		return PaymentStatusPaid, true
	case GatewayEventFailed, GatewayEventCancelled:
		return PaymentStatusFailed, true
	case GatewayEventRefunded:
		return PaymentStatusRefunded, true
	}
	return "", false
}
