package gateway

import (
	"context"
	"fmt"
	"strconv"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/sirupsen/logrus"
)

// OmiseGateway maps intents onto Omise charges: an intent is an authorized,
// uncaptured charge, confirm captures it and cancel reverses it.
type OmiseGateway struct {
	client   *omise.Client
	currency string
	minimum  int64
	log      *logrus.Entry
}

func NewOmiseGateway(publicKey, secretKey, currency string, minimum int64, log *logrus.Entry) (*OmiseGateway, error) {
	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create omise client: %w", err)
	}
	client.SetDebug(false)

	return &OmiseGateway{
		client:   client,
		currency: currency,
		minimum:  minimum,
		log:      log.WithField("component", "omise_gateway"),
	}, nil
}

func (g *OmiseGateway) Currency() string {
	return g.currency
}

func (g *OmiseGateway) MinimumAmount() int64 {
	return g.minimum
}

func (g *OmiseGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	currency := req.Currency
	if currency == "" {
		currency = g.currency
	}

	ch := &omise.Charge{}
	op := &operations.CreateCharge{
		Amount:      req.Amount,
		Currency:    currency,
		Card:        req.Token,
		DontCapture: true,
		Description: req.Description,
		Metadata:    map[string]interface{}{"booking_id": strconv.FormatInt(req.BookingID, 10)},
	}
	if err := call(ctx, "create charge", func() error { return g.client.Do(ch, op) }); err != nil {
		return nil, err
	}

	g.log.WithFields(logrus.Fields{
		"charge_id":  ch.ID,
		"booking_id": req.BookingID,
		"status":     string(ch.Status),
	}).Info("Charge created")
	return chargeIntent(ch), nil
}

func (g *OmiseGateway) ConfirmIntent(ctx context.Context, intentID string) (*Intent, error) {
	ch := &omise.Charge{}
	op := &operations.CaptureCharge{ChargeID: intentID}
	if err := call(ctx, "capture charge", func() error { return g.client.Do(ch, op) }); err != nil {
		return nil, err
	}
	return chargeIntent(ch), nil
}

func (g *OmiseGateway) CancelIntent(ctx context.Context, intentID string) (*Intent, error) {
	ch := &omise.Charge{}
	op := &operations.ReverseCharge{ChargeID: intentID}
	if err := call(ctx, "reverse charge", func() error { return g.client.Do(ch, op) }); err != nil {
		return nil, err
	}
	return chargeIntent(ch), nil
}

func (g *OmiseGateway) Refund(ctx context.Context, intentID string, amount int64) (*Intent, error) {
	if amount <= 0 {
		current, err := g.GetIntent(ctx, intentID)
		if err != nil {
			return nil, err
		}
		amount = current.Amount
	}

	refund := &omise.Refund{}
	op := &operations.CreateRefund{ChargeID: intentID, Amount: amount}
	if err := call(ctx, "create refund", func() error { return g.client.Do(refund, op) }); err != nil {
		return nil, err
	}

	g.log.WithFields(logrus.Fields{
		"charge_id": intentID,
		"refund_id": refund.ID,
		"amount":    amount,
	}).Info("Charge refunded")

	return &Intent{
		ID:            intentID,
		Amount:        amount,
		Currency:      g.currency,
		Status:        IntentRefunded,
		TransactionID: refund.ID,
	}, nil
}

func (g *OmiseGateway) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	ch := &omise.Charge{}
	op := &operations.RetrieveCharge{ChargeID: intentID}
	if err := call(ctx, "retrieve charge", func() error { return g.client.Do(ch, op) }); err != nil {
		return nil, err
	}
	return chargeIntent(ch), nil
}

func chargeIntent(ch *omise.Charge) *Intent {
	intent := &Intent{
		ID:       ch.ID,
		Amount:   ch.Amount,
		Currency: ch.Currency,
	}

	// Omise charge statuses: pending, successful, failed, reversed, expired
	switch string(ch.Status) {
	case "successful":
		intent.Status = IntentSucceeded
		intent.TransactionID = ch.ID
	case "failed", "expired":
		intent.Status = IntentFailed
	case "reversed":
		intent.Status = IntentCancelled
	default:
		intent.Status = IntentPending
	}

	if ch.FailureCode != nil {
		intent.FailureCode = *ch.FailureCode
	}
	if ch.FailureMessage != nil {
		intent.FailureMessage = *ch.FailureMessage
	}
	return intent
}
