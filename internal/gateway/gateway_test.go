package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ds124wfegd/roombooker/internal/entity"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount  float64
		minimum int64
		want    int64
	}{
		{600, 2000, 60000},
		{10, 2000, 2000},
		{19.99, 0, 1999},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MinorUnits(tt.amount, tt.minimum), "amount %v", tt.amount)
	}
}

func TestIntentStatusMapping(t *testing.T) {
	tests := []struct {
		status IntentStatus
		want   entity.PaymentStatus
		ok     bool
	}{
		{IntentSucceeded, entity.PaymentStatusPaid, true},
		{IntentFailed, entity.PaymentStatusFailed, true},
		{IntentCancelled, entity.PaymentStatusFailed, true},
		{IntentRefunded, entity.PaymentStatusRefunded, true},
		{IntentPending, "", false},
	}
	for _, tt := range tests {
		got, ok := tt.status.PaymentStatus()
		assert.Equal(t, tt.ok, ok, string(tt.status))
		assert.Equal(t, tt.want, got, string(tt.status))
	}
}

func TestSandboxLifecycle(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox("thb", 2000)

	_, err := sb.CreateIntent(ctx, IntentRequest{BookingID: 1, Amount: 100})
	assert.ErrorIs(t, err, entity.ErrGateway)

	in, err := sb.CreateIntent(ctx, IntentRequest{BookingID: 1, Amount: 60000, Token: "tok_ok"})
	require.NoError(t, err)
	assert.Equal(t, IntentPending, in.Status)
	assert.Equal(t, "thb", in.Currency)

	in, err = sb.ConfirmIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, IntentSucceeded, in.Status)
	assert.NotEmpty(t, in.TransactionID)

	_, err = sb.CancelIntent(ctx, in.ID)
	assert.ErrorIs(t, err, entity.ErrGateway)

	in, err = sb.Refund(ctx, in.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, IntentRefunded, in.Status)
}

func TestSandboxDecline(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox("thb", 0)

	in, err := sb.CreateIntent(ctx, IntentRequest{Amount: 5000, Token: SandboxDeclineToken})
	require.NoError(t, err)

	in, err = sb.ConfirmIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, IntentFailed, in.Status)
	assert.Equal(t, "insufficient_fund", in.FailureCode)
}

func TestSandboxTimeout(t *testing.T) {
	sb := NewSandbox("thb", 0)
	sb.SetDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sb.CreateIntent(ctx, IntentRequest{Amount: 5000})
	assert.ErrorIs(t, err, entity.ErrGateway)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	err := call(ctx, "slow", func() error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, entity.ErrGateway)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
