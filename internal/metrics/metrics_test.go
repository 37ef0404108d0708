package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(bookingCreated.WithLabelValues("created"))
	IncBookingCreated("created")
	assert.Equal(t, before+1, testutil.ToFloat64(bookingCreated.WithLabelValues("created")))

	before = testutil.ToFloat64(bookingCompleted)
	AddBookingsCompleted(3)
	assert.Equal(t, before+3, testutil.ToFloat64(bookingCompleted))

	ObserveGatewayCall("confirm", time.Now(), errors.New("boom"))
	assert.Equal(t, 1, testutil.CollectAndCount(gatewayCalls))
}
