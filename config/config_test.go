package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	v, err := LoadConfig()
	require.NoError(t, err)

	cfg, err := ParseConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 60*time.Minute, cfg.Booking.SlotDuration)
	assert.Equal(t, 10*time.Minute, cfg.Booking.BreakDuration)
	assert.Equal(t, int64(2000), cfg.Gateway.MinimumAmount)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, []string{"payment.*"}, cfg.Broker.GatewayKeys)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("ROOMBOOKER_SERVER_PORT", "9090")
	t.Setenv("ROOMBOOKER_WORKER_SYNC_INTERVAL", "2m")
	t.Setenv("ROOMBOOKER_GATEWAY_PROVIDER", "omise")

	v, err := LoadConfig()
	require.NoError(t, err)
	cfg, err := ParseConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Worker.SyncInterval)
	assert.Equal(t, "omise", cfg.Gateway.Provider)
}

func TestParseConfig_Invalid(t *testing.T) {
	t.Setenv("ROOMBOOKER_BOOKING_SLOT_DURATION", "0s")

	v, err := LoadConfig()
	require.NoError(t, err)
	_, err = ParseConfig(v)
	assert.Error(t, err)
}

func TestBookingLocation(t *testing.T) {
	assert.Equal(t, time.Local, BookingConfig{}.Location())
	assert.Equal(t, time.Local, BookingConfig{Timezone: "Nowhere/Atlantis"}.Location())
	assert.Equal(t, "UTC", BookingConfig{Timezone: "UTC"}.Location().String())
}
