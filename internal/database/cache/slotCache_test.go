package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ds124wfegd/roombooker/internal/entity"
)

func newTestCache(t *testing.T) (*SlotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSlotCache(client, time.Minute, logrus.NewEntry(logrus.New())), mr
}

func TestSlotCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	_, ok := c.GetRoomSlots(ctx, 1, "2025-06-01")
	assert.False(t, ok)

	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	slots := &entity.RoomSlots{
		RoomID: 1,
		Date:   "2025-06-01",
		Slots: []entity.Slot{
			{Start: start, End: start.Add(time.Hour), DurationMinutes: 60, Available: true},
		},
		SlotSummary: entity.SlotSummary{Total: 1, AvailableCount: 1},
	}
	c.SetRoomSlots(ctx, slots)
	c.SetFleet(ctx, "2025-06-01", []*entity.RoomAvailability{{Room: &entity.Room{ID: 1, Name: "A"}, Available: true}})

	got, ok := c.GetRoomSlots(ctx, 1, "2025-06-01")
	require.True(t, ok)
	assert.Equal(t, 1, got.Total)
	assert.True(t, got.Slots[0].Start.Equal(start))

	fleet, ok := c.GetFleet(ctx, "2025-06-01")
	require.True(t, ok)
	require.Len(t, fleet, 1)
	assert.Equal(t, "A", fleet[0].Room.Name)

	ttl := mr.TTL(roomKey(1, "2025-06-01"))
	assert.Equal(t, time.Minute, ttl)

	c.Invalidate(ctx, 1, "2025-06-01")
	_, ok = c.GetRoomSlots(ctx, 1, "2025-06-01")
	assert.False(t, ok)
	_, ok = c.GetFleet(ctx, "2025-06-01")
	assert.False(t, ok)
}

func TestSlotCacheCorruptedEntry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, mr.Set(fleetKey("2025-06-01"), "{not json"))

	_, ok := c.GetFleet(ctx, "2025-06-01")
	assert.False(t, ok)
	assert.False(t, mr.Exists(fleetKey("2025-06-01")))
}

func TestSlotCacheDownIsMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	mr.Close()

	_, ok := c.GetRoomSlots(ctx, 1, "2025-06-01")
	assert.False(t, ok)
	c.SetRoomSlots(ctx, &entity.RoomSlots{RoomID: 1, Date: "2025-06-01"})
}

func TestSlotCacheInvalidateRoom(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	for _, date := range []string{"2025-06-01", "2025-06-02"} {
		c.SetRoomSlots(ctx, &entity.RoomSlots{RoomID: 1, Date: date})
		c.SetRoomSlots(ctx, &entity.RoomSlots{RoomID: 2, Date: date})
		c.SetFleet(ctx, date, []*entity.RoomAvailability{})
	}

	c.InvalidateRoom(ctx, 1)

	assert.False(t, mr.Exists(roomKey(1, "2025-06-01")))
	assert.False(t, mr.Exists(roomKey(1, "2025-06-02")))
	assert.False(t, mr.Exists(fleetKey("2025-06-01")))
	assert.False(t, mr.Exists(fleetKey("2025-06-02")))
	assert.True(t, mr.Exists(roomKey(2, "2025-06-01")))
}
