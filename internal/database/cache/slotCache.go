package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/roombooker/internal/entity"
)

const keyPrefix = "roombooker:slots"

// SlotCache keeps generated slot grids for a short TTL. A cache failure is
// never fatal: reads degrade to a miss and writes are dropped.
type SlotCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Entry
}

func NewSlotCache(client *redis.Client, ttl time.Duration, log *logrus.Entry) *SlotCache {
	return &SlotCache{
		client: client,
		ttl:    ttl,
		log:    log.WithField("component", "slot_cache"),
	}
}

func roomKey(roomID int64, date string) string {
	return fmt.Sprintf("%s:room:%d:%s", keyPrefix, roomID, date)
}

func fleetKey(date string) string {
	return fmt.Sprintf("%s:fleet:%s", keyPrefix, date)
}

func (c *SlotCache) GetRoomSlots(ctx context.Context, roomID int64, date string) (*entity.RoomSlots, bool) {
	var slots entity.RoomSlots
	if !c.get(ctx, roomKey(roomID, date), &slots) {
		return nil, false
	}
	return &slots, true
}

func (c *SlotCache) SetRoomSlots(ctx context.Context, slots *entity.RoomSlots) {
	c.set(ctx, roomKey(slots.RoomID, slots.Date), slots)
}

func (c *SlotCache) GetFleet(ctx context.Context, date string) ([]*entity.RoomAvailability, bool) {
	var fleet []*entity.RoomAvailability
	if !c.get(ctx, fleetKey(date), &fleet) {
		return nil, false
	}
	return fleet, true
}

func (c *SlotCache) SetFleet(ctx context.Context, date string, fleet []*entity.RoomAvailability) {
	c.set(ctx, fleetKey(date), fleet)
}

// Invalidate drops the room's grids and the fleet views for the given dates.
func (c *SlotCache) Invalidate(ctx context.Context, roomID int64, dates ...string) {
	if len(dates) == 0 {
		return
	}
	keys := make([]string, 0, 2*len(dates))
	for _, date := range dates {
		keys = append(keys, roomKey(roomID, date), fleetKey(date))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.WithError(err).WithField("room_id", roomID).Warn("Failed to invalidate slot cache")
	}
}

// InvalidateRoom drops every cached grid of the room and all fleet views.
// Used when the room itself changes, which affects every date.
func (c *SlotCache) InvalidateRoom(ctx context.Context, roomID int64) {
	for _, pattern := range []string{fmt.Sprintf("%s:room:%d:*", keyPrefix, roomID), keyPrefix + ":fleet:*"} {
		var cursor uint64
		for {
			keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				c.log.WithError(err).WithField("room_id", roomID).Warn("Failed to scan slot cache")
				return
			}
			if len(keys) > 0 {
				if err := c.client.Del(ctx, keys...).Err(); err != nil {
					c.log.WithError(err).WithField("room_id", roomID).Warn("Failed to invalidate slot cache")
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
}

func (c *SlotCache) get(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Slot cache read failed")
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Dropping corrupted slot cache entry")
		c.client.Del(ctx, key)
		return false
	}
	return true
}

func (c *SlotCache) set(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Failed to encode slot cache entry")
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Slot cache write failed")
	}
}
