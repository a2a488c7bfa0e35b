package peer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"campuswell/internal/models"
	"campuswell/internal/redis"
)

const defaultRoomCacheTTL = 5 * time.Minute

func roomCacheKey(slug string) string {
	return "room:slug:" + slug
}

// roomCache keeps resolved rooms in redis. Rooms are read-only to the
// realtime core, so entries are only ever replaced by expiry.
type roomCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

func newRoomCache(client *redis.Client, ttl time.Duration) *roomCache {
	if ttl <= 0 {
		ttl = defaultRoomCacheTTL
	}
	return &roomCache{client: client, ttl: ttl}
}

func (c *roomCache) get(ctx context.Context, slug string, load func(context.Context, string) (*models.Room, error)) (*models.Room, error) {
	key := roomCacheKey(slug)
	if data, err := c.client.Get(ctx, key); err == nil {
		var room models.Room
		if err := json.Unmarshal([]byte(data), &room); err == nil {
			return &room, nil
		}
		slog.Warn("room cache decode failed, reloading", "key", key)
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		slog.Warn("room cache get failed", "key", key, "err", err)
	}

	// concurrent joins of a cold room share one database read
	v, err, _ := c.group.Do(slug, func() (interface{}, error) {
		room, err := load(ctx, slug)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(room); err == nil {
			if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
				slog.Warn("room cache set failed", "key", key, "err", err)
			}
		}
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	room := *v.(*models.Room)
	return &room, nil
}

// invalidate drops a cached room, used after seeding changes a room.
func (c *roomCache) invalidate(ctx context.Context, slug string) {
	if err := c.client.Del(ctx, roomCacheKey(slug)); err != nil {
		slog.Warn("room cache invalidate failed", "room", slug, "err", err)
	}
}
