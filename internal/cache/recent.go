// Package cache holds the best-effort Redis accelerator for the newest
// page of a room's messages. The durable store stays authoritative; every
// caller is expected to swallow errors from here.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marketchat/internal/models"
)

const opTimeout = 2 * time.Second

// MaxEntries bounds the cached list per room. Page sizes served from the
// cache must not exceed it, or a hit would return fewer rows than a miss.
const MaxEntries = 50

func InitRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// RecentMessages caches one list per room, newest first, matching the
// order the durable query exposes. Entries are replaced or dropped
// wholesale, never patched in place.
type RecentMessages struct {
	client     *redis.Client
	ttl        time.Duration
	maxEntries int
}

func NewRecentMessages(client *redis.Client, ttl time.Duration, maxEntries int) *RecentMessages {
	if maxEntries <= 0 {
		maxEntries = MaxEntries
	}
	return &RecentMessages{client: client, ttl: ttl, maxEntries: maxEntries}
}

func key(roomID int64) string {
	return fmt.Sprintf("chat:recent:%d", roomID)
}

// Recent returns the cached list for the room, or nil on a miss.
func (c *RecentMessages) Recent(ctx context.Context, roomID int64) ([]models.MessageView, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := c.client.LRange(ctx, key(roomID), 0, int64(c.maxEntries)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache read: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	msgs := make([]models.MessageView, 0, len(raw))
	for _, item := range raw {
		var m models.MessageView
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("cache decode: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Populate replaces the room's entry wholesale with the given newest-first
// page and restarts the TTL.
func (c *RecentMessages) Populate(ctx context.Context, roomID int64, msgs []models.MessageView) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	items := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("cache encode: %w", err)
		}
		items = append(items, data)
	}

	k := key(roomID)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, k)
	if len(items) > 0 {
		pipe.RPush(ctx, k, items...)
		pipe.Expire(ctx, k, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache populate: %w", err)
	}
	return nil
}

// Append prepends a freshly saved message (newest first) and refreshes
// the TTL. The push is conditional on the key existing: a room whose
// entry has expired must not come back as a one-message list shadowing
// its full history, so a cold room stays cold until the next page-0 read
// repopulates it wholesale.
func (c *RecentMessages) Append(ctx context.Context, roomID int64, msg models.MessageView) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	k := key(roomID)
	pipe := c.client.TxPipeline()
	pipe.LPushX(ctx, k, data)
	pipe.LTrim(ctx, k, 0, int64(c.maxEntries)-1)
	pipe.Expire(ctx, k, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache append: %w", err)
	}
	return nil
}

// Invalidate drops the room's entry. Callers after a read-state mutation
// must invalidate, never repopulate.
func (c *RecentMessages) Invalidate(ctx context.Context, roomID int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, key(roomID)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
