// Package lastseen records when users were last connected. Timestamps live
// in Redis with a retention TTL, so the user directory can show recency
// without touching Postgres on every disconnect.
package lastseen

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "lastseen:"

	// Retention is how long a last-seen timestamp is kept after the user's
	// final disconnect.
	Retention = 30 * 24 * time.Hour
)

// Store persists last-seen timestamps in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a last-seen store backed by the given Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Touch records the current time as the user's last-seen timestamp.
func (s *Store) Touch(ctx context.Context, userID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := s.client.Set(ctx, keyPrefix+userID, now, Retention).Err(); err != nil {
		return fmt.Errorf("lastseen: setting timestamp: %w", err)
	}
	return nil
}

// Get returns the user's last-seen timestamp. The second return value is
// false if no timestamp is recorded.
func (s *Store) Get(ctx context.Context, userID string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, keyPrefix+userID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("lastseen: reading timestamp: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("lastseen: parsing timestamp %q: %w", val, err)
	}
	return ts, true, nil
}

// GetMany returns last-seen timestamps for the given user IDs in one round
// trip. Users with no recorded timestamp are omitted from the result. On a
// Redis error the method returns an empty map and logs; directory listings
// degrade to showing no recency rather than failing.
func (s *Store) GetMany(ctx context.Context, userIDs []string) map[string]time.Time {
	if len(userIDs) == 0 {
		return nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = keyPrefix + id
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		log.Printf("[lastseen] redis MGET error: %v", err)
		return nil
	}

	result := make(map[string]time.Time, len(userIDs))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339, str)
		if err != nil {
			log.Printf("[lastseen] bad timestamp for %s: %v", userIDs[i], err)
			continue
		}
		result[userIDs[i]] = ts
	}
	return result
}
