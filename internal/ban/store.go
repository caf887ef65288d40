// Package ban manages temporary user bans in Redis. Bans are keyed by user
// ID with a TTL, and repeat offenses escalate the ban duration. Flag reports
// accumulate in a short-lived counter and trigger an automatic ban once they
// cross the threshold.
package ban

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	banKeyPrefix     = "ban:user:"
	offenseKeyPrefix = "ban:offenses:"
)

// Escalating ban durations by offense count.
var banDurations = []time.Duration{
	15 * time.Minute, // first offense
	1 * time.Hour,    // second offense
	24 * time.Hour,   // third and beyond
}

const (
	// OffensesTTL is how long the offense counter persists. A user who keeps
	// clean for this long starts over at the first tier.
	OffensesTTL = 7 * 24 * time.Hour

	// FlagWindow is how far back the moderator counts flags when deciding
	// whether to auto-ban.
	FlagWindow = 24 * time.Hour

	// AutoBanThreshold is the number of flags within FlagWindow that
	// triggers an automatic ban.
	AutoBanThreshold = 3
)

// Store manages bans in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a ban store backed by the given Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Ban bans the user, escalating the duration based on their offense history.
// Returns the applied ban duration.
func (s *Store) Ban(ctx context.Context, userID string) (time.Duration, error) {
	offenseKey := offenseKeyPrefix + userID

	offenses, err := s.client.Incr(ctx, offenseKey).Result()
	if err != nil {
		return 0, fmt.Errorf("ban: incrementing offense count: %w", err)
	}
	if err := s.client.Expire(ctx, offenseKey, OffensesTTL).Err(); err != nil {
		log.Printf("[ban] failed to set offense TTL for %s: %v", userID, err)
	}

	tier := int(offenses) - 1
	if tier >= len(banDurations) {
		tier = len(banDurations) - 1
	}
	duration := banDurations[tier]

	if err := s.client.Set(ctx, banKeyPrefix+userID, offenses, duration).Err(); err != nil {
		return 0, fmt.Errorf("ban: setting ban key: %w", err)
	}

	log.Printf("[ban] banned user %s for %s (offense %d)", userID, duration, offenses)
	return duration, nil
}

// IsBanned reports whether the user currently has an active ban and, if so,
// how long it has left. On Redis errors the method fails open (not banned)
// so that a Redis outage does not lock everyone out.
func (s *Store) IsBanned(ctx context.Context, userID string) (bool, time.Duration, error) {
	ttl, err := s.client.TTL(ctx, banKeyPrefix+userID).Result()
	if err != nil {
		log.Printf("[ban] redis TTL error for %s: %v (failing open)", userID, err)
		return false, 0, err
	}
	if ttl <= 0 {
		// -2 key missing, -1 no expiry (should not happen for ban keys).
		return false, 0, nil
	}
	return true, ttl, nil
}

// Unban lifts an active ban. The offense counter is left intact so a repeat
// offense after a manual unban still escalates.
func (s *Store) Unban(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, banKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("ban: deleting ban key: %w", err)
	}
	return nil
}

