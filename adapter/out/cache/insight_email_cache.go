// Package cache implements the Redis-backed email cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"insight_server/core/domain"
	"insight_server/core/port/out"
	"insight_server/pkg/apperr"
)

// =============================================================================
// Redis Email Cache
// =============================================================================

const (
	keyPrefix      = "insight:email:"
	userHashLength = 16 // hex chars of the sha256 user hash kept in the key
	scanPageSize   = 200
)

// DefaultTTLForDays converts a cache_duration_days setting to a TTL.
func DefaultTTLForDays(days int) time.Duration {
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}

// RedisEmailCache stores one JSON record per (userHash, emailID) key with
// Redis-native TTL expiry. Window filtering and malformed-entry purge happen
// on read.
type RedisEmailCache struct {
	client *redis.Client
	log    zerolog.Logger
}

var _ out.EmailCache = (*RedisEmailCache)(nil)

func NewRedisEmailCache(client *redis.Client, log zerolog.Logger) *RedisEmailCache {
	return &RedisEmailCache{
		client: client,
		log:    log.With().Str("component", "email_cache").Logger(),
	}
}

// hashUserKey derives the key namespace from a one-way hash of the user
// identifier, preventing key injection and user enumeration.
func hashUserKey(userKey string) string {
	sum := sha256.Sum256([]byte(userKey))
	return hex.EncodeToString(sum[:])[:userHashLength]
}

func emailKey(userKey, emailID string) string {
	return keyPrefix + hashUserKey(userKey) + ":" + emailID
}

func userPattern(userKey string) string {
	return keyPrefix + hashUserKey(userKey) + ":*"
}

// windowStart returns midnight (daysBack-1) days ago in the given timezone.
func windowStart(now time.Time, daysBack int, tz *time.Location) time.Time {
	if daysBack < 1 {
		daysBack = 1
	}
	if tz == nil {
		tz = time.UTC
	}
	local := now.In(tz).AddDate(0, 0, -(daysBack - 1))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)
}

// GetRecent scans the user's namespace, MGETs the values and returns entries
// inside the window sorted by date descending. Expired and malformed entries
// are deleted as they are encountered.
func (c *RedisEmailCache) GetRecent(ctx context.Context, userKey string, cacheDurationDays, daysBack int, tz *time.Location) ([]*domain.ProcessedEmail, error) {
	if userKey == "" {
		return nil, apperr.CacheError("get_recent", domain.ErrEmptyEmailID).WithDetail("reason", "empty user key")
	}

	keys, err := c.scanKeys(ctx, userPattern(userKey))
	if err != nil {
		return nil, apperr.CacheError("scan", err)
	}
	if len(keys) == 0 {
		return []*domain.ProcessedEmail{}, nil
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperr.CacheError("mget", err)
	}

	now := time.Now()
	start := windowStart(now, daysBack, tz)
	oldest := now.AddDate(0, 0, -cacheDurationDays)

	var toDelete []string
	emails := make([]*domain.ProcessedEmail, 0, len(values))
	for i, raw := range values {
		if raw == nil {
			continue // expired between SCAN and MGET
		}
		str, ok := raw.(string)
		if !ok {
			toDelete = append(toDelete, keys[i])
			continue
		}

		var email domain.ProcessedEmail
		if err := json.Unmarshal([]byte(str), &email); err != nil || email.Validate() != nil {
			toDelete = append(toDelete, keys[i])
			continue
		}
		if cacheDurationDays > 0 && email.Date.Before(oldest) {
			toDelete = append(toDelete, keys[i])
			continue
		}
		if email.Date.Before(start) || email.Date.After(now) {
			continue // outside the requested window but still fresh
		}
		emails = append(emails, &email)
	}

	if len(toDelete) > 0 {
		if err := c.client.Del(ctx, toDelete...).Err(); err != nil {
			c.log.Warn().Err(err).Int("keys", len(toDelete)).Msg("failed to purge stale cache entries")
		}
	}

	sortByDateDesc(emails)
	return emails, nil
}

// StoreMany writes all entries through one pipeline. A zero ttlOverride skips
// storage entirely.
func (c *RedisEmailCache) StoreMany(ctx context.Context, userKey string, emails []*domain.ProcessedEmail, ttlOverride *time.Duration) error {
	if userKey == "" {
		return apperr.CacheError("store_many", domain.ErrEmptyEmailID).WithDetail("reason", "empty user key")
	}
	if ttlOverride != nil && *ttlOverride == 0 {
		return nil // caching disabled for this user
	}
	if len(emails) == 0 {
		return nil
	}

	ttl := DefaultTTLForDays(domain.DefaultCacheDuration)
	if ttlOverride != nil {
		ttl = *ttlOverride
	}

	pipe := c.client.Pipeline()
	for _, email := range emails {
		if email == nil || email.Validate() != nil {
			continue
		}
		data, err := json.Marshal(email)
		if err != nil {
			c.log.Warn().Err(err).Str("email_id", email.ID).Msg("failed to marshal email for cache")
			continue
		}
		pipe.Set(ctx, emailKey(userKey, email.ID), data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.CacheError("store_many", err)
	}
	return nil
}

// DeleteEmails purges the given ids one by one so a single failure does not
// mask the rest.
func (c *RedisEmailCache) DeleteEmails(ctx context.Context, userKey string, ids []string) (int, int, error) {
	if userKey == "" {
		return 0, 0, apperr.CacheError("delete_emails", domain.ErrEmptyEmailID).WithDetail("reason", "empty user key")
	}

	deleted, failed := 0, 0
	for _, id := range ids {
		if err := c.client.Del(ctx, emailKey(userKey, id)).Err(); err != nil {
			failed++
			c.log.Warn().Err(err).Str("email_id", id).Msg("failed to delete cached email")
			continue
		}
		deleted++
	}
	return deleted, failed, nil
}

func (c *RedisEmailCache) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		page, next, err := c.client.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, page...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func sortByDateDesc(emails []*domain.ProcessedEmail) {
	sort.Slice(emails, func(i, j int) bool {
		return emails[i].Date.After(emails[j].Date)
	})
}
