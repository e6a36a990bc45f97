package out

import (
	"context"
	"time"

	"insight_server/core/domain"
)

// EmailCache is the time-windowed, per-user store of analyzed emails.
//
// Keys are namespaced per user via a one-way hash of the user identifier; all
// operations fail closed (return an error) when userKey is empty.
type EmailCache interface {
	// GetRecent returns non-expired entries whose date falls within
	// [now - (daysBack-1) days at midnight(tz), now], sorted by date
	// descending. Entries older than cacheDurationDays, and malformed
	// entries, are lazily deleted during the scan.
	GetRecent(ctx context.Context, userKey string, cacheDurationDays, daysBack int, tz *time.Location) ([]*domain.ProcessedEmail, error)

	// StoreMany upserts entries with TTL = ttlOverride, or the store default
	// when ttlOverride is nil. A zero ttlOverride is a documented no-op:
	// storage is skipped entirely (user disabled caching).
	StoreMany(ctx context.Context, userKey string, emails []*domain.ProcessedEmail, ttlOverride *time.Duration) error

	// DeleteEmails purges the given ids, returning deleted and failed counts.
	DeleteEmails(ctx context.Context, userKey string, ids []string) (deleted int, failed int, err error)
}
