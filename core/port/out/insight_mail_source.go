package out

import (
	"context"
	"time"

	"insight_server/core/domain"
)

// RawRecord is a provider message before metadata extraction. It carries just
// enough identity for cache diffing plus the raw payloads the parser needs.
type RawRecord struct {
	ID       string            `json:"id"`
	Headers  map[string]string `json:"headers"`
	HTMLBody string            `json:"html_body"`
	TextBody string            `json:"text_body"`
	Snippet  string            `json:"snippet"`
	Internal time.Time         `json:"internal"` // provider-side receive time, may be zero
}

// FetchWindow describes the incremental "after date X" query.
type FetchWindow struct {
	DaysBack int            // 1 = today only
	Timezone *time.Location // midnight boundary is computed in this zone
}

// Since returns the window start: midnight (DaysBack-1) days ago in the
// window's timezone.
func (w FetchWindow) Since(now time.Time) time.Time {
	loc := w.Timezone
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.AddDate(0, 0, -(w.DaysBack - 1))
}

// MailSource is the external mail provider consumed by the pipeline. Rate
// limiting is the caller's concern: implementations surface quota errors as
// retryable apperr values and the orchestrator backs off.
type MailSource interface {
	// Connect binds the source to a user identity (token resolution etc.).
	Connect(ctx context.Context, userID string) error

	// FetchSince returns all records in the window, already excluding the
	// sent folder.
	FetchSince(ctx context.Context, userID string, window FetchWindow) ([]RawRecord, error)
}

// MetadataParser extracts canonical metadata from a raw record. A nil result
// signals an unparsable record: it is logged and skipped, never raised.
type MetadataParser interface {
	Extract(record RawRecord) *domain.EmailMetadata
}
