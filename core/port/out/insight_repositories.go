package out

import (
	"context"
	"time"

	"insight_server/core/domain"
)

// SettingsRepository stores per-user analysis settings. A missing row yields
// domain.DefaultSettings, not an error.
type SettingsRepository interface {
	GetSettings(ctx context.Context, userID string) (*domain.UserSettings, error)
	UpsertSettings(ctx context.Context, settings *domain.UserSettings) error
}

// SenderStat is one sender's interaction count for graph upserts.
type SenderStat struct {
	Address string
	Count   int
}

// SenderGraph tracks per-user sender relationships. VIPSenders returns the
// user's top correspondents; the scorer merges them with the explicit VIP
// list from settings.
type SenderGraph interface {
	VIPSenders(ctx context.Context, userID string, limit int) ([]string, error)
	RecordSenders(ctx context.Context, userID string, stats []SenderStat) error
}

// UsageReport is the per-run LLM accounting aggregate.
type UsageReport struct {
	UserID           string    `bson:"user_id"`
	RunID            string    `bson:"run_id"`
	Model            string    `bson:"model"`
	PromptTokens     int       `bson:"prompt_tokens"`
	CompletionTokens int       `bson:"completion_tokens"`
	Cost             float64   `bson:"cost"`
	EmailsAnalyzed   int       `bson:"emails_analyzed"`
	CreatedAt        time.Time `bson:"created_at"`
}

// UsageStore persists usage reports for billing/visibility.
type UsageStore interface {
	SaveReport(ctx context.Context, report *UsageReport) error
	ReportsByDay(ctx context.Context, userID string, day time.Time) ([]*UsageReport, error)
}
