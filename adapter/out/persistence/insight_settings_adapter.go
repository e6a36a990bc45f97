// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"insight_server/core/domain"
	"insight_server/core/port/out"
)

// =============================================================================
// Settings Adapter
// =============================================================================

// SettingsAdapter implements out.SettingsRepository using PostgreSQL.
type SettingsAdapter struct {
	db  *sqlx.DB
	log zerolog.Logger
}

var _ out.SettingsRepository = (*SettingsAdapter)(nil)

func NewSettingsAdapter(db *sqlx.DB, log zerolog.Logger) *SettingsAdapter {
	return &SettingsAdapter{
		db:  db,
		log: log.With().Str("component", "settings_repository").Logger(),
	}
}

// settingsRow represents the database row for user analysis settings. The
// list/map columns are stored as JSONB.
type settingsRow struct {
	UserID           string         `db:"user_id"`
	AIEnabled        bool           `db:"ai_enabled"`
	CacheDisabled    bool           `db:"cache_disabled"`
	TokenBudget      int            `db:"token_budget"`
	SummaryTier      string         `db:"summary_tier"`
	VIPSenders       sql.NullString `db:"vip_senders"`
	CustomCategories sql.NullString `db:"custom_categories"`
}

func (r *settingsRow) toEntity(log zerolog.Logger) *domain.UserSettings {
	settings := domain.DefaultSettings(r.UserID)
	settings.AIEnabled = r.AIEnabled
	settings.CacheDisabled = r.CacheDisabled
	if r.TokenBudget > 0 {
		settings.TokenBudget = r.TokenBudget
	}
	if tier := domain.SummaryTier(r.SummaryTier); tier != "" {
		settings.SummaryTier = tier
	}

	if r.VIPSenders.Valid && r.VIPSenders.String != "" {
		var vips []string
		if err := json.Unmarshal([]byte(r.VIPSenders.String), &vips); err != nil {
			log.Warn().Err(err).Str("user_id", r.UserID).Msg("malformed vip_senders column")
		} else {
			settings.VIPSenders = vips
		}
	}
	if r.CustomCategories.Valid && r.CustomCategories.String != "" {
		var cats map[string][]string
		if err := json.Unmarshal([]byte(r.CustomCategories.String), &cats); err != nil {
			log.Warn().Err(err).Str("user_id", r.UserID).Msg("malformed custom_categories column")
		} else {
			settings.CustomCategories = cats
		}
	}
	return settings
}

// GetSettings loads the user's analysis settings. A missing row yields the
// defaults, not an error.
func (a *SettingsAdapter) GetSettings(ctx context.Context, userID string) (*domain.UserSettings, error) {
	const query = `
		SELECT user_id, ai_enabled, cache_disabled, token_budget,
		       summary_tier, vip_senders, custom_categories
		FROM analysis_settings
		WHERE user_id = $1
	`

	var row settingsRow
	if err := a.db.GetContext(ctx, &row, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return domain.DefaultSettings(userID), nil
		}
		return nil, err
	}
	return row.toEntity(a.log), nil
}

// UpsertSettings creates or updates the user's analysis settings.
func (a *SettingsAdapter) UpsertSettings(ctx context.Context, settings *domain.UserSettings) error {
	vips, err := json.Marshal(settings.VIPSenders)
	if err != nil {
		return err
	}
	cats, err := json.Marshal(settings.CustomCategories)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO analysis_settings (
			user_id, ai_enabled, cache_disabled, token_budget,
			summary_tier, vip_senders, custom_categories, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, NOW()
		)
		ON CONFLICT (user_id) DO UPDATE SET
			ai_enabled = EXCLUDED.ai_enabled,
			cache_disabled = EXCLUDED.cache_disabled,
			token_budget = EXCLUDED.token_budget,
			summary_tier = EXCLUDED.summary_tier,
			vip_senders = EXCLUDED.vip_senders,
			custom_categories = EXCLUDED.custom_categories,
			updated_at = NOW()
	`

	_, err = a.db.ExecContext(ctx, query,
		settings.UserID,
		settings.AIEnabled,
		settings.CacheDisabled,
		settings.TokenBudget,
		string(settings.SummaryTier),
		string(vips),
		string(cats),
	)
	return err
}
