package domain

// SummaryTier controls the length cap applied to LLM summaries.
type SummaryTier string

const (
	SummaryShort    SummaryTier = "short"
	SummaryStandard SummaryTier = "standard"
	SummaryDetailed SummaryTier = "detailed"
)

// MaxChars returns the summary length cap for the tier.
func (t SummaryTier) MaxChars() int {
	switch t {
	case SummaryShort:
		return 120
	case SummaryDetailed:
		return 600
	default:
		return 280
	}
}

// UserSettings is the per-user analysis configuration consumed by a run.
type UserSettings struct {
	UserID        string   `json:"user_id" db:"user_id"`
	AIEnabled     bool     `json:"ai_enabled" db:"ai_enabled"`
	CacheDisabled bool     `json:"cache_disabled" db:"cache_disabled"`
	TokenBudget   int      `json:"token_budget" db:"token_budget"` // body truncation budget for LLM input
	VIPSenders    []string `json:"vip_senders"`

	SummaryTier SummaryTier `json:"summary_tier" db:"summary_tier"`

	// CustomCategories maps a user-defined taxonomy name to its allowed
	// values. LLM-proposed values outside the set are discarded.
	CustomCategories map[string][]string `json:"custom_categories"`
}

// DefaultTokenBudget is used when a user has no explicit budget configured.
const DefaultTokenBudget = 500

// DefaultSettings returns the settings applied when a user has no stored row.
func DefaultSettings(userID string) *UserSettings {
	return &UserSettings{
		UserID:           userID,
		AIEnabled:        true,
		TokenBudget:      DefaultTokenBudget,
		VIPSenders:       []string{},
		SummaryTier:      SummaryStandard,
		CustomCategories: map[string][]string{},
	}
}

// IsVIP reports whether the sender address is on the explicit VIP list.
func (s *UserSettings) IsVIP(sender string) bool {
	for _, vip := range s.VIPSenders {
		if vip == sender {
			return true
		}
	}
	return false
}
