package domain

// AnalysisCommand is the sole external input configuring a pipeline run.
type AnalysisCommand struct {
	DaysBack          int      `json:"days_back"`           // live-fetch window, 1 = today only
	CacheDurationDays int      `json:"cache_duration_days"` // retention window, may differ from DaysBack
	BatchSize         int      `json:"batch_size"`          // 0 = one batch of everything
	PriorityThreshold int      `json:"priority_threshold"`
	Categories        []string `json:"categories"` // post-filter allow-list, empty = all
}

// Command defaults.
const (
	DefaultDaysBack          = 3
	DefaultCacheDuration     = 7
	DefaultPriorityThreshold = 50
)

// Normalize fills defaults and clamps invalid values in place.
func (c *AnalysisCommand) Normalize() {
	if c.DaysBack < 1 {
		c.DaysBack = DefaultDaysBack
	}
	if c.CacheDurationDays < 0 {
		c.CacheDurationDays = DefaultCacheDuration
	}
	if c.BatchSize < 0 {
		c.BatchSize = 0
	}
	if c.PriorityThreshold <= 0 || c.PriorityThreshold > MaxPriority {
		c.PriorityThreshold = DefaultPriorityThreshold
	}
	if c.Categories == nil {
		c.Categories = []string{}
	}
}

// AllowsCategory reports whether the allow-list admits the given category.
// An empty allow-list admits everything.
func (c *AnalysisCommand) AllowsCategory(cat Category) bool {
	if len(c.Categories) == 0 {
		return true
	}
	for _, allowed := range c.Categories {
		if Category(allowed) == cat {
			return true
		}
	}
	return false
}
