// Package scoring maps analysis results to a deterministic 0-100 priority.
package scoring

import (
	"github.com/rs/zerolog"

	"insight_server/core/domain"
)

// =============================================================================
// Threshold Presets
// =============================================================================
//
// The priority threshold selects one of three presets. Each preset carries its
// own HIGH/MEDIUM cutoffs and its own needs-action boost: a permissive
// threshold means the user wants more mail flagged high, so the boost is
// larger. Observed behavior from the original scorer, kept as-is.

// Preset is one threshold regime for scoring and level mapping.
type Preset struct {
	Name         string
	HighCutoff   int // score >= HighCutoff  -> HIGH
	MediumCutoff int // score >= MediumCutoff -> MEDIUM
	ActionBoost  int // added when semantic needs_action is set
}

// presetTable maps threshold ranges to presets; entries are checked in order.
var presetTable = []struct {
	maxThreshold int
	preset       Preset
}{
	{30, Preset{Name: "permissive", HighCutoff: 55, MediumCutoff: 35, ActionBoost: 25}},
	{60, Preset{Name: "balanced", HighCutoff: 65, MediumCutoff: 45, ActionBoost: 15}},
}

var strictPreset = Preset{Name: "strict", HighCutoff: 75, MediumCutoff: 55, ActionBoost: 8}

// PresetFor returns the preset governing the given priority threshold.
func PresetFor(threshold int) Preset {
	for _, entry := range presetTable {
		if threshold <= entry.maxThreshold {
			return entry.preset
		}
	}
	return strictPreset
}

// Score boosts and penalties.
const (
	boostVIP            = 20
	boostUrgency        = 15
	boostDeadline       = 10
	boostQuestions      = 5
	boostRequestType    = 5 // on top of boostQuestions
	boostStrongFeeling  = 5
	boostDissatisfied   = 5 // on top of boostStrongFeeling
	boostWorkAction     = 10
	boostPersonalAction = 5
	penaltyPromotions   = 5
	penaltyAutomated    = 10
	penaltyBulk         = 15
)

// =============================================================================
// Scorer
// =============================================================================

// Scorer computes priority scores. Scoring never aborts a run: any internal
// panic degrades to (BasePriority, LOW).
type Scorer struct {
	log zerolog.Logger
}

func NewScorer(log zerolog.Logger) *Scorer {
	return &Scorer{log: log.With().Str("component", "priority_scorer").Logger()}
}

// Score computes the priority for one email. vips holds the merged VIP sender
// set (explicit settings list plus graph-derived top correspondents).
func (s *Scorer) Score(sender string, vips map[string]bool, signals domain.LinguisticSignals, semantic domain.SemanticResult, threshold int) (score int, level domain.PriorityLevel) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("sender", sender).Msg("scoring panicked, using base priority")
			score, level = domain.BasePriority, domain.PriorityLow
		}
	}()

	preset := PresetFor(threshold)
	score = domain.BasePriority

	if vips[sender] {
		score += boostVIP
	}
	if signals.Urgent {
		score += boostUrgency
	}
	if semantic.NeedsAction {
		score += preset.ActionBoost
	}
	if signals.TimeSensitivity.HasDeadline {
		score += boostDeadline
	}
	if signals.Questions.Total() > 0 {
		score += boostQuestions
		if signals.Questions.RequestCount > 0 {
			score += boostRequestType
		}
	}
	if signals.Sentiment.IsStrong {
		score += boostStrongFeeling
		if signals.Sentiment.Dissatisfaction {
			score += boostDissatisfied
		}
	}

	switch semantic.Category {
	case domain.CategoryWork:
		if semantic.NeedsAction {
			score += boostWorkAction
		}
	case domain.CategoryPersonal:
		if semantic.NeedsAction {
			score += boostPersonalAction
		}
	case domain.CategoryPromotions:
		score -= penaltyPromotions
	}

	if signals.Patterns.IsAutomated {
		score -= penaltyAutomated
	}
	if signals.Patterns.IsBulk {
		score -= penaltyBulk
	}

	score = clamp(score, domain.MinPriority, domain.MaxPriority)
	return score, levelFor(score, preset)
}

func levelFor(score int, preset Preset) domain.PriorityLevel {
	switch {
	case score >= preset.HighCutoff:
		return domain.PriorityHigh
	case score >= preset.MediumCutoff:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
