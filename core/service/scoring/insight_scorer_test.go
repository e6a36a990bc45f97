package scoring

import (
	"testing"

	"github.com/rs/zerolog"

	"insight_server/core/domain"
)

func maxSignals() domain.LinguisticSignals {
	sig := domain.ZeroSignals()
	sig.Urgent = true
	sig.TimeSensitivity.HasDeadline = true
	sig.Questions.RequestCount = 2
	sig.Sentiment.IsStrong = true
	sig.Sentiment.Dissatisfaction = true
	return sig
}

func TestPresetFor(t *testing.T) {
	tests := []struct {
		threshold int
		want      string
	}{
		{0, "permissive"},
		{30, "permissive"},
		{31, "balanced"},
		{50, "balanced"},
		{60, "balanced"},
		{61, "strict"},
		{100, "strict"},
	}
	for _, tt := range tests {
		if got := PresetFor(tt.threshold); got.Name != tt.want {
			t.Errorf("PresetFor(%d) = %s, want %s", tt.threshold, got.Name, tt.want)
		}
	}
}

func TestScoreBoosts(t *testing.T) {
	s := NewScorer(zerolog.Nop())
	vips := map[string]bool{"boss@example.com": true}

	tests := []struct {
		name      string
		sender    string
		signals   func() domain.LinguisticSignals
		semantic  domain.SemanticResult
		threshold int
		want      int
	}{
		{
			"neutral email stays at base",
			"a@example.com", domain.ZeroSignals,
			domain.SemanticResult{Category: domain.CategoryInformational},
			50, domain.BasePriority,
		},
		{
			"vip sender",
			"boss@example.com", domain.ZeroSignals,
			domain.SemanticResult{Category: domain.CategoryInformational},
			50, domain.BasePriority + 20,
		},
		{
			"urgency",
			"a@example.com",
			func() domain.LinguisticSignals {
				sig := domain.ZeroSignals()
				sig.Urgent = true
				return sig
			},
			domain.SemanticResult{Category: domain.CategoryInformational},
			50, domain.BasePriority + 15,
		},
		{
			"work needs action on balanced preset",
			"a@example.com", domain.ZeroSignals,
			domain.SemanticResult{Category: domain.CategoryWork, NeedsAction: true},
			50, domain.BasePriority + 15 + 10,
		},
		{
			"personal needs action boosts less than work",
			"a@example.com", domain.ZeroSignals,
			domain.SemanticResult{Category: domain.CategoryPersonal, NeedsAction: true},
			50, domain.BasePriority + 15 + 5,
		},
		{
			"promotions penalized",
			"a@example.com", domain.ZeroSignals,
			domain.SemanticResult{Category: domain.CategoryPromotions},
			50, domain.BasePriority - 5,
		},
		{
			"request questions get double boost",
			"a@example.com",
			func() domain.LinguisticSignals {
				sig := domain.ZeroSignals()
				sig.Questions.RequestCount = 1
				return sig
			},
			domain.SemanticResult{Category: domain.CategoryInformational},
			50, domain.BasePriority + 5 + 5,
		},
		{
			"direct questions get single boost",
			"a@example.com",
			func() domain.LinguisticSignals {
				sig := domain.ZeroSignals()
				sig.Questions.DirectCount = 1
				return sig
			},
			domain.SemanticResult{Category: domain.CategoryInformational},
			50, domain.BasePriority + 5,
		},
		{
			"bulk and automated penalized",
			"a@example.com",
			func() domain.LinguisticSignals {
				sig := domain.ZeroSignals()
				sig.Patterns.IsBulk = true
				sig.Patterns.IsAutomated = true
				return sig
			},
			domain.SemanticResult{Category: domain.CategoryInformational},
			50, domain.BasePriority - 10 - 15,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := s.Score(tt.sender, vips, tt.signals(), tt.semantic, tt.threshold)
			if got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScoreActionBoostScalesWithPreset(t *testing.T) {
	s := NewScorer(zerolog.Nop())
	semantic := domain.SemanticResult{Category: domain.CategoryInformational, NeedsAction: true}

	permissive, _ := s.Score("a@x.com", nil, domain.ZeroSignals(), semantic, 20)
	balanced, _ := s.Score("a@x.com", nil, domain.ZeroSignals(), semantic, 50)
	strict, _ := s.Score("a@x.com", nil, domain.ZeroSignals(), semantic, 80)

	if !(permissive > balanced && balanced > strict) {
		t.Errorf("action boost should shrink with threshold strictness: %d, %d, %d", permissive, balanced, strict)
	}
}

func TestScoreClamped(t *testing.T) {
	s := NewScorer(zerolog.Nop())
	vips := map[string]bool{"boss@example.com": true}

	high, _ := s.Score("boss@example.com", vips, maxSignals(),
		domain.SemanticResult{Category: domain.CategoryWork, NeedsAction: true}, 10)
	if high < domain.MinPriority || high > domain.MaxPriority {
		t.Errorf("max boosts score = %d, out of [0,100]", high)
	}

	sig := domain.ZeroSignals()
	sig.Patterns.IsBulk = true
	sig.Patterns.IsAutomated = true
	low, _ := s.Score("a@x.com", nil, sig,
		domain.SemanticResult{Category: domain.CategoryPromotions}, 90)
	if low < domain.MinPriority {
		t.Errorf("penalized score = %d, must not go below %d", low, domain.MinPriority)
	}
}

func TestThresholdMonotonicity(t *testing.T) {
	s := NewScorer(zerolog.Nop())
	vips := map[string]bool{"boss@example.com": true}

	inputs := []struct {
		sender   string
		signals  domain.LinguisticSignals
		semantic domain.SemanticResult
	}{
		{"a@x.com", domain.ZeroSignals(), domain.SemanticResult{Category: domain.CategoryInformational}},
		{"boss@example.com", maxSignals(), domain.SemanticResult{Category: domain.CategoryWork, NeedsAction: true}},
		{"a@x.com", maxSignals(), domain.SemanticResult{Category: domain.CategoryPersonal, NeedsAction: true}},
		{"a@x.com", domain.ZeroSignals(), domain.SemanticResult{Category: domain.CategoryPromotions}},
	}
	thresholds := []int{20, 50, 80} // permissive, balanced, strict

	for i, in := range inputs {
		prev := 3
		for _, th := range thresholds {
			_, level := s.Score(in.sender, vips, in.signals, in.semantic, th)
			if level.Ordinal() > prev {
				t.Errorf("input %d: level increased moving to stricter threshold %d", i, th)
			}
			prev = level.Ordinal()
		}
	}
}

func TestLevelFor(t *testing.T) {
	balanced := PresetFor(50)

	tests := []struct {
		score int
		want  domain.PriorityLevel
	}{
		{100, domain.PriorityHigh},
		{65, domain.PriorityHigh},
		{64, domain.PriorityMedium},
		{45, domain.PriorityMedium},
		{44, domain.PriorityLow},
		{0, domain.PriorityLow},
	}
	for _, tt := range tests {
		if got := levelFor(tt.score, balanced); got != tt.want {
			t.Errorf("levelFor(%d, balanced) = %v, want %v", tt.score, got, tt.want)
		}
	}
}
