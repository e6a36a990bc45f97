package llm

import (
	"context"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"insight_server/core/domain"
	"insight_server/core/port/out"
)

// =============================================================================
// Semantic Analyzer
// =============================================================================

// DefaultMaxBatchSize is the number of emails packed into one LLM call.
const DefaultMaxBatchSize = 10

// SemanticConfig holds semantic analyzer configuration.
type SemanticConfig struct {
	MaxBatchSize int
}

// SemanticMetrics holds analyzer counters.
type SemanticMetrics struct {
	ItemsAnalyzed int64
	ItemsRetried  int64
	ItemsFailed   int64
	CallsMade     int64
}

// SemanticAnalyzer runs batched LLM analysis with per-item degradation. A
// failed or missing item is retried once on its own; if that also fails the
// item carries the fallback result and is reported in the failed index list.
type SemanticAnalyzer struct {
	client  *Client
	cfg     SemanticConfig
	log     zerolog.Logger
	metrics SemanticMetrics
}

var _ out.SemanticAnalyzer = (*SemanticAnalyzer)(nil)

func NewSemanticAnalyzer(client *Client, cfg SemanticConfig, log zerolog.Logger) *SemanticAnalyzer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	return &SemanticAnalyzer{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "semantic_analyzer").Logger(),
	}
}

// semanticItem is one element of the LLM's JSON response.
type semanticItem struct {
	ID               int                 `json:"id"`
	NeedsAction      bool                `json:"needs_action"`
	Category         string              `json:"category"`
	ActionItems      []domain.ActionItem `json:"action_items"`
	Summary          string              `json:"summary"`
	CustomCategories map[string]string   `json:"custom_categories"`
}

type semanticResponse struct {
	Results []semanticItem `json:"results"`
}

// AnalyzeBatch analyzes inputs in chunks of MaxBatchSize. The result always
// has the same length and order as the input.
func (s *SemanticAnalyzer) AnalyzeBatch(ctx context.Context, settings *domain.UserSettings, inputs []out.SemanticInput) ([]domain.SemanticResult, []int) {
	results := make([]domain.SemanticResult, len(inputs))
	for i := range results {
		results[i] = domain.FallbackSemanticResult()
	}
	if len(inputs) == 0 {
		return results, nil
	}

	var failed []int
	for start := 0; start < len(inputs); start += s.cfg.MaxBatchSize {
		end := start + s.cfg.MaxBatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		failed = append(failed, s.analyzeChunk(ctx, settings, inputs, results, start, end)...)
	}

	atomic.AddInt64(&s.metrics.ItemsAnalyzed, int64(len(inputs)))
	atomic.AddInt64(&s.metrics.ItemsFailed, int64(len(failed)))
	return results, failed
}

// analyzeChunk runs one batched call over inputs[start:end], then retries each
// unresolved item once individually. Returned indices are absolute.
func (s *SemanticAnalyzer) analyzeChunk(ctx context.Context, settings *domain.UserSettings, inputs []out.SemanticInput, results []domain.SemanticResult, start, end int) []int {
	chunk := inputs[start:end]
	resolved := make([]bool, len(chunk))

	content, usage, err := s.complete(ctx, settings, chunk)
	if err != nil {
		s.log.Warn().Err(err).Int("chunk_size", len(chunk)).Msg("batch semantic call failed")
	} else {
		var resp semanticResponse
		if err := json.Unmarshal([]byte(content), &resp); err != nil {
			s.log.Warn().Err(err).Msg("failed to parse batch semantic response")
		} else {
			perItem := splitUsage(s.client.Model(), usage.PromptTokens, usage.CompletionTokens, len(chunk))
			for _, item := range resp.Results {
				if item.ID < 0 || item.ID >= len(chunk) || resolved[item.ID] {
					continue
				}
				results[start+item.ID] = s.validate(settings, item, perItem)
				resolved[item.ID] = true
			}
		}
	}

	var failed []int
	for i := range chunk {
		if resolved[i] {
			continue
		}
		atomic.AddInt64(&s.metrics.ItemsRetried, 1)
		if res, ok := s.retrySingle(ctx, settings, chunk[i]); ok {
			results[start+i] = res
			continue
		}
		failed = append(failed, start+i)
	}
	return failed
}

// retrySingle gives an unresolved item one dedicated call.
func (s *SemanticAnalyzer) retrySingle(ctx context.Context, settings *domain.UserSettings, input out.SemanticInput) (domain.SemanticResult, bool) {
	content, usage, err := s.complete(ctx, settings, []out.SemanticInput{input})
	if err != nil {
		s.log.Warn().Err(err).Str("email_id", input.Meta.ID).Msg("single-item retry failed")
		return domain.SemanticResult{}, false
	}

	var resp semanticResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil || len(resp.Results) == 0 {
		s.log.Warn().Str("email_id", input.Meta.ID).Msg("single-item retry returned unparsable response")
		return domain.SemanticResult{}, false
	}

	perItem := splitUsage(s.client.Model(), usage.PromptTokens, usage.CompletionTokens, 1)
	return s.validate(settings, resp.Results[0], perItem), true
}

func (s *SemanticAnalyzer) complete(ctx context.Context, settings *domain.UserSettings, chunk []out.SemanticInput) (string, openai.Usage, error) {
	atomic.AddInt64(&s.metrics.CallsMade, 1)
	return s.client.CompleteJSON(ctx, buildSemanticPrompt(settings, chunk))
}

// splitUsage distributes a call's token accounting evenly across its items.
func splitUsage(model string, promptTokens, completionTokens, items int) domain.Usage {
	if items < 1 {
		items = 1
	}
	pt := promptTokens / items
	ct := completionTokens / items
	return domain.Usage{
		Model:            model,
		PromptTokens:     pt,
		CompletionTokens: ct,
		Cost:             CalculateCost(model, pt, ct),
	}
}

// validate clamps an LLM item to the domain contract: category must be one of
// the fixed four, custom values outside the user's taxonomy are discarded (not
// coerced), summaries are cut to the tier cap.
func (s *SemanticAnalyzer) validate(settings *domain.UserSettings, item semanticItem, usage domain.Usage) domain.SemanticResult {
	res := domain.SemanticResult{
		NeedsAction:      item.NeedsAction,
		Category:         domain.ValidateCategory(item.Category),
		ActionItems:      item.ActionItems,
		Summary:          capSummary(item.Summary, settings.SummaryTier.MaxChars()),
		CustomCategories: map[string]string{},
		Usage:            usage,
	}
	if res.ActionItems == nil {
		res.ActionItems = []domain.ActionItem{}
	}
	for name, value := range item.CustomCategories {
		allowed, ok := settings.CustomCategories[name]
		if !ok {
			continue
		}
		for _, v := range allowed {
			if v == value {
				res.CustomCategories[name] = value
				break
			}
		}
	}
	return res
}

func capSummary(summary string, maxChars int) string {
	runes := []rune(summary)
	if len(runes) <= maxChars {
		return summary
	}
	return string(runes[:maxChars])
}

// GetMetrics returns a snapshot of the analyzer counters.
func (s *SemanticAnalyzer) GetMetrics() SemanticMetrics {
	return SemanticMetrics{
		ItemsAnalyzed: atomic.LoadInt64(&s.metrics.ItemsAnalyzed),
		ItemsRetried:  atomic.LoadInt64(&s.metrics.ItemsRetried),
		ItemsFailed:   atomic.LoadInt64(&s.metrics.ItemsFailed),
		CallsMade:     atomic.LoadInt64(&s.metrics.CallsMade),
	}
}
