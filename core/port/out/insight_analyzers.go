package out

import (
	"context"

	"insight_server/core/domain"
)

// LinguisticAnalyzer produces lightweight signals for a batch of texts.
//
// AnalyzeBatch never returns an error: the result always has the same length
// and order as the input, with domain.ZeroSignals() substituted for any item
// (or sub-batch) that failed or timed out internally.
type LinguisticAnalyzer interface {
	AnalyzeBatch(ctx context.Context, texts []string) []domain.LinguisticSignals
}

// SemanticInput pairs an email with its linguistic signals for LLM analysis.
type SemanticInput struct {
	Meta    domain.EmailMetadata
	Signals domain.LinguisticSignals
}

// SemanticAnalyzer produces LLM-based semantic results for a batch.
//
// The result has the same length and order as the input. Items that failed
// carry domain.FallbackSemanticResult() and are reported in the failed index
// list so the orchestrator can count degradations; a batch-level failure
// degrades every item the same way instead of returning an error.
type SemanticAnalyzer interface {
	AnalyzeBatch(ctx context.Context, settings *domain.UserSettings, inputs []SemanticInput) (results []domain.SemanticResult, failed []int)
}
