package llm

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"insight_server/core/domain"
	"insight_server/core/port/out"
)

// =============================================================================
// Body Preparation
// =============================================================================

// CharsPerToken is the coarse chars-per-token ratio used for budget math.
const CharsPerToken = 4

// TruncatedMarker is appended when a body was cut to fit the token budget.
const TruncatedMarker = " [truncated]"

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	quotedPattern     = regexp.MustCompile(`(?m)^>.*$`)
	onWrotePattern    = regexp.MustCompile(`(?i)on .* wrote:.*`)
)

// CleanEmailBody strips HTML tags, quoted replies and excess whitespace from
// an email body before it is sent to the LLM.
func CleanEmailBody(body string) string {
	body = htmlTagPattern.ReplaceAllString(body, " ")
	body = quotedPattern.ReplaceAllString(body, "")
	body = onWrotePattern.ReplaceAllString(body, "")
	body = whitespacePattern.ReplaceAllString(body, " ")
	return strings.TrimSpace(body)
}

// TruncateToBudget cuts text to roughly tokenBudget tokens, preferring the
// last sentence boundary before the limit and appending the truncation marker.
func TruncateToBudget(text string, tokenBudget int) string {
	if tokenBudget <= 0 {
		tokenBudget = domain.DefaultTokenBudget
	}
	limit := tokenBudget * CharsPerToken
	if len(text) <= limit {
		return text
	}

	cut := text[:limit]
	// Roll back to the boundary unless that would keep less than half the limit.
	if idx := strings.LastIndexAny(cut, ".!?"); idx+1 >= limit/2 {
		cut = cut[:idx+1]
	}
	return cut + TruncatedMarker
}

// =============================================================================
// Semantic Prompt
// =============================================================================

// buildSemanticPrompt renders the batch analysis prompt. Output is fully
// deterministic for a given input: items keep input order, taxonomy names and
// values are sorted.
func buildSemanticPrompt(settings *domain.UserSettings, inputs []out.SemanticInput) string {
	var sb strings.Builder

	sb.WriteString(`Analyze the following emails. For each email decide:
- needs_action: true when the recipient must do something
- category: exactly one of Work, Personal, Promotions, Informational
- action_items: list of {"description": "...", "due_date": "YYYY-MM-DD" or null}
- summary: a short neutral summary (`)
	sb.WriteString(fmt.Sprintf("at most %d characters", settings.SummaryTier.MaxChars()))
	sb.WriteString(")\n")

	if len(settings.CustomCategories) > 0 {
		sb.WriteString("- custom_categories: one value per taxonomy below, chosen ONLY from its allowed values\n\nUser taxonomies:\n")
		names := make([]string, 0, len(settings.CustomCategories))
		for name := range settings.CustomCategories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			values := append([]string(nil), settings.CustomCategories[name]...)
			sort.Strings(values)
			sb.WriteString(fmt.Sprintf("- %s: %s\n", name, strings.Join(values, ", ")))
		}
	}

	sb.WriteString("\nEmails:\n\n")
	for i, in := range inputs {
		sb.WriteString(fmt.Sprintf("[%d]\nFrom: %s\nSubject: %s\n", i, in.Meta.Sender, in.Meta.Subject))
		if hints := signalHints(in.Signals); hints != "" {
			sb.WriteString("Signals: " + hints + "\n")
		}
		body := TruncateToBudget(CleanEmailBody(in.Meta.Body), settings.TokenBudget)
		sb.WriteString("Body: " + body + "\n\n")
	}

	sb.WriteString(`Respond as JSON:
{
  "results": [
    {"id": 0, "needs_action": true, "category": "Work", "action_items": [{"description": "send report", "due_date": "2026-01-15"}], "summary": "...", "custom_categories": {}},
    ...
  ]
}
Include every id exactly once.`)

	return sb.String()
}

// signalHints condenses linguistic signals into a one-line prompt hint.
func signalHints(sig domain.LinguisticSignals) string {
	var parts []string
	if n := sig.Questions.Total(); n > 0 {
		parts = append(parts, fmt.Sprintf("%d questions", n))
	}
	if sig.TimeSensitivity.HasDeadline {
		parts = append(parts, "deadline mentioned")
	}
	if sig.Urgent {
		parts = append(parts, "urgent wording")
	}
	if sig.Patterns.IsAutomated {
		parts = append(parts, "automated sender")
	}
	if sig.Patterns.IsBulk {
		parts = append(parts, "bulk mail")
	}
	return strings.Join(parts, ", ")
}
