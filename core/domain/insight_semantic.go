package domain

// Category is the fixed semantic category enum.
type Category string

const (
	CategoryWork          Category = "Work"
	CategoryPersonal      Category = "Personal"
	CategoryPromotions    Category = "Promotions"
	CategoryInformational Category = "Informational"
)

// ValidCategories contains every accepted Category value.
var ValidCategories = map[Category]bool{
	CategoryWork:          true,
	CategoryPersonal:      true,
	CategoryPromotions:    true,
	CategoryInformational: true,
}

// ValidateCategory returns the category if valid, else the default
// Informational (never coerces to a near-match).
func ValidateCategory(cat string) Category {
	c := Category(cat)
	if ValidCategories[c] {
		return c
	}
	return CategoryInformational
}

// ActionItem is a single extracted action with an optional due date.
type ActionItem struct {
	Description string  `json:"description"`
	DueDate     *string `json:"due_date"` // nil when no due date was found
}

// Usage is the token/cost accounting for one LLM call.
type Usage struct {
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// SemanticResult is the output of the LLM analysis stage for one email.
type SemanticResult struct {
	NeedsAction      bool              `json:"needs_action"`
	Category         Category          `json:"category"`
	ActionItems      []ActionItem      `json:"action_items"`
	Summary          string            `json:"summary"`
	CustomCategories map[string]string `json:"custom_categories"`
	Usage            Usage             `json:"usage"`
}

// FallbackSemanticResult is the documented degradation value used when the
// semantic stage fails for an item: NLP-only email, Informational, no action.
func FallbackSemanticResult() SemanticResult {
	return SemanticResult{
		NeedsAction:      false,
		Category:         CategoryInformational,
		ActionItems:      []ActionItem{},
		CustomCategories: map[string]string{},
	}
}
