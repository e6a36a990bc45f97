package domain

// =============================================================================
// Linguistic Signals
// =============================================================================
//
// Output of the lightweight (non-LLM) analysis stage. Every collection is
// capped to a small fixed size: the caps are part of the analyzer's output
// contract, not an implementation detail.

// Collection caps enforced by the linguistic analyzer.
const (
	MaxEntities         = 10
	MaxKeyPhrases       = 10
	MaxQuestionExamples = 2 // per question type
	MaxDeadlinePhrases  = 5
	MaxTimeReferences   = 5
	MaxVerbs            = 10
	MaxEntityCategories = 5
	MaxDependencies     = 10
)

// QuestionType classifies a sentence ending in '?'.
type QuestionType string

const (
	QuestionDirect     QuestionType = "direct"     // contains an interrogative word
	QuestionRequest    QuestionType = "request"    // contains a modal verb (wins ties)
	QuestionRhetorical QuestionType = "rhetorical" // neither
)

// QuestionSignals holds question counts plus up to MaxQuestionExamples
// examples per type.
type QuestionSignals struct {
	DirectCount     int                       `json:"direct_count"`
	RequestCount    int                       `json:"request_count"`
	RhetoricalCount int                       `json:"rhetorical_count"`
	Examples        map[QuestionType][]string `json:"examples"`
}

// Total returns the total number of detected questions.
func (q QuestionSignals) Total() int {
	return q.DirectCount + q.RequestCount + q.RhetoricalCount
}

// TimeSensitivity flags deadline language backed by a DATE/TIME entity.
type TimeSensitivity struct {
	HasDeadline     bool     `json:"has_deadline"`
	DeadlinePhrases []string `json:"deadline_phrases"`
	TimeReferences  []string `json:"time_references"`
}

// StructuralElements carries coarse structural features of the text.
type StructuralElements struct {
	Verbs            []string `json:"verbs"`
	EntityCategories []string `json:"entity_categories"`
	Dependencies     []string `json:"dependencies"`
}

// SentimentSignals holds positive/negative scores in [0,1] plus derived flags.
type SentimentSignals struct {
	Positive        float64 `json:"positive"`
	Negative        float64 `json:"negative"`
	IsStrong        bool    `json:"is_strong"`
	Dissatisfaction bool    `json:"dissatisfaction"`
}

// EmailPatterns flags bulk/automated mail based on structural indicators.
type EmailPatterns struct {
	IsBulk              bool     `json:"is_bulk"`
	IsAutomated         bool     `json:"is_automated"`
	BulkIndicators      []string `json:"bulk_indicators"`
	AutomatedIndicators []string `json:"automated_indicators"`
}

// LinguisticSignals is the full output for a single text.
type LinguisticSignals struct {
	Entities        map[string][]string `json:"entities"` // label -> texts, capped
	KeyPhrases      []string            `json:"key_phrases"`
	SentenceCount   int                 `json:"sentence_count"`
	Questions       QuestionSignals     `json:"questions"`
	TimeSensitivity TimeSensitivity     `json:"time_sensitivity"`
	Structural      StructuralElements  `json:"structural_elements"`
	Sentiment       SentimentSignals    `json:"sentiment"`
	Patterns        EmailPatterns       `json:"email_patterns"`
	Urgent          bool                `json:"urgency"`
}

// ZeroSignals is the documented degradation value substituted when analysis of
// an item (or a whole sub-batch) fails: every collection empty, every flag off.
func ZeroSignals() LinguisticSignals {
	return LinguisticSignals{
		Entities:   map[string][]string{},
		KeyPhrases: []string{},
		Questions: QuestionSignals{
			Examples: map[QuestionType][]string{},
		},
		TimeSensitivity: TimeSensitivity{
			DeadlinePhrases: []string{},
			TimeReferences:  []string{},
		},
		Structural: StructuralElements{
			Verbs:            []string{},
			EntityCategories: []string{},
			Dependencies:     []string{},
		},
		Patterns: EmailPatterns{
			BulkIndicators:      []string{},
			AutomatedIndicators: []string{},
		},
	}
}
