package domain

import (
	"errors"
	"time"
)

// PriorityLevel is the three-tier bucketing of the numeric priority score.
type PriorityLevel string

const (
	PriorityHigh   PriorityLevel = "HIGH"
	PriorityMedium PriorityLevel = "MEDIUM"
	PriorityLow    PriorityLevel = "LOW"
)

// Ordinal returns the level as an integer for comparisons (LOW=0 .. HIGH=2).
func (p PriorityLevel) Ordinal() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Priority score bounds.
const (
	MinPriority  = 0
	MaxPriority  = 100
	BasePriority = 30
)

var (
	ErrEmptyEmailID = errors.New("email id is empty")
	ErrZeroDate     = errors.New("email date is zero")
)

// EmailMetadata is the transient pre-analysis form of a message. It is created
// per fetch and discarded once folded into a ProcessedEmail.
type EmailMetadata struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	Sender  string    `json:"sender"`
	Body    string    `json:"body"` // HTML part preferred, plain-text fallback
	Date    time.Time `json:"date"` // always UTC
}

// Validate checks the metadata invariants: non-empty id, timezone-aware date.
func (m *EmailMetadata) Validate() error {
	if m.ID == "" {
		return ErrEmptyEmailID
	}
	if m.Date.IsZero() {
		return ErrZeroDate
	}
	return nil
}

// ProcessedEmail is the terminal, cache-resident entity: metadata plus
// linguistic signals, semantic results and the computed priority.
//
// All optional collections default to empty, never nil, on construction.
type ProcessedEmail struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	Sender  string    `json:"sender"`
	Body    string    `json:"body"`
	Date    time.Time `json:"date"` // serialized RFC-3339 with explicit offset, always UTC

	Signals LinguisticSignals `json:"signals"`

	NeedsAction      bool              `json:"needs_action"`
	Category         Category          `json:"category"`
	ActionItems      []ActionItem      `json:"action_items"`
	Summary          string            `json:"summary"`
	CustomCategories map[string]string `json:"custom_categories"`
	Usage            Usage             `json:"usage"`

	Priority      int           `json:"priority"` // 0-100
	PriorityLevel PriorityLevel `json:"priority_level"`

	AnalyzedAt time.Time `json:"analyzed_at"`
}

// NewProcessedEmail builds a ProcessedEmail from metadata with every optional
// collection initialized and the date normalized to UTC.
func NewProcessedEmail(meta EmailMetadata) *ProcessedEmail {
	return &ProcessedEmail{
		ID:               meta.ID,
		Subject:          meta.Subject,
		Sender:           meta.Sender,
		Body:             meta.Body,
		Date:             meta.Date.UTC(),
		Signals:          ZeroSignals(),
		Category:         CategoryInformational,
		ActionItems:      []ActionItem{},
		CustomCategories: map[string]string{},
		Priority:         BasePriority,
		PriorityLevel:    PriorityLow,
		AnalyzedAt:       time.Now().UTC(),
	}
}

// Validate checks the cache-resident invariants. Entries failing this check
// are treated as malformed and purged on read.
func (e *ProcessedEmail) Validate() error {
	if e.ID == "" {
		return ErrEmptyEmailID
	}
	if e.Date.IsZero() {
		return ErrZeroDate
	}
	return nil
}
