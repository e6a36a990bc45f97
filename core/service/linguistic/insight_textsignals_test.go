package linguistic

import (
	"strings"
	"testing"

	"insight_server/core/domain"
)

func TestClassifyQuestion(t *testing.T) {
	e := newTextEngine()

	tests := []struct {
		name     string
		sentence string
		want     domain.QuestionType
	}{
		{"modal makes request", "Could you send this by Friday?", domain.QuestionRequest},
		{"interrogative makes direct", "What time is it?", domain.QuestionDirect},
		{"neither makes rhetorical", "Isn't that great?", domain.QuestionRhetorical},
		{"modal wins over interrogative", "What can you do about it?", domain.QuestionRequest},
		{"will counts as modal", "Will you join the call?", domain.QuestionRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.classifyQuestion(tt.sentence); got != tt.want {
				t.Errorf("classifyQuestion(%q) = %v, want %v", tt.sentence, got, tt.want)
			}
		})
	}
}

func TestClassifyQuestionsCountsAndExamples(t *testing.T) {
	e := newTextEngine()
	text := "Could you review the doc? What is the status? Could we meet tomorrow? " +
		"Would you mind checking? Can you confirm? This is not a question."

	q := e.classifyQuestions(e.splitSentences(text))

	if q.RequestCount != 4 {
		t.Errorf("RequestCount = %d, want 4", q.RequestCount)
	}
	if q.DirectCount != 1 {
		t.Errorf("DirectCount = %d, want 1", q.DirectCount)
	}
	if q.Total() != 5 {
		t.Errorf("Total() = %d, want 5", q.Total())
	}
	if got := len(q.Examples[domain.QuestionRequest]); got != domain.MaxQuestionExamples {
		t.Errorf("request examples = %d, want capped at %d", got, domain.MaxQuestionExamples)
	}
}

func TestDetectDeadlines(t *testing.T) {
	e := newTextEngine()

	tests := []struct {
		name        string
		text        string
		wantDeadline bool
	}{
		{"keyword with date entity", "The report is due Friday.", true},
		{"by with time entity", "Please respond by 5pm.", true},
		{"keyword without date or time", "This is due whenever you have time.", false},
		{"date without deadline keyword", "We met on Friday and it went well.", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := e.detectDeadlines(e.splitSentences(tt.text))
			if ts.HasDeadline != tt.wantDeadline {
				t.Errorf("HasDeadline = %v, want %v", ts.HasDeadline, tt.wantDeadline)
			}
			if tt.wantDeadline && len(ts.DeadlinePhrases) == 0 {
				t.Error("expected deadline phrase to be recorded")
			}
		})
	}
}

func TestDetectUrgencyIndependentOfDeadline(t *testing.T) {
	e := newTextEngine()

	sig := e.analyze("This is urgent but has no date attached.")
	if !sig.Urgent {
		t.Error("urgency keyword should set Urgent without a DATE/TIME entity")
	}
	if sig.TimeSensitivity.HasDeadline {
		t.Error("urgency keyword alone must not imply a deadline")
	}
}

func TestExtractEntities(t *testing.T) {
	e := newTextEngine()
	text := "Meeting on Friday at 3pm with Acme Corp. Budget is $12,500. " +
		"Contact jane@example.com or see https://example.com/plan for details."

	entities := e.extractEntities(text)

	for _, label := range []string{"DATE", "TIME", "MONEY", "EMAIL", "URL", "ORG"} {
		if len(entities[label]) == 0 {
			t.Errorf("expected at least one %s entity, got none", label)
		}
	}
}

func TestExtractEntitiesCapped(t *testing.T) {
	e := newTextEngine()
	var sb strings.Builder
	for i := 0; i < 30; i++ {
		sb.WriteString("user")
		sb.WriteByte(byte('a' + i%26))
		sb.WriteString("@example.com ")
	}

	entities := e.extractEntities(sb.String())
	if got := len(entities["EMAIL"]); got > domain.MaxEntities {
		t.Errorf("EMAIL entities = %d, want at most %d", got, domain.MaxEntities)
	}
}

func TestScoreSentiment(t *testing.T) {
	e := newTextEngine()

	tests := []struct {
		name        string
		text        string
		wantPos     bool
		wantNeg     bool
		wantDissat  bool
		wantStrong  bool
	}{
		{"positive", "Thanks so much, this is great and I really appreciate it. Excellent work!", true, false, false, true},
		{"negative", "Unfortunately there was a problem and the delivery failed with an error.", false, true, false, true},
		{"dissatisfied", "I am disappointed and frustrated, this is unacceptable.", false, true, true, true},
		{"neutral", "The meeting has been scheduled for next week.", false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := e.scoreSentiment(e.tokenize(strings.ToLower(tt.text)))
			if (s.Positive > 0) != tt.wantPos {
				t.Errorf("Positive = %v, want positive hits %v", s.Positive, tt.wantPos)
			}
			if (s.Negative > 0) != tt.wantNeg {
				t.Errorf("Negative = %v, want negative hits %v", s.Negative, tt.wantNeg)
			}
			if s.Dissatisfaction != tt.wantDissat {
				t.Errorf("Dissatisfaction = %v, want %v", s.Dissatisfaction, tt.wantDissat)
			}
			if s.IsStrong != tt.wantStrong {
				t.Errorf("IsStrong = %v, want %v", s.IsStrong, tt.wantStrong)
			}
			if s.Positive < 0 || s.Positive > 1 || s.Negative < 0 || s.Negative > 1 {
				t.Errorf("scores out of [0,1]: pos=%v neg=%v", s.Positive, s.Negative)
			}
		})
	}
}

func TestDetectPatterns(t *testing.T) {
	e := newTextEngine()

	tests := []struct {
		name          string
		text          string
		wantBulk      bool
		wantAutomated bool
	}{
		{
			"newsletter",
			"special offer just for you! unsubscribe here or view in browser.",
			true, false,
		},
		{
			"system mail",
			"this is an automated message, do not reply.",
			false, true,
		},
		{
			"single bulk indicator is not bulk",
			"click unsubscribe to stop receiving these.",
			false, false,
		},
		{"plain email", "see you at the meeting tomorrow.", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := e.detectPatterns(tt.text)
			if p.IsBulk != tt.wantBulk {
				t.Errorf("IsBulk = %v, want %v (indicators %v)", p.IsBulk, tt.wantBulk, p.BulkIndicators)
			}
			if p.IsAutomated != tt.wantAutomated {
				t.Errorf("IsAutomated = %v, want %v (indicators %v)", p.IsAutomated, tt.wantAutomated, p.AutomatedIndicators)
			}
		})
	}
}

func TestAnalyzeEmptyText(t *testing.T) {
	e := newTextEngine()

	for _, text := range []string{"", "   ", "\n\t"} {
		sig := e.analyze(text)
		if sig.SentenceCount != 0 {
			t.Errorf("analyze(%q) SentenceCount = %d, want 0", text, sig.SentenceCount)
		}
		if sig.Entities == nil || sig.KeyPhrases == nil {
			t.Errorf("analyze(%q) returned nil collections", text)
		}
	}
}

func TestExtractKeyPhrasesDeterministic(t *testing.T) {
	e := newTextEngine()
	tokens := e.tokenize("project deadline project review deadline project budget review")

	first := e.extractKeyPhrases(tokens)
	for i := 0; i < 5; i++ {
		again := e.extractKeyPhrases(tokens)
		if len(again) != len(first) {
			t.Fatalf("length changed between runs: %d vs %d", len(again), len(first))
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("order changed between runs: %v vs %v", again, first)
			}
		}
	}
	if len(first) == 0 || first[0] != "project" {
		t.Errorf("most frequent token should rank first, got %v", first)
	}
}
