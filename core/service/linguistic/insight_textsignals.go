// Package linguistic implements the lightweight (non-LLM) analysis stage.
package linguistic

import (
	"regexp"
	"sort"
	"strings"

	"insight_server/core/domain"
)

// =============================================================================
// Text Engine
// =============================================================================
//
// The engine holds the compiled patterns and lexicons used for one analysis
// pass. It is rebuilt periodically by the analyzer (reload threshold) to bound
// long-run memory growth; see insight_linguistic.go.

type textEngine struct {
	sentenceSplit *regexp.Regexp
	tokenSplit    *regexp.Regexp

	entityPatterns map[string]*regexp.Regexp

	modalVerbs    map[string]bool
	questionWords map[string]bool
	urgencyWords  map[string]bool
	deadlineWords map[string]bool
	positiveWords map[string]bool
	negativeWords map[string]bool
	dissatWords   map[string]bool
	stopWords     map[string]bool
	verbSuffixes  []string
}

func newTextEngine() *textEngine {
	return &textEngine{
		sentenceSplit: regexp.MustCompile(`[^.!?]*[.!?]+|[^.!?]+$`),
		tokenSplit:    regexp.MustCompile(`[a-zA-Z']+`),

		entityPatterns: map[string]*regexp.Regexp{
			"DATE":  regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|today|tonight|yesterday|jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:tember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\b(?:\s+\d{1,2}(?:st|nd|rd|th)?)?|\b\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?\b|\b(?:next|this|end of)\s+(?:week|month|quarter|year)\b`),
			"TIME":  regexp.MustCompile(`(?i)\b\d{1,2}(?::\d{2})?\s*(?:am|pm)\b|\b\d{1,2}:\d{2}\b|\b(?:noon|midnight|eod|cob)\b`),
			"MONEY": regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d+)?|\b\d[\d,]*(?:\.\d+)?\s?(?:usd|eur|dollars?)\b`),
			"EMAIL": regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.]+\b`),
			"URL":   regexp.MustCompile(`https?://\S+`),
			"ORG":   regexp.MustCompile(`\b(?:[A-Z][a-z]+\s)?(?:Inc|Corp|LLC|Ltd|GmbH|Team|Dept|Department)\b`),
		},

		modalVerbs:    wordSet("can", "could", "would", "will", "shall", "should", "may", "might", "must"),
		questionWords: wordSet("what", "when", "where", "who", "whom", "whose", "why", "which", "how"),
		urgencyWords:  wordSet("urgent", "urgently", "asap", "immediately", "critical", "emergency", "important"),
		deadlineWords: wordSet("due", "deadline", "until", "before", "by"),
		positiveWords: wordSet("thanks", "thank", "great", "good", "excellent", "appreciate", "happy",
			"pleased", "wonderful", "perfect", "love", "awesome", "congratulations", "welcome", "glad"),
		negativeWords: wordSet("unfortunately", "problem", "issue", "error", "failed", "failure", "wrong",
			"bad", "delay", "delayed", "missing", "broken", "cancel", "cancelled", "sorry", "concern"),
		dissatWords: wordSet("disappointed", "disappointing", "unacceptable", "frustrated", "frustrating",
			"complaint", "complain", "dissatisfied", "terrible", "awful", "worst", "refund"),
		stopWords: wordSet("the", "a", "an", "and", "or", "but", "if", "then", "of", "to", "in", "on",
			"at", "for", "with", "from", "this", "that", "these", "those", "is", "are", "was", "were",
			"be", "been", "it", "its", "as", "by", "we", "you", "i", "your", "our", "my", "me", "us",
			"he", "she", "they", "them", "their", "have", "has", "had", "do", "does", "did", "not",
			"no", "yes", "so", "all", "any", "can", "will", "would", "there", "here", "about", "please"),
		verbSuffixes: []string{"ing", "ed", "ate", "ify", "ise", "ize"},
	}
}

func wordSet(words ...string) map[string]bool {
	s := make(map[string]bool, len(words))
	for _, w := range words {
		s[w] = true
	}
	return s
}

// bulk/automated indicator phrases, matched case-insensitively on the raw text
var (
	bulkIndicators = []string{
		"unsubscribe", "view in browser", "view this email in your browser",
		"email preferences", "marketing", "promotional", "special offer",
		"limited time", "% off", "newsletter",
	}
	automatedIndicators = []string{
		"do not reply", "donotreply", "no-reply", "noreply",
		"this is an automated", "automatically generated", "auto-generated",
		"system notification", "mailer-daemon",
	}
)

// analyze produces the full signal set for one text.
func (e *textEngine) analyze(text string) domain.LinguisticSignals {
	sig := domain.ZeroSignals()
	if strings.TrimSpace(text) == "" {
		return sig
	}

	sentences := e.splitSentences(text)
	sig.SentenceCount = len(sentences)

	lower := strings.ToLower(text)
	tokens := e.tokenize(lower)

	sig.Entities = e.extractEntities(text)
	sig.KeyPhrases = e.extractKeyPhrases(tokens)
	sig.Questions = e.classifyQuestions(sentences)
	sig.TimeSensitivity = e.detectDeadlines(sentences)
	sig.Structural = e.structuralElements(tokens, sig.Entities)
	sig.Sentiment = e.scoreSentiment(tokens)
	sig.Patterns = e.detectPatterns(lower)
	sig.Urgent = e.detectUrgency(tokens)

	return sig
}

func (e *textEngine) splitSentences(text string) []string {
	raw := e.sentenceSplit.FindAllString(text, -1)
	sentences := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func (e *textEngine) tokenize(lower string) []string {
	return e.tokenSplit.FindAllString(lower, -1)
}

// extractEntities runs the pattern NER, deduplicating and capping per label.
func (e *textEngine) extractEntities(text string) map[string][]string {
	entities := map[string][]string{}
	for label, re := range e.entityPatterns {
		matches := re.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		seen := map[string]bool{}
		for _, m := range matches {
			m = strings.TrimSpace(m)
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			entities[label] = append(entities[label], m)
			if len(entities[label]) >= domain.MaxEntities {
				break
			}
		}
	}
	return entities
}

// extractKeyPhrases returns the most frequent non-stopword tokens.
func (e *textEngine) extractKeyPhrases(tokens []string) []string {
	freq := map[string]int{}
	for _, tok := range tokens {
		if len(tok) < 4 || e.stopWords[tok] {
			continue
		}
		freq[tok]++
	}

	type kv struct {
		word  string
		count int
	}
	ranked := make([]kv, 0, len(freq))
	for w, c := range freq {
		ranked = append(ranked, kv{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word // deterministic order
	})

	phrases := make([]string, 0, domain.MaxKeyPhrases)
	for _, r := range ranked {
		phrases = append(phrases, r.word)
		if len(phrases) >= domain.MaxKeyPhrases {
			break
		}
	}
	return phrases
}

// classifyQuestions applies the classification rule: a '?' sentence with a
// modal verb is a request; otherwise an interrogative word makes it direct;
// otherwise it is rhetorical. Modal wins ties.
func (e *textEngine) classifyQuestions(sentences []string) domain.QuestionSignals {
	q := domain.QuestionSignals{Examples: map[domain.QuestionType][]string{}}

	for _, s := range sentences {
		if !strings.HasSuffix(s, "?") {
			continue
		}
		qt := e.classifyQuestion(s)
		switch qt {
		case domain.QuestionRequest:
			q.RequestCount++
		case domain.QuestionDirect:
			q.DirectCount++
		default:
			q.RhetoricalCount++
		}
		if len(q.Examples[qt]) < domain.MaxQuestionExamples {
			q.Examples[qt] = append(q.Examples[qt], s)
		}
	}
	return q
}

func (e *textEngine) classifyQuestion(sentence string) domain.QuestionType {
	tokens := e.tokenize(strings.ToLower(sentence))
	hasModal := false
	hasQuestionWord := false
	for _, tok := range tokens {
		if e.modalVerbs[tok] {
			hasModal = true
		}
		if e.questionWords[tok] {
			hasQuestionWord = true
		}
	}
	if hasModal {
		return domain.QuestionRequest
	}
	if hasQuestionWord {
		return domain.QuestionDirect
	}
	return domain.QuestionRhetorical
}

// detectDeadlines flags sentences containing a deadline keyword AND a
// DATE/TIME entity. Urgency keywords are handled independently.
func (e *textEngine) detectDeadlines(sentences []string) domain.TimeSensitivity {
	ts := domain.TimeSensitivity{
		DeadlinePhrases: []string{},
		TimeReferences:  []string{},
	}

	dateRe := e.entityPatterns["DATE"]
	timeRe := e.entityPatterns["TIME"]

	for _, s := range sentences {
		hasDateOrTime := dateRe.MatchString(s) || timeRe.MatchString(s)
		if hasDateOrTime && len(ts.TimeReferences) < domain.MaxTimeReferences {
			if ref := dateRe.FindString(s); ref != "" {
				ts.TimeReferences = append(ts.TimeReferences, ref)
			} else if ref := timeRe.FindString(s); ref != "" {
				ts.TimeReferences = append(ts.TimeReferences, ref)
			}
		}
		if !hasDateOrTime {
			continue
		}
		for _, tok := range e.tokenize(strings.ToLower(s)) {
			if e.deadlineWords[tok] {
				ts.HasDeadline = true
				if len(ts.DeadlinePhrases) < domain.MaxDeadlinePhrases {
					ts.DeadlinePhrases = append(ts.DeadlinePhrases, s)
				}
				break
			}
		}
	}
	return ts
}

func (e *textEngine) structuralElements(tokens []string, entities map[string][]string) domain.StructuralElements {
	st := domain.StructuralElements{
		Verbs:            []string{},
		EntityCategories: []string{},
		Dependencies:     []string{},
	}

	seenVerbs := map[string]bool{}
	for _, tok := range tokens {
		if len(st.Verbs) >= domain.MaxVerbs {
			break
		}
		if len(tok) < 4 || e.stopWords[tok] || seenVerbs[tok] {
			continue
		}
		for _, suffix := range e.verbSuffixes {
			if strings.HasSuffix(tok, suffix) {
				seenVerbs[tok] = true
				st.Verbs = append(st.Verbs, tok)
				break
			}
		}
	}

	labels := make([]string, 0, len(entities))
	for label := range entities {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		if len(st.EntityCategories) >= domain.MaxEntityCategories {
			break
		}
		st.EntityCategories = append(st.EntityCategories, label)
	}

	// Dependencies are approximated as verb->entity-category pairs.
	for _, v := range st.Verbs {
		for _, label := range st.EntityCategories {
			if len(st.Dependencies) >= domain.MaxDependencies {
				return st
			}
			st.Dependencies = append(st.Dependencies, v+"->"+label)
		}
	}
	return st
}

// scoreSentiment computes positive/negative scores in [0,1] from lexicon hits.
func (e *textEngine) scoreSentiment(tokens []string) domain.SentimentSignals {
	if len(tokens) == 0 {
		return domain.SentimentSignals{}
	}

	var pos, neg, dissat int
	for _, tok := range tokens {
		if e.positiveWords[tok] {
			pos++
		}
		if e.negativeWords[tok] {
			neg++
		}
		if e.dissatWords[tok] {
			neg++
			dissat++
		}
	}

	// Normalized against a 20-token window so short emails still register.
	denom := float64(len(tokens))
	if denom < 20 {
		denom = 20
	}
	s := domain.SentimentSignals{
		Positive:        clamp01(float64(pos) * 4 / denom),
		Negative:        clamp01(float64(neg) * 4 / denom),
		Dissatisfaction: dissat > 0,
	}
	s.IsStrong = s.Positive >= 0.5 || s.Negative >= 0.5 || s.Dissatisfaction
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (e *textEngine) detectPatterns(lower string) domain.EmailPatterns {
	p := domain.EmailPatterns{
		BulkIndicators:      []string{},
		AutomatedIndicators: []string{},
	}
	for _, ind := range bulkIndicators {
		if strings.Contains(lower, ind) {
			p.BulkIndicators = append(p.BulkIndicators, ind)
		}
	}
	for _, ind := range automatedIndicators {
		if strings.Contains(lower, ind) {
			p.AutomatedIndicators = append(p.AutomatedIndicators, ind)
		}
	}
	p.IsBulk = len(p.BulkIndicators) >= 2
	p.IsAutomated = len(p.AutomatedIndicators) >= 1
	return p
}

func (e *textEngine) detectUrgency(tokens []string) bool {
	for _, tok := range tokens {
		if e.urgencyWords[tok] {
			return true
		}
	}
	return false
}
