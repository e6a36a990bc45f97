package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"insight_server/core/domain"
	"insight_server/core/port/out"
	"insight_server/core/service/scoring"
	"insight_server/pkg/apperr"
	"insight_server/pkg/backoff"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*domain.ProcessedEmail
	ttls    []*time.Duration
	readErr error
}

func newFakeCache(emails ...*domain.ProcessedEmail) *fakeCache {
	c := &fakeCache{entries: map[string]*domain.ProcessedEmail{}}
	for _, e := range emails {
		c.entries[e.ID] = e
	}
	return c
}

func (c *fakeCache) GetRecent(ctx context.Context, userKey string, cacheDurationDays, daysBack int, tz *time.Location) ([]*domain.ProcessedEmail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	var result []*domain.ProcessedEmail
	for _, e := range c.entries {
		result = append(result, e)
	}
	return result, nil
}

func (c *fakeCache) StoreMany(ctx context.Context, userKey string, emails []*domain.ProcessedEmail, ttlOverride *time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttls = append(c.ttls, ttlOverride)
	if ttlOverride != nil && *ttlOverride == 0 {
		return nil
	}
	for _, e := range emails {
		c.entries[e.ID] = e
	}
	return nil
}

func (c *fakeCache) DeleteEmails(ctx context.Context, userKey string, ids []string) (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := c.entries[id]; ok {
			delete(c.entries, id)
			deleted++
		}
	}
	return deleted, 0, nil
}

func (c *fakeCache) ids() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := map[string]bool{}
	for id := range c.entries {
		ids[id] = true
	}
	return ids
}

type fakeSource struct {
	records  []out.RawRecord
	err      error
	failures int // fail this many calls before succeeding
	calls    int
}

func (s *fakeSource) Connect(ctx context.Context, userID string) error { return nil }

func (s *fakeSource) FetchSince(ctx context.Context, userID string, window out.FetchWindow) ([]out.RawRecord, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.failures > 0 {
		s.failures--
		return nil, apperr.RateLimited("test", nil)
	}
	return s.records, nil
}

type fakeParser struct{}

func (fakeParser) Extract(record out.RawRecord) *domain.EmailMetadata {
	if record.Headers["unparsable"] != "" {
		return nil
	}
	return &domain.EmailMetadata{
		ID:      record.ID,
		Subject: record.Headers["Subject"],
		Sender:  record.Headers["From"],
		Body:    record.TextBody,
		Date:    record.Internal,
	}
}

type fakeLinguistic struct{}

func (fakeLinguistic) AnalyzeBatch(ctx context.Context, texts []string) []domain.LinguisticSignals {
	signals := make([]domain.LinguisticSignals, len(texts))
	for i := range signals {
		signals[i] = domain.ZeroSignals()
	}
	return signals
}

type fakeSemantic struct {
	failIdx    map[int]bool
	categories map[int]domain.Category // per-index override, default Work
	calls      int
}

func (s *fakeSemantic) AnalyzeBatch(ctx context.Context, settings *domain.UserSettings, inputs []out.SemanticInput) ([]domain.SemanticResult, []int) {
	s.calls++
	results := make([]domain.SemanticResult, len(inputs))
	var failed []int
	for i := range inputs {
		if s.failIdx[i] {
			results[i] = domain.FallbackSemanticResult()
			failed = append(failed, i)
			continue
		}
		results[i] = domain.SemanticResult{
			NeedsAction:      true,
			Category:         domain.CategoryWork,
			ActionItems:      []domain.ActionItem{},
			Summary:          "summary",
			CustomCategories: map[string]string{},
		}
		if cat, ok := s.categories[i]; ok {
			results[i].Category = cat
		}
	}
	return results, failed
}

type fakeSettings struct {
	settings *domain.UserSettings
}

func (s *fakeSettings) GetSettings(ctx context.Context, userID string) (*domain.UserSettings, error) {
	if s.settings != nil {
		return s.settings, nil
	}
	return domain.DefaultSettings(userID), nil
}

func (s *fakeSettings) UpsertSettings(ctx context.Context, settings *domain.UserSettings) error {
	s.settings = settings
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func rawRecord(id string) out.RawRecord {
	return out.RawRecord{
		ID:       id,
		Headers:  map[string]string{"Subject": "s-" + id, "From": "a@x.com"},
		TextBody: "body " + id,
		Internal: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

func cachedEmail(id string) *domain.ProcessedEmail {
	e := domain.NewProcessedEmail(domain.EmailMetadata{
		ID:   id,
		Date: time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC),
	})
	e.Priority = 60
	e.Category = domain.CategoryWork
	return e
}

func fastBackoff() backoff.Policy {
	return backoff.Policy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 3}
}

func newTestService(deps Deps) *Service {
	if deps.Scorer == nil {
		deps.Scorer = scoring.NewScorer(zerolog.Nop())
	}
	if deps.Settings == nil {
		deps.Settings = &fakeSettings{}
	}
	if deps.Linguistic == nil {
		deps.Linguistic = fakeLinguistic{}
	}
	if deps.Semantic == nil {
		deps.Semantic = &fakeSemantic{}
	}
	if deps.Parser == nil {
		deps.Parser = fakeParser{}
	}
	return NewService(deps, Config{Backoff: fastBackoff()}, zerolog.Nop())
}

func collect(t *testing.T, ch <-chan domain.StreamEvent) []domain.StreamEvent {
	t.Helper()
	var events []domain.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream to close")
		}
	}
}

func eventTypes(events []domain.StreamEvent) []domain.EventType {
	types := make([]domain.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func lastOfType(events []domain.StreamEvent, et domain.EventType) (domain.StreamEvent, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == et {
			return events[i], true
		}
	}
	return domain.StreamEvent{}, false
}

// =============================================================================
// Tests
// =============================================================================

func TestRunCacheDiffScenario(t *testing.T) {
	// Cached {A,B,C}, live {B,C,D}: purge A, corrected cached [B,C],
	// analyze [D], final cache id-set {B,C,D}.
	cache := newFakeCache(cachedEmail("A"), cachedEmail("B"), cachedEmail("C"))
	source := &fakeSource{records: []out.RawRecord{rawRecord("B"), rawRecord("C"), rawRecord("D")}}
	svc := newTestService(Deps{Cache: cache, Source: source})

	ch, err := svc.Run(context.Background(), "user-1", domain.AnalysisCommand{})
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, ch)

	wantIDs := map[string]bool{"B": true, "C": true, "D": true}
	gotIDs := cache.ids()
	if len(gotIDs) != len(wantIDs) {
		t.Errorf("final cache ids = %v, want %v", gotIDs, wantIDs)
	}
	for id := range wantIDs {
		if !gotIDs[id] {
			t.Errorf("final cache missing %s", id)
		}
	}

	statsEv, ok := lastOfType(events, domain.EventStats)
	if !ok {
		t.Fatal("no stats frame")
	}
	stats := statsEv.Data.(domain.RunStats)
	if stats.NewEmails != 1 {
		t.Errorf("stats.NewEmails = %d, want 1", stats.NewEmails)
	}
	if stats.SuccessfullyParsed != 1 || stats.SuccessfullyAnalyzed != 1 {
		t.Errorf("parsed/analyzed = %d/%d, want 1/1", stats.SuccessfullyParsed, stats.SuccessfullyAnalyzed)
	}

	// Corrected cached frame replaces the initial one and reports the purge.
	var corrected *domain.CachedData
	for _, ev := range events {
		if ev.Type == domain.EventCached {
			data := ev.Data.(domain.CachedData)
			if data.ReplacePrevious {
				corrected = &data
			}
		}
	}
	if corrected == nil {
		t.Fatal("no corrected cached frame after purge")
	}
	if len(corrected.Emails) != 2 || corrected.FilteredCount != 1 {
		t.Errorf("corrected cached = %d emails filtered %d, want 2/1", len(corrected.Emails), corrected.FilteredCount)
	}
}

func TestRunEventOrdering(t *testing.T) {
	cache := newFakeCache(cachedEmail("A"))
	source := &fakeSource{records: []out.RawRecord{rawRecord("A"), rawRecord("B")}}
	svc := newTestService(Deps{Cache: cache, Source: source})

	ch, _ := svc.Run(context.Background(), "user-1", domain.AnalysisCommand{})
	types := eventTypes(collect(t, ch))

	want := []domain.EventType{
		domain.EventStatus, domain.EventCached, domain.EventStatus,
		domain.EventInitialStats, domain.EventStatus, domain.EventBatch,
		domain.EventStats, domain.EventComplete,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("frame %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestRunShortCircuitNoNewEmails(t *testing.T) {
	cache := newFakeCache(cachedEmail("A"), cachedEmail("B"))
	source := &fakeSource{records: []out.RawRecord{rawRecord("A"), rawRecord("B")}}
	semantic := &fakeSemantic{}
	svc := newTestService(Deps{Cache: cache, Source: source, Semantic: semantic})

	ch, _ := svc.Run(context.Background(), "user-1", domain.AnalysisCommand{})
	events := collect(t, ch)

	if semantic.calls != 0 {
		t.Errorf("semantic analyzer called %d times on short-circuit, want 0", semantic.calls)
	}
	for _, ev := range events {
		if ev.Type == domain.EventBatch {
			t.Error("batch frame emitted with no new emails")
		}
	}
	if _, ok := lastOfType(events, domain.EventComplete); !ok {
		t.Error("short-circuit run must still complete")
	}
}

func TestRunSemanticFailureDegrades(t *testing.T) {
	cache := newFakeCache()
	source := &fakeSource{records: []out.RawRecord{rawRecord("A"), rawRecord("B")}}
	semantic := &fakeSemantic{failIdx: map[int]bool{1: true}}
	svc := newTestService(Deps{Cache: cache, Source: source, Semantic: semantic})

	ch, _ := svc.Run(context.Background(), "user-1", domain.AnalysisCommand{})
	events := collect(t, ch)

	statsEv, _ := lastOfType(events, domain.EventStats)
	stats := statsEv.Data.(domain.RunStats)
	if stats.FailedAnalysis != 1 || stats.SuccessfullyAnalyzed != 1 {
		t.Errorf("failed/analyzed = %d/%d, want 1/1", stats.FailedAnalysis, stats.SuccessfullyAnalyzed)
	}

	batchEv, ok := lastOfType(events, domain.EventBatch)
	if !ok {
		t.Fatal("no batch frame")
	}
	emails := batchEv.Data.(domain.BatchData).Emails
	if len(emails) != 2 {
		t.Fatalf("batch has %d emails, want 2 (sibling unaffected)", len(emails))
	}
	if emails[1].Category != domain.CategoryInformational || emails[1].NeedsAction {
		t.Errorf("failed item = %s/%v, want Informational fallback", emails[1].Category, emails[1].NeedsAction)
	}
	if emails[0].Category != domain.CategoryWork {
		t.Errorf("sibling item = %s, want Work", emails[0].Category)
	}
}

func TestRunParseFailureCounted(t *testing.T) {
	bad := rawRecord("BAD")
	bad.Headers["unparsable"] = "yes"
	cache := newFakeCache()
	source := &fakeSource{records: []out.RawRecord{rawRecord("A"), bad}}
	svc := newTestService(Deps{Cache: cache, Source: source})

	ch, _ := svc.Run(context.Background(), "user-1", domain.AnalysisCommand{})
	events := collect(t, ch)

	statsEv, _ := lastOfType(events, domain.EventStats)
	stats := statsEv.Data.(domain.RunStats)
	if stats.FailedParsing != 1 || stats.SuccessfullyParsed != 1 {
		t.Errorf("failed/parsed = %d/%d, want 1/1", stats.FailedParsing, stats.SuccessfullyParsed)
	}
}

func TestRunAIDisabledPath(t *testing.T) {
	settings := domain.DefaultSettings("user-1")
	settings.AIEnabled = false
	cache := newFakeCache()
	source := &fakeSource{records: []out.RawRecord{rawRecord("A")}}
	semantic := &fakeSemantic{}
	svc := newTestService(Deps{
		Cache: cache, Source: source, Semantic: semantic,
		Settings: &fakeSettings{settings: settings},
	})

	ch, _ := svc.Run(context.Background(), "user-1", domain.AnalysisCommand{})
	events := collect(t, ch)

	if semantic.calls != 0 {
		t.Errorf("semantic called %d times with AI disabled, want 0", semantic.calls)
	}
	batchEv, ok := lastOfType(events, domain.EventBatch)
	if !ok {
		t.Fatal("no batch frame")
	}
	email := batchEv.Data.(domain.BatchData).Emails[0]
	if email.Priority != domain.BasePriority || email.PriorityLevel != domain.PriorityLow {
		t.Errorf("priority = %d/%s, want %d/LOW", email.Priority, email.PriorityLevel, domain.BasePriority)
	}
	if email.Category != domain.CategoryInformational {
		t.Errorf("category = %s, want Informational", email.Category)
	}
}

func TestRunCacheDisabledStoresNothing(t *testing.T) {
	settings := domain.DefaultSettings("user-1")
	settings.CacheDisabled = true
	cache := newFakeCache()
	source := &fakeSource{records: []out.RawRecord{rawRecord("A")}}
	svc := newTestService(Deps{
		Cache: cache, Source: source,
		Settings: &fakeSettings{settings: settings},
	})

	ch, _ := svc.Run(context.Background(), "user-1", domain.AnalysisCommand{})
	collect(t, ch)

	if len(cache.ids()) != 0 {
		t.Errorf("cache has %d entries with caching disabled, want 0", len(cache.ids()))
	}
	if len(cache.ttls) != 1 || cache.ttls[0] == nil || *cache.ttls[0] != 0 {
		t.Errorf("StoreMany ttl override = %v, want explicit zero", cache.ttls)
	}
}

func TestRunSourceRetryThenSuccess(t *testing.T) {
	cache := newFakeCache()
	source := &fakeSource{records: []out.RawRecord{rawRecord("A")}, failures: 2}
	svc := newTestService(Deps{Cache: cache, Source: source})

	ch, _ := svc.Run(context.Background(), "user-1", domain.AnalysisCommand{})
	events := collect(t, ch)

	if source.calls != 3 {
		t.Errorf("source called %d times, want 3 (two retries)", source.calls)
	}
	if _, ok := lastOfType(events, domain.EventComplete); !ok {
		t.Error("run should complete after retries succeed")
	}
}

func TestRunSourceExhaustionFatal(t *testing.T) {
	cache := newFakeCache()
	source := &fakeSource{records: []out.RawRecord{rawRecord("A")}, failures: 10}
	svc := newTestService(Deps{Cache: cache, Source: source})

	ch, _ := svc.Run(context.Background(), "user-1", domain.AnalysisCommand{})
	events := collect(t, ch)

	last := events[len(events)-1]
	if last.Type != domain.EventError {
		t.Errorf("last frame = %s, want error", last.Type)
	}
	if _, ok := lastOfType(events, domain.EventComplete); ok {
		t.Error("fatal run must not emit complete")
	}
}

func TestRunBatching(t *testing.T) {
	cache := newFakeCache()
	source := &fakeSource{records: []out.RawRecord{
		rawRecord("A"), rawRecord("B"), rawRecord("C"), rawRecord("D"), rawRecord("E"),
	}}
	svc := newTestService(Deps{Cache: cache, Source: source})

	ch, _ := svc.Run(context.Background(), "user-1", domain.AnalysisCommand{BatchSize: 2})
	events := collect(t, ch)

	batches := 0
	for _, ev := range events {
		if ev.Type == domain.EventBatch {
			batches++
		}
	}
	if batches != 3 {
		t.Errorf("batch frames = %d, want 3", batches)
	}

	statsEv, _ := lastOfType(events, domain.EventStats)
	if stats := statsEv.Data.(domain.RunStats); stats.Batches != 3 {
		t.Errorf("stats.Batches = %d, want 3", stats.Batches)
	}
}

func TestRunFinalFilterThresholdAndCategories(t *testing.T) {
	// With the default threshold (50, balanced preset) and zero signals:
	// Work+action scores 55, Personal+action 50, Promotions+action 40, and a
	// degraded item keeps the base 30. The cached entry Z stays at the base
	// score too. Only Work entries at or above 50 survive the final filter,
	// while cached and batch frames carry everything.
	z := domain.NewProcessedEmail(domain.EmailMetadata{
		ID:   "Z",
		Date: time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC),
	})
	cache := newFakeCache(z)
	source := &fakeSource{records: []out.RawRecord{
		rawRecord("Z"), rawRecord("A"), rawRecord("B"), rawRecord("C"), rawRecord("D"),
	}}
	semantic := &fakeSemantic{
		failIdx: map[int]bool{2: true}, // C degrades to the fallback result
		categories: map[int]domain.Category{
			1: domain.CategoryPersonal,   // B: passes threshold, fails allow-list
			3: domain.CategoryPromotions, // D: fails threshold
		},
	}
	svc := newTestService(Deps{Cache: cache, Source: source, Semantic: semantic})

	ch, _ := svc.Run(context.Background(), "user-1", domain.AnalysisCommand{
		Categories: []string{string(domain.CategoryWork)},
	})
	events := collect(t, ch)

	batchEv, ok := lastOfType(events, domain.EventBatch)
	if !ok {
		t.Fatal("no batch frame")
	}
	if batch := batchEv.Data.(domain.BatchData); len(batch.Emails) != 4 {
		t.Errorf("batch frame has %d emails, want 4 unfiltered", len(batch.Emails))
	}

	statsEv, _ := lastOfType(events, domain.EventStats)
	if stats := statsEv.Data.(domain.RunStats); stats.Total != 5 {
		t.Errorf("stats.Total = %d, want 5 (cached + processed, unfiltered)", stats.Total)
	}

	completeEv, ok := lastOfType(events, domain.EventComplete)
	if !ok {
		t.Fatal("no complete frame")
	}
	complete := completeEv.Data.(domain.CompleteData)
	if complete.Processed != 4 || complete.Cached != 1 {
		t.Errorf("complete processed/cached = %d/%d, want 4/1", complete.Processed, complete.Cached)
	}
	if complete.Total != 1 {
		t.Errorf("complete.Total = %d, want 1 (only the Work entry above threshold)", complete.Total)
	}
}

func TestRunEmptyUserID(t *testing.T) {
	svc := newTestService(Deps{Cache: newFakeCache(), Source: &fakeSource{}})

	if _, err := svc.Run(context.Background(), "", domain.AnalysisCommand{}); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestRunCacheReadFailOpen(t *testing.T) {
	cache := newFakeCache()
	cache.readErr = apperr.CacheError("scan", nil)
	source := &fakeSource{records: []out.RawRecord{rawRecord("A")}}
	svc := newTestService(Deps{Cache: cache, Source: source})

	ch, _ := svc.Run(context.Background(), "user-1", domain.AnalysisCommand{})
	events := collect(t, ch)

	if _, ok := lastOfType(events, domain.EventComplete); !ok {
		t.Error("cache read failure must not be fatal")
	}
}
