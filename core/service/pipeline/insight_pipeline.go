// Package pipeline implements the analysis run orchestrator.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"insight_server/core/agent/llm"
	"insight_server/core/domain"
	"insight_server/core/port/in"
	"insight_server/core/port/out"
	"insight_server/core/service/scoring"
	"insight_server/pkg/apperr"
	"insight_server/pkg/backoff"
)

// =============================================================================
// Pipeline Orchestrator
// =============================================================================
//
// One run walks: cache read -> emit cached -> live fetch -> diff -> purge
// stale -> parse -> per-batch analyze/score/store/emit -> stats -> complete.
// Only source-fetch exhaustion and user-context failures are fatal; every
// analysis-stage failure degrades per item so the client always receives
// something for every fetched message.

// Deps are the outbound ports consumed by a run. Graph and Usage are optional;
// a nil port disables the corresponding side effect.
type Deps struct {
	Cache      out.EmailCache
	Source     out.MailSource
	Parser     out.MetadataParser
	Linguistic out.LinguisticAnalyzer
	Semantic   out.SemanticAnalyzer
	Scorer     *scoring.Scorer
	Settings   out.SettingsRepository
	Graph      out.SenderGraph
	Usage      out.UsageStore
}

// Config holds orchestrator configuration.
type Config struct {
	Timezone     *time.Location
	EventBuffer  int           // stream channel capacity
	RunDeadline  time.Duration // 0 = caller's context only
	VIPLimit     int           // graph-derived VIP senders per run
	ParseWorkers int
	Backoff      backoff.Policy
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Timezone:     time.UTC,
		EventBuffer:  64,
		RunDeadline:  10 * time.Minute,
		VIPLimit:     20,
		ParseWorkers: 4,
		Backoff:      backoff.DefaultPolicy(),
	}
}

// Service implements in.AnalysisService.
type Service struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger
}

var _ in.AnalysisService = (*Service)(nil)

func NewService(deps Deps, cfg Config, log zerolog.Logger) *Service {
	def := DefaultConfig()
	if cfg.Timezone == nil {
		cfg.Timezone = def.Timezone
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.VIPLimit <= 0 {
		cfg.VIPLimit = def.VIPLimit
	}
	if cfg.ParseWorkers <= 0 {
		cfg.ParseWorkers = def.ParseWorkers
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = def.Backoff
	}
	return &Service{
		deps: deps,
		cfg:  cfg,
		log:  log.With().Str("component", "pipeline").Logger(),
	}
}

// Run starts a pipeline run. The returned channel is closed after the
// terminal complete or error frame.
func (s *Service) Run(ctx context.Context, userID string, cmd domain.AnalysisCommand) (<-chan domain.StreamEvent, error) {
	if userID == "" {
		return nil, apperr.ContextError("missing user id", nil)
	}
	cmd.Normalize()

	events := make(chan domain.StreamEvent, s.cfg.EventBuffer)
	go func() {
		defer close(events)

		runCtx := ctx
		if s.cfg.RunDeadline > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunDeadline)
			defer cancel()
		}

		r := &run{
			svc:    s,
			userID: userID,
			runID:  uuid.NewString(),
			cmd:    cmd,
			events: events,
			log:    s.log.With().Str("user_id", userID).Logger(),
		}
		r.execute(runCtx)
	}()
	return events, nil
}

// run is the per-run state: explicit, never process-global.
type run struct {
	svc    *Service
	userID string
	runID  string
	cmd    domain.AnalysisCommand
	events chan<- domain.StreamEvent
	log    zerolog.Logger

	settings *domain.UserSettings
	vips     map[string]bool

	stats      domain.RunStats
	totalUsage domain.Usage
}

// emit sends a frame, giving up when the run context is cancelled.
func (r *run) emit(ctx context.Context, ev domain.StreamEvent) bool {
	select {
	case r.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *run) fail(ctx context.Context, err error) {
	appErr := apperr.AsAppError(err)
	r.log.Error().Err(err).Str("code", appErr.Code).Msg("pipeline run failed")
	r.emit(ctx, domain.NewErrorEvent(appErr.Message))
}

func (r *run) execute(ctx context.Context) {
	started := time.Now()
	r.loadSettings(ctx)

	// Cache read happens before the live fetch so the client sees results
	// immediately.
	if !r.emit(ctx, domain.NewStatusEvent("Loading cached results")) {
		return
	}
	cached := r.readCache(ctx)
	if !r.emit(ctx, domain.NewCachedEvent(cached, false, 0)) {
		return
	}

	if !r.emit(ctx, domain.NewStatusEvent("Fetching new emails")) {
		return
	}
	records, err := r.fetchLive(ctx)
	if err != nil {
		r.fail(ctx, err)
		return
	}

	// Cache diff: stale ids were deleted upstream and must be purged, not
	// just hidden from output.
	cached, newRecords := r.diff(ctx, cached, records)

	if !r.emit(ctx, domain.NewInitialStatsEvent(len(records), len(newRecords), len(cached))) {
		return
	}

	r.stats.NewEmails = len(newRecords)

	var processed []*domain.ProcessedEmail
	if len(newRecords) == 0 {
		r.log.Debug().Msg("no new emails, short-circuiting")
	} else {
		r.loadVIPs(ctx)
		parsed := r.parseRecords(ctx, newRecords)
		processed = r.analyzeBatches(ctx, parsed)
		if processed == nil && ctx.Err() != nil {
			return
		}
		r.recordRunArtifacts(ctx, processed)
	}

	final := r.filterFinal(append(append([]*domain.ProcessedEmail{}, cached...), processed...))

	r.stats.TotalProcessed = len(processed)
	r.stats.Total = len(cached) + len(processed)
	if !r.emit(ctx, domain.NewStatsEvent(r.stats)) {
		return
	}
	r.emit(ctx, domain.NewCompleteEvent(len(processed), len(cached), len(final)))

	r.log.Info().
		Str("run_id", r.runID).
		Int("fetched", len(records)).
		Int("new", len(newRecords)).
		Int("cached", len(cached)).
		Int("failed_parsing", r.stats.FailedParsing).
		Int("failed_analysis", r.stats.FailedAnalysis).
		Dur("elapsed", time.Since(started)).
		Msg("pipeline run complete")
}

// loadSettings resolves per-user settings, failing open to defaults.
func (r *run) loadSettings(ctx context.Context) {
	settings, err := r.svc.deps.Settings.GetSettings(ctx, r.userID)
	if err != nil || settings == nil {
		if err != nil {
			r.log.Warn().Err(err).Msg("failed to load settings, using defaults")
		}
		settings = domain.DefaultSettings(r.userID)
	}
	r.settings = settings
}

// readCache is fail-open: a cache read error yields an empty cached set.
func (r *run) readCache(ctx context.Context) []*domain.ProcessedEmail {
	cached, err := r.svc.deps.Cache.GetRecent(ctx, r.userID, r.cmd.CacheDurationDays, r.cmd.DaysBack, r.svc.cfg.Timezone)
	if err != nil {
		r.log.Warn().Err(err).Msg("cache read failed, continuing without cache")
		return []*domain.ProcessedEmail{}
	}
	return cached
}

// fetchLive connects and fetches with backoff on retryable source errors.
// Exhausted retries are fatal to the run.
func (r *run) fetchLive(ctx context.Context) ([]out.RawRecord, error) {
	window := out.FetchWindow{DaysBack: r.cmd.DaysBack, Timezone: r.svc.cfg.Timezone}

	var records []out.RawRecord
	err := backoff.Retry(ctx, r.svc.cfg.Backoff, apperr.IsRetryable, func() error {
		if err := r.svc.deps.Source.Connect(ctx, r.userID); err != nil {
			return err
		}
		var fetchErr error
		records, fetchErr = r.svc.deps.Source.FetchSince(ctx, r.userID, window)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// diff purges cached ids missing from the live set and re-emits the corrected
// cached list, then returns it along with the records not yet cached.
func (r *run) diff(ctx context.Context, cached []*domain.ProcessedEmail, live []out.RawRecord) ([]*domain.ProcessedEmail, []out.RawRecord) {
	liveIDs := make(map[string]bool, len(live))
	for _, rec := range live {
		liveIDs[rec.ID] = true
	}
	cachedIDs := make(map[string]bool, len(cached))
	for _, email := range cached {
		cachedIDs[email.ID] = true
	}

	var staleIDs []string
	corrected := make([]*domain.ProcessedEmail, 0, len(cached))
	for _, email := range cached {
		if liveIDs[email.ID] {
			corrected = append(corrected, email)
			continue
		}
		staleIDs = append(staleIDs, email.ID)
	}

	if len(staleIDs) > 0 {
		deleted, failed, err := r.svc.deps.Cache.DeleteEmails(ctx, r.userID, staleIDs)
		if err != nil || failed > 0 {
			r.log.Warn().Err(err).Int("deleted", deleted).Int("failed", failed).Msg("stale cache purge incomplete")
		}
		r.emit(ctx, domain.NewCachedEvent(corrected, true, len(staleIDs)))
	}

	newRecords := make([]out.RawRecord, 0, len(live))
	for _, rec := range live {
		if !cachedIDs[rec.ID] {
			newRecords = append(newRecords, rec)
		}
	}
	return corrected, newRecords
}

// loadVIPs merges the explicit settings VIP list with the sender graph's top
// correspondents. Graph failures are non-fatal.
func (r *run) loadVIPs(ctx context.Context) {
	r.vips = make(map[string]bool, len(r.settings.VIPSenders))
	for _, vip := range r.settings.VIPSenders {
		r.vips[vip] = true
	}
	if r.svc.deps.Graph == nil {
		return
	}
	top, err := r.svc.deps.Graph.VIPSenders(ctx, r.userID, r.svc.cfg.VIPLimit)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to load graph vip senders")
		return
	}
	for _, sender := range top {
		r.vips[sender] = true
	}
}

// parseRecords extracts metadata in parallel, preserving input order.
// Unparsable records are counted and dropped.
func (r *run) parseRecords(ctx context.Context, records []out.RawRecord) []domain.EmailMetadata {
	results := make([]*domain.EmailMetadata, len(records))
	sem := make(chan struct{}, r.svc.cfg.ParseWorkers)
	done := make(chan int, len(records))

	for i := range records {
		go func(idx int) {
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = r.svc.deps.Parser.Extract(records[idx])
			done <- idx
		}(i)
	}
	for range records {
		select {
		case <-done:
		case <-ctx.Done():
			return nil
		}
	}

	parsed := make([]domain.EmailMetadata, 0, len(records))
	for _, meta := range results {
		if meta == nil {
			r.stats.FailedParsing++
			continue
		}
		parsed = append(parsed, *meta)
	}
	r.stats.SuccessfullyParsed = len(parsed)
	return parsed
}

// analyzeBatches runs the two analysis stages batch by batch, writing each
// batch through to the cache and emitting it before the next batch starts.
func (r *run) analyzeBatches(ctx context.Context, parsed []domain.EmailMetadata) []*domain.ProcessedEmail {
	if len(parsed) == 0 {
		return []*domain.ProcessedEmail{}
	}

	batchSize := r.cmd.BatchSize
	if batchSize <= 0 {
		batchSize = len(parsed) // unset means a single batch of everything
	}
	totalBatches := (len(parsed) + batchSize - 1) / batchSize
	r.stats.Batches = totalBatches

	var all []*domain.ProcessedEmail
	for i := 0; i < totalBatches; i++ {
		if ctx.Err() != nil {
			return all
		}
		start := i * batchSize
		end := start + batchSize
		if end > len(parsed) {
			end = len(parsed)
		}

		if !r.emit(ctx, domain.NewStatusEvent(fmt.Sprintf("Analyzing batch %d of %d", i+1, totalBatches))) {
			return all
		}

		batch := r.analyzeBatch(ctx, parsed[start:end])
		r.storeBatch(ctx, batch)
		if !r.emit(ctx, domain.NewBatchEvent(batch)) {
			return all
		}
		all = append(all, batch...)
	}
	return all
}

// analyzeBatch produces ProcessedEmails for one batch. With AI disabled the
// analyzers are skipped entirely and conservative defaults apply.
func (r *run) analyzeBatch(ctx context.Context, batch []domain.EmailMetadata) []*domain.ProcessedEmail {
	processed := make([]*domain.ProcessedEmail, len(batch))
	for i, meta := range batch {
		processed[i] = domain.NewProcessedEmail(meta)
	}

	if !r.settings.AIEnabled {
		r.stats.SuccessfullyAnalyzed += len(batch)
		return processed
	}

	texts := make([]string, len(batch))
	for i, meta := range batch {
		texts[i] = meta.Subject + "\n" + llm.CleanEmailBody(meta.Body)
	}
	signals := r.svc.deps.Linguistic.AnalyzeBatch(ctx, texts)

	inputs := make([]out.SemanticInput, len(batch))
	for i, meta := range batch {
		inputs[i] = out.SemanticInput{Meta: meta, Signals: signals[i]}
	}
	semantic, failed := r.svc.deps.Semantic.AnalyzeBatch(ctx, r.settings, inputs)

	failedSet := make(map[int]bool, len(failed))
	for _, idx := range failed {
		failedSet[idx] = true
	}

	for i := range processed {
		processed[i].Signals = signals[i]
		processed[i].NeedsAction = semantic[i].NeedsAction
		processed[i].Category = semantic[i].Category
		processed[i].ActionItems = semantic[i].ActionItems
		processed[i].Summary = semantic[i].Summary
		processed[i].CustomCategories = semantic[i].CustomCategories
		processed[i].Usage = semantic[i].Usage

		score, level := r.svc.deps.Scorer.Score(
			processed[i].Sender, r.vips, signals[i], semantic[i], r.cmd.PriorityThreshold)
		processed[i].Priority = score
		processed[i].PriorityLevel = level

		r.totalUsage.Model = semantic[i].Usage.Model
		r.totalUsage.PromptTokens += semantic[i].Usage.PromptTokens
		r.totalUsage.CompletionTokens += semantic[i].Usage.CompletionTokens
		r.totalUsage.Cost += semantic[i].Usage.Cost

		if failedSet[i] {
			r.stats.FailedAnalysis++
		} else {
			r.stats.SuccessfullyAnalyzed++
		}
	}
	return processed
}

// storeBatch is write-through per batch; failures are logged, never fatal.
func (r *run) storeBatch(ctx context.Context, batch []*domain.ProcessedEmail) {
	if len(batch) == 0 {
		return
	}
	var ttlOverride *time.Duration
	if r.settings.CacheDisabled {
		zero := time.Duration(0)
		ttlOverride = &zero
	} else if r.cmd.CacheDurationDays > 0 {
		ttl := time.Duration(r.cmd.CacheDurationDays) * 24 * time.Hour
		ttlOverride = &ttl
	}
	if err := r.svc.deps.Cache.StoreMany(ctx, r.userID, batch, ttlOverride); err != nil {
		r.log.Warn().Err(err).Int("batch_size", len(batch)).Msg("cache write failed, continuing")
	}
}

// recordRunArtifacts persists the sender graph update and the usage report.
// Both are best effort.
func (r *run) recordRunArtifacts(ctx context.Context, processed []*domain.ProcessedEmail) {
	if len(processed) == 0 {
		return
	}

	if r.svc.deps.Graph != nil {
		counts := map[string]int{}
		for _, email := range processed {
			if email.Sender != "" {
				counts[email.Sender]++
			}
		}
		stats := make([]out.SenderStat, 0, len(counts))
		for addr, n := range counts {
			stats = append(stats, out.SenderStat{Address: addr, Count: n})
		}
		if err := r.svc.deps.Graph.RecordSenders(ctx, r.userID, stats); err != nil {
			r.log.Warn().Err(err).Msg("failed to record senders")
		}
	}

	if r.svc.deps.Usage != nil && r.settings.AIEnabled {
		report := &out.UsageReport{
			UserID:           r.userID,
			RunID:            r.runID,
			Model:            r.totalUsage.Model,
			PromptTokens:     r.totalUsage.PromptTokens,
			CompletionTokens: r.totalUsage.CompletionTokens,
			Cost:             r.totalUsage.Cost,
			EmailsAnalyzed:   len(processed),
			CreatedAt:        time.Now().UTC(),
		}
		if err := r.svc.deps.Usage.SaveReport(ctx, report); err != nil {
			r.log.Warn().Err(err).Msg("failed to save usage report")
		}
	}
}

// filterFinal applies the priority threshold and category allow-list to the
// combined set. Intermediate cached/batch emissions are never filtered.
func (r *run) filterFinal(combined []*domain.ProcessedEmail) []*domain.ProcessedEmail {
	final := make([]*domain.ProcessedEmail, 0, len(combined))
	for _, email := range combined {
		if email.Priority < r.cmd.PriorityThreshold {
			continue
		}
		if !r.cmd.AllowsCategory(email.Category) {
			continue
		}
		final = append(final, email)
	}
	return final
}
