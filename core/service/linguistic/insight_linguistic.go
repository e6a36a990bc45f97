package linguistic

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"insight_server/core/domain"
	"insight_server/core/port/out"
)

// =============================================================================
// Batch Linguistic Analyzer (go-pkgz/pool 기반)
// =============================================================================

// Config holds batch analyzer configuration.
type Config struct {
	SubBatchSize    int           // texts per sub-batch
	Workers         int           // parallel sub-batch workers
	ReloadThreshold int           // sub-batches processed before the engine is rebuilt
	SubBatchTimeout time.Duration // per sub-batch; on expiry the sub-batch degrades to zero signals
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		SubBatchSize:    8,
		Workers:         2,
		ReloadThreshold: 16,
		SubBatchTimeout: 20 * time.Second,
	}
}

// Metrics holds analyzer counters.
type Metrics struct {
	TextsAnalyzed   int64
	SubBatches      int64
	TimedOut        int64
	EngineReloads   int64
}

// Analyzer is the LinguisticAnalyzer implementation. It fans sub-batches out
// to a small worker group and substitutes zero signals for any sub-batch that
// times out, so a single slow text can never fail the whole batch.
type Analyzer struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	engine    *textEngine
	processed int // sub-batches since last engine rebuild

	metrics Metrics
}

var _ out.LinguisticAnalyzer = (*Analyzer)(nil)

// NewAnalyzer creates a batch analyzer.
func NewAnalyzer(cfg Config, log zerolog.Logger) *Analyzer {
	def := DefaultConfig()
	if cfg.SubBatchSize <= 0 {
		cfg.SubBatchSize = def.SubBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ReloadThreshold <= 0 {
		cfg.ReloadThreshold = def.ReloadThreshold
	}
	if cfg.SubBatchTimeout <= 0 {
		cfg.SubBatchTimeout = def.SubBatchTimeout
	}
	return &Analyzer{
		cfg:    cfg,
		log:    log.With().Str("component", "linguistic_analyzer").Logger(),
		engine: newTextEngine(),
	}
}

// subBatch is a half-open index range into the input slice.
type subBatch struct {
	start, end int
}

// subBatchWorker implements pool.Worker for sub-batch processing.
type subBatchWorker struct {
	a       *Analyzer
	texts   []string
	results []domain.LinguisticSignals
}

// Do implements pool.Worker. Workers own disjoint index ranges, so writes to
// the shared results slice need no locking.
func (w *subBatchWorker) Do(ctx context.Context, sb subBatch) error {
	w.a.processSubBatch(ctx, w.texts, w.results, sb)
	return nil
}

// AnalyzeBatch analyzes texts in parallel sub-batches. The result always has
// the same length and order as the input.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, texts []string) []domain.LinguisticSignals {
	results := make([]domain.LinguisticSignals, len(texts))
	for i := range results {
		results[i] = domain.ZeroSignals()
	}
	if len(texts) == 0 {
		return results
	}

	worker := &subBatchWorker{a: a, texts: texts, results: results}
	grp := pool.New[subBatch](a.cfg.Workers, worker).
		WithWorkerChanSize(a.cfg.Workers * 2).
		WithContinueOnError()

	if err := grp.Go(ctx); err != nil {
		a.log.Error().Err(err).Msg("failed to start sub-batch workers")
		return results
	}

	for start := 0; start < len(texts); start += a.cfg.SubBatchSize {
		end := start + a.cfg.SubBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		grp.Submit(subBatch{start: start, end: end})
	}

	if err := grp.Close(ctx); err != nil {
		a.log.Warn().Err(err).Msg("sub-batch workers closed with error")
	}

	atomic.AddInt64(&a.metrics.TextsAnalyzed, int64(len(texts)))
	return results
}

// processSubBatch runs one sub-batch under the configured timeout. The
// results for the range stay at zero signals when the deadline expires.
func (a *Analyzer) processSubBatch(ctx context.Context, texts []string, results []domain.LinguisticSignals, sb subBatch) {
	atomic.AddInt64(&a.metrics.SubBatches, 1)
	engine := a.checkoutEngine()

	subCtx, cancel := context.WithTimeout(ctx, a.cfg.SubBatchTimeout)
	defer cancel()

	// The goroutine writes to a private slice so an abandoned sub-batch can
	// never race with the shared results after a timeout.
	local := make([]domain.LinguisticSignals, sb.end-sb.start)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := sb.start; i < sb.end; i++ {
			select {
			case <-subCtx.Done():
				return
			default:
			}
			local[i-sb.start] = engine.analyze(texts[i])
		}
	}()

	select {
	case <-done:
		if subCtx.Err() != nil {
			return
		}
		copy(results[sb.start:sb.end], local)
	case <-subCtx.Done():
		atomic.AddInt64(&a.metrics.TimedOut, 1)
		a.log.Warn().
			Int("start", sb.start).
			Int("end", sb.end).
			Dur("timeout", a.cfg.SubBatchTimeout).
			Msg("sub-batch timed out, degrading to zero signals")
	}
}

// checkoutEngine returns the current engine, rebuilding it once the reload
// threshold is reached.
func (a *Analyzer) checkoutEngine() *textEngine {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.processed++
	if a.processed >= a.cfg.ReloadThreshold {
		a.engine = newTextEngine()
		a.processed = 0
		atomic.AddInt64(&a.metrics.EngineReloads, 1)
		a.log.Debug().Msg("text engine reloaded")
	}
	return a.engine
}

// GetMetrics returns a snapshot of the analyzer counters.
func (a *Analyzer) GetMetrics() Metrics {
	return Metrics{
		TextsAnalyzed: atomic.LoadInt64(&a.metrics.TextsAnalyzed),
		SubBatches:    atomic.LoadInt64(&a.metrics.SubBatches),
		TimedOut:      atomic.LoadInt64(&a.metrics.TimedOut),
		EngineReloads: atomic.LoadInt64(&a.metrics.EngineReloads),
	}
}
