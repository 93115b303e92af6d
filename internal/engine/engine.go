package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scanguard/scanguard/internal/cache"
	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/fileproc"
	"github.com/scanguard/scanguard/internal/metrics"
	"github.com/scanguard/scanguard/internal/pool"
	"github.com/scanguard/scanguard/internal/sysload"
	sgerrors "github.com/scanguard/scanguard/pkg/errors"
	"github.com/scanguard/scanguard/pkg/types"
	"github.com/scanguard/scanguard/pkg/utils"
)

// Guardian coordinates one analysis pipeline: discovery, cache lookup,
// budget-bounded analysis, and aggregation.
type Guardian struct {
	config *config.Configuration
	logger *utils.StructuredLogger

	pools      *pool.Manager
	cache      *cache.UnifiedCache
	sampler    *sysload.Sampler
	controller *sysload.Controller
	processor  *fileproc.Processor
	registry   *Registry
	analyzers  []types.Analyzer
	collector  *metrics.Collector

	store *cache.PersistentStore

	started int32
}

// New assembles a Guardian from configuration. Nothing runs until
// Start.
func New(cfg *config.Configuration, logger *utils.StructuredLogger) (*Guardian, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pools := pool.NewManager(pool.ManagerConfig{
		FindingsPoolSize: cfg.Cache.PoolSizes.Findings,
		StringsPoolSize:  cfg.Cache.PoolSizes.Strings,
		PathsPoolSize:    cfg.Cache.PoolSizes.Paths,
		MapsPoolSize:     cfg.Cache.PoolSizes.Maps,
	})

	fingerprint := cfg.Fingerprint()
	resultCache, err := cache.New(cfg.Cache, fingerprint, pools, logger)
	if err != nil {
		return nil, err
	}

	sampler := sysload.NewSampler(sysload.SamplerConfig{
		SampleInterval: cfg.Parallelism.SampleInterval,
		MaxHistory:     cfg.Parallelism.MaxHistorySize,
		Logger:         logger,
	})

	controller := sysload.NewController(sysload.ControllerConfig{
		MinWorkers:         cfg.Parallelism.MinWorkers,
		MaxWorkers:         cfg.Parallelism.MaxWorkers,
		InitialWorkers:     cfg.Parallelism.InitialWorkers,
		AdjustmentInterval: cfg.Parallelism.AdjustmentInterval,
		Logger:             logger,
	}, sampler)

	processor := fileproc.New(fileproc.Config{
		MmapThreshold: cfg.Parallelism.MmapThreshold,
		MaxFileSize:   cfg.Analysis.MaxFileSize,
		Logger:        logger,
	}, controller)

	registry := NewRegistry()
	analyzers, err := registry.Select(cfg.Analysis.EnabledAnalyzers)
	if err != nil {
		return nil, err
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.MetricsEnabled,
		Port:      cfg.Monitoring.MetricsPort,
		Path:      cfg.Monitoring.MetricsPath,
		Namespace: "scanguard",
	})
	if err != nil {
		return nil, err
	}

	g := &Guardian{
		config:     cfg,
		logger:     logger.WithComponent("engine"),
		pools:      pools,
		cache:      resultCache,
		sampler:    sampler,
		controller: controller,
		processor:  processor,
		registry:   registry,
		analyzers:  analyzers,
		collector:  collector,
	}

	if cfg.Cache.Persistent.Enabled {
		store, err := cache.OpenStore(cfg.Cache.Persistent.Path)
		if err != nil {
			return nil, err
		}
		g.store = store
	}

	return g, nil
}

// Start launches the background sampler, controller, and metrics
// endpoint, and restores the persisted cache when configured.
func (g *Guardian) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&g.started, 0, 1) {
		return sgerrors.NewError(sgerrors.ErrCodeAlreadyStarted, "engine already started")
	}

	if err := g.sampler.Start(ctx); err != nil {
		return err
	}
	if err := g.controller.Start(ctx); err != nil {
		g.sampler.Stop()
		return err
	}
	if err := g.collector.Start(ctx); err != nil {
		g.controller.Stop()
		g.sampler.Stop()
		return err
	}

	if g.store != nil {
		if err := g.cache.LoadSnapshot(ctx, g.store); err != nil {
			// A broken persisted cache only costs re-analysis.
			g.logger.Warn("failed to restore persisted cache", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	g.logger.Info("engine started", map[string]interface{}{
		"analyzers": g.config.Analysis.EnabledAnalyzers,
		"strategy":  string(g.cache.StrategyKind()),
		"workers":   g.controller.Workers(),
	})
	return nil
}

// Stop shuts the background loops down and persists the cache when
// configured.
func (g *Guardian) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&g.started, 1, 0) {
		return nil
	}

	g.controller.Stop()
	g.sampler.Stop()

	var firstErr error
	if err := g.collector.Stop(ctx); err != nil {
		firstErr = err
	}

	if g.store != nil {
		if err := g.cache.SaveSnapshot(ctx, g.store); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := g.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// AnalyzePaths discovers files under roots and analyzes them.
func (g *Guardian) AnalyzePaths(ctx context.Context, roots []string) (*types.AnalysisResults, error) {
	files, err := DiscoverFiles(roots, g.config.Analysis)
	if err != nil {
		return nil, err
	}

	g.logger.Info("discovered files", map[string]interface{}{
		"roots": roots,
		"files": len(files),
	})
	return g.AnalyzeFiles(ctx, files)
}

// AnalyzeFiles runs the full pipeline over the given files. Per-file
// failures are collected in the result; only a discovery or context
// error fails the whole run.
func (g *Guardian) AnalyzeFiles(ctx context.Context, files []string) (*types.AnalysisResults, error) {
	start := time.Now()

	var mu sync.Mutex
	results := &types.AnalysisResults{}

	batch := g.processor.Process(ctx, files, func(ctx context.Context, f fileproc.File) error {
		findings, hit, analyzerErrs := g.analyzeOne(ctx, f)

		mu.Lock()
		defer mu.Unlock()
		results.Findings = append(results.Findings, findings...)
		if hit {
			results.Summary.CacheHits++
		}
		for _, aerr := range analyzerErrs {
			results.Errors = append(results.Errors, types.FileError{
				Path:  f.Path,
				Stage: "analyze",
				Err:   aerr.Error(),
			})
		}
		return nil
	})

	mu.Lock()
	defer mu.Unlock()

	for _, failure := range batch.Failures {
		g.cache.NoteFileError()
		g.collector.RecordCacheResult("miss_file_error")
		g.collector.RecordError("engine")
		results.Errors = append(results.Errors, types.FileError{
			Path:  failure.Path,
			Stage: "read",
			Err:   failure.Err.Error(),
		})
	}

	results.Summary.FilesScanned = batch.Processed
	results.Summary.FilesFailed = len(batch.Failures)
	results.Summary.TotalFindings = len(results.Findings)
	results.Summary.Duration = time.Since(start)

	sortFindings(results.Findings)
	g.publishGauges()

	g.logger.Info("analysis complete", map[string]interface{}{
		"files":    results.Summary.FilesScanned,
		"failed":   results.Summary.FilesFailed,
		"findings": results.Summary.TotalFindings,
		"hits":     results.Summary.CacheHits,
		"elapsed":  results.Summary.Duration.String(),
	})
	return results, nil
}

// analyzeOne serves one file from cache or runs the analyzers on it.
// Analyzer failures come back as errors alongside the findings the
// remaining analyzers produced.
func (g *Guardian) analyzeOne(ctx context.Context, f fileproc.File) ([]types.Finding, bool, []error) {
	if utils.IsProbablyBinary(f.Content) {
		return nil, false, nil
	}

	meta := cache.FileMetadata{
		ModTime:     f.Info.ModTime(),
		Size:        f.Info.Size(),
		ContentHash: cache.HashContent(f.Content),
	}

	if findings, cause, hit := g.cache.Get(f.Path, meta); hit {
		g.collector.RecordCacheResult("hit")
		g.collector.RecordFileAnalyzed("cached", 0)
		return findings, true, nil
	} else {
		g.collector.RecordCacheResult(missLabel(cause))
	}

	analysisStart := time.Now()
	findings, analyzerErrs := g.runAnalyzers(ctx, f.Path, f.Content)
	elapsed := time.Since(analysisStart)

	if len(analyzerErrs) == 0 {
		g.cache.Put(f.Path, meta, findings, elapsed)
		g.collector.RecordFileAnalyzed("analyzed", elapsed)
	} else {
		// A degraded set is never cached, so the next run retries
		// every analyzer.
		for range analyzerErrs {
			g.collector.RecordError("analyzer")
		}
		g.collector.RecordFileAnalyzed("degraded", elapsed)
	}
	g.collector.RecordFindings(findings)

	return findings, false, analyzerErrs
}

// runAnalyzers executes every enabled analyzer against the content. A
// failed analyzer contributes no findings; the others' results are
// kept.
func (g *Guardian) runAnalyzers(ctx context.Context, path string, content []byte) ([]types.Finding, []error) {
	var findings []types.Finding
	var errs []error
	for _, analyzer := range g.analyzers {
		out, err := analyzer.Analyze(ctx, path, content)
		if err != nil {
			errs = append(errs, sgerrors.Wrap(err, sgerrors.ErrCodeAnalyzerFailed,
				fmt.Sprintf("analyzer %s failed on %s", analyzer.Name(), path)))
			continue
		}
		findings = append(findings, out...)
	}
	return findings, errs
}

// Cache exposes the result cache for stats and maintenance commands.
func (g *Guardian) Cache() *cache.UnifiedCache { return g.cache }

// Controller exposes the parallelism controller.
func (g *Guardian) Controller() *sysload.Controller { return g.controller }

// Sampler exposes the load sampler.
func (g *Guardian) Sampler() *sysload.Sampler { return g.sampler }

// Pools exposes the memory pool manager.
func (g *Guardian) Pools() *pool.Manager { return g.pools }

// Registry exposes the analyzer registry for inspection. The engine's
// analyzer set is resolved from configuration when the Guardian is
// built; registrations made afterwards do not affect it.
func (g *Guardian) Registry() *Registry { return g.registry }

// publishGauges refreshes the slow-moving metrics after a batch.
func (g *Guardian) publishGauges() {
	g.collector.UpdateCacheEntries(g.cache.Len())
	g.collector.UpdateWorkerBudget(g.controller.Workers())
	g.collector.UpdateLoadScore(g.sampler.Average())

	stats := g.pools.Stats()
	g.collector.UpdatePoolReuse("findings", stats.Findings.ReuseRate())
	g.collector.UpdatePoolReuse("strings", stats.Strings.ReuseRate())
}

// missLabel maps a miss cause to its metrics label.
func missLabel(cause cache.MissCause) string {
	switch cause {
	case cache.MissConfigChanged:
		return "miss_config"
	case cache.MissFileChanged:
		return "miss_file_changed"
	case cache.MissFileError:
		return "miss_file_error"
	default:
		return "miss"
	}
}

// sortFindings orders findings by file, then line, then severity rank
// so output is deterministic regardless of scheduling.
func sortFindings(findings []types.Finding) {
	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Severity.Rank() < b.Severity.Rank()
	})
}
