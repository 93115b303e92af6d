package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/pkg/types"
	"github.com/scanguard/scanguard/pkg/utils"
)

func testLogger() *utils.StructuredLogger {
	cfg := utils.DefaultStructuredLoggerConfig()
	cfg.Level = utils.ERROR
	return utils.NewStructuredLogger(cfg)
}

func testEngine(t *testing.T, mutate func(*config.Configuration)) *Guardian {
	t.Helper()

	cfg := config.NewDefault()
	cfg.Parallelism.InitialWorkers = 4
	if mutate != nil {
		mutate(cfg)
	}

	g, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const insecureSource = `package demo

var password = "hunter22"

func fetch() {
	resp, _ := http.Get("http://example.com")
	_ = resp
}
`

func TestAnalyzeFilesProducesFindings(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "demo.go", insecureSource)

	g := testEngine(t, nil)
	results, err := g.AnalyzeFiles(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("AnalyzeFiles: %v", err)
	}

	if results.Summary.FilesScanned != 1 {
		t.Errorf("scanned = %d, want 1", results.Summary.FilesScanned)
	}
	if results.Summary.TotalFindings == 0 {
		t.Fatal("no findings for insecure source")
	}

	rules := map[string]bool{}
	for _, f := range results.Findings {
		rules[f.Rule] = true
	}
	if !rules["hardcoded_secret"] || !rules["insecure_url"] {
		t.Errorf("missing expected rules, got %v", rules)
	}
}

func TestSecondRunHitsCache(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "demo.go", insecureSource)

	g := testEngine(t, nil)
	ctx := context.Background()

	first, err := g.AnalyzeFiles(ctx, []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if first.Summary.CacheHits != 0 {
		t.Errorf("first run hits = %d, want 0", first.Summary.CacheHits)
	}

	second, err := g.AnalyzeFiles(ctx, []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if second.Summary.CacheHits != 1 {
		t.Errorf("second run hits = %d, want 1", second.Summary.CacheHits)
	}
	if len(second.Findings) != len(first.Findings) {
		t.Errorf("cached run returned %d findings, first returned %d",
			len(second.Findings), len(first.Findings))
	}

	stats := g.Cache().Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("cache stats = %+v, want 1 hit 1 miss", stats)
	}
}

func TestModifiedFileInvalidatesCache(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "demo.go", insecureSource)

	g := testEngine(t, nil)
	ctx := context.Background()

	if _, err := g.AnalyzeFiles(ctx, []string{path}); err != nil {
		t.Fatal(err)
	}

	// Rewrite with different content; mtime may or may not tick, the
	// content hash catches it either way.
	writeSource(t, dir, "demo.go", "package demo\n\nvar clean = true\n")

	second, err := g.AnalyzeFiles(ctx, []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if second.Summary.CacheHits != 0 {
		t.Errorf("hits after modification = %d, want 0", second.Summary.CacheHits)
	}
	if len(second.Findings) != 0 {
		t.Errorf("stale findings served after modification: %+v", second.Findings)
	}

	stats := g.Cache().Stats()
	if stats.FileChangedMisses != 1 {
		t.Errorf("file changed misses = %d, want 1", stats.FileChangedMisses)
	}
}

func TestBinaryFilesSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	if err := os.WriteFile(path, []byte{0x7f, 0x45, 0x4c, 0x46, 0x00, 0x01, 0x02}, 0o644); err != nil {
		t.Fatal(err)
	}

	g := testEngine(t, nil)
	results, err := g.AnalyzeFiles(context.Background(), []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if len(results.Findings) != 0 {
		t.Errorf("binary file produced findings: %+v", results.Findings)
	}
}

func TestMissingFileRecordedNotFatal(t *testing.T) {
	dir := t.TempDir()
	good := writeSource(t, dir, "good.go", insecureSource)
	missing := filepath.Join(dir, "missing.go")

	g := testEngine(t, nil)
	results, err := g.AnalyzeFiles(context.Background(), []string{good, missing})
	if err != nil {
		t.Fatal(err)
	}

	if results.Summary.FilesScanned != 1 || results.Summary.FilesFailed != 1 {
		t.Errorf("summary = %+v", results.Summary)
	}
	if len(results.Errors) != 1 || results.Errors[0].Path != missing {
		t.Errorf("errors = %+v", results.Errors)
	}

	if g.Cache().Stats().FileErrorMisses != 1 {
		t.Errorf("file error misses = %d, want 1", g.Cache().Stats().FileErrorMisses)
	}
}

func TestFindingsDeterministicallyOrdered(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	paths = append(paths, writeSource(t, dir, "b.go", insecureSource))
	paths = append(paths, writeSource(t, dir, "a.go", insecureSource))

	g := testEngine(t, nil)
	results, err := g.AnalyzeFiles(context.Background(), []string{paths[0], paths[1]})
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i < len(results.Findings); i++ {
		prev, cur := results.Findings[i-1], results.Findings[i]
		if prev.File > cur.File {
			t.Fatalf("findings not ordered by file: %s after %s", cur.File, prev.File)
		}
		if prev.File == cur.File && prev.Line > cur.Line {
			t.Fatalf("findings not ordered by line within %s", cur.File)
		}
	}
}

func TestAnalyzePathsDiscovers(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "one.go", insecureSource)
	writeSource(t, dir, "two.go", "package demo\n")

	// Files under skip directories never reach the analyzers.
	gitDir := filepath.Join(dir, ".git")
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeSource(t, gitDir, "config.go", insecureSource)

	g := testEngine(t, nil)
	results, err := g.AnalyzePaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatal(err)
	}
	if results.Summary.FilesScanned != 2 {
		t.Errorf("scanned = %d, want 2", results.Summary.FilesScanned)
	}
}

func TestEngineStartStop(t *testing.T) {
	g := testEngine(t, func(cfg *config.Configuration) {
		cfg.Parallelism.SampleInterval = 10 * time.Millisecond
	})

	ctx := context.Background()
	if err := g.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := g.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	if err := g.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := g.Stop(ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestEnginePersistsCacheAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "demo.go", insecureSource)
	dbPath := filepath.Join(dir, "state", "cache.db")

	mutate := func(cfg *config.Configuration) {
		cfg.Cache.Persistent.Enabled = true
		cfg.Cache.Persistent.Path = dbPath
	}

	ctx := context.Background()

	first := testEngine(t, mutate)
	if err := first.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := first.AnalyzeFiles(ctx, []string{path}); err != nil {
		t.Fatal(err)
	}
	if err := first.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	second := testEngine(t, mutate)
	if err := second.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = second.Stop(ctx) }()

	results, err := second.AnalyzeFiles(ctx, []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if results.Summary.CacheHits != 1 {
		t.Errorf("hits after restart = %d, want 1", results.Summary.CacheHits)
	}
}

type brokenAnalyzer struct{}

func (brokenAnalyzer) Name() string { return "broken" }

func (brokenAnalyzer) Analyze(ctx context.Context, path string, content []byte) ([]types.Finding, error) {
	return nil, errors.New("rule pack failed to load")
}

func TestAnalyzerFailureKeepsOtherFindings(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "demo.go", insecureSource)

	g := testEngine(t, nil)
	g.analyzers = append(g.analyzers, brokenAnalyzer{})
	ctx := context.Background()

	results, err := g.AnalyzeFiles(ctx, []string{path})
	if err != nil {
		t.Fatalf("AnalyzeFiles: %v", err)
	}

	if len(results.Findings) == 0 {
		t.Fatal("working analyzers' findings were discarded")
	}
	rules := map[string]bool{}
	for _, f := range results.Findings {
		rules[f.Rule] = true
	}
	if !rules["hardcoded_secret"] {
		t.Errorf("security findings missing, got %v", rules)
	}

	if len(results.Errors) != 1 {
		t.Fatalf("errors = %+v, want one analyzer error", results.Errors)
	}
	fe := results.Errors[0]
	if fe.Stage != "analyze" || fe.Path != path {
		t.Errorf("error = %+v, want stage analyze for %s", fe, path)
	}
	if !strings.Contains(fe.Err, "broken") {
		t.Errorf("error %q does not name the failed analyzer", fe.Err)
	}

	// The file still counts as scanned.
	if results.Summary.FilesScanned != 1 || results.Summary.FilesFailed != 0 {
		t.Errorf("summary = %+v", results.Summary)
	}

	// A degraded set is not cached: the next run re-runs the analyzers.
	second, err := g.AnalyzeFiles(ctx, []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if second.Summary.CacheHits != 0 {
		t.Errorf("degraded result was served from cache")
	}
	if len(second.Errors) != 1 {
		t.Errorf("second run errors = %+v, want the analyzer failure again", second.Errors)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Analysis.EnabledAnalyzers = []string{"psychic"}
	if _, err := New(cfg, testLogger()); err == nil {
		t.Error("expected error for unknown analyzer")
	}

	cfg = config.NewDefault()
	cfg.Cache.Strategy = "quantum"
	if _, err := New(cfg, testLogger()); err == nil {
		t.Error("expected error for unknown cache strategy")
	}
}

func TestPooledStrategyEndToEnd(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 4; i++ {
		paths = append(paths, writeSource(t, dir, string(rune('a'+i))+".go", insecureSource))
	}

	g := testEngine(t, func(cfg *config.Configuration) {
		cfg.Cache.Strategy = "pooled"
		cfg.Cache.EnablePools = true
	})

	ctx := context.Background()
	if _, err := g.AnalyzeFiles(ctx, paths); err != nil {
		t.Fatal(err)
	}

	second, err := g.AnalyzeFiles(ctx, paths)
	if err != nil {
		t.Fatal(err)
	}
	if second.Summary.CacheHits != len(paths) {
		t.Errorf("hits = %d, want %d", second.Summary.CacheHits, len(paths))
	}
}
