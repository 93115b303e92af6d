package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/pool"
	"github.com/scanguard/scanguard/pkg/types"
	"github.com/scanguard/scanguard/pkg/utils"
)

func testLogger() *utils.StructuredLogger {
	cfg := utils.DefaultStructuredLoggerConfig()
	cfg.Level = utils.ERROR
	return utils.NewStructuredLogger(cfg)
}

func testCache(t *testing.T, strategy string, maxEntries int) *UnifiedCache {
	t.Helper()
	cfg := config.CacheConfig{
		Strategy:    strategy,
		MaxEntries:  maxEntries,
		MaxAgeHours: 24,
	}
	mgr := pool.NewManager(pool.DefaultManagerConfig())
	c, err := New(cfg, "fp-v1", mgr, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func testMeta(hash string) FileMetadata {
	return FileMetadata{
		ModTime:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Size:        512,
		ContentHash: hash,
	}
}

func testFindings(n int) []types.Finding {
	out := make([]types.Finding, n)
	for i := range out {
		out[i] = types.Finding{
			ID:       fmt.Sprintf("f-%d", i),
			Analyzer: "security",
			Rule:     "hardcoded_secret",
			Severity: types.SeverityHigh,
			File:     "main.go",
			Line:     10 + i,
			Message:  "possible hardcoded credential",
			Metadata: map[string]string{"entropy": "5.1"},
		}
	}
	return out
}

func TestPutGetRoundTrip(t *testing.T) {
	for _, strategy := range []string{"basic", "pooled"} {
		t.Run(strategy, func(t *testing.T) {
			c := testCache(t, strategy, 100)
			meta := testMeta("abc")

			c.Put("/src/main.go", meta, testFindings(3), 25*time.Millisecond)

			got, cause, hit := c.Get("/src/main.go", meta)
			if !hit {
				t.Fatalf("expected hit, got miss cause %v", cause)
			}
			if len(got) != 3 {
				t.Fatalf("got %d findings, want 3", len(got))
			}
			if got[0].Rule != "hardcoded_secret" || got[0].Metadata["entropy"] != "5.1" {
				t.Errorf("finding content corrupted: %+v", got[0])
			}

			stats := c.Stats()
			if stats.Hits != 1 || stats.TotalRequests != 1 {
				t.Errorf("stats = %+v, want 1 hit of 1 request", stats)
			}
			if stats.HitTimeSavedMs != 25 {
				t.Errorf("time saved = %dms, want 25", stats.HitTimeSavedMs)
			}
		})
	}
}

func TestReturnedFindingsAreCopies(t *testing.T) {
	c := testCache(t, "pooled", 100)
	meta := testMeta("abc")
	c.Put("/src/main.go", meta, testFindings(1), time.Millisecond)

	first, _, hit := c.Get("/src/main.go", meta)
	if !hit {
		t.Fatal("expected hit")
	}
	first[0].Message = "mutated"
	first[0].Metadata["entropy"] = "0"

	second, _, _ := c.Get("/src/main.go", meta)
	if second[0].Message == "mutated" {
		t.Error("cached finding mutated through returned copy")
	}
	if second[0].Metadata["entropy"] != "5.1" {
		t.Error("cached metadata mutated through returned copy")
	}
}

func TestValidationMissCauses(t *testing.T) {
	c := testCache(t, "basic", 100)
	meta := testMeta("abc")
	c.Put("/src/main.go", meta, testFindings(1), time.Millisecond)

	// Changed content invalidates the entry but leaves it in place.
	changed := meta
	changed.ContentHash = "def"
	if _, cause, hit := c.Get("/src/main.go", changed); hit || cause != MissFileChanged {
		t.Errorf("changed file: hit=%v cause=%v, want miss/file-changed", hit, cause)
	}
	if c.Len() != 1 {
		t.Errorf("stale entry was evicted, len = %d", c.Len())
	}

	// mtime alone is enough to invalidate.
	touched := meta
	touched.ModTime = meta.ModTime.Add(time.Second)
	if _, cause, hit := c.Get("/src/main.go", touched); hit || cause != MissFileChanged {
		t.Errorf("touched file: hit=%v cause=%v, want miss/file-changed", hit, cause)
	}

	// Unknown path.
	if _, cause, hit := c.Get("/src/other.go", meta); hit || cause != MissAbsent {
		t.Errorf("unknown path: hit=%v cause=%v, want miss/absent", hit, cause)
	}

	stats := c.Stats()
	if stats.FileChangedMisses != 2 {
		t.Errorf("file changed misses = %d, want 2", stats.FileChangedMisses)
	}
	if stats.Misses != 3 {
		t.Errorf("misses = %d, want 3", stats.Misses)
	}
}

func TestConfigFingerprintMiss(t *testing.T) {
	cfg := config.CacheConfig{Strategy: "basic", MaxEntries: 10, MaxAgeHours: 24}
	mgr := pool.NewManager(pool.DefaultManagerConfig())

	old, err := New(cfg, "fp-v1", mgr, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	meta := testMeta("abc")
	old.Put("/src/main.go", meta, testFindings(1), time.Millisecond)

	// Same entry viewed under a new fingerprint must miss as a config
	// change.
	entry, _ := old.strategy.Get("/src/main.go")
	if cause := entry.Validate("fp-v2", meta); cause != MissConfigChanged {
		t.Errorf("cause = %v, want config changed", cause)
	}
}

func TestCapacityEvictsLowestPriority(t *testing.T) {
	c := testCache(t, "basic", 3)
	meta := testMeta("abc")

	c.Put("/src/a.go", meta, testFindings(1), time.Millisecond)
	c.Put("/src/b.go", meta, testFindings(1), time.Millisecond)
	c.Put("/src/c.go", meta, testFindings(1), time.Millisecond)

	// Heat up a and b so c is the eviction candidate.
	for i := 0; i < 5; i++ {
		c.Get("/src/a.go", meta)
		c.Get("/src/b.go", meta)
	}

	c.Put("/src/d.go", meta, testFindings(1), time.Millisecond)

	if _, _, hit := c.Get("/src/a.go", meta); !hit {
		t.Error("frequently accessed entry a was evicted")
	}
	if _, _, hit := c.Get("/src/b.go", meta); !hit {
		t.Error("frequently accessed entry b was evicted")
	}
	if _, cause, hit := c.Get("/src/c.go", meta); hit || cause != MissAbsent {
		t.Error("cold entry c should have been evicted")
	}
	if c.Stats().EntriesEvicted != 1 {
		t.Errorf("evicted = %d, want 1", c.Stats().EntriesEvicted)
	}
}

func TestPriorityScoreOrdering(t *testing.T) {
	now := time.Now()
	base := Entry{
		Metadata:   FileMetadata{Size: 1024},
		LastAccess: now,
	}

	hot := base
	hot.AccessCount = 100
	cold := base
	cold.AccessCount = 1

	if hot.PriorityScore(now) <= cold.PriorityScore(now) {
		t.Error("higher access count must score higher")
	}

	recent := base
	recent.AccessCount = 10
	stale := recent
	stale.LastAccess = now.Add(-48 * time.Hour)

	if recent.PriorityScore(now) <= stale.PriorityScore(now) {
		t.Error("recently accessed entry must score higher")
	}

	small := base
	small.AccessCount = 10
	large := small
	large.Metadata.Size = 10 << 20

	if small.PriorityScore(now) <= large.PriorityScore(now) {
		t.Error("smaller entry must score higher")
	}
}

func TestCleanupRemovesOnlyIdle(t *testing.T) {
	c := testCache(t, "basic", 100)
	meta := testMeta("abc")

	c.Put("/src/idle.go", meta, testFindings(1), time.Millisecond)
	c.Put("/src/fresh.go", meta, testFindings(1), time.Millisecond)

	// Backdate one entry's last access past the age limit.
	entry, _ := c.strategy.Get("/src/idle.go")
	entry.LastAccess = time.Now().Add(-48 * time.Hour)

	removed := c.Cleanup()
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, _, hit := c.Get("/src/fresh.go", meta); !hit {
		t.Error("fresh entry removed by cleanup")
	}
	if c.Stats().EntriesExpired != 1 {
		t.Errorf("expired = %d, want 1", c.Stats().EntriesExpired)
	}
}

func TestCleanupKeepsHotOldEntries(t *testing.T) {
	c := testCache(t, "basic", 100)
	meta := testMeta("abc")

	c.Put("/src/hot.go", meta, testFindings(1), time.Millisecond)

	// Old by creation, but accessed just now: stays.
	entry, _ := c.strategy.Get("/src/hot.go")
	entry.CreatedAt = time.Now().Add(-48 * time.Hour)
	entry.Touch()

	if removed := c.Cleanup(); removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
	if _, _, hit := c.Get("/src/hot.go", meta); !hit {
		t.Error("recently accessed entry removed by cleanup")
	}
}

func TestSwitchStrategyDropsEntries(t *testing.T) {
	c := testCache(t, "basic", 100)
	meta := testMeta("abc")
	c.Put("/src/main.go", meta, testFindings(1), time.Millisecond)

	if err := c.SwitchStrategy(StrategyPooled); err != nil {
		t.Fatalf("SwitchStrategy: %v", err)
	}
	if c.StrategyKind() != StrategyPooled {
		t.Errorf("kind = %s, want pooled", c.StrategyKind())
	}
	if c.Len() != 0 {
		t.Errorf("len = %d after switch, want 0", c.Len())
	}

	// Switching to the current strategy is a no-op.
	c.Put("/src/main.go", meta, testFindings(1), time.Millisecond)
	if err := c.SwitchStrategy(StrategyPooled); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Error("no-op switch dropped entries")
	}
}

func TestSwitchStrategyUnknownKind(t *testing.T) {
	c := testCache(t, "basic", 10)
	if err := c.SwitchStrategy("exotic"); err == nil {
		t.Error("expected error for unknown strategy")
	}
	if c.StrategyKind() != StrategyBasic {
		t.Error("failed switch changed the active strategy")
	}
}

func TestPooledEvictionReturnsPayloads(t *testing.T) {
	cfg := config.CacheConfig{Strategy: "pooled", MaxEntries: 2, MaxAgeHours: 24}
	mgr := pool.NewManager(pool.DefaultManagerConfig())
	c, err := New(cfg, "fp-v1", mgr, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	meta := testMeta("abc")
	c.Put("/src/a.go", meta, testFindings(2), time.Millisecond)
	c.Put("/src/b.go", meta, testFindings(2), time.Millisecond)
	c.Put("/src/c.go", meta, testFindings(2), time.Millisecond) // evicts one

	stats := mgr.Findings().Stats()
	if stats.Returned == 0 {
		t.Error("eviction did not return findings to the pool")
	}

	// Later puts should reuse the returned objects.
	c.Put("/src/d.go", meta, testFindings(2), time.Millisecond)
	if mgr.Findings().Stats().Reused == 0 {
		t.Error("expected pool reuse after eviction")
	}
}

func TestNoteFileError(t *testing.T) {
	c := testCache(t, "basic", 10)
	c.NoteFileError()

	stats := c.Stats()
	if stats.FileErrorMisses != 1 || stats.Misses != 1 || stats.TotalRequests != 1 {
		t.Errorf("stats = %+v, want one file-error miss", stats)
	}
}

func TestUtilization(t *testing.T) {
	c := testCache(t, "basic", 4)
	meta := testMeta("abc")
	c.Put("/src/a.go", meta, testFindings(1), time.Millisecond)
	c.Put("/src/b.go", meta, testFindings(1), time.Millisecond)

	u := c.Utilization()
	if u.Entries != 2 || u.MaxEntries != 4 {
		t.Errorf("utilization = %+v", u)
	}
	if u.Percent != 50 {
		t.Errorf("percent = %f, want 50", u.Percent)
	}
}

func TestReportMentionsStrategy(t *testing.T) {
	c := testCache(t, "pooled", 10)
	meta := testMeta("abc")
	c.Put("/src/a.go", meta, testFindings(1), time.Millisecond)
	c.Get("/src/a.go", meta)

	report := c.Report()
	for _, want := range []string{"pooled", "hit rate", "Pool reuse rate"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestSnapshotFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	content := []byte("package main\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	meta, got, err := SnapshotFile(path)
	if err != nil {
		t.Fatalf("SnapshotFile: %v", err)
	}
	if string(got) != string(content) {
		t.Error("returned content differs from file")
	}
	if meta.Size != int64(len(content)) {
		t.Errorf("size = %d, want %d", meta.Size, len(content))
	}
	if meta.ContentHash != HashContent(content) {
		t.Error("hash differs from HashContent")
	}

	if _, _, err := SnapshotFile(filepath.Join(dir, "missing.go")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPersistentStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer func() { _ = store.Close() }()

	c := testCache(t, "basic", 100)
	meta := testMeta("abc")
	c.Put("/src/a.go", meta, testFindings(2), 40*time.Millisecond)
	c.Put("/src/b.go", meta, testFindings(1), 15*time.Millisecond)

	ctx := context.Background()
	if err := c.SaveSnapshot(ctx, store); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	restored := testCache(t, "basic", 100)
	if err := restored.LoadSnapshot(ctx, store); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if restored.Len() != 2 {
		t.Fatalf("restored %d entries, want 2", restored.Len())
	}

	got, _, hit := restored.Get("/src/a.go", meta)
	if !hit {
		t.Fatal("expected hit after restore")
	}
	if len(got) != 2 {
		t.Errorf("got %d findings, want 2", len(got))
	}
}

func TestLoadSnapshotSkipsOtherFingerprints(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	mgr := pool.NewManager(pool.DefaultManagerConfig())
	cfg := config.CacheConfig{Strategy: "basic", MaxEntries: 10, MaxAgeHours: 24}

	writer, err := New(cfg, "fp-old", mgr, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	writer.Put("/src/a.go", testMeta("abc"), testFindings(1), time.Millisecond)

	ctx := context.Background()
	if err := writer.SaveSnapshot(ctx, store); err != nil {
		t.Fatal(err)
	}

	reader, err := New(cfg, "fp-new", mgr, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := reader.LoadSnapshot(ctx, store); err != nil {
		t.Fatal(err)
	}
	if reader.Len() != 0 {
		t.Errorf("restored %d entries under changed fingerprint, want 0", reader.Len())
	}
}

func TestPersistentStorePrune(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	// Idle decides pruning: recently created but long unaccessed goes.
	old := &Entry{
		FilePath:   "/src/old.go",
		ConfigHash: "fp",
		Metadata:   testMeta("abc"),
		CreatedAt:  time.Now(),
		LastAccess: time.Now().Add(-72 * time.Hour),
	}
	fresh := &Entry{
		FilePath:   "/src/new.go",
		ConfigHash: "fp",
		Metadata:   testMeta("def"),
		CreatedAt:  time.Now(),
		LastAccess: time.Now(),
	}
	if err := store.Save(ctx, []*Entry{old, fresh}); err != nil {
		t.Fatal(err)
	}

	pruned, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	remaining, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].FilePath != "/src/new.go" {
		t.Errorf("unexpected remaining entries: %+v", remaining)
	}
}
