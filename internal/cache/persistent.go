package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	sgerrors "github.com/scanguard/scanguard/pkg/errors"
	"github.com/scanguard/scanguard/pkg/types"
)

const schemaVersion = 1

const createTableSQL = `
CREATE TABLE IF NOT EXISTS cache_entries (
	file_path    TEXT PRIMARY KEY,
	config_hash  TEXT NOT NULL,
	mod_time_ns  INTEGER NOT NULL,
	size         INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	findings     BLOB NOT NULL,
	created_at   INTEGER NOT NULL,
	last_access  INTEGER NOT NULL,
	access_count INTEGER NOT NULL,
	analysis_ms  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// PersistentStore saves cache entries to a local SQLite database so
// results survive process restarts.
type PersistentStore struct {
	db   *sql.DB
	path string
}

// OpenStore opens (creating if needed) the SQLite database at path.
func OpenStore(path string) (*PersistentStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.ErrCodeCachePersist,
			fmt.Sprintf("failed to create cache directory %s", dir))
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.ErrCodeCachePersist,
			fmt.Sprintf("failed to open cache database %s", path))
	}

	// A single writer keeps SQLite happy under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return nil, sgerrors.Wrap(err, sgerrors.ErrCodeCachePersist,
			"failed to create cache schema")
	}

	store := &PersistentStore{db: db, path: path}
	if err := store.checkSchemaVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// checkSchemaVersion drops incompatible data rather than attempting a
// migration; the cache is always reproducible from source files.
func (s *PersistentStore) checkSchemaVersion() error {
	var stored string
	err := s.db.QueryRow(`SELECT value FROM cache_meta WHERE key = 'schema_version'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec(`INSERT INTO cache_meta (key, value) VALUES ('schema_version', ?)`,
			fmt.Sprintf("%d", schemaVersion))
		return err
	case err != nil:
		return sgerrors.Wrap(err, sgerrors.ErrCodeCacheRestore, "failed to read schema version")
	}

	if stored != fmt.Sprintf("%d", schemaVersion) {
		if _, err := s.db.Exec(`DELETE FROM cache_entries`); err != nil {
			return sgerrors.Wrap(err, sgerrors.ErrCodeCachePersist, "failed to reset cache entries")
		}
		_, err = s.db.Exec(`UPDATE cache_meta SET value = ? WHERE key = 'schema_version'`,
			fmt.Sprintf("%d", schemaVersion))
		return err
	}
	return nil
}

// Save writes the given entries, replacing the stored set in one
// transaction.
func (s *PersistentStore) Save(ctx context.Context, entries []*Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sgerrors.Wrap(err, sgerrors.ErrCodeCachePersist, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return sgerrors.Wrap(err, sgerrors.ErrCodeCachePersist, "failed to clear stored entries")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cache_entries
			(file_path, config_hash, mod_time_ns, size, content_hash,
			 findings, created_at, last_access, access_count, analysis_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return sgerrors.Wrap(err, sgerrors.ErrCodeCachePersist, "failed to prepare insert")
	}
	defer func() { _ = stmt.Close() }()

	for _, entry := range entries {
		findings, err := json.Marshal(entry.Findings)
		if err != nil {
			return sgerrors.Wrap(err, sgerrors.ErrCodeCachePersist,
				fmt.Sprintf("failed to encode findings for %s", entry.FilePath))
		}

		_, err = stmt.ExecContext(ctx,
			entry.FilePath,
			entry.ConfigHash,
			entry.Metadata.ModTime.UnixNano(),
			entry.Metadata.Size,
			entry.Metadata.ContentHash,
			findings,
			entry.CreatedAt.UnixNano(),
			entry.LastAccess.UnixNano(),
			entry.AccessCount,
			entry.AnalysisDuration.Milliseconds(),
		)
		if err != nil {
			return sgerrors.Wrap(err, sgerrors.ErrCodeCachePersist,
				fmt.Sprintf("failed to store entry for %s", entry.FilePath))
		}
	}

	if err := tx.Commit(); err != nil {
		return sgerrors.Wrap(err, sgerrors.ErrCodeCachePersist, "failed to commit entries")
	}
	return nil
}

// Load reads all stored entries. Rows that fail to decode are skipped;
// a corrupt row costs one re-analysis, not the whole cache.
func (s *PersistentStore) Load(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, config_hash, mod_time_ns, size, content_hash,
		       findings, created_at, last_access, access_count, analysis_ms
		FROM cache_entries`)
	if err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.ErrCodeCacheRestore, "failed to query entries")
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		var (
			entry      Entry
			modTimeNS  int64
			createdNS  int64
			accessNS   int64
			analysisMS int64
			findings   []byte
		)

		err := rows.Scan(
			&entry.FilePath,
			&entry.ConfigHash,
			&modTimeNS,
			&entry.Metadata.Size,
			&entry.Metadata.ContentHash,
			&findings,
			&createdNS,
			&accessNS,
			&entry.AccessCount,
			&analysisMS,
		)
		if err != nil {
			continue
		}

		var decoded []*types.Finding
		if err := json.Unmarshal(findings, &decoded); err != nil {
			continue
		}

		entry.Metadata.ModTime = time.Unix(0, modTimeNS)
		entry.CreatedAt = time.Unix(0, createdNS)
		entry.LastAccess = time.Unix(0, accessNS)
		entry.AnalysisDuration = time.Duration(analysisMS) * time.Millisecond
		entry.Findings = decoded

		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.ErrCodeCacheRestore, "failed to read entries")
	}

	return entries, nil
}

// Prune deletes stored entries idle for longer than maxAge, matching
// the in-memory cleanup semantics.
func (s *PersistentStore) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE last_access < ?`, cutoff)
	if err != nil {
		return 0, sgerrors.Wrap(err, sgerrors.ErrCodeCachePersist, "failed to prune entries")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the underlying database.
func (s *PersistentStore) Close() error {
	return s.db.Close()
}

// SaveSnapshot persists the unified cache's current contents.
func (c *UnifiedCache) SaveSnapshot(ctx context.Context, store *PersistentStore) error {
	entries := c.snapshotEntries()
	if err := store.Save(ctx, entries); err != nil {
		return err
	}
	c.logger.Info("cache persisted", map[string]interface{}{
		"entries": len(entries),
		"path":    store.path,
	})
	return nil
}

// LoadSnapshot restores persisted entries into the unified cache,
// skipping anything recorded under a different config fingerprint.
func (c *UnifiedCache) LoadSnapshot(ctx context.Context, store *PersistentStore) error {
	entries, err := store.Load(ctx)
	if err != nil {
		return err
	}

	restored := c.restoreEntries(entries)
	c.logger.Info("cache restored", map[string]interface{}{
		"stored":   len(entries),
		"restored": restored,
	})
	return nil
}
