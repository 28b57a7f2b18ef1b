package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/claudia-memory/claudia/internal/storage"
)

// SQLiteStorage is the embedded-database backend for storage.Store.
//
// Connections are managed entirely by database/sql's pool; writers rely on
// SQLite's own file locking plus BEGIN IMMEDIATE to serialize concurrent
// transactions. A process-wide mutex additionally guards schema
// initialization and migrations so two goroutines opening the same database
// at once cannot race on DDL.
type SQLiteStorage struct {
	db          *sql.DB
	path        string
	mu          sync.Mutex
	vecDims     int
	vecUsable   bool
}

var initMu sync.Mutex

// Open creates the database file if needed, applies the schema, runs
// migrations, and verifies (or records) the configured embedding dimension.
//
// Failure semantics: if the vector tables cannot be created with the
// requested dimension (for example a dimension mismatch against an existing
// database), Open still returns a usable store with vecUsable false, and
// relational and FTS operations proceed normally. vecUsable gates only the
// reflection-embedding cleanup in AggregateReflections; UpsertVector and
// VectorKNN do not consult it, and the mismatch itself is reported by
// CheckEmbeddingDimension.
func Open(ctx context.Context, cfg storage.Config) (*SQLiteStorage, error) {
	initMu.Lock()
	defer initMu.Unlock()

	if cfg.Path != "claudia.db" && cfg.Path != "" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", "file:"+cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer file; database/sql serializes through one conn
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteStorage{db: db, path: cfg.Path, vecDims: cfg.EmbeddingDimensions}

	if err := s.initVectorTables(ctx, cfg.EmbeddingModel, cfg.EmbeddingDimensions); err != nil {
		// Degrade gracefully to scalar-only operation.
		s.vecUsable = false
	} else {
		s.vecUsable = cfg.EmbeddingDimensions > 0
	}

	return s, nil
}

// vectorTables is one BLOB-backed side table per embedded entity class.
// ncruces/go-sqlite3 carries no bundled vec0 virtual table, so each table
// is a plain (owner_id PRIMARY KEY, embedding BLOB) pair and VectorKNN
// performs an in-process cosine scan (see vectors.go) rather than an index
// lookup.
var vectorTables = []string{
	"entity_embeddings",
	"memory_embeddings",
	"message_embeddings",
	"episode_embeddings",
	"reflection_embeddings",
}

func (s *SQLiteStorage) initVectorTables(ctx context.Context, model string, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("embedding dimension not configured")
	}

	storedModel, hasModel, err := s.getMetaLocked(ctx, "embedding_model")
	if err != nil {
		return err
	}
	storedDims, hasDims, err := s.getMetaLocked(ctx, "embedding_dimensions")
	if err != nil {
		return err
	}

	if hasModel && hasDims {
		var sd int
		_, _ = fmt.Sscanf(storedDims, "%d", &sd)
		if sd != dims || storedModel != model {
			return fmt.Errorf("%w: configured (%s, %d) != stored (%s, %s)",
				storage.ErrDimensionMismatch, model, dims, storedModel, storedDims)
		}
	}

	for _, t := range vectorTables {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			owner_id INTEGER PRIMARY KEY,
			embedding BLOB NOT NULL
		)`, t)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create vector table %s: %w", t, err)
		}
	}

	if !hasModel || !hasDims {
		if err := s.setMetaLocked(ctx, "embedding_model", model); err != nil {
			return err
		}
		if err := s.setMetaLocked(ctx, "embedding_dimensions", fmt.Sprintf("%d", dims)); err != nil {
			return err
		}
	}
	return nil
}

// RunInTransaction executes fn within a single BEGIN IMMEDIATE transaction.
// On nil return the transaction commits; on error (or panic) it rolls back.
func (s *SQLiteStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	tx := &txScope{conn: conn, store: s}
	if err := fn(tx); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Backup performs an online backup via VACUUM INTO to a sibling file named
// <stem>-<label>-<yyyymmdd-HHMMSS>.db, then prunes older backups sharing the
// same label beyond keep.
func (s *SQLiteStorage) Backup(ctx context.Context, label string, keep int) (string, error) {
	dir := filepath.Dir(s.path)
	stem := filepath_stemNoExt(s.path)
	stamp := time.Now().UTC().Format("20060102-150405")
	dest := filepath.Join(dir, fmt.Sprintf("%s-%s-%s.db", stem, label, stamp))

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return "", fmt.Errorf("vacuum into backup: %w", err)
	}

	if keep > 0 {
		if err := pruneBackups(dir, stem, label, keep); err != nil {
			return dest, fmt.Errorf("backup created but prune failed: %w", err)
		}
	}
	return dest, nil
}

func filepath_stemNoExt(p string) string {
	base := filepath.Base(p)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

func pruneBackups(dir, stem, label string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read backup directory: %w", err)
	}
	prefix := fmt.Sprintf("%s-%s-", stem, label)
	var matches []string
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > len(prefix) && e.Name()[:len(prefix)] == prefix {
			matches = append(matches, e.Name())
		}
	}
	if len(matches) <= keep {
		return nil
	}
	// Filenames embed a sortable timestamp, so lexicographic order is chronological.
	for i := 0; i < len(matches)-keep; i++ {
		_ = os.Remove(filepath.Join(dir, matches[i]))
	}
	return nil
}

func (s *SQLiteStorage) Path() string           { return s.path }
func (s *SQLiteStorage) UnderlyingDB() *sql.DB   { return s.db }
func (s *SQLiteStorage) Close() error            { return s.db.Close() }
