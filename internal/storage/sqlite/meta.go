package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// GetMeta reads a single key from the _meta table.
func (s *SQLiteStorage) GetMeta(ctx context.Context, key string) (string, bool, error) {
	return s.getMetaLocked(ctx, key)
}

// SetMeta upserts a single key in the _meta table.
func (s *SQLiteStorage) SetMeta(ctx context.Context, key, value string) error {
	return s.setMetaLocked(ctx, key, value)
}

// CheckEmbeddingDimension reports whether model/dims matches what was recorded
// when the vector tables were first created. A false result with nil error
// means either a mismatch or that no model/dimensions have been recorded.
func (s *SQLiteStorage) CheckEmbeddingDimension(ctx context.Context, model string, dims int) (bool, error) {
	storedModel, hasModel, err := s.getMetaLocked(ctx, "embedding_model")
	if err != nil {
		return false, err
	}
	storedDims, hasDims, err := s.getMetaLocked(ctx, "embedding_dimensions")
	if err != nil {
		return false, err
	}
	if !hasModel || !hasDims {
		return false, nil
	}
	var sd int
	_, _ = fmt.Sscanf(storedDims, "%d", &sd)
	return sd == dims && storedModel == model, nil
}

func (s *SQLiteStorage) getMetaLocked(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStorage) setMetaLocked(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO _meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	return nil
}
