package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/types"
)

func (s *SQLiteStorage) CreateDocument(ctx context.Context, d *types.Document) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (file_hash, path, lifecycle) VALUES (?, ?, ?)`,
		d.FileHash, d.Path, string(d.Lifecycle),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrDuplicateContent
		}
		return 0, fmt.Errorf("insert document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read document id: %w", err)
	}
	d.ID = id
	return id, nil
}

// AgeDocuments advances document lifecycle states by last-touch age: active
// rows go dormant after dormantDays without an update, dormant rows archive
// after archiveDays. Purging stays a manual operation.
func (s *SQLiteStorage) AgeDocuments(ctx context.Context, dormantDays, archiveDays int) (int, error) {
	total := 0
	transitions := []struct {
		from, to string
		days     int
	}{
		{string(types.DocumentActive), string(types.DocumentDormant), dormantDays},
		{string(types.DocumentDormant), string(types.DocumentArchived), archiveDays},
	}
	for _, tr := range transitions {
		if tr.days <= 0 {
			continue
		}
		res, err := s.db.ExecContext(ctx, `
			UPDATE documents SET lifecycle = ?
			WHERE lifecycle = ? AND updated_at < datetime('now', ?)`,
			tr.to, tr.from, fmt.Sprintf("-%d days", tr.days),
		)
		if err != nil {
			return total, fmt.Errorf("age documents %s -> %s: %w", tr.from, tr.to, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

func (s *SQLiteStorage) GetDocumentByHash(ctx context.Context, hash string) (*types.Document, error) {
	var d types.Document
	var lifecycle string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file_hash, path, lifecycle, created_at, updated_at FROM documents WHERE file_hash = ?`, hash).
		Scan(&d.ID, &d.FileHash, &d.Path, &lifecycle, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document by hash: %w", err)
	}
	d.Lifecycle = types.DocumentLifecycle(lifecycle)
	return &d, nil
}
