package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/claudia-memory/claudia/internal/storage"
)

// FTSSearch ranks memories against the memories_fts porter-stemmed index
// using SQLite's built-in bm25() weighting, lower is more relevant. The
// query is quoted into a phrase so free-form user text can never be
// misparsed as FTS5 operator syntax.
func (s *SQLiteStorage) FTSSearch(ctx context.Context, query string, limit int) ([]storage.FTSHit, error) {
	phrase := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
	rows, err := s.db.QueryContext(ctx, `
		SELECT memories.id, bm25(memories_fts) AS rank
		FROM memories_fts
		JOIN memories ON memories.id = memories_fts.rowid
		WHERE memories_fts MATCH ? AND memories.invalidated_at IS NULL
		ORDER BY rank LIMIT ?`,
		phrase, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var hits []storage.FTSHit
	for rows.Next() {
		var h storage.FTSHit
		if err := rows.Scan(&h.MemoryID, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan fts hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// KeywordSearch is the always-on substring fallback: a plain LIKE scan that
// works even when the FTS5 module is unavailable or the query doesn't
// tokenize usefully.
func (s *SQLiteStorage) KeywordSearch(ctx context.Context, query string, limit int) ([]int64, error) {
	like := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM memories
		WHERE lower(content) LIKE ? AND invalidated_at IS NULL
		ORDER BY importance DESC LIMIT ?`, like, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan keyword hit: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
