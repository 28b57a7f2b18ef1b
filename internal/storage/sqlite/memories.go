package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/types"
)

func createMemory(ctx context.Context, x execer, m *types.Memory) (int64, error) {
	markers, err := json.Marshal(m.TemporalMarkers)
	if err != nil {
		return 0, fmt.Errorf("marshal temporal markers: %w", err)
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal metadata: %w", err)
	}
	if m.VerificationStatus == "" {
		m.VerificationStatus = types.VerificationPending
	}

	res, err := x.ExecContext(ctx, `
		INSERT INTO memories (
			content, content_hash, type, importance, confidence, origin_type,
			source_channel, verification_status, deadline_at, temporal_markers, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Content, m.ContentHash, m.Type, m.Importance, m.Confidence, string(m.OriginType),
		m.SourceChannel, string(m.VerificationStatus), nullTime(m.DeadlineAt), string(markers), string(meta),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrDuplicateContent
		}
		return 0, fmt.Errorf("insert memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read memory id: %w", err)
	}
	m.ID = id
	return id, nil
}

func (s *SQLiteStorage) CreateMemory(ctx context.Context, m *types.Memory) (int64, error) { return createMemory(ctx, s.db, m) }
func (t *txScope) CreateMemory(ctx context.Context, m *types.Memory) (int64, error)       { return createMemory(ctx, t.conn, m) }

func isUniqueViolation(err error) bool {
	// ncruces/go-sqlite3 wraps the SQLite result code into its error string;
	// matching on substring keeps this free of a direct driver-type import here.
	return err != nil && containsAny(err.Error(), "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

const memoryColumns = `id, content, content_hash, type, importance, confidence, origin_type, source_channel,
	created_at, updated_at, last_accessed_at, access_count, verification_status, verified_at,
	corrected_at, corrected_from, invalidated_at, invalidated_reason, deadline_at, temporal_markers, metadata`

func scanMemory(row interface{ Scan(...any) error }) (*types.Memory, error) {
	var m types.Memory
	var verifiedAt, correctedAt, invalidatedAt, deadlineAt sql.NullTime
	var correctedFrom sql.NullInt64
	var invalidatedReason sql.NullString
	var markers, meta sql.NullString

	if err := row.Scan(
		&m.ID, &m.Content, &m.ContentHash, &m.Type, &m.Importance, &m.Confidence,
		&m.OriginType, &m.SourceChannel, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt, &m.AccessCount,
		&m.VerificationStatus, &verifiedAt, &correctedAt, &correctedFrom,
		&invalidatedAt, &invalidatedReason, &deadlineAt, &markers, &meta,
	); err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		m.VerifiedAt = &verifiedAt.Time
	}
	if correctedAt.Valid {
		m.CorrectedAt = &correctedAt.Time
	}
	if correctedFrom.Valid {
		m.CorrectedFrom = &correctedFrom.Int64
	}
	if invalidatedAt.Valid {
		m.InvalidatedAt = &invalidatedAt.Time
	}
	if deadlineAt.Valid {
		m.DeadlineAt = &deadlineAt.Time
	}
	m.InvalidatedReason = invalidatedReason.String
	if markers.Valid && markers.String != "" {
		_ = json.Unmarshal([]byte(markers.String), &m.TemporalMarkers)
	}
	if meta.Valid && meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &m.Metadata)
	}
	return &m, nil
}

func getMemoryByHash(ctx context.Context, x execer, hash string) (*types.Memory, error) {
	row := x.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE content_hash = ? AND invalidated_at IS NULL`, hash)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory by hash: %w", err)
	}
	return m, nil
}

func (s *SQLiteStorage) GetMemoryByHash(ctx context.Context, hash string) (*types.Memory, error) {
	return getMemoryByHash(ctx, s.db, hash)
}
func (t *txScope) GetMemoryByHash(ctx context.Context, hash string) (*types.Memory, error) {
	return getMemoryByHash(ctx, t.conn, hash)
}

func touchMemoryAccess(ctx context.Context, x execer, id int64) error {
	_, err := x.ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("touch memory access %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStorage) TouchMemoryAccess(ctx context.Context, id int64) error { return touchMemoryAccess(ctx, s.db, id) }
func (t *txScope) TouchMemoryAccess(ctx context.Context, id int64) error       { return touchMemoryAccess(ctx, t.conn, id) }

func linkMemoryEntity(ctx context.Context, x execer, memoryID, entityID int64, relationship string) error {
	if relationship == "" {
		relationship = "about"
	}
	_, err := x.ExecContext(ctx, `
		INSERT OR IGNORE INTO memory_entities (memory_id, entity_id, relationship) VALUES (?, ?, ?)`,
		memoryID, entityID, relationship,
	)
	if err != nil {
		return fmt.Errorf("link memory %d to entity %d: %w", memoryID, entityID, err)
	}
	return nil
}

func (s *SQLiteStorage) LinkMemoryEntity(ctx context.Context, memoryID, entityID int64, relationship string) error {
	return linkMemoryEntity(ctx, s.db, memoryID, entityID, relationship)
}
func (t *txScope) LinkMemoryEntity(ctx context.Context, memoryID, entityID int64, relationship string) error {
	return linkMemoryEntity(ctx, t.conn, memoryID, entityID, relationship)
}

func (s *SQLiteStorage) GetMemory(ctx context.Context, id int64) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %d: %w", id, err)
	}
	return m, nil
}

func (s *SQLiteStorage) SetMemoryImportance(ctx context.Context, id int64, importance float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET importance = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, importance, id)
	if err != nil {
		return fmt.Errorf("set memory importance %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStorage) SetMemoryVerification(ctx context.Context, id int64, status types.VerificationStatus, reasons []string) error {
	b, _ := json.Marshal(reasons)
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET verification_status = ?, verified_at = CURRENT_TIMESTAMP,
			metadata = json_set(COALESCE(metadata, '{}'), '$.verification_reasons', json(?))
		WHERE id = ?`,
		string(status), string(b), id,
	)
	if err != nil {
		return fmt.Errorf("set memory verification %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStorage) InvalidateMemory(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET invalidated_at = CURRENT_TIMESTAMP, invalidated_reason = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("invalidate memory %d: %w", id, err)
	}
	return nil
}

// MergeMemory folds dupID into primaryID: the duplicate is invalidated with a
// back-pointer (corrected_from) and its entity links are copied onto the
// survivor so recall never silently drops context.
func (s *SQLiteStorage) MergeMemory(ctx context.Context, dupID, primaryID int64) error {
	return s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		t := tx.(*txScope)
		if _, err := t.conn.ExecContext(ctx, `
			UPDATE memories SET invalidated_at = CURRENT_TIMESTAMP, invalidated_reason = 'merged',
				corrected_from = ? WHERE id = ?`, primaryID, dupID); err != nil {
			return fmt.Errorf("invalidate merged memory: %w", err)
		}
		if _, err := t.conn.ExecContext(ctx, `
			INSERT OR IGNORE INTO memory_entities (memory_id, entity_id, relationship)
			SELECT ?, entity_id, relationship FROM memory_entities WHERE memory_id = ?`, primaryID, dupID); err != nil {
			return fmt.Errorf("copy entity links: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStorage) PendingMemoriesOlderThan(ctx context.Context, age time.Duration, limit int) ([]*types.Memory, error) {
	cutoff := time.Now().Add(-age)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE verification_status = ? AND created_at <= ? AND invalidated_at IS NULL
		ORDER BY created_at ASC LIMIT ?`,
		string(types.VerificationPending), cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending memories: %w", err)
	}
	return scanMemories(rows)
}

func (s *SQLiteStorage) MemoriesForEntity(ctx context.Context, entityID int64, limit int) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("m", memoryColumns)+` FROM memories m
		JOIN memory_entities me ON me.memory_id = m.id
		WHERE me.entity_id = ? AND m.invalidated_at IS NULL
		ORDER BY m.created_at DESC LIMIT ?`,
		entityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query memories for entity: %w", err)
	}
	return scanMemories(rows)
}

func scanMemories(rows *sql.Rows) ([]*types.Memory, error) {
	defer rows.Close()
	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) MemoriesWithEmbeddingCount(ctx context.Context, minCount int) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner_id, 1 FROM memory_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("count memory embeddings: %w", err)
	}
	defer rows.Close()
	out := map[int64]int{}
	for rows.Next() {
		var id int64
		var one int
		if err := rows.Scan(&id, &one); err != nil {
			return nil, err
		}
		out[id] += one
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) AllMemoriesAboveImportance(ctx context.Context, minImportance float64) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE importance >= ? AND invalidated_at IS NULL ORDER BY importance DESC`, minImportance)
	if err != nil {
		return nil, fmt.Errorf("query memories above importance: %w", err)
	}
	return scanMemories(rows)
}

func (s *SQLiteStorage) UpcomingDeadlines(ctx context.Context, days int) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE type = 'commitment' AND deadline_at IS NOT NULL AND invalidated_at IS NULL
			AND deadline_at <= datetime('now', ? || ' days')
		ORDER BY deadline_at ASC`,
		days,
	)
	if err != nil {
		return nil, fmt.Errorf("query upcoming deadlines: %w", err)
	}
	return scanMemories(rows)
}

func (s *SQLiteStorage) MemoriesSince(ctx context.Context, since time.Time, entityID *int64) ([]*types.Memory, error) {
	if entityID != nil {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+prefixColumns("m", memoryColumns)+` FROM memories m
			JOIN memory_entities me ON me.memory_id = m.id
			WHERE me.entity_id = ? AND m.created_at >= ? AND m.invalidated_at IS NULL
			ORDER BY m.created_at ASC`,
			*entityID, since,
		)
		if err != nil {
			return nil, fmt.Errorf("query memories since for entity: %w", err)
		}
		return scanMemories(rows)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories WHERE created_at >= ? AND invalidated_at IS NULL ORDER BY created_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("query memories since: %w", err)
	}
	return scanMemories(rows)
}

func (s *SQLiteStorage) RecentMemories(ctx context.Context, since time.Time, limit int) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE created_at >= ? AND invalidated_at IS NULL
		ORDER BY created_at DESC LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent memories: %w", err)
	}
	return scanMemories(rows)
}

func (s *SQLiteStorage) TraceMemory(ctx context.Context, id int64) (*types.Memory, []*types.Entity, error) {
	m, err := s.GetMemory(ctx, id)
	if err != nil || m == nil {
		return m, nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("e", entityColumns)+` FROM entities e
		JOIN memory_entities me ON me.entity_id = e.id
		WHERE me.memory_id = ?`, id)
	if err != nil {
		return m, nil, fmt.Errorf("trace memory entities: %w", err)
	}
	defer rows.Close()
	var entities []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return m, nil, fmt.Errorf("scan traced entity: %w", err)
		}
		entities = append(entities, e)
	}
	return m, entities, rows.Err()
}
