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

// DecayImportances applies the daily multiplicative decay to memories,
// entities, and relationship strengths in one pass. Memory and entity rows
// above highCutoff decay at the slower (1+rate)/2 factor; everything else,
// including every relationship strength, at rate. Rows at or
// below floor are left alone, and no row that starts above the floor is
// allowed to cross it.
func (s *SQLiteStorage) DecayImportances(ctx context.Context, rate, highCutoff, floor float64) (int, error) {
	slowRate := (1 + rate) / 2

	total := 0
	updates := []struct {
		query string
		args  []any
	}{
		{`UPDATE memories SET importance = max(?, importance * CASE WHEN importance > ? THEN ? ELSE ? END)
			WHERE importance > ? AND invalidated_at IS NULL`,
			[]any{floor, highCutoff, slowRate, rate, floor}},
		{`UPDATE entities SET importance = max(?, importance * CASE WHEN importance > ? THEN ? ELSE ? END)
			WHERE importance > ? AND deleted_at IS NULL`,
			[]any{floor, highCutoff, slowRate, rate, floor}},
		{`UPDATE relationships SET strength = max(?, strength * ?)
			WHERE strength > ? AND invalid_at IS NULL`,
			[]any{floor, rate, floor}},
	}
	for _, u := range updates {
		res, err := s.db.ExecContext(ctx, u.query, u.args...)
		if err != nil {
			return total, fmt.Errorf("apply decay: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// DecayReflections decays each reflection by its own per-row decay_rate.
func (s *SQLiteStorage) DecayReflections(ctx context.Context, floor float64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reflections SET importance = max(?, importance * decay_rate) WHERE importance > ?`,
		floor, floor,
	)
	if err != nil {
		return 0, fmt.Errorf("decay reflections: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// BoostRecentlyAccessed applies the rehearsal boost: memories read since the
// cutoff get importance * factor, clamped at 1.0.
func (s *SQLiteStorage) BoostRecentlyAccessed(ctx context.Context, since time.Time, factor float64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET importance = min(1.0, importance * ?)
		WHERE last_accessed_at >= ? AND access_count > 0 AND invalidated_at IS NULL`,
		factor, since,
	)
	if err != nil {
		return 0, fmt.Errorf("boost recently accessed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// EntityMemoryCounts returns live-memory counts per entity, filtered to
// entities with at least minCount linked memories.
func (s *SQLiteStorage) EntityMemoryCounts(ctx context.Context, minCount int) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT me.entity_id, COUNT(*) FROM memory_entities me
		JOIN memories m ON m.id = me.memory_id
		WHERE m.invalidated_at IS NULL
		GROUP BY me.entity_id HAVING COUNT(*) >= ?`, minCount)
	if err != nil {
		return nil, fmt.Errorf("count entity memories: %w", err)
	}
	defer rows.Close()

	out := map[int64]int{}
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// ListEntities returns every live entity.
func (s *SQLiteStorage) ListEntities(ctx context.Context) ([]*types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entityColumns+` FROM entities WHERE deleted_at IS NULL ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AvgUserTurnLength reports the mean user-message length in the turn buffer
// since a cutoff, for the communication-style pattern.
func (s *SQLiteStorage) AvgUserTurnLength(ctx context.Context, since time.Time) (float64, int, error) {
	var avg float64
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(length(user_content)), 0), COUNT(*)
		FROM turn_buffer WHERE created_at >= ?`, since).Scan(&avg, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("average turn length: %w", err)
	}
	return avg, n, nil
}

// CoMentionedPersonPairs finds pairs of live person entities that share at
// least minShared live memories, for the co-mention and cluster patterns.
func (s *SQLiteStorage) CoMentionedPersonPairs(ctx context.Context, minShared int) ([]storage.EntityPair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.entity_id, b.entity_id, COUNT(*) AS shared
		FROM memory_entities a
		JOIN memory_entities b ON a.memory_id = b.memory_id AND a.entity_id < b.entity_id
		JOIN entities ea ON ea.id = a.entity_id AND ea.type = 'person' AND ea.deleted_at IS NULL
		JOIN entities eb ON eb.id = b.entity_id AND eb.type = 'person' AND eb.deleted_at IS NULL
		JOIN memories m ON m.id = a.memory_id AND m.invalidated_at IS NULL
		GROUP BY a.entity_id, b.entity_id
		HAVING shared >= ?
		ORDER BY shared DESC`, minShared)
	if err != nil {
		return nil, fmt.Errorf("co-mention pairs: %w", err)
	}
	defer rows.Close()

	var out []storage.EntityPair
	for rows.Next() {
		var p storage.EntityPair
		if err := rows.Scan(&p.AID, &p.BID, &p.Shared); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasCurrentRelationship reports whether any live relationship row ties the
// two entities, in either direction and of any type.
func (s *SQLiteStorage) HasCurrentRelationship(ctx context.Context, aID, bID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM relationships
		WHERE invalid_at IS NULL
			AND ((source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?))`,
		aID, bID, bID, aID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check relationship: %w", err)
	}
	return n > 0, nil
}

// AliasOverlapPairs finds live entity pairs that share a canonical alias (or
// where one's canonical name appears in the other's alias list), the cheap
// half of auto-dedupe candidate detection.
func (s *SQLiteStorage) AliasOverlapPairs(ctx context.Context) ([]storage.EntityPair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.entity_id, b.entity_id, COUNT(*)
		FROM aliases a
		JOIN aliases b ON a.canonical_alias = b.canonical_alias AND a.entity_id < b.entity_id
		JOIN entities ea ON ea.id = a.entity_id AND ea.deleted_at IS NULL
		JOIN entities eb ON eb.id = b.entity_id AND eb.deleted_at IS NULL
		GROUP BY a.entity_id, b.entity_id

		UNION

		SELECT MIN(e.id, a.entity_id), MAX(e.id, a.entity_id), COUNT(*)
		FROM entities e
		JOIN aliases a ON a.canonical_alias = e.canonical_name AND a.entity_id != e.id
		JOIN entities other ON other.id = a.entity_id AND other.deleted_at IS NULL
		WHERE e.deleted_at IS NULL
		GROUP BY e.id, a.entity_id`)
	if err != nil {
		return nil, fmt.Errorf("alias overlap pairs: %w", err)
	}
	defer rows.Close()

	seen := map[[2]int64]bool{}
	var out []storage.EntityPair
	for rows.Next() {
		var p storage.EntityPair
		if err := rows.Scan(&p.AID, &p.BID, &p.Shared); err != nil {
			return nil, err
		}
		key := [2]int64{p.AID, p.BID}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out, rows.Err()
}

// OverdueCommitments returns live commitment memories whose deadline passed
// more than olderThanDays ago.
func (s *SQLiteStorage) OverdueCommitments(ctx context.Context, olderThanDays int) ([]*types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE type = 'commitment' AND invalidated_at IS NULL
			AND deadline_at IS NOT NULL
			AND deadline_at <= datetime('now', ?)
		ORDER BY deadline_at ASC`,
		fmt.Sprintf("-%d days", olderThanDays),
	)
	if err != nil {
		return nil, fmt.Errorf("query overdue commitments: %w", err)
	}
	return scanMemories(rows)
}

// UpdateMemoryContent rewrites a memory's content in place (the LM
// consolidation path), merging the given keys into its metadata. The content
// hash is left untouched so dedupe still keys on the original content.
func (s *SQLiteStorage) UpdateMemoryContent(ctx context.Context, id int64, content string, metadata map[string]any) error {
	b, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata patch: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE memories SET content = ?, updated_at = CURRENT_TIMESTAMP,
			metadata = json_patch(COALESCE(metadata, '{}'), json(?))
		WHERE id = ?`,
		content, string(b), id,
	)
	if err != nil {
		return fmt.Errorf("update memory content %d: %w", id, err)
	}
	return nil
}

// EntitySummary returns the cached consolidation summary for an entity, with
// its refresh time; ok is false when none has been written yet.
func (s *SQLiteStorage) EntitySummary(ctx context.Context, entityID int64) (string, time.Time, bool, error) {
	var summary string
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT summary, updated_at FROM entity_summaries WHERE entity_id = ?`, entityID).
		Scan(&summary, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, fmt.Errorf("read entity summary: %w", err)
	}
	return summary, updatedAt, true, nil
}

func (s *SQLiteStorage) SetEntitySummary(ctx context.Context, entityID int64, summary string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_summaries (entity_id, summary, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(entity_id) DO UPDATE SET summary = excluded.summary, updated_at = CURRENT_TIMESTAMP`,
		entityID, summary,
	)
	if err != nil {
		return fmt.Errorf("write entity summary: %w", err)
	}
	return nil
}

// AggregateReflections folds dupID into primaryID: the primary keeps the
// earliest first_observed_at and latest last_confirmed_at, gains the
// duplicate's aggregation weight and a small importance boost, and slows its
// decay once it has aggregated three or more observations. The duplicate row
// is removed.
func (s *SQLiteStorage) AggregateReflections(ctx context.Context, primaryID, dupID int64) error {
	return s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		t := tx.(*txScope)
		if _, err := t.conn.ExecContext(ctx, `
			UPDATE reflections SET
				importance = min(1.0, importance + 0.05),
				aggregation_count = aggregation_count + (SELECT aggregation_count FROM reflections WHERE id = ?),
				aggregated_from = json_insert(aggregated_from, '$[#]', ?),
				first_observed_at = min(first_observed_at, (SELECT first_observed_at FROM reflections WHERE id = ?)),
				last_confirmed_at = max(last_confirmed_at, (SELECT last_confirmed_at FROM reflections WHERE id = ?))
			WHERE id = ?`,
			dupID, dupID, dupID, dupID, primaryID); err != nil {
			return fmt.Errorf("aggregate reflection %d into %d: %w", dupID, primaryID, err)
		}
		if _, err := t.conn.ExecContext(ctx, `
			UPDATE reflections SET decay_rate = 0.9995 WHERE id = ? AND aggregation_count >= 3`, primaryID); err != nil {
			return fmt.Errorf("slow reflection decay: %w", err)
		}
		if _, err := t.conn.ExecContext(ctx, `DELETE FROM reflections WHERE id = ?`, dupID); err != nil {
			return fmt.Errorf("remove aggregated reflection: %w", err)
		}
		if t.store.vecUsable {
			if _, err := t.conn.ExecContext(ctx, `DELETE FROM reflection_embeddings WHERE owner_id = ?`, dupID); err != nil {
				return fmt.Errorf("remove aggregated reflection embedding: %w", err)
			}
		}
		return nil
	})
}

// PendingPredictions returns unexpired predictions not yet shown, highest
// priority first.
func (s *SQLiteStorage) PendingPredictions(ctx context.Context, limit int) ([]*types.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pattern_name, kind, content, priority, expires_at, is_shown, is_acted_on, created_at
		FROM predictions
		WHERE is_shown = 0 AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
		ORDER BY priority DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending predictions: %w", err)
	}
	defer rows.Close()

	var out []*types.Prediction
	for rows.Next() {
		var p types.Prediction
		var expires sql.NullTime
		if err := rows.Scan(&p.ID, &p.PatternName, &p.Kind, &p.Content, &p.Priority,
			&expires, &p.IsShown, &p.IsActedOn, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		if expires.Valid {
			t := expires.Time
			p.ExpiresAt = &t
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) MarkPredictionShown(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE predictions SET is_shown = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark prediction shown %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStorage) MarkPredictionActedOn(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE predictions SET is_acted_on = 1, is_shown = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark prediction acted on %d: %w", id, err)
	}
	return nil
}

// RecentEpisodes returns the most recently started episodes, for the vault's
// session notes and the dashboard.
func (s *SQLiteStorage) RecentEpisodes(ctx context.Context, limit int) ([]*types.Episode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, started_at, ended_at, turn_count, message_count, narrative, key_topics, is_summarized, source_channel
		FROM episodes ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent episodes: %w", err)
	}
	defer rows.Close()

	var out []*types.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats returns live row counts for the health endpoint and dashboard.
func (s *SQLiteStorage) Stats(ctx context.Context) (map[string]int, error) {
	counts := map[string]string{
		"entities":      `SELECT COUNT(*) FROM entities WHERE deleted_at IS NULL`,
		"memories":      `SELECT COUNT(*) FROM memories WHERE invalidated_at IS NULL`,
		"relationships": `SELECT COUNT(*) FROM relationships WHERE invalid_at IS NULL`,
		"episodes":      `SELECT COUNT(*) FROM episodes`,
		"patterns":      `SELECT COUNT(*) FROM patterns WHERE is_active = 1`,
		"predictions":   `SELECT COUNT(*) FROM predictions WHERE is_shown = 0`,
		"reflections":   `SELECT COUNT(*) FROM reflections`,
		"documents":     `SELECT COUNT(*) FROM documents WHERE lifecycle != 'purged'`,
	}
	out := map[string]int{}
	for name, q := range counts {
		var n int
		if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		out[name] = n
	}
	return out, nil
}

// ResetVectorTables drops and recreates every vector side table under a new
// (model, dims) pair, the destructive half of the --migrate-embeddings
// subcommand; the caller is responsible for re-embedding afterwards.
func (s *SQLiteStorage) ResetVectorTables(ctx context.Context, model string, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range vectorTables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("drop vector table %s: %w", t, err)
		}
	}
	if err := s.setMetaLocked(ctx, "embedding_model", model); err != nil {
		return err
	}
	if err := s.setMetaLocked(ctx, "embedding_dimensions", fmt.Sprintf("%d", dims)); err != nil {
		return err
	}
	for _, t := range vectorTables {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			owner_id INTEGER PRIMARY KEY,
			embedding BLOB NOT NULL
		)`, t)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("recreate vector table %s: %w", t, err)
		}
	}
	s.vecDims = dims
	s.vecUsable = dims > 0
	return nil
}
