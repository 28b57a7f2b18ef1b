package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/claudia-memory/claudia/internal/types"
)

func (s *SQLiteStorage) UpsertPattern(ctx context.Context, p *types.Pattern) (int64, error) {
	evidence, err := json.Marshal(p.Evidence)
	if err != nil {
		return 0, fmt.Errorf("marshal pattern evidence: %w", err)
	}
	now := time.Now()
	if p.FirstObserved.IsZero() {
		p.FirstObserved = now
	}
	p.LastObserved = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patterns (name, pattern_type, occurrences, confidence, evidence, first_observed, last_observed, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, pattern_type) DO UPDATE SET
			occurrences = occurrences + 1,
			confidence = excluded.confidence,
			evidence = excluded.evidence,
			last_observed = excluded.last_observed,
			is_active = excluded.is_active`,
		p.Name, p.PatternType, 1, p.Confidence, string(evidence), p.FirstObserved, p.LastObserved, p.IsActive,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert pattern: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM patterns WHERE name = ? AND pattern_type = ?`, p.Name, p.PatternType).Scan(&id); err != nil {
		return 0, fmt.Errorf("read pattern id: %w", err)
	}
	p.ID = id
	return id, nil
}

func (s *SQLiteStorage) ActivePatterns(ctx context.Context, minConfidence float64) ([]*types.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, pattern_type, occurrences, confidence, evidence, first_observed, last_observed, is_active
		FROM patterns WHERE is_active = 1 AND confidence >= ? ORDER BY confidence DESC`, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("query active patterns: %w", err)
	}
	defer rows.Close()

	var out []*types.Pattern
	for rows.Next() {
		var p types.Pattern
		var evidence sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.PatternType, &p.Occurrences, &p.Confidence,
			&evidence, &p.FirstObserved, &p.LastObserved, &p.IsActive); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		if evidence.Valid && evidence.String != "" {
			_ = json.Unmarshal([]byte(evidence.String), &p.Evidence)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) CreatePrediction(ctx context.Context, p *types.Prediction) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO predictions (pattern_name, kind, content, priority, expires_at, is_shown, is_acted_on)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.PatternName, p.Kind, p.Content, p.Priority, nullTime(p.ExpiresAt), p.IsShown, p.IsActedOn,
	)
	if err != nil {
		return 0, fmt.Errorf("insert prediction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read prediction id: %w", err)
	}
	p.ID = id
	return id, nil
}

// PredictionFeedbackRatio returns acted-on / shown for predictions of a given
// kind, used by the consolidate pass to damp patterns whose predictions the
// user routinely ignores.
func (s *SQLiteStorage) PredictionFeedbackRatio(ctx context.Context, kind string) (float64, int, error) {
	var shown, actedOn int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(is_acted_on), 0) FROM predictions WHERE kind = ? AND is_shown = 1`, kind).
		Scan(&shown, &actedOn)
	if err != nil {
		return 0, 0, fmt.Errorf("query prediction feedback: %w", err)
	}
	if shown == 0 {
		return 0, 0, nil
	}
	return float64(actedOn) / float64(shown), shown, nil
}

func (s *SQLiteStorage) UpsertReflection(ctx context.Context, r *types.Reflection) (int64, error) {
	aggregated, err := json.Marshal(r.AggregatedFrom)
	if err != nil {
		return 0, fmt.Errorf("marshal aggregated_from: %w", err)
	}
	now := time.Now()
	if r.FirstObservedAt.IsZero() {
		r.FirstObservedAt = now
	}
	r.LastConfirmedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reflections (content, content_hash, importance, decay_rate, aggregation_count, aggregated_from, first_observed_at, last_confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			importance = excluded.importance,
			aggregation_count = aggregation_count + 1,
			aggregated_from = excluded.aggregated_from,
			last_confirmed_at = excluded.last_confirmed_at`,
		r.Content, r.ContentHash, r.Importance, r.DecayRate, 1, string(aggregated), r.FirstObservedAt, r.LastConfirmedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert reflection: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM reflections WHERE content_hash = ?`, r.ContentHash).Scan(&id); err != nil {
		return 0, fmt.Errorf("read reflection id: %w", err)
	}
	r.ID = id
	return id, nil
}

func (s *SQLiteStorage) AllReflections(ctx context.Context) ([]*types.Reflection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, content_hash, importance, decay_rate, aggregation_count, aggregated_from, first_observed_at, last_confirmed_at
		FROM reflections ORDER BY importance DESC`)
	if err != nil {
		return nil, fmt.Errorf("query reflections: %w", err)
	}
	defer rows.Close()

	var out []*types.Reflection
	for rows.Next() {
		var r types.Reflection
		var aggregated sql.NullString
		if err := rows.Scan(&r.ID, &r.Content, &r.ContentHash, &r.Importance, &r.DecayRate,
			&r.AggregationCount, &aggregated, &r.FirstObservedAt, &r.LastConfirmedAt); err != nil {
			return nil, fmt.Errorf("scan reflection: %w", err)
		}
		if aggregated.Valid && aggregated.String != "" {
			_ = json.Unmarshal([]byte(aggregated.String), &r.AggregatedFrom)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
