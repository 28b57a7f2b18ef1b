package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/claudia-memory/claudia/internal/types"
)

func createRelationship(ctx context.Context, x execer, r *types.Relationship) (int64, error) {
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal relationship metadata: %w", err)
	}
	if r.ValidAt.IsZero() {
		r.ValidAt = time.Now()
	}
	res, err := x.ExecContext(ctx, `
		INSERT INTO relationships (source_id, target_id, type, strength, direction, origin_type, valid_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SourceID, r.TargetID, r.Type, r.Strength, string(r.Direction), string(r.OriginType), r.ValidAt, string(meta),
	)
	if err != nil {
		return 0, fmt.Errorf("insert relationship: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read relationship id: %w", err)
	}
	r.ID = id
	return id, nil
}

func (s *SQLiteStorage) CreateRelationship(ctx context.Context, r *types.Relationship) (int64, error) {
	return createRelationship(ctx, s.db, r)
}
func (t *txScope) CreateRelationship(ctx context.Context, r *types.Relationship) (int64, error) {
	return createRelationship(ctx, t.conn, r)
}

const relationshipColumns = `id, source_id, target_id, type, strength, direction, origin_type, valid_at, invalid_at, metadata`

func scanRelationship(row interface{ Scan(...any) error }) (*types.Relationship, error) {
	var r types.Relationship
	var invalidAt sql.NullTime
	var meta sql.NullString
	if err := row.Scan(
		&r.ID, &r.SourceID, &r.TargetID, &r.Type, &r.Strength, &r.Direction, &r.OriginType,
		&r.ValidAt, &invalidAt, &meta,
	); err != nil {
		return nil, err
	}
	if invalidAt.Valid {
		r.InvalidAt = &invalidAt.Time
	}
	if meta.Valid && meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &r.Metadata)
	}
	return &r, nil
}

func getCurrentRelationship(ctx context.Context, x execer, sourceID, targetID int64, relType string) (*types.Relationship, error) {
	row := x.QueryRowContext(ctx, `
		SELECT `+relationshipColumns+` FROM relationships
		WHERE ((source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?))
			AND type = ? AND invalid_at IS NULL
		LIMIT 1`,
		sourceID, targetID, targetID, sourceID, relType,
	)
	r, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get current relationship: %w", err)
	}
	return r, nil
}

// currentRelationshipsOfType returns every live row of one type leaving
// sourceID, regardless of target — the set a supersedes=true write closes
// before inserting its replacement (a job change ends the old employment no
// matter which organization it pointed at).
func currentRelationshipsOfType(ctx context.Context, x execer, sourceID int64, relType string) ([]*types.Relationship, error) {
	rows, err := x.QueryContext(ctx, `
		SELECT `+relationshipColumns+` FROM relationships
		WHERE source_id = ? AND type = ? AND invalid_at IS NULL`, sourceID, relType)
	if err != nil {
		return nil, fmt.Errorf("query current relationships of type: %w", err)
	}
	defer rows.Close()

	var out []*types.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) CurrentRelationshipsOfType(ctx context.Context, sourceID int64, relType string) ([]*types.Relationship, error) {
	return currentRelationshipsOfType(ctx, s.db, sourceID, relType)
}
func (t *txScope) CurrentRelationshipsOfType(ctx context.Context, sourceID int64, relType string) ([]*types.Relationship, error) {
	return currentRelationshipsOfType(ctx, t.conn, sourceID, relType)
}

func (s *SQLiteStorage) GetCurrentRelationship(ctx context.Context, sourceID, targetID int64, relType string) (*types.Relationship, error) {
	return getCurrentRelationship(ctx, s.db, sourceID, targetID, relType)
}
func (t *txScope) GetCurrentRelationship(ctx context.Context, sourceID, targetID int64, relType string) (*types.Relationship, error) {
	return getCurrentRelationship(ctx, t.conn, sourceID, targetID, relType)
}

// closeRelationship ends a relationship's validity interval. When relType is
// given, the closed row's type is suffixed with __superseded_<timestamp> so
// the (source, target, type) tuple frees up for the superseding row the
// caller inserts next, while the history stays queryable.
func closeRelationship(ctx context.Context, x execer, id int64, relType string, invalidAt time.Time) error {
	if relType == "" {
		_, err := x.ExecContext(ctx, `UPDATE relationships SET invalid_at = ? WHERE id = ?`, invalidAt, id)
		if err != nil {
			return fmt.Errorf("close relationship %d: %w", id, err)
		}
		return nil
	}
	suffixed := fmt.Sprintf("%s__superseded_%s", relType, invalidAt.UTC().Format("20060102150405"))
	_, err := x.ExecContext(ctx, `UPDATE relationships SET type = ?, invalid_at = ? WHERE id = ?`, suffixed, invalidAt, id)
	if err != nil {
		return fmt.Errorf("close relationship %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStorage) CloseRelationship(ctx context.Context, id int64, newType string, invalidAt time.Time) error {
	return closeRelationship(ctx, s.db, id, newType, invalidAt)
}
func (t *txScope) CloseRelationship(ctx context.Context, id int64, newType string, invalidAt time.Time) error {
	return closeRelationship(ctx, t.conn, id, newType, invalidAt)
}

func updateRelationshipStrength(ctx context.Context, x execer, id int64, strength float64) error {
	_, err := x.ExecContext(ctx, `UPDATE relationships SET strength = ? WHERE id = ?`, strength, id)
	if err != nil {
		return fmt.Errorf("update relationship strength %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStorage) UpdateRelationshipStrength(ctx context.Context, id int64, strength float64) error {
	return updateRelationshipStrength(ctx, s.db, id, strength)
}
func (t *txScope) UpdateRelationshipStrength(ctx context.Context, id int64, strength float64) error {
	return updateRelationshipStrength(ctx, t.conn, id, strength)
}

func (s *SQLiteStorage) CurrentRelationshipsForEntity(ctx context.Context, entityID int64, includeHistorical bool) ([]*types.Relationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM relationships WHERE (source_id = ? OR target_id = ?)`
	if !includeHistorical {
		query += ` AND invalid_at IS NULL`
	}
	query += ` ORDER BY valid_at DESC`
	rows, err := s.db.QueryContext(ctx, query, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("query relationships for entity: %w", err)
	}
	defer rows.Close()
	var out []*types.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) AllRelationships(ctx context.Context, minStrength float64) ([]*types.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationshipColumns+` FROM relationships
		WHERE invalid_at IS NULL AND strength >= ? ORDER BY strength DESC`, minStrength)
	if err != nil {
		return nil, fmt.Errorf("query all relationships: %w", err)
	}
	defer rows.Close()
	var out []*types.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
