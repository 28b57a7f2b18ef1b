package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/claudia-memory/claudia/internal/types"
)

func canonicalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func createEntity(ctx context.Context, x execer, e *types.Entity) error {
	if e.CanonicalName == "" {
		e.CanonicalName = canonicalize(e.Name)
	}
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	res, err := x.ExecContext(ctx, `
		INSERT INTO entities (name, canonical_name, type, description, importance, attention_tier, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Name, e.CanonicalName, e.Type, e.Description, e.Importance, string(e.AttentionTier), string(attrs),
	)
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read entity id: %w", err)
	}
	e.ID = id
	return nil
}

func (s *SQLiteStorage) CreateEntity(ctx context.Context, e *types.Entity) error { return createEntity(ctx, s.db, e) }
func (t *txScope) CreateEntity(ctx context.Context, e *types.Entity) error       { return createEntity(ctx, t.conn, e) }

func updateEntity(ctx context.Context, x execer, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	allowed := map[string]bool{
		"name": true, "description": true, "importance": true,
		"last_contact_at": true, "contact_frequency_days": true,
		"contact_trend": true, "attention_tier": true,
	}
	var sets []string
	var args []any
	for k, v := range updates {
		if !allowed[k] {
			continue
		}
		sets = append(sets, k+" = ?")
		args = append(args, v)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)
	query := fmt.Sprintf("UPDATE entities SET %s WHERE id = ?", strings.Join(sets, ", "))
	if _, err := x.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update entity %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStorage) UpdateEntity(ctx context.Context, id int64, updates map[string]any) error {
	return updateEntity(ctx, s.db, id, updates)
}
func (t *txScope) UpdateEntity(ctx context.Context, id int64, updates map[string]any) error {
	return updateEntity(ctx, t.conn, id, updates)
}

const entityColumns = `id, name, canonical_name, type, description, importance, deleted_at, deleted_reason,
	last_contact_at, contact_frequency_days, contact_trend, attention_tier, attributes, created_at, updated_at`

func scanEntity(row interface{ Scan(...any) error }) (*types.Entity, error) {
	var e types.Entity
	var deletedAt, lastContact sql.NullTime
	var deletedReason, trend, tier, attrs sql.NullString
	var freq sql.NullFloat64
	if err := row.Scan(
		&e.ID, &e.Name, &e.CanonicalName, &e.Type, &e.Description, &e.Importance,
		&deletedAt, &deletedReason, &lastContact, &freq, &trend, &tier, &attrs,
		&e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		e.DeletedAt = &deletedAt.Time
	}
	if lastContact.Valid {
		e.LastContactAt = &lastContact.Time
	}
	if freq.Valid {
		e.ContactFrequencyDays = &freq.Float64
	}
	e.DeletedReason = deletedReason.String
	e.ContactTrend = types.ContactTrend(trend.String)
	e.AttentionTier = types.AttentionTier(tier.String)
	if attrs.Valid && attrs.String != "" {
		_ = json.Unmarshal([]byte(attrs.String), &e.Attributes)
	}
	return &e, nil
}

func getEntityByCanonical(ctx context.Context, x execer, canonicalName, entityType string) (*types.Entity, error) {
	row := x.QueryRowContext(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE canonical_name = ? AND type = ? AND deleted_at IS NULL`,
		canonicalize(canonicalName), entityType,
	)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity by canonical name: %w", err)
	}
	return e, nil
}

func (s *SQLiteStorage) GetEntityByCanonical(ctx context.Context, canonicalName, entityType string) (*types.Entity, error) {
	return getEntityByCanonical(ctx, s.db, canonicalName, entityType)
}
func (t *txScope) GetEntityByCanonical(ctx context.Context, canonicalName, entityType string) (*types.Entity, error) {
	return getEntityByCanonical(ctx, t.conn, canonicalName, entityType)
}

func getEntityByAlias(ctx context.Context, x execer, alias string) (*types.Entity, error) {
	row := x.QueryRowContext(ctx, `
		SELECT `+prefixColumns("e", entityColumns)+` FROM entities e
		JOIN aliases a ON a.entity_id = e.id
		WHERE a.canonical_alias = ? AND e.deleted_at IS NULL
		LIMIT 1`,
		canonicalize(alias),
	)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity by alias: %w", err)
	}
	return e, nil
}

func (s *SQLiteStorage) GetEntityByAlias(ctx context.Context, alias string) (*types.Entity, error) {
	return getEntityByAlias(ctx, s.db, alias)
}
func (t *txScope) GetEntityByAlias(ctx context.Context, alias string) (*types.Entity, error) {
	return getEntityByAlias(ctx, t.conn, alias)
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func addAlias(ctx context.Context, x execer, entityID int64, alias string) error {
	_, err := x.ExecContext(ctx, `
		INSERT OR IGNORE INTO aliases (entity_id, alias, canonical_alias) VALUES (?, ?, ?)`,
		entityID, alias, canonicalize(alias),
	)
	if err != nil {
		return fmt.Errorf("add alias: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) AddAlias(ctx context.Context, entityID int64, alias string) error {
	return addAlias(ctx, s.db, entityID, alias)
}
func (t *txScope) AddAlias(ctx context.Context, entityID int64, alias string) error {
	return addAlias(ctx, t.conn, entityID, alias)
}

func (s *SQLiteStorage) GetEntity(ctx context.Context, id int64) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %d: %w", id, err)
	}
	return e, nil
}

func (s *SQLiteStorage) SoftDeleteEntity(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE entities SET deleted_at = CURRENT_TIMESTAMP, deleted_reason = ? WHERE id = ?`,
		reason, id,
	)
	if err != nil {
		return fmt.Errorf("soft delete entity %d: %w", id, err)
	}
	return nil
}

// SearchEntities does a simple canonical-name/alias LIKE scan, ordered by
// importance; no fuzzy ranking is applied (internal/guards' near-dup check
// on the write path uses its own sequence-matcher ratio).
func (s *SQLiteStorage) SearchEntities(ctx context.Context, query string, entityTypes []string, limit int) ([]*types.Entity, error) {
	like := "%" + strings.ToLower(query) + "%"
	q := `SELECT DISTINCT ` + prefixColumns("e", entityColumns) + ` FROM entities e
		LEFT JOIN aliases a ON a.entity_id = e.id
		WHERE e.deleted_at IS NULL AND (e.canonical_name LIKE ? OR a.canonical_alias LIKE ?)`
	args := []any{like, like}
	if len(entityTypes) > 0 {
		placeholders := make([]string, len(entityTypes))
		for i, t := range entityTypes {
			placeholders[i] = "?"
			args = append(args, t)
		}
		q += " AND e.type IN (" + strings.Join(placeholders, ",") + ")"
	}
	q += " ORDER BY e.importance DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
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

func (s *SQLiteStorage) EntityAliases(ctx context.Context, entityID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT alias FROM aliases WHERE entity_id = ?`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) RepointMemoryLinks(ctx context.Context, fromEntityID, toEntityID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE OR IGNORE memory_entities SET entity_id = ? WHERE entity_id = ?`,
		toEntityID, fromEntityID,
	)
	if err != nil {
		return 0, fmt.Errorf("repoint memory links: %w", err)
	}
	n, _ := res.RowsAffected()
	_, _ = s.db.ExecContext(ctx, `DELETE FROM memory_entities WHERE entity_id = ?`, fromEntityID)
	return int(n), nil
}

func (s *SQLiteStorage) RepointRelationships(ctx context.Context, fromEntityID, toEntityID int64) (int, error) {
	res1, err := s.db.ExecContext(ctx, `UPDATE relationships SET source_id = ? WHERE source_id = ?`, toEntityID, fromEntityID)
	if err != nil {
		return 0, fmt.Errorf("repoint relationships (source): %w", err)
	}
	res2, err := s.db.ExecContext(ctx, `UPDATE relationships SET target_id = ? WHERE target_id = ?`, toEntityID, fromEntityID)
	if err != nil {
		return 0, fmt.Errorf("repoint relationships (target): %w", err)
	}
	n1, _ := res1.RowsAffected()
	n2, _ := res2.RowsAffected()
	return int(n1 + n2), nil
}
