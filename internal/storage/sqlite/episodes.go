package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/claudia-memory/claudia/internal/types"
)

func getOrCreateOpenEpisode(ctx context.Context, x execer, sessionID string) (*types.Episode, error) {
	row := x.QueryRowContext(ctx, `
		SELECT id, session_id, started_at, ended_at, turn_count, message_count, narrative, key_topics, is_summarized, source_channel
		FROM episodes WHERE session_id = ? AND ended_at IS NULL LIMIT 1`, sessionID)
	ep, err := scanEpisode(row)
	if err == nil {
		return ep, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("query open episode: %w", err)
	}

	res, err := x.ExecContext(ctx, `
		INSERT INTO episodes (session_id, turn_count, message_count, is_summarized) VALUES (?, 0, 0, 0)`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("create episode: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read episode id: %w", err)
	}
	row = x.QueryRowContext(ctx, `
		SELECT id, session_id, started_at, ended_at, turn_count, message_count, narrative, key_topics, is_summarized, source_channel
		FROM episodes WHERE id = ?`, id)
	return scanEpisode(row)
}

func (s *SQLiteStorage) GetOrCreateOpenEpisode(ctx context.Context, sessionID string) (*types.Episode, error) {
	return getOrCreateOpenEpisode(ctx, s.db, sessionID)
}
func (t *txScope) GetOrCreateOpenEpisode(ctx context.Context, sessionID string) (*types.Episode, error) {
	return getOrCreateOpenEpisode(ctx, t.conn, sessionID)
}

func scanEpisode(row interface{ Scan(...any) error }) (*types.Episode, error) {
	var e types.Episode
	var endedAt sql.NullTime
	var narrative, topics, channel sql.NullString
	if err := row.Scan(
		&e.ID, &e.SessionID, &e.StartedAt, &endedAt, &e.TurnCount, &e.MessageCount,
		&narrative, &topics, &e.IsSummarized, &channel,
	); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		e.EndedAt = &endedAt.Time
	}
	e.Narrative = narrative.String
	e.SourceChannel = channel.String
	if topics.Valid && topics.String != "" {
		_ = json.Unmarshal([]byte(topics.String), &e.KeyTopics)
	}
	return &e, nil
}

func appendTurn(ctx context.Context, x execer, episodeID int64, userContent, assistantContent string) (int, error) {
	var turnCount int
	if err := x.QueryRowContext(ctx, `SELECT turn_count FROM episodes WHERE id = ?`, episodeID).Scan(&turnCount); err != nil {
		return 0, fmt.Errorf("read episode turn count: %w", err)
	}
	turnNumber := turnCount + 1
	if _, err := x.ExecContext(ctx, `
		INSERT INTO turn_buffer (episode_id, turn_number, user_content, assistant_content) VALUES (?, ?, ?, ?)`,
		episodeID, turnNumber, userContent, assistantContent,
	); err != nil {
		return 0, fmt.Errorf("insert turn: %w", err)
	}
	if _, err := x.ExecContext(ctx, `
		UPDATE episodes SET turn_count = ?, message_count = message_count + 2 WHERE id = ?`,
		turnNumber, episodeID,
	); err != nil {
		return 0, fmt.Errorf("update episode turn count: %w", err)
	}
	return turnNumber, nil
}

func (s *SQLiteStorage) AppendTurn(ctx context.Context, episodeID int64, userContent, assistantContent string) (int, error) {
	return appendTurn(ctx, s.db, episodeID, userContent, assistantContent)
}
func (t *txScope) AppendTurn(ctx context.Context, episodeID int64, userContent, assistantContent string) (int, error) {
	return appendTurn(ctx, t.conn, episodeID, userContent, assistantContent)
}

func finalizeEpisode(ctx context.Context, x execer, episodeID int64, narrative string, keyTopics []string) error {
	topics, err := json.Marshal(keyTopics)
	if err != nil {
		return fmt.Errorf("marshal key topics: %w", err)
	}
	if _, err := x.ExecContext(ctx, `
		UPDATE episodes SET ended_at = CURRENT_TIMESTAMP, narrative = ?, key_topics = ?, is_summarized = 1
		WHERE id = ?`, narrative, string(topics), episodeID,
	); err != nil {
		return fmt.Errorf("finalize episode %d: %w", episodeID, err)
	}
	if _, err := x.ExecContext(ctx, `DELETE FROM turn_buffer WHERE episode_id = ?`, episodeID); err != nil {
		return fmt.Errorf("clear turn buffer for episode %d: %w", episodeID, err)
	}
	return nil
}

func (s *SQLiteStorage) FinalizeEpisode(ctx context.Context, episodeID int64, narrative string, keyTopics []string) error {
	return finalizeEpisode(ctx, s.db, episodeID, narrative, keyTopics)
}
func (t *txScope) FinalizeEpisode(ctx context.Context, episodeID int64, narrative string, keyTopics []string) error {
	return finalizeEpisode(ctx, t.conn, episodeID, narrative, keyTopics)
}

func setMetadata(ctx context.Context, x execer, key, value string) error {
	_, err := x.ExecContext(ctx, `
		INSERT INTO _meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStorage) SetMetadata(ctx context.Context, key, value string) error {
	return setMetadata(ctx, s.db, key, value)
}
func (t *txScope) SetMetadata(ctx context.Context, key, value string) error {
	return setMetadata(ctx, t.conn, key, value)
}

func getMetadata(ctx context.Context, x execer, key string) (string, error) {
	var value string
	err := x.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStorage) GetMetadata(ctx context.Context, key string) (string, error) {
	return getMetadata(ctx, s.db, key)
}
func (t *txScope) GetMetadata(ctx context.Context, key string) (string, error) {
	return getMetadata(ctx, t.conn, key)
}
