package sqlite

import (
	"context"
	"fmt"
)

func (s *SQLiteStorage) AppendAudit(ctx context.Context, kind, detail string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log (kind, detail) VALUES (?, ?)`, kind, detail)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) RecordMetric(ctx context.Context, name string, value float64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO metrics (name, value) VALUES (?, ?)`, name, value)
	if err != nil {
		return fmt.Errorf("record metric %s: %w", name, err)
	}
	return nil
}

// PruneRetention deletes operational rows past each table's retention window
// and reports how many rows it removed per table, for the consolidate pass's
// retention-cleanup phase to log.
func (s *SQLiteStorage) PruneRetention(ctx context.Context, auditDays, predictionDays, turnBufferDays, metricsDays int) (map[string]int, error) {
	out := map[string]int{}

	prune := func(table, column string, days int) error {
		if days <= 0 {
			return nil
		}
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE %s < datetime('now', ?)`, table, column),
			fmt.Sprintf("-%d days", days),
		)
		if err != nil {
			return fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		out[table] = int(n)
		return nil
	}

	if err := prune("audit_log", "created_at", auditDays); err != nil {
		return out, err
	}
	if err := prune("predictions", "created_at", predictionDays); err != nil {
		return out, err
	}
	if err := prune("turn_buffer", "created_at", turnBufferDays); err != nil {
		return out, err
	}
	if err := prune("metrics", "created_at", metricsDays); err != nil {
		return out, err
	}
	return out, nil
}
