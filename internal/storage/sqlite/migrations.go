// Package sqlite is the embedded-database implementation of storage.Store.
package sqlite

import (
	"database/sql"
	"fmt"
)

// Migration is a single, idempotent, ordered database change.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList is run in order during database initialization. Each entry
// must be safe to re-run (IF NOT EXISTS / existing-column skip) because Open
// runs the whole list on every start.
var migrationsList = []Migration{
	{"contact_velocity_columns", migrateContactVelocityColumns},
	{"deadline_index", migrateDeadlineIndex},
}

// migrateContactVelocityColumns adds the optional contact-cadence columns to
// entities for databases created before they existed. The base schema already
// includes them for fresh databases; this keeps upgrades idempotent.
func migrateContactVelocityColumns(db *sql.DB) error {
	cols := []struct{ name, ddl string }{
		{"last_contact_at", "ALTER TABLE entities ADD COLUMN last_contact_at DATETIME"},
		{"contact_frequency_days", "ALTER TABLE entities ADD COLUMN contact_frequency_days REAL"},
		{"contact_trend", "ALTER TABLE entities ADD COLUMN contact_trend TEXT DEFAULT ''"},
		{"attention_tier", "ALTER TABLE entities ADD COLUMN attention_tier TEXT DEFAULT 'standard'"},
	}
	for _, c := range cols {
		if hasColumn(db, "entities", c.name) {
			continue
		}
		if _, err := db.Exec(c.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", c.name, err)
		}
	}
	return nil
}

func migrateDeadlineIndex(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_memories_deadline ON memories(deadline_at)`)
	return err
}

// hasColumn inspects a table's column list via PRAGMA table_info, so
// migrateContactVelocityColumns can skip columns that already exist.
func hasColumn(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

// runMigrations executes all registered migrations in order, inside a single
// exclusive transaction so concurrent daemon starts on the same database file
// cannot race on check-then-alter DDL.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disable foreign keys for migrations: %w", err)
	}
	defer func() { _, _ = db.Exec("PRAGMA foreign_keys = ON") }()

	if _, err := db.Exec("BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("acquire exclusive lock for migrations: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = db.Exec("ROLLBACK")
		}
	}()

	for i, m := range migrationsList {
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.Name, err)
		}
		if _, err := db.Exec(
			`INSERT OR IGNORE INTO schema_migrations (version, name) VALUES (?, ?)`,
			i+1, m.Name,
		); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
	}

	if _, err := db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	committed = true
	return nil
}
