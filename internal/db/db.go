// Package db is the sqlite-backed store for providers, rules, clients and appointments.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB for the booking store.
type DB struct {
	*sql.DB
	path string
}

// Open opens the database at path and runs migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		path = "data/agenda.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// sqlite allows one writer at a time.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := createTables(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// New wraps an already opened connection without running migrations.
func New(sqlDB *sql.DB) *DB {
	return &DB{DB: sqlDB}
}

// Path returns the database file path, empty for wrapped connections.
func (db *DB) Path() string {
	return db.path
}

func createTables(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS providers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT,
			telegram_chat_id INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS availability_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider_id TEXT NOT NULL,
			day_of_week INTEGER NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (provider_id) REFERENCES providers(id)
		)`,

		`CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			document TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS appointments (
			id TEXT PRIMARY KEY,
			provider_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			service_ref TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL,
			time TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'confirmed', 'completed', 'cancelled')),
			notes TEXT NOT NULL DEFAULT '',
			number_of_people INTEGER NOT NULL DEFAULT 1,
			participants TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (provider_id) REFERENCES providers(id),
			FOREIGN KEY (client_id) REFERENCES clients(id)
		)`,

		`CREATE TABLE IF NOT EXISTS appointment_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			appointment_id TEXT NOT NULL,
			from_status TEXT NOT NULL DEFAULT '',
			to_status TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (appointment_id) REFERENCES appointments(id)
		)`,

		// One live appointment per provider slot; cancelled rows do not count.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_appointments_slot
			ON appointments(provider_id, date, time) WHERE status != 'cancelled'`,
		`CREATE INDEX IF NOT EXISTS idx_rules_provider ON availability_rules(provider_id, day_of_week)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_provider_date ON appointments(provider_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_client ON appointments(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_appointment_events_appt ON appointment_events(appointment_id)`,
	}

	for _, q := range queries {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
