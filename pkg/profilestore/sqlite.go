package profilestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, registers "sqlite"

	"github.com/core-tools/hsu-startup/pkg/errors"
)

// SQLiteBackend keeps the settings document as one JSON row, so a settings
// write is a single transaction.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

var _ Backend = (*SQLiteBackend)(nil)

// OpenSQLite creates or opens the database at path with WAL journaling
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.NewValidationError("database path cannot be empty", nil)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, errors.NewIOError("failed to create database directory", err).WithContext("path", path)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.NewIOError("failed to open sqlite", err).WithContext("path", path)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.NewIOError("failed to ping sqlite", err).WithContext("path", path)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	b := &SQLiteBackend{db: db, path: path}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			document   TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			document   TEXT NOT NULL,
			written_at INTEGER NOT NULL
		)`,
	}
	for _, migration := range migrations {
		if _, err := b.db.Exec(migration); err != nil {
			return errors.NewIOError("failed to migrate settings schema", err).WithContext("path", b.path)
		}
	}
	return nil
}

func (b *SQLiteBackend) Read(ctx context.Context) (*Settings, error) {
	var document string
	err := b.db.QueryRowContext(ctx, `SELECT document FROM settings WHERE id = 1`).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewIOError("failed to query settings", err).WithContext("path", b.path)
	}

	var settings Settings
	if err := json.Unmarshal([]byte(document), &settings); err != nil {
		return nil, errors.NewValidationError("failed to parse stored settings", err).WithContext("path", b.path)
	}
	return &settings, nil
}

// Write upserts the document and appends it to the history table
func (b *SQLiteBackend) Write(ctx context.Context, settings *Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return errors.NewInternalError("failed to encode settings", err)
	}
	now := time.Now().UnixMilli()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewIOError("failed to begin settings transaction", err).WithContext("path", b.path)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO settings (id, document, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		string(data), now); err != nil {
		return errors.NewIOError("failed to store settings", err).WithContext("path", b.path)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO settings_history (document, written_at) VALUES (?, ?)`,
		string(data), now); err != nil {
		return errors.NewIOError("failed to store settings history", err).WithContext("path", b.path)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewIOError("failed to commit settings", err).WithContext("path", b.path)
	}
	return nil
}

// HistoryCount returns how many settings writes have been recorded
func (b *SQLiteBackend) HistoryCount(ctx context.Context) (int, error) {
	var count int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM settings_history`).Scan(&count); err != nil {
		return 0, errors.NewIOError("failed to count settings history", err).WithContext("path", b.path)
	}
	return count, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
