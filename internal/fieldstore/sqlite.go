package fieldstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA busy_timeout=5000;`,
	`
CREATE TABLE IF NOT EXISTS records (
	block_key TEXT NOT NULL,
	learner TEXT NOT NULL,
	raw_status TEXT NOT NULL DEFAULT '{}',
	initialized INTEGER NOT NULL DEFAULT 0,
	lesson_status TEXT NOT NULL DEFAULT 'not attempted',
	lesson_score REAL NOT NULL DEFAULT 0,
	progress REAL NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),

	PRIMARY KEY (block_key, learner)
);
`,
	`
CREATE TABLE IF NOT EXISTS settings (
	block_key TEXT PRIMARY KEY,
	weight REAL NOT NULL DEFAULT 1,
	auto_completion INTEGER NOT NULL DEFAULT 0,
	encoding TEXT NOT NULL DEFAULT '',
	package_url TEXT NOT NULL DEFAULT '',
	package_name TEXT NOT NULL DEFAULT '',
	uploaded_at TEXT NOT NULL DEFAULT ''
);
`,
}

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open field store: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize field store: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) LoadRecord(ctx context.Context, key, learner string) (Record, error) {
	rec := NewRecord()
	err := s.db.QueryRowContext(ctx, `
SELECT raw_status, initialized, lesson_status, lesson_score, progress
FROM records
WHERE block_key = ? AND learner = ?`, key, learner,
	).Scan(&rec.RawStatus, &rec.Initialized, &rec.LessonStatus, &rec.LessonScore, &rec.Progress)
	if errors.Is(err, sql.ErrNoRows) {
		return NewRecord(), nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load record: %w", err)
	}
	return rec, nil
}

func (s *SQLite) SaveRecord(ctx context.Context, key, learner string, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO records (block_key, learner, raw_status, initialized, lesson_status, lesson_score, progress, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (block_key, learner) DO UPDATE SET
	raw_status = excluded.raw_status,
	initialized = excluded.initialized,
	lesson_status = excluded.lesson_status,
	lesson_score = excluded.lesson_score,
	progress = excluded.progress,
	updated_at = CURRENT_TIMESTAMP`,
		key, learner, rec.RawStatus, rec.Initialized, rec.LessonStatus, rec.LessonScore, rec.Progress,
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

func (s *SQLite) LoadSettings(ctx context.Context, key string) (Settings, bool, error) {
	var (
		st       Settings
		uploaded string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT weight, auto_completion, encoding, package_url, package_name, uploaded_at
FROM settings
WHERE block_key = ?`, key,
	).Scan(&st.Weight, &st.AutoCompletion, &st.Encoding, &st.PackageURL, &st.PackageName, &uploaded)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), false, nil
	}
	if err != nil {
		return Settings{}, false, fmt.Errorf("failed to load settings: %w", err)
	}
	if uploaded != "" {
		if st.UploadedAt, err = time.Parse(time.RFC3339, uploaded); err != nil {
			return Settings{}, false, fmt.Errorf("failed to parse upload time: %w", err)
		}
	}
	return st, true, nil
}

func (s *SQLite) SaveSettings(ctx context.Context, key string, st Settings) error {
	var uploaded string
	if !st.UploadedAt.IsZero() {
		uploaded = st.UploadedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings (block_key, weight, auto_completion, encoding, package_url, package_name, uploaded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (block_key) DO UPDATE SET
	weight = excluded.weight,
	auto_completion = excluded.auto_completion,
	encoding = excluded.encoding,
	package_url = excluded.package_url,
	package_name = excluded.package_name,
	uploaded_at = excluded.uploaded_at`,
		key, st.Weight, st.AutoCompletion, st.Encoding, st.PackageURL, st.PackageName, uploaded,
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *SQLite) Learners(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT learner FROM records WHERE block_key = ? ORDER BY learner`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list learners: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
