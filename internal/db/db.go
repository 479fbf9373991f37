// Package db opens the thread database: Turso over libsql in production, a
// local sqlite file in development and tests.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mediaplan/backend/internal/config"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

const (
	driverLibsql = "libsql"
	driverSqlite = "sqlite"

	pingAttempts = 4
)

// Open connects and pings. Remote databases get a few attempts because a
// scaled-to-zero Turso instance can refuse the first connection.
func Open(cfg config.Config) (*sql.DB, error) {
	dsn, err := buildDSN(cfg.TursoDatabaseURL, cfg.TursoAuthToken)
	if err != nil {
		return nil, err
	}

	driver := driverFor(dsn)
	database, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}

	attempts := uint64(1)
	if driver == driverSqlite {
		// A single connection serialises writers on the local file.
		database.SetMaxOpenConns(1)
	} else {
		attempts = pingAttempts
		database.SetConnMaxIdleTime(5 * time.Minute)
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = 250 * time.Millisecond
	err = backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return database.PingContext(ctx)
	}, backoff.WithMaxRetries(schedule, attempts-1))
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}
	return database, nil
}

type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations only ever grow. A released step is never edited.
var migrations = []migration{
	{
		version: 1,
		name:    "threads",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS threads (
  id TEXT PRIMARY KEY,
  stage TEXT NOT NULL,
  state TEXT NOT NULL,
  archived INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
			`CREATE INDEX IF NOT EXISTS idx_threads_active ON threads (archived, updated_at)`,
		},
	},
	{
		version: 2,
		name:    "thread files",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS thread_files (
  id TEXT PRIMARY KEY,
  thread_id TEXT NOT NULL,
  kind TEXT NOT NULL CHECK (kind IN ('brief', 'plan_export')),
  filename TEXT NOT NULL,
  media_type TEXT NOT NULL,
  size_bytes INTEGER NOT NULL,
  storage_backend TEXT NOT NULL CHECK (storage_backend IN ('local', 'gcs')),
  storage_path TEXT NOT NULL,
  extracted_text TEXT,
  created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
)`,
			`CREATE INDEX IF NOT EXISTS idx_thread_files_thread ON thread_files (thread_id, created_at)`,
		},
	},
}

// Migrate applies every migration newer than the recorded schema version.
// Running it again is a no-op.
func Migrate(ctx context.Context, database *sql.DB) error {
	if _, err := database.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := SchemaVersion(ctx, database)
	if err != nil {
		return err
	}
	for _, step := range migrations {
		if step.version <= current {
			continue
		}
		for _, stmt := range step.stmts {
			if _, err := database.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d (%s): %w", step.version, step.name, err)
			}
		}
		if _, err := database.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, step.version, step.name); err != nil {
			return fmt.Errorf("record migration %d: %w", step.version, err)
		}
	}
	return nil
}

// SchemaVersion is the highest applied migration, or 0 on a fresh database.
func SchemaVersion(ctx context.Context, database *sql.DB) (int, error) {
	var version sql.NullInt64
	err := database.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(version.Int64), nil
}

func driverFor(dsn string) string {
	if strings.HasPrefix(dsn, "file:") || dsn == ":memory:" {
		return driverSqlite
	}
	return driverLibsql
}

// buildDSN folds the Turso token into libsql URLs; file URLs pass through.
func buildDSN(rawURL, authToken string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", errors.New("empty database url")
	}
	if driverFor(trimmed) == driverSqlite {
		return trimmed, nil
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	switch parsed.Scheme {
	case "libsql", "https", "http", "wss", "ws":
	default:
		return "", fmt.Errorf("unsupported database url scheme %q", parsed.Scheme)
	}

	token := strings.TrimSpace(authToken)
	if query := parsed.Query(); parsed.Scheme == "libsql" && query.Get("authToken") == "" && token != "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}
