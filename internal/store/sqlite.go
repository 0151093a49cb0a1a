package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Timestamps are stored as fixed-width UTC text so that lexical order is
// chronological on every backend.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const dateFormat = "2006-01-02"

// SQLStore persists Tandem state through database/sql. It embeds Queries
// bound to the connection pool; InTx hands out Queries bound to a
// transaction instead.
type SQLStore struct {
	*Queries
	db *sqlx.DB
}

// Queries runs statements against either the pool or an open transaction.
type Queries struct {
	ext sqlx.ExtContext
}

// Open connects to the given driver ("sqlite" or "postgres") and runs
// migrations. For sqlite, dsn is a file path or ":memory:".
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// The database file is created with 0600 permissions and its parent directory with 0700.
func NewSQLiteStore(path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}

		// Create the file owner-only, or tighten an existing one.
		info, err := os.Stat(path)
		switch {
		case os.IsNotExist(err):
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return nil, fmt.Errorf("creating database file: %w", err)
			}
			_ = f.Close()
		case err != nil:
			return nil, fmt.Errorf("checking database file: %w", err)
		case info.Mode().Perm()&0077 != 0:
			slog.Warn("tightening database file permissions", "path", path, "mode", info.Mode().Perm())
			if err := os.Chmod(path, 0600); err != nil {
				return nil, fmt.Errorf("restricting database file permissions: %w", err)
			}
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)

	return newSQLStore(db)
}

// NewPostgresStore connects to PostgreSQL through lib/pq and runs migrations.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return newSQLStore(db)
}

func newSQLStore(db *sqlx.DB) (*SQLStore, error) {
	s := &SQLStore{Queries: &Queries{ext: db}, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Info("applying migration", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec(s.db.Rebind("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)"),
			i+1, formatTime(time.Now())); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *SQLStore) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Queries{ext: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Record runs Queries.Record in its own transaction so that the
// notification and its delivery records are written together.
func (s *SQLStore) Record(ctx context.Context, n *Notification, recipientIDs []string) (string, error) {
	var id string
	err := s.InTx(ctx, func(q *Queries) error {
		var err error
		id, err = q.Record(ctx, n, recipientIDs)
		return err
	})
	return id, err
}

// DeleteTask runs Queries.DeleteTask in its own transaction.
func (s *SQLStore) DeleteTask(ctx context.Context, id string) error {
	return s.InTx(ctx, func(q *Queries) error {
		return q.DeleteTask(ctx, id)
	})
}

// RemoveMember runs Queries.RemoveMember in its own transaction.
func (s *SQLStore) RemoveMember(ctx context.Context, workspaceID, userID string) error {
	return s.InTx(ctx, func(q *Queries) error {
		return q.RemoveMember(ctx, workspaceID, userID)
	})
}

// DeleteUser runs Queries.DeleteUser in its own transaction.
func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	return s.InTx(ctx, func(q *Queries) error {
		return q.DeleteUser(ctx, id)
	})
}

// DeleteWorkspace runs Queries.DeleteWorkspace in its own transaction.
func (s *SQLStore) DeleteWorkspace(ctx context.Context, id string) error {
	return s.InTx(ctx, func(q *Queries) error {
		return q.DeleteWorkspace(ctx, id)
	})
}

// CreateWorkspace runs Queries.CreateWorkspace in its own transaction.
func (s *SQLStore) CreateWorkspace(ctx context.Context, w *Workspace, creatorID string, statuses []string) error {
	return s.InTx(ctx, func(q *Queries) error {
		return q.CreateWorkspace(ctx, w, creatorID, statuses)
	})
}

// --- Helpers ---

func (q *Queries) get(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (q *Queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
}

// execAffecting runs query and returns ErrNotFound when no row matched.
func (q *Queries) execAffecting(ctx context.Context, query string, args ...any) error {
	res, err := q.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// forUpdate returns the row-locking suffix for SELECTs that precede a
// write in the same transaction. SQLite runs on a single connection, so
// transactions are already serialized and no suffix is needed.
func (q *Queries) forUpdate() string {
	if q.ext.DriverName() == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

// uniqueViolation maps a unique-constraint failure from either driver to
// ErrConflict and returns other errors unchanged.
func uniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return fmt.Errorf("%w: %s", ErrConflict, liteErr.Error())
	}
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}

func formatDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateFormat), Valid: true}
}

func parseDate(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(dateFormat, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
