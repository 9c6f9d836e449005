// ABOUTME: SQLite implementation of the audit log using modernc.org/sqlite
// ABOUTME: Single-table store with automatic schema creation and WAL mode.

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteLog persists audit events to a SQLite database.
type SQLiteLog struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteLog opens (or creates) the audit database at the given path.
// Parent directories are created if needed.
func NewSQLiteLog(path string, logger *slog.Logger) (*SQLiteLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	// WAL mode keeps readers from blocking the request-path writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &SQLiteLog{
		db:     db,
		logger: logger,
	}

	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("audit log initialized", "path", path)
	return l, nil
}

func (l *SQLiteLog) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_events (
			event_id   TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			identity   TEXT NOT NULL DEFAULT '',
			detail     TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_events_created
			ON audit_events(created_at);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Record appends an event. Generates ID and CreatedAt if not set.
func (l *SQLiteLog) Record(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (event_id, kind, identity, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := l.db.ExecContext(ctx, query,
		e.ID,
		string(e.Kind),
		e.Identity,
		e.Detail,
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}

	l.logger.Debug("recorded audit event",
		"id", e.ID,
		"kind", e.Kind,
		"identity", e.Identity,
	)
	return nil
}

// normalizeLimit applies default (100) and cap (1000) to a listing limit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// Recent returns the latest events, newest first.
func (l *SQLiteLog) Recent(ctx context.Context, limit int) ([]Event, error) {
	query := `
		SELECT event_id, kind, identity, detail, created_at
		FROM audit_events
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := l.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []Event{}
	for rows.Next() {
		var e Event
		var kindStr, tsStr string
		if err := rows.Scan(&e.ID, &kindStr, &e.Identity, &e.Detail, &tsStr); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		e.Kind = Kind(kindStr)
		e.CreatedAt, err = time.Parse(time.RFC3339, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return events, nil
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
