// writer.go streams stack events into on-disk SQLite databases so past runs
// can be inspected after the terminal scrollback is gone.

// Package capture persists a run's stack events into a SQLite file, one
// session row per invocation with its events keyed underneath.
package capture

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/example/stackctl/internal/engine"
)

const (
	createSessionsStmt = `
CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TEXT NOT NULL,
    command TEXT NOT NULL,
    stack_name TEXT NOT NULL,
    region TEXT
);`
	createEventsStmt = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id INTEGER NOT NULL REFERENCES sessions(id),
    event_id TEXT,
    event_timestamp TEXT,
    stack_id TEXT,
    stack_name TEXT,
    logical_resource_id TEXT,
    physical_resource_id TEXT,
    resource_type TEXT,
    resource_status TEXT,
    resource_status_reason TEXT
);`
	createIndexesStmt = `
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(event_timestamp);`
	insertSessionStmt = `INSERT INTO sessions(started_at, command, stack_name, region) VALUES(?, ?, ?, ?)`
	insertEventStmt   = `INSERT INTO events(session_id, event_id, event_timestamp, stack_id, stack_name, logical_resource_id, physical_resource_id, resource_type, resource_status, resource_status_reason) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// Session describes the run that produced the captured events.
type Session struct {
	Command   string
	StackName string
	Region    string
	StartedAt time.Time
}

// Writer persists stack events into a SQLite database, one session row per
// run. A nil Writer is valid and discards everything.
type Writer struct {
	db        *sql.DB
	insert    *sql.Stmt
	sessionID int64
}

// New initializes a Writer pointing at the given on-disk SQLite file and
// records the session.
func New(path string, session Session) (*Writer, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("capture path cannot be empty")
	}
	dir := filepath.Dir(p)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create capture directory")
		}
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, errors.Wrap(err, "open capture database")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, stmt := range []string{createSessionsStmt, createEventsStmt, createIndexesStmt} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "ensure capture schema")
		}
	}

	started := session.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	res, err := db.ExecContext(ctx, insertSessionStmt,
		started.UTC().Format(time.RFC3339Nano),
		session.Command,
		session.StackName,
		session.Region,
	)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "record capture session")
	}
	sessionID, err := res.LastInsertId()
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "resolve capture session id")
	}

	stmt, err := db.PrepareContext(ctx, insertEventStmt)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "prepare event insert")
	}
	return &Writer{
		db:        db,
		insert:    stmt,
		sessionID: sessionID,
	}, nil
}

// Close releases database resources.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	var firstErr error
	if w.insert != nil {
		if err := w.insert.Close(); err != nil {
			firstErr = errors.Wrap(err, "close event insert")
		}
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "close capture database")
		}
	}
	return firstErr
}

// Write stores the provided stack event under the writer's session.
func (w *Writer) Write(ctx context.Context, ev engine.StackEvent) error {
	if w == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := w.insert.ExecContext(
		ctx,
		w.sessionID,
		ev.EventID,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.StackID,
		ev.StackName,
		ev.LogicalResourceID,
		ev.PhysicalResourceID,
		ev.ResourceType,
		string(ev.ResourceStatus),
		ev.ResourceStatusReason,
	)
	return errors.Wrap(err, "record stack event")
}
