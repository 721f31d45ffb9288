package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/nerrad567/nodewatch/internal/supervisor"
)

// Journal configuration constants.
const (
	// dirPermissions is the permission mode for the journal directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the journal file.
	filePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// connectionTimeout is the timeout for verifying connectivity.
	connectionTimeout = 5 * time.Second

	// writeTimeout bounds each event insert so a locked database can never
	// stall the supervisor loop.
	writeTimeout = 2 * time.Second
)

// schema is applied on open. Additive-only: new columns must be nullable or
// carry defaults.
const schema = `
CREATE TABLE IF NOT EXISTS cycle_events (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	ts             TEXT    NOT NULL,
	state          TEXT    NOT NULL,
	detail         TEXT    NOT NULL DEFAULT '',
	restart_count  INTEGER NOT NULL DEFAULT 0,
	uptime_seconds REAL    NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cycle_events_ts ON cycle_events(ts);
`

// Logger defines the logging interface for the journal.
type Logger interface {
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Config contains journal configuration options.
// These map to the journal section of config.yaml.
type Config struct {
	// Path is the filesystem path to the SQLite journal file.
	// The directory will be created if it doesn't exist.
	Path string

	// WALMode enables Write-Ahead Logging for better concurrent access.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int
}

// Journal is a persistent record of supervisor cycle events, kept for
// post-mortem inspection of a flaky worker: when it restarted, why, and how
// long each run survived.
//
// Writes are best-effort. The journal implements supervisor.Recorder; a
// failed insert is logged at warning level and never surfaces to the loop.
type Journal struct {
	db     *sql.DB
	path   string
	logger Logger
}

// Entry is one recorded cycle event.
type Entry struct {
	ID           int64
	Time         time.Time
	State        string
	Detail       string
	RestartCount int
	Uptime       time.Duration
}

// Open creates the journal database, applying the schema if needed.
//
// Parameters:
//   - cfg: Journal configuration
//
// Returns:
//   - *Journal: Ready journal
//   - error: If the database cannot be opened or the schema fails
func Open(cfg Config) (*Journal, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// SQLite supports a single writer; one connection is all we need.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying journal connection: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("applying journal schema: %w", err)
	}

	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // First run creates the file later

	return &Journal{
		db:     db,
		path:   cfg.Path,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for the journal.
func (j *Journal) SetLogger(logger Logger) {
	j.logger = logger
}

// Record persists a supervisor event. Implements supervisor.Recorder.
// Failures are logged and swallowed; the supervisor loop never blocks on or
// aborts for journal problems.
func (j *Journal) Record(ev supervisor.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO cycle_events (ts, state, detail, restart_count, uptime_seconds)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.Time.UTC().Format(time.RFC3339Nano),
		string(ev.State),
		ev.Detail,
		ev.RestartCount,
		ev.Uptime.Seconds(),
	)
	if err != nil {
		j.logger.Warn("failed to record cycle event", "state", string(ev.State), "error", err)
	}
}

// Recent returns the most recent events, newest first.
//
// Parameters:
//   - ctx: Context for cancellation
//   - limit: Maximum number of entries to return
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, ts, state, detail, restart_count, uptime_seconds
		 FROM cycle_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying cycle events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		var uptimeSecs float64
		if err := rows.Scan(&e.ID, &ts, &e.State, &e.Detail, &e.RestartCount, &uptimeSecs); err != nil {
			return nil, fmt.Errorf("scanning cycle event: %w", err)
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
		e.Uptime = time.Duration(uptimeSecs * float64(time.Second))
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cycle events: %w", err)
	}

	return entries, nil
}

// Close releases the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}
