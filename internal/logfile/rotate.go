package logfile

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
)

// filePermissions is the permission mode for rotated archives.
const filePermissions = 0600

// Logger defines the logging interface for the rotator.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// Rotator archives the live log between supervision cycles.
//
// Archives are numbered newest=1 to oldest=retention, named
// <live>.<n>.gz. Rotation only ever runs between cycles, never while a
// child is writing, so the live log has at most one writer at any time.
type Rotator struct {
	path      string
	retention int
	logger    Logger
}

// NewRotator creates a Rotator for the given live log path.
//
// Parameters:
//   - path: Path of the live log file
//   - retention: How many compressed archives to keep (minimum 1)
func NewRotator(path string, retention int) *Rotator {
	if retention < 1 {
		retention = 1
	}
	return &Rotator{
		path:      path,
		retention: retention,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the rotator.
func (r *Rotator) SetLogger(logger Logger) {
	r.logger = logger
}

// Rotate shifts existing archives up by one slot (evicting the oldest),
// compresses the current live log into slot 1, and truncates the live log.
//
// A missing live log is a no-op. Failure to compress is tolerated: the
// truncation still proceeds so the next run starts with a clean log. That
// trade-off loses one cycle of log data in the worst case, which is accepted
// to keep disk usage bounded.
//
// Returns:
//   - error: Only if the live log exists but cannot be truncated
func (r *Rotator) Rotate() error {
	if _, err := os.Stat(r.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat live log: %w", err)
	}

	// Evict the oldest slot, then shift the rest up.
	oldest := r.archivePath(r.retention)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("failed to evict oldest log archive", "path", oldest, "error", err)
	}
	for i := r.retention - 1; i >= 1; i-- {
		src := r.archivePath(i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := r.archivePath(i + 1)
		if err := os.Rename(src, dst); err != nil {
			r.logger.Warn("failed to shift log archive", "from", src, "to", dst, "error", err)
		}
	}

	if err := r.compress(r.path, r.archivePath(1)); err != nil {
		r.logger.Warn("failed to compress live log, truncating anyway", "error", err)
	}

	if err := os.Truncate(r.path, 0); err != nil {
		return fmt.Errorf("truncating live log: %w", err)
	}

	r.logger.Debug("log rotated", "path", r.path, "retention", r.retention)
	return nil
}

// archivePath returns the path of archive slot n.
func (r *Rotator) archivePath(n int) string {
	return fmt.Sprintf("%s.%d.gz", r.path, n)
}

// compress gzips src into dst.
func (r *Rotator) compress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening live log: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePermissions)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		return fmt.Errorf("compressing log: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finalising archive: %w", err)
	}

	return out.Close()
}
