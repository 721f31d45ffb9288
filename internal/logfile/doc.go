// Package logfile bounds disk usage of the child's output log.
//
// Before each child launch the supervisor rotates the live log: existing
// gzip archives shift up one slot (the oldest beyond the retention count is
// dropped), the current log is compressed into slot 1, and the live log is
// truncated so the new child starts writing into an empty file.
//
// Rotation is best-effort. A failed compression is logged and skipped; the
// truncation still happens so idle detection on the next cycle measures the
// new child, not stale output from the previous one.
package logfile
