// Package journal provides a SQLite-backed record of supervisor cycles.
//
// Every state transition and completed restart cycle is appended to a
// single cycle_events table, giving operators a durable answer to "when did
// the worker restart last night, and why" without scraping logs.
//
// The journal is optional (journal.enabled in config.yaml) and strictly
// best-effort: insert failures are logged at warning level and the
// supervisor loop carries on.
//
// Schema changes are additive-only: new columns must be NULLABLE or carry
// DEFAULT values so old journal files keep working.
package journal
