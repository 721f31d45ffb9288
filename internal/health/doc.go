// Package health decides whether the supervised child needs a restart.
//
// Two independent checks run against the child's live log file:
//
//   - Idle detection: the log's last-modified time is older than a
//     configured threshold. A worker that stops writing output has almost
//     certainly hung, even if its process is still alive.
//   - Keyword detection: the log contains a known error string (for
//     example "CUDA out of memory"). Keywords are matched as literal
//     substrings, never as regular expressions.
//
// Both checks are read-only. The supervisor polls them on a fixed tick and
// restarts the child when either fires.
package health
