// Package process spawns and terminates the supervised worker as an OS
// process group.
//
// The child is launched as the leader of a new process group so that one
// signal to -pgid reaches every descendant it spawns. Its combined stdout
// and stderr stream into the live log file, which is the only channel the
// supervisor observes the child through. A short scripted stdin sequence is
// sent after a fixed delay to auto-answer interactive prompts.
//
// Termination escalates: SIGTERM to the group, liveness polls through a
// grace period, then SIGKILL to the group. KillTree is idempotent; a nil or
// dead handle is a no-op.
//
// SweepOrphans is the safety net for subprocesses the group kill missed,
// typically children that detached into their own group. It matches either
// configured command-line patterns or a narrow working-directory heuristic
// with a two-level parent-name check. Both heuristics carry documented
// false-negative risk and are intentionally conservative about
// false positives.
package process
