// Package supervisor contains the watchdog's top-level control loop.
//
// The loop is a sequential state machine:
//
//	STARTING -> RUNNING -> TERMINATING -> BACKOFF -> STARTING -> ...
//
// STARTING rotates the log and spawns the child. RUNNING polls the health
// monitor on a fixed tick; a child that exits on its own short-circuits
// straight to BACKOFF, a distress signal goes through TERMINATING first.
// TERMINATING kills the process tree (graceful then forceful) and sweeps
// for orphaned subprocesses. BACKOFF sleeps the current restart delay and
// doubles it, capped at the configured maximum, never resetting.
//
// There is no terminal state. An external shutdown signal forces a single
// CLEANUP pass (tree kill plus sweep) and then Run returns; the pass is
// guarded so repeated signals cannot double-run destructive operations.
//
// The loop is single-threaded and cooperative: the child runs concurrently
// as an OS process, observed only through signals and the log file, never
// through shared memory.
package supervisor
