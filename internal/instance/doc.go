// Package instance prevents two supervisors from watching the same worker.
//
// A second supervisor would double-spawn the child and fight the first one's
// restart decisions, so acquisition is non-blocking and failure to acquire
// is fatal to the process. The lock is an OS-level flock held for the
// supervisor's entire lifetime and released by the kernel on any exit path.
package instance
