package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

// killPollInterval is how often liveness is checked while waiting for a
// process group to die after SIGTERM.
const killPollInterval = 500 * time.Millisecond

// logFilePermissions is the permission mode for the live log file.
const logFilePermissions = 0600

// ErrSpawn is returned when the child cannot be launched at all, typically
// because the script path is missing or not executable. The caller treats
// this as fatal for the current cycle only, not for the supervisor.
var ErrSpawn = errors.New("process: spawn failed")

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Child represents one spawned process group.
//
// The supervisor owns at most one Child at a time and clears its reference
// once the group is confirmed dead or termination has been issued. A Child
// is never shared across loop iterations.
type Child struct {
	cmd     *exec.Cmd
	pgid    int
	started time.Time

	exited atomic.Bool
	done   chan struct{}
}

// PID returns the process-group leader's PID.
func (c *Child) PID() int {
	if c == nil {
		return 0
	}
	return c.pgid
}

// StartTime returns when the child was spawned.
func (c *Child) StartTime() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.started
}

// Runner spawns and terminates the supervised child process group.
type Runner struct {
	logger Logger

	// stdinScript lines are fed to the child's stdin after stdinDelay to
	// auto-answer interactive prompts, then stdin is closed.
	stdinScript []string
	stdinDelay  time.Duration
}

// NewRunner creates a Runner.
//
// Parameters:
//   - stdinScript: Lines written to the child's stdin shortly after spawn
//   - stdinDelay: Fixed delay before the lines are written
func NewRunner(stdinScript []string, stdinDelay time.Duration) *Runner {
	return &Runner{
		logger:      noopLogger{},
		stdinScript: stdinScript,
		stdinDelay:  stdinDelay,
	}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
}

// Spawn launches the script as the leader of a new process group so the
// whole subtree can be signalled at once. The child's combined stdout and
// stderr are appended to the live log file; its working directory is the
// script's directory.
//
// Parameters:
//   - script: Path of the worker script to execute
//   - logPath: Path of the live log file
//
// Returns:
//   - *Child: Handle for the new process group
//   - error: ErrSpawn-wrapped if the child cannot be started
func (r *Runner) Spawn(script, logPath string) (*Child, error) {
	absScript, err := filepath.Abs(script)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving script path: %w", ErrSpawn, err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("%w: opening live log: %w", ErrSpawn, err)
	}

	cmd := exec.Command(absScript)
	cmd.Dir = filepath.Dir(absScript)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	// New process group: the child becomes the group leader, so signalling
	// -pgid reaches every descendant it spawns.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("%w: creating stdin pipe: %w", ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	child := &Child{
		cmd:     cmd,
		pgid:    cmd.Process.Pid,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	go r.feedStdin(child, stdin)

	// Reap the child as soon as it exits so IsAlive stays accurate and no
	// zombie lingers between polling ticks.
	go func() {
		err := cmd.Wait()
		child.exited.Store(true)
		close(child.done)
		logFile.Close()
		if err != nil {
			r.logger.Debug("child exited", "pid", child.pgid, "error", err)
		} else {
			r.logger.Debug("child exited", "pid", child.pgid)
		}
	}()

	r.logger.Info("child spawned",
		"script", absScript,
		"pid", child.pgid,
		"log", logPath,
	)

	return child, nil
}

// feedStdin writes the scripted input sequence after the fixed delay, then
// closes the child's stdin. A child that exits early cancels the wait.
func (r *Runner) feedStdin(child *Child, stdin io.WriteCloser) {
	defer stdin.Close()

	if len(r.stdinScript) == 0 {
		return
	}

	select {
	case <-time.After(r.stdinDelay):
	case <-child.done:
		return
	}

	input := strings.Join(r.stdinScript, "\n") + "\n"
	if _, err := io.WriteString(stdin, input); err != nil {
		r.logger.Debug("failed to feed stdin script", "pid", child.pgid, "error", err)
	}
}

// IsAlive reports whether the child process is still running. Non-blocking;
// a nil handle is not alive.
func (r *Runner) IsAlive(child *Child) bool {
	return child != nil && !child.exited.Load()
}

// KillTree terminates the child's entire process group: SIGTERM first, then
// liveness polls every 500ms up to the grace period, then SIGKILL to the
// group if it is still alive.
//
// Idempotent: calling on a nil or already-dead handle is a silent no-op.
//
// Parameters:
//   - child: Handle from Spawn; may be nil
//   - grace: How long to wait between SIGTERM and SIGKILL
//
// Returns:
//   - error: Only if the forceful kill itself fails; the caller logs this
//     and carries on (best-effort)
func (r *Runner) KillTree(child *Child, grace time.Duration) error {
	if !r.IsAlive(child) {
		return nil
	}

	r.logger.Info("terminating child process group", "pgid", child.pgid, "grace", grace)

	if err := syscall.Kill(-child.pgid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		// SIGTERM could not be delivered; escalate straight away rather
		// than waiting out a grace period that cannot help.
		r.logger.Warn("SIGTERM failed, escalating to SIGKILL", "pgid", child.pgid, "error", err)
		return r.forceKill(child)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		select {
		case <-child.done:
			r.logger.Info("child terminated gracefully", "pgid", child.pgid)
			return nil
		case <-time.After(killPollInterval):
		}
	}

	r.logger.Warn("grace period expired, sending SIGKILL", "pgid", child.pgid)
	return r.forceKill(child)
}

// forceKill sends SIGKILL to the process group and waits for the reaper.
func (r *Runner) forceKill(child *Child) error {
	if err := syscall.Kill(-child.pgid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("killing process group %d: %w", child.pgid, err)
	}
	<-child.done
	r.logger.Info("child killed", "pgid", child.pgid)
	return nil
}
