package supervisor

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/nerrad567/nodewatch/internal/health"
	"github.com/nerrad567/nodewatch/internal/process"
)

// State identifies a supervisor loop state.
type State string

const (
	// StateStarting rotates the log and spawns a fresh child.
	StateStarting State = "starting"

	// StateRunning polls the health monitor while the child is alive.
	StateRunning State = "running"

	// StateTerminating kills the child's process tree and sweeps orphans.
	StateTerminating State = "terminating"

	// StateBackoff sleeps the current restart delay, then doubles it.
	StateBackoff State = "backoff"

	// StateCleanup is the forced transition on an external shutdown signal.
	StateCleanup State = "cleanup"
)

// Event describes one supervisor state transition for recording.
type Event struct {
	Time         time.Time
	State        State
	Detail       string
	RestartCount int
	Uptime       time.Duration
}

// Recorder receives supervisor events. Implementations must be best-effort:
// a recorder failure is the recorder's problem, never the loop's.
type Recorder interface {
	Record(ev Event)
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// runner is the slice of process.Runner the loop depends on.
type runner interface {
	Spawn(script, logPath string) (*process.Child, error)
	IsAlive(child *process.Child) bool
	KillTree(child *process.Child, grace time.Duration) error
	SweepOrphans(patterns []string, workDir, scriptName string) int
}

// monitor is the slice of health.Monitor the loop depends on.
type monitor interface {
	Check() (health.Signal, string)
}

// rotator is the slice of logfile.Rotator the loop depends on.
type rotator interface {
	Rotate() error
}

// Config holds the supervisor loop settings.
type Config struct {
	// Script is the worker script to supervise.
	Script string

	// LogPath is the live log file.
	LogPath string

	// PollInterval is the RUNNING-state health polling tick.
	PollInterval time.Duration

	// GracePeriod is the SIGTERM-to-SIGKILL grace for tree kills.
	GracePeriod time.Duration

	// BackoffInitial and BackoffMax bound the restart delay.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// SweepPatterns are the safety-net patterns for the orphan sweep.
	SweepPatterns []string
}

// Supervisor drives repeated cycles of rotate, spawn, monitor, terminate and
// backoff for a single child process tree.
//
// All mutable loop state (the backoff counter, the current child handle, the
// cleanup guard) lives on this struct so isolated instances can be
// constructed in tests; there is no package-level state.
type Supervisor struct {
	cfg     Config
	runner  runner
	monitor monitor
	rotator rotator
	logger  Logger

	recorders []Recorder

	backoff *Backoff

	// child is owned exclusively by the loop: set in STARTING, cleared once
	// the group is confirmed dead or termination has been issued.
	child *process.Child

	// restartCount is the number of completed restart cycles.
	restartCount int

	// cleanupDone guarantees the cleanup pass runs exactly once even if
	// several shutdown signals arrive.
	cleanupDone atomic.Bool
}

// New creates a Supervisor.
//
// Parameters:
//   - cfg: Loop settings; BackoffMax below BackoffInitial is clamped
//   - r: Process runner
//   - m: Health monitor
//   - rot: Log rotator
func New(cfg Config, r runner, m monitor, rot rotator) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Second
	}
	return &Supervisor{
		cfg:     cfg,
		runner:  r,
		monitor: m,
		rotator: rot,
		logger:  noopLogger{},
		backoff: NewBackoff(cfg.BackoffInitial, cfg.BackoffMax),
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// AddRecorder registers an event recorder (journal, notifier, metrics).
func (s *Supervisor) AddRecorder(rec Recorder) {
	s.recorders = append(s.recorders, rec)
}

// RestartCount returns the number of completed restart cycles.
func (s *Supervisor) RestartCount() int {
	return s.restartCount
}

// Run executes the supervision loop until ctx is cancelled. There is no
// other terminal state: the loop restarts the child forever.
//
// On cancellation the cleanup pass (tree kill plus orphan sweep) runs
// exactly once before Run returns, even if cancellation races a state
// transition.
func (s *Supervisor) Run(ctx context.Context) {
	state := StateStarting
	for {
		// Cancellation is checked at the top of every state so a shutdown
		// signal is honoured within one transition.
		select {
		case <-ctx.Done():
			state = StateCleanup
		default:
		}

		if state == StateCleanup {
			s.cleanup()
			return
		}

		switch state {
		case StateStarting:
			state = s.runStarting()
		case StateRunning:
			state = s.runRunning(ctx)
		case StateTerminating:
			state = s.runTerminating("health signal")
		case StateBackoff:
			state = s.runBackoff(ctx)
		}
	}
}

// runStarting rotates the log and spawns a fresh child.
func (s *Supervisor) runStarting() State {
	s.emit(StateStarting, "")

	if err := s.rotator.Rotate(); err != nil {
		// Best-effort: a failed rotation never blocks a restart.
		s.logger.Warn("log rotation failed", "error", err)
	}

	child, err := s.runner.Spawn(s.cfg.Script, s.cfg.LogPath)
	if err != nil {
		// Fatal to this cycle only; the supervisor itself keeps going.
		s.logger.Error("failed to spawn child", "error", err)
		s.emit(StateBackoff, "spawn failed")
		return StateBackoff
	}

	s.child = child
	s.emit(StateRunning, "")
	return StateRunning
}

// runRunning polls the health monitor on the configured tick while the
// child stays alive.
func (s *Supervisor) runRunning(ctx context.Context) State {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return StateCleanup
		case <-ticker.C:
		}

		if !s.runner.IsAlive(s.child) {
			s.logger.Warn("child exited on its own", "pid", s.child.PID())
			s.finishCycle("child exited")
			return StateBackoff
		}

		sig, detail := s.monitor.Check()
		if sig != health.SignalNone {
			s.logger.Warn("distress signal detected", "signal", sig.String(), "detail", detail)
			s.emit(StateTerminating, detail)
			return StateTerminating
		}
	}
}

// runTerminating kills the child's tree, sweeps orphans and finishes the
// cycle.
func (s *Supervisor) runTerminating(reason string) State {
	s.killAndSweep()
	s.finishCycle(reason)
	return StateBackoff
}

// runBackoff sleeps the current delay, then doubles it for next time.
func (s *Supervisor) runBackoff(ctx context.Context) State {
	delay := s.backoff.Next()
	s.logger.Info("backing off before restart", "delay", delay, "next_delay", s.backoff.Current())

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return StateCleanup
	case <-timer.C:
		return StateStarting
	}
}

// killAndSweep terminates the child tree and runs the orphan sweep. A failed
// forceful kill is logged and tolerated; the loop never aborts on it.
func (s *Supervisor) killAndSweep() {
	if err := s.runner.KillTree(s.child, s.cfg.GracePeriod); err != nil {
		s.logger.Warn("forceful kill failed", "error", err)
	}
	s.runner.SweepOrphans(s.cfg.SweepPatterns, s.workDir(), filepath.Base(s.cfg.Script))
}

// finishCycle clears the child handle, counts the restart and records the
// completed cycle with its uptime.
func (s *Supervisor) finishCycle(reason string) {
	var uptime time.Duration
	if s.child != nil {
		uptime = time.Since(s.child.StartTime())
	}
	s.child = nil
	s.restartCount++

	s.logger.Info("cycle finished",
		"reason", reason,
		"uptime", uptime.Round(time.Second),
		"restarts", s.restartCount,
	)
	s.record(Event{
		Time:         time.Now(),
		State:        StateBackoff,
		Detail:       reason,
		RestartCount: s.restartCount,
		Uptime:       uptime,
	})
}

// cleanup is the shutdown pass: kill the tree, sweep orphans, record. Runs
// exactly once; later calls are no-ops.
func (s *Supervisor) cleanup() {
	if !s.cleanupDone.CompareAndSwap(false, true) {
		return
	}

	s.logger.Info("shutdown signal received, cleaning up")
	s.emit(StateCleanup, "shutdown")
	s.killAndSweep()
	s.child = nil
	s.logger.Info("cleanup complete")
}

// emit logs and records a state transition.
func (s *Supervisor) emit(state State, detail string) {
	if detail != "" {
		s.logger.Info("state transition", "state", string(state), "detail", detail)
	} else {
		s.logger.Info("state transition", "state", string(state))
	}
	s.record(Event{
		Time:         time.Now(),
		State:        state,
		Detail:       detail,
		RestartCount: s.restartCount,
	})
}

// record fans an event out to all recorders.
func (s *Supervisor) record(ev Event) {
	for _, rec := range s.recorders {
		rec.Record(ev)
	}
}

// workDir returns the script's working directory for the orphan sweep.
func (s *Supervisor) workDir() string {
	abs, err := filepath.Abs(s.cfg.Script)
	if err != nil {
		return ""
	}
	return filepath.Dir(abs)
}
