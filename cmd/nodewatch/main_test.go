package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/nodewatch/internal/infrastructure/config"
	"github.com/nerrad567/nodewatch/internal/instance"
)

// TestParseFlags_Help verifies -h surfaces flag.ErrHelp for exit code 0.
func TestParseFlags_Help(t *testing.T) {
	_, err := parseFlags([]string{"-h"})
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("parseFlags(-h) error = %v, want flag.ErrHelp", err)
	}
}

// TestParseFlags_UnknownFlag verifies unknown flags are rejected.
func TestParseFlags_UnknownFlag(t *testing.T) {
	_, err := parseFlags([]string{"-definitely-not-a-flag"})
	if err == nil {
		t.Fatal("parseFlags() should fail on unknown flag")
	}
	if errors.Is(err, flag.ErrHelp) {
		t.Error("unknown flag must not be reported as help")
	}
}

// TestParseFlags_TracksSetFlags verifies only passed flags are marked set.
func TestParseFlags_TracksSetFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-script", "/opt/worker.sh", "-idle", "300"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}

	if !opts.set["script"] || !opts.set["idle"] {
		t.Errorf("set = %v, want script and idle marked", opts.set)
	}
	if opts.set["log"] || opts.set["nocase"] {
		t.Errorf("set = %v, unpassed flags must not be marked", opts.set)
	}
	if opts.script != "/opt/worker.sh" {
		t.Errorf("script = %q, want /opt/worker.sh", opts.script)
	}
	if opts.idleSeconds != 300 {
		t.Errorf("idleSeconds = %d, want 300", opts.idleSeconds)
	}
}

// TestApplyFlags_OverridesOnlySetFlags verifies flag precedence over config.
func TestApplyFlags_OverridesOnlySetFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-script", "/opt/worker.sh", "-backoff-start", "7"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}

	cfg := mustLoadDefaults(t)
	originalLog := cfg.Watchdog.LogFile
	originalIdle := cfg.Watchdog.IdleThresholdSeconds

	applyFlags(cfg, opts)

	if cfg.Watchdog.Script != "/opt/worker.sh" {
		t.Errorf("Script = %q, want /opt/worker.sh", cfg.Watchdog.Script)
	}
	if cfg.Watchdog.BackoffInitialSeconds != 7 {
		t.Errorf("BackoffInitialSeconds = %d, want 7", cfg.Watchdog.BackoffInitialSeconds)
	}
	if cfg.Watchdog.LogFile != originalLog {
		t.Errorf("LogFile = %q, unpassed flag must not override", cfg.Watchdog.LogFile)
	}
	if cfg.Watchdog.IdleThresholdSeconds != originalIdle {
		t.Errorf("IdleThresholdSeconds = %d, unpassed flag must not override", cfg.Watchdog.IdleThresholdSeconds)
	}
}

// TestConfigPath_FlagWinsOverEnv verifies -config beats NODEWATCH_CONFIG.
func TestConfigPath_FlagWinsOverEnv(t *testing.T) {
	t.Setenv("NODEWATCH_CONFIG", "/env/config.yaml")

	opts, err := parseFlags([]string{"-config", "/flag/config.yaml"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}

	if got := configPath(opts); got != "/flag/config.yaml" {
		t.Errorf("configPath() = %q, want /flag/config.yaml", got)
	}
}

// TestConfigPath_EnvOverride verifies environment variable override.
func TestConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("NODEWATCH_CONFIG", "/custom/path/config.yaml")

	opts, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}

	if got := configPath(opts); got != "/custom/path/config.yaml" {
		t.Errorf("configPath() = %q, want /custom/path/config.yaml", got)
	}
}

// TestRun_InvalidConfig verifies run fails with an unreadable config path.
func TestRun_InvalidConfig(t *testing.T) {
	opts, err := parseFlags([]string{"-config", "/nonexistent/path/config.yaml"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if runErr := run(ctx, opts); runErr == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_LockHeld verifies a second instance refuses to start.
func TestRun_LockHeld(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "nodewatch.lock")

	lock, err := instance.Acquire(lockPath)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lock.Release()

	opts := writeTestConfig(t, tmpDir, lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := run(ctx, opts)
	if !errors.Is(runErr, instance.ErrAlreadyRunning) {
		t.Errorf("run() error = %v, want ErrAlreadyRunning", runErr)
	}
}

// TestRun_SupervisesUntilCancelled runs a real worker briefly and verifies a
// clean shutdown when the context expires.
func TestRun_SupervisesUntilCancelled(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "run.lock")
	opts := writeTestConfig(t, tmpDir, lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if runErr := run(ctx, opts); runErr != nil {
		t.Errorf("run() error = %v, want nil on cancellation", runErr)
	}
}

// writeTestConfig writes a minimal config supervising a real shell script
// with all optional recorders disabled, and returns options pointing at it.
func writeTestConfig(t *testing.T, tmpDir, lockPath string) *cliOptions {
	t.Helper()

	scriptPath := filepath.Join(tmpDir, "worker.sh")
	script := "#!/bin/sh\nwhile true; do echo tick; sleep 1; done\n"
	if err := os.WriteFile(scriptPath, []byte(script), 0700); err != nil {
		t.Fatalf("failed to write test script: %v", err)
	}

	configContent := `
watchdog:
  script: "` + scriptPath + `"
  log_file: "` + filepath.Join(tmpDir, "worker.log") + `"
  idle_threshold_seconds: 900
  poll_interval_seconds: 1
  backoff_initial_seconds: 1
  backoff_max_seconds: 2
  lock_file: "` + lockPath + `"

journal:
  enabled: false

mqtt:
  enabled: false

metrics:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
`
	configFile := filepath.Join(tmpDir, "test-config.yaml")
	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	opts, err := parseFlags([]string{"-config", configFile})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	return opts
}

// mustLoadDefaults loads the defaults-only configuration.
func mustLoadDefaults(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	return cfg
}
