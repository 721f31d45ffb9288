package process

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeScript creates an executable shell script in dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(content), 0700); err != nil {
		t.Fatal(err)
	}
	return path
}

// waitForExit polls IsAlive until the child exits or the deadline passes.
func waitForExit(t *testing.T, r *Runner, c *Child, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !r.IsAlive(c) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("child did not exit within deadline")
}

func TestSpawn_MissingScript(t *testing.T) {
	r := NewRunner(nil, 0)
	logPath := filepath.Join(t.TempDir(), "worker.log")

	_, err := r.Spawn(filepath.Join(t.TempDir(), "absent.sh"), logPath)
	if err == nil {
		t.Fatal("Spawn() error = nil, want ErrSpawn")
	}
	if !errors.Is(err, ErrSpawn) {
		t.Errorf("Spawn() error = %v, want ErrSpawn", err)
	}
}

func TestSpawn_CapturesCombinedOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "worker.sh", "echo out line\necho err line >&2")
	logPath := filepath.Join(dir, "worker.log")

	r := NewRunner(nil, 0)
	child, err := r.Spawn(script, logPath)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	waitForExit(t, r, child, 5*time.Second)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), "out line") {
		t.Errorf("log missing stdout, got %q", data)
	}
	if !strings.Contains(string(data), "err line") {
		t.Errorf("log missing stderr, got %q", data)
	}
}

func TestSpawn_ChildStartTimeAndPID(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "worker.sh", "sleep 10")
	logPath := filepath.Join(dir, "worker.log")

	r := NewRunner(nil, 0)
	before := time.Now()
	child, err := r.Spawn(script, logPath)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	defer r.KillTree(child, time.Second)

	if child.PID() <= 0 {
		t.Errorf("PID() = %d, want > 0", child.PID())
	}
	if child.StartTime().Before(before) {
		t.Errorf("StartTime() = %v, want >= %v", child.StartTime(), before)
	}
	if !r.IsAlive(child) {
		t.Error("IsAlive() = false for a sleeping child")
	}
}

func TestIsAlive_NilAndExited(t *testing.T) {
	r := NewRunner(nil, 0)
	if r.IsAlive(nil) {
		t.Error("IsAlive(nil) = true, want false")
	}

	dir := t.TempDir()
	script := writeScript(t, dir, "worker.sh", "exit 0")
	child, err := r.Spawn(script, filepath.Join(dir, "worker.log"))
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	waitForExit(t, r, child, 5*time.Second)

	if r.IsAlive(child) {
		t.Error("IsAlive() = true after exit")
	}
}

func TestKillTree_Graceful(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "worker.sh", `trap 'exit 0' TERM
while true; do sleep 0.1; done`)
	logPath := filepath.Join(dir, "worker.log")

	r := NewRunner(nil, 0)
	child, err := r.Spawn(script, logPath)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond) // let the trap install

	start := time.Now()
	if err := r.KillTree(child, 5*time.Second); err != nil {
		t.Fatalf("KillTree() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("graceful kill took %v, expected well under the grace period", elapsed)
	}
	if r.IsAlive(child) {
		t.Error("IsAlive() = true after KillTree")
	}
}

func TestKillTree_ForcefulAfterGrace(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "worker.sh", `trap '' TERM
while true; do sleep 0.1; done`)
	logPath := filepath.Join(dir, "worker.log")

	r := NewRunner(nil, 0)
	child, err := r.Spawn(script, logPath)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := r.KillTree(child, time.Second); err != nil {
		t.Fatalf("KillTree() error = %v", err)
	}
	if r.IsAlive(child) {
		t.Error("IsAlive() = true after forceful kill")
	}
}

func TestKillTree_Idempotent(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "worker.sh", "exit 0")
	logPath := filepath.Join(dir, "worker.log")

	r := NewRunner(nil, 0)
	child, err := r.Spawn(script, logPath)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	waitForExit(t, r, child, 5*time.Second)

	if err := r.KillTree(child, time.Second); err != nil {
		t.Errorf("first KillTree() on dead child error = %v, want nil", err)
	}
	if err := r.KillTree(child, time.Second); err != nil {
		t.Errorf("second KillTree() on dead child error = %v, want nil", err)
	}
	if err := r.KillTree(nil, time.Second); err != nil {
		t.Errorf("KillTree(nil) error = %v, want nil", err)
	}
}

func TestKillTree_KillsWholeGroup(t *testing.T) {
	dir := t.TempDir()
	// The script spawns a grandchild that would outlive a single-process kill.
	script := writeScript(t, dir, "worker.sh", `sleep 30 &
wait`)
	logPath := filepath.Join(dir, "worker.log")

	r := NewRunner(nil, 0)
	child, err := r.Spawn(script, logPath)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := r.KillTree(child, 2*time.Second); err != nil {
		t.Fatalf("KillTree() error = %v", err)
	}
	waitForExit(t, r, child, 5*time.Second)
}

func TestSpawn_FeedsStdinScript(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "worker.sh", `read answer
echo "got:$answer"`)
	logPath := filepath.Join(dir, "worker.log")

	r := NewRunner([]string{"y"}, 50*time.Millisecond)
	child, err := r.Spawn(script, logPath)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	waitForExit(t, r, child, 5*time.Second)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), "got:y") {
		t.Errorf("log = %q, want stdin answer echoed", data)
	}
}

func TestSweepOrphans_PatternMatch(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "sweep_target_f8a1.sh", "sleep 30")
	logPath := filepath.Join(dir, "worker.log")

	r := NewRunner(nil, 0)
	child, err := r.Spawn(script, logPath)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	defer r.KillTree(child, time.Second)
	time.Sleep(100 * time.Millisecond)

	killed := r.SweepOrphans([]string{"sweep_target_f8a1"}, "", "")
	if killed < 1 {
		t.Errorf("SweepOrphans() killed = %d, want >= 1", killed)
	}
	waitForExit(t, r, child, 5*time.Second)
}

func TestSweepOrphans_NoMatch(t *testing.T) {
	r := NewRunner(nil, 0)
	if killed := r.SweepOrphans([]string{"no_such_process_pattern_93c2"}, "", ""); killed != 0 {
		t.Errorf("SweepOrphans() killed = %d, want 0", killed)
	}
}

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		cmdline  string
		patterns []string
		want     bool
	}{
		{"/bin/sh /opt/worker/run.sh", []string{"run.sh"}, true},
		{"/usr/bin/node server.js", []string{"run.sh", "server.js"}, true},
		{"/usr/bin/vim notes.txt", []string{"run.sh"}, false},
		{"anything", nil, false},
		{"anything", []string{""}, false},
	}

	for _, tt := range tests {
		if got := matchesPattern(tt.cmdline, tt.patterns); got != tt.want {
			t.Errorf("matchesPattern(%q, %v) = %v, want %v", tt.cmdline, tt.patterns, got, tt.want)
		}
	}
}

func TestReadStat_Self(t *testing.T) {
	comm, ppid, err := readStat(os.Getpid())
	if err != nil {
		t.Fatalf("readStat() error = %v", err)
	}
	if comm == "" {
		t.Error("readStat() comm is empty")
	}
	if ppid != os.Getppid() {
		t.Errorf("readStat() ppid = %d, want %d", ppid, os.Getppid())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("abcdefghij", 4); got != "abcd..." {
		t.Errorf("truncate() = %q, want abcd...", got)
	}
}
