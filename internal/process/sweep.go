package process

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// procRoot is the proc filesystem mount point, replaceable in tests.
var procRoot = "/proc"

// childRuntimeNames are command names a worker subtree is expected to run
// under. Only processes with one of these names are candidates for the
// working-directory sweep; anything else sharing the directory is left alone.
var childRuntimeNames = map[string]bool{
	"node":    true,
	"nodejs":  true,
	"npm":     true,
	"npx":     true,
	"sh":      true,
	"bash":    true,
	"python":  true,
	"python3": true,
}

// shellNames are command names accepted as the parent of a swept process.
var shellNames = map[string]bool{
	"sh":   true,
	"bash": true,
	"dash": true,
	"zsh":  true,
}

// SweepOrphans force-kills processes the group kill may have missed.
//
// Two heuristics run over every process in /proc, both best-effort:
//
//  1. Pattern match: the process command line contains one of the
//     configured safety-net patterns.
//  2. Working-directory match: the process cwd equals the script's working
//     directory AND its command name is a known interpreter/shell AND its
//     parent's command name is itself a shell, a known child runtime, or
//     the worker script. The two-level parent check keeps unrelated
//     processes that merely share the directory out of the blast radius.
//
// Unreadable /proc entries (permission denied, process vanished mid-scan)
// are skipped silently; a failed kill is logged and skipped. The sweep never
// aborts the supervisor loop.
//
// Parameters:
//   - patterns: Command-line substrings to force-kill unconditionally
//   - workDir: The worker script's working directory
//   - scriptName: Base name of the worker script, accepted as a parent
//
// Returns:
//   - int: Number of processes killed
func (r *Runner) SweepOrphans(patterns []string, workDir, scriptName string) int {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		r.logger.Warn("orphan sweep: cannot read proc", "error", err)
		return 0
	}

	self := os.Getpid()
	killed := 0

	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}

		cmdline, err := readCmdline(pid)
		if err != nil || cmdline == "" {
			continue
		}

		if matchesPattern(cmdline, patterns) {
			if r.forceKillPID(pid, cmdline, "pattern match") {
				killed++
			}
			continue
		}

		if r.matchesWorkDir(pid, workDir, scriptName) {
			if r.forceKillPID(pid, cmdline, "working directory match") {
				killed++
			}
		}
	}

	if killed > 0 {
		r.logger.Info("orphan sweep complete", "killed", killed)
	}
	return killed
}

// matchesPattern reports whether the command line contains any pattern.
func matchesPattern(cmdline string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(cmdline, p) {
			return true
		}
	}
	return false
}

// matchesWorkDir applies the two-level working-directory heuristic.
func (r *Runner) matchesWorkDir(pid int, workDir, scriptName string) bool {
	if workDir == "" {
		return false
	}

	cwd, err := os.Readlink(filepath.Join(procRoot, strconv.Itoa(pid), "cwd"))
	if err != nil {
		// Usually permission denied or the process vanished mid-scan.
		return false
	}
	if cwd != workDir {
		return false
	}

	comm, ppid, err := readStat(pid)
	if err != nil || !childRuntimeNames[comm] {
		return false
	}

	parentComm, _, err := readStat(ppid)
	if err != nil {
		return false
	}

	return shellNames[parentComm] || childRuntimeNames[parentComm] || parentComm == scriptName
}

// forceKillPID sends SIGKILL to a single process, logging the outcome.
func (r *Runner) forceKillPID(pid int, cmdline, reason string) bool {
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		r.logger.Warn("orphan sweep: kill failed", "pid", pid, "error", err)
		return false
	}
	r.logger.Info("orphan sweep: killed process", "pid", pid, "reason", reason, "cmdline", truncate(cmdline, 120))
	return true
}

// readCmdline returns the process command line with NUL separators replaced
// by spaces.
func readCmdline(pid int) (string, error) {
	data, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " ")), nil
}

// readStat parses /proc/PID/stat for the command name and parent PID.
// The comm field is parenthesised and may itself contain spaces or
// parentheses, so parsing anchors on the last ')'.
func readStat(pid int) (comm string, ppid int, err error) {
	data, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return "", 0, err
	}

	s := string(data)
	open := strings.IndexByte(s, '(')
	closing := strings.LastIndexByte(s, ')')
	if open < 0 || closing < open {
		return "", 0, syscall.EINVAL
	}
	comm = s[open+1 : closing]

	// Fields after the comm: state ppid pgrp ...
	rest := strings.Fields(s[closing+1:])
	if len(rest) < 2 {
		return "", 0, syscall.EINVAL
	}
	ppid, err = strconv.Atoi(rest[1])
	if err != nil {
		return "", 0, err
	}

	return comm, ppid, nil
}

// truncate shortens s to at most n runes for log output.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
