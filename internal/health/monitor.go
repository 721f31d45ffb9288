package health

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

// Signal classifies the distress condition a check detected.
type Signal int

const (
	// SignalNone means the child looks healthy.
	SignalNone Signal = iota

	// SignalIdle means the log has not been written to for longer than the
	// configured threshold.
	SignalIdle

	// SignalKeyword means the log contains one of the configured error
	// keywords.
	SignalKeyword
)

// String returns a human-readable name for the signal.
func (s Signal) String() string {
	switch s {
	case SignalIdle:
		return "idle"
	case SignalKeyword:
		return "keyword"
	default:
		return "none"
	}
}

// Monitor inspects the child's live log for distress signals.
//
// Both checks are pure read-only queries with no side effects; they are safe
// to call at any polling tick. The monitor never holds the log file open
// between ticks, so it cannot interfere with the child's writes.
type Monitor struct {
	logPath         string
	idleThreshold   time.Duration
	keywords        []string
	caseInsensitive bool

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewMonitor creates a Monitor for the given live log.
//
// Parameters:
//   - logPath: Path of the live log file the child writes to
//   - idleThreshold: How long the log may go unmodified before SignalIdle
//   - keywords: Literal substrings that trigger SignalKeyword
//   - caseInsensitive: Whether keyword matching ignores case
func NewMonitor(logPath string, idleThreshold time.Duration, keywords []string, caseInsensitive bool) *Monitor {
	return &Monitor{
		logPath:         logPath,
		idleThreshold:   idleThreshold,
		keywords:        keywords,
		caseInsensitive: caseInsensitive,
		now:             time.Now,
	}
}

// Check runs the idle check followed by the keyword check and reports the
// first signal found.
//
// Returns:
//   - Signal: The detected signal, or SignalNone
//   - string: Detail for logging (matched keyword, idle duration)
func (m *Monitor) Check() (Signal, string) {
	if idle, age := m.isIdle(); idle {
		return SignalIdle, fmt.Sprintf("log idle for %s (threshold %s)", age.Round(time.Second), m.idleThreshold)
	}
	if ok, kw := m.hasErrorSignal(); ok {
		return SignalKeyword, fmt.Sprintf("log contains %q", kw)
	}
	return SignalNone, ""
}

// IsIdle reports whether the live log's last-modified time is older than the
// idle threshold. A missing log file is not idle: the child may simply not
// have produced output yet, so it is too early to judge.
func (m *Monitor) IsIdle() bool {
	idle, _ := m.isIdle()
	return idle
}

func (m *Monitor) isIdle() (bool, time.Duration) {
	info, err := os.Stat(m.logPath)
	if err != nil {
		return false, 0
	}
	age := m.now().Sub(info.ModTime())
	return age > m.idleThreshold, age
}

// HasErrorSignal reports whether the live log currently contains any of the
// configured keywords as a literal substring. The first match wins.
func (m *Monitor) HasErrorSignal() bool {
	ok, _ := m.hasErrorSignal()
	return ok
}

func (m *Monitor) hasErrorSignal() (bool, string) {
	if len(m.keywords) == 0 {
		return false, ""
	}

	f, err := os.Open(m.logPath)
	if err != nil {
		return false, ""
	}
	defer f.Close()

	keywords := m.keywords
	if m.caseInsensitive {
		keywords = make([]string, len(m.keywords))
		for i, kw := range m.keywords {
			keywords[i] = strings.ToLower(kw)
		}
	}

	// Scan line by line so a large log is never held in memory at once.
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m.caseInsensitive {
			line = strings.ToLower(line)
		}
		for i, kw := range keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(line, kw) {
				return true, m.keywords[i]
			}
		}
	}

	return false, ""
}

// LoadKeywords reads a plain-text keyword file: one literal substring per
// line, blank lines ignored. Leading and trailing whitespace is trimmed.
//
// Parameters:
//   - path: Path to the keywords file
//
// Returns:
//   - []string: The keywords, in file order
//   - error: If the file cannot be read
func LoadKeywords(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keywords file: %w", err)
	}

	var keywords []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		keywords = append(keywords, line)
	}

	return keywords, nil
}
