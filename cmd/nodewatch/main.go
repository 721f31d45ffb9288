// nodewatch - worker process watchdog
//
// This is the main entry point for the nodewatch daemon. nodewatch keeps a
// single long-running worker script alive:
//   - Spawns the script as a process group with its output captured to a log
//   - Watches the log for stalls and fatal error keywords
//   - Kills the whole process tree gracefully, then forcefully
//   - Restarts with exponential backoff, forever
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/nodewatch/internal/health"
	"github.com/nerrad567/nodewatch/internal/infrastructure/config"
	"github.com/nerrad567/nodewatch/internal/infrastructure/journal"
	"github.com/nerrad567/nodewatch/internal/infrastructure/logging"
	"github.com/nerrad567/nodewatch/internal/infrastructure/metrics"
	"github.com/nerrad567/nodewatch/internal/infrastructure/mqtt"
	"github.com/nerrad567/nodewatch/internal/instance"
	"github.com/nerrad567/nodewatch/internal/logfile"
	"github.com/nerrad567/nodewatch/internal/process"
	"github.com/nerrad567/nodewatch/internal/supervisor"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path, used when -config is not given and
// NODEWATCH_CONFIG is unset.
const defaultConfigPath = "configs/config.yaml"

// cliOptions holds the parsed command line flags. Only flags the user
// actually passed override the configuration file.
type cliOptions struct {
	configPath   string
	script       string
	logFile      string
	idleSeconds  int
	keywordsFile string
	noCase       bool
	backoffStart int
	backoffMax   int

	// set records which flags appeared on the command line.
	set map[string]bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		// The FlagSet already printed the problem and usage.
		os.Exit(1)
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses the command line into cliOptions.
//
// Returns:
//   - *cliOptions: Parsed options with the set map populated
//   - error: flag.ErrHelp for -h, or a parse error for unknown flags
func parseFlags(args []string) (*cliOptions, error) {
	opts := &cliOptions{set: map[string]bool{}}

	fs := flag.NewFlagSet("nodewatch", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to config.yaml")
	fs.StringVar(&opts.script, "script", "", "worker script to supervise")
	fs.StringVar(&opts.logFile, "log", "", "live log file for the worker's output")
	fs.IntVar(&opts.idleSeconds, "idle", 0, "seconds without log writes before the worker is considered stalled")
	fs.StringVar(&opts.keywordsFile, "keywords", "", "file with one fatal error keyword per line")
	fs.BoolVar(&opts.noCase, "nocase", false, "match error keywords case-insensitively")
	fs.IntVar(&opts.backoffStart, "backoff-start", 0, "initial restart delay in seconds")
	fs.IntVar(&opts.backoffMax, "backoff-max", 0, "maximum restart delay in seconds")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		opts.set[f.Name] = true
	})

	return opts, nil
}

// configPath resolves the configuration file path. Flag wins over the
// NODEWATCH_CONFIG environment variable; if neither is given, the default
// path is used only when it exists so a bare invocation still starts.
func configPath(opts *cliOptions) string {
	if opts.set["config"] {
		return opts.configPath
	}
	if path := os.Getenv("NODEWATCH_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// applyFlags overlays command line flags onto the loaded configuration.
// Flags are the highest precedence layer, above file and environment.
func applyFlags(cfg *config.Config, opts *cliOptions) {
	if opts.set["script"] {
		cfg.Watchdog.Script = opts.script
	}
	if opts.set["log"] {
		cfg.Watchdog.LogFile = opts.logFile
	}
	if opts.set["idle"] {
		cfg.Watchdog.IdleThresholdSeconds = opts.idleSeconds
	}
	if opts.set["keywords"] {
		cfg.Watchdog.KeywordsFile = opts.keywordsFile
	}
	if opts.set["nocase"] {
		cfg.Watchdog.CaseInsensitive = opts.noCase
	}
	if opts.set["backoff-start"] {
		cfg.Watchdog.BackoffInitialSeconds = opts.backoffStart
	}
	if opts.set["backoff-max"] {
		cfg.Watchdog.BackoffMaxSeconds = opts.backoffMax
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Parsed command line flags
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts *cliOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting nodewatch",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	path := configPath(opts)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if path != "" {
		log.Info("configuration loaded", "path", path)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Claim the single-instance lock before touching anything else. A second
	// nodewatch fighting over the same worker would double-spawn it.
	lock, err := instance.Acquire(cfg.Watchdog.LockFile)
	switch {
	case errors.Is(err, instance.ErrAlreadyRunning):
		return fmt.Errorf("another nodewatch holds %s: %w", cfg.Watchdog.LockFile, err)
	case err != nil:
		// The guard is a safety net; run degraded rather than refuse to start.
		log.Warn("instance lock unavailable, continuing without it", "error", err)
	default:
		log.Info("instance lock acquired", "path", lock.Path())
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			log.Warn("error releasing instance lock", "error", releaseErr)
		}
	}()

	// Resolve error keywords
	keywords := config.DefaultKeywords
	if cfg.Watchdog.KeywordsFile != "" {
		loaded, loadErr := health.LoadKeywords(cfg.Watchdog.KeywordsFile)
		if loadErr != nil {
			log.Warn("keywords file unreadable, using built-in list",
				"path", cfg.Watchdog.KeywordsFile,
				"error", loadErr,
			)
		} else {
			keywords = loaded
			log.Info("keywords loaded",
				"path", cfg.Watchdog.KeywordsFile,
				"count", len(keywords),
			)
		}
	}

	// Build the supervision components
	runner := process.NewRunner(cfg.Watchdog.StdinScript, cfg.StdinDelay())
	runner.SetLogger(log)

	monitor := health.NewMonitor(
		cfg.Watchdog.LogFile,
		cfg.IdleThreshold(),
		keywords,
		cfg.Watchdog.CaseInsensitive,
	)

	rotator := logfile.NewRotator(cfg.Watchdog.LogFile, cfg.Watchdog.RotationRetention)
	rotator.SetLogger(log)

	sup := supervisor.New(supervisor.Config{
		Script:         cfg.Watchdog.Script,
		LogPath:        cfg.Watchdog.LogFile,
		PollInterval:   cfg.PollInterval(),
		GracePeriod:    cfg.GracePeriod(),
		BackoffInitial: cfg.BackoffInitial(),
		BackoffMax:     cfg.BackoffMax(),
		SweepPatterns:  cfg.Watchdog.SweepPatterns,
	}, runner, monitor, rotator)
	sup.SetLogger(log)

	// Open the cycle journal (optional)
	if cfg.Journal.Enabled {
		jrnl, openErr := journal.Open(journal.Config{
			Path:        cfg.Journal.Path,
			WALMode:     cfg.Journal.WALMode,
			BusyTimeout: cfg.Journal.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening journal: %w", openErr)
		}
		defer func() {
			log.Info("closing journal")
			if closeErr := jrnl.Close(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
		}()
		jrnl.SetLogger(log)
		sup.AddRecorder(jrnl)
		log.Info("journal opened", "path", cfg.Journal.Path)
	} else {
		log.Info("journal disabled")
	}

	// Connect the MQTT status notifier (optional)
	if cfg.MQTT.Enabled {
		notifier, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := notifier.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		notifier.SetLogger(log)
		sup.AddRecorder(notifier)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
			"client_id", cfg.MQTT.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect the InfluxDB metrics writer (optional)
	if cfg.Metrics.Enabled {
		metricsClient, connErr := metrics.Connect(cfg.Metrics)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			metricsClient.Close()
		}()
		metricsClient.SetLogger(log)
		sup.AddRecorder(metricsClient)
		log.Info("InfluxDB connected",
			"url", cfg.Metrics.URL,
			"org", cfg.Metrics.Org,
			"bucket", cfg.Metrics.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	log.Info("supervision starting",
		"script", cfg.Watchdog.Script,
		"log_file", cfg.Watchdog.LogFile,
		"idle_threshold", cfg.IdleThreshold().String(),
		"backoff_initial", cfg.BackoffInitial().String(),
		"backoff_max", cfg.BackoffMax().String(),
	)

	// Block in the supervision loop until the context is cancelled. The
	// loop's cleanup pass has already killed the worker tree by the time
	// Run returns.
	sup.Run(ctx)

	log.Info("nodewatch stopped", "restarts", sup.RestartCount())
	return nil
}
