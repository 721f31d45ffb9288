// Package config provides configuration loading for nodewatch.
//
// Configuration is resolved once at startup into an immutable Config:
//
//  1. Hardcoded defaults
//  2. YAML file values (optional, -config flag)
//  3. Environment variables (NODEWATCH_SECTION_KEY)
//  4. CLI flag overrides (applied by cmd/nodewatch)
//
// Validation runs after all overrides are applied. Invalid values are
// rejected before the supervisor loop starts, with one exception: a backoff
// maximum below the initial delay is clamped up to the initial delay.
//
// Example config.yaml:
//
//	watchdog:
//	  script: ./run_worker.sh
//	  log_file: ./logs/worker.log
//	  idle_threshold_seconds: 900
//	  backoff_initial_seconds: 3
//	  backoff_max_seconds: 60
//	logging:
//	  level: "info"
//	  format: "text"
package config
