package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SnapshotCacheEnabled gates the redis read-through cache for current snapshots.
//
// Set via env:
// - ENABLE_SNAPSHOT_CACHE=true
func SnapshotCacheEnabled() bool {
	return boolFromEnv("ENABLE_SNAPSHOT_CACHE")
}

// SnapshotCacheTTL is the TTL for cached current snapshots.
//
// Env: SNAPSHOT_CACHE_TTL_SECONDS (default 120s)
func SnapshotCacheTTL() time.Duration {
	ttl := 120
	if v := strings.TrimSpace(os.Getenv("SNAPSHOT_CACHE_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = n
		}
	}
	return time.Duration(ttl) * time.Second
}

// DriftAlertsEnabled gates Pub/Sub publication when a validation run detects
// drift or blocks finalization.
//
// Set via env:
// - ENABLE_DRIFT_ALERTS=true
func DriftAlertsEnabled() bool {
	return boolFromEnv("ENABLE_DRIFT_ALERTS")
}

// ValidationWorkers bounds the fan-out of batch validation so a run does not
// overwhelm the reporting database.
//
// Env: VALIDATION_WORKERS (default 4)
func ValidationWorkers() int {
	if v := strings.TrimSpace(os.Getenv("VALIDATION_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 4
}

// ValidationReportTimeout is the per-report recompute budget. A slow or hung
// report function is recorded as a compute error, never a crash of the run.
//
// Env: VALIDATION_REPORT_TIMEOUT_SECONDS (default 30s)
func ValidationReportTimeout() time.Duration {
	secs := 30
	if v := strings.TrimSpace(os.Getenv("VALIDATION_REPORT_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			secs = n
		}
	}
	return time.Duration(secs) * time.Second
}
