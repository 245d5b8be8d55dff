// Package config loads and validates the process's environment-driven
// settings into a single immutable Config, constructed once in main and
// passed down by dependency injection.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variable names.
const (
	EnvReplayFolder          = "REPLAY_FOLDER"
	EnvDBPath                = "DB_PATH"
	EnvMinFreeSpaceRatio     = "MIN_FREE_SPACE_RATIO"
	EnvMinReplayRetentionMiB = "MIN_REPLAY_RETENTION_MiB"
	EnvMinExpectedDiskGiB    = "MIN_EXPECTED_DISK_GiB"
	EnvCleanIntervalSeconds  = "CLEAN_INTERVAL_SECONDS"
)

const (
	mib = 1 << 20
	gib = 1 << 30
)

// Config is the validated set of parameters the process needs to run.
// Immutable once constructed; every field is resolved once at startup.
type Config struct {
	ReplayFolder            string
	DBPath                  string
	MinFreeSpaceRatio       float64
	MinReplayRetentionBytes int64
	MinExpectedDiskBytes    int64
	CleanInterval           time.Duration
}

// Load reads and validates Config from the process environment.
func Load() (Config, error) {
	replayFolder := os.Getenv(EnvReplayFolder)
	if replayFolder == "" {
		return Config{}, fmt.Errorf("config: missing required %s", EnvReplayFolder)
	}

	dbPath := os.Getenv(EnvDBPath)
	if dbPath == "" {
		return Config{}, fmt.Errorf("config: missing required %s", EnvDBPath)
	}

	ratio, err := parseFloat(EnvMinFreeSpaceRatio)
	if err != nil {
		return Config{}, err
	}
	if ratio <= 0 || ratio >= 1 {
		return Config{}, fmt.Errorf("config: %s must be in (0, 1), got %v", EnvMinFreeSpaceRatio, ratio)
	}

	retentionMiB, err := parseInt(EnvMinReplayRetentionMiB)
	if err != nil {
		return Config{}, err
	}
	if retentionMiB < 0 {
		return Config{}, fmt.Errorf("config: %s must be non-negative, got %d", EnvMinReplayRetentionMiB, retentionMiB)
	}

	expectedGiB, err := parseInt(EnvMinExpectedDiskGiB)
	if err != nil {
		return Config{}, err
	}
	if expectedGiB < 0 {
		return Config{}, fmt.Errorf("config: %s must be non-negative, got %d", EnvMinExpectedDiskGiB, expectedGiB)
	}

	intervalSeconds, err := parseInt(EnvCleanIntervalSeconds)
	if err != nil {
		return Config{}, err
	}
	if intervalSeconds <= 0 {
		return Config{}, fmt.Errorf("config: %s must be positive, got %d", EnvCleanIntervalSeconds, intervalSeconds)
	}

	return Config{
		ReplayFolder:            replayFolder,
		DBPath:                  dbPath,
		MinFreeSpaceRatio:       ratio,
		MinReplayRetentionBytes: retentionMiB * mib,
		MinExpectedDiskBytes:    expectedGiB * gib,
		CleanInterval:           time.Duration(intervalSeconds) * time.Second,
	}, nil
}

func parseFloat(name string) (float64, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return 0, fmt.Errorf("config: missing required %s", name)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", name, err)
	}
	return f, nil
}

func parseInt(name string) (int64, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return 0, fmt.Errorf("config: missing required %s", name)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", name, err)
	}
	return n, nil
}
