package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	DataDir    string
	DBPath     string
	ListenAddr string
	APIBaseURL string

	TestsDir   string
	OutputsDir string // shared per-attempt report artifacts
	MergedDir  string // combined report from the merge step

	LeaseDuration   time.Duration
	ReclaimInterval time.Duration
	MonitorInterval time.Duration

	RetryBase    time.Duration
	RetryCap     time.Duration
	RetryMax     int // claim/report attempts before a worker gives up
	MaxItemTries int // reclaims before an item is marked failed outright

	WorkerCount int
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("HERD_DATA_DIR", filepath.Join(homeDir, ".herd"))

	c := &Config{
		DataDir:    dataDir,
		DBPath:     getEnv("HERD_DB_PATH", filepath.Join(dataDir, "herd.db")),
		ListenAddr: getEnv("HERD_LISTEN_ADDR", ":8000"),
		APIBaseURL: getEnv("HERD_API_BASE_URL", "http://localhost:8000"),
		TestsDir:   getEnv("HERD_TESTS_DIR", "/tests"),
		OutputsDir: getEnv("HERD_OUTPUTS_DIR", filepath.Join(dataDir, "outputs")),
		MergedDir:  getEnv("HERD_MERGED_DIR", filepath.Join(dataDir, "merged")),
	}

	if c.LeaseDuration, err = getDuration("HERD_LEASE_DURATION", 10*time.Minute); err != nil {
		return nil, err
	}
	if c.ReclaimInterval, err = getDuration("HERD_RECLAIM_INTERVAL", c.LeaseDuration/2); err != nil {
		return nil, err
	}
	if c.MonitorInterval, err = getDuration("HERD_MONITOR_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if c.RetryBase, err = getDuration("HERD_RETRY_BASE", time.Second); err != nil {
		return nil, err
	}
	if c.RetryCap, err = getDuration("HERD_RETRY_CAP", 30*time.Second); err != nil {
		return nil, err
	}
	if c.RetryMax, err = getInt("HERD_RETRY_MAX", 5); err != nil {
		return nil, err
	}
	if c.MaxItemTries, err = getInt("HERD_MAX_ITEM_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if c.WorkerCount, err = getInt("HERD_WORKERS", 5); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.OutputsDir, c.MergedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
