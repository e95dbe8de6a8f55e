package scheduler

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	// ReportHour is the UTC hour the daily report fires.
	ReportHour int
	// EnabledJobs empty means all jobs run (monolith mode).
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   100,
		JobTimeout:  30 * time.Second,
		ReportHour:  9,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ReportHour < 0 || c.ReportHour > 23 {
		c.ReportHour = defaults.ReportHour
	}
	return c
}

// ProvideConfig reads scheduler tuning from the environment.
func ProvideConfig() Config {
	cfg := Config{}
	if v := os.Getenv("SCHEDULER_RUN_INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.RunInterval = parsed
		}
	}
	if v := os.Getenv("SCHEDULER_BATCH_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = parsed
		}
	}
	if v := os.Getenv("SCHEDULER_JOB_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.JobTimeout = parsed
		}
	}
	if v := os.Getenv("SCHEDULER_REPORT_HOUR"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.ReportHour = parsed
		}
	}
	if v := os.Getenv("SCHEDULER_ENABLED_JOBS"); v != "" {
		for _, job := range strings.Split(v, ",") {
			if job = strings.TrimSpace(job); job != "" {
				cfg.EnabledJobs = append(cfg.EnabledJobs, job)
			}
		}
	}
	return cfg
}
