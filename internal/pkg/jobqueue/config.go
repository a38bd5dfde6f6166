package jobqueue

import (
	"fmt"
	"regexp"
	"time"

	"github.com/ManuelReschke/Redirector/internal/pkg/env"
)

// DefaultQueue is the queue redirect mapping imports are submitted to
const DefaultQueue = "fromTo"

var queueNamePattern = regexp.MustCompile(`^\w+$`)

// Config holds worker and retention settings
type Config struct {
	Queue         string
	Workers       int
	Retention     time.Duration
	StuckAfter    time.Duration
	SweepInterval time.Duration
	JobTimeout    time.Duration
}

// LoadConfig reads the JOBQUEUE_* and JOB_RETENTION_HOURS variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Queue:         env.GetEnv("JOBQUEUE_NAME", DefaultQueue),
		Workers:       env.GetEnvInt("JOBQUEUE_WORKERS", 3),
		Retention:     time.Duration(env.GetEnvInt("JOB_RETENTION_HOURS", 168)) * time.Hour,
		StuckAfter:    env.GetEnvDuration("JOBQUEUE_STUCK_AFTER", 30*time.Minute),
		SweepInterval: env.GetEnvDuration("JOBQUEUE_SWEEP_INTERVAL", time.Minute),
		JobTimeout:    env.GetEnvDuration("JOBQUEUE_JOB_TIMEOUT", 5*time.Minute),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !queueNamePattern.MatchString(c.Queue) {
		return fmt.Errorf("invalid queue name %q", c.Queue)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("JOBQUEUE_WORKERS must be positive, got %d", c.Workers)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("JOB_RETENTION_HOURS must be positive")
	}
	if c.StuckAfter <= 0 || c.SweepInterval <= 0 || c.JobTimeout <= 0 {
		return fmt.Errorf("job queue durations must be positive")
	}
	return nil
}
