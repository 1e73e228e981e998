package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Load reads the given env files (".env" when none are named) into the
// process environment and parses the result. Missing files are skipped.
// Variables already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", f, err)
		}
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	var errs []error
	if c.App.Port < 1 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT %d out of range", c.App.Port))
	}
	switch c.App.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("APP_LOG_FORMAT must be console or json, got %q", c.App.LogFormat))
	}
	if c.App.ScheduleGrace < 0 {
		errs = append(errs, errors.New("APP_SCHEDULE_GRACE must not be negative"))
	}
	if c.Queue.Concurrency < 1 {
		errs = append(errs, errors.New("QUEUE_CONCURRENCY must be at least 1"))
	}
	if c.Queue.MaxTries < 1 {
		errs = append(errs, errors.New("QUEUE_MAX_TRIES must be at least 1"))
	}
	return errors.Join(errs...)
}
