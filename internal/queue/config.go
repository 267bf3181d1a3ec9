package queue

import (
	"fmt"
	"time"

	"github.com/ternarybob/kissaten/internal/common"
)

// Config controls worker pool polling behavior.
type Config struct {
	QueueName    string
	PollInterval time.Duration
	Concurrency  int
}

// NewDefaultConfig returns baseline worker pool settings.
func NewDefaultConfig() Config {
	return Config{
		QueueName:    "kissaten_jobs",
		PollInterval: time.Second,
		Concurrency:  2,
	}
}

// ConfigFromCommon builds a Config from the TOML-loaded queue section,
// falling back to defaults for anything left blank or invalid.
func ConfigFromCommon(qc common.QueueConfig) (Config, error) {
	cfg := NewDefaultConfig()

	if qc.Concurrency > 0 {
		cfg.Concurrency = qc.Concurrency
	}
	if qc.PollInterval != "" {
		d, err := time.ParseDuration(qc.PollInterval)
		if err != nil {
			return Config{}, fmt.Errorf("parsing queue.poll_interval %q: %w", qc.PollInterval, err)
		}
		cfg.PollInterval = d
	}
	return cfg, nil
}
