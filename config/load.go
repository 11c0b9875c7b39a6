package config

import (
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Load reads configuration from the optional yaml file at path, then from
// PATROL_* environment variables. An empty path means env-only.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	if strings.TrimSpace(path) != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c FeedConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c FeedConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c FeedConfig) Limit() int {
	if c.WorkingSetLimit <= 0 {
		return 200
	}
	return c.WorkingSetLimit
}

func (c SyncConfig) WatchInterval() time.Duration {
	if c.WatchIntervalMillis <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.WatchIntervalMillis) * time.Millisecond
}
