package config

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Sync holds the persistence and eviction timing policy for the real-time
// engine. Exact values are operational policy, not contract; they come from
// the environment with the defaults below.
type Sync struct {
	// FlushQuietPeriod is the debounce quiet period: a dirty document is
	// flushed once no edit has arrived for this long.
	FlushQuietPeriod time.Duration
	// FlushMaxWindow bounds staleness under a continuous edit stream.
	FlushMaxWindow time.Duration
	// IdleThreshold is how long a clean, empty-room document may sit in the
	// cache before the sweep evicts it.
	IdleThreshold time.Duration
	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration
	// JoinTimeout caps the durable read performed during a room join.
	JoinTimeout time.Duration
}

// LoadSync reads the sync policy from the environment.
func LoadSync() Sync {
	return Sync{
		FlushQuietPeriod: duration("FLUSH_QUIET_PERIOD", time.Second),
		FlushMaxWindow:   duration("FLUSH_MAX_WINDOW", 5*time.Second),
		IdleThreshold:    duration("IDLE_THRESHOLD", 5*time.Minute),
		SweepInterval:    duration("SWEEP_INTERVAL", time.Minute),
		JoinTimeout:      duration("JOIN_TIMEOUT", 10*time.Second),
	}
}

func duration(name string, fallback time.Duration) time.Duration {
	value := os.Getenv(name)
	if value == "" {
		return fallback
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"variable": name,
			"value":    value,
		}).Warnf("Invalid duration, using default %s", fallback)
		return fallback
	}
	return d
}
