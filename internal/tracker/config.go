package tracker

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Config carries the tracker's explicit tunables (spec.md §6).
type Config struct {
	Addr string

	// StaleThreshold is how old a membership record's lastSeen may get
	// before the stale sweep removes it (default 3 minutes).
	StaleThreshold time.Duration
	// SweepPeriod is how often the stale sweep runs (default 1 minute).
	SweepPeriod time.Duration

	Logger *logrus.Logger
}

// DefaultConfig returns the spec.md §6 tracker defaults.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:           addr,
		StaleThreshold: 3 * time.Minute,
		SweepPeriod:    time.Minute,
	}
}
