package peer

import "time"

// Config holds the silence thresholds used by Sweep.
type Config struct {
	LivenessTimeout time.Duration
	DepartedTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		LivenessTimeout: 30 * time.Second,
		DepartedTimeout: 60 * time.Second,
	}
}
