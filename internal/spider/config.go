package spider

import "time"

// Config holds the driver's own tunables, layered on top of the
// frontier, downloader, and breaker configs it coordinates.
type Config struct {
	// Concurrency is how many downloader workers the driver spawns.
	// Independent of downloader.Config.Concurrency, which bounds the
	// global in-flight HTTP exchange count; this bounds how many
	// goroutines pull from the frontier at once.
	Concurrency int
	// FailedSweepInterval is how often the driver re-admits
	// transport-exhausted Requests for one more attempt. Zero disables
	// the sweep.
	FailedSweepInterval time.Duration
}

// DefaultConfig returns a driver Config matching the downloader's
// default concurrency, with the failed-URL sweep running every 30s.
func DefaultConfig() Config {
	return Config{
		Concurrency:         8,
		FailedSweepInterval: 30 * time.Second,
	}
}
