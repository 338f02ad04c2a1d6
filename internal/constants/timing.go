package constants

import "time"

// Metrics server timeouts.
const (
	MetricsReadHeaderTimeout = 10 * time.Second
	MetricsShutdownTimeout   = 5 * time.Second
)
