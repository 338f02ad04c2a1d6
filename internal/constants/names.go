package constants

// DefaultNamespace is used for credentials Secrets when neither the reference
// nor the environment names a namespace.
const DefaultNamespace = "default"

// MetricsPath is where the publish command serves Prometheus metrics.
const MetricsPath = "/metrics"

// HealthzPath answers liveness checks while publish runs on a schedule.
const HealthzPath = "/healthz"
