package constants

// Environment variable keys read by the s3wagon binary.
const (
	// Kubernetes metadata
	EnvPodNamespace = "POD_NAMESPACE"

	// CLI defaults
	EnvConfigFile = "S3WAGON_CONFIG"
	EnvRepository = "S3WAGON_REPOSITORY"
)
