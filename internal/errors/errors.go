package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Transport error taxonomy. Every failure that leaves the transport layer
// matches exactly one of these kinds via errors.Is.

// ErrResourceNotFound indicates the object key is absent or not accessible.
// A 403 from the store is reported as this kind as well: without list
// permission S3 answers "forbidden" for missing keys, so absence and a
// permission gap cannot be told apart.
var ErrResourceNotFound = errors.New("resource not found")

// ErrAuthenticationFailed indicates the credential chain produced no usable credentials.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrTransferFailed indicates any other store-side failure: network errors,
// 5xx responses or unexpected status codes.
var ErrTransferFailed = errors.New("transfer failed")

// ErrInvalidCredentials indicates a credential source that is configured but
// incomplete (for example a username without a password).
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrCredentialsUnavailable indicates every credential source was exhausted.
// It is always reported together with ErrAuthenticationFailed.
var ErrCredentialsUnavailable = errors.New("no credentials available from any source")

// ErrProgrammingError indicates an operation was invoked outside the
// Connected/Open state. It is a caller bug, not a transport failure.
var ErrProgrammingError = errors.New("programming error")

// Transient errors indicate temporary conditions a caller may choose to retry.
// The transport itself never retries.

// ErrTransientConnection indicates a transient connection error.
// This includes timeouts, connection refused, DNS resolution failures, and network unreachable errors.
var ErrTransientConnection = errors.New("transient connection error")

// ErrPermanentConfig indicates a permanent configuration error that requires user intervention.
// This includes invalid repository descriptors, malformed config files, or missing required fields.
var ErrPermanentConfig = errors.New("permanent configuration error")

// IsTransientConnection checks if an error is a transient connection error.
// This includes network timeouts, connection refused, DNS failures, and similar issues.
func IsTransientConnection(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransientConnection) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"context deadline exceeded",
		"timeout",
		"i/o timeout",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"dial tcp",
		"connection closed",
		"broken pipe",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// WrapTransientConnection wraps an error as a transient connection error.
// If the error is already a transient connection error, it is returned as-is.
func WrapTransientConnection(err error) error {
	if err == nil {
		return nil
	}

	if IsTransientConnection(err) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTransientConnection, err)
}

// WrapPermanentConfig wraps an error as a permanent configuration error.
func WrapPermanentConfig(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrPermanentConfig, err)
}

// IsPermanent checks if an error is permanent (requires user intervention).
// Configuration errors, invalid credentials and programming errors never heal
// on their own; a missing resource is also reported as permanent.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrPermanentConfig) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrProgrammingError) ||
		errors.Is(err, ErrResourceNotFound)
}

// ShouldRetry reports whether a caller-side retry loop may retry err.
// Only transfer failures caused by transient connection problems qualify.
func ShouldRetry(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	return errors.Is(err, ErrTransferFailed) && IsTransientConnection(err)
}

// TransferError describes a failed transport operation. It always carries one
// of the taxonomy kinds and, when the store answered, the HTTP status code.
type TransferError struct {
	// Kind is one of the taxonomy sentinels above.
	Kind error
	// Op is the transport operation, e.g. "fetch" or "store".
	Op string
	// Resource is the caller-visible relative resource path.
	Resource string
	// Bucket and Key locate the object in the store.
	Bucket string
	Key    string
	// StatusCode is the HTTP status returned by the store, 0 if none.
	StatusCode int
	// Err is the underlying cause.
	Err error
}

func (e *TransferError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %q: %v", e.Op, e.Resource, e.Kind)
	if e.Key != "" {
		fmt.Fprintf(&b, " (s3://%s/%s", e.Bucket, e.Key)
		if e.StatusCode != 0 {
			fmt.Fprintf(&b, ", status %d", e.StatusCode)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *TransferError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StatusCode returns the store status code carried by err, or 0.
func StatusCode(err error) int {
	var te *TransferError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}
