// Package credentials resolves the AWS credentials used by a transfer session.
//
// Credentials come from an ordered list of sources. The first source that
// yields credentials wins; a source that is simply not configured steps aside,
// while a source that is configured but broken stops the chain.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscredentials "github.com/aws/aws-sdk-go-v2/credentials"

	wagonerrors "github.com/dc-tec/s3-wagon/internal/errors"
)

// ErrSourceUnavailable is returned (wrapped) by a source that has nothing to
// offer: not configured, or its backing service is unreachable.
var ErrSourceUnavailable = errors.New("credential source not available")

// Source is one entry in a credential chain.
type Source struct {
	// Name identifies the source in logs and errors.
	Name string
	// Retrieve returns credentials, an error wrapping ErrSourceUnavailable,
	// or any other error to abort the chain.
	Retrieve func(ctx context.Context) (aws.Credentials, error)
}

// Chain tries its sources strictly in order.
type Chain struct {
	Sources []Source
}

// NewChain returns a chain over the given sources.
func NewChain(sources ...Source) *Chain {
	return &Chain{Sources: sources}
}

// Resolve returns the credentials of the first source that succeeds and that
// source's name.
//
// When every source is unavailable the error matches both
// errors.ErrAuthenticationFailed and errors.ErrCredentialsUnavailable. A
// misconfigured source is reported as-is (typically ErrInvalidCredentials).
func (c *Chain) Resolve(ctx context.Context) (aws.Credentials, string, error) {
	tried := make([]string, 0, len(c.Sources))
	for _, src := range c.Sources {
		creds, err := src.Retrieve(ctx)
		if err == nil {
			if !creds.HasKeys() {
				return aws.Credentials{}, src.Name, fmt.Errorf("credential source %s: %w: empty access key or secret",
					src.Name, wagonerrors.ErrInvalidCredentials)
			}
			if creds.Source == "" {
				creds.Source = src.Name
			}
			return creds, src.Name, nil
		}
		if errors.Is(err, ErrSourceUnavailable) {
			tried = append(tried, src.Name)
			continue
		}
		return aws.Credentials{}, src.Name, fmt.Errorf("credential source %s: %w", src.Name, err)
	}

	return aws.Credentials{}, "", fmt.Errorf("%w: %w (tried: %s)",
		wagonerrors.ErrAuthenticationFailed, wagonerrors.ErrCredentialsUnavailable, strings.Join(tried, ", "))
}

// StaticProvider wraps resolved credentials for the SDK. Credentials are
// static for the session; nothing refreshes them.
func StaticProvider(creds aws.Credentials) aws.CredentialsProvider {
	return awscredentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
}

// Redact renders credentials for logs without exposing the secret.
func Redact(creds aws.Credentials) string {
	id := creds.AccessKeyID
	if len(id) > 4 {
		id = id[:4] + strings.Repeat("*", len(id)-4)
	} else if id != "" {
		id = "****"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "access key %s", id)
	if creds.SessionToken != "" {
		b.WriteString(" with session token")
	}
	if creds.Source != "" {
		fmt.Fprintf(&b, " from %s", creds.Source)
	}
	return b.String()
}
