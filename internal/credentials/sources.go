package credentials

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/ec2rolecreds"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"

	wagonerrors "github.com/dc-tec/s3-wagon/internal/errors"
)

const (
	// SourceEnvironment names the process environment source.
	SourceEnvironment = "environment"
	// SourceInstanceMetadata names the EC2 instance metadata source.
	SourceInstanceMetadata = "instance-metadata"
	// SourceExplicit names the caller-supplied source.
	SourceExplicit = "explicit"

	// DefaultMetadataTimeout bounds the instance metadata lookup.
	DefaultMetadataTimeout = 2 * time.Second
)

// AuthInfo is the optional username/password pair handed over by the
// surrounding tooling. The username carries the access key id and the
// password the secret key.
type AuthInfo struct {
	Username string
	Password string
}

// Options tunes the default chain.
type Options struct {
	// MetadataEndpoint overrides the instance metadata endpoint.
	MetadataEndpoint string
	// MetadataTimeout bounds the metadata lookup. Defaults to DefaultMetadataTimeout.
	MetadataTimeout time.Duration
	// DisableInstanceMetadata drops the instance metadata source from the chain.
	DisableInstanceMetadata bool
}

// DefaultChain returns environment, instance metadata, then explicit sources.
func DefaultChain(auth *AuthInfo, opts Options) *Chain {
	sources := []Source{EnvironmentSource()}
	if !opts.DisableInstanceMetadata {
		sources = append(sources, InstanceMetadataSource(opts))
	}
	sources = append(sources, ExplicitSource(auth))
	return NewChain(sources...)
}

// EnvironmentSource reads AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY (and the
// legacy AWS_ACCESS_KEY / AWS_SECRET_KEY names) plus AWS_SESSION_TOKEN.
func EnvironmentSource() Source {
	return Source{
		Name: SourceEnvironment,
		Retrieve: func(context.Context) (aws.Credentials, error) {
			env, err := config.NewEnvConfig()
			if err != nil {
				return aws.Credentials{}, fmt.Errorf("failed to read environment: %w", err)
			}
			// The SDK only fills Credentials when both keys are set, so a
			// half-set environment is treated as absent.
			creds := env.Credentials
			if !creds.HasKeys() {
				return aws.Credentials{}, fmt.Errorf("%w: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY not set", ErrSourceUnavailable)
			}
			creds.Source = SourceEnvironment
			return creds, nil
		},
	}
}

// InstanceMetadataSource retrieves role credentials from the EC2 instance
// metadata service. Every failure, including an unreachable endpoint, means
// "not available".
func InstanceMetadataSource(opts Options) Source {
	timeout := opts.MetadataTimeout
	if timeout <= 0 {
		timeout = DefaultMetadataTimeout
	}

	client := imds.New(imds.Options{
		Endpoint:          opts.MetadataEndpoint,
		ClientEnableState: imds.ClientDefaultEnableState,
		HTTPClient:        &http.Client{Timeout: timeout},
		Retryer:           aws.NopRetryer{},
	})
	provider := ec2rolecreds.New(func(o *ec2rolecreds.Options) {
		o.Client = client
	})

	return Source{
		Name: SourceInstanceMetadata,
		Retrieve: func(ctx context.Context) (aws.Credentials, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			creds, err := provider.Retrieve(ctx)
			if err != nil {
				return aws.Credentials{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
			}
			creds.Source = SourceInstanceMetadata
			return creds, nil
		},
	}
}

// ExplicitSource validates caller-supplied credentials. A nil or empty
// AuthInfo is "not configured"; a half-filled one is ErrInvalidCredentials.
func ExplicitSource(auth *AuthInfo) Source {
	return Source{
		Name: SourceExplicit,
		Retrieve: func(context.Context) (aws.Credentials, error) {
			if auth == nil || (auth.Username == "" && auth.Password == "") {
				return aws.Credentials{}, fmt.Errorf("%w: no username/password configured", ErrSourceUnavailable)
			}
			if auth.Username == "" {
				return aws.Credentials{}, fmt.Errorf("%w: username (AWS access key id) is not specified",
					wagonerrors.ErrInvalidCredentials)
			}
			if auth.Password == "" {
				return aws.Credentials{}, fmt.Errorf("%w: password (AWS secret key) is not specified",
					wagonerrors.ErrInvalidCredentials)
			}
			return aws.Credentials{
				AccessKeyID:     auth.Username,
				SecretAccessKey: auth.Password,
				Source:          SourceExplicit,
			}, nil
		},
	}
}
