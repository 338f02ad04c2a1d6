package session

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dc-tec/s3-wagon/internal/credentials"
	wagonerrors "github.com/dc-tec/s3-wagon/internal/errors"
)

// buildHTTPClient creates the session's SDK HTTP client: connect and response
// timeouts from the repository, an optional proxy, and the system roots plus
// an optional CA bundle. The client stays buildable so the SDK can still add
// a CA bundle from AWS_CA_BUNDLE or the shared config.
func buildHTTPClient(repo Repository) (*awshttp.BuildableClient, error) {
	// A custom CA is added to the system roots, never replacing them.
	certPool, err := x509.SystemCertPool()
	if err != nil || certPool == nil {
		certPool = x509.NewCertPool()
	}
	if len(repo.CACert) > 0 {
		if !certPool.AppendCertsFromPEM(repo.CACert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
	}

	timeout := repo.timeout()
	return awshttp.NewBuildableClient().
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = timeout
			d.KeepAlive = 30 * time.Second
		}).
		WithTransportOptions(func(tr *http.Transport) {
			tr.TLSHandshakeTimeout = 10 * time.Second
			tr.ResponseHeaderTimeout = timeout
			tr.ExpectContinueTimeout = 1 * time.Second
			tr.MaxIdleConns = 10
			tr.IdleConnTimeout = 90 * time.Second
			tr.TLSClientConfig = &tls.Config{
				RootCAs:    certPool,
				MinVersion: tls.VersionTLS12,
			}
			tr.Proxy = nil
			if repo.Proxy != nil {
				proxyURL := repo.Proxy.URL()
				proxy := repo.Proxy
				tr.Proxy = func(req *http.Request) (*url.URL, error) {
					if proxy.Bypass(req.URL.Hostname()) {
						return nil, nil
					}
					return proxyURL, nil
				}
			}
		}).
		WithTimeout(DefaultTransferTimeout), nil
}

// buildAWSConfig constructs the SDK config. Credentials are the static ones
// the chain resolved; the retryer makes exactly one attempt. The returned
// *http.Client is the one the config uses, after the SDK applied any CA
// bundle, so the session can release its idle connections on close.
func buildAWSConfig(ctx context.Context, repo Repository, creds aws.Credentials, httpClient *awshttp.BuildableClient) (aws.Config, *http.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(repo.region()),
		config.WithCredentialsProvider(credentials.StaticProvider(creds)),
		config.WithHTTPClient(httpClient),
		config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	)
	if err != nil {
		if wagonerrors.IsTransientConnection(err) {
			return aws.Config{}, nil, wagonerrors.WrapTransientConnection(fmt.Errorf("failed to load AWS config: %w", err))
		}
		return aws.Config{}, nil, wagonerrors.WrapPermanentConfig(fmt.Errorf("failed to load AWS config: %w", err))
	}

	resolved := httpClient
	if b, ok := awsCfg.HTTPClient.(*awshttp.BuildableClient); ok {
		resolved = b
	}
	client := &http.Client{
		Transport: resolved.GetTransport(),
		Timeout:   resolved.GetTimeout(),
	}
	awsCfg.HTTPClient = client
	return awsCfg, client, nil
}

// newS3Client applies the repository's endpoint settings. Checksums are only
// computed when an operation requires them.
func newS3Client(awsCfg aws.Config, repo Repository) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if repo.Endpoint != "" {
			o.BaseEndpoint = aws.String(repo.Endpoint)
		}
		o.UsePathStyle = repo.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
}
