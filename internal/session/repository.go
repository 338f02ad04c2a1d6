package session

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultRegion is used when a repository names no region.
	DefaultRegion = "us-east-1"
	// DefaultTimeout bounds connection setup and waiting for a response.
	DefaultTimeout = 60 * time.Second
	// DefaultTransferTimeout caps a whole request including its body.
	DefaultTransferTimeout = 30 * time.Minute
)

// Repository describes where a repository lives. It is immutable once a
// session is open.
type Repository struct {
	// Bucket is the target bucket (the repository "host").
	Bucket string
	// BaseDirectory becomes the key prefix.
	BaseDirectory string
	// Region defaults to DefaultRegion.
	Region string
	// Endpoint overrides the S3 endpoint, e.g. for MinIO.
	Endpoint string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
	// Timeout bounds connect and response-header waits. Zero means DefaultTimeout.
	Timeout time.Duration
	// Proxy is optional.
	Proxy *Proxy
	// PublicRead grants public-read on every uploaded object.
	PublicRead bool
	// CACert is an optional PEM bundle added to the system roots.
	CACert []byte
}

// Proxy is an HTTP proxy. NTLMDomain and NTLMHost are accepted for
// compatibility with build tool settings; only Basic proxy authentication is
// performed.
type Proxy struct {
	Host     string
	Port     int
	Username string
	Password string

	NTLMDomain string
	NTLMHost   string

	// NonProxyHosts are host glob patterns ("*.internal", "localhost") that
	// bypass the proxy.
	NonProxyHosts []string
}

// ParseRepositoryURL parses "s3://bucket/base/dir". Optional query
// parameters: region, endpoint, pathStyle, public.
func ParseRepositoryURL(raw string) (Repository, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Repository{}, fmt.Errorf("invalid repository URL %q: %w", raw, err)
	}
	if u.Scheme != "s3" {
		return Repository{}, fmt.Errorf("invalid repository URL %q: scheme must be s3", raw)
	}
	if u.Host == "" {
		return Repository{}, fmt.Errorf("invalid repository URL %q: bucket is required", raw)
	}

	repo := Repository{
		Bucket:        u.Host,
		BaseDirectory: strings.TrimPrefix(u.Path, "/"),
	}

	q := u.Query()
	repo.Region = q.Get("region")
	repo.Endpoint = q.Get("endpoint")
	if v := q.Get("pathStyle"); v != "" {
		if repo.UsePathStyle, err = strconv.ParseBool(v); err != nil {
			return Repository{}, fmt.Errorf("invalid repository URL %q: pathStyle: %w", raw, err)
		}
	}
	if v := q.Get("public"); v != "" {
		if repo.PublicRead, err = strconv.ParseBool(v); err != nil {
			return Repository{}, fmt.Errorf("invalid repository URL %q: public: %w", raw, err)
		}
	}
	return repo, nil
}

// String renders the repository as an s3:// URL.
func (r Repository) String() string {
	s := "s3://" + r.Bucket
	if base := strings.Trim(r.BaseDirectory, "/"); base != "" {
		s += "/" + base
	}
	return s
}

// Validate checks the repository for obvious misconfiguration.
func (r Repository) Validate() error {
	if strings.TrimSpace(r.Bucket) == "" {
		return fmt.Errorf("bucket is required")
	}
	if strings.ContainsAny(r.Bucket, "/ ") {
		return fmt.Errorf("invalid bucket name %q", r.Bucket)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", r.Timeout)
	}
	if r.Endpoint != "" {
		u, err := url.Parse(r.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid endpoint %q: expected scheme://host[:port]", r.Endpoint)
		}
	}
	if r.Proxy != nil {
		if err := r.Proxy.Validate(); err != nil {
			return fmt.Errorf("invalid proxy: %w", err)
		}
	}
	return nil
}

func (r Repository) region() string {
	if r.Region == "" {
		return DefaultRegion
	}
	return r.Region
}

func (r Repository) timeout() time.Duration {
	if r.Timeout == 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

// Validate checks host and port.
func (p *Proxy) Validate() error {
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("host is required")
	}
	if p.Port < 0 || p.Port > 65535 {
		return fmt.Errorf("port %d out of range", p.Port)
	}
	if p.Password != "" && p.Username == "" {
		return fmt.Errorf("password set without username")
	}
	return nil
}

// URL returns the proxy URL, including Basic credentials when set.
func (p *Proxy) URL() *url.URL {
	host := p.Host
	if p.Port > 0 {
		host = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	}
	u := &url.URL{Scheme: "http", Host: host}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// Bypass reports whether host matches one of the non-proxy patterns.
func (p *Proxy) Bypass(host string) bool {
	host = strings.ToLower(host)
	for _, pattern := range p.NonProxyHosts {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if ok, _ := path.Match(pattern, host); ok {
			return true
		}
	}
	return false
}

// ParseNonProxyHosts splits a "|" or "," separated pattern list.
func ParseNonProxyHosts(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
