// Package config loads the s3wagon HCL configuration file.
//
// A file describes one repository plus optional credentials, proxy, publish and
// metrics blocks. Expressions may call env("NAME") or env("NAME", "default")
// to read the process environment, so secrets never need to live in the file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"

	"github.com/dc-tec/s3-wagon/internal/credentials"
	"github.com/dc-tec/s3-wagon/internal/session"
)

// File is the decoded configuration file.
type File struct {
	Bucket        string `hcl:"bucket,optional"`
	BaseDirectory string `hcl:"base_directory,optional"`
	Region        string `hcl:"region,optional"`
	Endpoint      string `hcl:"endpoint,optional"`
	PathStyle     bool   `hcl:"path_style,optional"`
	Timeout       string `hcl:"timeout,optional"`
	PublicRead    bool   `hcl:"public_read,optional"`
	CACertFile    string `hcl:"ca_cert_file,optional"`

	Credentials *Credentials `hcl:"credentials,block"`
	Proxy       *Proxy       `hcl:"proxy,block"`
	Publish     *Publish     `hcl:"publish,block"`
	Metrics     *Metrics     `hcl:"metrics,block"`
}

// Credentials holds explicit keys and credential chain tuning.
type Credentials struct {
	AccessKey               string `hcl:"access_key,optional"`
	SecretKey               string `hcl:"secret_key,optional"`
	Secret                  string `hcl:"secret,optional"`
	MetadataEndpoint        string `hcl:"metadata_endpoint,optional"`
	DisableInstanceMetadata bool   `hcl:"disable_instance_metadata,optional"`
}

// Proxy is the outbound HTTP proxy block.
type Proxy struct {
	Host          string   `hcl:"host"`
	Port          int      `hcl:"port,optional"`
	Username      string   `hcl:"username,optional"`
	Password      string   `hcl:"password,optional"`
	NTLMDomain    string   `hcl:"ntlm_domain,optional"`
	NTLMHost      string   `hcl:"ntlm_host,optional"`
	NonProxyHosts []string `hcl:"non_proxy_hosts,optional"`
}

// Publish configures the publish command.
type Publish struct {
	Source            string  `hcl:"source"`
	Destination       string  `hcl:"destination,optional"`
	Schedule          string  `hcl:"schedule,optional"`
	Concurrency       int     `hcl:"concurrency,optional"`
	RequestsPerSecond float64 `hcl:"requests_per_second,optional"`
}

// Metrics configures the metrics endpoint.
type Metrics struct {
	Address string `hcl:"address"`
}

// Load reads and decodes the file at path.
func Load(path string) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(src, path)
}

// Parse decodes src. filename is only used in diagnostics.
func Parse(src []byte, filename string) (*File, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, diags)
	}

	var out File
	if diags := gohcl.DecodeBody(f.Body, evalContext(), &out); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, diags)
	}
	return &out, nil
}

func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{Functions: Functions()}
}

// Repository converts the file into a session repository and reads the CA
// certificate file. Validation happens when a session opens.
func (f *File) Repository() (session.Repository, error) {
	repo := session.Repository{
		Bucket:        f.Bucket,
		BaseDirectory: f.BaseDirectory,
		Region:        f.Region,
		Endpoint:      f.Endpoint,
		UsePathStyle:  f.PathStyle,
		PublicRead:    f.PublicRead,
	}

	if f.Timeout != "" {
		d, err := time.ParseDuration(f.Timeout)
		if err != nil {
			return session.Repository{}, fmt.Errorf("invalid timeout %q: %w", f.Timeout, err)
		}
		repo.Timeout = d
	}

	if f.CACertFile != "" {
		pem, err := os.ReadFile(f.CACertFile)
		if err != nil {
			return session.Repository{}, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		repo.CACert = pem
	}

	if p := f.Proxy; p != nil {
		repo.Proxy = &session.Proxy{
			Host:          p.Host,
			Port:          p.Port,
			Username:      p.Username,
			Password:      p.Password,
			NTLMDomain:    p.NTLMDomain,
			NTLMHost:      p.NTLMHost,
			NonProxyHosts: p.NonProxyHosts,
		}
	}
	return repo, nil
}

// AuthInfo returns the explicit credentials, nil when none are configured.
func (f *File) AuthInfo() *credentials.AuthInfo {
	if f.Credentials == nil || (f.Credentials.AccessKey == "" && f.Credentials.SecretKey == "") {
		return nil
	}
	return &credentials.AuthInfo{
		Username: f.Credentials.AccessKey,
		Password: f.Credentials.SecretKey,
	}
}

// CredentialOptions returns the credential chain options.
func (f *File) CredentialOptions() credentials.Options {
	if f.Credentials == nil {
		return credentials.Options{}
	}
	return credentials.Options{
		MetadataEndpoint:        f.Credentials.MetadataEndpoint,
		DisableInstanceMetadata: f.Credentials.DisableInstanceMetadata,
	}
}

// Encode renders f as HCL with secret values masked.
func Encode(f *File) []byte {
	masked := *f
	if f.Credentials != nil {
		c := *f.Credentials
		if c.SecretKey != "" {
			c.SecretKey = redacted
		}
		masked.Credentials = &c
	}
	if f.Proxy != nil {
		p := *f.Proxy
		if p.Password != "" {
			p.Password = redacted
		}
		masked.Proxy = &p
	}

	file := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(&masked, file.Body())
	return file.Bytes()
}

const redacted = "****"
