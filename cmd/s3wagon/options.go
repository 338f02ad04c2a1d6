package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/dc-tec/s3-wagon/internal/config"
	"github.com/dc-tec/s3-wagon/internal/constants"
	"github.com/dc-tec/s3-wagon/internal/credentials"
	wagonerrors "github.com/dc-tec/s3-wagon/internal/errors"
	"github.com/dc-tec/s3-wagon/internal/session"
	"github.com/dc-tec/s3-wagon/internal/transport"
)

// options are the flags shared by every command.
type options struct {
	fs *flag.FlagSet

	configPath        string
	repository        string
	region            string
	endpoint          string
	pathStyle         bool
	timeout           time.Duration
	public            bool
	credentialsSecret string
	disableIMDS       bool
	proxy             string
	nonProxyHosts     string

	zapOpts zap.Options
}

func newOptions(name string, stderr io.Writer) *options {
	o := &options{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	fs := o.fs
	fs.SetOutput(stderr)

	fs.StringVar(&o.configPath, "config", os.Getenv(constants.EnvConfigFile), "Path to an HCL configuration file.")
	fs.StringVar(&o.repository, "repository", os.Getenv(constants.EnvRepository), "Repository URL, s3://bucket/base/dir.")
	fs.StringVar(&o.region, "region", "", "AWS region of the bucket.")
	fs.StringVar(&o.endpoint, "endpoint", "", "Custom S3 endpoint URL, e.g. for MinIO.")
	fs.BoolVar(&o.pathStyle, "path-style", false, "Use path-style bucket addressing.")
	fs.DurationVar(&o.timeout, "timeout", 0, "Connect and response header timeout (default 60s).")
	fs.BoolVar(&o.public, "public", false, "Grant public-read on uploaded objects.")
	fs.StringVar(&o.credentialsSecret, "credentials-secret", "",
		"Kubernetes Secret (namespace/name) holding accessKeyId and secretAccessKey.")
	fs.BoolVar(&o.disableIMDS, "disable-instance-metadata", false,
		"Do not query the EC2 instance metadata service for credentials.")
	fs.StringVar(&o.proxy, "proxy", "", "HTTP proxy as host[:port].")
	fs.StringVar(&o.nonProxyHosts, "non-proxy-hosts", "",
		"Hosts reached without the proxy, separated by | or , (wildcards allowed).")

	o.zapOpts = zap.Options{}
	o.zapOpts.BindFlags(fs)
	return o
}

func (o *options) parse(args []string) error {
	if err := o.fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	return nil
}

func (o *options) logger(stderr io.Writer) logr.Logger {
	log := zap.New(zap.UseFlagOptions(&o.zapOpts), zap.WriteTo(stderr))
	ctrl.SetLogger(log)
	return log.WithName("s3wagon")
}

// set reports whether the named flag was given on the command line.
func (o *options) set(name string) bool {
	found := false
	o.fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// load merges the configuration file, the repository URL and explicit flags,
// in increasing order of precedence.
func (o *options) load() (*config.File, error) {
	f := &config.File{}
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, wagonerrors.WrapPermanentConfig(fmt.Errorf("failed to load configuration: %w", err))
		}
		f = loaded
	}

	if o.repository != "" {
		repo, err := session.ParseRepositoryURL(o.repository)
		if err != nil {
			return nil, wagonerrors.WrapPermanentConfig(err)
		}
		f.Bucket = repo.Bucket
		f.BaseDirectory = repo.BaseDirectory
		if repo.Region != "" {
			f.Region = repo.Region
		}
		if repo.Endpoint != "" {
			f.Endpoint = repo.Endpoint
		}
		f.PathStyle = f.PathStyle || repo.UsePathStyle
		f.PublicRead = f.PublicRead || repo.PublicRead
	}

	if o.set("region") {
		f.Region = o.region
	}
	if o.set("endpoint") {
		f.Endpoint = o.endpoint
	}
	if o.set("path-style") {
		f.PathStyle = o.pathStyle
	}
	if o.set("timeout") {
		f.Timeout = o.timeout.String()
	}
	if o.set("public") {
		f.PublicRead = o.public
	}
	if o.set("credentials-secret") || o.set("disable-instance-metadata") {
		if f.Credentials == nil {
			f.Credentials = &config.Credentials{}
		}
		if o.set("credentials-secret") {
			f.Credentials.Secret = o.credentialsSecret
		}
		if o.set("disable-instance-metadata") {
			f.Credentials.DisableInstanceMetadata = o.disableIMDS
		}
	}

	if err := o.applyProxy(f); err != nil {
		return nil, wagonerrors.WrapPermanentConfig(err)
	}

	if f.Bucket == "" {
		return nil, wagonerrors.WrapPermanentConfig(fmt.Errorf("no repository configured, use -repository or -config"))
	}
	return f, nil
}

func (o *options) applyProxy(f *config.File) error {
	if o.set("proxy") {
		host, port := o.proxy, 0
		if h, p, err := net.SplitHostPort(o.proxy); err == nil {
			n, err := strconv.Atoi(p)
			if err != nil {
				return fmt.Errorf("invalid -proxy port %q", p)
			}
			host, port = h, n
		}
		if f.Proxy == nil {
			f.Proxy = &config.Proxy{}
		}
		f.Proxy.Host, f.Proxy.Port = host, port
	}
	if o.set("non-proxy-hosts") {
		if f.Proxy == nil {
			return fmt.Errorf("-non-proxy-hosts requires a proxy")
		}
		f.Proxy.NonProxyHosts = session.ParseNonProxyHosts(o.nonProxyHosts)
	}
	return nil
}

// newKubeClient builds the client used to read credentials Secrets.
var newKubeClient = func() (client.Client, error) {
	cfg, err := ctrl.GetConfig()
	if err != nil {
		return nil, err
	}
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, err
	}
	return client.New(cfg, client.Options{Scheme: scheme})
}

func authInfo(ctx context.Context, f *config.File) (*credentials.AuthInfo, error) {
	if f.Credentials == nil || f.Credentials.Secret == "" {
		return f.AuthInfo(), nil
	}

	ref, err := credentials.ParseSecretRef(f.Credentials.Secret)
	if err != nil {
		return nil, wagonerrors.WrapPermanentConfig(err)
	}
	c, err := newKubeClient()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Kubernetes client: %w", wagonerrors.ErrAuthenticationFailed, err)
	}

	namespace := os.Getenv(constants.EnvPodNamespace)
	if namespace == "" {
		namespace = constants.DefaultNamespace
	}
	auth, err := credentials.LoadAuthInfoFromSecret(ctx, c, ref, namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wagonerrors.ErrAuthenticationFailed, err)
	}
	if auth == nil {
		return f.AuthInfo(), nil
	}
	return auth, nil
}

// tuning carries the publish-only session options.
type tuning struct {
	concurrency       int
	requestsPerSecond float64
}

// open builds and opens a session for f. The caller closes it.
func open(ctx context.Context, log logr.Logger, f *config.File, listener transport.Listener, tune tuning) (*session.Session, *transport.Transport, error) {
	repo, err := f.Repository()
	if err != nil {
		return nil, nil, wagonerrors.WrapPermanentConfig(err)
	}
	auth, err := authInfo(ctx, f)
	if err != nil {
		return nil, nil, err
	}

	s := session.New(session.Options{
		Credentials:       f.CredentialOptions(),
		Listener:          listener,
		Logger:            log,
		Concurrency:       tune.concurrency,
		RequestsPerSecond: tune.requestsPerSecond,
	})
	if err := s.Open(ctx, repo, auth); err != nil {
		return nil, nil, err
	}
	t, err := s.Transport()
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return s, t, nil
}

// positional checks the number of positional arguments.
func positional(fs *flag.FlagSet, min, max int, usage string) ([]string, error) {
	args := fs.Args()
	if len(args) < min || len(args) > max {
		return nil, fmt.Errorf("%w: expected %s", errUsage, usage)
	}
	return args, nil
}
