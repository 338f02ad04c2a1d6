// Package transport implements get, put, list and exists operations for a
// repository stored in an S3 bucket under a key prefix.
//
// A Transport starts disconnected. The owning session connects it once the
// client is ready and disconnects it on close. Every operation on a
// disconnected transport fails with errors.ErrProgrammingError. Store errors
// are translated into the transport error taxonomy before they are returned;
// raw SDK errors never escape unwrapped.
//
// A Transport is safe for concurrent use when its ObjectAPI is. *s3.Client is.
package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/dc-tec/s3-wagon/internal/keypath"
	"github.com/dc-tec/s3-wagon/internal/mimetype"
)

// MetadataLastModified is the user metadata key holding the caller supplied
// modification time in Unix milliseconds. S3 assigns its own Last-Modified on
// upload, so the original timestamp travels as metadata.
const MetadataLastModified = "mtime"

// ObjectAPI is the subset of *s3.Client the transport uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	PutObjectAcl(ctx context.Context, params *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Options configures a Transport.
type Options struct {
	// Bucket is the target bucket name.
	Bucket string
	// BaseDirectory is the repository base directory; it becomes the key prefix.
	BaseDirectory string
	// PublicRead grants public-read on every stored object.
	PublicRead bool
	// MimeTypes resolves content types on upload. Nil omits content types.
	MimeTypes *mimetype.Resolver
	// Listener receives transfer events.
	Listener Listener
	// Logger receives debug traces.
	Logger logr.Logger
	// Concurrency bounds parallel uploads in StoreDirectory. Values below 2
	// upload sequentially.
	Concurrency int
	// RequestsPerSecond paces StoreDirectory uploads. Zero disables pacing.
	RequestsPerSecond float64
}

// Metadata describes a stored object.
type Metadata struct {
	Key string
	// ContentLength is nil when the store did not report a length.
	ContentLength *int64
	// LastModified prefers the stored mtime metadata over the store's own
	// Last-Modified header.
	LastModified time.Time
	ContentType  string
	ETag         string
}

// Transport performs object operations against one bucket and key prefix.
type Transport struct {
	api         ObjectAPI
	downloader  *manager.Downloader
	bucket      string
	prefix      string
	publicRead  bool
	mime        *mimetype.Resolver
	listener    Listener
	log         logr.Logger
	concurrency int
	limiter     *rate.Limiter

	connected atomic.Bool
}

// New returns a disconnected Transport over api.
func New(api ObjectAPI, opts Options) *Transport {
	t := &Transport{
		api:         api,
		downloader:  manager.NewDownloader(api),
		bucket:      opts.Bucket,
		prefix:      keypath.NormalizePrefix(opts.BaseDirectory),
		publicRead:  opts.PublicRead,
		mime:        opts.MimeTypes,
		listener:    opts.Listener,
		log:         opts.Logger,
		concurrency: opts.Concurrency,
	}
	if t.log.GetSink() == nil {
		t.log = logr.Discard()
	}
	if opts.RequestsPerSecond > 0 {
		burst := max(opts.Concurrency, 1)
		t.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return t
}

// Connect marks the transport ready for use.
func (t *Transport) Connect() {
	t.connected.Store(true)
}

// Disconnect marks the transport unusable. It is safe to call repeatedly.
func (t *Transport) Disconnect() {
	t.connected.Store(false)
}

// Connected reports whether operations are permitted.
func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// Bucket returns the target bucket.
func (t *Transport) Bucket() string {
	return t.bucket
}

// Prefix returns the normalized key prefix.
func (t *Transport) Prefix() string {
	return t.prefix
}

// Key returns the object key for a resource path.
func (t *Transport) Key(resource string) string {
	return keypath.ToKey(t.prefix, resource)
}
