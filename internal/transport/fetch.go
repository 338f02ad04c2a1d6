package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	wagonerrors "github.com/dc-tec/s3-wagon/internal/errors"
)

// Fetch opens the object behind resource. The caller must close the returned
// body; the completed event fires on close with the number of bytes read.
func (t *Transport) Fetch(ctx context.Context, resource string) (io.ReadCloser, Metadata, error) {
	if !t.Connected() {
		return nil, Metadata{}, t.disconnected("fetch", resource)
	}

	key := t.Key(resource)
	x := t.begin(RequestGet, resource, key, "")

	out, err := t.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, Metadata{}, x.finish(0, t.translate("fetch", resource, key, err))
	}
	x.started()

	meta := metadataFrom(key, out.ContentLength, out.LastModified, out.ContentType, out.ETag, out.Metadata)
	return &countingBody{ReadCloser: out.Body, transfer: x}, meta, nil
}

// FetchMetadata issues a metadata-only request for resource.
func (t *Transport) FetchMetadata(ctx context.Context, resource string) (Metadata, error) {
	if !t.Connected() {
		return Metadata{}, t.disconnected("fetchMetadata", resource)
	}
	return t.head(ctx, "fetchMetadata", resource)
}

func (t *Transport) head(ctx context.Context, op, resource string) (Metadata, error) {
	key := t.Key(resource)
	out, err := t.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Metadata{}, t.translate(op, resource, key, err)
	}
	return metadataFrom(key, out.ContentLength, out.LastModified, out.ContentType, out.ETag, out.Metadata), nil
}

// Exists reports whether resource is present. A missing or inaccessible
// object is false; every other failure is returned.
func (t *Transport) Exists(ctx context.Context, resource string) (bool, error) {
	if !t.Connected() {
		return false, t.disconnected("exists", resource)
	}

	key := t.Key(resource)
	x := t.begin(RequestExists, resource, key, "")
	_, err := t.head(ctx, "exists", resource)
	switch {
	case err == nil:
		return true, x.finish(0, nil)
	case errors.Is(err, wagonerrors.ErrResourceNotFound):
		x.debug("resource does not exist")
		return false, x.finish(0, nil)
	default:
		return false, x.finish(0, err)
	}
}

// FetchIfNewer copies resource into w unless the remote copy is strictly
// newer than local. It reports whether anything was fetched. A missing
// resource is not an error.
//
// The policy is conservative: a local copy older than the remote one is left
// alone rather than refreshed. Callers wanting a sync should use Fetch.
func (t *Transport) FetchIfNewer(ctx context.Context, resource string, local time.Time, w io.Writer) (bool, error) {
	if !t.Connected() {
		return false, t.disconnected("fetchIfNewer", resource)
	}

	meta, err := t.head(ctx, "fetchIfNewer", resource)
	if err != nil {
		if errors.Is(err, wagonerrors.ErrResourceNotFound) {
			return false, nil
		}
		return false, err
	}
	if meta.LastModified.After(local) {
		t.notify(EventDebug, Event{
			Request:  RequestGet,
			Resource: resource,
			Key:      meta.Key,
			Message:  fmt.Sprintf("remote copy modified %s is newer than local %s, not fetching", meta.LastModified.UTC().Format(time.RFC3339), local.UTC().Format(time.RFC3339)),
		})
		return false, nil
	}

	body, _, err := t.Fetch(ctx, resource)
	if err != nil {
		return false, err
	}
	_, copyErr := io.Copy(w, body)
	closeErr := body.Close()
	if copyErr != nil {
		return false, t.failed("fetchIfNewer", resource, meta.Key, copyErr)
	}
	if closeErr != nil {
		return false, t.failed("fetchIfNewer", resource, meta.Key, closeErr)
	}
	return true, nil
}

// FetchToFile downloads resource into dest with a single GET. The file is
// written next to dest and renamed into place, so a failed download leaves
// no partial file.
func (t *Transport) FetchToFile(ctx context.Context, resource, dest string) (Metadata, error) {
	if !t.Connected() {
		return Metadata{}, t.disconnected("fetchToFile", resource)
	}

	key := t.Key(resource)
	x := t.begin(RequestGet, resource, key, dest)

	meta, err := t.head(ctx, "fetchToFile", resource)
	if err != nil {
		return Metadata{}, x.finish(0, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Metadata{}, x.finish(0, t.failed("fetchToFile", resource, key, err))
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return Metadata{}, x.finish(0, t.failed("fetchToFile", resource, key, err))
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	x.started()
	var n int64
	if aws.ToInt64(meta.ContentLength) != 0 || meta.ContentLength == nil {
		n, err = t.downloader.Download(ctx, tmp, &s3.GetObjectInput{
			Bucket: aws.String(t.bucket),
			Key:    aws.String(key),
		}, singlePart(meta.ContentLength))
	}
	closeErr := tmp.Close()
	if err != nil {
		return Metadata{}, x.finish(n, t.translate("fetchToFile", resource, key, err))
	}
	if closeErr != nil {
		return Metadata{}, x.finish(n, t.failed("fetchToFile", resource, key, closeErr))
	}

	if !meta.LastModified.IsZero() {
		_ = os.Chtimes(tmpName, meta.LastModified, meta.LastModified)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return Metadata{}, x.finish(n, t.failed("fetchToFile", resource, key, err))
	}

	if meta.ContentLength == nil {
		meta.ContentLength = aws.Int64(n)
	}
	return meta, x.finish(n, nil)
}

// singlePart makes the downloader fetch the whole object with one GET.
func singlePart(length *int64) func(*manager.Downloader) {
	return func(d *manager.Downloader) {
		d.Concurrency = 1
		d.PartSize = math.MaxInt64
		if n := aws.ToInt64(length); n > 0 {
			d.PartSize = n
		}
	}
}

func metadataFrom(key string, length *int64, lastModified *time.Time, contentType, etag *string, user map[string]string) Metadata {
	m := Metadata{
		Key:           key,
		ContentLength: length,
		ContentType:   aws.ToString(contentType),
		ETag:          aws.ToString(etag),
	}
	if lastModified != nil {
		m.LastModified = *lastModified
	}
	if raw, ok := user[MetadataLastModified]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			m.LastModified = time.UnixMilli(ms)
		}
	}
	return m
}

// countingBody fires the completed event once, on Close.
type countingBody struct {
	io.ReadCloser
	transfer *transfer
	n        int64
	err      error
	once     sync.Once
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n += int64(n)
	if err != nil && err != io.EOF {
		b.err = err
	}
	return n, err
}

func (b *countingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(func() {
		var failure error
		if b.err != nil {
			failure = b.transfer.t.failed("fetch", b.transfer.event.Resource, b.transfer.event.Key, b.err)
		}
		_ = b.transfer.finish(b.n, failure)
	})
	return err
}
