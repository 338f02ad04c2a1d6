package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/dc-tec/s3-wagon/internal/tree"
)

// Store uploads body to resource with a single PutObject. A zero
// lastModified means now. body is closed on every return path.
//
// body need not be seekable. A stream of known length is sent with an
// unsigned payload. A stream of unknown length (contentLength < 0) is first
// spooled to a temporary file, since S3 rejects a PUT without a length.
func (t *Transport) Store(ctx context.Context, resource string, body io.ReadCloser, contentLength int64, lastModified time.Time) error {
	return t.store(ctx, resource, "", body, contentLength, lastModified)
}

func (t *Transport) store(ctx context.Context, resource, localPath string, body io.ReadCloser, contentLength int64, lastModified time.Time) error {
	defer func() { _ = body.Close() }()

	if !t.Connected() {
		return t.disconnected("store", resource)
	}

	key := t.Key(resource)
	x := t.begin(RequestPut, resource, key, localPath)

	if lastModified.IsZero() {
		lastModified = time.Now()
	}

	var (
		upload io.Reader = body
		optFns []func(*s3.Options)
	)
	if _, seekable := body.(io.Seeker); !seekable {
		if contentLength < 0 {
			spooled, n, err := spool(body)
			if err != nil {
				return x.finish(0, t.failed("store", resource, key, err))
			}
			defer func() {
				_ = spooled.Close()
				_ = os.Remove(spooled.Name())
			}()
			upload, contentLength = spooled, n
		} else {
			optFns = append(optFns, s3.WithAPIOptions(v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware))
		}
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
		Body:   upload,
		Metadata: map[string]string{
			MetadataLastModified: strconv.FormatInt(lastModified.UnixMilli(), 10),
		},
	}
	if contentLength >= 0 {
		input.ContentLength = aws.Int64(contentLength)
	}
	if t.mime != nil {
		if contentType, ok := t.mime.Resolve(resource); ok {
			input.ContentType = aws.String(contentType)
		}
	}

	x.started()
	if _, err := t.api.PutObject(ctx, input, optFns...); err != nil {
		return x.finish(0, t.translate("store", resource, key, err))
	}

	if t.publicRead {
		if _, err := t.api.PutObjectAcl(ctx, &s3.PutObjectAclInput{
			Bucket: aws.String(t.bucket),
			Key:    aws.String(key),
			ACL:    types.ObjectCannedACLPublicRead,
		}); err != nil {
			return x.finish(0, t.translate("setPublicRead", resource, key, err))
		}
		x.debug("granted public-read")
	}

	return x.finish(max(contentLength, 0), nil)
}

// spool copies r into a temporary file positioned at its start.
func spool(r io.Reader) (*os.File, int64, error) {
	f, err := os.CreateTemp("", "s3wagon-upload-*")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to buffer upload: %w", err)
	}
	n, err := io.Copy(f, r)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, 0, fmt.Errorf("failed to buffer upload: %w", err)
	}
	return f, n, nil
}

// StoreFile uploads the local file at localPath to resource dest, carrying
// the file's size and modification time.
func (t *Transport) StoreFile(ctx context.Context, localPath, dest string) error {
	if !t.Connected() {
		return t.disconnected("storeFile", dest)
	}

	f, err := os.Open(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return t.notFound("storeFile", dest, t.Key(dest), err)
		}
		return t.failed("storeFile", dest, t.Key(dest), err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return t.failed("storeFile", dest, t.Key(dest), err)
	}
	if info.IsDir() {
		_ = f.Close()
		return t.failed("storeFile", dest, t.Key(dest), fmt.Errorf("%s is a directory", localPath))
	}
	return t.store(ctx, dest, localPath, f, info.Size(), info.ModTime())
}

// StoreDirectory uploads every regular file below localRoot to dest plus the
// file's relative path. Hidden entries are skipped and directories produce no
// objects. The first failing upload aborts the walk and is returned; objects
// already stored stay in place.
//
// With Concurrency above 1 uploads run in parallel. Uploads already in flight
// when another one fails are allowed to finish; their results are discarded.
func (t *Transport) StoreDirectory(ctx context.Context, localRoot, dest string) error {
	if !t.Connected() {
		return t.disconnected("storeDirectory", dest)
	}

	if t.concurrency > 1 {
		return t.storeDirectoryConcurrent(ctx, localRoot, dest)
	}

	for entry, err := range tree.Walk(localRoot, dest) {
		if err != nil {
			return t.walkFailed(dest, err)
		}
		if t.skip(entry) {
			continue
		}
		if err := t.pace(ctx); err != nil {
			return t.failed("storeDirectory", entry.ResourcePath, t.Key(entry.ResourcePath), err)
		}
		if err := t.StoreFile(ctx, entry.LocalPath, entry.ResourcePath); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) storeDirectoryConcurrent(ctx context.Context, localRoot, dest string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)

	for entry, err := range tree.Walk(localRoot, dest) {
		if err != nil {
			g.Go(func() error { return t.walkFailed(dest, err) })
			break
		}
		if gctx.Err() != nil {
			break
		}
		if t.skip(entry) {
			continue
		}
		if err := t.pace(gctx); err != nil {
			if gctx.Err() == nil {
				g.Go(func() error { return t.failed("storeDirectory", entry.ResourcePath, t.Key(entry.ResourcePath), err) })
			}
			break
		}
		g.Go(func() error {
			// ctx, not gctx: a sibling failure must not abort this upload.
			return t.StoreFile(ctx, entry.LocalPath, entry.ResourcePath)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return t.failed("storeDirectory", dest, t.Key(dest), err)
	}
	return nil
}

func (t *Transport) skip(entry tree.Entry) bool {
	if entry.Skipped == "" {
		return false
	}
	t.log.Info("Skipping file", "path", entry.LocalPath, "reason", entry.Skipped)
	t.notify(EventDebug, Event{
		Request:   RequestPut,
		Resource:  entry.ResourcePath,
		LocalPath: entry.LocalPath,
		Message:   "skipped: " + entry.Skipped,
	})
	return true
}

func (t *Transport) pace(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

func (t *Transport) walkFailed(dest string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return t.notFound("storeDirectory", dest, t.Key(dest), err)
	}
	return t.failed("storeDirectory", dest, t.Key(dest), err)
}
