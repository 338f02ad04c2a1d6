package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

type fakeObject struct {
	data         []byte
	contentType  string
	metadata     map[string]string
	lastModified time.Time
	acl          types.ObjectCannedACL
}

// fakeS3 is an in-memory ObjectAPI.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]*fakeObject
	pageSize int
	// errs forces an error for every request touching the key.
	errs map[string]error
	// putErr, when set, fails every PutObject.
	putErr error

	puts       []s3.PutObjectInput
	putOptFns  []int
	listInputs []s3.ListObjectsV2Input
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string]*fakeObject),
		errs:    make(map[string]error),
	}
}

func (f *fakeS3) add(key, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = &fakeObject{data: []byte(content), lastModified: time.Now()}
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f *fakeS3) object(key string) *fakeObject {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key]
}

func responseError(status int, code string) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
		Err:      &smithy.GenericAPIError{Code: code, Message: http.StatusText(status)},
	}
}

func (f *fakeS3) lookup(key string) (*fakeObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	obj, ok := f.objects[key]
	if !ok {
		return nil, responseError(http.StatusNotFound, "NoSuchKey")
	}
	return obj, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	obj, err := f.lookup(aws.ToString(in.Key))
	if err != nil {
		return nil, err
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   optional(obj.contentType),
		LastModified:  aws.Time(obj.lastModified),
		ETag:          aws.String(`"etag-` + strconv.Itoa(len(obj.data)) + `"`),
		Metadata:      obj.metadata,
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	obj, err := f.lookup(aws.ToString(in.Key))
	if err != nil {
		return nil, err
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   optional(obj.contentType),
		LastModified:  aws.Time(obj.lastModified),
		Metadata:      obj.metadata,
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	f.puts = append(f.puts, *in)
	f.putOptFns = append(f.putOptFns, len(optFns))
	putErr := f.putErr
	keyErr := f.errs[aws.ToString(in.Key)]
	f.mu.Unlock()
	if putErr != nil {
		return nil, putErr
	}
	if keyErr != nil {
		return nil, keyErr
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = &fakeObject{
		data:         data,
		contentType:  aws.ToString(in.ContentType),
		metadata:     in.Metadata,
		lastModified: time.Now(),
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) PutObjectAcl(_ context.Context, in *s3.PutObjectAclInput, _ ...func(*s3.Options)) (*s3.PutObjectAclOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, responseError(http.StatusNotFound, "NoSuchKey")
	}
	obj.acl = in.ACL
	return &s3.PutObjectAclOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listInputs = append(f.listInputs, *in)

	prefix := aws.ToString(in.Prefix)
	if err, ok := f.errs[prefix]; ok {
		return nil, err
	}
	delimiter := aws.ToString(in.Delimiter)

	// Entries are keys or common prefixes, in key order.
	var entries []string
	seenPrefix := make(map[string]bool)
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seenPrefix[cp] {
					seenPrefix[cp] = true
					entries = append(entries, cp)
				}
				continue
			}
		}
		entries = append(entries, k)
	}

	start := 0
	if token := aws.ToString(in.ContinuationToken); token != "" {
		start, _ = strconv.Atoi(token)
	}
	end := len(entries)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(entries))}
	for _, e := range entries[start:end] {
		if seenPrefix[e] {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(e)})
			continue
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(e)})
	}
	if end < len(entries) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

// trackingBody records whether it was closed.
type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

// recorder collects transfer events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) TransferEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types(req RequestType) []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, e := range r.events {
		if e.Request == req {
			out = append(out, e.Type)
		}
	}
	return out
}
