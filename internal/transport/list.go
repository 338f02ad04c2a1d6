package transport

import (
	"context"
	"errors"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dc-tec/s3-wagon/internal/keypath"
)

// ListChildren returns the immediate child names below dir. Objects and
// deeper "subdirectories" both collapse to their first path segment. The
// result is de-duplicated and sorted. An empty listing means the directory
// does not exist and fails with ErrResourceNotFound.
func (t *Transport) ListChildren(ctx context.Context, dir string) ([]string, error) {
	if !t.Connected() {
		return nil, t.disconnected("listChildren", dir)
	}

	prefix := keypath.DirectoryPrefix(t.prefix, dir)
	x := t.begin(RequestList, dir, prefix, "")

	paginator := s3.NewListObjectsV2Paginator(t.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(t.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	seen := make(map[string]struct{})
	add := func(key string) {
		if name := keypath.ToChildName(prefix, key); name != "" {
			seen[name] = struct{}{}
		}
	}

	x.started()
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, x.finish(0, t.translate("listChildren", dir, prefix, err))
		}
		for _, obj := range page.Contents {
			add(aws.ToString(obj.Key))
		}
		for _, cp := range page.CommonPrefixes {
			add(aws.ToString(cp.Prefix))
		}
	}

	if len(seen) == 0 {
		return nil, x.finish(0, t.notFound("listChildren", dir, prefix, errors.New("no objects under prefix")))
	}

	children := make([]string, 0, len(seen))
	for name := range seen {
		children = append(children, name)
	}
	sort.Strings(children)

	x.debug("listed children")
	return children, x.finish(0, nil)
}
