package transport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"

	wagonerrors "github.com/dc-tec/s3-wagon/internal/errors"
)

// API error codes that identify a missing or inaccessible object when no
// HTTP status is available.
var notFoundCodes = map[string]bool{
	"NoSuchKey":    true,
	"NotFound":     true,
	"AccessDenied": true,
	"Forbidden":    true,
}

// translate maps an SDK error onto the transport error taxonomy. 404 and 403
// both become ErrResourceNotFound, for GET and HEAD alike. Anything else is
// ErrTransferFailed; network level causes are additionally marked transient.
func (t *Transport) translate(op, resource, key string, err error) error {
	if err == nil {
		return nil
	}

	te := &wagonerrors.TransferError{
		Op:         op,
		Resource:   resource,
		Bucket:     t.bucket,
		Key:        key,
		StatusCode: httpStatus(err),
		Err:        err,
	}

	switch {
	case te.StatusCode == http.StatusNotFound, te.StatusCode == http.StatusForbidden:
		te.Kind = wagonerrors.ErrResourceNotFound
	case te.StatusCode == 0 && notFoundCodes[apiCode(err)]:
		te.Kind = wagonerrors.ErrResourceNotFound
	default:
		te.Kind = wagonerrors.ErrTransferFailed
		if te.StatusCode == 0 && wagonerrors.IsTransientConnection(err) {
			te.Err = wagonerrors.WrapTransientConnection(err)
		}
	}
	return te
}

func (t *Transport) notFound(op, resource, key string, cause error) error {
	return &wagonerrors.TransferError{
		Kind:     wagonerrors.ErrResourceNotFound,
		Op:       op,
		Resource: resource,
		Bucket:   t.bucket,
		Key:      key,
		Err:      cause,
	}
}

func (t *Transport) failed(op, resource, key string, cause error) error {
	return &wagonerrors.TransferError{
		Kind:     wagonerrors.ErrTransferFailed,
		Op:       op,
		Resource: resource,
		Bucket:   t.bucket,
		Key:      key,
		Err:      cause,
	}
}

// httpStatus extracts the HTTP status from a smithy or AWS response error.
func httpStatus(err error) int {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func apiCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

func (t *Transport) disconnected(op, resource string) error {
	return fmt.Errorf("%w: %s %q called on a disconnected transport", wagonerrors.ErrProgrammingError, op, resource)
}
