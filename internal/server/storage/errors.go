package storage

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// OpError carries the S3 operation and object that failed.
type OpError struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *OpError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("s3.%s bucket %s: %v", e.Op, e.Bucket, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func (g *S3Gateway) opError(op, key string, err error) error {
	return &OpError{Op: op, Bucket: g.bucket, Key: key, Err: err}
}

// hasCode reports whether err is an S3 API error with one of the codes.
func hasCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.ErrorCode() == c {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return hasCode(err, "NotFound", "NoSuchKey")
}

func isNoSuchUpload(err error) bool {
	return hasCode(err, "NoSuchUpload")
}
