// Package upload publishes report directories to, and reads worker result
// files from, S3-compatible storage.
package upload

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader uploads a local report directory to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Upload uploads all files in localDir. The directory basename is
	// used as a sub-prefix under the configured remote prefix. It returns
	// the prefix the files were written under.
	Upload(ctx context.Context, localDir string) (string, error)
}

// objectAPI is the subset of the S3 client used by this package.
type objectAPI interface {
	s3.ListObjectsV2APIClient

	GetObject(
		ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options),
	) (*s3.GetObjectOutput, error)

	PutObject(
		ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options),
	) (*s3.PutObjectOutput, error)
}

var _ objectAPI = (*s3.Client)(nil)
