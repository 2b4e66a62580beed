package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/ethpandaops/reportoor/pkg/merge"
)

// S3Reader reads objects from S3-compatible storage.
type S3Reader struct {
	log    logrus.FieldLogger
	cfg    *config.S3UploadConfig
	client objectAPI
}

// NewS3Reader creates a new S3Reader from the given configuration.
func NewS3Reader(
	log logrus.FieldLogger,
	cfg *config.S3UploadConfig,
) *S3Reader {
	return &S3Reader{
		log:    log.WithField("component", "s3-reader"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}
}

// WorkerPrefix returns the key prefix worker files are stored under.
func (r *S3Reader) WorkerPrefix(workerDir string) string {
	return joinKey(r.cfg.Prefix, workerDir) + "/"
}

// ListKeys lists all object keys under prefix that end with suffix,
// sorted lexically.
func (r *S3Reader) ListKeys(
	ctx context.Context, prefix, suffix string,
) ([]string, error) {
	keys := make([]string, 0, 16)

	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(r.cfg.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects under %q: %w", prefix, err)
		}

		for _, obj := range page.Contents {
			if obj.Key != nil && strings.HasSuffix(*obj.Key, suffix) {
				keys = append(keys, *obj.Key)
			}
		}
	}

	sort.Strings(keys)

	return keys, nil
}

// GetObject returns the contents of the given key.
// If the key does not exist, it returns (nil, nil).
func (r *S3Reader) GetObject(
	ctx context.Context, key string,
) ([]byte, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting object %q: %w", key, err)
	}

	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", key, err)
	}

	return data, nil
}

// PutObject writes data to the given key with the specified content type.
func (r *S3Reader) PutObject(
	ctx context.Context, key string, data []byte, contentType string,
) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("putting object %q: %w", key, err)
	}

	return nil
}

// PutWorkerFile stores one worker's result file under the worker prefix.
func (r *S3Reader) PutWorkerFile(
	ctx context.Context, workerDir, name string, data []byte,
) (string, error) {
	key := r.WorkerPrefix(workerDir) + path.Base(name)

	if err := r.PutObject(ctx, key, data, "application/json"); err != nil {
		return "", err
	}

	return key, nil
}

// FetchSources downloads every *.json object directly under prefix as a
// merge source. Downloads run in parallel; the result is ordered by key
// so merging stays deterministic.
func (r *S3Reader) FetchSources(
	ctx context.Context, prefix string,
) ([]merge.Source, error) {
	keys, err := r.ListKeys(ctx, prefix, ".json")
	if err != nil {
		return nil, err
	}

	sources := make([]merge.Source, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency())

	for i, key := range keys {
		g.Go(func() error {
			data, err := r.GetObject(gctx, key)
			if err != nil {
				return err
			}

			if data == nil {
				return fmt.Errorf("object %q disappeared while fetching", key)
			}

			sources[i] = merge.Source{Name: "s3://" + r.cfg.Bucket + "/" + key, Data: data}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"prefix":  prefix,
		"sources": len(sources),
	}).Debug("Fetched merge sources")

	return sources, nil
}

func (r *S3Reader) concurrency() int {
	if r.cfg.Concurrency > 0 {
		return r.cfg.Concurrency
	}

	return 8
}

// isS3NotFound returns true if the error indicates the object does not exist.
func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// Some S3-compatible implementations return a generic error with
	// "NoSuchKey" in the message rather than the typed error.
	return strings.Contains(err.Error(), "NoSuchKey")
}
