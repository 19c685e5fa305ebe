package source

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kennethnrk/edgernetes-inference/internal/agent/config"
)

const downloadParallelism = 4

// objectGetter is the slice of *minio.Client used for downloads.
type objectGetter interface {
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
}

// MinioDownloader downloads from any S3-compatible endpoint.
type MinioDownloader struct {
	client   objectGetter
	attempts int
	backoff  time.Duration
	sleep    func(context.Context, time.Duration) error
}

// NewMinioDownloader constructs the client. Every object is tried up to
// cfg.MaxRetries times with a fixed cfg.RetryBackoff between attempts. The
// client's own retries are off so each attempt is a single request.
func NewMinioDownloader(cfg config.ObjectStoreConfig) (*MinioDownloader, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:      credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:     cfg.UseSSL,
		Region:     region,
		MaxRetries: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}
	return newMinioDownloader(client, cfg.MaxRetries, cfg.RetryBackoff), nil
}

func newMinioDownloader(client objectGetter, attempts int, backoff time.Duration) *MinioDownloader {
	if attempts < 1 {
		attempts = 1
	}
	return &MinioDownloader{
		client:   client,
		attempts: attempts,
		backoff:  backoff,
		sleep:    sleepContext,
	}
}

// Download fetches every key into targetDir, naming each file after the last
// path segment of its key. The first failure cancels the remaining downloads.
func (d *MinioDownloader) Download(ctx context.Context, bucket string, keys []string, targetDir string) error {
	if bucket == "" {
		return errors.New("bucket is required")
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(downloadParallelism)
	for _, key := range keys {
		g.Go(func() error {
			target := filepath.Join(targetDir, path.Base(key))
			return d.downloadOne(ctx, bucket, key, target)
		})
	}
	return g.Wait()
}

func (d *MinioDownloader) downloadOne(ctx context.Context, bucket, key, target string) error {
	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		err = d.client.FGetObject(ctx, bucket, key, target, minio.GetObjectOptions{})
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == d.attempts {
			break
		}
		logrus.WithFields(logrus.Fields{"bucket": bucket, "key": key, "attempt": attempt}).
			WithError(err).Debug("Object download failed, retrying")
		if serr := d.sleep(ctx, d.backoff); serr != nil {
			return fmt.Errorf("download s3://%s/%s: %w", bucket, key, serr)
		}
	}
	return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return false
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
