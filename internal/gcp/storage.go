package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/marketbrief/marketbrief/internal/logger"
)

// Bucket is a thin object-store wrapper around one GCS bucket. Writes
// are conditional on the object not existing, so replaying a stage
// never clobbers an earlier run's output.
type Bucket struct {
	bucket *storage.BucketHandle
	name   string
	log    *logger.Logger
}

// NewBucket wraps a bucket handle from a shared storage client.
func NewBucket(client *storage.Client, name string, log *logger.Logger) *Bucket {
	return &Bucket{
		bucket: client.Bucket(name),
		name:   name,
		log:    log.With("bucket", name),
	}
}

// Put writes data to objectName only if it does not already exist. A
// precondition failure (the object is already there) counts as success:
// some earlier invocation of an idempotent stage wrote it. Transient
// failures are retried with exponential backoff. Returns the gs:// URI
// of the object.
func (b *Bucket) Put(ctx context.Context, objectName, contentType string, data []byte) (string, error) {
	const maxRetries = 4
	backoff := 1 * time.Second
	uri := fmt.Sprintf("gs://%s/%s", b.name, objectName)

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		exists, err := b.putOnce(ctx, objectName, contentType, data)
		if err == nil {
			if exists {
				b.log.Info("Object already exists, skipping write.", "object", objectName)
			}
			return uri, nil
		}

		lastErr = err
		b.log.Warn("Object write failed, will retry.",
			"object", objectName, "attempt", i+1, "maxRetries", maxRetries,
			"backoff", backoff.String(), "error", err)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("write gs object %s failed after all retries: %w", objectName, lastErr)
}

// putOnce performs a single conditional write attempt. The bool reports
// whether the object was already present.
func (b *Bucket) putOnce(ctx context.Context, objectName, contentType string, data []byte) (bool, error) {
	writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	writer := b.bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(writeCtx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			return true, nil
		}
		return false, fmt.Errorf("copy: %w", err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return true, nil
		}
		return false, fmt.Errorf("finalize: %w", err)
	}
	return false, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}
