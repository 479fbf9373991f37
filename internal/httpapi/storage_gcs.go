package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/api/googleapi"
	gcsapi "google.golang.org/api/storage/v1"
)

const gcsWriteAttempts = 3

// GCSObjectStore keeps briefs and plan exports in a Cloud Storage bucket.
// Each object carries its thread and kind as custom metadata.
type GCSObjectStore struct {
	bucketName string
	service    *gcsapi.Service
}

// NewGCSObjectStore uses application default credentials and fails fast when
// the bucket cannot be read.
func NewGCSObjectStore(ctx context.Context, bucketName string) (*GCSObjectStore, error) {
	bucket := strings.TrimSpace(bucketName)
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	service, err := gcsapi.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs service: %w", err)
	}
	if _, err := service.Buckets.Get(bucket).Fields("name").Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("read gcs bucket %q: %w", bucket, err)
	}
	return &GCSObjectStore{bucketName: bucket, service: service}, nil
}

func (s *GCSObjectStore) Backend() string {
	return "gcs"
}

func (s *GCSObjectStore) PutObject(ctx context.Context, obj StoredObject) error {
	ctx, span := otel.Tracer("httpapi/GCSObjectStore").Start(ctx, "PutObject")
	defer span.End()

	cleanPath, err := cleanObjectPath(obj.Path)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("gcs.object", cleanPath),
		attribute.String("mediaplan.thread_id", obj.ThreadID),
		attribute.String("mediaplan.file_kind", string(obj.Kind)),
		attribute.Int("gcs.size", len(obj.Data)),
	)

	object := &gcsapi.Object{
		Name:        cleanPath,
		ContentType: contentTypeOrDefault(obj.ContentType),
		Metadata: map[string]string{
			"thread-id": obj.ThreadID,
			"file-kind": string(obj.Kind),
		},
	}
	if obj.Filename != "" {
		object.ContentDisposition = mime.FormatMediaType("attachment", map[string]string{"filename": obj.Filename})
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = 200 * time.Millisecond
	err = backoff.Retry(func() error {
		_, insertErr := s.service.Objects.Insert(s.bucketName, object).
			Media(bytes.NewReader(obj.Data)).
			Context(ctx).
			Do()
		if insertErr != nil && !retryableGCSError(insertErr) {
			return backoff.Permanent(insertErr)
		}
		return insertErr
	}, backoff.WithContext(backoff.WithMaxRetries(schedule, gcsWriteAttempts-1), ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gcs insert failed")
		return fmt.Errorf("write gcs object %q: %w", cleanPath, err)
	}
	return nil
}

// DeleteObject treats a missing object as already deleted.
func (s *GCSObjectStore) DeleteObject(ctx context.Context, objectPath string) error {
	cleanPath, err := cleanObjectPath(objectPath)
	if err != nil {
		return nil
	}

	err = s.service.Objects.Delete(s.bucketName, cleanPath).Context(ctx).Do()
	if err == nil || gcsStatus(err) == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("delete gcs object %q: %w", cleanPath, err)
}

func retryableGCSError(err error) bool {
	status := gcsStatus(err)
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= http.StatusInternalServerError
}

func gcsStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
