// Package artifact uploads rendered reports to S3-compatible object storage.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/labsight/deidgate/internal/domain"
	"github.com/labsight/deidgate/internal/report"
)

// ObjectPutter is the subset of *minio.Client used here.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Store writes reports under reports/ with random object names. Keys carry no
// order reference and no identity.
type Store struct {
	client ObjectPutter
	bucket string
	log    *logrus.Logger
}

// NewMinioClient creates the object storage client from configuration.
func NewMinioClient(cfg domain.ArtifactConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}
	return client, nil
}

// NewStore creates an artifact store writing to bucket.
func NewStore(client ObjectPutter, bucket string, logger *logrus.Logger) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		log:    logger,
	}
}

// PutReport uploads the rendered report and returns its object key.
func (s *Store) PutReport(ctx context.Context, rep *report.RenderedReport) (string, error) {
	if rep == nil || len(rep.HTML) == 0 {
		return "", domain.NewValidationError("report", "rendered report is empty")
	}

	key := "reports/" + uuid.NewString() + ".html"
	info, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(rep.HTML), int64(len(rep.HTML)),
		minio.PutObjectOptions{
			ContentType: rep.ContentType,
			UserMetadata: map[string]string{
				"generated-at": rep.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z"),
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("uploading report to bucket %s: %w", s.bucket, err)
	}

	s.log.WithFields(logrus.Fields{
		"order_ref": rep.OrderRef,
		"key":       key,
		"size":      info.Size,
	}).Info("Report uploaded")

	return key, nil
}
