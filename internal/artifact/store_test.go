package artifact

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsight/deidgate/internal/domain"
	"github.com/labsight/deidgate/internal/report"
)

type fakePutter struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (f *fakePutter) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.bucket, f.key, f.contentType, f.body = bucket, key, opts.ContentType, body
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func TestPutReport(t *testing.T) {
	putter := &fakePutter{}
	logger, _ := test.NewNullLogger()
	s := NewStore(putter, "reports-bucket", logger)

	rep := &report.RenderedReport{
		OrderRef:    "ord-1",
		ContentType: report.ContentTypeHTML,
		HTML:        []byte("<html>report</html>"),
		GeneratedAt: time.Now(),
	}

	key, err := s.PutReport(context.Background(), rep)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "reports/"))
	assert.True(t, strings.HasSuffix(key, ".html"))
	assert.NotContains(t, key, "ord-1")
	assert.Equal(t, key, putter.key)
	assert.Equal(t, "reports-bucket", putter.bucket)
	assert.Equal(t, report.ContentTypeHTML, putter.contentType)
	assert.Equal(t, rep.HTML, putter.body)

	other, err := s.PutReport(context.Background(), rep)
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestPutReport_Errors(t *testing.T) {
	logger, _ := test.NewNullLogger()

	s := NewStore(&fakePutter{}, "b", logger)
	_, err := s.PutReport(context.Background(), &report.RenderedReport{})
	assert.True(t, domain.IsValidationError(err))

	s = NewStore(&fakePutter{err: errors.New("access denied")}, "b", logger)
	_, err = s.PutReport(context.Background(), &report.RenderedReport{HTML: []byte("x")})
	assert.ErrorContains(t, err, "access denied")
}

func TestNewMinioClient(t *testing.T) {
	client, err := NewMinioClient(domain.ArtifactConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "reports",
	})
	require.NoError(t, err)
	assert.NotNil(t, client)
}
