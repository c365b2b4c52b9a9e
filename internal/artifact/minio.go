package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const epubContentType = "application/epub+zip"

// MinioConfig carries the settings for an S3-compatible artifact bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// PublicBaseURL overrides the URL artifacts are advertised at, for
	// deployments that front the bucket with a CDN or reverse proxy. When
	// empty, URLs point straight at the endpoint.
	PublicBaseURL string
}

// MinioStorage stores artifacts in an S3-compatible bucket.
type MinioStorage struct {
	client *minio.Client
	cfg    MinioConfig
}

// NewMinioStorage connects to the bucket, creating it if missing.
func NewMinioStorage(ctx context.Context, cfg MinioConfig) (*MinioStorage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		slog.Info("created artifact bucket", "bucket", cfg.Bucket)
	}

	return &MinioStorage{client: client, cfg: cfg}, nil
}

// Upload stores the file and returns its public URL.
func (s *MinioStorage) Upload(ctx context.Context, localPath, objectName string) (string, error) {
	_, err := s.client.FPutObject(ctx, s.cfg.Bucket, objectName, localPath,
		minio.PutObjectOptions{ContentType: epubContentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectName, err)
	}
	slog.Info("uploaded artifact", "bucket", s.cfg.Bucket, "object", objectName)
	return s.publicURL(objectName), nil
}

// Delete removes an object; a missing object is not an error.
func (s *MinioStorage) Delete(ctx context.Context, objectName string) error {
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", objectName, err)
	}
	return nil
}

func (s *MinioStorage) publicURL(objectName string) string {
	if base := strings.TrimSuffix(s.cfg.PublicBaseURL, "/"); base != "" {
		return base + "/" + objectName
	}
	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.cfg.Endpoint, s.cfg.Bucket, objectName)
}
