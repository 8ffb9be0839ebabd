package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/surajmurari02/ocr-card/config"
	"github.com/surajmurari02/ocr-card/model"
)

// ArtifactSink is the download destination for export artifacts. Put returns
// where the artifact can be fetched from.
type ArtifactSink interface {
	Put(ctx context.Context, art *model.ExportArtifact) (string, error)
}

// FileSink writes artifacts into a local directory.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	if dir == "" {
		dir = "."
	}
	return &FileSink{dir: dir}
}

func (s *FileSink) Put(ctx context.Context, art *model.ExportArtifact) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(s.dir, SanitizeFilename(art.Filename))
	if err := os.WriteFile(path, art.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// MinioSink uploads artifacts to an S3-compatible bucket and hands back a
// presigned download URL.
type MinioSink struct {
	client *minio.Client
	bucket string
	config *config.MinioConfig
	now    func() time.Time
}

func NewMinioSink(cfg *config.MinioConfig) (*MinioSink, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio sink requires MINIO_ENDPOINT and MINIO_BUCKET")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioSink{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
		now:    time.Now,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinioSink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.config.Region})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// ObjectName places each export under its own dated prefix so repeated
// exports of the same format never overwrite each other.
func (s *MinioSink) ObjectName(filename string) string {
	return fmt.Sprintf("exports/%s/%s/%s",
		s.now().UTC().Format("2006-01-02"),
		uuid.New().String(),
		SanitizeFilename(filename),
	)
}

func (s *MinioSink) Put(ctx context.Context, art *model.ExportArtifact) (string, error) {
	if err := s.EnsureBucket(ctx); err != nil {
		return "", err
	}

	objectName := s.ObjectName(art.Filename)
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(art.Data), int64(len(art.Data)), minio.PutObjectOptions{
		ContentType:        art.MediaType,
		ContentDisposition: fmt.Sprintf(`attachment; filename="%s"`, SanitizeFilename(art.Filename)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload export: %w", err)
	}

	return s.PresignedURL(ctx, objectName)
}

// PresignedURL generates a download URL valid for ExpireDays.
func (s *MinioSink) PresignedURL(ctx context.Context, objectName string) (string, error) {
	days := s.config.ExpireDays
	if days <= 0 {
		days = 7
	}
	expiry := time.Duration(days) * 24 * time.Hour
	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}
