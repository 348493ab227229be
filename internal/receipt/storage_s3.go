package receipt

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectClient is the part of *minio.Client that S3Storage uses
type ObjectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

const defaultContentType = "application/octet-stream"

// S3Storage implements the Storage interface for S3-compatible stores
type S3Storage struct {
	client ObjectClient
	scheme string
	host   string
	bucket string
}

// NewS3Storage creates a MinIO client for endpoint (host:port)
func NewS3Storage(endpoint, accessKeyID, secretAccessKey, bucket string, useSSL bool) (*S3Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client for %s: %w", endpoint, err)
	}
	return NewS3StorageWithClient(client, endpoint, bucket, useSSL), nil
}

// NewS3StorageWithClient creates an S3Storage around an existing client
func NewS3StorageWithClient(client ObjectClient, endpoint, bucket string, useSSL bool) *S3Storage {
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return &S3Storage{
		client: client,
		scheme: scheme,
		host:   endpoint,
		bucket: bucket,
	}
}

// Upload puts data under key and returns its path-style URL
func (s *S3Storage) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = defaultContentType
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("putting object %s: %w", key, err)
	}
	return objectURL(s.scheme, s.host, s.bucket, key), nil
}

// Delete removes the object under key
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("removing object %s: %w", key, err)
	}
	return nil
}
