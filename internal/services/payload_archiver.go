package services

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// PayloadArchiver keeps raw Tally responses in object storage
type PayloadArchiver interface {
	Archive(ctx context.Context, key string, payload []byte) error
	EnsureBucketExists(ctx context.Context) error
	Ping(ctx context.Context) error
}

type minioArchiver struct {
	client *minio.Client
	bucket string
}

func NewMinioArchiver(endpoint, accessKey, secretKey, bucket string, useSSL bool) (PayloadArchiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: "us-east-1",
	})
	if err != nil {
		return nil, err
	}
	return &minioArchiver{client: client, bucket: bucket}, nil
}

func (m *minioArchiver) Archive(ctx context.Context, key string, payload []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/xml",
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}
	return nil
}

func (m *minioArchiver) EnsureBucketExists(ctx context.Context) error {
	found, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !found {
		return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Ping checks the bucket is reachable
func (m *minioArchiver) Ping(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucket)
	return err
}
