package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PathStyle forces path-style bucket addressing, needed by most
	// non-AWS S3-compatible providers.
	PathStyle bool
}

// S3Backend stores objects in an S3-compatible bucket (AWS S3, MinIO,
// Cloudflare R2, ...). Grounded on the original engine's aws-sdk-s3 client,
// using minio-go as the idiomatic Go equivalent.
type S3Backend struct {
	client *minio.Client
	bucket string
}

func NewS3Backend(cfg S3Config) (*S3Backend, error) {
	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: create s3 client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("blobstore: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("blobstore: create bucket: %w", err)
		}
	}

	return &S3Backend{client: client, bucket: cfg.Bucket}, nil
}

// RepoPrefix builds the per-repository key prefix: repos/<user-id>/<repo>.git
func RepoPrefix(userID, repoName string) string {
	return fmt.Sprintf("repos/%s/%s.git", userID, repoName)
}

func (s *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyS3Error(key, err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return nil, classifyS3Error(key, err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, NewError(KindTransient, key, err)
	}
	return buf.Bytes(), nil
}

func (s *S3Backend) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return NewError(KindTransient, key, err)
	}
	return nil
}

func (s *S3Backend) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, NewError(KindTransient, key, err)
	}
	return true, nil
}

func (s *S3Backend) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return NewError(KindTransient, key, err)
	}
	return nil
}

func (s *S3Backend) DeleteBatch(ctx context.Context, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		objectsCh <- minio.ObjectInfo{Key: k}
	}
	close(objectsCh)

	for result := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return NewError(KindTransient, result.ObjectName, result.Err)
		}
	}
	return nil
}

func (s *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, NewError(KindTransient, prefix, obj.Err)
		}
		if !strings.HasSuffix(obj.Key, "/") {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

func classifyS3Error(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return NewError(KindNotFound, key, err)
	}
	return NewError(KindTransient, key, err)
}

var (
	_ Backend      = (*S3Backend)(nil)
	_ BatchDeleter = (*S3Backend)(nil)
)
