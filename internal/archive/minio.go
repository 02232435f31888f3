package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

func (c MinioConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("minio endpoint is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("minio bucket is required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return fmt.Errorf("minio access key and secret key must be set together")
	}
	return nil
}

// MinioStorage implements Storage on an S3 compatible bucket.
type MinioStorage struct {
	client *minio.Client
	bucket string
}

func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStorage{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioStorage) object(key, name string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	return path.Join(key, path.Base(name)), nil
}

type sized interface {
	Len() int
}

func (s *MinioStorage) Save(ctx context.Context, key string, name string, data io.Reader) error {
	obj, err := s.object(key, name)
	if err != nil {
		return err
	}
	size := int64(-1)
	if r, ok := data.(sized); ok {
		size = int64(r.Len())
	}
	opts := minio.PutObjectOptions{ContentType: contentType(name)}
	if _, err := s.client.PutObject(ctx, s.bucket, obj, data, size, opts); err != nil {
		return fmt.Errorf("put %s: %w", obj, err)
	}
	return nil
}

func (s *MinioStorage) Get(ctx context.Context, key string, name string) (io.ReadCloser, error) {
	obj, err := s.object(key, name)
	if err != nil {
		return nil, err
	}
	o, err := s.client.GetObject(ctx, s.bucket, obj, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", obj, err)
	}
	return o, nil
}

func (s *MinioStorage) List(ctx context.Context, key string) ([]string, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	prefix := key + "/"
	names := []string{}
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, info.Err)
		}
		name := strings.TrimPrefix(info.Key, prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
