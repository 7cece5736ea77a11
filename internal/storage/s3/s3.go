package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"attachr/internal/storage"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config 包含 S3/MinIO 存储所需的配置。
type Config struct {
	Endpoint  string // 不含协议，如 "localhost:9000" 或 "s3.amazonaws.com"
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool   // 是否使用 HTTPS
	PathStyle bool   // 是否使用路径风格（MinIO 需要 true）
	PublicURL string // 对外访问前缀，如 CDN 地址；为空时按 endpoint 拼接
}

// Storage 实现了 storage.Backend 接口，使用 S3 兼容存储。
type Storage struct {
	client *minio.Client
	cfg    Config
}

// New 创建新的 S3 存储实例，bucket 不存在时创建。
func New(ctx context.Context, cfg Config) (*Storage, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{
			Region: cfg.Region,
		}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Storage{client: client, cfg: cfg}, nil
}

func newClient(cfg Config) (*minio.Client, error) {
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
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

func cleanKey(key string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(key, "\\", "/")), "/")
}

// Write 将文件写入 S3 存储。
func (s *Storage) Write(ctx context.Context, key string, r io.Reader, opts storage.WriteOptions) (storage.Location, error) {
	if s == nil || s.client == nil {
		return storage.Location{}, fmt.Errorf("s3 storage uninitialized")
	}

	k := cleanKey(key)
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	size := opts.Size
	if size <= 0 {
		// -1 表示未知大小，由 SDK 分片上传
		size = -1
	}

	info, err := s.client.PutObject(ctx, s.cfg.Bucket, k, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return storage.Location{}, fmt.Errorf("put object: %w", err)
	}

	return storage.Location{Path: info.Key, URL: s.URL(info.Key)}, nil
}

// Read 从 S3 存储读取文件。
func (s *Storage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("s3 storage uninitialized")
	}

	k := cleanKey(key)
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, k, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}

	// GetObject 是惰性的，Stat 才会真正发起请求
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, mapError(k, "stat object", err)
	}
	return obj, nil
}

// Delete 删除对象。S3 删除不存在的 key 也会成功，因此先 Stat 以区分。
func (s *Storage) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("s3 storage uninitialized")
	}

	k := cleanKey(key)
	if _, err := s.client.StatObject(ctx, s.cfg.Bucket, k, minio.StatObjectOptions{}); err != nil {
		return mapError(k, "stat object", err)
	}
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, k, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("s3 storage uninitialized")
	}
	_, err := s.client.StatObject(ctx, s.cfg.Bucket, cleanKey(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object: %w", err)
}

// URL 返回对象的公开地址，不访问网络。
func (s *Storage) URL(key string) string {
	k := cleanKey(key)
	if s.cfg.PublicURL != "" {
		u, err := url.JoinPath(s.cfg.PublicURL, k)
		if err != nil {
			return ""
		}
		return u
	}

	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: s.cfg.Endpoint, Path: "/" + s.cfg.Bucket + "/" + k}
	if !s.cfg.PathStyle {
		u.Host = s.cfg.Bucket + "." + s.cfg.Endpoint
		u.Path = "/" + k
	}
	return u.String()
}

// PresignedURL 生成带有效期的下载地址。
func (s *Storage) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("s3 storage uninitialized")
	}
	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, cleanKey(key), expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func mapError(key, op string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return fmt.Errorf("%s: %w", op, err)
}
