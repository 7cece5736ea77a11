// Package database 将附件内容存入 Postgres 的 bytea 列。
package database

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"attachr/internal/storage"
)

// Storage 实现 storage.Backend，数据保存在 attachment_blobs 表。
type Storage struct {
	db      *sql.DB
	baseURL string
	// MaxBytes 限制单个对象大小，0 表示不限。
	MaxBytes int64
}

func New(db *sql.DB, baseURL string) *Storage {
	return &Storage{db: db, baseURL: baseURL}
}

func cleanKey(key string) string {
	return strings.TrimPrefix(key, "/")
}

// Write 读取全部内容后以 upsert 写入，同一 key 的旧内容被整体替换。
func (s *Storage) Write(ctx context.Context, key string, r io.Reader, opts storage.WriteOptions) (storage.Location, error) {
	if s == nil || s.db == nil {
		return storage.Location{}, fmt.Errorf("database storage uninitialized")
	}

	src := r
	if s.MaxBytes > 0 {
		src = io.LimitReader(r, s.MaxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return storage.Location{}, fmt.Errorf("read content: %w", err)
	}
	if s.MaxBytes > 0 && int64(len(data)) > s.MaxBytes {
		return storage.Location{}, fmt.Errorf("object exceeds %d bytes", s.MaxBytes)
	}

	k := cleanKey(key)
	_, err = s.db.ExecContext(ctx, `INSERT INTO attachment_blobs (key, content_type, size_bytes, data)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (key) DO UPDATE SET
		content_type = EXCLUDED.content_type,
		size_bytes = EXCLUDED.size_bytes,
		data = EXCLUDED.data,
		updated_at = NOW()`,
		k, opts.ContentType, len(data), data)
	if err != nil {
		return storage.Location{}, fmt.Errorf("upsert blob: %w", err)
	}
	return storage.Location{Path: k, URL: s.URL(k)}, nil
}

func (s *Storage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("database storage uninitialized")
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM attachment_blobs WHERE key = $1`, cleanKey(key)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("select blob: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("database storage uninitialized")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM attachment_blobs WHERE key = $1`, cleanKey(key))
	if err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return nil
}

func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("database storage uninitialized")
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM attachment_blobs WHERE key = $1)`, cleanKey(key)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check blob: %w", err)
	}
	return exists, nil
}

// URL 指向 HTTP 服务的下载路由；未配置时返回空串。
func (s *Storage) URL(key string) string {
	if s.baseURL == "" {
		return ""
	}
	u, err := url.JoinPath(s.baseURL, cleanKey(key))
	if err != nil {
		return ""
	}
	return u
}
