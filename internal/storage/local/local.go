package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"attachr/internal/storage"
)

// Storage 将文件写入本地文件系统。
type Storage struct {
	BaseDir string
	BaseURL string
	// FileMode 是写入文件的权限，为 0 时使用 0644。
	FileMode os.FileMode
}

func New(baseDir, baseURL string) *Storage {
	return &Storage{BaseDir: baseDir, BaseURL: baseURL, FileMode: 0o644}
}

// resolve 将 key 限定在 BaseDir 之内。
func (s *Storage) resolve(key string) string {
	return filepath.Join(s.BaseDir, filepath.Clean("/"+filepath.FromSlash(key)))
}

// Write 先写入同目录临时文件再重命名，失败时不会留下同名的半成品。
func (s *Storage) Write(ctx context.Context, key string, r io.Reader, _ storage.WriteOptions) (storage.Location, error) {
	if s == nil {
		return storage.Location{}, fmt.Errorf("local storage uninitialized")
	}

	select {
	case <-ctx.Done():
		return storage.Location{}, ctx.Err()
	default:
	}

	targetPath := s.resolve(key)
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return storage.Location{}, fmt.Errorf("ensure dir: %w", err)
	}

	file, err := os.CreateTemp(filepath.Dir(targetPath), "."+filepath.Base(targetPath)+".tmp-*")
	if err != nil {
		return storage.Location{}, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := file.Name()
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("write file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("sync file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("close file: %w", err)
	}

	mode := s.FileMode
	if mode == 0 {
		mode = 0o644
	}
	if err := os.Chmod(tempPath, mode); err != nil {
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("chmod file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("rename temp file: %w", err)
	}

	return storage.Location{Path: targetPath, URL: s.URL(key)}, nil
}

// Read 打开并返回指定 key 对应的文件内容。
func (s *Storage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil {
		return nil, fmt.Errorf("local storage uninitialized")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	file, err := os.Open(s.resolve(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

// Delete 删除文件，并清理因此变空的上级目录（不越过 BaseDir）。
func (s *Storage) Delete(ctx context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("local storage uninitialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	targetPath := s.resolve(key)
	if err := os.Remove(targetPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return fmt.Errorf("remove file: %w", err)
	}
	s.pruneEmptyDirs(filepath.Dir(targetPath))
	return nil
}

func (s *Storage) pruneEmptyDirs(dir string) {
	base := filepath.Clean(s.BaseDir)
	for dir != base && strings.HasPrefix(dir, base+string(filepath.Separator)) {
		// 目录非空或无权限时 Remove 失败，停止向上清理
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.resolve(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat file: %w", err)
	}
}

// URL 由 BaseURL 与 key 拼接；未配置 BaseURL 时返回空串。
func (s *Storage) URL(key string) string {
	if s.BaseURL == "" {
		return ""
	}
	u, err := url.JoinPath(s.BaseURL, filepath.ToSlash(strings.TrimPrefix(key, "/")))
	if err != nil {
		return ""
	}
	return u
}
