package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ErrNotFound 表示对象不存在。
var ErrNotFound = errors.New("storage: object not found")

// WriteOptions 描述写入对象的元数据。
type WriteOptions struct {
	ContentType string
	// Size 未知时为 -1。
	Size int64
}

// Writer 定义对象存储写接口，支持流式写入。
type Writer interface {
	Write(ctx context.Context, key string, r io.Reader, opts WriteOptions) (Location, error)
}

// Reader 定义对象存储读接口，支持流式读取。对象不存在时返回 ErrNotFound。
type Reader interface {
	Read(ctx context.Context, key string) (io.ReadCloser, error)
}

// Deleter 删除对象。对象不存在时返回 ErrNotFound，由调用方决定是否忽略。
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Checker 判断对象是否存在。
type Checker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Backend 组合了全部能力的存储后端。
type Backend interface {
	Writer
	Reader
	Deleter
	Checker
}

// URLer 由能直接给出公开地址的后端实现。
type URLer interface {
	URL(key string) string
}

// Presigner 由支持临时签名地址的后端实现。
type Presigner interface {
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Location 描述已经写入对象的可访问信息。
type Location struct {
	Path string
	URL  string
}

// Object 是一次待写入的对象。
type Object struct {
	Key   string
	Style string
	Open  func() (io.ReadCloser, error)
	WriteOptions
}

// BackendError 描述单个对象的读写删失败。
type BackendError struct {
	Op  string
	Key string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// WriteAll 按顺序写入全部对象，遇到第一个失败即停止。
func WriteAll(ctx context.Context, w Writer, objects []Object) ([]Location, error) {
	locations := make([]Location, 0, len(objects))
	for _, obj := range objects {
		loc, err := writeOne(ctx, w, obj)
		if err != nil {
			return locations, &BackendError{Op: "write", Key: obj.Key, Err: err}
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

func writeOne(ctx context.Context, w Writer, obj Object) (Location, error) {
	if obj.Open == nil {
		return Location{}, fmt.Errorf("no content")
	}
	r, err := obj.Open()
	if err != nil {
		return Location{}, err
	}
	defer r.Close()
	return w.Write(ctx, obj.Key, r, obj.WriteOptions)
}

// DeleteAll 删除全部 key。whiny 为 false 时所有失败只记录日志；
// 为 true 时继续删除剩余 key，并返回汇总后的错误（包括对象不存在）。
func DeleteAll(ctx context.Context, d Deleter, keys []string, whiny bool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	var errs []error
	for _, key := range keys {
		err := d.Delete(ctx, key)
		if err == nil {
			continue
		}
		if whiny {
			errs = append(errs, &BackendError{Op: "delete", Key: key, Err: err})
			continue
		}
		if errors.Is(err, ErrNotFound) {
			logger.Debug("delete skipped, object already absent", "key", key)
		} else {
			logger.Warn("delete failed", "key", key, "err", err)
		}
	}
	return errors.Join(errs...)
}
