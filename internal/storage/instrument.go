package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"attachr/internal/metrics"
)

// Instrumented 为后端操作计数。
type Instrumented struct {
	next Backend
	name string
}

// Instrument 包装 next，所有操作记录到 attachr_storage_operations_total。
func Instrument(next Backend, name string) *Instrumented {
	return &Instrumented{next: next, name: name}
}

func (i *Instrumented) Write(ctx context.Context, key string, r io.Reader, opts WriteOptions) (Location, error) {
	loc, err := i.next.Write(ctx, key, r, opts)
	metrics.ObserveStorage(i.name, "write", err)
	return loc, err
}

func (i *Instrumented) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := i.next.Read(ctx, key)
	metrics.ObserveStorage(i.name, "read", notFoundIsOK(err))
	return rc, err
}

func (i *Instrumented) Delete(ctx context.Context, key string) error {
	err := i.next.Delete(ctx, key)
	metrics.ObserveStorage(i.name, "delete", notFoundIsOK(err))
	return err
}

func (i *Instrumented) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := i.next.Exists(ctx, key)
	metrics.ObserveStorage(i.name, "exists", err)
	return ok, err
}

// URL 在被包装的后端不支持时返回空串。
func (i *Instrumented) URL(key string) string {
	if u, ok := i.next.(URLer); ok {
		return u.URL(key)
	}
	return ""
}

// ErrPresignUnsupported 表示后端不能生成签名地址。
var ErrPresignUnsupported = errors.New("storage: presigned urls not supported")

func (i *Instrumented) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	p, ok := i.next.(Presigner)
	if !ok {
		return "", ErrPresignUnsupported
	}
	u, err := p.PresignedURL(ctx, key, expiry)
	metrics.ObserveStorage(i.name, "presign", err)
	return u, err
}

// Unwrap 返回被包装的后端。
func (i *Instrumented) Unwrap() Backend { return i.next }

func notFoundIsOK(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
