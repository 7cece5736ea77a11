package upload

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnsupportedInput 表示没有适配器能处理该输入。
var ErrUnsupportedInput = errors.New("upload: no adapter for input")

// FetchError 表示远程下载失败。
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ContentTypeDetector 判断临时文件的内容类型。
type ContentTypeDetector interface {
	Detect(ctx context.Context, path, name string) string
}

// Options 是单次规整的参数。
type Options struct {
	Digest Digest
	// ContentType、Filename 非空时覆盖适配器得出的值。
	ContentType string
	Filename    string
}

// Matcher 判断适配器是否接受该输入。
type Matcher func(Input) bool

// Factory 将输入规整为 File。
type Factory func(ctx context.Context, in Input, opts Options) (*File, error)

// Is 返回匹配某一输入变体的 Matcher。
func Is[T Input]() Matcher {
	return func(in Input) bool {
		_, ok := in.(T)
		return ok
	}
}

type handler struct {
	match   Matcher
	factory Factory
}

// Registry 按注册顺序查找第一个接受输入的适配器。
type Registry struct {
	detector      ContentTypeDetector
	client        *http.Client
	tempDir       string
	maxFetchBytes int64
	logger        *slog.Logger

	handlers []handler
}

type RegistryOption func(*Registry)

// WithTempDir 指定临时文件目录，默认为系统临时目录。
func WithTempDir(dir string) RegistryOption {
	return func(r *Registry) { r.tempDir = dir }
}

// WithMaxFetchBytes 限制 URL 下载的最大字节数，0 表示不限。
func WithMaxFetchBytes(n int64) RegistryOption {
	return func(r *Registry) { r.maxFetchBytes = n }
}

func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry 创建注册表并注册内置适配器。
func NewRegistry(detector ContentTypeDetector, client *http.Client, opts ...RegistryOption) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	r := &Registry{detector: detector, client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}

	r.Register(Is[*File](), func(_ context.Context, in Input, _ Options) (*File, error) {
		return in.(*File), nil
	})
	r.Register(Is[Nil](), func(context.Context, Input, Options) (*File, error) {
		return nilFile(), nil
	})
	r.Register(Is[Empty](), func(context.Context, Input, Options) (*File, error) {
		return emptyFile(), nil
	})
	r.Register(Is[Path](), r.fromPath)
	r.Register(Is[Bytes](), r.fromBytes)
	r.Register(Is[Reader](), r.fromStream)
	r.Register(Is[DataURI](), r.fromDataURI)
	r.Register(Is[URL](), r.fromURL)
	r.Register(Is[Multipart](), r.fromMultipart)
	r.Register(Is[Prior](), r.fromPrior)
	return r
}

// Register 追加适配器。外部包可嵌入已有变体来定义新的输入类型，再为其注册适配器。
func (r *Registry) Register(match Matcher, factory Factory) {
	r.handlers = append(r.handlers, handler{match: match, factory: factory})
}

// Registered 判断输入是否有可用的适配器。
func (r *Registry) Registered(in Input) bool {
	return r.lookup(in) != nil
}

func (r *Registry) lookup(in Input) Factory {
	if in == nil {
		return nil
	}
	for _, h := range r.handlers {
		if h.match(in) {
			return h.factory
		}
	}
	return nil
}

// For 将输入规整为 File。调用方负责 Close。
func (r *Registry) For(ctx context.Context, in Input, opts Options) (*File, error) {
	factory := r.lookup(in)
	if factory == nil {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedInput, in)
	}

	f, err := factory(ctx, in, opts)
	if err != nil {
		return nil, err
	}
	if f.tmp == nil {
		return f, nil
	}
	if f.digest == "" {
		f.digest = opts.Digest
	}
	f.SetOriginalFilename(opts.Filename)
	f.SetContentType(opts.ContentType)
	return f, nil
}

// newTemp 创建临时文件，文件名为原名主体的 md5 并保留扩展名。
func (r *Registry) newTemp(name string) (*os.File, error) {
	if name == "" {
		name = uuid.NewString()
	}
	ext := filepath.Ext(name)
	sum := md5.Sum([]byte(strings.TrimSuffix(filepath.Base(name), ext)))
	tmp, err := os.CreateTemp(r.tempDir, hex.EncodeToString(sum[:])+"-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return tmp, nil
}

// fromReader 将流写入新的临时文件。contentType 为空时按内容识别。
func (r *Registry) fromReader(ctx context.Context, name string, src io.Reader, contentType string, opts Options) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name = Sanitize(name)
	tmp, err := r.newTemp(name)
	if err != nil {
		return nil, err
	}

	size, err := io.Copy(tmp, src)
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write temp file: %w", err)
	}

	if contentType == "" {
		contentType = r.detect(ctx, tmp.Name(), name)
	}
	return &File{
		originalFilename: name,
		contentType:      contentType,
		size:             size,
		digest:           opts.Digest,
		tmp:              tmp,
		assignment:       true,
	}, nil
}

// fromLocal 通过硬链接（失败则复制）将本地文件放入临时文件。
func (r *Registry) fromLocal(ctx context.Context, src, name, contentType string, opts Options) (*File, error) {
	name = Sanitize(name)
	tmp, err := r.newTemp(name)
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	tmp.Close()

	if err := linkOrCopy(src, tmpName); err != nil {
		os.Remove(tmpName)
		return nil, err
	}
	return r.openLocal(ctx, tmpName, name, contentType, opts)
}

func (r *Registry) openLocal(ctx context.Context, tmpName, name, contentType string, opts Options) (*File, error) {
	handle, err := os.Open(tmpName)
	if err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("open temp file: %w", err)
	}
	info, err := handle.Stat()
	if err != nil {
		handle.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("stat temp file: %w", err)
	}

	if contentType == "" {
		contentType = r.detect(ctx, tmpName, name)
	}
	return &File{
		originalFilename: name,
		contentType:      contentType,
		size:             info.Size(),
		digest:           opts.Digest,
		tmp:              handle,
		assignment:       true,
	}, nil
}

func (r *Registry) detect(ctx context.Context, path, name string) string {
	if r.detector == nil {
		return ""
	}
	return r.detector.Detect(ctx, path, name)
}

func linkOrCopy(src, dst string) error {
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("prepare temp file: %w", err)
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy source: %w", err)
	}
	return out.Close()
}
