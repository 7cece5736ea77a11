// Package processor 根据样式从原文件生成派生文件。
package processor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"attachr/internal/style"
	"attachr/internal/upload"
)

// Processor 生成派生文件并返回其临时路径，调用方负责删除。
type Processor interface {
	Make(ctx context.Context, src *upload.File, spec style.Spec) (string, error)
}

// Error 是单个样式的处理失败。
type Error struct {
	Style string
	File  string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("processor: %s (style %s): %s", e.File, e.Style, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// newOutput 在 dir 中创建空的输出文件并返回路径。
func newOutput(dir string, src *upload.File, spec style.Spec) (string, error) {
	ext := spec.Extension(src.OriginalFilename())
	name := upload.Sanitize(spec.Name)
	if name == "" {
		name = style.Original
	}
	f, err := os.CreateTemp(dir, "attachr-"+name+"-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create output file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close output file: %w", err)
	}
	return path, nil
}

// passThrough 复制原文件字节，用于无需变换的样式。
func passThrough(dir string, src *upload.File, spec style.Spec) (string, error) {
	dst, err := newOutput(dir, src, spec)
	if err != nil {
		return "", err
	}
	in, err := src.Open()
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("open output: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("copy source: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", err
	}
	return dst, nil
}

func needsTransform(src *upload.File, spec style.Spec) bool {
	return strings.TrimSpace(spec.Geometry) != "" || spec.ChangesFormat(src.OriginalFilename())
}

func baseName(src *upload.File) string {
	name := src.OriginalFilename()
	if name == "" {
		return filepath.Base(src.Path())
	}
	return name
}
