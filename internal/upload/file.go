// Package upload 将各种来源的输入（路径、内存数据、URL、data URI、已有附件、
// multipart 上传等）规整为由临时文件承载的 File。
package upload

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"regexp"
	"strings"
)

// restrictedChars 是文件名中不允许出现的字符。
var restrictedChars = regexp.MustCompile(`[/:]`)

// Sanitize 将文件名中的受限字符替换为下划线。
func Sanitize(name string) string {
	return restrictedChars.ReplaceAllString(name, "_")
}

// Digest 选择指纹使用的哈希算法。
type Digest string

const (
	DigestMD5    Digest = "md5"
	DigestSHA1   Digest = "sha1"
	DigestSHA256 Digest = "sha256"
)

func (d Digest) New() (hash.Hash, error) {
	switch strings.ToLower(string(d)) {
	case "", string(DigestMD5):
		return md5.New(), nil
	case string(DigestSHA1):
		return sha1.New(), nil
	case string(DigestSHA256):
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash digest %q", string(d))
	}
}

// File 是规整后的上传文件，独占一个临时文件，Close 时删除。
type File struct {
	originalFilename string
	contentType      string
	size             int64
	digest           Digest

	tmp         *os.File
	fingerprint string

	isNil      bool
	assignment bool
	closed     bool
}

func (*File) input() {}

func (f *File) OriginalFilename() string { return f.originalFilename }
func (f *File) ContentType() string      { return f.contentType }
func (f *File) Size() int64              { return f.size }

// IsNil 表示“没有文件”，附件据此触发删除而非写入。
func (f *File) IsNil() bool { return f.isNil }

// Assignment 为 false 时赋值应被忽略（例如空字符串）。
func (f *File) Assignment() bool { return f.assignment }

// Path 返回临时文件路径；无文件时为空。
func (f *File) Path() string {
	if f == nil || f.tmp == nil {
		return ""
	}
	return f.tmp.Name()
}

// Fingerprint 惰性计算内容哈希并缓存。计算使用独立句柄，不影响当前读取位置。
func (f *File) Fingerprint() (string, error) {
	if f.fingerprint != "" || f.tmp == nil {
		return f.fingerprint, nil
	}
	h, err := f.digest.New()
	if err != nil {
		return "", err
	}
	src, err := os.Open(f.tmp.Name())
	if err != nil {
		return "", fmt.Errorf("open for fingerprint: %w", err)
	}
	defer src.Close()

	buf := make([]byte, 16*1024)
	if _, err := io.CopyBuffer(h, src, buf); err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	f.fingerprint = hex.EncodeToString(h.Sum(nil))
	return f.fingerprint, nil
}

// Read 以二进制方式读取并推进位置。
func (f *File) Read(p []byte) (int, error) {
	if f.tmp == nil {
		return 0, io.EOF
	}
	return f.tmp.Read(p)
}

// Rewind 回到文件开头。
func (f *File) Rewind() error {
	if f.tmp == nil {
		return nil
	}
	_, err := f.tmp.Seek(0, io.SeekStart)
	return err
}

// ReadAll 从头读取全部内容，并在返回前恢复原有读取位置。
func (f *File) ReadAll() ([]byte, error) {
	if f.tmp == nil {
		return nil, nil
	}
	pos, err := f.tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.tmp.Name())
	if err != nil {
		return nil, err
	}
	if _, err := f.tmp.Seek(pos, io.SeekStart); err != nil {
		return nil, err
	}
	return data, nil
}

// Open 返回独立的只读句柄，调用方负责关闭。
func (f *File) Open() (io.ReadCloser, error) {
	if f.tmp == nil {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return os.Open(f.tmp.Name())
}

// Close 关闭并删除临时文件，可重复调用。
func (f *File) Close() error {
	if f == nil || f.closed || f.tmp == nil {
		return nil
	}
	f.closed = true
	closeErr := f.tmp.Close()
	removeErr := os.Remove(f.tmp.Name())
	if removeErr != nil && errors.Is(removeErr, os.ErrNotExist) {
		removeErr = nil
	}
	return errors.Join(closeErr, removeErr)
}

// SetOriginalFilename 更新文件名并做字符清理。
func (f *File) SetOriginalFilename(name string) {
	if name == "" {
		return
	}
	f.originalFilename = Sanitize(name)
}

func (f *File) SetContentType(contentType string) {
	if contentType != "" {
		f.contentType = contentType
	}
}

func nilFile() *File {
	return &File{isNil: true, assignment: true}
}

func emptyFile() *File {
	return &File{}
}
