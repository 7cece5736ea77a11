// Package mediatype 负责识别文件的真实内容类型，并检测扩展名与内容不符的伪装上传。
package mediatype

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"attachr/internal/command"

	"github.com/gabriel-vasile/mimetype"
)

// Sniffer 根据文件内容判断内容类型。
type Sniffer interface {
	Sniff(ctx context.Context, path string) (string, error)
}

// FileCommandSniffer 调用 `file -b --mime` 识别类型。
type FileCommandSniffer struct {
	Runner command.Runner
}

var (
	descriptionOutput = regexp.MustCompile(`\(.*?\)`)
	fileOutputSep     = regexp.MustCompile(`[:;\s]+`)
)

func (s *FileCommandSniffer) Sniff(ctx context.Context, path string) (string, error) {
	if s == nil || s.Runner == nil {
		return "", fmt.Errorf("file sniffer uninitialized")
	}
	out, err := s.Runner.Run(ctx, "file", "-b --mime :file", command.Vars{"file": path}, command.Options{})
	if err != nil {
		return "", err
	}
	return parseFileOutput(out), nil
}

// parseFileOutput 将 file 命令输出规整为单个 MIME 类型。
// 输出为描述性文本（含括号）时视为未知。
func parseFileOutput(out string) string {
	out = strings.TrimSpace(out)
	if out == "" || descriptionOutput.MatchString(out) {
		return Default
	}
	fields := fileOutputSep.Split(out, -1)
	if len(fields) == 0 || fields[0] == "" {
		return Default
	}
	return strings.ToLower(fields[0])
}

// MagicSniffer 在进程内按魔数识别类型。
type MagicSniffer struct{}

func (MagicSniffer) Sniff(ctx context.Context, path string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect file: %w", err)
	}
	return Essence(m.String()), nil
}

// Detector 给出文件内容类型的最佳判断，失败时回退到默认值而不是报错。
type Detector struct {
	sniffer Sniffer
	logger  *slog.Logger
}

func NewDetector(sniffer Sniffer, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{sniffer: sniffer, logger: logger}
}

// Detect 按以下顺序判断：文件名为空 -> 默认值；空文件 -> inode/x-empty；
// 扩展名可能的类型中与内容识别一致者；内容识别结果；默认值。
func (d *Detector) Detect(ctx context.Context, path, name string) string {
	if strings.TrimSpace(name) == "" && strings.TrimSpace(path) == "" {
		return Default
	}

	info, err := os.Stat(path)
	if err != nil {
		d.logger.Warn("content type detection failed", "path", path, "err", err)
		return Default
	}
	if info.Size() == 0 {
		return Empty
	}

	sniffed := d.Sniff(ctx, path)
	if name == "" {
		name = path
	}
	for _, t := range TypesForName(name) {
		if t == sniffed {
			return t
		}
	}
	if sniffed != "" {
		return sniffed
	}
	return Default
}

// Sniff 返回内容识别结果，识别失败时为空字符串。
func (d *Detector) Sniff(ctx context.Context, path string) string {
	if d == nil || d.sniffer == nil {
		return ""
	}
	t, err := d.sniffer.Sniff(ctx, path)
	if err != nil {
		if errors.Is(err, command.ErrNotFound) {
			d.logger.Warn("content type sniffer unavailable", "err", err)
		} else {
			d.logger.Warn("error while determining content type", "path", path, "err", err)
		}
		return ""
	}
	return Essence(t)
}
