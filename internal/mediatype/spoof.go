package mediatype

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"attachr/internal/metrics"
)

// SpoofDetector 判断文件内容与其文件名/声明类型是否矛盾。
type SpoofDetector struct {
	detector *Detector
	// mappings 是扩展名到允许内容类型的显式白名单。
	mappings map[string][]string
	logger   *slog.Logger
}

func NewSpoofDetector(detector *Detector, mappings map[string][]string, logger *slog.Logger) *SpoofDetector {
	if logger == nil {
		logger = slog.Default()
	}
	normalized := make(map[string][]string, len(mappings))
	for ext, types := range mappings {
		key := strings.ToLower(strings.TrimLeft(ext, "."))
		for _, t := range types {
			normalized[key] = append(normalized[key], Essence(t))
		}
	}
	return &SpoofDetector{detector: detector, mappings: normalized, logger: logger}
}

// Spoofed 仅当媒体类型不一致且白名单也不匹配时返回 true。
func (s *SpoofDetector) Spoofed(ctx context.Context, path, name, supplied string) bool {
	ext := Extension(name)
	if strings.TrimSpace(name) == "" || ext == "" {
		return false
	}

	fromName := MediaTypesForName(name)
	sniffed := s.detector.Sniff(ctx, path)
	if sniffed == "" {
		sniffed = Default
	}

	if !s.mediaTypeMismatch(fromName, supplied, sniffed) || !s.mappingMismatch(ext, sniffed) {
		return false
	}

	s.logger.Warn("content type spoof detected",
		"filename", filepath.Base(name),
		"supplied", supplied,
		"from_extension", TypesForName(name),
		"sniffed", sniffed,
	)
	metrics.IncSpoofed()
	return true
}

func (s *SpoofDetector) mediaTypeMismatch(fromName []string, supplied, sniffed string) bool {
	// 未声明类型时只比较识别结果；multipart 上传的 application/octet-stream 已在 upload 中视为未声明。
	if supplied = Essence(supplied); supplied != "" && !contains(fromName, Media(supplied)) {
		return true
	}
	return !contains(fromName, Media(sniffed))
}

func (s *SpoofDetector) mappingMismatch(ext, sniffed string) bool {
	return !contains(s.mappings[ext], sniffed)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
