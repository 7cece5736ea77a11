package mediatype

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// Default 是无法判断类型时的兜底值。
	Default = "application/octet-stream"
	// Empty 表示空文件。
	Empty = "inode/x-empty"
)

// byExtension 列出扩展名通常对应的全部类型，歧义扩展名包含多个条目。
var byExtension = map[string][]string{
	"7z":   {"application/x-7z-compressed"},
	"avi":  {"video/x-msvideo"},
	"bmp":  {"image/bmp", "image/x-bmp", "image/x-ms-bmp"},
	"css":  {"text/css"},
	"csv":  {"text/csv", "text/comma-separated-values", "text/plain"},
	"doc":  {"application/msword"},
	"docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/zip"},
	"exe":  {"application/x-msdownload", "application/x-dosexec", "application/vnd.microsoft.portable-executable"},
	"flac": {"audio/flac", "audio/x-flac"},
	"gif":  {"image/gif"},
	"gz":   {"application/gzip", "application/x-gzip"},
	"heic": {"image/heic"},
	"htm":  {"text/html"},
	"html": {"text/html"},
	"ico":  {"image/vnd.microsoft.icon", "image/x-icon"},
	"jpe":  {"image/jpeg"},
	"jpeg": {"image/jpeg", "image/pjpeg"},
	"jpg":  {"image/jpeg", "image/pjpeg"},
	"js":   {"application/javascript", "text/javascript"},
	"json": {"application/json", "text/plain"},
	"m4a":  {"audio/mp4", "audio/x-m4a"},
	"md":   {"text/markdown", "text/plain"},
	"mov":  {"video/quicktime"},
	"mp3":  {"audio/mpeg"},
	"mp4":  {"video/mp4", "audio/mp4", "application/mp4"},
	"mpeg": {"video/mpeg"},
	"ogg":  {"audio/ogg", "video/ogg", "application/ogg"},
	"pdf":  {"application/pdf"},
	"png":  {"image/png"},
	"ppt":  {"application/vnd.ms-powerpoint"},
	"psd":  {"image/vnd.adobe.photoshop", "application/x-photoshop"},
	"rar":  {"application/vnd.rar", "application/x-rar-compressed"},
	"rtf":  {"application/rtf", "text/rtf"},
	"svg":  {"image/svg+xml"},
	"tar":  {"application/x-tar"},
	"tif":  {"image/tiff"},
	"tiff": {"image/tiff"},
	"txt":  {"text/plain"},
	"wav":  {"audio/wav", "audio/x-wav"},
	"webm": {"video/webm", "audio/webm"},
	"webp": {"image/webp"},
	"xls":  {"application/vnd.ms-excel"},
	"xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/zip"},
	"xml":  {"application/xml", "text/xml"},
	"zip":  {"application/zip", "application/x-zip-compressed"},
}

// Extension 返回不带前导点的小写扩展名。
func Extension(name string) string {
	return strings.ToLower(strings.TrimLeft(filepath.Ext(name), "."))
}

// TypesForName 返回文件名扩展名对应的全部内容类型。
func TypesForName(name string) []string {
	ext := Extension(name)
	if ext == "" {
		return nil
	}
	if types, ok := byExtension[ext]; ok {
		return append([]string(nil), types...)
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return []string{Essence(t)}
	}
	return nil
}

// MediaTypesForName 返回扩展名对应类型的媒体部分（"/" 之前），已去重。
func MediaTypesForName(name string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range TypesForName(name) {
		m := Media(t)
		if _, ok := seen[m]; ok || m == "" {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Essence 去掉参数部分，例如 "text/plain; charset=utf-8" -> "text/plain"。
func Essence(contentType string) string {
	if i := strings.IndexAny(contentType, "; "); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// Media 返回内容类型中 "/" 之前的部分。
func Media(contentType string) string {
	essence := Essence(contentType)
	if i := strings.IndexByte(essence, '/'); i >= 0 {
		return essence[:i]
	}
	return essence
}

// ExtensionFor 返回内容类型对应的首选扩展名（带前导点），未知时为空。
func ExtensionFor(contentType string) string {
	essence := Essence(contentType)
	if essence == "" {
		return ""
	}
	if m := mimetype.Lookup(essence); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if exts, err := mime.ExtensionsByType(essence); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
