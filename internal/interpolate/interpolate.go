// Package interpolate 将路径与 URL 模板中的 :token 替换为附件的属性。
package interpolate

import (
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Target 提供模板替换所需的附件属性。
type Target interface {
	ClassName() string
	AttachmentName() string
	// RecordID 返回所属记录的主键；整数与字符串的分区方式不同。
	RecordID() any
	OriginalFilename() string
	ContentType() string
	UpdatedAt() time.Time
	Fingerprint() string
	// StyleFormat 返回样式指定的输出格式，未指定时为空。
	StyleFormat(style string) string
	DefaultStyle() string
	HashKey(style string) string
}

// Func 计算单个 token 的值。
type Func func(t Target, style string) string

// Interpolator 持有 token 表，可注册自定义 token。
type Interpolator struct {
	funcs map[string]Func
	order []string
}

// New 返回带有内置 token 的 Interpolator。
func New() *Interpolator {
	i := &Interpolator{funcs: make(map[string]Func)}
	i.Register("class", class)
	i.Register("attachment", attachment)
	i.Register("style", styleName)
	i.Register("id", func(t Target, _ string) string { return idString(t.RecordID()) })
	i.Register("param", func(t Target, _ string) string { return idString(t.RecordID()) })
	i.Register("id_partition", func(t Target, _ string) string { return IDPartition(t.RecordID()) })
	i.Register("basename", basename)
	i.Register("extension", Extension)
	i.Register("dotextension", dotExtension)
	i.Register("filename", filename)
	i.Register("content_type_extension", contentTypeExtension)
	i.Register("fingerprint", func(t Target, _ string) string { return t.Fingerprint() })
	i.Register("hash", func(t Target, style string) string { return t.HashKey(styleName(t, style)) })
	i.Register("timestamp", timestamp)
	i.Register("updated_at", updatedAt)
	return i
}

// Register 添加或替换 token，token 名不含冒号。
func (i *Interpolator) Register(name string, fn Func) {
	name = strings.TrimPrefix(name, ":")
	if _, ok := i.funcs[name]; !ok {
		i.order = append(i.order, name)
		// 长 token 优先，避免 :id 抢先匹配 :id_partition
		sort.SliceStable(i.order, func(a, b int) bool {
			if len(i.order[a]) != len(i.order[b]) {
				return len(i.order[a]) > len(i.order[b])
			}
			return i.order[a] < i.order[b]
		})
	}
	i.funcs[name] = fn
}

// Interpolate 替换模板中的全部 token。只计算模板中出现的 token。
func (i *Interpolator) Interpolate(pattern string, t Target, style string) string {
	result := pattern
	for _, name := range i.order {
		tag := ":" + name
		if !strings.Contains(result, tag) {
			continue
		}
		result = strings.ReplaceAll(result, tag, i.funcs[name](t, style))
	}
	return result
}

var defaultInterpolator = New()

// Interpolate 使用内置 token 表替换模板。
func Interpolate(pattern string, t Target, style string) string {
	return defaultInterpolator.Interpolate(pattern, t, style)
}

func styleName(t Target, style string) string {
	if style == "" {
		return t.DefaultStyle()
	}
	return style
}

var camelBoundary = regexp.MustCompile(`([a-z\d])([A-Z])|([A-Z]+)([A-Z][a-z])`)

// Underscore 将 Admin::UserProfile 转换为 admin/user_profile。
func Underscore(s string) string {
	s = strings.ReplaceAll(s, "::", "/")
	s = camelBoundary.ReplaceAllString(s, "${1}${3}_${2}${4}")
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ToLower(s)
}

// Pluralize 做最简单的英文复数变换。
func Pluralize(s string) string {
	switch {
	case s == "":
		return s
	case strings.HasSuffix(s, "s"), strings.HasSuffix(s, "x"), strings.HasSuffix(s, "ch"), strings.HasSuffix(s, "sh"):
		if strings.HasSuffix(s, "s") {
			return s
		}
		return s + "es"
	case strings.HasSuffix(s, "y") && len(s) > 1 && !isVowel(rune(s[len(s)-2])):
		return s[:len(s)-1] + "ies"
	default:
		return s + "s"
	}
}

func isVowel(r rune) bool {
	return strings.ContainsRune("aeiou", unicode.ToLower(r))
}

func class(t Target, _ string) string {
	return Pluralize(Underscore(t.ClassName()))
}

func attachment(t Target, _ string) string {
	return Pluralize(strings.ToLower(t.AttachmentName()))
}

func basename(t Target, _ string) string {
	name := t.OriginalFilename()
	return strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
}

// Extension 返回样式格式或原文件扩展名，不含点。
func Extension(t Target, style string) string {
	if f := t.StyleFormat(styleName(t, style)); f != "" {
		return strings.TrimLeft(f, ".")
	}
	return strings.TrimLeft(filepath.Ext(t.OriginalFilename()), ".")
}

func dotExtension(t Target, style string) string {
	ext := Extension(t, style)
	if ext == "" {
		return ""
	}
	return "." + ext
}

func filename(t Target, style string) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{basename(t, style), Extension(t, style)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

func contentTypeExtension(t Target, style string) string {
	contentType := t.ContentType()
	var candidates []string
	if exts, err := mime.ExtensionsByType(contentType); err == nil {
		for _, e := range exts {
			candidates = append(candidates, strings.TrimPrefix(e, "."))
		}
	}

	current := Extension(t, style)
	for _, c := range candidates {
		if c == current {
			return current
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	if i := strings.LastIndex(contentType, "/"); i >= 0 {
		return contentType[i+1:]
	}
	return contentType
}

func timestamp(t Target, _ string) string {
	ts := t.UpdatedAt()
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format("2006-01-02 15:04:05 UTC")
}

func updatedAt(t Target, _ string) string {
	ts := t.UpdatedAt()
	if ts.IsZero() {
		return ""
	}
	return strconv.FormatInt(ts.Unix(), 10)
}

func idString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case uuid.UUID:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

var threeDigits = regexp.MustCompile(`\d{3}`)

// IDPartition 将整数主键补零到 9 位后按 3 位分组（123 -> 000/000/123），
// 字符串主键取前三组 3 个字符。其他类型返回空串。
func IDPartition(id any) string {
	var n int64
	switch v := id.(type) {
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint:
		n = int64(v)
	case uint32:
		n = int64(v)
	case uint64:
		n = int64(v)
	case string:
		return partitionString(v)
	case uuid.UUID:
		return partitionString(v.String())
	default:
		return ""
	}
	return strings.Join(threeDigits.FindAllString(fmt.Sprintf("%09d", n), -1), "/")
}

func partitionString(s string) string {
	var groups []string
	runes := []rune(s)
	for i := 0; i+3 <= len(runes) && len(groups) < 3; i += 3 {
		groups = append(groups, string(runes[i:i+3]))
	}
	return strings.Join(groups, "/")
}
