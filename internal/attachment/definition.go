// Package attachment 管理单个附件从赋值、校验、生成样式到提交存储的生命周期。
package attachment

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"strings"

	"attachr/internal/style"
	"attachr/internal/upload"
)

const (
	DefaultPath       = ":class/:attachment/:id_partition/:style/:filename"
	DefaultMissingURL = "/:attachment/:style/missing.png"
	DefaultHashData   = ":class/:attachment/:id/:style/:updated_at"
)

// StyleFailurePolicy 决定单个样式生成失败后的处理方式。
type StyleFailurePolicy string

const (
	// StyleFailureSubstitute 用原文件代替失败的样式。
	StyleFailureSubstitute StyleFailurePolicy = "substitute"
	// StyleFailureAbort 记录阻止提交的错误。
	StyleFailureAbort StyleFailurePolicy = "abort"
)

// ParseStyleFailurePolicy 空串视为 substitute。
func ParseStyleFailurePolicy(s string) (StyleFailurePolicy, error) {
	switch StyleFailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StyleFailureSubstitute:
		return StyleFailureSubstitute, nil
	case StyleFailureAbort:
		return StyleFailureAbort, nil
	default:
		return "", fmt.Errorf("unknown style failure policy %q", s)
	}
}

// Definition 是一个附件名的静态配置，在构造时确定，不依赖全局状态。
type Definition struct {
	Name         string
	Styles       *style.Set
	DefaultStyle string

	// Path 是存储 key 模板。
	Path string
	// URL 为空时由存储后端根据 key 给出地址。
	URL        string
	DefaultURL string
	// UseTimestamp 为 true 时在 URL 后追加 ?<updated_at>。
	UseTimestamp bool
	EscapeURL    bool

	HashSecret string
	HashData   string
	// HashDigest 取值 SHA1、SHA256、SHA512、MD5。
	HashDigest string

	// Whiny 为 true 时样式生成失败记录到附件错误中。
	Whiny        bool
	WhinyDeletes bool
	StyleFailure StyleFailurePolicy

	// PreserveFiles 销毁时保留已存储的文件。
	PreserveFiles bool
	// KeepOldFiles 重新赋值时保留旧文件。
	KeepOldFiles bool

	CheckValidityBeforeProcessing bool
	// ValidateMediaType 启用内容伪装检查。
	ValidateMediaType bool
	Validators        []Validator

	// Digest 是指纹算法。
	Digest upload.Digest
}

// NewDefinition 返回带默认值的定义，只包含 original 样式。
func NewDefinition(name string) *Definition {
	styles, _ := style.NewSet()
	return &Definition{
		Name:                          name,
		Styles:                        styles,
		DefaultStyle:                  style.Original,
		Path:                          DefaultPath,
		DefaultURL:                    DefaultMissingURL,
		UseTimestamp:                  true,
		EscapeURL:                     true,
		HashData:                      DefaultHashData,
		HashDigest:                    "SHA1",
		Whiny:                         true,
		StyleFailure:                  StyleFailureSubstitute,
		CheckValidityBeforeProcessing: true,
		ValidateMediaType:             true,
		Digest:                        upload.DigestMD5,
	}
}

// Validate 检查定义是否可用。
func (d *Definition) Validate() error {
	if d == nil {
		return errors.New("attachment definition uninitialized")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("attachment name is required")
	}
	if d.Styles == nil {
		return fmt.Errorf("attachment %s: styles are required", d.Name)
	}
	if d.DefaultStyle != "" && !d.Styles.Has(d.DefaultStyle) {
		return fmt.Errorf("attachment %s: default style %q is not defined", d.Name, d.DefaultStyle)
	}
	if d.Path == "" {
		return fmt.Errorf("attachment %s: path template is required", d.Name)
	}
	usesHash := strings.Contains(d.Path, ":hash") || strings.Contains(d.URL, ":hash")
	if usesHash && d.HashSecret == "" {
		return fmt.Errorf("attachment %s: :hash requires a hash secret", d.Name)
	}
	if _, err := hashFunc(d.HashDigest); err != nil {
		return fmt.Errorf("attachment %s: %w", d.Name, err)
	}
	if _, err := d.Digest.New(); err != nil {
		return fmt.Errorf("attachment %s: %w", d.Name, err)
	}
	switch d.StyleFailure {
	case "", StyleFailureSubstitute, StyleFailureAbort:
	default:
		return fmt.Errorf("attachment %s: unknown style failure policy %q", d.Name, d.StyleFailure)
	}
	return nil
}

func (d *Definition) defaultStyle() string {
	if d.DefaultStyle == "" {
		return style.Original
	}
	return d.DefaultStyle
}

func hashFunc(name string) (func() hash.Hash, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	case "MD5":
		return md5.New, nil
	default:
		return nil, fmt.Errorf("unsupported hash digest %q", name)
	}
}

func hmacHex(digest, secret, data string) string {
	fn, err := hashFunc(digest)
	if err != nil {
		return ""
	}
	mac := hmac.New(fn, []byte(secret))
	mac.Write([]byte(data))
	return fmt.Sprintf("%x", mac.Sum(nil))
}
