package attachment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"attachr/internal/upload"
)

// Subject 是校验器看到的附件状态。
type Subject struct {
	Present     bool
	FileName    string
	ContentType string
	Size        int64
	// File 仅在本次赋值了新文件时非空。
	File *upload.File
}

// Validator 返回面向用户的错误，通过时返回 nil。
type Validator interface {
	Validate(ctx context.Context, s Subject) error
}

// Presence 要求附件存在。
type Presence struct{}

func (Presence) Validate(_ context.Context, s Subject) error {
	if !s.Present {
		return errors.New("can't be blank")
	}
	return nil
}

// ContentType 按类型白名单/黑名单校验。条目支持 "image/*" 形式的通配。
type ContentType struct {
	Allow []string
	Deny  []string
}

func (v ContentType) Validate(_ context.Context, s Subject) error {
	if !s.Present {
		return nil
	}
	if len(v.Allow) > 0 && !matchesAny(v.Allow, s.ContentType) {
		return fmt.Errorf("content type %q is invalid", s.ContentType)
	}
	if matchesAny(v.Deny, s.ContentType) {
		return fmt.Errorf("content type %q is invalid", s.ContentType)
	}
	return nil
}

func matchesAny(patterns []string, contentType string) bool {
	contentType = strings.ToLower(contentType)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == contentType {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, "/*"); ok && strings.HasPrefix(contentType, prefix+"/") {
			return true
		}
	}
	return false
}

// Size 限制文件大小（字节），为 0 的边界不检查。
type Size struct {
	Min int64
	Max int64
}

func (v Size) Validate(_ context.Context, s Subject) error {
	if !s.Present {
		return nil
	}
	switch {
	case v.Min > 0 && v.Max > 0 && (s.Size < v.Min || s.Size > v.Max):
		return fmt.Errorf("file size must be in between %d and %d bytes", v.Min, v.Max)
	case v.Min > 0 && s.Size < v.Min:
		return fmt.Errorf("file size must be greater than %d bytes", v.Min)
	case v.Max > 0 && s.Size > v.Max:
		return fmt.Errorf("file size must be less than %d bytes", v.Max)
	}
	return nil
}

// FileName 要求文件名匹配 Matches 中的任一项且不匹配 NotMatches 中的任何一项。
type FileName struct {
	Matches    []*regexp.Regexp
	NotMatches []*regexp.Regexp
}

func (v FileName) Validate(_ context.Context, s Subject) error {
	if !s.Present {
		return nil
	}
	if len(v.Matches) > 0 {
		ok := false
		for _, re := range v.Matches {
			if re.MatchString(s.FileName) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("file name %q is invalid", s.FileName)
		}
	}
	for _, re := range v.NotMatches {
		if re.MatchString(s.FileName) {
			return fmt.Errorf("file name %q is invalid", s.FileName)
		}
	}
	return nil
}

// SpoofChecker 判断内容与声明是否矛盾。
type SpoofChecker interface {
	Spoofed(ctx context.Context, path, name, supplied string) bool
}

// SpoofCheck 拒绝内容与文件名、声明类型不符的新文件。
type SpoofCheck struct {
	Detector SpoofChecker
}

func (v SpoofCheck) Validate(ctx context.Context, s Subject) error {
	if v.Detector == nil || s.File == nil || s.File.IsNil() {
		return nil
	}
	if v.Detector.Spoofed(ctx, s.File.Path(), s.FileName, s.ContentType) {
		return errors.New("has contents that are not what they are reported to be")
	}
	return nil
}
