package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"attachr/internal/attachment"
	"attachr/internal/style"
	"attachr/internal/upload"

	"gopkg.in/yaml.v3"
)

// DefaultAttachmentName 是未提供定义文件时内置的附件名。
const DefaultAttachmentName = "avatar"

type styleFile struct {
	Name       string `yaml:"name"`
	style.Spec `yaml:",inline"`
}

type validationsFile struct {
	Presence    bool `yaml:"presence"`
	ContentType *struct {
		Allow []string `yaml:"allow"`
		Deny  []string `yaml:"deny"`
	} `yaml:"content_type"`
	Size *struct {
		Min int64 `yaml:"min"`
		Max int64 `yaml:"max"`
	} `yaml:"size"`
	FileName *struct {
		Matches    []string `yaml:"matches"`
		NotMatches []string `yaml:"not_matches"`
	} `yaml:"file_name"`
}

type definitionFile struct {
	Path              string          `yaml:"path"`
	URL               string          `yaml:"url"`
	DefaultURL        string          `yaml:"default_url"`
	DefaultStyle      string          `yaml:"default_style"`
	UseTimestamp      *bool           `yaml:"use_timestamp"`
	EscapeURL         *bool           `yaml:"escape_url"`
	HashSecret        string          `yaml:"hash_secret"`
	HashData          string          `yaml:"hash_data"`
	HashDigest        string          `yaml:"hash_digest"`
	PreserveFiles     bool            `yaml:"preserve_files"`
	KeepOldFiles      bool            `yaml:"keep_old_files"`
	ValidateMediaType *bool           `yaml:"validate_media_type"`
	Whiny             *bool           `yaml:"whiny"`
	StyleFailure      string          `yaml:"style_failure"`
	Styles            []styleFile     `yaml:"styles"`
	Validations       validationsFile `yaml:"validations"`
}

type definitionsFile struct {
	Attachments map[string]definitionFile `yaml:"attachments"`
}

// LoadDefinitions 读取 AttachmentsFile 中的附件定义；未配置时返回内置的 avatar 定义。
// 全局开关（whiny、哈希密钥等）作为默认值，文件中的字段优先。
func (c *Config) LoadDefinitions() (map[string]*attachment.Definition, error) {
	if c.AttachmentsFile == "" {
		def, err := c.builtinDefinition()
		if err != nil {
			return nil, err
		}
		return map[string]*attachment.Definition{def.Name: def}, nil
	}

	raw, err := os.ReadFile(c.AttachmentsFile)
	if err != nil {
		return nil, fmt.Errorf("read attachments file: %w", err)
	}
	return c.ParseDefinitions(raw)
}

// ParseDefinitions 解析 YAML 格式的附件定义。
func (c *Config) ParseDefinitions(raw []byte) (map[string]*attachment.Definition, error) {
	var file definitionsFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode attachments file: %w", err)
	}
	if len(file.Attachments) == 0 {
		return nil, errors.New("attachments file defines no attachments")
	}

	names := make([]string, 0, len(file.Attachments))
	for name := range file.Attachments {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make(map[string]*attachment.Definition, len(names))
	for _, name := range names {
		def, err := c.definition(name, file.Attachments[name])
		if err != nil {
			return nil, err
		}
		defs[name] = def
	}
	return defs, nil
}

func (c *Config) builtinDefinition() (*attachment.Definition, error) {
	return c.definition(DefaultAttachmentName, definitionFile{
		DefaultStyle: "medium",
		Styles: []styleFile{
			{Name: "thumb", Spec: style.Spec{Geometry: "100x100#"}},
			{Name: "medium", Spec: style.Spec{Geometry: "300x300>"}},
		},
		Validations: validationsFile{
			ContentType: &struct {
				Allow []string `yaml:"allow"`
				Deny  []string `yaml:"deny"`
			}{Allow: []string{"image/*"}},
		},
	})
}

func (c *Config) definition(name string, f definitionFile) (*attachment.Definition, error) {
	def := attachment.NewDefinition(name)
	def.Whiny = c.WhinyThumbnails
	def.WhinyDeletes = c.WhinyDeletes
	def.HashSecret = c.HashSecret
	def.Digest = upload.Digest(c.HashDigest)

	policy, err := attachment.ParseStyleFailurePolicy(c.StyleFailurePolicy)
	if err != nil {
		return nil, err
	}
	def.StyleFailure = policy

	if f.StyleFailure != "" {
		if def.StyleFailure, err = attachment.ParseStyleFailurePolicy(f.StyleFailure); err != nil {
			return nil, fmt.Errorf("attachment %s: %w", name, err)
		}
	}
	setString(&def.Path, f.Path)
	setString(&def.URL, f.URL)
	setString(&def.DefaultURL, f.DefaultURL)
	setString(&def.DefaultStyle, f.DefaultStyle)
	setString(&def.HashSecret, f.HashSecret)
	setString(&def.HashData, f.HashData)
	setString(&def.HashDigest, f.HashDigest)
	setBool(&def.UseTimestamp, f.UseTimestamp)
	setBool(&def.EscapeURL, f.EscapeURL)
	setBool(&def.ValidateMediaType, f.ValidateMediaType)
	setBool(&def.Whiny, f.Whiny)
	def.PreserveFiles = f.PreserveFiles
	def.KeepOldFiles = f.KeepOldFiles

	specs := make([]style.Spec, 0, len(f.Styles))
	for _, s := range f.Styles {
		spec := s.Spec
		spec.Name = s.Name
		if spec.AutoOrient == nil && !c.UseEXIFOrientation {
			off := false
			spec.AutoOrient = &off
		}
		specs = append(specs, spec)
	}
	if def.Styles, err = style.NewSet(specs...); err != nil {
		return nil, fmt.Errorf("attachment %s: %w", name, err)
	}

	if def.Validators, err = validators(f.Validations); err != nil {
		return nil, fmt.Errorf("attachment %s: %w", name, err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func validators(v validationsFile) ([]attachment.Validator, error) {
	var out []attachment.Validator
	if v.Presence {
		out = append(out, attachment.Presence{})
	}
	if v.ContentType != nil {
		out = append(out, attachment.ContentType{Allow: v.ContentType.Allow, Deny: v.ContentType.Deny})
	}
	if v.Size != nil {
		out = append(out, attachment.Size{Min: v.Size.Min, Max: v.Size.Max})
	}
	if v.FileName != nil {
		matches, err := compileAll(v.FileName.Matches)
		if err != nil {
			return nil, err
		}
		notMatches, err := compileAll(v.FileName.NotMatches)
		if err != nil {
			return nil, err
		}
		out = append(out, attachment.FileName{Matches: matches, NotMatches: notMatches})
	}
	return out, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid file name pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
