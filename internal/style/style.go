// Package style 定义附件的派生样式（缩略图等）。
package style

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Original 是始终存在的原始文件样式。
const Original = "original"

var (
	ErrDuplicate = errors.New("style: duplicate style name")
	ErrBlankName = errors.New("style: blank style name")
)

// Spec 描述一个派生样式。Geometry 为空表示不缩放。
type Spec struct {
	Name              string `yaml:"-"`
	Geometry          string `yaml:"geometry"`
	Format            string `yaml:"format"`
	ConvertOptions    string `yaml:"convert_options"`
	SourceFileOptions string `yaml:"source_file_options"`
	AutoOrient        *bool  `yaml:"auto_orient"`
	Animated          *bool  `yaml:"animated"`
}

// AutoOrientEnabled 默认为 true。
func (s Spec) AutoOrientEnabled() bool {
	return s.AutoOrient == nil || *s.AutoOrient
}

// AnimatedEnabled 默认为 true。
func (s Spec) AnimatedEnabled() bool {
	return s.Animated == nil || *s.Animated
}

// Extension 返回该样式输出的扩展名（含点）。未指定格式时沿用原扩展名。
func (s Spec) Extension(originalName string) string {
	if s.Format != "" {
		return "." + strings.TrimPrefix(strings.ToLower(s.Format), ".")
	}
	return filepath.Ext(originalName)
}

// ChangesFormat 判断输出格式是否与原文件不同。
func (s Spec) ChangesFormat(originalName string) bool {
	return s.Format != "" && !strings.EqualFold(s.Extension(originalName), filepath.Ext(originalName))
}

// Set 是有序且名称唯一的样式集合，总是包含 original。
type Set struct {
	specs []Spec
	index map[string]int
}

// NewSet 按给定顺序构造集合；未显式给出 original 时置于首位。
func NewSet(specs ...Spec) (*Set, error) {
	s := &Set{index: make(map[string]int, len(specs)+1)}
	hasOriginal := false
	for _, spec := range specs {
		if spec.Name == Original {
			hasOriginal = true
		}
	}
	if !hasOriginal {
		s.add(Spec{Name: Original})
	}
	for _, spec := range specs {
		spec.Name = strings.TrimSpace(spec.Name)
		if spec.Name == "" {
			return nil, ErrBlankName
		}
		if _, ok := s.index[spec.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, spec.Name)
		}
		s.add(spec)
	}
	return s, nil
}

func (s *Set) add(spec Spec) {
	s.index[spec.Name] = len(s.specs)
	s.specs = append(s.specs, spec)
}

func (s *Set) Get(name string) (Spec, bool) {
	i, ok := s.index[name]
	if !ok {
		return Spec{}, false
	}
	return s.specs[i], true
}

func (s *Set) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Names 按定义顺序返回样式名。
func (s *Set) Names() []string {
	names := make([]string, len(s.specs))
	for i, spec := range s.specs {
		names[i] = spec.Name
	}
	return names
}

// All 返回全部样式的副本。
func (s *Set) All() []Spec {
	out := make([]Spec, len(s.specs))
	copy(out, s.specs)
	return out
}

func (s *Set) Len() int { return len(s.specs) }
