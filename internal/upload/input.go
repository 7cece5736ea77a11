package upload

import (
	"context"
	"io"
	"mime/multipart"
	"strings"
)

// Input 是可被赋给附件的输入，只能是本包定义的几种变体。
type Input interface {
	input()
}

// Path 是本地文件路径。
type Path string

// Bytes 是内存中的数据。
type Bytes struct {
	Name        string
	Data        []byte
	ContentType string
}

// Reader 是任意流。
type Reader struct {
	Name        string
	R           io.Reader
	ContentType string
}

// URL 是 http(s) 地址，赋值时下载。
type URL string

// DataURI 形如 data:image/png;base64,....
type DataURI string

// Multipart 是 HTTP 表单上传的文件。
type Multipart struct {
	Header *multipart.FileHeader
}

// Source 是已存在的附件，可以作为另一个附件的输入。
type Source interface {
	OriginalFilename() string
	ContentType() string
	// StagedPath 返回尚未保存的暂存文件路径。
	StagedPath(style string) (string, bool)
	CopyToLocalFile(ctx context.Context, style, dst string) error
}

// Prior 以已有附件的某个样式（默认 original）为输入。
type Prior struct {
	Source Source
	Style  string
}

// Nil 表示清除附件。
type Nil struct{}

// Empty 是空字符串输入，赋值时被忽略。
type Empty struct{}

func (Path) input()      {}
func (Bytes) input()     {}
func (Reader) input()    {}
func (URL) input()       {}
func (DataURI) input()   {}
func (Multipart) input() {}
func (Prior) input()     {}
func (Nil) input()       {}
func (Empty) input()     {}

// Classify 将字符串输入归类：空串、data URI、http(s) 地址或本地路径。
func Classify(s string) Input {
	switch {
	case s == "":
		return Empty{}
	case dataURIFormat.MatchString(s):
		return DataURI(s)
	case hasScheme(s, "http://"), hasScheme(s, "https://"):
		return URL(s)
	default:
		return Path(s)
	}
}

func hasScheme(s, scheme string) bool {
	return len(s) >= len(scheme) && strings.EqualFold(s[:len(scheme)], scheme)
}
