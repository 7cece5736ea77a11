package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"attachr/internal/mediatype"
)

const (
	defaultURLFilename    = "index.html"
	defaultURLContentType = "text/html"
	defaultDataFilename   = "data"
	defaultStyle          = "original"
)

var (
	dataURIFormat        = regexp.MustCompile(`(?s)\Adata:([-\w]+/[-\w\+\.]+)?;base64,(.*)`)
	dispositionFilename  = regexp.MustCompile(`filename="?([^";]+)"?`)
	errInvalidDataURI    = errors.New("upload: invalid data URI")
	errDirectoryAsSource = errors.New("upload: source is a directory")
)

func (r *Registry) fromPath(ctx context.Context, in Input, opts Options) (*File, error) {
	p := string(in.(Path))
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", errDirectoryAsSource, p)
	}
	return r.fromLocal(ctx, p, filepath.Base(p), "", opts)
}

func (r *Registry) fromBytes(ctx context.Context, in Input, opts Options) (*File, error) {
	b := in.(Bytes)
	name := b.Name
	if name == "" {
		name = defaultDataFilename
	}
	return r.fromReader(ctx, name, bytes.NewReader(b.Data), mediatype.Essence(b.ContentType), opts)
}

func (r *Registry) fromStream(ctx context.Context, in Input, opts Options) (*File, error) {
	s := in.(Reader)
	if s.R == nil {
		return nil, fmt.Errorf("%w: nil reader", ErrUnsupportedInput)
	}
	name := s.Name
	if name == "" {
		name = defaultDataFilename
	}
	return r.fromReader(ctx, name, s.R, mediatype.Essence(s.ContentType), opts)
}

// fromDataURI 解码 base64 data URI。未声明类型时按内容识别。
func (r *Registry) fromDataURI(ctx context.Context, in Input, opts Options) (*File, error) {
	m := dataURIFormat.FindStringSubmatch(string(in.(DataURI)))
	if m == nil {
		return nil, errInvalidDataURI
	}
	data, err := decodeBase64(m[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidDataURI, err)
	}

	contentType := strings.ToLower(m[1])
	return r.fromReader(ctx, defaultDataFilename+mediatype.ExtensionFor(contentType), bytes.NewReader(data), contentType, opts)
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	return data, nil
}

// fromURL 下载远程文件。文件名优先取 Content-Disposition，其次取路径最后一段。
func (r *Registry) fromURL(ctx context.Context, in Input, opts Options) (*File, error) {
	raw := string(in.(URL))
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &FetchError{URL: raw, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{URL: raw, Err: err}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: raw, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &FetchError{URL: raw, StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if r.maxFetchBytes > 0 {
		body = &limitedReader{r: resp.Body, remaining: r.maxFetchBytes}
	}

	contentType := mediatype.Essence(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = defaultURLContentType
	}

	f, err := r.fromReader(ctx, urlFilename(u, resp.Header.Get("Content-Disposition")), body, contentType, opts)
	if err != nil {
		if errors.Is(err, errFetchTooLarge) {
			return nil, &FetchError{URL: raw, Err: errFetchTooLarge}
		}
		return nil, err
	}
	r.logger.Debug("fetched remote file", "url", u.Redacted(), "size", f.Size())
	return f, nil
}

func urlFilename(u *url.URL, disposition string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return params["filename"]
		}
		if m := dispositionFilename.FindStringSubmatch(disposition); m != nil {
			return m[1]
		}
	}

	escaped := u.EscapedPath()
	if escaped == "" || strings.HasSuffix(escaped, "/") {
		return defaultURLFilename
	}
	last := path.Base(escaped)
	if unescaped, err := url.PathUnescape(last); err == nil {
		last = unescaped
	}
	if last == "" || last == "." || last == "/" {
		return defaultURLFilename
	}
	return last
}

var errFetchTooLarge = errors.New("remote file exceeds size limit")

type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, errFetchTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errFetchTooLarge
	}
	return n, err
}

// fromMultipart 使用客户端声明的类型；未声明或为 application/octet-stream 时按内容识别。
func (r *Registry) fromMultipart(ctx context.Context, in Input, opts Options) (*File, error) {
	fh := in.(Multipart).Header
	if fh == nil {
		return nil, fmt.Errorf("%w: nil multipart header", ErrUnsupportedInput)
	}
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open multipart file: %w", err)
	}
	defer src.Close()

	declared := mediatype.Essence(fh.Header.Get("Content-Type"))
	if declared == "application/octet-stream" {
		declared = ""
	}
	return r.fromReader(ctx, fh.Filename, src, declared, opts)
}

// fromPrior 复制已有附件的某个样式，尚未保存的暂存文件优先。
func (r *Registry) fromPrior(ctx context.Context, in Input, opts Options) (*File, error) {
	p := in.(Prior)
	if p.Source == nil {
		return nil, fmt.Errorf("%w: nil attachment source", ErrUnsupportedInput)
	}
	style := p.Style
	if style == "" {
		style = defaultStyle
	}

	name := p.Source.OriginalFilename()
	contentType := p.Source.ContentType()
	if staged, ok := p.Source.StagedPath(style); ok {
		return r.fromLocal(ctx, staged, name, contentType, opts)
	}

	tmp, err := r.newTemp(Sanitize(name))
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	tmp.Close()

	if err := p.Source.CopyToLocalFile(ctx, style, tmpName); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("copy attachment %s: %w", style, err)
	}
	return r.openLocal(ctx, tmpName, Sanitize(name), contentType, opts)
}
