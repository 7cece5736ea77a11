package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"attachr/internal/command"
	"attachr/internal/interpolate"
	"attachr/internal/mediatype"
	"attachr/internal/metrics"
	"attachr/internal/processor"
	"attachr/internal/storage"
	"attachr/internal/style"
	"attachr/internal/upload"
)

// Record 是附件所属的记录。
type Record interface {
	ClassName() string
	ID() any
}

// Metadata 是记录上为每个附件镜像保存的字段。
type Metadata struct {
	FileName    string
	ContentType string
	FileSize    int64
	UpdatedAt   time.Time
	Fingerprint string
}

func (m Metadata) Present() bool { return m.FileName != "" }

// Columns 返回 <name>_file_name 等列及其取值，缺失时为 nil。
func (m Metadata) Columns(name string) map[string]any {
	cols := map[string]any{
		name + "_file_name":    nil,
		name + "_content_type": nil,
		name + "_file_size":    nil,
		name + "_updated_at":   nil,
		name + "_fingerprint":  nil,
	}
	if !m.Present() {
		return cols
	}
	cols[name+"_file_name"] = m.FileName
	if m.ContentType != "" {
		cols[name+"_content_type"] = m.ContentType
	}
	cols[name+"_file_size"] = m.FileSize
	if !m.UpdatedAt.IsZero() {
		cols[name+"_updated_at"] = m.UpdatedAt
	}
	if m.Fingerprint != "" {
		cols[name+"_fingerprint"] = m.Fingerprint
	}
	return cols
}

// Deps 是附件运行所需的协作者，由宿主在构造时注入。
type Deps struct {
	Registry     *upload.Registry
	Processor    processor.Processor
	Backend      storage.Backend
	Spoof        SpoofChecker
	Interpolator *interpolate.Interpolator
	Logger       *slog.Logger
	Now          func() time.Time
}

type staged struct {
	path string
	// owned 为 true 时该临时文件归附件所有，丢弃时删除。
	owned bool
}

// Attachment 是某条记录上一个具名附件的状态。非并发安全，按请求使用。
type Attachment struct {
	def    *Definition
	deps   Deps
	record Record
	logger *slog.Logger

	meta    Metadata
	pending *Metadata

	original      *upload.File
	queuedWrites  map[string]staged
	queuedDeletes []string
	dirty         bool
	errs          []*Error
}

// New 用已持久化的 meta 构造附件。
func New(def *Definition, record Record, meta Metadata, deps Deps) (*Attachment, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.New("attachment record is required")
	}
	if deps.Registry == nil || deps.Processor == nil || deps.Backend == nil {
		return nil, errors.New("attachment dependencies uninitialized")
	}
	if deps.Interpolator == nil {
		deps.Interpolator = interpolate.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Attachment{
		def:          def,
		deps:         deps,
		record:       record,
		logger:       deps.Logger.With("class", record.ClassName(), "attachment", def.Name),
		meta:         meta,
		queuedWrites: make(map[string]staged),
	}, nil
}

func (a *Attachment) Name() string            { return a.def.Name }
func (a *Attachment) Definition() *Definition { return a.def }

// Metadata 返回最近一次成功提交的元数据。
func (a *Attachment) Metadata() Metadata { return a.meta }

// Present 判断附件当前（含未提交的赋值）是否有文件。
func (a *Attachment) Present() bool { return a.current().Present() }

func (a *Attachment) Size() int64 { return a.current().FileSize }

func (a *Attachment) Dirty() bool { return a.dirty }

func (a *Attachment) current() Metadata {
	if a.pending != nil {
		return *a.pending
	}
	return a.meta
}

// Assign 规整输入并生成全部样式。校验与处理错误被收集而不返回；
// 返回的错误只来自无法识别的输入、下载失败或命令配置错误。
func (a *Attachment) Assign(ctx context.Context, in upload.Input) error {
	f, err := a.deps.Registry.For(ctx, in, upload.Options{Digest: a.def.Digest})
	if err != nil {
		return err
	}
	if !f.Assignment() {
		return nil
	}

	prevDeletes := slices.Clone(a.queuedDeletes)
	a.discardStaged()
	a.errs = nil
	a.queueAllForDelete()

	if f.IsNil() {
		a.pending = &Metadata{}
		a.dirty = true
		return nil
	}

	fingerprint, err := f.Fingerprint()
	if err != nil {
		f.Close()
		a.reset(prevDeletes)
		return fmt.Errorf("attachment %s: %w", a.def.Name, err)
	}
	a.original = f
	a.pending = &Metadata{
		FileName:    f.OriginalFilename(),
		ContentType: f.ContentType(),
		FileSize:    f.Size(),
		UpdatedAt:   a.deps.Now().UTC(),
		Fingerprint: fingerprint,
	}
	a.queuedWrites[style.Original] = staged{path: f.Path()}
	a.dirty = true

	if !a.Validate(ctx) && a.def.CheckValidityBeforeProcessing {
		return nil
	}
	if err := a.process(ctx, a.def.Styles.Names()); err != nil {
		a.reset(prevDeletes)
		return err
	}
	return nil
}

// reset 丢弃本次赋值的全部暂存状态。
func (a *Attachment) reset(deletes []string) {
	a.discardStaged()
	a.pending = nil
	a.dirty = false
	a.errs = nil
	a.queuedDeletes = deletes
}

func (a *Attachment) process(ctx context.Context, names []string) error {
	for _, name := range names {
		spec, ok := a.def.Styles.Get(name)
		if !ok {
			return fmt.Errorf("attachment %s: unknown style %q", a.def.Name, name)
		}
		if name == style.Original && spec.Geometry == "" && spec.Format == "" && spec.ConvertOptions == "" {
			continue
		}

		out, err := a.deps.Processor.Make(ctx, a.original, spec)
		metrics.ObserveStyle(name, err)
		if err != nil {
			if errors.Is(err, command.ErrNotFound) || errors.Is(err, command.ErrReservedKey) {
				return err
			}
			a.styleFailed(name, err)
			continue
		}
		a.stage(name, out, true)
	}

	if s, ok := a.queuedWrites[style.Original]; ok && s.owned {
		return a.refreshOriginal(s.path)
	}
	return nil
}

func (a *Attachment) styleFailed(name string, err error) {
	blocking := a.def.StyleFailure == StyleFailureAbort
	a.logger.Warn("style processing failed",
		"style", name,
		"policy", string(a.def.StyleFailure),
		"err", err,
	)
	if blocking || a.def.Whiny {
		msg := err.Error()
		var pe *processor.Error
		if errors.As(err, &pe) {
			msg = pe.Msg
		}
		a.errs = append(a.errs, &Error{Kind: KindProcessing, Style: name, Message: msg, Err: err, Blocking: blocking})
	}
	if !blocking && name != style.Original {
		a.stage(name, a.original.Path(), false)
	}
}

func (a *Attachment) stage(name, path string, owned bool) {
	if prev, ok := a.queuedWrites[name]; ok && prev.owned && prev.path != path {
		os.Remove(prev.path)
	}
	a.queuedWrites[name] = staged{path: path, owned: owned}
}

// refreshOriginal 在 original 样式被处理后以处理结果更新大小与指纹。
func (a *Attachment) refreshOriginal(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat processed original: %w", err)
	}
	fingerprint, err := fileDigest(path, a.def.Digest)
	if err != nil {
		return err
	}
	a.pending.FileSize = info.Size()
	a.pending.Fingerprint = fingerprint
	return nil
}

func fileDigest(path string, d upload.Digest) (string, error) {
	h, err := d.New()
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for fingerprint: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func (a *Attachment) queueAllForDelete() {
	if !a.meta.Present() || a.def.PreserveFiles || a.def.KeepOldFiles {
		return
	}
	for _, name := range a.def.Styles.Names() {
		a.queueDelete(a.pathFor(a.meta, name))
	}
}

func (a *Attachment) queueDelete(key string) {
	if key == "" || slices.Contains(a.queuedDeletes, key) {
		return
	}
	a.queuedDeletes = append(a.queuedDeletes, key)
}

func (a *Attachment) discardStaged() error {
	var errs []error
	for name, s := range a.queuedWrites {
		if s.owned {
			if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		delete(a.queuedWrites, name)
	}
	if a.original != nil {
		errs = append(errs, a.original.Close())
		a.original = nil
	}
	return errors.Join(errs...)
}

// Validate 重新运行全部校验器，替换之前的校验错误并返回是否有效。
func (a *Attachment) Validate(ctx context.Context) bool {
	errs := make([]*Error, 0, len(a.errs))
	for _, e := range a.errs {
		if e.Kind != KindValidation {
			errs = append(errs, e)
		}
	}

	m := a.current()
	subject := Subject{
		Present:     m.Present(),
		FileName:    m.FileName,
		ContentType: m.ContentType,
		Size:        m.FileSize,
		File:        a.original,
	}
	for _, v := range a.validators() {
		if err := v.Validate(ctx, subject); err != nil {
			errs = append(errs, &Error{Kind: KindValidation, Message: err.Error(), Blocking: true})
		}
	}
	a.errs = errs
	return a.Valid()
}

func (a *Attachment) validators() []Validator {
	vs := slices.Clone(a.def.Validators)
	if a.def.ValidateMediaType && a.deps.Spoof != nil {
		vs = append(vs, SpoofCheck{Detector: a.deps.Spoof})
	}
	return vs
}

// Valid 判断是否没有阻止提交的错误。
func (a *Attachment) Valid() bool {
	for _, e := range a.errs {
		if e.Blocking {
			return false
		}
	}
	return true
}

func (a *Attachment) Errors() []*Error { return slices.Clone(a.errs) }

// Save 先写入暂存的样式，再删除排队的旧文件。存在阻止提交的错误时不做任何改动并返回 ErrInvalid。
func (a *Attachment) Save(ctx context.Context) error {
	if !a.Valid() {
		return ErrInvalid
	}
	if !a.dirty && len(a.queuedDeletes) == 0 {
		return nil
	}

	if a.dirty {
		next := a.current()
		objects := a.objects(next)
		if len(objects) > 0 {
			if _, err := storage.WriteAll(ctx, a.deps.Backend, objects); err != nil {
				return fmt.Errorf("attachment %s: %w", a.def.Name, err)
			}
		}
		written := make(map[string]bool, len(objects))
		for _, o := range objects {
			written[o.Key] = true
		}
		a.queuedDeletes = slices.DeleteFunc(a.queuedDeletes, func(k string) bool { return written[k] })

		if err := a.discardStaged(); err != nil {
			a.logger.Debug("remove staged files", "err", err)
		}
		a.meta = next
		a.pending = nil
		a.dirty = false
	}

	if err := storage.DeleteAll(ctx, a.deps.Backend, a.queuedDeletes, a.def.WhinyDeletes, a.logger); err != nil {
		return fmt.Errorf("attachment %s: %w", a.def.Name, err)
	}
	a.queuedDeletes = nil
	return nil
}

func (a *Attachment) objects(m Metadata) []storage.Object {
	objects := make([]storage.Object, 0, len(a.queuedWrites))
	for _, name := range a.QueuedWrites() {
		s := a.queuedWrites[name]
		size := int64(-1)
		if info, err := os.Stat(s.path); err == nil {
			size = info.Size()
		}
		path := s.path
		objects = append(objects, storage.Object{
			Key:   a.pathFor(m, name),
			Style: name,
			Open:  func() (io.ReadCloser, error) { return os.Open(path) },
			WriteOptions: storage.WriteOptions{
				ContentType: a.styleContentType(m, name),
				Size:        size,
			},
		})
	}
	return objects
}

func (a *Attachment) styleContentType(m Metadata, name string) string {
	spec, _ := a.def.Styles.Get(name)
	if spec.Format != "" {
		if types := mediatype.TypesForName("x" + spec.Extension(m.FileName)); len(types) > 0 {
			return types[0]
		}
	}
	return m.ContentType
}

// Destroy 排队删除全部已存储的样式并立即执行删除。
func (a *Attachment) Destroy(ctx context.Context) error {
	a.discardStaged()
	a.errs = nil
	a.queueAllForDelete()
	a.pending = &Metadata{}
	a.dirty = true
	return a.Save(ctx)
}

// Clear 不带参数时清空附件（下次 Save 生效）；带参数时只排队删除指定样式的文件。
func (a *Attachment) Clear(styles ...string) {
	if len(styles) > 0 {
		for _, name := range styles {
			a.queueDelete(a.pathFor(a.meta, name))
		}
		return
	}
	a.discardStaged()
	a.errs = nil
	a.queueAllForDelete()
	a.pending = &Metadata{}
	a.dirty = true
}

// Reprocess 从已存储的原文件重新生成样式并提交，不指定样式时生成除 original 外的全部样式。
// 只有全部派生样式都重新生成时才更新 UpdatedAt；存储 key 因此变化的样式会把旧文件排队删除。
func (a *Attachment) Reprocess(ctx context.Context, styles ...string) error {
	if !a.Present() {
		return ErrNotPresent
	}
	for _, name := range styles {
		if !a.def.Styles.Has(name) {
			return fmt.Errorf("attachment %s: unknown style %q", a.def.Name, name)
		}
	}
	if len(styles) == 0 {
		styles = a.def.Styles.Names()
	}
	var names []string
	for _, name := range styles {
		if name != style.Original && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}

	f, err := a.deps.Registry.For(ctx, upload.Prior{Source: a, Style: style.Original}, upload.Options{Digest: a.def.Digest})
	if err != nil {
		return fmt.Errorf("attachment %s: read original: %w", a.def.Name, err)
	}

	base := a.current()
	prevDeletes := slices.Clone(a.queuedDeletes)
	a.discardStaged()
	a.errs = nil
	a.original = f

	next := base
	if len(names) == a.def.Styles.Len()-1 {
		next.UpdatedAt = a.deps.Now().UTC()
	}
	a.pending = &next
	for _, name := range a.def.Styles.Names() {
		old := a.pathFor(base, name)
		if old == a.pathFor(next, name) {
			continue
		}
		if name == style.Original {
			a.queuedWrites[style.Original] = staged{path: f.Path()}
		}
		if !a.def.PreserveFiles && !a.def.KeepOldFiles {
			a.queueDelete(old)
		}
	}
	a.dirty = true

	if err := a.process(ctx, names); err != nil {
		a.reset(prevDeletes)
		return err
	}
	return a.Save(ctx)
}

func (a *Attachment) styleOrDefault(name string) string {
	if name == "" {
		return a.def.defaultStyle()
	}
	return name
}

func (a *Attachment) pathFor(m Metadata, name string) string {
	if !m.Present() {
		return ""
	}
	return a.deps.Interpolator.Interpolate(a.def.Path, view{a: a, m: m}, name)
}

// Path 返回样式的存储 key，无文件时为空串。
func (a *Attachment) Path(styleName string) string {
	return a.pathFor(a.current(), a.styleOrDefault(styleName))
}

// URL 返回样式的访问地址，不访问后端。无文件时返回默认地址。
func (a *Attachment) URL(styleName string) string {
	styleName = a.styleOrDefault(styleName)
	m := a.current()
	v := view{a: a, m: m}
	if !m.Present() {
		return a.deps.Interpolator.Interpolate(a.def.DefaultURL, v, styleName)
	}

	var u string
	if a.def.URL != "" {
		u = a.deps.Interpolator.Interpolate(a.def.URL, v, styleName)
		if a.def.EscapeURL {
			u = escapeURL(u)
		}
	} else {
		key := a.pathFor(m, styleName)
		if b, ok := a.deps.Backend.(storage.URLer); ok {
			u = b.URL(key)
		}
		if u == "" {
			u = escapeURL("/" + strings.TrimPrefix(key, "/"))
		}
	}

	if a.def.UseTimestamp && !m.UpdatedAt.IsZero() {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + strconv.FormatInt(m.UpdatedAt.Unix(), 10)
	}
	return u
}

// ExpiringURL 在后端支持时返回签名地址，否则退回 URL。
func (a *Attachment) ExpiringURL(ctx context.Context, styleName string, expiry time.Duration) (string, error) {
	styleName = a.styleOrDefault(styleName)
	p, ok := a.deps.Backend.(storage.Presigner)
	if !ok || !a.Present() {
		return a.URL(styleName), nil
	}
	u, err := p.PresignedURL(ctx, a.Path(styleName), expiry)
	if errors.Is(err, storage.ErrPresignUnsupported) {
		return a.URL(styleName), nil
	}
	return u, err
}

func escapeURL(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		rest := raw[i+3:]
		j := strings.IndexByte(rest, '/')
		if j < 0 {
			return raw
		}
		return raw[:i+3+j] + (&url.URL{Path: rest[j:]}).EscapedPath()
	}
	return (&url.URL{Path: raw}).EscapedPath()
}

// Exists 对暂存的样式直接返回 true，否则询问后端。
func (a *Attachment) Exists(ctx context.Context, styleName string) (bool, error) {
	styleName = a.styleOrDefault(styleName)
	if _, ok := a.queuedWrites[styleName]; ok {
		return true, nil
	}
	if !a.Present() {
		return false, nil
	}
	return a.deps.Backend.Exists(ctx, a.Path(styleName))
}

// ToReadable 优先返回暂存文件，否则从后端读取。
func (a *Attachment) ToReadable(ctx context.Context, styleName string) (io.ReadCloser, error) {
	styleName = a.styleOrDefault(styleName)
	if s, ok := a.queuedWrites[styleName]; ok {
		return os.Open(s.path)
	}
	if !a.Present() {
		return nil, ErrNotPresent
	}
	return a.deps.Backend.Read(ctx, a.Path(styleName))
}

// Staged 判断是否有待写入的样式。
func (a *Attachment) Staged() bool { return len(a.queuedWrites) > 0 }

// StagedPath 返回样式暂存文件的路径。
func (a *Attachment) StagedPath(styleName string) (string, bool) {
	s, ok := a.queuedWrites[a.styleOrDefault(styleName)]
	return s.path, ok
}

// CopyToLocalFile 将样式内容写到 dst。
func (a *Attachment) CopyToLocalFile(ctx context.Context, styleName, dst string) error {
	rc, err := a.ToReadable(ctx, styleName)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dst), err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", filepath.Base(dst), err)
	}
	return out.Close()
}

// QueuedWrites 按样式定义顺序返回待写入的样式名。
func (a *Attachment) QueuedWrites() []string {
	names := make([]string, 0, len(a.queuedWrites))
	for _, name := range a.def.Styles.Names() {
		if _, ok := a.queuedWrites[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

func (a *Attachment) QueuedDeletes() []string { return slices.Clone(a.queuedDeletes) }

// Close 丢弃未提交的暂存文件。
func (a *Attachment) Close() error {
	err := a.discardStaged()
	a.pending = nil
	a.dirty = false
	return err
}

// 以下方法使 Attachment 同时满足 interpolate.Target 与 upload.Source。

func (a *Attachment) ClassName() string        { return a.record.ClassName() }
func (a *Attachment) AttachmentName() string   { return a.def.Name }
func (a *Attachment) RecordID() any            { return a.record.ID() }
func (a *Attachment) OriginalFilename() string { return a.current().FileName }
func (a *Attachment) ContentType() string      { return a.current().ContentType }
func (a *Attachment) UpdatedAt() time.Time     { return a.current().UpdatedAt }
func (a *Attachment) Fingerprint() string      { return a.current().Fingerprint }
func (a *Attachment) DefaultStyle() string     { return a.def.defaultStyle() }

func (a *Attachment) StyleFormat(name string) string {
	return view{a: a, m: a.current()}.StyleFormat(name)
}

func (a *Attachment) HashKey(name string) string {
	return view{a: a, m: a.current()}.HashKey(name)
}

// view 以指定的元数据解析模板，用于计算旧文件的路径。
type view struct {
	a *Attachment
	m Metadata
}

func (v view) ClassName() string        { return v.a.record.ClassName() }
func (v view) AttachmentName() string   { return v.a.def.Name }
func (v view) RecordID() any            { return v.a.record.ID() }
func (v view) OriginalFilename() string { return v.m.FileName }
func (v view) ContentType() string      { return v.m.ContentType }
func (v view) UpdatedAt() time.Time     { return v.m.UpdatedAt }
func (v view) Fingerprint() string      { return v.m.Fingerprint }
func (v view) DefaultStyle() string     { return v.a.def.defaultStyle() }

func (v view) StyleFormat(name string) string {
	spec, _ := v.a.def.Styles.Get(name)
	return spec.Format
}

func (v view) HashKey(name string) string {
	data := v.a.deps.Interpolator.Interpolate(strings.ReplaceAll(v.a.def.HashData, ":hash", ""), v, name)
	return hmacHex(v.a.def.HashDigest, v.a.def.HashSecret, data)
}
