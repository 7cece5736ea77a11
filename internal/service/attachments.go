package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"attachr/internal/attachment"
	"attachr/internal/repository"
	"attachr/internal/upload"

	"github.com/google/uuid"
)

// ErrUnknownAttachment 表示请求的附件名没有定义。
var ErrUnknownAttachment = errors.New("service: unknown attachment name")

// ValidationError 汇总阻止保存的附件错误。
type ValidationError struct {
	Errors []*attachment.Error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		if err.Blocking {
			msgs = append(msgs, err.Error())
		}
	}
	return "attachment invalid: " + strings.Join(msgs, "; ")
}

// RecordRef 标识附件所属的记录。数字形式的 id 按整数分区。
type RecordRef struct {
	Class    string
	RecordID string
}

func (r RecordRef) ClassName() string { return r.Class }

func (r RecordRef) ID() any {
	if n, err := strconv.ParseInt(r.RecordID, 10, 64); err == nil && n >= 0 {
		return n
	}
	return r.RecordID
}

// View 是对外展示的附件状态。
type View struct {
	Class       string            `json:"class"`
	RecordID    string            `json:"record_id"`
	Name        string            `json:"name"`
	Present     bool              `json:"present"`
	FileName    string            `json:"file_name,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	FileSize    int64             `json:"file_size,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	UpdatedAt   *time.Time        `json:"updated_at,omitempty"`
	URLs        map[string]string `json:"urls"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// AttachmentService 把附件生命周期与元数据持久化串起来。
type AttachmentService struct {
	repo   repository.AttachmentRepository
	defs   map[string]*attachment.Definition
	deps   attachment.Deps
	logger *slog.Logger
}

func NewAttachmentService(repo repository.AttachmentRepository, defs map[string]*attachment.Definition, deps attachment.Deps, logger *slog.Logger) *AttachmentService {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return &AttachmentService{repo: repo, defs: defs, deps: deps, logger: logger}
}

// Names 返回已定义的附件名。
func (s *AttachmentService) Names() []string {
	names := make([]string, 0, len(s.defs))
	for name := range s.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *AttachmentService) open(ref RecordRef, name string, rec *repository.AttachmentRecord) (*attachment.Attachment, error) {
	def, ok := s.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAttachment, name)
	}
	return attachment.New(def, ref, metadataFrom(rec), s.deps)
}

func (s *AttachmentService) load(ctx context.Context, ref RecordRef, name string) (*repository.AttachmentRecord, error) {
	rec, err := s.repo.Get(ctx, ref.Class, ref.RecordID, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// Attach 赋值并保存附件。输入为 Nil 时等同于删除。
func (s *AttachmentService) Attach(ctx context.Context, ref RecordRef, name string, in upload.Input) (*View, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("attachment service not initialized")
	}
	if _, ok := s.defs[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAttachment, name)
	}

	existing, err := s.load(ctx, ref, name)
	if err != nil {
		return nil, fmt.Errorf("load attachment: %w", err)
	}
	a, err := s.open(ref, name, existing)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	if err := a.Assign(ctx, in); err != nil {
		return nil, err
	}
	if !a.Valid() {
		return nil, &ValidationError{Errors: a.Errors()}
	}
	if err := a.Save(ctx); err != nil {
		return nil, err
	}

	var rec *repository.AttachmentRecord
	if a.Metadata().Present() {
		rec, err = s.repo.Upsert(ctx, recordFrom(existing, ref, name, a.Metadata()))
		if err != nil {
			return nil, fmt.Errorf("save attachment record: %w", err)
		}
	} else if existing != nil {
		if err := s.repo.Delete(ctx, ref.Class, ref.RecordID, name); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("delete attachment record: %w", err)
		}
	}

	view := viewOf(ref, a, rec)
	for _, e := range a.Errors() {
		view.Warnings = append(view.Warnings, e.Error())
	}
	s.logger.Info("attachment saved",
		"class", ref.Class,
		"record_id", ref.RecordID,
		"attachment", name,
		"present", view.Present,
		"warnings", len(view.Warnings),
	)
	return view, nil
}

// Detach 删除已存储的全部样式与元数据行。
func (s *AttachmentService) Detach(ctx context.Context, ref RecordRef, name string) error {
	if s == nil || s.repo == nil {
		return errors.New("attachment service not initialized")
	}
	existing, err := s.repo.Get(ctx, ref.Class, ref.RecordID, name)
	if err != nil {
		return err
	}
	a, err := s.open(ref, name, existing)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Destroy(ctx); err != nil {
		return err
	}
	return s.repo.Delete(ctx, ref.Class, ref.RecordID, name)
}

// Describe 返回附件状态与各样式地址；没有记录时返回默认地址。
func (s *AttachmentService) Describe(ctx context.Context, ref RecordRef, name string) (*View, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("attachment service not initialized")
	}
	existing, err := s.load(ctx, ref, name)
	if err != nil {
		return nil, err
	}
	a, err := s.open(ref, name, existing)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return viewOf(ref, a, existing), nil
}

// SignedURL 返回样式的临时访问地址，后端不支持签名时返回普通地址。
func (s *AttachmentService) SignedURL(ctx context.Context, ref RecordRef, name, style string, expiry time.Duration) (string, error) {
	existing, err := s.repo.Get(ctx, ref.Class, ref.RecordID, name)
	if err != nil {
		return "", err
	}
	a, err := s.open(ref, name, existing)
	if err != nil {
		return "", err
	}
	defer a.Close()
	if style != "" && !a.Definition().Styles.Has(style) {
		return "", fmt.Errorf("%w: style %s", ErrUnknownAttachment, style)
	}
	return a.ExpiringURL(ctx, style, expiry)
}

func viewOf(ref RecordRef, a *attachment.Attachment, rec *repository.AttachmentRecord) *View {
	m := a.Metadata()
	v := &View{
		Class:       ref.Class,
		RecordID:    ref.RecordID,
		Name:        a.Name(),
		Present:     m.Present(),
		FileName:    m.FileName,
		ContentType: m.ContentType,
		FileSize:    m.FileSize,
		Fingerprint: m.Fingerprint,
		URLs:        make(map[string]string),
	}
	if !m.UpdatedAt.IsZero() {
		t := m.UpdatedAt
		v.UpdatedAt = &t
	}
	for _, name := range a.Definition().Styles.Names() {
		v.URLs[name] = a.URL(name)
	}
	return v
}

func metadataFrom(rec *repository.AttachmentRecord) attachment.Metadata {
	if rec == nil {
		return attachment.Metadata{}
	}
	m := attachment.Metadata{
		FileName:    rec.FileName,
		ContentType: rec.ContentType,
		FileSize:    rec.FileSize,
		Fingerprint: rec.Fingerprint,
	}
	if rec.FileUpdatedAt != nil {
		m.UpdatedAt = *rec.FileUpdatedAt
	}
	return m
}

func recordFrom(existing *repository.AttachmentRecord, ref RecordRef, name string, m attachment.Metadata) *repository.AttachmentRecord {
	rec := &repository.AttachmentRecord{
		ID:          uuid.NewString(),
		OwnerClass:  ref.Class,
		OwnerID:     ref.RecordID,
		Name:        name,
		FileName:    m.FileName,
		ContentType: m.ContentType,
		FileSize:    m.FileSize,
		Fingerprint: m.Fingerprint,
		Status:      repository.AttachmentStatusStored,
	}
	if existing != nil {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	}
	if !m.UpdatedAt.IsZero() {
		t := m.UpdatedAt
		rec.FileUpdatedAt = &t
	}
	return rec
}
