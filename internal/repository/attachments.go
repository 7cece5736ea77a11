package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 表示记录上没有该附件的元数据行。
var ErrNotFound = errors.New("repository: attachment not found")

// AttachmentStatus 描述附件最近一次处理的结果。
type AttachmentStatus string

const (
	AttachmentStatusStored AttachmentStatus = "stored"
	// AttachmentStatusFailed 表示最近一次重新处理失败，文件仍是旧版本。
	AttachmentStatusFailed AttachmentStatus = "failed"
)

// AttachmentRecord 是某条记录上一个具名附件的元数据行。
type AttachmentRecord struct {
	ID            string           `json:"id"`
	OwnerClass    string           `json:"owner_class"`
	OwnerID       string           `json:"owner_id"`
	Name          string           `json:"name"`
	FileName      string           `json:"file_name"`
	ContentType   string           `json:"content_type,omitempty"`
	FileSize      int64            `json:"file_size"`
	Fingerprint   string           `json:"fingerprint,omitempty"`
	FileUpdatedAt *time.Time       `json:"file_updated_at,omitempty"`
	Status        AttachmentStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ListAttachmentsParams 用于分页检索，空字段不参与过滤。
type ListAttachmentsParams struct {
	OwnerClass string
	Name       string
	Statuses   []AttachmentStatus
	Limit      int
	Offset     int
}

// AttachmentRepository 统一附件元数据持久层接口。
type AttachmentRepository interface {
	Get(ctx context.Context, ownerClass, ownerID, name string) (*AttachmentRecord, error)
	// Upsert 以 (owner_class, owner_id, name) 为键插入或更新。
	Upsert(ctx context.Context, record *AttachmentRecord) (*AttachmentRecord, error)
	Delete(ctx context.Context, ownerClass, ownerID, name string) error
	List(ctx context.Context, params ListAttachmentsParams) ([]AttachmentRecord, error)
	UpdateStatus(ctx context.Context, id string, status AttachmentStatus) error
}
