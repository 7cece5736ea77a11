package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"attachr/internal/repository"
)

// NewAttachmentRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewAttachmentRepository(db *sql.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// AttachmentRepository 实现 repository.AttachmentRepository。
type AttachmentRepository struct {
	db *sql.DB
}

var attachmentSelectColumns = []string{
	"id",
	"owner_class",
	"owner_id",
	"name",
	"file_name",
	"content_type",
	"file_size",
	"fingerprint",
	"file_updated_at",
	"status",
	"created_at",
	"updated_at",
}

var attachmentInsertColumns = []string{
	"id",
	"owner_class",
	"owner_id",
	"name",
	"file_name",
	"content_type",
	"file_size",
	"fingerprint",
	"file_updated_at",
	"status",
}

// Upsert 插入或更新附件行，冲突时保留原 id 与 created_at。
func (r *AttachmentRepository) Upsert(ctx context.Context, record *repository.AttachmentRecord) (*repository.AttachmentRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("attachment record is nil")
	}
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("attachment repository uninitialized")
	}

	placeholders := make([]string, len(attachmentInsertColumns))
	for i := range attachmentInsertColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO attachments (%s)
	VALUES (%s)
	ON CONFLICT (owner_class, owner_id, name) DO UPDATE SET
		file_name = EXCLUDED.file_name,
		content_type = EXCLUDED.content_type,
		file_size = EXCLUDED.file_size,
		fingerprint = EXCLUDED.fingerprint,
		file_updated_at = EXCLUDED.file_updated_at,
		status = EXCLUDED.status,
		updated_at = NOW()
	RETURNING %s`,
		strings.Join(attachmentInsertColumns, ","),
		strings.Join(placeholders, ","),
		strings.Join(attachmentSelectColumns, ","),
	)

	var updatedAt sql.NullTime
	if record.FileUpdatedAt != nil {
		updatedAt = sql.NullTime{Time: *record.FileUpdatedAt, Valid: true}
	}
	status := record.Status
	if status == "" {
		status = repository.AttachmentStatusStored
	}

	row := r.db.QueryRowContext(
		ctx,
		query,
		record.ID,
		record.OwnerClass,
		record.OwnerID,
		record.Name,
		nullString(record.FileName),
		nullString(record.ContentType),
		record.FileSize,
		nullString(record.Fingerprint),
		updatedAt,
		status,
	)
	return scanAttachmentRecord(row)
}

// Get 按所属记录与附件名查询。
func (r *AttachmentRepository) Get(ctx context.Context, ownerClass, ownerID, name string) (*repository.AttachmentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attachments WHERE owner_class = $1 AND owner_id = $2 AND name = $3`,
		strings.Join(attachmentSelectColumns, ","))
	row := r.db.QueryRowContext(ctx, query, ownerClass, ownerID, name)
	rec, err := scanAttachmentRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *AttachmentRepository) Delete(ctx context.Context, ownerClass, ownerID, name string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM attachments WHERE owner_class = $1 AND owner_id = $2 AND name = $3`,
		ownerClass, ownerID, name)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List 支持按类、附件名与状态过滤并分页，按创建时间升序以便批处理稳定翻页。
func (r *AttachmentRepository) List(ctx context.Context, params repository.ListAttachmentsParams) ([]repository.AttachmentRecord, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		args       []any
		conditions []string
	)
	if params.OwnerClass != "" {
		args = append(args, params.OwnerClass)
		conditions = append(conditions, fmt.Sprintf("owner_class = $%d", len(args)))
	}
	if params.Name != "" {
		args = append(args, params.Name)
		conditions = append(conditions, fmt.Sprintf("name = $%d", len(args)))
	}
	if len(params.Statuses) > 0 {
		placeholders := make([]string, len(params.Statuses))
		for i, status := range params.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ",")+")")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, limit)
	tail := fmt.Sprintf("ORDER BY created_at, id LIMIT $%d", len(args))
	if params.Offset > 0 {
		args = append(args, params.Offset)
		tail += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	query := fmt.Sprintf(`SELECT %s FROM attachments %s %s`, strings.Join(attachmentSelectColumns, ","), whereClause, tail)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.AttachmentRecord
	for rows.Next() {
		rec, err := scanAttachmentRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateStatus 更新附件状态。
func (r *AttachmentRepository) UpdateStatus(ctx context.Context, id string, status repository.AttachmentStatus) error {
	query := `UPDATE attachments SET status = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttachmentRecord(rs rowScanner) (*repository.AttachmentRecord, error) {
	var (
		rec           repository.AttachmentRecord
		fileName      sql.NullString
		contentType   sql.NullString
		fileSize      sql.NullInt64
		fingerprint   sql.NullString
		fileUpdatedAt sql.NullTime
	)

	if err := rs.Scan(
		&rec.ID,
		&rec.OwnerClass,
		&rec.OwnerID,
		&rec.Name,
		&fileName,
		&contentType,
		&fileSize,
		&fingerprint,
		&fileUpdatedAt,
		&rec.Status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rec.FileName = fileName.String
	rec.ContentType = contentType.String
	rec.FileSize = fileSize.Int64
	rec.Fingerprint = fingerprint.String
	if fileUpdatedAt.Valid {
		t := fileUpdatedAt.Time.UTC()
		rec.FileUpdatedAt = &t
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
