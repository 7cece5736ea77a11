package service

import (
	"context"
	"errors"
	"fmt"

	"attachr/internal/repository"
)

const defaultReprocessBatch = 100

// ReprocessParams 选择需要重新生成样式的附件。Name 为空时遍历全部定义。
type ReprocessParams struct {
	Class     string
	Name      string
	Styles    []string
	BatchSize int
}

// ReprocessFailure 记录单条附件的失败原因。
type ReprocessFailure struct {
	Class    string `json:"class"`
	RecordID string `json:"record_id"`
	Name     string `json:"name"`
	Error    string `json:"error"`
}

// ReprocessReport 汇总一次批量重新处理。
type ReprocessReport struct {
	Processed int                `json:"processed"`
	Skipped   int                `json:"skipped"`
	Failed    int                `json:"failed"`
	Failures  []ReprocessFailure `json:"failures,omitempty"`
}

// Reprocess 逐条从原图重新生成样式。单条失败只记录，不中断批次。
func (s *AttachmentService) Reprocess(ctx context.Context, params ReprocessParams) (ReprocessReport, error) {
	var report ReprocessReport
	if s == nil || s.repo == nil {
		return report, errors.New("attachment service not initialized")
	}

	names := s.Names()
	if params.Name != "" {
		if _, ok := s.defs[params.Name]; !ok {
			return report, fmt.Errorf("%w: %s", ErrUnknownAttachment, params.Name)
		}
		names = []string{params.Name}
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReprocessBatch
	}

	for _, name := range names {
		for offset := 0; ; offset += batch {
			records, err := s.repo.List(ctx, repository.ListAttachmentsParams{
				OwnerClass: params.Class,
				Name:       name,
				Limit:      batch,
				Offset:     offset,
			})
			if err != nil {
				return report, fmt.Errorf("list attachments: %w", err)
			}
			for i := range records {
				if err := ctx.Err(); err != nil {
					return report, err
				}
				s.reprocessOne(ctx, &records[i], params.Styles, &report)
			}
			if len(records) < batch {
				break
			}
		}
	}

	s.logger.Info("reprocess finished",
		"processed", report.Processed,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

func (s *AttachmentService) reprocessOne(ctx context.Context, rec *repository.AttachmentRecord, styles []string, report *ReprocessReport) {
	if rec.FileName == "" {
		report.Skipped++
		return
	}
	ref := RecordRef{Class: rec.OwnerClass, RecordID: rec.OwnerID}

	err := func() error {
		a, err := s.open(ref, rec.Name, rec)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Reprocess(ctx, styles...); err != nil {
			return err
		}
		_, err = s.repo.Upsert(ctx, recordFrom(rec, ref, rec.Name, a.Metadata()))
		return err
	}()
	if err == nil {
		report.Processed++
		return
	}

	report.Failed++
	report.Failures = append(report.Failures, ReprocessFailure{
		Class:    rec.OwnerClass,
		RecordID: rec.OwnerID,
		Name:     rec.Name,
		Error:    err.Error(),
	})
	s.logger.Warn("reprocess failed",
		"class", rec.OwnerClass,
		"record_id", rec.OwnerID,
		"attachment", rec.Name,
		"error", err,
	)
	if uerr := s.repo.UpdateStatus(ctx, rec.ID, repository.AttachmentStatusFailed); uerr != nil {
		s.logger.Error("mark attachment failed", "id", rec.ID, "error", uerr)
	}
}

// ReprocessRecord 重新生成单条记录的样式并返回新状态。
func (s *AttachmentService) ReprocessRecord(ctx context.Context, ref RecordRef, name string, styles []string) (*View, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("attachment service not initialized")
	}
	existing, err := s.repo.Get(ctx, ref.Class, ref.RecordID, name)
	if err != nil {
		return nil, err
	}
	a, err := s.open(ref, name, existing)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	if err := a.Reprocess(ctx, styles...); err != nil {
		if uerr := s.repo.UpdateStatus(ctx, existing.ID, repository.AttachmentStatusFailed); uerr != nil {
			s.logger.Error("mark attachment failed", "id", existing.ID, "error", uerr)
		}
		return nil, err
	}
	rec, err := s.repo.Upsert(ctx, recordFrom(existing, ref, name, a.Metadata()))
	if err != nil {
		return nil, fmt.Errorf("save attachment record: %w", err)
	}
	return viewOf(ref, a, rec), nil
}
