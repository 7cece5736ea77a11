package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"attachr/internal/attachment"
	"attachr/internal/command"
	"attachr/internal/repository"
	"attachr/internal/service"
	"attachr/internal/upload"

	"github.com/go-chi/chi/v5"
)

const (
	multipartMemoryBudget int64 = 16 * 1024 * 1024
	defaultURLExpiry            = 15 * time.Minute
	maxURLExpiry                = 7 * 24 * time.Hour
)

// AttachmentHandler 提供记录附件的上传、查询、删除与重新处理端点。
type AttachmentHandler struct {
	service        *service.AttachmentService
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewAttachmentHandler(s *service.AttachmentService, maxUploadBytes int64, logger *slog.Logger) *AttachmentHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 100 * 1024 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AttachmentHandler{service: s, maxUploadBytes: maxUploadBytes, logger: logger}
}

func (h *AttachmentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/records/{class}/{id}/attachments/{name}", func(r chi.Router) {
		r.Get("/", h.Describe)
		r.Post("/", h.Upload)
		r.Delete("/", h.Delete)
		r.Get("/url", h.URL)
		r.Post("/reprocess", h.Reprocess)
	})
}

func recordRef(r *http.Request) (service.RecordRef, string, error) {
	ref := service.RecordRef{
		Class:    strings.TrimSpace(chi.URLParam(r, "class")),
		RecordID: strings.TrimSpace(chi.URLParam(r, "id")),
	}
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if ref.Class == "" || ref.RecordID == "" || name == "" {
		return ref, "", errors.New("class, id and attachment name are required")
	}
	return ref, name, nil
}

// Upload 接受 multipart 表单：file 字段为上传文件，或 source 字段为 URL / data URI。
// clear=true 时清除附件。
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}
	ref, name, err := recordRef(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartMemoryBudget)
	defer r.Body.Close()

	if err := r.ParseMultipartForm(multipartMemoryBudget); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds size limit (%d bytes)", h.maxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	in, err := h.input(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.service.Attach(r.Context(), ref, name, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Data: view})
}

func (h *AttachmentHandler) input(r *http.Request) (upload.Input, error) {
	if strings.EqualFold(r.FormValue("clear"), "true") {
		return upload.Nil{}, nil
	}
	if r.MultipartForm != nil {
		if files := r.MultipartForm.File["file"]; len(files) > 0 {
			if files[0].Size > h.maxUploadBytes {
				return nil, fmt.Errorf("file exceeds size limit (%d bytes)", h.maxUploadBytes)
			}
			return upload.Multipart{Header: files[0]}, nil
		}
	}
	source := strings.TrimSpace(r.FormValue("source"))
	if source == "" {
		return nil, errors.New("file or source field is required")
	}
	switch in := upload.Classify(source).(type) {
	case upload.URL, upload.DataURI:
		return in, nil
	default:
		return nil, errors.New("source must be an http(s) url or a data uri")
	}
}

// Describe 返回附件元数据与各样式地址。
func (h *AttachmentHandler) Describe(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}
	ref, name, err := recordRef(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.service.Describe(r.Context(), ref, name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: view})
}

// Delete 删除全部样式文件与元数据。
func (h *AttachmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}
	ref, name, err := recordRef(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.service.Detach(r.Context(), ref, name); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: map[string]any{
		"class":     ref.Class,
		"record_id": ref.RecordID,
		"name":      name,
		"deleted":   true,
	}})
}

// URL 返回样式地址，后端支持时为带有效期的签名地址。
func (h *AttachmentHandler) URL(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}
	ref, name, err := recordRef(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	expiry, err := parseDuration(r.URL.Query().Get("expires"), defaultURLExpiry, maxURLExpiry)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid expires: "+err.Error())
		return
	}
	style := r.URL.Query().Get("style")
	u, err := h.service.SignedURL(r.Context(), ref, name, style, expiry)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: map[string]any{
		"url":        u,
		"style":      style,
		"expires_in": int64(expiry.Seconds()),
	}})
}

type reprocessRequest struct {
	Styles []string `json:"styles"`
}

// Reprocess 从已存储的原文件重新生成样式，可通过 styles 参数或 JSON 请求体限定样式。
func (h *AttachmentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}
	ref, name, err := recordRef(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req reprocessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	styles := splitList(append(r.URL.Query()["styles"], req.Styles...))

	view, err := h.service.ReprocessRecord(r.Context(), ref, name, styles)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: view})
}

// fail 将领域错误映射为 HTTP 状态码。
func (h *AttachmentHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *service.ValidationError
		ferr  *upload.FetchError
		nferr *command.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		details := make([]string, 0, len(verr.Errors))
		for _, e := range verr.Errors {
			details = append(details, e.Error())
		}
		writeError(w, http.StatusUnprocessableEntity, "attachment is invalid", details...)
	case errors.Is(err, service.ErrUnknownAttachment), errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, attachment.ErrNotPresent):
		writeError(w, http.StatusNotFound, "attachment has no file")
	case errors.Is(err, upload.ErrUnsupportedInput), errors.Is(err, upload.ErrForbiddenAddress):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &ferr):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &nferr):
		h.logger.Error("processing command missing", "command", nferr.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "image processing is not available")
	default:
		h.logger.Error("attachment request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
