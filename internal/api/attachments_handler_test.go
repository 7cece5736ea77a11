package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"attachr/internal/attachment"
	"attachr/internal/config"
	"attachr/internal/mediatype"
	amiddleware "attachr/internal/middleware"
	"attachr/internal/processor"
	"attachr/internal/repository"
	"attachr/internal/service"
	"attachr/internal/storage/local"
	"attachr/internal/style"
	"attachr/internal/upload"
)

type handlerRepo struct {
	records map[string]repository.AttachmentRecord
}

func (m *handlerRepo) key(class, id, name string) string { return class + "|" + id + "|" + name }

func (m *handlerRepo) Get(ctx context.Context, class, id, name string) (*repository.AttachmentRecord, error) {
	rec, ok := m.records[m.key(class, id, name)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (m *handlerRepo) Upsert(ctx context.Context, rec *repository.AttachmentRecord) (*repository.AttachmentRecord, error) {
	m.records[m.key(rec.OwnerClass, rec.OwnerID, rec.Name)] = *rec
	return rec, nil
}

func (m *handlerRepo) Delete(ctx context.Context, class, id, name string) error {
	if _, ok := m.records[m.key(class, id, name)]; !ok {
		return repository.ErrNotFound
	}
	delete(m.records, m.key(class, id, name))
	return nil
}

func (m *handlerRepo) List(ctx context.Context, params repository.ListAttachmentsParams) ([]repository.AttachmentRecord, error) {
	return nil, nil
}

func (m *handlerRepo) UpdateStatus(ctx context.Context, id string, status repository.AttachmentStatus) error {
	return nil
}

func newTestRouter(t *testing.T, auth func(http.Handler) http.Handler) (http.Handler, *handlerRepo) {
	t.Helper()
	set, err := style.NewSet(style.Spec{Name: "thumb", Geometry: "16x16#"})
	if err != nil {
		t.Fatalf("style set: %v", err)
	}
	def := attachment.NewDefinition("avatar")
	def.Styles = set
	def.Validators = []attachment.Validator{attachment.ContentType{Allow: []string{"image/*"}}}

	detector := mediatype.NewDetector(mediatype.MagicSniffer{}, nil)
	tmp := t.TempDir()
	repo := &handlerRepo{records: map[string]repository.AttachmentRecord{}}
	svc := service.NewAttachmentService(repo, map[string]*attachment.Definition{"avatar": def}, attachment.Deps{
		Registry:  upload.NewRegistry(detector, upload.NewFetchClient(time.Second, false), upload.WithTempDir(tmp)),
		Processor: &processor.Native{TempDir: tmp},
		Backend:   local.New(t.TempDir(), "/system"),
		Spoof:     mediatype.NewSpoofDetector(detector, nil, nil),
		Now:       func() time.Time { return time.Unix(1700000000, 0) },
	}, nil)

	cfg := &config.Config{RateLimitRequests: 100, RateLimitWindow: time.Minute}
	return NewRouter(cfg, auth, NewAttachmentHandler(svc, 1<<20, nil), nil), repo
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 30))
	for x := 0; x < 40; x++ {
		for y := 0; y < 30; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 6), G: 80, B: uint8(y * 8), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newMultipartRequest(t *testing.T, target string, fields map[string]string, fileField, fileName string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

type viewResponse struct {
	Data service.View `json:"data"`
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) service.View {
	t.Helper()
	var resp viewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return resp.Data
}

const avatarPath = "/records/User/12/attachments/avatar"

func TestAttachmentHandler_UploadMultipart(t *testing.T) {
	router, repo := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newMultipartRequest(t, avatarPath, nil, "file", "face.png", pngBytes(t)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	view := decodeView(t, rec)
	if !view.Present || view.FileName != "face.png" || view.ContentType != "image/png" {
		t.Fatalf("unexpected view %+v", view)
	}
	if got := view.URLs["thumb"]; got != "/system/users/avatars/000/000/012/thumb/face.png?1700000000" {
		t.Fatalf("unexpected thumb url %q", got)
	}
	if _, ok := repo.records[repo.key("User", "12", "avatar")]; !ok {
		t.Fatalf("expected record persisted")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, avatarPath, nil))
	if rec.Code != http.StatusOK || !decodeView(t, rec).Present {
		t.Fatalf("describe failed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAttachmentHandler_UploadDataURISource(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	source := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newMultipartRequest(t, avatarPath, map[string]string{"source": source}, "", "", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if view := decodeView(t, rec); view.ContentType != "image/png" || view.FileSize == 0 {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestAttachmentHandler_UploadRejections(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"local path source", newMultipartRequest(t, avatarPath, map[string]string{"source": "/etc/passwd"}, "", "", nil), http.StatusBadRequest},
		{"internal url source", newMultipartRequest(t, avatarPath, map[string]string{"source": "http://169.254.169.254/latest/meta-data"}, "", "", nil), http.StatusBadRequest},
		{"loopback url source", newMultipartRequest(t, avatarPath, map[string]string{"source": "http://127.0.0.1:1/a.png"}, "", "", nil), http.StatusBadRequest},
		{"no input", newMultipartRequest(t, avatarPath, nil, "", "", nil), http.StatusBadRequest},
		{"invalid content type", newMultipartRequest(t, avatarPath, nil, "file", "notes.txt", []byte("just some text")), http.StatusUnprocessableEntity},
		{"unknown attachment", newMultipartRequest(t, "/records/User/12/attachments/resume", nil, "file", "a.png", pngBytes(t)), http.StatusNotFound},
		{"too large", newMultipartRequest(t, avatarPath, nil, "file", "big.png", bytes.Repeat([]byte{1}, 2<<20)), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, tc.req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAttachmentHandler_InvalidReportsDetails(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newMultipartRequest(t, avatarPath, nil, "file", "notes.txt", []byte("just some text")))

	var resp errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Details) == 0 || !strings.Contains(strings.Join(resp.Details, ";"), "content type") {
		t.Fatalf("expected content type detail, got %+v", resp)
	}
}

func TestAttachmentHandler_DeleteAndURL(t *testing.T) {
	router, repo := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newMultipartRequest(t, avatarPath, nil, "file", "face.png", pngBytes(t)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, avatarPath+"/url?style=thumb&expires=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad expires, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, avatarPath+"/url?"+url.Values{"style": {"thumb"}, "expires": {"10m"}}.Encode(), nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/thumb/face.png") {
		t.Fatalf("unexpected url response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, avatarPath, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(repo.records) != 0 {
		t.Fatalf("expected record removed")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, avatarPath, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, avatarPath, nil))
	if view := decodeView(t, rec); view.Present || view.URLs["thumb"] != "/avatars/thumb/missing.png" {
		t.Fatalf("unexpected view after delete %+v", view)
	}
}

func TestAttachmentHandler_Reprocess(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, avatarPath+"/reprocess", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without attachment, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newMultipartRequest(t, avatarPath, nil, "file", "face.png", pngBytes(t)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, avatarPath+"/reprocess", strings.NewReader(`{"styles":["thumb"]}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, avatarPath+"/reprocess", strings.NewReader(`{"colour":"red"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestRouter_AuthAndHealth(t *testing.T) {
	router, _ := newTestRouter(t, amiddleware.APIKeyAuth([]string{"k1"}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz should not require auth, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, avatarPath, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, avatarPath, nil)
	req.Header.Set("Authorization", "ApiKey k1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", rec.Code)
	}
}
