package attachment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"attachr/internal/command"
	"attachr/internal/mediatype"
	"attachr/internal/processor"
	"attachr/internal/storage"
	"attachr/internal/storage/local"
	"attachr/internal/style"
	"attachr/internal/upload"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct{ id int }

func (u user) ClassName() string { return "User" }
func (u user) ID() any           { return u.id }

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

type env struct {
	def     *Definition
	store   *local.Storage
	deps    Deps
	baseDir string
}

func newEnv(t *testing.T, styles ...style.Spec) *env {
	t.Helper()
	set, err := style.NewSet(styles...)
	require.NoError(t, err)

	def := NewDefinition("avatar")
	def.Styles = set

	detector := mediatype.NewDetector(mediatype.MagicSniffer{}, nil)
	tmp := t.TempDir()
	baseDir := t.TempDir()
	store := local.New(baseDir, "/system")
	return &env{
		def:     def,
		store:   store,
		baseDir: baseDir,
		deps: Deps{
			Registry:  upload.NewRegistry(detector, nil, upload.WithTempDir(tmp)),
			Processor: &processor.Native{TempDir: tmp},
			Backend:   store,
			Spoof:     mediatype.NewSpoofDetector(detector, nil, nil),
			Now:       func() time.Time { return fixedNow },
		},
	}
}

func (e *env) attachment(t *testing.T, meta Metadata) *Attachment {
	t.Helper()
	a, err := New(e.def, user{id: 1}, meta, e.deps)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

// storedFiles 返回 baseDir 下全部文件的相对路径。
func (e *env) storedFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(e.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(e.baseDir, p)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

func writePNG(t *testing.T, name string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	p := filepath.Join(t.TempDir(), name)
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return p
}

func thumbStyles() []style.Spec {
	return []style.Spec{
		{Name: "thumb", Geometry: "100x50#"},
		{Name: "medium", Geometry: "200x200>"},
	}
}

func TestAssignSave_EndToEnd(t *testing.T) {
	e := newEnv(t, thumbStyles()...)
	a := e.attachment(t, Metadata{})
	ctx := context.Background()

	require.NoError(t, a.Assign(ctx, upload.Path(writePNG(t, "photo.png", 434, 66))))
	require.True(t, a.Valid(), "%v", a.Errors())
	assert.True(t, a.Dirty())
	assert.Equal(t, []string{"original", "thumb", "medium"}, a.QueuedWrites())

	require.NoError(t, a.Save(ctx))
	assert.False(t, a.Dirty())
	assert.False(t, a.Staged())

	prefix := "users/avatars/000/000/001/"
	assert.Equal(t, []string{
		prefix + "medium/photo.png",
		prefix + "original/photo.png",
		prefix + "thumb/photo.png",
	}, e.storedFiles(t))

	thumb, err := imaging.Open(filepath.Join(e.baseDir, prefix+"thumb/photo.png"))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(100, 50), thumb.Bounds().Size())

	medium, err := imaging.Open(filepath.Join(e.baseDir, prefix+"medium/photo.png"))
	require.NoError(t, err)
	assert.LessOrEqual(t, max(medium.Bounds().Dx(), medium.Bounds().Dy()), 200)

	meta := a.Metadata()
	assert.Equal(t, "photo.png", meta.FileName)
	assert.Equal(t, "image/png", meta.ContentType)
	assert.Equal(t, fixedNow, meta.UpdatedAt)
	assert.Len(t, meta.Fingerprint, 32)
}

func TestSave_InvalidIsNoOp(t *testing.T) {
	e := newEnv(t, thumbStyles()...)
	e.def.Validators = []Validator{Size{Max: 10}}
	ctx := context.Background()

	stored := Metadata{FileName: "old.png", ContentType: "image/png", FileSize: 5, UpdatedAt: fixedNow.Add(-time.Hour)}
	a := e.attachment(t, stored)

	require.NoError(t, a.Assign(ctx, upload.Path(writePNG(t, "photo.png", 434, 66))))
	assert.False(t, a.Valid())
	require.Len(t, a.Errors(), 1)
	assert.Equal(t, KindValidation, a.Errors()[0].Kind)
	assert.Equal(t, []string{"original"}, a.QueuedWrites(), "styles are not generated for invalid files")

	assert.ErrorIs(t, a.Save(ctx), ErrInvalid)
	assert.Empty(t, e.storedFiles(t))
	assert.Equal(t, stored, a.Metadata())
	assert.Len(t, a.QueuedDeletes(), 3, "old files are queued but untouched")
}

func TestAssign_IdentityStyle(t *testing.T) {
	e := newEnv(t, style.Spec{Name: "copy"})
	a := e.attachment(t, Metadata{})
	ctx := context.Background()

	src := writePNG(t, "photo.png", 20, 10)
	require.NoError(t, a.Assign(ctx, upload.Path(src)))
	require.NoError(t, a.Save(ctx))

	want, err := os.ReadFile(src)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(e.baseDir, a.Path("copy")))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDestroy_DeleteTolerance(t *testing.T) {
	for _, whiny := range []bool{false, true} {
		t.Run(fmt.Sprintf("whiny=%v", whiny), func(t *testing.T) {
			e := newEnv(t, thumbStyles()...)
			e.def.WhinyDeletes = whiny
			a := e.attachment(t, Metadata{})
			ctx := context.Background()

			require.NoError(t, a.Assign(ctx, upload.Path(writePNG(t, "photo.png", 434, 66))))
			require.NoError(t, a.Save(ctx))
			require.NoError(t, os.Remove(filepath.Join(e.baseDir, a.Path("thumb"))))

			err := a.Destroy(ctx)
			if whiny {
				assert.ErrorIs(t, err, storage.ErrNotFound)
			} else {
				assert.NoError(t, err)
				assert.Empty(t, a.QueuedDeletes())
			}
			assert.Empty(t, e.storedFiles(t), "remaining styles are deleted either way")
			assert.False(t, a.Metadata().Present())
		})
	}
}

func TestAssign_NilQueuesDeletes(t *testing.T) {
	e := newEnv(t, thumbStyles()...)
	a := e.attachment(t, Metadata{})
	ctx := context.Background()

	require.NoError(t, a.Assign(ctx, upload.Path(writePNG(t, "photo.png", 434, 66))))
	require.NoError(t, a.Save(ctx))
	require.Len(t, e.storedFiles(t), 3)

	require.NoError(t, a.Assign(ctx, upload.Nil{}))
	assert.True(t, a.Dirty())
	assert.Len(t, a.QueuedDeletes(), 3)
	assert.Equal(t, "/avatars/thumb/missing.png", a.URL("thumb"))

	require.NoError(t, a.Save(ctx))
	assert.Empty(t, e.storedFiles(t))
	assert.Equal(t, Metadata{}, a.Metadata())
}

func TestAssign_EmptyIsIgnored(t *testing.T) {
	e := newEnv(t)
	stored := Metadata{FileName: "a.png", UpdatedAt: fixedNow}
	a := e.attachment(t, stored)

	require.NoError(t, a.Assign(context.Background(), upload.Empty{}))
	assert.False(t, a.Dirty())
	assert.Empty(t, a.QueuedDeletes())
	assert.Equal(t, stored, a.Metadata())
}

func TestAssign_ReplaceFile(t *testing.T) {
	for _, keep := range []bool{false, true} {
		t.Run(fmt.Sprintf("keep_old_files=%v", keep), func(t *testing.T) {
			e := newEnv(t, style.Spec{Name: "thumb", Geometry: "10x10#"})
			e.def.KeepOldFiles = keep
			a := e.attachment(t, Metadata{})
			ctx := context.Background()

			require.NoError(t, a.Assign(ctx, upload.Path(writePNG(t, "first.png", 40, 20))))
			require.NoError(t, a.Save(ctx))
			require.NoError(t, a.Assign(ctx, upload.Path(writePNG(t, "second.png", 40, 20))))
			require.NoError(t, a.Save(ctx))

			files := e.storedFiles(t)
			if keep {
				assert.Len(t, files, 4)
			} else {
				assert.Equal(t, []string{
					"users/avatars/000/000/001/original/second.png",
					"users/avatars/000/000/001/thumb/second.png",
				}, files)
			}
		})
	}
}

func TestAssign_SameNameIsNotDeletedAfterWrite(t *testing.T) {
	e := newEnv(t)
	a := e.attachment(t, Metadata{})
	ctx := context.Background()

	require.NoError(t, a.Assign(ctx, upload.Path(writePNG(t, "photo.png", 8, 8))))
	require.NoError(t, a.Save(ctx))
	require.NoError(t, a.Assign(ctx, upload.Path(writePNG(t, "photo.png", 16, 16))))
	require.NoError(t, a.Save(ctx))

	img, err := imaging.Open(filepath.Join(e.baseDir, a.Path("original")))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
}

func TestAssign_SpoofedContent(t *testing.T) {
	e := newEnv(t, thumbStyles()...)
	a := e.attachment(t, Metadata{})

	p := filepath.Join(t.TempDir(), "evil.png")
	require.NoError(t, os.WriteFile(p, []byte("<html><body>hi</body></html>"), 0o644))

	require.NoError(t, a.Assign(context.Background(), upload.Path(p)))
	require.False(t, a.Valid())
	assert.Contains(t, a.Errors()[0].Message, "not what they are reported to be")

	e.def.ValidateMediaType = false
	assert.True(t, a.Validate(context.Background()))
}

// failingProcessor 对指定样式返回 err，其余样式交给 next。
type failingProcessor struct {
	next  processor.Processor
	style string
	err   error
}

func (p *failingProcessor) Make(ctx context.Context, src *upload.File, spec style.Spec) (string, error) {
	if spec.Name == p.style {
		return "", p.err
	}
	return p.next.Make(ctx, src, spec)
}

func TestAssign_StyleFailurePolicies(t *testing.T) {
	procErr := &processor.Error{Style: "thumb", File: "photo.png", Msg: "there was an error processing the thumbnail"}

	tests := []struct {
		name       string
		policy     StyleFailurePolicy
		whiny      bool
		wantErrors int
		wantValid  bool
	}{
		{"substitute quiet", StyleFailureSubstitute, false, 0, true},
		{"substitute whiny", StyleFailureSubstitute, true, 1, true},
		{"abort", StyleFailureAbort, false, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, thumbStyles()...)
			e.def.StyleFailure = tt.policy
			e.def.Whiny = tt.whiny
			e.deps.Processor = &failingProcessor{next: e.deps.Processor, style: "thumb", err: procErr}
			a := e.attachment(t, Metadata{})
			ctx := context.Background()

			src := writePNG(t, "photo.png", 434, 66)
			require.NoError(t, a.Assign(ctx, upload.Path(src)))
			assert.Len(t, a.Errors(), tt.wantErrors)
			assert.Equal(t, tt.wantValid, a.Valid())

			err := a.Save(ctx)
			if !tt.wantValid {
				assert.ErrorIs(t, err, ErrInvalid)
				assert.Empty(t, e.storedFiles(t))
				return
			}
			require.NoError(t, err)
			want, _ := os.ReadFile(src)
			got, _ := os.ReadFile(filepath.Join(e.baseDir, a.Path("thumb")))
			assert.Equal(t, want, got, "original substituted for failed style")
		})
	}
}

func TestAssign_CommandNotFoundIsReturned(t *testing.T) {
	e := newEnv(t, thumbStyles()...)
	e.deps.Processor = &failingProcessor{
		next:  e.deps.Processor,
		style: "medium",
		err:   &processor.Error{Style: "medium", Msg: "is ImageMagick installed?", Err: &command.NotFoundError{Name: "convert", Err: errors.New("missing")}},
	}
	a := e.attachment(t, Metadata{})

	err := a.Assign(context.Background(), upload.Path(writePNG(t, "photo.png", 434, 66)))
	assert.ErrorIs(t, err, command.ErrNotFound)
	assert.False(t, a.Dirty())
	assert.False(t, a.Staged())
	assert.Empty(t, a.Errors())
}

func TestAssign_UnsupportedInput(t *testing.T) {
	e := newEnv(t)
	a := e.attachment(t, Metadata{})
	err := a.Assign(context.Background(), upload.Reader{})
	assert.ErrorIs(t, err, upload.ErrUnsupportedInput)
}

func TestExistsAndReadable_PreferStaged(t *testing.T) {
	e := newEnv(t, thumbStyles()...)
	a := e.attachment(t, Metadata{})
	ctx := context.Background()

	ok, err := a.Exists(ctx, "thumb")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = a.ToReadable(ctx, "thumb")
	assert.ErrorIs(t, err, ErrNotPresent)

	require.NoError(t, a.Assign(ctx, upload.Path(writePNG(t, "photo.png", 434, 66))))
	ok, err = a.Exists(ctx, "thumb")
	require.NoError(t, err)
	assert.True(t, ok, "staged style exists before save")
	assert.Empty(t, e.storedFiles(t))

	rc, err := a.ToReadable(ctx, "thumb")
	require.NoError(t, err)
	_, isFile := rc.(*os.File)
	assert.True(t, isFile, "staged handle is seekable")
	rc.Close()

	require.NoError(t, a.Save(ctx))
	rc, err = a.ToReadable(ctx, "thumb")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	img, err := png.Decode(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(100, 50), img.Bounds().Size())
}

func TestURL(t *testing.T) {
	e := newEnv(t, thumbStyles()...)
	stored := Metadata{FileName: "my photo.png", ContentType: "image/png", FileSize: 10, UpdatedAt: fixedNow}
	a := e.attachment(t, stored)

	assert.Equal(t, "/system/users/avatars/000/000/001/thumb/my%20photo.png?1714979289", a.URL("thumb"))
	assert.Equal(t, "/system/users/avatars/000/000/001/original/my%20photo.png?1714979289", a.URL(""))

	e.def.UseTimestamp = false
	e.def.URL = "/files/:class/:id/:style/:basename.:extension"
	assert.Equal(t, "/files/users/1/thumb/my%20photo.png", a.URL("thumb"))

	e.def.URL = "https://cdn.example.com/:style/:filename?v=1"
	e.def.EscapeURL = false
	e.def.UseTimestamp = true
	assert.Equal(t, "https://cdn.example.com/thumb/my photo.png?v=1&1714979289", a.URL("thumb"))

	url, err := a.ExpiringURL(context.Background(), "thumb", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, a.URL("thumb"), url)
}

func TestPath_Hash(t *testing.T) {
	e := newEnv(t)
	e.def.Path = ":class/:hash.:extension"
	e.def.HashSecret = "secret"
	a := e.attachment(t, Metadata{FileName: "a.png", UpdatedAt: fixedNow})

	p := a.Path("original")
	assert.Regexp(t, `^users/[0-9a-f]{40}\.png$`, p)
	assert.Equal(t, p, a.Path("original"))
	assert.NotEqual(t, p, a.Path("thumb"))

	e.def.HashSecret = ""
	assert.Error(t, e.def.Validate())
}

func TestReprocess_BackfillsNewStyle(t *testing.T) {
	e := newEnv(t, style.Spec{Name: "thumb", Geometry: "100x50#"})
	a := e.attachment(t, Metadata{})
	ctx := context.Background()

	require.NoError(t, a.Assign(ctx, upload.Path(writePNG(t, "photo.png", 434, 66))))
	require.NoError(t, a.Save(ctx))
	require.Len(t, e.storedFiles(t), 2)

	set, err := style.NewSet(style.Spec{Name: "thumb", Geometry: "100x50#"}, style.Spec{Name: "small", Geometry: "50x50"})
	require.NoError(t, err)
	e.def.Styles = set
	e.deps.Now = func() time.Time { return fixedNow.Add(time.Hour) }

	b := e.attachment(t, a.Metadata())
	require.NoError(t, b.Reprocess(ctx))
	assert.Len(t, e.storedFiles(t), 3)
	assert.Equal(t, fixedNow.Add(time.Hour), b.Metadata().UpdatedAt)

	img, err := imaging.Open(filepath.Join(e.baseDir, b.Path("small")))
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())

	assert.Error(t, b.Reprocess(ctx, "missing"))
}

func TestReprocess_TimeDependentPathMovesFiles(t *testing.T) {
	e := newEnv(t, style.Spec{Name: "thumb", Geometry: "100x50#"})
	e.def.Path = ":class/:id/:style/:updated_at/:filename"
	a := e.attachment(t, Metadata{})
	ctx := context.Background()

	require.NoError(t, a.Assign(ctx, upload.Path(writePNG(t, "photo.png", 434, 66))))
	require.NoError(t, a.Save(ctx))
	assert.Equal(t, []string{
		"users/1/original/1714979289/photo.png",
		"users/1/thumb/1714979289/photo.png",
	}, e.storedFiles(t))

	e.deps.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	b := e.attachment(t, a.Metadata())
	require.NoError(t, b.Reprocess(ctx))

	assert.Equal(t, []string{
		"users/1/original/1714982889/photo.png",
		"users/1/thumb/1714982889/photo.png",
	}, e.storedFiles(t))
	for _, name := range []string{"original", "thumb"} {
		ok, err := b.Exists(ctx, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}
}

func TestReprocess_PartialKeepsOtherStylesReachable(t *testing.T) {
	e := newEnv(t, thumbStyles()...)
	e.def.Path = ":class/:id/:style/:updated_at/:filename"
	a := e.attachment(t, Metadata{})
	ctx := context.Background()

	require.NoError(t, a.Assign(ctx, upload.Path(writePNG(t, "photo.png", 434, 66))))
	require.NoError(t, a.Save(ctx))
	before := e.storedFiles(t)
	require.Len(t, before, 3)

	e.deps.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	b := e.attachment(t, a.Metadata())
	require.NoError(t, os.Remove(filepath.Join(e.baseDir, b.Path("thumb"))))
	require.NoError(t, b.Reprocess(ctx, "thumb"))

	assert.Equal(t, fixedNow, b.Metadata().UpdatedAt)
	assert.Equal(t, before, e.storedFiles(t))
	for _, name := range []string{"original", "thumb", "medium"} {
		ok, err := b.Exists(ctx, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}
}

func TestReprocess_KeepOldFilesLeavesPreviousKeys(t *testing.T) {
	e := newEnv(t, style.Spec{Name: "thumb", Geometry: "100x50#"})
	e.def.Path = ":class/:id/:style/:updated_at/:filename"
	e.def.KeepOldFiles = true
	a := e.attachment(t, Metadata{})
	ctx := context.Background()

	require.NoError(t, a.Assign(ctx, upload.Path(writePNG(t, "photo.png", 434, 66))))
	require.NoError(t, a.Save(ctx))

	e.deps.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	b := e.attachment(t, a.Metadata())
	require.NoError(t, b.Reprocess(ctx))
	assert.Len(t, e.storedFiles(t), 4)
}

func TestReprocess_MissingOriginal(t *testing.T) {
	e := newEnv(t, thumbStyles()...)
	a := e.attachment(t, Metadata{FileName: "gone.png", UpdatedAt: fixedNow})
	err := a.Reprocess(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	empty := e.attachment(t, Metadata{})
	assert.ErrorIs(t, empty.Reprocess(context.Background()), ErrNotPresent)
}

func TestClear_Styles(t *testing.T) {
	e := newEnv(t, thumbStyles()...)
	a := e.attachment(t, Metadata{})
	ctx := context.Background()

	require.NoError(t, a.Assign(ctx, upload.Path(writePNG(t, "photo.png", 434, 66))))
	require.NoError(t, a.Save(ctx))

	a.Clear("thumb")
	assert.Equal(t, []string{"users/avatars/000/000/001/thumb/photo.png"}, a.QueuedDeletes())
	require.NoError(t, a.Save(ctx))
	assert.Len(t, e.storedFiles(t), 2)
	assert.True(t, a.Metadata().Present())
}

func TestAssign_FromOtherAttachment(t *testing.T) {
	e := newEnv(t, thumbStyles()...)
	ctx := context.Background()
	src := e.attachment(t, Metadata{})
	require.NoError(t, src.Assign(ctx, upload.Path(writePNG(t, "photo.png", 434, 66))))

	dst, err := New(e.def, user{id: 2}, Metadata{}, e.deps)
	require.NoError(t, err)
	defer dst.Close()
	require.NoError(t, dst.Assign(ctx, upload.Prior{Source: src}))
	require.NoError(t, dst.Save(ctx))

	assert.Equal(t, "photo.png", dst.Metadata().FileName)
	assert.Equal(t, src.Fingerprint(), dst.Metadata().Fingerprint)
	assert.Len(t, e.storedFiles(t), 3)
}

func TestMetadata_Columns(t *testing.T) {
	cols := Metadata{}.Columns("avatar")
	assert.Len(t, cols, 5)
	assert.Nil(t, cols["avatar_file_name"])

	cols = Metadata{FileName: "a.png", ContentType: "image/png", FileSize: 3, UpdatedAt: fixedNow}.Columns("avatar")
	assert.Equal(t, "a.png", cols["avatar_file_name"])
	assert.Equal(t, int64(3), cols["avatar_file_size"])
	assert.Equal(t, fixedNow, cols["avatar_updated_at"])
	assert.Nil(t, cols["avatar_fingerprint"])
}

func TestDefinition_Validate(t *testing.T) {
	d := NewDefinition("avatar")
	require.NoError(t, d.Validate())

	d.DefaultStyle = "thumb"
	assert.Error(t, d.Validate())

	d = NewDefinition("")
	assert.Error(t, d.Validate())

	d = NewDefinition("avatar")
	d.StyleFailure = "explode"
	assert.Error(t, d.Validate())

	p, err := ParseStyleFailurePolicy(" Abort ")
	require.NoError(t, err)
	assert.Equal(t, StyleFailureAbort, p)
}

func TestValidators(t *testing.T) {
	ctx := context.Background()
	present := Subject{Present: true, FileName: "a.png", ContentType: "image/png", Size: 100}

	assert.Error(t, Presence{}.Validate(ctx, Subject{}))
	assert.NoError(t, Presence{}.Validate(ctx, present))

	assert.NoError(t, ContentType{Allow: []string{"image/*"}}.Validate(ctx, present))
	assert.Error(t, ContentType{Allow: []string{"text/plain"}}.Validate(ctx, present))
	assert.Error(t, ContentType{Deny: []string{"image/png"}}.Validate(ctx, present))
	assert.NoError(t, ContentType{Allow: []string{"text/plain"}}.Validate(ctx, Subject{}))

	assert.NoError(t, Size{Min: 1, Max: 100}.Validate(ctx, present))
	assert.Error(t, Size{Min: 101}.Validate(ctx, present))
	assert.Error(t, Size{Max: 99}.Validate(ctx, present))
}
