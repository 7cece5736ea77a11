package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"attachr/internal/command"
	"attachr/internal/geometry"
	"attachr/internal/style"
	"attachr/internal/upload"
)

// animatedFormats 是可保留多帧的输出格式。
var animatedFormats = map[string]bool{".gif": true}

// Thumbnail 调用 ImageMagick convert 缩放并裁剪图片。
type Thumbnail struct {
	Runner   command.Runner
	Geometry geometry.Detector
	// Whiny 为 true 时保留 convert 的错误输出并放入 Error。
	Whiny   bool
	TempDir string
	Logger  *slog.Logger
}

func (t *Thumbnail) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

func (t *Thumbnail) Make(ctx context.Context, src *upload.File, spec style.Spec) (string, error) {
	if !needsTransform(src, spec) {
		return passThrough(t.TempDir, src, spec)
	}

	line, vars, err := t.commandFor(ctx, src, spec)
	if err != nil {
		return "", err
	}

	dst, err := newOutput(t.TempDir, src, spec)
	if err != nil {
		return "", err
	}
	vars["dest"] = dst
	if spec.Format != "" {
		vars["dest"] = strings.TrimPrefix(strings.ToLower(spec.Format), ".") + ":" + dst
	}

	_, err = t.Runner.Run(ctx, "convert", line, vars, command.Options{SwallowStderr: !t.Whiny})
	if err != nil {
		os.Remove(dst)
		return "", t.wrap(src, spec, err)
	}
	return dst, nil
}

// commandFor 构造 convert 的参数模板。用户数据只经由 vars 传入。
func (t *Thumbnail) commandFor(ctx context.Context, src *upload.File, spec style.Spec) (string, command.Vars, error) {
	vars := command.Vars{}
	var parts []string
	if spec.SourceFileOptions != "" {
		parts = append(parts, spec.SourceFileOptions)
	}

	animated := t.animated(src, spec)
	if animated {
		vars["source"] = src.Path()
	} else {
		vars["source"] = src.Path() + "[0]"
	}
	parts = append(parts, ":source")

	if animated {
		parts = append(parts, "-coalesce")
	}
	if spec.AutoOrientEnabled() {
		parts = append(parts, "-auto-orient")
	}

	if strings.TrimSpace(spec.Geometry) != "" {
		target, err := geometry.Parse(spec.Geometry)
		if err != nil {
			return "", nil, &Error{Style: spec.Name, File: baseName(src), Msg: "invalid geometry", Err: err}
		}

		var current geometry.Geometry
		if target.Crop() {
			current, err = t.detect(ctx, src, spec)
			if err != nil {
				return "", nil, err
			}
		}

		scale, crop := current.Transformation(target, target.Crop())
		vars["scale"] = scale
		parts = append(parts, "-scale", ":scale")
		if crop != "" {
			vars["crop"] = crop
			parts = append(parts, "-crop", ":crop", "+repage")
		}
	}

	if spec.ConvertOptions != "" {
		parts = append(parts, spec.ConvertOptions)
	}
	parts = append(parts, ":dest")
	return strings.Join(parts, " "), vars, nil
}

func (t *Thumbnail) detect(ctx context.Context, src *upload.File, spec style.Spec) (geometry.Geometry, error) {
	if t.Geometry == nil {
		return geometry.Geometry{}, fmt.Errorf("thumbnail: geometry detector uninitialized")
	}
	g, err := t.Geometry.Detect(ctx, src.Path())
	if err != nil {
		if errors.Is(err, geometry.ErrNotIdentified) {
			return geometry.Geometry{}, &Error{Style: spec.Name, File: baseName(src), Msg: "does not contain a valid image", Err: err}
		}
		return geometry.Geometry{}, t.wrap(src, spec, err)
	}
	if spec.AutoOrientEnabled() {
		g.AutoOrient()
	}
	return g, nil
}

func (t *Thumbnail) animated(src *upload.File, spec style.Spec) bool {
	if !spec.AnimatedEnabled() {
		return false
	}
	return animatedFormats[strings.ToLower(spec.Extension(src.OriginalFilename()))] &&
		src.ContentType() == "image/gif"
}

// wrap 将命令错误转换为 Error。命令缺失与非法插值保留原错误链，调用方据此立即失败。
func (t *Thumbnail) wrap(src *upload.File, spec style.Spec, err error) error {
	name := baseName(src)
	switch {
	case errors.Is(err, command.ErrReservedKey):
		return err
	case errors.Is(err, command.ErrNotFound):
		return &Error{Style: spec.Name, File: name, Msg: "could not be thumbnailed, is ImageMagick installed?", Err: err}
	case errors.Is(err, syscall.EPIPE):
		return &Error{Style: spec.Name, File: name, Msg: "could not be thumbnailed, is ImageMagick installed?", Err: err}
	}

	var exitErr *command.ExitError
	if errors.As(err, &exitErr) {
		t.logger().Warn("convert failed", "file", name, "style", spec.Name, "code", exitErr.Code)
		return &Error{Style: spec.Name, File: name, Msg: "there was an error processing the thumbnail", Err: err}
	}
	return &Error{Style: spec.Name, File: name, Msg: "processing failed", Err: err}
}
