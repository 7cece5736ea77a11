package processor

import (
	"context"
	"fmt"
	"image"
	"os"
	"strings"

	"attachr/internal/geometry"
	"attachr/internal/style"
	"attachr/internal/upload"

	"github.com/disintegration/imaging"
)

// Native 在进程内按相同的尺寸语义缩放与裁剪，不依赖外部命令。
type Native struct {
	TempDir string
}

func (n *Native) Make(ctx context.Context, src *upload.File, spec style.Spec) (string, error) {
	if !needsTransform(src, spec) {
		return passThrough(n.TempDir, src, spec)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := baseName(src)
	ext := spec.Extension(src.OriginalFilename())
	if _, err := imaging.FormatFromExtension(ext); err != nil {
		return "", &Error{Style: spec.Name, File: name, Msg: "unsupported output format " + ext, Err: err}
	}

	img, err := imaging.Open(src.Path(), imaging.AutoOrientation(spec.AutoOrientEnabled()))
	if err != nil {
		return "", &Error{Style: spec.Name, File: name, Msg: "does not contain a valid image", Err: fmt.Errorf("%w: %v", geometry.ErrNotIdentified, err)}
	}

	if strings.TrimSpace(spec.Geometry) != "" {
		img, err = n.transform(img, spec)
		if err != nil {
			return "", &Error{Style: spec.Name, File: name, Msg: "there was an error processing the thumbnail", Err: err}
		}
	}

	dst, err := newOutput(n.TempDir, src, spec)
	if err != nil {
		return "", err
	}
	if err := imaging.Save(img, dst); err != nil {
		os.Remove(dst)
		return "", &Error{Style: spec.Name, File: name, Msg: "could not encode output", Err: err}
	}
	return dst, nil
}

// transform 复用 Transformation/ResizeTo 的计算结果，保证与 convert 输出尺寸一致。
func (n *Native) transform(img image.Image, spec style.Spec) (image.Image, error) {
	target, err := geometry.Parse(spec.Geometry)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	current := geometry.New(float64(bounds.Dx()), float64(bounds.Dy()))

	if target.Crop() {
		scale, crop := current.Transformation(target, true)
		sg, err := geometry.Parse(scale)
		if err != nil {
			return nil, err
		}
		scaled := imaging.Resize(img, int(sg.Width), int(sg.Height), imaging.Lanczos)
		rect, err := parseCrop(crop)
		if err != nil {
			return nil, err
		}
		return imaging.Crop(scaled, rect), nil
	}

	resized, err := current.ResizeTo(spec.Geometry)
	if err != nil {
		return nil, err
	}
	w, h := int(resized.Width), int(resized.Height)
	if w == bounds.Dx() && h == bounds.Dy() {
		return img, nil
	}
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}

func parseCrop(s string) (image.Rectangle, error) {
	var w, h, x, y int
	if _, err := fmt.Sscanf(s, "%dx%d+%d+%d", &w, &h, &x, &y); err != nil {
		return image.Rectangle{}, fmt.Errorf("parse crop %q: %w", s, err)
	}
	return image.Rect(x, y, x+w, y+h), nil
}
