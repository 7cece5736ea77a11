package geometry

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"
	"strings"

	"attachr/internal/command"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Detector 识别文件的图片尺寸。
type Detector interface {
	Detect(ctx context.Context, path string) (Geometry, error)
}

// IdentifyDetector 调用 ImageMagick identify 识别首帧尺寸。
type IdentifyDetector struct {
	Runner             command.Runner
	UseExifOrientation bool
}

func (d *IdentifyDetector) Detect(ctx context.Context, path string) (Geometry, error) {
	if strings.TrimSpace(path) == "" {
		return Geometry{}, fmt.Errorf("%w: cannot find the geometry of a file with a blank name", ErrNotIdentified)
	}

	orientation := "1"
	if d.UseExifOrientation {
		orientation = "%[exif:orientation]"
	}

	out, err := d.Runner.Run(ctx, "identify", "-format '%wx%h,"+orientation+"' :file",
		command.Vars{"file": path + "[0]"}, command.Options{SwallowStderr: true})
	if err != nil {
		var exitErr *command.ExitError
		if errors.As(err, &exitErr) {
			return Geometry{}, fmt.Errorf("%w: %s", ErrNotIdentified, path)
		}
		if errors.Is(err, command.ErrNotFound) {
			return Geometry{}, fmt.Errorf("could not run the identify command, please install ImageMagick: %w", err)
		}
		return Geometry{}, err
	}

	return ParseDetected(strings.TrimSpace(out))
}

// NativeDetector 在进程内解码图片头识别尺寸，不读取 EXIF 方向。
type NativeDetector struct{}

func (NativeDetector) Detect(ctx context.Context, path string) (Geometry, error) {
	if strings.TrimSpace(path) == "" {
		return Geometry{}, fmt.Errorf("%w: cannot find the geometry of a file with a blank name", ErrNotIdentified)
	}
	f, err := os.Open(path)
	if err != nil {
		return Geometry{}, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return Geometry{}, fmt.Errorf("%w: %s", ErrNotIdentified, path)
	}
	return Geometry{Width: float64(cfg.Width), Height: float64(cfg.Height), Orientation: 1}, nil
}

// CachedDetector 以文件身份（路径、大小、修改时间）缓存识别结果。
type CachedDetector struct {
	next  Detector
	cache *lru.Cache[string, Geometry]
}

func NewCachedDetector(next Detector, size int) (*CachedDetector, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, Geometry](size)
	if err != nil {
		return nil, fmt.Errorf("create geometry cache: %w", err)
	}
	return &CachedDetector{next: next, cache: cache}, nil
}

func (d *CachedDetector) Detect(ctx context.Context, path string) (Geometry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return d.next.Detect(ctx, path)
	}
	key := path + "|" + strconv.FormatInt(info.Size(), 10) + "|" + strconv.FormatInt(info.ModTime().UnixNano(), 10)
	if g, ok := d.cache.Get(key); ok {
		return g, nil
	}
	g, err := d.next.Detect(ctx, path)
	if err != nil {
		return Geometry{}, err
	}
	d.cache.Add(key, g)
	return g, nil
}
