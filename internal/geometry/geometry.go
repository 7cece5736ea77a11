// Package geometry 解析与计算 ImageMagick 风格的尺寸描述，例如 "100x50#"、"200x200>"。
package geometry

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrInvalid 表示尺寸字符串无法解析。
	ErrInvalid = errors.New("geometry: invalid geometry")

	// ErrNotIdentified 表示无法从文件中识别出图片尺寸。
	ErrNotIdentified = errors.New("geometry: could not identify image size")
)

// format 匹配 宽x高[,方向][修饰符]，宽或高可省略。
var format = regexp.MustCompile(`(?i)\b(\d*)x?(\d*)\b(?:,(\d?))?(@>|>@|[><#@%^!])?`)

// rotatedOrientations 是需要交换宽高的 EXIF 方向值。
var rotatedOrientations = map[int]bool{5: true, 6: true, 7: true, 8: true}

type Geometry struct {
	Width       float64
	Height      float64
	Modifier    string
	Orientation int
}

// New 构造不带修饰符的尺寸。
func New(width, height float64) Geometry {
	return Geometry{Width: width, Height: height}
}

// Parse 解析尺寸描述。宽高都缺失时返回 ErrInvalid。
func Parse(s string) (Geometry, error) {
	m := format.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || (m[1] == "" && m[2] == "") {
		return Geometry{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	g := Geometry{Modifier: m[4]}
	g.Width = parseFloat(m[1])
	g.Height = parseFloat(m[2])
	if m[3] != "" {
		g.Orientation, _ = strconv.Atoi(m[3])
	}
	return g, nil
}

// ParseDetected 解析识别工具的输出，要求宽高均为正数。
func ParseDetected(s string) (Geometry, error) {
	g, err := Parse(s)
	if err != nil || g.Width <= 0 || g.Height <= 0 {
		return Geometry{}, fmt.Errorf("%w: %q", ErrNotIdentified, s)
	}
	return g, nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// AutoOrient 对旋转过的 EXIF 方向交换宽高。
func (g *Geometry) AutoOrient() {
	if rotatedOrientations[g.Orientation] {
		g.Width, g.Height = g.Height, g.Width
		g.Orientation -= 4
	}
}

func (g Geometry) Square() bool     { return g.Height == g.Width }
func (g Geometry) Horizontal() bool { return g.Height < g.Width }
func (g Geometry) Vertical() bool   { return g.Height > g.Width }
func (g Geometry) Aspect() float64  { return g.Width / g.Height }
func (g Geometry) Larger() float64  { return math.Max(g.Width, g.Height) }
func (g Geometry) Smaller() float64 { return math.Min(g.Width, g.Height) }

// Crop 表示修饰符为填充裁剪（#）。
func (g Geometry) Crop() bool { return g.Modifier == "#" }

// String 以整数（截断）输出，省略为零的维度。
func (g Geometry) String() string {
	var sb strings.Builder
	if g.Width > 0 {
		sb.WriteString(strconv.Itoa(int(g.Width)))
	}
	if g.Height > 0 {
		sb.WriteString("x")
		sb.WriteString(strconv.Itoa(int(g.Height)))
	}
	sb.WriteString(g.Modifier)
	return sb.String()
}

// Transformation 返回从当前尺寸变换到 dst 所需的缩放与裁剪参数。
// crop 为 false 时裁剪参数为空，缩放参数即 dst 本身。
//
// 比例相等时按横向处理：缩放到目标宽度，再在纵向居中裁剪。
func (g Geometry) Transformation(dst Geometry, crop bool) (scale, cropping string) {
	if !crop {
		return dst.String(), ""
	}

	ratio := New(dst.Width/g.Width, dst.Height/g.Height)
	if ratio.Horizontal() || ratio.Square() {
		factor := ratio.Width
		scale = fmt.Sprintf("%dx", int(dst.Width))
		cropping = fmt.Sprintf("%dx%d+%d+%d", int(dst.Width), int(dst.Height), 0, int((g.Height*factor-dst.Height)/2))
		return scale, cropping
	}

	factor := ratio.Height
	scale = fmt.Sprintf("x%d", int(dst.Height))
	cropping = fmt.Sprintf("%dx%d+%d+%d", int(dst.Width), int(dst.Height), int((g.Width*factor-dst.Width)/2), 0)
	return scale, cropping
}

// ResizeTo 计算按 spec 缩放后的尺寸。
func (g Geometry) ResizeTo(spec string) (Geometry, error) {
	target, err := Parse(spec)
	if err != nil {
		return Geometry{}, err
	}

	switch target.Modifier {
	case "!", "#":
		return target, nil
	case ">":
		if target.Width >= g.Width && target.Height >= g.Height {
			return g, nil
		}
		return g.scaleTo(target), nil
	case "<":
		if target.Width <= g.Width || target.Height <= g.Height {
			return g, nil
		}
		return g.scaleTo(target), nil
	default:
		return g.scaleTo(target), nil
	}
}

func (g Geometry) scaleTo(target Geometry) Geometry {
	wr := target.Width / g.Width
	hr := target.Height / g.Height
	// 缺失的维度按另一维等比处理
	switch {
	case target.Width <= 0:
		wr = hr
	case target.Height <= 0:
		hr = wr
	}
	scale := math.Min(wr, hr)
	return New(math.Round(g.Width*scale), math.Round(g.Height*scale))
}
