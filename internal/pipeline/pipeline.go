// Package pipeline converts decoded images into the fixed-shape tensors an
// AnimeGAN generator expects, and converts the generator output back into an
// image at the caller's original resolution.
package pipeline

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

const (
	InputHeight = 512
	InputWidth  = 512
)

var (
	ErrInvalidImageDimensions = errors.New("invalid image dimensions")
	ErrInference              = errors.New("inference failed")
)

// ResizeMode selects how a source image is fitted to the network input.
type ResizeMode int

const (
	// Stretch resizes straight to the network input size.
	Stretch ResizeMode = iota
	// Multiple32 rounds each side down to a multiple of 32, with a floor of 256.
	Multiple32
	// Letterbox scales uniformly and centers the result on a black canvas.
	Letterbox
)

func (m ResizeMode) String() string {
	switch m {
	case Stretch:
		return "stretch"
	case Multiple32:
		return "x32"
	case Letterbox:
		return "keep"
	}
	return fmt.Sprintf("ResizeMode(%d)", int(m))
}

// ParseResizeMode accepts "stretch" (or ""), "x32" and "keep" (or "letterbox").
func ParseResizeMode(s string) (ResizeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stretch":
		return Stretch, nil
	case "x32":
		return Multiple32, nil
	case "keep", "letterbox":
		return Letterbox, nil
	}
	return Stretch, fmt.Errorf("unknown resize mode %q", s)
}

// Size is a height/width pair.
type Size struct {
	Height int
	Width  int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

var interpolations = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// Options configures a Pipeline. Zero values select the defaults.
type Options struct {
	Interpolation string
	Height        int
	Width         int
}

// Pipeline holds the pre- and post-processing settings for one network input size.
type Pipeline struct {
	interp resize.InterpolationFunction
	height int
	width  int
}

// New creates a Pipeline from opts.
func New(opts Options) (*Pipeline, error) {
	name := strings.ToLower(opts.Interpolation)
	if name == "" {
		name = "bilinear"
	}
	interp, ok := interpolations[name]
	if !ok {
		return nil, fmt.Errorf("unknown interpolation %q", opts.Interpolation)
	}

	p := &Pipeline{interp: interp, height: opts.Height, width: opts.Width}
	if p.height <= 0 {
		p.height = InputHeight
	}
	if p.width <= 0 {
		p.width = InputWidth
	}
	return p, nil
}

// Default returns a 512x512 bilinear pipeline.
func Default() *Pipeline {
	return &Pipeline{interp: resize.Bilinear, height: InputHeight, width: InputWidth}
}

// Preprocess fits img to the network input according to mode and returns the
// (1,3,H,W) tensor together with the padding offsets and the pre-pad size.
// Padding is zero unless mode is Letterbox.
func (p *Pipeline) Preprocess(img image.Image, mode ResizeMode) (*Tensor, Size, Size, error) {
	b := img.Bounds()
	imH, imW := b.Dy(), b.Dx()
	if imH <= 0 || imW <= 0 {
		return nil, Size{}, Size{}, fmt.Errorf("%w: %dx%d", ErrInvalidImageDimensions, imW, imH)
	}
	src := imaging.Clone(img)
	// Alpha is dropped; transparent pixels keep their stored color.
	for i := 3; i < len(src.Pix); i += 4 {
		src.Pix[i] = 0xff
	}

	var (
		canvas  *image.NRGBA
		pad     Size
		resized Size
	)
	switch mode {
	case Stretch:
		resized = Size{Height: p.height, Width: p.width}
		canvas = p.resize(src, resized)
	case Multiple32:
		resized = Size{Height: to32s(imH), Width: to32s(imW)}
		canvas = p.resize(src, resized)
	case Letterbox:
		r := math.Min(float64(p.height)/float64(imH), float64(p.width)/float64(imW))
		resized = Size{
			Height: max(1, int(float64(imH)*r)),
			Width:  max(1, int(float64(imW)*r)),
		}
		pad = Size{Height: (p.height - resized.Height) / 2, Width: (p.width - resized.Width) / 2}
		canvas = imaging.New(p.width, p.height, color.NRGBA{A: 255})
		canvas = imaging.Paste(canvas, p.resize(src, resized), image.Pt(pad.Width, pad.Height))
	default:
		return nil, Size{}, Size{}, fmt.Errorf("unsupported resize mode %v", mode)
	}

	return toTensor(canvas), pad, resized, nil
}

// Postprocess turns a (3,H,W) or (1,3,H,W) network output into an opaque
// image of size original. When the input was letterboxed (resized smaller
// than the output, or a non-zero pad) only the resized region inside the
// padding is scaled back; otherwise the whole output is.
func (p *Pipeline) Postprocess(out *Tensor, original, pad, resized Size) (*image.NRGBA, error) {
	c, h, w, err := out.chw()
	if err != nil {
		return nil, err
	}
	if c != 3 {
		return nil, fmt.Errorf("%w: expected 3 channels, got %d", ErrInference, c)
	}
	if original.Height <= 0 || original.Width <= 0 {
		return nil, fmt.Errorf("%w: target %s", ErrInvalidImageDimensions, original)
	}

	full := image.Rect(0, 0, w, h)
	region := full
	letterboxed := resized != (Size{}) && (resized.Height != h || resized.Width != w)
	if letterboxed || pad != (Size{}) {
		region = image.Rect(pad.Width, pad.Height, pad.Width+resized.Width, pad.Height+resized.Height)
		if region.Empty() || !region.In(full) {
			return nil, fmt.Errorf("%w: region %v outside output %v", ErrInvalidImageDimensions, region, full)
		}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, original.Width, original.Height))
	plane := h * w
	for ch := 0; ch < 3; ch++ {
		scaled := resizePlane(out.Data[ch*plane:(ch+1)*plane], w, region, original.Width, original.Height)
		for i, v := range scaled {
			dst.Pix[i*4+ch] = denormalize(v)
		}
	}
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst, nil
}

func (p *Pipeline) resize(img *image.NRGBA, s Size) *image.NRGBA {
	return imaging.Clone(resize.Resize(uint(s.Width), uint(s.Height), img, p.interp))
}

func to32s(x int) int {
	if x < 256 {
		return 256
	}
	return x - x%32
}

// toTensor normalizes to [-1,1] and lays the pixels out channel-first with a
// leading batch dimension.
func toTensor(img *image.NRGBA) *Tensor {
	h, w := img.Rect.Dy(), img.Rect.Dx()
	t := NewTensor(1, 3, int64(h), int64(w))
	plane := h * w
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			i := y*w + x
			t.Data[i] = float32(px[0])/127.5 - 1
			t.Data[plane+i] = float32(px[1])/127.5 - 1
			t.Data[2*plane+i] = float32(px[2])/127.5 - 1
		}
	}
	return t
}

func denormalize(v float32) uint8 {
	if v < -1 {
		v = -1
	} else if v > 1 {
		v = 1
	}
	return uint8(float64(v)*127.5 + 127.5 + 0.5)
}
