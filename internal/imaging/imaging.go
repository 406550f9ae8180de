// Package imaging holds the pixel work shared by the extraction engines:
// decoding, payload optimization for the vision model and field-region
// binarization for tesseract.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// SoftPayloadLimit is the advisory total size for images sent to the vision model.
const SoftPayloadLimit = 20 << 20

var ErrUnsupportedImage = errors.New("unsupported image")

// Decode decodes JPEG, PNG, GIF, BMP or WebP bytes.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return img, format, nil
}

func DecodeFile(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, _, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Size returns the pixel dimensions of encoded image bytes without a full decode.
func Size(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return cfg.Width, cfg.Height, nil
}

// Optimize flattens transparency onto white, bounds the longest side to
// maxDim and re-encodes as JPEG at quality.
func Optimize(data []byte, maxDim, quality int) ([]byte, error) {
	src, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	flat := Flatten(src)

	var out image.Image = flat
	w, h := flat.Rect.Dx(), flat.Rect.Dy()
	if maxDim > 0 && (w > maxDim || h > maxDim) {
		nw, nh := fitWithin(w, h, maxDim)
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), flat, flat.Bounds(), xdraw.Src, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Flatten composites img onto an opaque white canvas anchored at (0, 0).
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	flat := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, b.Min, draw.Over)
	return flat
}

func fitWithin(w, h, maxDim int) (int, int) {
	if w >= h {
		nh := h * maxDim / w
		return maxDim, max(nh, 1)
	}
	nw := w * maxDim / h
	return max(nw, 1), maxDim
}

// Crop returns the part of img inside r, clipped to the image bounds.
// ok is false when nothing is left after clipping.
func Crop(img image.Image, r image.Rectangle) (image.Image, bool) {
	r = r.Canon().Intersect(img.Bounds())
	if r.Empty() {
		return nil, false
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst, true
}

// Grayscale converts img to 8-bit luma.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// Blur3x3 applies the 3x3 Gaussian kernel [1 2 1; 2 4 2; 1 2 1]/16 with
// reflected borders.
func Blur3x3(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}
	k := [3]int{1, 2, 1}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					sum += k[dy+1] * k[dx+1] * int(grayAt(src, reflect(x+dx, w), reflect(y+dy, h)))
				}
			}
			dst.Pix[y*dst.Stride+x] = uint8((sum + 8) / 16)
		}
	}
	return dst
}

// AdaptiveThreshold binarizes src against the mean of each pixel's
// block x block neighbourhood minus c. Pixels above the local threshold
// become white.
func AdaptiveThreshold(src *image.Gray, block, c int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}
	if block < 3 {
		block = 3
	}
	half := block / 2

	// summed-area table with a zero row/column
	integral := make([]int64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var row int64
		for x := 0; x < w; x++ {
			row += int64(grayAt(src, x, y))
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + row
		}
	}
	for y := 0; y < h; y++ {
		y0, y1 := max(y-half, 0), min(y+half+1, h)
		for x := 0; x < w; x++ {
			x0, x1 := max(x-half, 0), min(x+half+1, w)
			sum := integral[y1*(w+1)+x1] - integral[y0*(w+1)+x1] - integral[y1*(w+1)+x0] + integral[y0*(w+1)+x0]
			n := int64((y1 - y0) * (x1 - x0))
			mean := float64(sum) / float64(n)
			if float64(grayAt(src, x, y)) > mean-float64(c) {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}

// FixedThreshold sets pixels brighter than t to white and the rest to black.
func FixedThreshold(src *image.Gray, t uint8) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if grayAt(src, x, y) > t {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}

// grayAt reads the pixel at (x, y) relative to g.Rect.Min.
func grayAt(g *image.Gray, x, y int) uint8 {
	return g.Pix[y*g.Stride+x]
}

// reflect maps out-of-range indices back into [0, n) without repeating the edge pixel.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// WritePNG writes img to path as PNG.
func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodePNG(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Binarization parameters for field regions.
const (
	AdaptiveBlock = 29
	AdaptiveC     = 5
	FixedLevel    = 170
)

// Binarize runs the OCR preprocessing chain on a field region: grayscale,
// 3x3 blur, then adaptive mean thresholding. With adaptive false the
// fixed threshold is used instead of the blur and adaptive step.
func Binarize(img image.Image, adaptive bool) *image.Gray {
	g := Grayscale(img)
	if !adaptive {
		return FixedThreshold(g, FixedLevel)
	}
	return AdaptiveThreshold(Blur3x3(g), AdaptiveBlock, AdaptiveC)
}
