package transcode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"

	"github.com/rosview/rosview-backend/internal/bus"
)

// compressedDepthHeaderLen is the depth transport's prefix: a 4-byte
// format enum followed by the two float32 quantization parameters.
const compressedDepthHeaderLen = 12

func compressedImage(m *bus.Message) map[string]any {
	fv, _ := m.Get("format")
	dv, _ := m.Get("data")
	format, _ := bus.AsString(fv)
	data, _ := bus.AsBytes(dv)

	if len(data) == 0 {
		return map[string]any{
			"_type":           m.Type,
			"warning":         "empty payload: publisher may be failing to compress",
			"original_format": format,
		}
	}

	lower := strings.ToLower(format)
	switch {
	// "compressedDepth png" also contains "png": the combined label must
	// win, so it is checked first.
	case strings.Contains(lower, "compresseddepth"):
		return compressedDepth(m, format, data)
	case strings.Contains(lower, "jpeg") || strings.Contains(lower, "jpg"):
		return passthroughImage(m, format, "jpeg", data)
	case strings.Contains(lower, "png"):
		return passthroughImage(m, format, "png", data)
	default:
		return passthroughImage(m, format, "jpeg", data)
	}
}

func passthroughImage(m *bus.Message, original, normalized string, data []byte) map[string]any {
	return map[string]any{
		"_type":           m.Type,
		"format":          normalized,
		"data":            b64(data),
		"original_format": original,
	}
}

// compressedDepth decodes the depth transport: quantization header, then a
// PNG holding either quantized inverse depth (declared 32FC1) or raw
// 16-bit depth. Output is a colormapped JPEG; any decode failure yields a
// metadata-only diagnostic.
func compressedDepth(m *bus.Message, format string, data []byte) map[string]any {
	if len(data) <= compressedDepthHeaderLen {
		return errorTree(m, len(data), fmt.Errorf("compressed depth payload too short (%d bytes)", len(data)))
	}
	quantA := math.Float32frombits(binary.LittleEndian.Uint32(data[4:8]))
	quantB := math.Float32frombits(binary.LittleEndian.Uint32(data[8:12]))

	img, err := png.Decode(bytes.NewReader(data[compressedDepthHeaderLen:]))
	if err != nil {
		return errorTree(m, len(data), fmt.Errorf("compressed depth png decode: %v", err))
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return errorTree(m, len(data), fmt.Errorf("compressed depth image is empty"))
	}

	inverse := strings.Contains(strings.ToLower(format), "32fc1")
	depths := decodeDepths(img, quantA, quantB, inverse)
	out := depthToJPEG(depths, w, h)
	out["_type"] = m.Type
	out["original_format"] = format
	return out
}

// decodeDepths recovers per-pixel depth from the decoded PNG. Zero pixels
// are "no reading": excluded from the stretch and rendered as zero. When
// inverse is set the samples are quantized inverse depth and recover as
// quantA / (v - quantB).
func decodeDepths(img image.Image, quantA, quantB float32, inverse bool) []float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	depths := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := rawGray(img, bounds.Min.X+x, bounds.Min.Y+y)
			if v == 0 {
				continue
			}
			if inverse {
				depths[y*w+x] = float64(quantA) / (float64(v) - float64(quantB))
			} else {
				depths[y*w+x] = float64(v)
			}
		}
	}
	return depths
}

// rawGray returns the raw sample value for 8/16-bit grayscale images,
// falling back to the converted 16-bit luminance for anything else.
func rawGray(img image.Image, x, y int) uint32 {
	switch im := img.(type) {
	case *image.Gray16:
		return uint32(im.Gray16At(x, y).Y)
	case *image.Gray:
		return uint32(im.GrayAt(x, y).Y)
	default:
		g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
		return uint32(g.Y)
	}
}

// depthToJPEG min/max-stretches valid depths over the finite positive set,
// colormaps, and JPEG-encodes. A degenerate valid set renders all-zero.
func depthToJPEG(depths []float64, w, h int) map[string]any {
	valid := make([]float64, 0, len(depths))
	for _, d := range depths {
		if d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d) {
			valid = append(valid, d)
		}
	}
	lo, hi, ok := minMax(valid)
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, d := range depths {
		var c [3]uint8
		if ok && d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d) {
			c = turbo(stretch(d, lo, hi))
		}
		x, y := i%w, i/w
		p := rgba.PixOffset(x, y)
		rgba.Pix[p] = c[0]
		rgba.Pix[p+1] = c[1]
		rgba.Pix[p+2] = c[2]
		rgba.Pix[p+3] = 0xff
	}
	jp, err := encodeJPEG(rgba)
	if err != nil {
		return map[string]any{"format": "bmp", "data": b64(encodeBMP(rgba)), "width": w, "height": h}
	}
	return map[string]any{"format": "jpeg", "data": b64(jp), "width": w, "height": h}
}
