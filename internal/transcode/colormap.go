package transcode

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"image"
	"image/jpeg"
	"math"
)

// 256-entry turbo colormap, filled from the published polynomial
// approximation at init. Used for depth images, intensity fields, and
// height-based point coloring.
var turboLUT [256][3]uint8

func init() {
	for i := 0; i < 256; i++ {
		t := float64(i) / 255.0
		r := 0.13572138 + t*(4.61539260+t*(-42.66032258+t*(132.13108234+t*(-152.94239396+t*59.28637943))))
		g := 0.09140261 + t*(2.19418839+t*(4.84296658+t*(-14.18503333+t*(4.27729857+t*2.82956604))))
		b := 0.10667330 + t*(12.64194608+t*(-60.58204836+t*(110.36276771+t*(-89.90310912+t*27.34824973))))
		turboLUT[i] = [3]uint8{clamp8(r * 255), clamp8(g * 255), clamp8(b * 255)}
	}
}

func clamp8(v float64) uint8 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func turbo(t float64) [3]uint8 {
	if math.IsNaN(t) {
		return turboLUT[0]
	}
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return turboLUT[int(t*255)]
}

// minMax scans for the finite minimum and maximum. ok is false when no
// finite value exists or all finite values are equal (a degenerate
// stretch, rendered as all-zero by callers).
func minMax(vals []float64) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo > hi || lo == hi {
		return lo, hi, false
	}
	return lo, hi, true
}

// stretch maps v into [0,1] over [lo,hi].
func stretch(v, lo, hi float64) float64 {
	return (v - lo) / (hi - lo)
}

const jpegQuality = 70

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeBMP writes a bottom-up 24-bit BMP. Fallback for when JPEG
// encoding fails, so the image pipeline always produces something
// renderable.
func encodeBMP(img *image.RGBA) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	rowSize := (w*3 + 3) &^ 3
	pixelBytes := rowSize * h
	var buf bytes.Buffer
	buf.WriteString("BM")
	writeU32 := func(v uint32) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	writeU16 := func(v uint16) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	writeU32(uint32(14 + 40 + pixelBytes)) // file size
	writeU32(0)
	writeU32(14 + 40) // pixel data offset
	writeU32(40)      // BITMAPINFOHEADER
	writeU32(uint32(w))
	writeU32(uint32(h))
	writeU16(1)
	writeU16(24)
	writeU32(0)
	writeU32(uint32(pixelBytes))
	writeU32(2835)
	writeU32(2835)
	writeU32(0)
	writeU32(0)
	row := make([]byte, rowSize)
	for y := h - 1; y >= 0; y-- {
		for x := 0; x < w; x++ {
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			row[x*3] = img.Pix[i+2] // BGR order
			row[x*3+1] = img.Pix[i+1]
			row[x*3+2] = img.Pix[i]
		}
		buf.Write(row)
	}
	return buf.Bytes()
}

func b64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func floats32LE(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}
