package transcode

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/rosview/rosview-backend/internal/bus"
)

// pixelFormat describes one supported raw encoding label.
type pixelFormat struct {
	channels   int
	bytesPerCh int
	float      bool
	bgr        bool // channel order needs swapping to RGB
}

var rawEncodings = map[string]pixelFormat{
	"rgb8":   {channels: 3, bytesPerCh: 1},
	"bgr8":   {channels: 3, bytesPerCh: 1, bgr: true},
	"rgba8":  {channels: 4, bytesPerCh: 1},
	"bgra8":  {channels: 4, bytesPerCh: 1, bgr: true},
	"mono8":  {channels: 1, bytesPerCh: 1},
	"8uc1":   {channels: 1, bytesPerCh: 1},
	"mono16": {channels: 1, bytesPerCh: 2},
	"16uc1":  {channels: 1, bytesPerCh: 2},
	"32fc1":  {channels: 1, bytesPerCh: 4, float: true},
	"32fc3":  {channels: 3, bytesPerCh: 4, float: true},
}

func rawImage(m *bus.Message) map[string]any {
	wv, _ := m.Get("width")
	hv, _ := m.Get("height")
	sv, _ := m.Get("step")
	ev, _ := m.Get("encoding")
	dv, _ := m.Get("data")

	width64, wok := bus.AsInt(wv)
	height64, hok := bus.AsInt(hv)
	encoding, eok := bus.AsString(ev)
	data, dok := bus.AsBytes(dv)
	if !wok || !hok || !eok || !dok {
		return errorTree(m, len(data), fmt.Errorf("malformed image fields"))
	}
	w, h := int(width64), int(height64)

	pf, ok := rawEncodings[strings.ToLower(encoding)]
	if !ok {
		return errorTree(m, len(data), fmt.Errorf("unsupported encoding %q", encoding))
	}

	step := w * pf.channels * pf.bytesPerCh
	if s, sok := bus.AsInt(sv); sok && int(s) >= step {
		step = int(s)
	}
	if w <= 0 || h <= 0 || len(data) < (h-1)*step+w*pf.channels*pf.bytesPerCh {
		return errorTree(m, len(data), fmt.Errorf("image payload too short for %dx%d %s", w, h, encoding))
	}

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	switch {
	case pf.float && pf.channels == 1:
		floatMonoToRGBA(rgba, data, w, h, step)
	case pf.float:
		floatColorToRGBA(rgba, data, w, h, step)
	case pf.channels == 1 && pf.bytesPerCh == 2:
		mono16ToRGBA(rgba, data, w, h, step)
	case pf.channels == 1:
		mono8ToRGBA(rgba, data, w, h, step)
	default:
		interleavedToRGBA(rgba, data, w, h, step, pf)
	}

	jp, err := encodeJPEG(rgba)
	if err != nil {
		// No encoder output is never an option; ship an uncompressed bitmap.
		return map[string]any{"_type": m.Type, "format": "bmp", "data": b64(encodeBMP(rgba)), "width": w, "height": h}
	}
	return map[string]any{"_type": m.Type, "format": "jpeg", "data": b64(jp), "width": w, "height": h}
}

func setRGB(rgba *image.RGBA, x, y int, r, g, b uint8) {
	p := rgba.PixOffset(x, y)
	rgba.Pix[p] = r
	rgba.Pix[p+1] = g
	rgba.Pix[p+2] = b
	rgba.Pix[p+3] = 0xff
}

func interleavedToRGBA(rgba *image.RGBA, data []byte, w, h, step int, pf pixelFormat) {
	px := pf.channels * pf.bytesPerCh
	for y := 0; y < h; y++ {
		row := data[y*step:]
		for x := 0; x < w; x++ {
			s := row[x*px:]
			r, g, b := s[0], s[1], s[2]
			if pf.bgr {
				r, b = b, r
			}
			setRGB(rgba, x, y, r, g, b)
		}
	}
}

// mono8ToRGBA colormaps single-channel images; grayscale depth and
// intensity read far better through the LUT than as raw gray.
func mono8ToRGBA(rgba *image.RGBA, data []byte, w, h, step int) {
	for y := 0; y < h; y++ {
		row := data[y*step:]
		for x := 0; x < w; x++ {
			c := turboLUT[row[x]]
			setRGB(rgba, x, y, c[0], c[1], c[2])
		}
	}
}

// mono16ToRGBA scales 16-bit samples by 1/256 and colormaps.
func mono16ToRGBA(rgba *image.RGBA, data []byte, w, h, step int) {
	for y := 0; y < h; y++ {
		row := data[y*step:]
		for x := 0; x < w; x++ {
			v := binary.LittleEndian.Uint16(row[x*2:]) / 256
			c := turboLUT[uint8(v)]
			setRGB(rgba, x, y, c[0], c[1], c[2])
		}
	}
}

func floatMonoToRGBA(rgba *image.RGBA, data []byte, w, h, step int) {
	vals := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := data[y*step:]
		for x := 0; x < w; x++ {
			vals[y*w+x] = float64(math.Float32frombits(binary.LittleEndian.Uint32(row[x*4:])))
		}
	}
	lo, hi, ok := minMax(vals)
	for i, v := range vals {
		var c [3]uint8
		if ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			c = turbo(stretch(v, lo, hi))
		}
		setRGB(rgba, i%w, i/w, c[0], c[1], c[2])
	}
}

func floatColorToRGBA(rgba *image.RGBA, data []byte, w, h, step int) {
	vals := make([]float64, w*h*3)
	for y := 0; y < h; y++ {
		row := data[y*step:]
		for x := 0; x < w; x++ {
			for ch := 0; ch < 3; ch++ {
				vals[(y*w+x)*3+ch] = float64(math.Float32frombits(binary.LittleEndian.Uint32(row[(x*3+ch)*4:])))
			}
		}
	}
	lo, hi, ok := minMax(vals)
	for i := 0; i < w*h; i++ {
		var r, g, b uint8
		if ok {
			r = clamp8(stretch(vals[i*3], lo, hi) * 255)
			g = clamp8(stretch(vals[i*3+1], lo, hi) * 255)
			b = clamp8(stretch(vals[i*3+2], lo, hi) * 255)
		}
		setRGB(rgba, i%w, i/w, r, g, b)
	}
}
