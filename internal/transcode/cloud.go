package transcode

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"

	"github.com/rosview/rosview-backend/internal/bus"
)

// PointField datatype codes, matching the wire declaration.
const (
	dtInt8    = 1
	dtUint8   = 2
	dtInt16   = 3
	dtUint16  = 4
	dtInt32   = 5
	dtUint32  = 6
	dtFloat32 = 7
	dtFloat64 = 8
)

var datatypeSize = map[int]int{
	dtInt8: 1, dtUint8: 1, dtInt16: 2, dtUint16: 2,
	dtInt32: 4, dtUint32: 4, dtFloat32: 4, dtFloat64: 8,
}

type cloudField struct {
	name     string
	offset   int
	datatype int
}

func pointCloud(m *bus.Message) map[string]any {
	wv, _ := m.Get("width")
	hv, _ := m.Get("height")
	sv, _ := m.Get("point_step")
	dv, _ := m.Get("data")
	width, wok := bus.AsInt(wv)
	height, hok := bus.AsInt(hv)
	pointStep, sok := bus.AsInt(sv)
	data, dok := bus.AsBytes(dv)
	if !wok || !hok || !sok || !dok || pointStep <= 0 {
		return errorTree(m, len(data), fmt.Errorf("malformed point cloud fields"))
	}

	fields, err := cloudFields(m)
	if err != nil {
		return errorTree(m, len(data), err)
	}
	fx, okx := fields["x"]
	fy, oky := fields["y"]
	fz, okz := fields["z"]
	if !okx || !oky || !okz {
		return errorTree(m, len(data), fmt.Errorf("point cloud missing x/y/z fields"))
	}

	// Declared count clipped to what the payload actually holds.
	n := int(width * height)
	if avail := len(data) / int(pointStep); avail < n {
		n = avail
	}

	step := int(pointStep)
	positions := make([]float32, 0, 3*n)
	kept := make([]int, 0, n) // byte offsets of kept points, for coloring
	for i := 0; i < n; i++ {
		base := i * step
		x := readComponent(data, base+fx.offset, fx.datatype)
		y := readComponent(data, base+fy.offset, fy.datatype)
		z := readComponent(data, base+fz.offset, fz.datatype)
		if !finite(x) || !finite(y) || !finite(z) {
			continue
		}
		positions = append(positions, float32(x), float32(y), float32(z))
		kept = append(kept, base)
	}

	colors := cloudColors(data, kept, fields, positions)
	positions, colors = samplePoints(positions, colors)
	return pointsTree(m, positions, colors)
}

func cloudFields(m *bus.Message) (map[string]cloudField, error) {
	fv, _ := m.Get("fields")
	msgs, ok := bus.AsMessageSlice(fv)
	if !ok {
		return nil, fmt.Errorf("point cloud fields are not messages")
	}
	out := make(map[string]cloudField, len(msgs))
	for _, fm := range msgs {
		nv, _ := fm.Get("name")
		ov, _ := fm.Get("offset")
		dv, _ := fm.Get("datatype")
		name, nok := bus.AsString(nv)
		offset, ook := bus.AsInt(ov)
		datatype, dok := bus.AsInt(dv)
		if !nok || !ook || !dok {
			continue
		}
		out[name] = cloudField{name: name, offset: int(offset), datatype: int(datatype)}
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func readComponent(data []byte, offset, datatype int) float64 {
	size := datatypeSize[datatype]
	if size == 0 || offset < 0 || offset+size > len(data) {
		return math.NaN()
	}
	switch datatype {
	case dtInt8:
		return float64(int8(data[offset]))
	case dtUint8:
		return float64(data[offset])
	case dtInt16:
		return float64(int16(binary.LittleEndian.Uint16(data[offset:])))
	case dtUint16:
		return float64(binary.LittleEndian.Uint16(data[offset:]))
	case dtInt32:
		return float64(int32(binary.LittleEndian.Uint32(data[offset:])))
	case dtUint32:
		return float64(binary.LittleEndian.Uint32(data[offset:]))
	case dtFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[offset:])))
	case dtFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
	}
	return math.NaN()
}

// cloudColors resolves point colors in priority order: packed rgb/rgba
// field, separate r/g/b fields, intensity through the colormap, then a
// height colormap keyed on z.
func cloudColors(data []byte, kept []int, fields map[string]cloudField, positions []float32) []uint8 {
	colors := make([]uint8, 0, 3*len(kept))

	if f, ok := fields["rgb"]; ok {
		return packedColors(data, kept, f, colors)
	}
	if f, ok := fields["rgba"]; ok {
		return packedColors(data, kept, f, colors)
	}
	if fr, ok := fields["r"]; ok {
		if fg, ok2 := fields["g"]; ok2 {
			if fb, ok3 := fields["b"]; ok3 {
				for _, base := range kept {
					colors = append(colors,
						channelByte(readComponent(data, base+fr.offset, fr.datatype), fr.datatype),
						channelByte(readComponent(data, base+fg.offset, fg.datatype), fg.datatype),
						channelByte(readComponent(data, base+fb.offset, fb.datatype), fb.datatype))
				}
				return colors
			}
		}
	}
	if f, ok := fields["intensity"]; ok {
		vals := make([]float64, len(kept))
		for i, base := range kept {
			vals[i] = readComponent(data, base+f.offset, f.datatype)
		}
		return mappedColors(vals, colors)
	}

	zs := make([]float64, len(kept))
	for i := range kept {
		zs[i] = float64(positions[i*3+2])
	}
	return mappedColors(zs, colors)
}

// packedColors unpacks a 32-bit rgb/rgba field: red in the most
// significant color byte of the u32.
func packedColors(data []byte, kept []int, f cloudField, colors []uint8) []uint8 {
	for _, base := range kept {
		off := base + f.offset
		if off+4 > len(data) {
			colors = append(colors, 0, 0, 0)
			continue
		}
		v := binary.LittleEndian.Uint32(data[off:])
		colors = append(colors, uint8(v>>16), uint8(v>>8), uint8(v))
	}
	return colors
}

func channelByte(v float64, datatype int) uint8 {
	if datatype == dtFloat32 || datatype == dtFloat64 {
		return clamp8(v * 255)
	}
	return clamp8(v)
}

func mappedColors(vals []float64, colors []uint8) []uint8 {
	lo, hi, ok := minMax(vals)
	for _, v := range vals {
		var c [3]uint8
		if ok {
			c = turbo(stretch(v, lo, hi))
		} else {
			c = turboLUT[0]
		}
		colors = append(colors, c[0], c[1], c[2])
	}
	return colors
}

// samplePoints enforces maxPoints with a uniform random subsample. A
// random subset rather than a prefix keeps spatial coverage intact.
func samplePoints(positions []float32, colors []uint8) ([]float32, []uint8) {
	n := len(positions) / 3
	if n <= maxPoints {
		return positions, colors
	}
	idx := rand.Perm(n)[:maxPoints]
	outP := make([]float32, 0, 3*maxPoints)
	outC := make([]uint8, 0, 3*maxPoints)
	for _, i := range idx {
		outP = append(outP, positions[i*3], positions[i*3+1], positions[i*3+2])
		outC = append(outC, colors[i*3], colors[i*3+1], colors[i*3+2])
	}
	return outP, outC
}

// pointsTree emits the shared cloud/scan output: base64 raw buffers plus
// axis-aligned bounds so the client can size a viewport without
// re-scanning the data.
func pointsTree(m *bus.Message, positions []float32, colors []uint8) map[string]any {
	n := len(positions) / 3
	mins := []float64{0, 0, 0}
	maxs := []float64{0, 0, 0}
	if n > 0 {
		for ax := 0; ax < 3; ax++ {
			mins[ax] = float64(positions[ax])
			maxs[ax] = float64(positions[ax])
		}
		for i := 1; i < n; i++ {
			for ax := 0; ax < 3; ax++ {
				v := float64(positions[i*3+ax])
				if v < mins[ax] {
					mins[ax] = v
				}
				if v > maxs[ax] {
					maxs[ax] = v
				}
			}
		}
	}
	return map[string]any{
		"_type":  m.Type,
		"count":  n,
		"points": b64(floats32LE(positions)),
		"colors": b64(colors),
		"bounds": map[string]any{"min": mins, "max": maxs},
	}
}
