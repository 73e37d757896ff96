package transcode

import (
	"fmt"
	"math"

	"github.com/rosview/rosview-backend/internal/bus"
)

// laserScan converts a polar range scan into the same renderable point
// buffer shape clouds use, so the client needs exactly one 3-D path.
func laserScan(m *bus.Message) map[string]any {
	angleMin := scanFloat(m, "angle_min")
	angleInc := scanFloat(m, "angle_increment")
	rangeMin := scanFloat(m, "range_min")
	rangeMax := scanFloat(m, "range_max")

	rv, _ := m.Get("ranges")
	ranges, ok := bus.AsFloat64Slice(rv)
	if !ok {
		return errorTree(m, 0, fmt.Errorf("malformed ranges field"))
	}

	var intensities []float64
	if iv, present := m.Get("intensities"); present {
		if is, iok := bus.AsFloat64Slice(iv); iok && len(is) == len(ranges) {
			intensities = is
		}
	}

	positions := make([]float32, 0, 3*len(ranges))
	colorVals := make([]float64, 0, len(ranges))
	for i, r := range ranges {
		if !finite(r) || r < rangeMin || r > rangeMax {
			continue
		}
		angle := angleMin + float64(i)*angleInc
		positions = append(positions,
			float32(r*math.Cos(angle)),
			float32(r*math.Sin(angle)),
			0)
		if intensities != nil {
			colorVals = append(colorVals, intensities[i])
		} else {
			colorVals = append(colorVals, r)
		}
	}

	colors := mappedColors(colorVals, make([]uint8, 0, 3*len(colorVals)))
	positions, colors = samplePoints(positions, colors)
	return pointsTree(m, positions, colors)
}

func scanFloat(m *bus.Message, name string) float64 {
	v, _ := m.Get(name)
	f, _ := bus.AsFloat64(v)
	return f
}
