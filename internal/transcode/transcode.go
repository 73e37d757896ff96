// Package transcode converts typed bus messages into compact JSON-safe
// trees the viewer can render. Known sensor shapes (compressed images,
// raw images, point clouds, range scans) get dedicated binary decoders;
// everything else falls back to a generic structural walk. Every decoder
// degrades to a diagnostic tree on failure: one malformed message must
// never take down the stream for other topics.
package transcode

import (
	"fmt"
	"math"

	"github.com/rosview/rosview-backend/internal/bus"
)

const (
	// maxPoints caps point cloud and range scan output; larger sets are
	// uniformly random-sampled down, not truncated, to keep spatial
	// coverage.
	maxPoints = 150000

	// maxInlineBytes is the largest byte field the generic walk inlines.
	maxInlineBytes = 256

	// maxSeqLen is the longest numeric sequence the generic walk emits
	// before truncating with a trailing marker.
	maxSeqLen = 200
)

// Transcode dispatches on structural shape, not on the declared type name,
// so unknown types with a known sensor layout still decode.
func Transcode(m *bus.Message) (out map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			out = map[string]any{
				"_type": m.Type,
				"error": fmt.Sprintf("transcode panic: %v", r),
			}
		}
	}()
	switch {
	case isCompressedImage(m):
		return compressedImage(m)
	case isPointCloud(m):
		return pointCloud(m)
	case isRawImage(m):
		return rawImage(m)
	case isLaserScan(m):
		return laserScan(m)
	default:
		return generic(m)
	}
}

func isCompressedImage(m *bus.Message) bool {
	if !m.Has("format", "data") || m.Has("width") {
		return false
	}
	f, _ := m.Get("format")
	d, _ := m.Get("data")
	_, fok := bus.AsString(f)
	_, dok := bus.AsBytes(d)
	return fok && dok
}

func isRawImage(m *bus.Message) bool {
	return m.Has("width", "height", "encoding", "data")
}

func isPointCloud(m *bus.Message) bool {
	return m.Has("width", "height", "fields", "point_step", "data")
}

func isLaserScan(m *bus.Message) bool {
	return m.Has("angle_min", "angle_max", "angle_increment", "ranges")
}

// generic is the fallback structural walk over the ordered field set.
func generic(m *bus.Message) map[string]any {
	out := map[string]any{"_type": m.Type}
	for _, f := range m.Fields() {
		out[f.Name] = walkValue(f.Value)
	}
	return out
}

func walkValue(v any) any {
	switch x := v.(type) {
	case nil, bool, string:
		return x
	case *bus.Message:
		return generic(x)
	case []*bus.Message:
		out := make([]any, len(x))
		for i, m := range x {
			out[i] = generic(m)
		}
		return out
	case []byte:
		// Bandwidth guard: large opaque payloads become a size placeholder.
		if len(x) > maxInlineBytes {
			return fmt.Sprintf("<%d bytes>", len(x))
		}
		return b64(x)
	case float32:
		return safeFloat(float64(x))
	case float64:
		return safeFloat(x)
	case []any:
		if msgs, ok := bus.AsMessageSlice(v); ok {
			out := make([]any, len(msgs))
			for i, m := range msgs {
				out[i] = generic(m)
			}
			return out
		}
		return walkSeq(x, func(e any) any { return walkValue(e) })
	case []float32, []float64, []int32, []int64:
		fs, _ := bus.AsFloat64Slice(v)
		anys := make([]any, len(fs))
		for i, f := range fs {
			anys[i] = f
		}
		return walkSeq(anys, func(e any) any { return safeFloat(e.(float64)) })
	default:
		return x
	}
}

// walkSeq truncates long sequences with a trailing "N more items" marker.
func walkSeq(xs []any, conv func(any) any) []any {
	n := len(xs)
	if n <= maxSeqLen {
		out := make([]any, n)
		for i, e := range xs {
			out[i] = conv(e)
		}
		return out
	}
	out := make([]any, 0, maxSeqLen+1)
	for i := 0; i < maxSeqLen; i++ {
		out = append(out, conv(xs[i]))
	}
	return append(out, fmt.Sprintf("... (%d more items)", n-maxSeqLen))
}

// safeFloat renders non-finite values as strings: the wire format cannot
// represent infinity or NaN natively.
func safeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Sprint(f)
	}
	return f
}

func errorTree(m *bus.Message, size int, err error) map[string]any {
	return map[string]any{
		"_type": m.Type,
		"error": err.Error(),
		"size":  size,
	}
}
