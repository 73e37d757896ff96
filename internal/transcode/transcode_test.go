package transcode

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/rosview/rosview-backend/internal/bus"
)

func TestGenericWalkPassesPrimitives(t *testing.T) {
	m := bus.NewMessage("std_msgs/msg/String").
		Set("data", "hello").
		Set("seq", uint32(7)).
		Set("ok", true)
	out := Transcode(m)
	if out["_type"] != "std_msgs/msg/String" {
		t.Fatalf("missing _type: %v", out)
	}
	if out["data"] != "hello" || out["ok"] != true {
		t.Fatalf("primitives mangled: %v", out)
	}
}

func TestGenericWalkNestedMessage(t *testing.T) {
	header := bus.NewMessage("std_msgs/msg/Header").Set("frame_id", "base_link")
	m := bus.NewMessage("geometry_msgs/msg/PoseStamped").
		Set("header", header).
		Set("x", 1.5)
	out := Transcode(m)
	h, ok := out["header"].(map[string]any)
	if !ok {
		t.Fatalf("nested message not walked: %v", out["header"])
	}
	if h["frame_id"] != "base_link" {
		t.Fatalf("nested field lost: %v", h)
	}
}

func TestGenericWalkBytePlaceholder(t *testing.T) {
	big := make([]byte, 1000)
	m := bus.NewMessage("custom_msgs/msg/Blob").Set("payload", big)
	out := Transcode(m)
	if out["payload"] != "<1000 bytes>" {
		t.Fatalf("expected size placeholder, got %v", out["payload"])
	}

	small := bus.NewMessage("custom_msgs/msg/Blob").Set("payload", []byte{1, 2, 3})
	out = Transcode(small)
	if _, ok := out["payload"].(string); !ok {
		t.Fatalf("small payload should inline as base64, got %T", out["payload"])
	}
}

func TestGenericWalkTruncatesLongSequences(t *testing.T) {
	vals := make([]float64, 450)
	m := bus.NewMessage("custom_msgs/msg/Samples").Set("values", vals)
	out := Transcode(m)
	seq, ok := out["values"].([]any)
	if !ok {
		t.Fatalf("expected sequence, got %T", out["values"])
	}
	if len(seq) != maxSeqLen+1 {
		t.Fatalf("expected %d entries, got %d", maxSeqLen+1, len(seq))
	}
	marker, ok := seq[len(seq)-1].(string)
	if !ok || marker != fmt.Sprintf("... (%d more items)", 450-maxSeqLen) {
		t.Fatalf("unexpected truncation marker: %v", seq[len(seq)-1])
	}
}

func TestGenericWalkNonFiniteFloats(t *testing.T) {
	m := bus.NewMessage("custom_msgs/msg/Odd").
		Set("inf", math.Inf(1)).
		Set("nan", math.NaN()).
		Set("plain", 2.5)
	out := Transcode(m)
	if _, ok := out["inf"].(string); !ok {
		t.Fatalf("infinity must render as string, got %T", out["inf"])
	}
	if _, ok := out["nan"].(string); !ok {
		t.Fatalf("NaN must render as string, got %T", out["nan"])
	}
	if out["plain"] != 2.5 {
		t.Fatalf("finite float mangled: %v", out["plain"])
	}
}

func TestTranscodeDispatchesOnShape(t *testing.T) {
	// A made-up type name with a compressed-image field layout must still
	// hit the image decoder.
	m := bus.NewMessage("vendor_msgs/msg/Snapshot").
		Set("format", "jpeg").
		Set("data", []byte{0xff, 0xd8, 0xff})
	out := Transcode(m)
	if out["format"] != "jpeg" {
		t.Fatalf("shape dispatch failed: %v", out)
	}
}

func TestCompressedEmptyPayload(t *testing.T) {
	m := bus.NewMessage("sensor_msgs/msg/CompressedImage").
		Set("format", "jpeg").
		Set("data", []byte{})
	out := Transcode(m)
	w, ok := out["warning"].(string)
	if !ok || !strings.Contains(w, "failing to compress") {
		t.Fatalf("expected compression warning, got %v", out)
	}
}

func TestCompressedDepthLabelBeatsPNG(t *testing.T) {
	// The combined label contains "png"; it must route to the depth
	// decoder, whose reaction to a garbage payload is a diagnostic, not a
	// png passthrough.
	m := bus.NewMessage("sensor_msgs/msg/CompressedImage").
		Set("format", "32FC1; compressedDepth png").
		Set("data", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13})
	out := Transcode(m)
	if _, ok := out["error"]; !ok {
		t.Fatalf("expected depth decode diagnostic, got %v", out)
	}
}

func TestCompressedUnknownLabelDefaultsToJPEG(t *testing.T) {
	m := bus.NewMessage("sensor_msgs/msg/CompressedImage").
		Set("format", "weird").
		Set("data", []byte{1, 2, 3})
	out := Transcode(m)
	if out["format"] != "jpeg" {
		t.Fatalf("unknown label should normalize to jpeg, got %v", out["format"])
	}
	if out["original_format"] != "weird" {
		t.Fatalf("original format must be preserved, got %v", out["original_format"])
	}
}
