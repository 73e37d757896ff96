package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rosview/rosview-backend/internal/bus"
)

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return raw
}

func readJSONFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	raw := readFrame(t, conn)
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("frame not JSON: %q: %v", raw, err)
	}
	return body
}

func TestGraphWSInitialSnapshotAndPing(t *testing.T) {
	r, _ := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/graph")

	first := readJSONFrame(t, conn)
	if first["type"] != "graph_update" {
		t.Fatalf("expected initial graph_update, got %v", first)
	}
	data, ok := first["data"].(map[string]any)
	if !ok || data["topics"] == nil {
		t.Fatalf("snapshot payload missing: %v", first)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if got := string(readFrame(t, conn)); got != "pong" {
		t.Fatalf("expected pong, got %q", got)
	}
}

func TestTopicWSUnknownTopic(t *testing.T) {
	r, _ := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/topic/ghost")
	body := readJSONFrame(t, conn)
	if body["error"] != "Topic not found" {
		t.Fatalf("expected Topic not found, got %v", body)
	}
	if manager.Subscribed("/ghost") {
		t.Fatal("unknown topic must not open a subscription")
	}
}

func TestTopicWSStreamsLatest(t *testing.T) {
	r, b := newTestRouter(t)
	pub := b.Advertise(bus.NodeInfo{Name: "talker", Namespace: "/"}, "/chatter", "std_msgs/msg/String", bus.DefaultProfile())
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/topic/chatter")

	info := readJSONFrame(t, conn)
	if info["type"] != "info" || info["topic"] != "/chatter" || info["messageType"] != "std_msgs/msg/String" {
		t.Fatalf("unexpected info frame: %v", info)
	}

	pub.Publish(bus.NewMessage("std_msgs/msg/String").Set("data", "hello"))

	msg := readJSONFrame(t, conn)
	if msg["type"] != "message" || msg["topic"] != "/chatter" {
		t.Fatalf("unexpected message frame: %v", msg)
	}
	data, ok := msg["data"].(map[string]any)
	if !ok || data["data"] != "hello" {
		t.Fatalf("payload lost in transit: %v", msg)
	}
	if _, ok := msg["timestamp"].(float64); !ok {
		t.Fatalf("timestamp missing: %v", msg)
	}

	// A stale cache entry is never re-sent: with no new publish the session
	// stays quiet.
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected re-send of stale entry: %s", raw)
	}
}

func TestTopicWSPingPong(t *testing.T) {
	r, b := newTestRouter(t)
	b.Advertise(bus.NodeInfo{Name: "talker", Namespace: "/"}, "/chatter", "std_msgs/msg/String", bus.DefaultProfile())
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/topic/chatter")
	readJSONFrame(t, conn) // info

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if got := string(readFrame(t, conn)); got != "pong" {
		t.Fatalf("expected pong, got %q", got)
	}
}

func TestTopicWSDisconnectTearsDownSubscription(t *testing.T) {
	r, b := newTestRouter(t)
	b.Advertise(bus.NodeInfo{Name: "talker", Namespace: "/"}, "/chatter", "std_msgs/msg/String", bus.DefaultProfile())
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/topic/chatter")
	readJSONFrame(t, conn) // info

	if !manager.Subscribed("/chatter") {
		t.Fatal("session should hold a subscription")
	}
	_ = conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for manager.Subscribed("/chatter") {
		if time.Now().After(deadline) {
			t.Fatal("subscription not released after viewer disconnect")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestGraphBroadcastPushesTopologyChanges(t *testing.T) {
	r, b := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunGraphBroadcast(ctx)

	conn := dialWS(t, srv, "/ws/graph")
	readJSONFrame(t, conn) // initial snapshot

	// The loop broadcasts its first diff against nil, then goes quiet until
	// topology actually changes.
	readJSONFrame(t, conn)

	b.Advertise(bus.NodeInfo{Name: "cam", Namespace: "/"}, "/image", "sensor_msgs/msg/Image", bus.DefaultProfile())

	update := readJSONFrame(t, conn)
	if update["type"] != "graph_update" {
		t.Fatalf("expected graph_update, got %v", update)
	}
	raw, _ := json.Marshal(update["data"])
	if !strings.Contains(string(raw), "topic-/image") {
		t.Fatalf("new topic missing from broadcast: %s", raw)
	}

	// Unchanged topology must not be re-broadcast.
	_ = conn.SetReadDeadline(time.Now().Add(1200 * time.Millisecond))
	if _, dup, err := conn.ReadMessage(); err == nil {
		t.Fatalf("duplicate push for unchanged topology: %s", dup)
	}
}

func TestTopicSessionsAreIsolated(t *testing.T) {
	r, b := newTestRouter(t)
	pubA := b.Advertise(bus.NodeInfo{Name: "talker", Namespace: "/"}, "/a", "std_msgs/msg/String", bus.DefaultProfile())
	b.Advertise(bus.NodeInfo{Name: "talker", Namespace: "/"}, "/b", "std_msgs/msg/String", bus.DefaultProfile())
	srv := httptest.NewServer(r)
	defer srv.Close()

	connA := dialWS(t, srv, "/ws/topic/a")
	connB := dialWS(t, srv, "/ws/topic/b")
	readJSONFrame(t, connA) // info
	readJSONFrame(t, connB) // info

	pubA.Publish(bus.NewMessage("std_msgs/msg/String").Set("data", "only for a"))

	msg := readJSONFrame(t, connA)
	if msg["topic"] != "/a" {
		t.Fatalf("session A got wrong topic: %v", msg)
	}
	// Session B's topic never published; it must stay silent.
	_ = connB.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, leaked, err := connB.ReadMessage(); err == nil {
		t.Fatalf("session B observed another topic's entry: %s", leaked)
	}
}
