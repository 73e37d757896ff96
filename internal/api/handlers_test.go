package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/rosview/rosview-backend/internal/bus"
	"github.com/rosview/rosview-backend/internal/graph"
	"github.com/rosview/rosview-backend/internal/subs"
)

func newTestRouter(t *testing.T) (*gin.Engine, *bus.LocalBus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b := bus.NewLocalBus()
	b.Advertise(bus.NodeInfo{Name: "lidar", Namespace: "/sensors"}, "/scan", "sensor_msgs/msg/LaserScan", bus.DefaultProfile())
	Init(context.Background(), b, subs.NewManager(b))

	r := gin.New()
	r.GET("/api/graph", GetGraph)
	r.GET("/api/node/*name", GetNode)
	r.GET("/api/topic/*name", GetTopic)
	r.GET("/api/health", Health)
	r.POST("/api/reset", ResetSubscriptions)
	r.GET("/ws/graph", GraphWS)
	r.GET("/ws/topic/*name", TopicWS)
	return r, b
}

func doJSON(t *testing.T, r *gin.Engine, method, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s %s: bad JSON body %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, body
}

func TestGetGraph(t *testing.T) {
	r, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/graph", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var snap graph.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("bad snapshot body: %v", err)
	}
	if len(snap.Nodes) == 0 || len(snap.Topics) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Topics[0].ID != "topic-/scan" {
		t.Fatalf("unexpected topic: %+v", snap.Topics[0])
	}
}

func TestGetNode(t *testing.T) {
	r, _ := newTestRouter(t)
	code, body := doJSON(t, r, http.MethodGet, "/api/node/sensors/lidar")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, body)
	}
	if body["name"] != "/sensors/lidar" {
		t.Fatalf("unexpected detail: %v", body)
	}

	code, body = doJSON(t, r, http.MethodGet, "/api/node/ghost")
	if code != http.StatusNotFound || body["error"] != "Node not found" {
		t.Fatalf("expected 404 Node not found, got %d %v", code, body)
	}
}

func TestGetTopic(t *testing.T) {
	r, _ := newTestRouter(t)
	code, body := doJSON(t, r, http.MethodGet, "/api/topic/scan")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, body)
	}
	if body["name"] != "/scan" {
		t.Fatalf("unexpected detail: %v", body)
	}
	pubs, ok := body["publishers"].([]any)
	if !ok || len(pubs) != 1 || pubs[0] != "/sensors/lidar" {
		t.Fatalf("unexpected publishers: %v", body["publishers"])
	}

	code, body = doJSON(t, r, http.MethodGet, "/api/topic/ghost")
	if code != http.StatusNotFound || body["error"] != "Topic not found" {
		t.Fatalf("expected 404 Topic not found, got %d %v", code, body)
	}
}

func TestHealth(t *testing.T) {
	r, b := newTestRouter(t)
	code, body := doJSON(t, r, http.MethodGet, "/api/health")
	if code != http.StatusOK || body["status"] != "ok" || body["bus_connected"] != true {
		t.Fatalf("unexpected health: %d %v", code, body)
	}

	// A closed bus stays alive but reports disconnected.
	_ = b.Close()
	code, body = doJSON(t, r, http.MethodGet, "/api/health")
	if code != http.StatusOK || body["bus_connected"] != false {
		t.Fatalf("expected degraded health, got %d %v", code, body)
	}
}

func TestResetSubscriptions(t *testing.T) {
	r, _ := newTestRouter(t)
	if !manager.Subscribe("/scan", "sensor_msgs/msg/LaserScan") {
		t.Fatal("subscribe failed")
	}

	code, body := doJSON(t, r, http.MethodPost, "/api/reset")
	if code != http.StatusOK || body["status"] != "reset" {
		t.Fatalf("unexpected reset response: %d %v", code, body)
	}
	if manager.Subscribed("/scan") {
		t.Fatal("reset must drop the subscription")
	}
}
