// Package api exposes the viewer-facing surface: the REST topology
// queries the dashboard loads first, and the WebSocket endpoints that
// stream graph updates and per-topic telemetry.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rosview/rosview-backend/internal/bus"
	"github.com/rosview/rosview-backend/internal/graph"
	"github.com/rosview/rosview-backend/internal/subs"
)

// Package-level dependencies, wired once from cmd/server before the
// router starts serving.
var (
	busConn bus.Bus
	manager *subs.Manager
	baseCtx context.Context = context.Background()
)

// Init wires the bus and subscription manager into the handler package.
// ctx is the process-wide shutdown signal every streaming loop observes.
func Init(ctx context.Context, b bus.Bus, m *subs.Manager) {
	baseCtx = ctx
	busConn = b
	manager = m
}

// GetGraph serves the complete topology snapshot.
func GetGraph(c *gin.Context) {
	snap, err := graph.Build(busConn)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetNode serves drill-down details for one node. The wildcard param
// arrives with its leading slash, which is exactly the canonical name.
func GetNode(c *gin.Context) {
	name := canonicalParam(c.Param("name"))
	detail, err := graph.NodeDetails(busConn, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if detail == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Node not found"})
		return
	}
	c.JSON(http.StatusOK, detail)
}

// GetTopic serves drill-down details for one topic.
func GetTopic(c *gin.Context) {
	name := canonicalParam(c.Param("name"))
	detail, err := graph.TopicDetails(busConn, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if detail == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Topic not found"})
		return
	}
	c.JSON(http.StatusOK, detail)
}

// Health reports liveness plus whether the bus answers topology queries.
func Health(c *gin.Context) {
	busOK := true
	if _, err := busConn.ListNodes(); err != nil {
		busOK = false
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "bus_connected": busOK})
}

// ResetSubscriptions tears down every subscription and clears the cache;
// the recovery hatch for stuck subscription state.
func ResetSubscriptions(c *gin.Context) {
	manager.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func canonicalParam(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
