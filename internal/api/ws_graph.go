package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rosview/rosview-backend/internal/graph"
)

// graphInterval is how often the broadcast loop re-reads topology and
// diffs it against the last broadcast snapshot.
const graphInterval = 500 * time.Millisecond

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// viewer wraps one WebSocket connection with the single-writer discipline
// gorilla requires: the broadcast loop and the session's own sends share
// the mutex.
type viewer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (v *viewer) send(payload any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	_ = v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return v.conn.WriteJSON(payload)
}

func (v *viewer) sendText(s string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	_ = v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return v.conn.WriteMessage(websocket.TextMessage, []byte(s))
}

// graphHub is the viewer registry for topology fan-out. Its lock is
// independent of the subscription manager's, so graph pushes never wait
// on per-topic subscription churn.
var graphHub = struct {
	mu      sync.Mutex
	viewers map[*viewer]struct{}
}{viewers: make(map[*viewer]struct{})}

// RunGraphBroadcast drives the topology push loop until ctx is done.
// Viewers whose send fails are dropped, not buffered: a slow viewer must
// not stall the rest.
func RunGraphBroadcast(ctx context.Context) {
	ticker := time.NewTicker(graphInterval)
	defer ticker.Stop()
	var last *graph.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := graph.Build(busConn)
			if err != nil {
				// Bus unavailable: back off and retry, never terminate.
				log.Debug().Err(err).Msg("graph build failed, retrying")
				time.Sleep(time.Second)
				continue
			}
			if snap.Equal(last) {
				continue
			}
			last = snap
			broadcastGraph(snap)
		}
	}
}

func broadcastGraph(snap *graph.Snapshot) {
	payload := gin.H{"type": "graph_update", "data": snap}
	graphHub.mu.Lock()
	targets := make([]*viewer, 0, len(graphHub.viewers))
	for v := range graphHub.viewers {
		targets = append(targets, v)
	}
	graphHub.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	var dead []*viewer
	for _, v := range targets {
		if err := v.send(payload); err != nil {
			dead = append(dead, v)
			wsSendFailTotal.Inc()
		}
	}
	graphBroadcastTotal.Inc()

	if len(dead) > 0 {
		graphHub.mu.Lock()
		for _, v := range dead {
			delete(graphHub.viewers, v)
			_ = v.conn.Close()
		}
		graphHub.mu.Unlock()
		log.Info().Int("pruned", len(dead)).Msg("dropped unresponsive graph viewers")
	}
}

// GraphWS is the /ws/graph endpoint: register the viewer, send the
// current snapshot immediately, then hold the connection open answering
// pings until the client goes away.
func GraphWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	v := &viewer{conn: conn}
	graphHub.mu.Lock()
	graphHub.viewers[v] = struct{}{}
	graphHub.mu.Unlock()
	viewersConnected.Inc()
	defer func() {
		graphHub.mu.Lock()
		delete(graphHub.viewers, v)
		graphHub.mu.Unlock()
		viewersConnected.Dec()
		_ = conn.Close()
	}()

	// Shutdown closes the connection out from under the blocked read.
	stop := context.AfterFunc(baseCtx, func() { _ = conn.Close() })
	defer stop()

	// First connection gets the snapshot without waiting for a diff.
	if snap, err := graph.Build(busConn); err == nil {
		_ = v.send(gin.H{"type": "graph_update", "data": snap})
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) == "ping" {
			if err := v.sendText("pong"); err != nil {
				return
			}
		}
	}
}
