package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rosview/rosview-backend/internal/graph"
)

const (
	// pollInterval is the cache poll cadence for streaming sessions.
	pollInterval = 50 * time.Millisecond

	// silenceGrace is how long a session waits for a first message before
	// emitting its one diagnostic warning.
	silenceGrace = 5 * time.Second
)

// TopicWS is the /ws/topic/*name endpoint: one streaming session per
// viewer-topic pairing. The session subscribes through the manager, polls
// the latest-wins cache, and forwards an entry only when its timestamp
// advances. Unsubscribe policy is last-viewer teardown: disconnecting
// unsubscribes the topic immediately (see DESIGN.md).
func TopicWS(c *gin.Context) {
	topic := canonicalParam(c.Param("name"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	v := &viewer{conn: conn}
	defer conn.Close()

	stop := context.AfterFunc(baseCtx, func() { _ = conn.Close() })
	defer stop()

	session := uuid.New().String()[:8]
	logger := log.With().Str("session", session).Str("topic", topic).Logger()

	typeName, found := graph.TypeForTopic(busConn, topic)
	if !found {
		_ = v.send(gin.H{"error": "Topic not found"})
		return
	}
	if !manager.Subscribe(topic, typeName) {
		_ = v.send(gin.H{"error": "Failed to subscribe to topic"})
		return
	}
	defer manager.Unsubscribe(topic)

	streamSessions.Inc()
	defer streamSessions.Dec()
	logger.Info().Str("type", typeName).Msg("streaming session started")

	_ = v.send(gin.H{
		"type":        "info",
		"topic":       topic,
		"messageType": typeName,
		"message":     "subscribed",
	})

	// The receive side must never block the send side: viewer control
	// messages are drained on their own goroutine.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
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
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	start := time.Now()
	var lastSent time.Time
	warned := false

	for {
		select {
		case <-baseCtx.Done():
			logger.Info().Msg("streaming session stopped by shutdown")
			return
		case <-closed:
			logger.Info().Msg("viewer disconnected")
			return
		case <-ticker.C:
			entry, ok := manager.Latest(topic)
			if !ok {
				if !warned && lastSent.IsZero() && time.Since(start) > silenceGrace {
					warned = true
					logger.Warn().Msg("no messages within grace period")
					_ = v.send(gin.H{
						"type":    "warning",
						"message": "no messages received: the topic may have no active publisher or an incompatible delivery profile",
					})
				}
				continue
			}
			if !entry.Timestamp.After(lastSent) {
				continue
			}
			lastSent = entry.Timestamp
			if err := v.send(gin.H{
				"type":      "message",
				"topic":     topic,
				"data":      entry.Data,
				"timestamp": entry.Timestamp.UnixMilli(),
			}); err != nil {
				logger.Info().Err(err).Msg("viewer send failed, ending session")
				wsSendFailTotal.Inc()
				return
			}
			messagesStreamed.Inc()
		}
	}
}
