// Package subs owns the per-topic bus subscriptions and the latest-wins
// message cache behind them. At most one subscription exists per topic;
// each arrival is transcoded off-lock and then swapped into a one-slot
// cache, so a burst of arrivals is lossy by design.
package subs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/rosview/rosview-backend/internal/bus"
	"github.com/rosview/rosview-backend/internal/transcode"
)

var (
	decodedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "rosview", Name: "messages_decoded_total", Help: "Messages decoded from the bus by result"},
		[]string{"result"},
	)
	activeSubs = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "rosview", Name: "active_subscriptions", Help: "Currently open bus subscriptions"},
	)
)

func init() {
	prometheus.MustRegister(decodedTotal, activeSubs)
}

// Entry is the cached latest message for one topic: the decoded JSON-safe
// tree plus its arrival wall-clock timestamp.
type Entry struct {
	Data      map[string]any
	Timestamp time.Time
}

// Manager serializes all subscription mutation on one mutex. Message
// callbacks run on the bus delivery goroutine and take the same mutex
// only for the cache swap; decoding happens before the lock so expensive
// binary work never runs inside a critical section.
type Manager struct {
	mu     sync.Mutex
	bus    bus.Bus
	subs   map[string]func()
	latest map[string]Entry
}

func NewManager(b bus.Bus) *Manager {
	return &Manager{
		bus:    b,
		subs:   make(map[string]func()),
		latest: make(map[string]Entry),
	}
}

// Subscribe opens a subscription for the topic if none exists. The
// delivery profile starts reliable+volatile and widens toward whatever
// any observed publisher requires. Returns false on type resolution or
// subscription failure; never panics across the boundary.
func (m *Manager) Subscribe(topic, typeName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[topic]; ok {
		return true
	}

	handle, err := m.bus.ResolveType(typeName)
	if err != nil {
		log.Warn().Str("topic", topic).Str("type", typeName).Err(err).Msg("type resolution failed")
		return false
	}

	profile := bus.DefaultProfile()
	if pubs, err := m.bus.ListPublishers(topic); err == nil {
		for _, p := range pubs {
			profile = profile.Widen(p.Profile)
		}
	}

	unsub, err := m.bus.Subscribe(handle, topic, profile, func(msg *bus.Message) {
		data := transcode.Transcode(msg)
		now := time.Now()
		m.mu.Lock()
		m.latest[topic] = Entry{Data: data, Timestamp: now}
		m.mu.Unlock()
		if _, failed := data["error"]; failed {
			decodedTotal.WithLabelValues("error").Inc()
		} else {
			decodedTotal.WithLabelValues("ok").Inc()
		}
	})
	if err != nil {
		log.Warn().Str("topic", topic).Err(err).Msg("subscription open failed")
		return false
	}

	m.subs[topic] = unsub
	activeSubs.Set(float64(len(m.subs)))
	log.Info().Str("topic", topic).Str("type", typeName).
		Str("reliability", string(profile.Reliability)).
		Str("durability", string(profile.Durability)).
		Msg("subscribed")
	return true
}

// Unsubscribe is idempotent: it releases the bus handle and drops the
// cached entry.
func (m *Manager) Unsubscribe(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if unsub, ok := m.subs[topic]; ok {
		unsub()
		delete(m.subs, topic)
		delete(m.latest, topic)
		activeSubs.Set(float64(len(m.subs)))
		log.Info().Str("topic", topic).Msg("unsubscribed")
	}
}

// Latest is a non-blocking read of the cached entry.
func (m *Manager) Latest(topic string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.latest[topic]
	return e, ok
}

// Subscribed reports whether a live subscription exists for the topic.
func (m *Manager) Subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[topic]
	return ok
}

// Reset releases every subscription and clears the cache. Recovery hatch
// for stuck state without a process restart.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for topic, unsub := range m.subs {
		unsub()
		delete(m.subs, topic)
	}
	m.latest = make(map[string]Entry)
	activeSubs.Set(0)
	log.Info().Msg("subscription manager reset")
}
