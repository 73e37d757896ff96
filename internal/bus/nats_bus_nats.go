//go:build nats

package bus

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	nats "github.com/nats-io/nats.go"
)

const (
	announceSubject  = "rosview.announce"
	topicPrefix      = "rosview.topic."
	announceInterval = 2 * time.Second
	announceTTL      = 6 * time.Second
)

// announcement is the presence record every participant publishes on the
// announce subject. Topology queries are answered from the cached set of
// live announcements; a record older than announceTTL is treated as gone.
type announcement struct {
	Node        string             `cbor:"node"`
	Namespace   string             `cbor:"namespace"`
	Publishers  []announceEndpoint `cbor:"publishers"`
	Subscribers []announceEndpoint `cbor:"subscribers"`
}

type announceEndpoint struct {
	Topic   string  `cbor:"topic"`
	Type    string  `cbor:"type"`
	Profile Profile `cbor:"profile"`
}

// NatsBus implements Bus over NATS core. Topics map to subjects under
// topicPrefix with '/' replaced by '.'; payloads are CBOR wire messages.
// NATS core is at-most-once, so the reliability half of the profile is
// carried for negotiation but does not change transport behavior.
type NatsBus struct {
	nc   *nats.Conn
	self NodeInfo

	mu          sync.Mutex
	seen        map[string]timedAnnouncement // key: namespace+node
	ownSubs     []announceEndpoint
	announceSub *nats.Subscription
	done        chan struct{}
}

type timedAnnouncement struct {
	a  announcement
	at time.Time
}

type natsTypeHandle struct{ name string }

func (h natsTypeHandle) TypeName() string { return h.name }

func NewNatsBus(url string) (Bus, error) {
	nc, err := nats.Connect(url, nats.Name("rosview-backend"))
	if err != nil {
		return nil, err
	}
	b := &NatsBus{
		nc:   nc,
		self: NodeInfo{Name: "rosview_backend", Namespace: "/"},
		seen: make(map[string]timedAnnouncement),
		done: make(chan struct{}),
	}
	b.announceSub, err = nc.Subscribe(announceSubject, func(msg *nats.Msg) {
		var a announcement
		if err := cbor.Unmarshal(msg.Data, &a); err != nil {
			return
		}
		b.mu.Lock()
		b.seen[a.Namespace+"\x00"+a.Node] = timedAnnouncement{a: a, at: time.Now()}
		b.mu.Unlock()
	})
	if err != nil {
		nc.Close()
		return nil, err
	}
	go b.announceLoop()
	return b, nil
}

func topicSubject(topic string) string {
	return topicPrefix + strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", ".")
}

func (b *NatsBus) announceLoop() {
	t := time.NewTicker(announceInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			b.mu.Lock()
			a := announcement{
				Node:        b.self.Name,
				Namespace:   b.self.Namespace,
				Subscribers: append([]announceEndpoint(nil), b.ownSubs...),
			}
			b.mu.Unlock()
			if payload, err := cbor.Marshal(a); err == nil {
				_ = b.nc.Publish(announceSubject, payload)
			}
		}
	}
}

// live returns the non-expired announcements.
func (b *NatsBus) live() []announcement {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	out := make([]announcement, 0, len(b.seen))
	for k, ta := range b.seen {
		if now.Sub(ta.at) > announceTTL {
			delete(b.seen, k)
			continue
		}
		out = append(out, ta.a)
	}
	return out
}

func (b *NatsBus) ListNodes() ([]NodeInfo, error) {
	var out []NodeInfo
	for _, a := range b.live() {
		out = append(out, NodeInfo{Name: a.Node, Namespace: a.Namespace})
	}
	return out, nil
}

func (b *NatsBus) ListTopics() ([]TopicInfo, error) {
	byName := make(map[string]map[string]struct{})
	for _, a := range b.live() {
		for _, e := range append(a.Publishers, a.Subscribers...) {
			if byName[e.Topic] == nil {
				byName[e.Topic] = make(map[string]struct{})
			}
			if e.Type != "" {
				byName[e.Topic][e.Type] = struct{}{}
			}
		}
	}
	var out []TopicInfo
	for name, types := range byName {
		ti := TopicInfo{Name: name}
		for t := range types {
			ti.Types = append(ti.Types, t)
		}
		out = append(out, ti)
	}
	return out, nil
}

func (b *NatsBus) ListPublishers(topic string) ([]EndpointInfo, error) {
	var out []EndpointInfo
	for _, a := range b.live() {
		for _, e := range a.Publishers {
			if e.Topic == topic {
				out = append(out, EndpointInfo{NodeName: a.Node, Namespace: a.Namespace, Profile: e.Profile})
			}
		}
	}
	return out, nil
}

func (b *NatsBus) ListSubscribers(topic string) ([]EndpointInfo, error) {
	var out []EndpointInfo
	for _, a := range b.live() {
		for _, e := range a.Subscribers {
			if e.Topic == topic {
				out = append(out, EndpointInfo{NodeName: a.Node, Namespace: a.Namespace, Profile: e.Profile})
			}
		}
	}
	return out, nil
}

func (b *NatsBus) ResolveType(typeName string) (TypeHandle, error) {
	for _, a := range b.live() {
		for _, e := range a.Publishers {
			if e.Type == typeName {
				return natsTypeHandle{name: typeName}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
}

func (b *NatsBus) Subscribe(t TypeHandle, topic string, profile Profile, h Handler) (func(), error) {
	if _, ok := t.(natsTypeHandle); !ok {
		return nil, fmt.Errorf("bus: foreign type handle %T", t)
	}
	sub, err := b.nc.Subscribe(topicSubject(topic), func(msg *nats.Msg) {
		m, err := Decode(msg.Data)
		if err != nil {
			return
		}
		h(m)
	})
	if err != nil {
		return nil, err
	}
	ep := announceEndpoint{Topic: topic, Type: t.TypeName(), Profile: profile}
	b.mu.Lock()
	b.ownSubs = append(b.ownSubs, ep)
	b.mu.Unlock()
	return func() {
		_ = sub.Unsubscribe()
		b.mu.Lock()
		for i, e := range b.ownSubs {
			if e == ep {
				b.ownSubs = append(b.ownSubs[:i], b.ownSubs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	}, nil
}

func (b *NatsBus) Close() error {
	close(b.done)
	_ = b.announceSub.Unsubscribe()
	b.nc.Flush()
	b.nc.Close()
	return nil
}
