package bus

import (
	"fmt"
	"sort"
	"sync"
)

// LocalBus is a complete in-process bus: publishers advertise topics and
// types, subscriptions attach with a delivery profile, and delivery
// enforces profile compatibility the way the real middleware does. Used
// in tests and in the embedded simulation mode of cmd/server.
type LocalBus struct {
	mu     sync.RWMutex
	closed bool
	self   NodeInfo
	nodes  map[string]NodeInfo
	topics map[string]*localTopic
	types  map[string]struct{}
}

type localTopic struct {
	types []string
	pubs  []*Publisher
	subs  []*localSub
}

type localSub struct {
	endpoint EndpointInfo
	h        Handler
}

// Publisher is a handle returned by Advertise. Publish delivers
// synchronously on the caller's goroutine, which stands in for the
// middleware's delivery thread and preserves per-publisher ordering.
type Publisher struct {
	bus      *LocalBus
	topic    string
	node     NodeInfo
	typeName string
	profile  Profile
	closed   bool
}

type localTypeHandle struct{ name string }

func (h localTypeHandle) TypeName() string { return h.name }

func NewLocalBus() *LocalBus {
	return &LocalBus{
		self:   NodeInfo{Name: "rosview_backend", Namespace: "/"},
		nodes:  make(map[string]NodeInfo),
		topics: make(map[string]*localTopic),
		types:  make(map[string]struct{}),
	}
}

func nodeKey(n NodeInfo) string { return n.Namespace + "\x00" + n.Name }

// AddNode registers a node without any endpoints, so it shows up in
// topology even before it advertises or subscribes.
func (b *LocalBus) AddNode(name, namespace string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := NodeInfo{Name: name, Namespace: namespace}
	b.nodes[nodeKey(n)] = n
}

// RegisterType makes a type resolvable without a live publisher.
func (b *LocalBus) RegisterType(typeName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.types[typeName] = struct{}{}
}

// Advertise registers a publisher endpoint and returns a handle to publish
// through. The node and type are registered as a side effect.
func (b *LocalBus) Advertise(node NodeInfo, topic, typeName string, profile Profile) *Publisher {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[nodeKey(node)] = node
	b.types[typeName] = struct{}{}
	t := b.topics[topic]
	if t == nil {
		t = &localTopic{}
		b.topics[topic] = t
	}
	seen := false
	for _, tn := range t.types {
		if tn == typeName {
			seen = true
			break
		}
	}
	if !seen {
		t.types = append(t.types, typeName)
	}
	p := &Publisher{bus: b, topic: topic, node: node, typeName: typeName, profile: profile}
	t.pubs = append(t.pubs, p)
	return p
}

// Publish delivers to every profile-compatible subscription. A best-effort
// publisher never reaches a reliable subscription.
func (p *Publisher) Publish(m *Message) {
	p.bus.mu.RLock()
	if p.closed || p.bus.closed {
		p.bus.mu.RUnlock()
		return
	}
	var handlers []Handler
	if t := p.bus.topics[p.topic]; t != nil {
		for _, s := range t.subs {
			if Compatible(p.profile, s.endpoint.Profile) {
				handlers = append(handlers, s.h)
			}
		}
	}
	p.bus.mu.RUnlock()
	for _, h := range handlers {
		h(m)
	}
}

// Close withdraws the publisher endpoint. The topic stays listed while it
// has types declared, mirroring middleware behavior where topic metadata
// outlives endpoints.
func (p *Publisher) Close() {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	p.closed = true
	if t := p.bus.topics[p.topic]; t != nil {
		for i, q := range t.pubs {
			if q == p {
				t.pubs = append(t.pubs[:i], t.pubs[i+1:]...)
				break
			}
		}
	}
}

func (b *LocalBus) ListNodes() ([]NodeInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	out := make([]NodeInfo, 0, len(b.nodes))
	for _, n := range b.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (b *LocalBus) ListTopics() ([]TopicInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	out := make([]TopicInfo, 0, len(b.topics))
	for name, t := range b.topics {
		out = append(out, TopicInfo{Name: name, Types: append([]string(nil), t.types...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *LocalBus) ListPublishers(topic string) ([]EndpointInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	t := b.topics[topic]
	if t == nil {
		return nil, nil
	}
	out := make([]EndpointInfo, 0, len(t.pubs))
	for _, p := range t.pubs {
		out = append(out, EndpointInfo{NodeName: p.node.Name, Namespace: p.node.Namespace, Profile: p.profile})
	}
	return out, nil
}

func (b *LocalBus) ListSubscribers(topic string) ([]EndpointInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	t := b.topics[topic]
	if t == nil {
		return nil, nil
	}
	out := make([]EndpointInfo, 0, len(t.subs))
	for _, s := range t.subs {
		out = append(out, s.endpoint)
	}
	return out, nil
}

func (b *LocalBus) ResolveType(typeName string) (TypeHandle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	if _, ok := b.types[typeName]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	return localTypeHandle{name: typeName}, nil
}

func (b *LocalBus) Subscribe(t TypeHandle, topic string, profile Profile, h Handler) (func(), error) {
	if _, ok := t.(localTypeHandle); !ok {
		return nil, fmt.Errorf("bus: foreign type handle %T", t)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.nodes[nodeKey(b.self)] = b.self
	lt := b.topics[topic]
	if lt == nil {
		lt = &localTopic{}
		b.topics[topic] = lt
	}
	sub := &localSub{
		endpoint: EndpointInfo{NodeName: b.self.Name, Namespace: b.self.Namespace, Profile: profile},
		h:        h,
	}
	lt.subs = append(lt.subs, sub)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range lt.subs {
			if s == sub {
				lt.subs = append(lt.subs[:i], lt.subs[i+1:]...)
				return
			}
		}
	}, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.topics = make(map[string]*localTopic)
	b.nodes = make(map[string]NodeInfo)
	return nil
}
