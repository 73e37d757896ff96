// Package bus abstracts the pub/sub middleware the service bridges to the
// web: topology discovery (nodes, topics, pub/sub endpoints), message type
// resolution, and callback-driven subscriptions with negotiated delivery
// profiles. Two implementations exist: an in-memory LocalBus used for tests
// and embedded simulation, and a NATS-backed binding behind the 'nats'
// build tag.
package bus

import "errors"

var (
	ErrUnknownType = errors.New("bus: unknown message type")
	ErrClosed      = errors.New("bus: closed")
)

type Reliability string

const (
	Reliable   Reliability = "reliable"
	BestEffort Reliability = "best_effort"
)

type Durability string

const (
	Volatile  Durability = "volatile"
	Persisted Durability = "persisted"
)

// Profile is the delivery-guarantee pair negotiated between a publisher and
// a subscriber. A reliable subscriber cannot receive from a best-effort
// publisher, and a persisted subscriber cannot receive from a volatile one.
type Profile struct {
	Reliability Reliability `json:"reliability"`
	Durability  Durability  `json:"durability"`
}

// DefaultProfile is the starting point for widening: the strictest profile.
func DefaultProfile() Profile {
	return Profile{Reliability: Reliable, Durability: Volatile}
}

// Widen relaxes p toward whatever other requires, so that a subscription
// opened with the result is compatible with a publisher using other.
func (p Profile) Widen(other Profile) Profile {
	if other.Reliability == BestEffort {
		p.Reliability = BestEffort
	}
	if other.Durability == Volatile {
		p.Durability = Volatile
	}
	return p
}

// Compatible reports whether a subscription with profile sub can receive
// from a publisher with profile pub.
func Compatible(pub, sub Profile) bool {
	if pub.Reliability == BestEffort && sub.Reliability == Reliable {
		return false
	}
	if pub.Durability == Volatile && sub.Durability == Persisted {
		return false
	}
	return true
}

type NodeInfo struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

type TopicInfo struct {
	Name  string   `json:"name"`
	Types []string `json:"types"`
}

// EndpointInfo describes one publisher or subscriber attached to a topic.
type EndpointInfo struct {
	NodeName  string  `json:"node_name"`
	Namespace string  `json:"namespace"`
	Profile   Profile `json:"profile"`
}

// TypeHandle is an opaque resolved message type, produced by ResolveType
// and consumed by Subscribe.
type TypeHandle interface {
	TypeName() string
}

// Handler receives messages on the bus's own delivery goroutine. Handlers
// must not block for long; expensive work belongs off that goroutine.
type Handler func(*Message)

// Bus is the capability contract the bridge consumes. Implementations own
// discovery and delivery; callers own nothing but the unsubscribe funcs
// they are handed.
type Bus interface {
	ListNodes() ([]NodeInfo, error)
	ListTopics() ([]TopicInfo, error)
	ListPublishers(topic string) ([]EndpointInfo, error)
	ListSubscribers(topic string) ([]EndpointInfo, error)

	// ResolveType resolves a declared type name, failing with
	// ErrUnknownType if nothing on the bus has advertised it.
	ResolveType(typeName string) (TypeHandle, error)

	// Subscribe opens a subscription with the given delivery profile and
	// returns an unsubscribe func. The handler runs on the bus's delivery
	// goroutine.
	Subscribe(t TypeHandle, topic string, profile Profile, h Handler) (unsubscribe func(), err error)

	Close() error
}
