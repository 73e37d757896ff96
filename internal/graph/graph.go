// Package graph derives point-in-time topology snapshots from the bus:
// nodes, topics, and the pub/sub edges between them, in a shape the
// viewer renders directly and the broadcast loop can diff by value.
package graph

import (
	"reflect"
	"sort"
	"strings"

	"github.com/rosview/rosview-backend/internal/bus"
)

type NodeView struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	Label     string `json:"label"`
}

type TopicView struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	MessageType     string `json:"messageType"`
	PublisherCount  int    `json:"publisherCount"`
	SubscriberCount int    `json:"subscriberCount"`
}

type EdgeView struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind"` // publisher | subscriber
}

type Snapshot struct {
	Nodes  []NodeView  `json:"nodes"`
	Topics []TopicView `json:"topics"`
	Edges  []EdgeView  `json:"edges"`
}

// FullName joins a namespace and node name into the canonical slash form:
// doubled separators collapsed, leading separator guaranteed. This is the
// join key between topology views and subscription lookups.
func FullName(namespace, name string) string {
	full := namespace + "/" + name
	for strings.Contains(full, "//") {
		full = strings.ReplaceAll(full, "//", "/")
	}
	if !strings.HasPrefix(full, "/") {
		full = "/" + full
	}
	return full
}

// Build queries the bus and assembles a snapshot. Output ordering is
// deterministic so two builds of the same topology compare equal.
func Build(b bus.Bus) (*Snapshot, error) {
	nodeInfos, err := b.ListNodes()
	if err != nil {
		return nil, err
	}
	topicInfos, err := b.ListTopics()
	if err != nil {
		return nil, err
	}

	s := &Snapshot{}
	nodeIDs := make(map[string]string, len(nodeInfos))
	for _, n := range nodeInfos {
		full := FullName(n.Namespace, n.Name)
		id := "node-" + full
		nodeIDs[full] = id
		ns := n.Namespace
		if ns == "/" {
			ns = ""
		}
		s.Nodes = append(s.Nodes, NodeView{ID: id, Namespace: ns, Label: full})
	}

	for _, t := range topicInfos {
		topicID := "topic-" + t.Name
		messageType := "unknown"
		if len(t.Types) > 0 {
			messageType = t.Types[0]
		}
		pubs, err := b.ListPublishers(t.Name)
		if err != nil {
			return nil, err
		}
		subsEps, err := b.ListSubscribers(t.Name)
		if err != nil {
			return nil, err
		}
		s.Topics = append(s.Topics, TopicView{
			ID:              topicID,
			Label:           t.Name,
			MessageType:     messageType,
			PublisherCount:  len(pubs),
			SubscriberCount: len(subsEps),
		})
		for _, p := range pubs {
			full := FullName(p.Namespace, p.NodeName)
			if nodeID, known := nodeIDs[full]; known {
				s.Edges = append(s.Edges, EdgeView{
					ID:     nodeID + "-" + topicID + "-pub",
					Source: nodeID,
					Target: topicID,
					Kind:   "publisher",
				})
			}
		}
		for _, sub := range subsEps {
			full := FullName(sub.Namespace, sub.NodeName)
			if nodeID, known := nodeIDs[full]; known {
				s.Edges = append(s.Edges, EdgeView{
					ID:     topicID + "-" + nodeID + "-sub",
					Source: topicID,
					Target: nodeID,
					Kind:   "subscriber",
				})
			}
		}
	}

	sort.Slice(s.Nodes, func(i, j int) bool { return s.Nodes[i].ID < s.Nodes[j].ID })
	sort.Slice(s.Topics, func(i, j int) bool { return s.Topics[i].ID < s.Topics[j].ID })
	sort.Slice(s.Edges, func(i, j int) bool { return s.Edges[i].ID < s.Edges[j].ID })
	return s, nil
}

// Equal compares two snapshots by value. Build output is sorted, so this
// is a stable diff basis for the broadcast loop.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return reflect.DeepEqual(s, o)
}

// TypeForTopic resolves a topic's declared message type from the
// topology, or "" if the topic does not exist.
func TypeForTopic(b bus.Bus, topic string) (string, bool) {
	topics, err := b.ListTopics()
	if err != nil {
		return "", false
	}
	for _, t := range topics {
		if t.Name == topic {
			if len(t.Types) > 0 {
				return t.Types[0], true
			}
			return "unknown", true
		}
	}
	return "", false
}

// NodeDetail is the per-node drill-down the REST API serves.
type NodeDetail struct {
	Name        string   `json:"name"`
	Namespace   string   `json:"namespace"`
	Publishers  []string `json:"publishers"`
	Subscribers []string `json:"subscribers"`
}

// NodeDetails resolves one node by canonical full name; nil when absent.
func NodeDetails(b bus.Bus, fullName string) (*NodeDetail, error) {
	nodes, err := b.ListNodes()
	if err != nil {
		return nil, err
	}
	var found *bus.NodeInfo
	for i, n := range nodes {
		if FullName(n.Namespace, n.Name) == fullName {
			found = &nodes[i]
			break
		}
	}
	if found == nil {
		return nil, nil
	}
	topics, err := b.ListTopics()
	if err != nil {
		return nil, err
	}
	detail := &NodeDetail{
		Name:        fullName,
		Namespace:   found.Namespace,
		Publishers:  []string{},
		Subscribers: []string{},
	}
	for _, t := range topics {
		pubs, err := b.ListPublishers(t.Name)
		if err != nil {
			return nil, err
		}
		for _, p := range pubs {
			if FullName(p.Namespace, p.NodeName) == fullName {
				detail.Publishers = append(detail.Publishers, t.Name)
				break
			}
		}
		subsEps, err := b.ListSubscribers(t.Name)
		if err != nil {
			return nil, err
		}
		for _, sub := range subsEps {
			if FullName(sub.Namespace, sub.NodeName) == fullName {
				detail.Subscribers = append(detail.Subscribers, t.Name)
				break
			}
		}
	}
	return detail, nil
}

// TopicDetail is the per-topic drill-down the REST API serves.
type TopicDetail struct {
	Name        string   `json:"name"`
	Types       []string `json:"types"`
	Publishers  []string `json:"publishers"`
	Subscribers []string `json:"subscribers"`
}

// TopicDetails resolves one topic by name; nil when absent.
func TopicDetails(b bus.Bus, topic string) (*TopicDetail, error) {
	topics, err := b.ListTopics()
	if err != nil {
		return nil, err
	}
	var found *bus.TopicInfo
	for i, t := range topics {
		if t.Name == topic {
			found = &topics[i]
			break
		}
	}
	if found == nil {
		return nil, nil
	}
	pubs, err := b.ListPublishers(topic)
	if err != nil {
		return nil, err
	}
	subsEps, err := b.ListSubscribers(topic)
	if err != nil {
		return nil, err
	}
	detail := &TopicDetail{
		Name:        topic,
		Types:       found.Types,
		Publishers:  []string{},
		Subscribers: []string{},
	}
	for _, p := range pubs {
		detail.Publishers = append(detail.Publishers, FullName(p.Namespace, p.NodeName))
	}
	for _, sub := range subsEps {
		detail.Subscribers = append(detail.Subscribers, FullName(sub.Namespace, sub.NodeName))
	}
	return detail, nil
}
