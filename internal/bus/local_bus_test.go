package bus

import (
	"testing"
)

func TestLocalBusDeliversToCompatibleSubscriber(t *testing.T) {
	b := NewLocalBus()
	pub := b.Advertise(NodeInfo{Name: "lidar", Namespace: "/sensors"}, "/scan", "sensor_msgs/msg/LaserScan",
		Profile{Reliability: BestEffort, Durability: Volatile})

	handle, err := b.ResolveType("sensor_msgs/msg/LaserScan")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got := make(chan *Message, 1)
	unsub, err := b.Subscribe(handle, "/scan", Profile{Reliability: BestEffort, Durability: Volatile}, func(m *Message) {
		got <- m
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	pub.Publish(NewMessage("sensor_msgs/msg/LaserScan").Set("range_min", float32(0.1)))
	select {
	case m := <-got:
		if m.Type != "sensor_msgs/msg/LaserScan" {
			t.Fatalf("unexpected type %q", m.Type)
		}
	default:
		t.Fatal("message not delivered")
	}
}

func TestLocalBusFiltersIncompatibleProfiles(t *testing.T) {
	b := NewLocalBus()
	pub := b.Advertise(NodeInfo{Name: "cam", Namespace: "/"}, "/image", "sensor_msgs/msg/Image",
		Profile{Reliability: BestEffort, Durability: Volatile})
	handle, err := b.ResolveType("sensor_msgs/msg/Image")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	delivered := false
	unsub, err := b.Subscribe(handle, "/image", Profile{Reliability: Reliable, Durability: Volatile}, func(m *Message) {
		delivered = true
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	pub.Publish(NewMessage("sensor_msgs/msg/Image"))
	if delivered {
		t.Fatal("reliable subscriber must not receive from best-effort publisher")
	}
}

func TestLocalBusTopology(t *testing.T) {
	b := NewLocalBus()
	b.AddNode("planner", "/nav")
	b.Advertise(NodeInfo{Name: "lidar", Namespace: "/sensors"}, "/scan", "sensor_msgs/msg/LaserScan", DefaultProfile())

	nodes, err := b.ListNodes()
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}

	topics, err := b.ListTopics()
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	if len(topics) != 1 || topics[0].Name != "/scan" {
		t.Fatalf("unexpected topics: %+v", topics)
	}
	if len(topics[0].Types) != 1 || topics[0].Types[0] != "sensor_msgs/msg/LaserScan" {
		t.Fatalf("unexpected types: %+v", topics[0].Types)
	}

	pubs, err := b.ListPublishers("/scan")
	if err != nil {
		t.Fatalf("list publishers: %v", err)
	}
	if len(pubs) != 1 || pubs[0].NodeName != "lidar" || pubs[0].Namespace != "/sensors" {
		t.Fatalf("unexpected publishers: %+v", pubs)
	}
}

func TestLocalBusResolveUnknownType(t *testing.T) {
	b := NewLocalBus()
	if _, err := b.ResolveType("nonexistent_msgs/msg/Nope"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestLocalBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewLocalBus()
	pub := b.Advertise(NodeInfo{Name: "n", Namespace: "/"}, "/t", "std_msgs/msg/String", DefaultProfile())
	handle, _ := b.ResolveType("std_msgs/msg/String")

	count := 0
	unsub, err := b.Subscribe(handle, "/t", DefaultProfile(), func(m *Message) { count++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	pub.Publish(NewMessage("std_msgs/msg/String"))
	unsub()
	pub.Publish(NewMessage("std_msgs/msg/String"))
	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}

	subsEps, _ := b.ListSubscribers("/t")
	if len(subsEps) != 0 {
		t.Fatalf("subscriber endpoint should be gone, got %+v", subsEps)
	}
}

func TestProfileWiden(t *testing.T) {
	p := DefaultProfile()
	p = p.Widen(Profile{Reliability: BestEffort, Durability: Volatile})
	if p.Reliability != BestEffort {
		t.Fatalf("expected best_effort after widening, got %s", p.Reliability)
	}
	// Widening never tightens back.
	p = p.Widen(Profile{Reliability: Reliable, Durability: Persisted})
	if p.Reliability != BestEffort {
		t.Fatalf("widening must not tighten, got %s", p.Reliability)
	}
}
