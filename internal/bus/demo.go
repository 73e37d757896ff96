package bus

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

// StartDemoPublishers attaches a handful of synthetic sensor publishers to
// a local bus so the service has something to show without real hardware:
// a range scanner, a mono camera, a point cloud, and a plain status topic.
// Runs until the context is cancelled.
func StartDemoPublishers(ctx context.Context, b *LocalBus) {
	scanNode := NodeInfo{Name: "lidar_driver", Namespace: "/sensors"}
	camNode := NodeInfo{Name: "camera_driver", Namespace: "/sensors"}
	statusNode := NodeInfo{Name: "system_monitor", Namespace: "/"}

	scan := b.Advertise(scanNode, "/scan", "sensor_msgs/msg/LaserScan",
		Profile{Reliability: BestEffort, Durability: Volatile})
	cloud := b.Advertise(scanNode, "/points", "sensor_msgs/msg/PointCloud2",
		Profile{Reliability: BestEffort, Durability: Volatile})
	cam := b.Advertise(camNode, "/camera/image_raw", "sensor_msgs/msg/Image",
		Profile{Reliability: Reliable, Durability: Volatile})
	status := b.Advertise(statusNode, "/status", "std_msgs/msg/String",
		Profile{Reliability: Reliable, Durability: Volatile})

	go func() {
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		phase := 0.0
		for {
			select {
			case <-ctx.Done():
				scan.Close()
				cloud.Close()
				return
			case <-t.C:
				phase += 0.05
				scan.Publish(demoScan(phase))
				cloud.Publish(demoCloud(phase))
			}
		}
	}()
	go func() {
		t := time.NewTicker(200 * time.Millisecond)
		defer t.Stop()
		shift := 0
		for {
			select {
			case <-ctx.Done():
				cam.Close()
				status.Close()
				return
			case <-t.C:
				shift++
				cam.Publish(demoImage(shift))
				status.Publish(NewMessage("std_msgs/msg/String").Set("data", "ok"))
			}
		}
	}()
}

func demoScan(phase float64) *Message {
	const n = 360
	ranges := make([]float32, n)
	intensities := make([]float32, n)
	for i := range ranges {
		a := float64(i) * 2 * math.Pi / n
		ranges[i] = float32(2.0 + math.Sin(a*3+phase))
		intensities[i] = float32(100 + 50*math.Cos(a+phase))
	}
	return NewMessage("sensor_msgs/msg/LaserScan").
		Set("angle_min", float32(0)).
		Set("angle_max", float32(2*math.Pi)).
		Set("angle_increment", float32(2*math.Pi/n)).
		Set("range_min", float32(0.1)).
		Set("range_max", float32(10.0)).
		Set("ranges", ranges).
		Set("intensities", intensities)
}

func demoCloud(phase float64) *Message {
	const n = 1024
	data := make([]byte, n*12)
	for i := 0; i < n; i++ {
		a := float64(i) * 2 * math.Pi / n
		x := float32(math.Cos(a + phase))
		y := float32(math.Sin(a + phase))
		z := float32(0.5 * math.Sin(a*4+phase))
		binary.LittleEndian.PutUint32(data[i*12:], math.Float32bits(x))
		binary.LittleEndian.PutUint32(data[i*12+4:], math.Float32bits(y))
		binary.LittleEndian.PutUint32(data[i*12+8:], math.Float32bits(z))
	}
	field := func(name string, offset uint32) *Message {
		return NewMessage("sensor_msgs/msg/PointField").
			Set("name", name).
			Set("offset", offset).
			Set("datatype", uint8(7)). // float32
			Set("count", uint32(1))
	}
	return NewMessage("sensor_msgs/msg/PointCloud2").
		Set("width", uint32(n)).
		Set("height", uint32(1)).
		Set("fields", []*Message{field("x", 0), field("y", 4), field("z", 8)}).
		Set("point_step", uint32(12)).
		Set("row_step", uint32(n*12)).
		Set("data", data)
}

func demoImage(shift int) *Message {
	const w, h = 160, 120
	data := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = byte((x + y + shift*4) % 256)
		}
	}
	return NewMessage("sensor_msgs/msg/Image").
		Set("width", uint32(w)).
		Set("height", uint32(h)).
		Set("step", uint32(w)).
		Set("encoding", "mono8").
		Set("data", data)
}
