package monitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/crashwatch/internal/logger"
)

// fanout delivers values to subscribers without blocking; a slow client
// misses values rather than stalling the others.
type fanout[T any] struct {
	name    string
	gauge   *atomic.Int64 // may be nil
	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
}

func newFanout[T any](name string, gauge *atomic.Int64) *fanout[T] {
	return &fanout[T]{name: name, gauge: gauge, clients: make(map[int]chan T)}
}

// Subscribe adds a client and returns its id and receive channel.
func (f *fanout[T]) Subscribe() (int, <-chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan T, 2)
	f.clients[id] = ch
	if f.gauge != nil {
		f.gauge.Add(1)
	}
	logger.Debug(f.name, "Client #%d subscribed (total clients: %d)", id, len(f.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (f *fanout[T]) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.clients[id]
	if !ok {
		return
	}
	close(ch)
	delete(f.clients, id)
	if f.gauge != nil {
		f.gauge.Add(-1)
	}
	logger.Debug(f.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(f.clients))
}

// Len reports the number of subscribers.
func (f *fanout[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fanout[T]) broadcast(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.clients {
		select {
		case ch <- v:
		default:
		}
	}
}

func (f *fanout[T]) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.clients {
		close(ch)
		delete(f.clients, id)
		if f.gauge != nil {
			f.gauge.Add(-1)
		}
	}
}

// SerializedEvent holds one event in both SSE encodings so it is encoded
// once per frame rather than once per client.
type SerializedEvent struct {
	JSONData     []byte
	ProtobufData []byte // base64 of the binary message
}

func serializeFrameEvent(ev *FrameEvent) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	pb := marshalFrameEvent(ev)
	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pb)),
	}, nil
}

// DetectionBroadcaster pushes every published frame with at least one
// detection to /api/detections/stream clients.
type DetectionBroadcaster struct {
	*fanout[*SerializedEvent]
	monitor     *Monitor
	lastVersion int
}

// NewDetectionBroadcaster creates a broadcaster fed by monitor.
func NewDetectionBroadcaster(monitor *Monitor, gauge *atomic.Int64) *DetectionBroadcaster {
	return &DetectionBroadcaster{
		fanout:  newFanout[*SerializedEvent]("DetectionBroadcaster", gauge),
		monitor: monitor,
	}
}

// Run forwards frames until ctx is done.
func (db *DetectionBroadcaster) Run(ctx context.Context) {
	wake := db.monitor.Watch()
	defer db.closeAll()

	logger.Info("DetectionBroadcaster", "Starting detection event broadcaster")
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}

		ev, _, version := db.monitor.Latest()
		if ev == nil || version == db.lastVersion {
			continue
		}
		db.lastVersion = version
		if len(ev.Detections) == 0 || db.Len() == 0 {
			continue
		}

		event, err := serializeFrameEvent(ev)
		if err != nil {
			logger.Error("DetectionBroadcaster", "Serialize error: %v", err)
			continue
		}
		db.broadcast(event)
	}
}

// StatusBroadcaster pushes the status payload on a fixed interval.
type StatusBroadcaster struct {
	*fanout[[]byte]
	monitor  *Monitor
	interval time.Duration
}

// NewStatusBroadcaster creates a ticker driven status broadcaster.
func NewStatusBroadcaster(monitor *Monitor, interval time.Duration, gauge *atomic.Int64) *StatusBroadcaster {
	return &StatusBroadcaster{
		fanout:   newFanout[[]byte]("StatusBroadcaster", gauge),
		monitor:  monitor,
		interval: interval,
	}
}

// Run emits status until ctx is done.
func (sb *StatusBroadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()
	defer sb.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if sb.Len() == 0 {
			continue
		}
		data, err := json.Marshal(sb.monitor.Snapshot())
		if err != nil {
			logger.Error("StatusBroadcaster", "JSON marshal error: %v", err)
			continue
		}
		sb.broadcast(data)
	}
}

// FrameBroadcaster renders a schematic JPEG per published frame for
// MJPEG clients. Rendering is skipped while nobody watches.
type FrameBroadcaster struct {
	*fanout[[]byte]
	monitor       *Monitor
	width, height int
	lastVersion   int
	skipCount     int
}

// NewFrameBroadcaster creates a frame broadcaster with the given canvas.
func NewFrameBroadcaster(monitor *Monitor, width, height int, gauge *atomic.Int64) *FrameBroadcaster {
	return &FrameBroadcaster{
		fanout:  newFanout[[]byte]("FrameBroadcaster", gauge),
		monitor: monitor,
		width:   width,
		height:  height,
	}
}

// Run renders frames until ctx is done.
func (fb *FrameBroadcaster) Run(ctx context.Context) {
	wake := fb.monitor.Watch()
	defer fb.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}

		if fb.Len() == 0 {
			fb.skipCount++
			if fb.skipCount%300 == 0 {
				logger.Debug("FrameBroadcaster", "No clients connected, skipped %d frames", fb.skipCount)
			}
			continue
		}
		fb.skipCount = 0

		ev, _, version := fb.monitor.Latest()
		if ev == nil || version == fb.lastVersion {
			continue
		}
		fb.lastVersion = version

		data, err := renderFrame(ev, fb.width, fb.height)
		if err != nil {
			logger.Warn("FrameBroadcaster", "Render failed: %v", err)
			continue
		}
		fb.broadcast(data)
	}
}
