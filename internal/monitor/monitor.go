package monitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/crashwatch/internal/analysis"
	"github.com/dj-oyu/crashwatch/internal/capture"
	"github.com/dj-oyu/crashwatch/pkg/types"
)

// Monitor keeps the latest analyzed frame and a short crash history for
// the HTTP API. Publish is called from the capture loop; everything else
// from HTTP handlers and broadcasters.
type Monitor struct {
	classes     analysis.ClassTable
	threshold   float64
	historySize int

	mu       sync.Mutex
	version  int
	status   capture.Status
	summary  *types.FrameSummary
	latest   *FrameEvent
	history  []FrameEvent
	watchers []chan struct{}
}

// NewMonitor creates an empty Monitor.
func NewMonitor(classes analysis.ClassTable, threshold float64, historySize int) *Monitor {
	if historySize <= 0 {
		historySize = 8
	}
	return &Monitor{
		classes:     classes,
		threshold:   threshold,
		historySize: historySize,
	}
}

// Publish implements capture.Publisher.
func (m *Monitor) Publish(summary types.FrameSummary, status capture.Status) {
	m.mu.Lock()
	m.version++
	event := newFrameEvent(summary, status.FrameNumber, m.version, m.classes)
	m.status = status
	m.summary = &summary
	m.latest = &event
	if event.PotentialCrash {
		m.history = append([]FrameEvent{event}, m.history...)
		if len(m.history) > m.historySize {
			m.history = m.history[:m.historySize]
		}
	}
	watchers := m.watchers
	m.mu.Unlock()

	// coalescing wakeup: a broadcaster that is still busy sees the newest frame next
	for _, w := range watchers {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

// PublishStatus implements capture.Publisher. The latest frame is kept.
func (m *Monitor) PublishStatus(status capture.Status) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}

// Watch returns a channel that receives a signal after each Publish.
func (m *Monitor) Watch() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.watchers = append(m.watchers, ch)
	m.mu.Unlock()
	return ch
}

// Latest returns the most recent frame, its summary and version.
func (m *Monitor) Latest() (*FrameEvent, *types.FrameSummary, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, m.summary, m.version
}

// Snapshot returns the status payload.
func (m *Monitor) Snapshot() StatusPayload {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := AnalyzerStats{
		DetectionCount: m.status.DetectionCount,
		FrameNumber:    m.status.FrameNumber,
		Running:        m.status.Running,
		IoUThreshold:   m.threshold,
	}
	if m.status.HasCrash {
		ts := unixSeconds(m.status.LastCrashTime)
		stats.LastCrashTime = &ts
	}

	history := make([]FrameEvent, len(m.history))
	copy(history, m.history)

	return StatusPayload{
		Analyzer:     stats,
		Latest:       m.latest,
		CrashHistory: history,
		Timestamp:    unixSeconds(time.Now()),
	}
}
