// Package capture drives the per-frame pipeline: poll the detector, analyze
// the frame, log it, and publish it to the monitor.
package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dj-oyu/crashwatch/internal/analysis"
	"github.com/dj-oyu/crashwatch/internal/detector"
	"github.com/dj-oyu/crashwatch/internal/eventlog"
	"github.com/dj-oyu/crashwatch/internal/logger"
	"github.com/dj-oyu/crashwatch/internal/metrics"
	"github.com/dj-oyu/crashwatch/pkg/types"
)

// Publisher receives every analyzed frame (e.g. the web monitor).
// PublishStatus is called when the loop starts or stops without a new frame.
type Publisher interface {
	Publish(summary types.FrameSummary, status Status)
	PublishStatus(status Status)
}

// Status is the overlay status exposed to other goroutines
type Status struct {
	types.Status
	FrameNumber uint64 `json:"frame_number"`
	Running     bool   `json:"running"`
}

// Config holds capture loop settings
type Config struct {
	FrameInterval  time.Duration
	LogEmptyFrames bool
}

// Loop owns the analyzer; only the goroutine running Run touches it.
type Loop struct {
	cfg       Config
	detector  detector.Detector
	analyzer  *analysis.FrameAnalyzer
	sink      eventlog.Sink
	publisher Publisher
	metrics   *metrics.Metrics

	frameNumber uint64
	rejected    uint64

	mu     sync.Mutex
	status Status
}

// NewLoop wires a capture loop. sink and publisher may be nil.
func NewLoop(cfg Config, det detector.Detector, analyzer *analysis.FrameAnalyzer,
	sink eventlog.Sink, publisher Publisher, m *metrics.Metrics) *Loop {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 33 * time.Millisecond
	}
	if m == nil {
		m = metrics.New()
	}
	return &Loop{
		cfg:       cfg,
		detector:  det,
		analyzer:  analyzer,
		sink:      sink,
		publisher: publisher,
		metrics:   m,
	}
}

// Run polls the detector until ctx is cancelled or the feed ends.
func (l *Loop) Run(ctx context.Context) error {
	logger.Info("Capture", "Starting capture loop (interval %v, iou threshold %.2f)",
		l.cfg.FrameInterval, l.analyzer.IoUThreshold())

	l.setRunning(true)
	defer l.setRunning(false)

	ticker := time.NewTicker(l.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Capture", "Capture loop stopped after %d frames", l.frameNumber)
			return nil
		case <-ticker.C:
			if err := l.Step(ctx); err != nil {
				if errors.Is(err, io.EOF) {
					logger.Info("Capture", "Detector feed ended after %d frames", l.frameNumber)
					return nil
				}
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Step processes one detector poll. It returns io.EOF when the feed has
// ended; per-frame failures are counted and logged, not returned.
func (l *Loop) Step(ctx context.Context) error {
	l.metrics.FramesPolled.Add(1)

	raw, err := l.detector.Detect(ctx)
	switch {
	case err == nil:
	case errors.Is(err, detector.ErrNoFrame):
		l.metrics.FramesSkipped.Add(1)
		return nil
	case errors.Is(err, io.EOF):
		return io.EOF
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		l.metrics.DetectorErrors.Add(1)
		logger.Warn("Capture", "Detector error: %v", err)
		return nil
	}

	start := time.Now()
	summary, err := l.analyzer.Analyze(raw)
	if err != nil {
		// no analysis this frame; session counters are unchanged
		l.rejected++
		l.metrics.FramesRejected.Add(1)
		if l.rejected == 1 || l.rejected%100 == 0 {
			logger.Warn("Capture", "Rejected frame (%d so far): %v", l.rejected, err)
		}
		return nil
	}
	l.metrics.ObserveSummary(summary, time.Since(start))

	l.frameNumber++
	status := Status{Status: l.analyzer.Status(), FrameNumber: l.frameNumber, Running: true}
	l.mu.Lock()
	l.status = status
	l.mu.Unlock()

	if summary.PotentialCrash {
		logger.Debug("Capture", "Frame %d: %d crash events", l.frameNumber, len(summary.CrashEvents))
	}

	if l.sink != nil && (summary.ObjectsDetected > 0 || l.cfg.LogEmptyFrames) {
		if err := l.sink.LogDetection(summary, l.frameNumber); err != nil {
			l.metrics.LogErrors.Add(1)
			logger.Error("Capture", "Failed to log frame %d: %v", l.frameNumber, err)
		}
	}

	if l.publisher != nil {
		l.publisher.Publish(summary, status)
	}
	return nil
}

// Status returns the latest overlay status
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Loop) setRunning(running bool) {
	l.mu.Lock()
	l.status.Running = running
	status := l.status
	l.mu.Unlock()

	if l.publisher != nil {
		l.publisher.PublishStatus(status)
	}
}
