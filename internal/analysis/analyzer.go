// Package analysis turns one frame's detector output into a FrameSummary:
// per-class counts, pairwise overlap analysis and crash-event flags.
package analysis

import (
	"time"

	"github.com/dj-oyu/crashwatch/pkg/types"
)

// DefaultIoUThreshold is the overlap above which two objects of
// different classes are flagged as a potential crash.
const DefaultIoUThreshold = 0.4

// FrameAnalyzer applies the crash heuristic frame by frame and keeps the
// session counters. It is not safe for concurrent use: give each capture
// loop its own analyzer.
type FrameAnalyzer struct {
	threshold float64
	classes   ClassTable
	now       func() time.Time

	detectionCount uint64
	lastCrashTime  time.Time
}

// Option configures a FrameAnalyzer
type Option func(*FrameAnalyzer)

// WithIoUThreshold sets the proximity threshold (strict > comparison)
func WithIoUThreshold(threshold float64) Option {
	return func(a *FrameAnalyzer) {
		a.threshold = threshold
	}
}

// WithClassTable replaces the tracked class table
func WithClassTable(table ClassTable) Option {
	return func(a *FrameAnalyzer) {
		a.classes = table
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(a *FrameAnalyzer) {
		a.now = now
	}
}

// NewFrameAnalyzer creates an analyzer with fresh session counters
func NewFrameAnalyzer(opts ...Option) *FrameAnalyzer {
	a := &FrameAnalyzer{
		threshold: DefaultIoUThreshold,
		classes:   DefaultClassTable(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze validates raw detector output and analyzes it. A validation
// error leaves the session counters untouched.
func (a *FrameAnalyzer) Analyze(raw types.RawDetections) (types.FrameSummary, error) {
	set, err := Validate(raw)
	if err != nil {
		return types.FrameSummary{}, err
	}
	return a.AnalyzeSet(set), nil
}

// AnalyzeSet analyzes a set produced by Validate.
//
// An empty set returns a zero summary without touching the counters: the
// frame counter only advances for frames that contained detections.
func (a *FrameAnalyzer) AnalyzeSet(set types.DetectionSet) types.FrameSummary {
	summary := types.FrameSummary{
		Timestamp:   a.now().Truncate(time.Millisecond),
		Counts:      a.zeroCounts(),
		CrashEvents: []types.CrashEvent{},
		Detections:  set,
	}
	if len(set) == 0 {
		summary.Detections = types.DetectionSet{}
		return summary
	}

	a.detectionCount++

	summary.ObjectsDetected = len(set)
	index := make(map[int]int, len(summary.Counts))
	for i, c := range summary.Counts {
		index[c.ClassID] = i
	}

	var confSum float64
	for _, det := range set {
		if i, ok := index[det.ClassID]; ok {
			summary.Counts[i].Count++
		}
		confSum += det.Confidence
	}
	summary.ConfidenceAvg = confSum / float64(len(set))

	if events := FindCrashEvents(set, a.threshold, a.classes); len(events) > 0 {
		summary.CrashEvents = events
		summary.PotentialCrash = true
		a.lastCrashTime = summary.Timestamp
	}

	return summary
}

// Status returns a snapshot of the session counters
func (a *FrameAnalyzer) Status() types.Status {
	return types.Status{
		DetectionCount: a.detectionCount,
		LastCrashTime:  a.lastCrashTime,
		HasCrash:       !a.lastCrashTime.IsZero(),
	}
}

// IoUThreshold returns the configured proximity threshold
func (a *FrameAnalyzer) IoUThreshold() float64 {
	return a.threshold
}

// ClassTable returns the tracked class table
func (a *FrameAnalyzer) ClassTable() ClassTable {
	return a.classes
}

func (a *FrameAnalyzer) zeroCounts() []types.ClassCount {
	ids := a.classes.IDs()
	counts := make([]types.ClassCount, len(ids))
	for i, id := range ids {
		counts[i] = types.ClassCount{ClassID: id, Name: a.classes.Name(id)}
	}
	return counts
}
