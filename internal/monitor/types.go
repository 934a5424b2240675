package monitor

import (
	"time"

	"github.com/dj-oyu/crashwatch/internal/analysis"
	"github.com/dj-oyu/crashwatch/pkg/types"
)

// BoundingBox is the JSON shape of a detection box.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Detection is the JSON shape of one detection in a frame event.
type Detection struct {
	ClassID    int         `json:"class_id"`
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
	Crash      bool        `json:"crash"` // takes part in a crash event
}

// FrameEvent is the payload for /api/detections/stream and history entries.
type FrameEvent struct {
	FrameNumber     uint64             `json:"frame_number"`
	Timestamp       float64            `json:"timestamp"`
	Version         int                `json:"version"`
	ObjectsDetected int                `json:"objects_detected"`
	Counts          map[string]int     `json:"counts"`
	PotentialCrash  bool               `json:"potential_crash"`
	ConfidenceAvg   float64            `json:"confidence_avg"`
	Detections      []Detection        `json:"detections"`
	CrashEvents     []types.CrashEvent `json:"crash_events"`
}

// AnalyzerStats is the overlay status of the analyzer session.
type AnalyzerStats struct {
	DetectionCount uint64   `json:"detection_count"`
	LastCrashTime  *float64 `json:"last_crash_time"` // null until the first crash
	FrameNumber    uint64   `json:"frame_number"`
	Running        bool     `json:"running"`
	IoUThreshold   float64  `json:"iou_threshold"`
}

// StatusPayload is served by /api/status and /api/status/stream.
type StatusPayload struct {
	Analyzer     AnalyzerStats `json:"analyzer"`
	Latest       *FrameEvent   `json:"latest_summary"`
	CrashHistory []FrameEvent  `json:"crash_history"`
	Timestamp    float64       `json:"timestamp"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// newFrameEvent converts a summary to its wire shape.
func newFrameEvent(summary types.FrameSummary, frameNumber uint64, version int, classes analysis.ClassTable) FrameEvent {
	inCrash := make(map[int]bool, 2*len(summary.CrashEvents))
	for _, e := range summary.CrashEvents {
		inCrash[e.Pair[0]] = true
		inCrash[e.Pair[1]] = true
	}

	dets := make([]Detection, len(summary.Detections))
	for i, d := range summary.Detections {
		dets[i] = Detection{
			ClassID:    d.ClassID,
			ClassName:  classes.Name(d.ClassID),
			Confidence: d.Confidence,
			BBox:       BoundingBox{X1: d.Box.X1, Y1: d.Box.Y1, X2: d.Box.X2, Y2: d.Box.Y2},
			Crash:      inCrash[i],
		}
	}

	counts := make(map[string]int, len(summary.Counts))
	for _, c := range summary.Counts {
		counts[c.Name] = c.Count
	}

	events := summary.CrashEvents
	if events == nil {
		events = []types.CrashEvent{}
	}

	return FrameEvent{
		FrameNumber:     frameNumber,
		Timestamp:       unixSeconds(summary.Timestamp),
		Version:         version,
		ObjectsDetected: summary.ObjectsDetected,
		Counts:          counts,
		PotentialCrash:  summary.PotentialCrash,
		ConfidenceAvg:   summary.ConfidenceAvg,
		Detections:      dets,
		CrashEvents:     events,
	}
}
