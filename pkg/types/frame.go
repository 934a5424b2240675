package types

import "time"

// Box is an axis-aligned bounding box in pixel coordinates
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Area returns the box area, 0 for degenerate boxes
func (b Box) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Detection is one object reported by the detector for a single frame
type Detection struct {
	Box        Box     `json:"box"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
}

// DetectionSet holds every detection of one frame (order is irrelevant)
type DetectionSet []Detection

// RawDetections is the detector output as three parallel arrays.
// Empty or nil arrays mean "no detections".
type RawDetections struct {
	Boxes       [][4]float64 `json:"boxes"`
	Classes     []int        `json:"classes"`
	Confidences []float64    `json:"confidences"`
}

// Len returns the number of boxes in the raw output
func (r RawDetections) Len() int {
	return len(r.Boxes)
}

// IsEmpty reports whether the detector signalled "no detections": an
// absent or empty box or confidence array, whatever the class array holds
func (r RawDetections) IsEmpty() bool {
	return len(r.Boxes) == 0 || len(r.Confidences) == 0
}

// CrashEvent is a cross-class overlap above the proximity threshold
type CrashEvent struct {
	Type       string  `json:"type"` // e.g. "car-person_collision"
	ClassA     int     `json:"class_a"`
	ClassB     int     `json:"class_b"`
	IoU        float64 `json:"iou"`
	Confidence float64 `json:"confidence"` // min confidence of the pair
	Pair       [2]int  `json:"pair"`       // indices into FrameSummary.Detections
}

// ClassCount is the per-frame count of one tracked class
type ClassCount struct {
	ClassID int    `json:"class_id"`
	Name    string `json:"name"`
	Count   int    `json:"count"`
}

// FrameSummary is the analysis result for one frame
type FrameSummary struct {
	Timestamp       time.Time    `json:"timestamp"`
	ObjectsDetected int          `json:"objects_detected"`
	Counts          []ClassCount `json:"counts"`
	PotentialCrash  bool         `json:"potential_crash"`
	CrashEvents     []CrashEvent `json:"crash_events"`
	ConfidenceAvg   float64      `json:"confidence_avg"`
	Detections      DetectionSet `json:"detections"`
}

// Count returns the count of a tracked class by name (0 if untracked)
func (s FrameSummary) Count(name string) int {
	for _, c := range s.Counts {
		if c.Name == name {
			return c.Count
		}
	}
	return 0
}

// TrackedTotal returns the sum of all tracked class counts
func (s FrameSummary) TrackedTotal() int {
	total := 0
	for _, c := range s.Counts {
		total += c.Count
	}
	return total
}

// Status is a read-only snapshot of the analyzer session counters
type Status struct {
	DetectionCount uint64    `json:"detection_count"`
	LastCrashTime  time.Time `json:"last_crash_time"`
	HasCrash       bool      `json:"has_crash"`
}
