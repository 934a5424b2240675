// Package detector adapts external object detectors to the analyzer. No
// inference runs here: a Detector only delivers what some model produced.
package detector

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/dj-oyu/crashwatch/pkg/types"
)

// ErrNoFrame means the detector has nothing new for this poll.
var ErrNoFrame = errors.New("no new frame")

// Detector supplies one frame of raw detections per call. Implementations
// return io.EOF once the feed has ended.
type Detector interface {
	Detect(ctx context.Context) (types.RawDetections, error)
	Close() error
}

// Filter applies the upstream confidence threshold and detection cap
// that a detector call would normally be configured with.
type Filter struct {
	Detector
	MinConfidence float64
	MaxDetections int // 0 = unlimited
}

// NewFilter wraps d with the given threshold and cap.
func NewFilter(d Detector, minConfidence float64, maxDetections int) *Filter {
	return &Filter{Detector: d, MinConfidence: minConfidence, MaxDetections: maxDetections}
}

// Detect implements Detector
func (f *Filter) Detect(ctx context.Context) (types.RawDetections, error) {
	raw, err := f.Detector.Detect(ctx)
	if err != nil {
		return raw, err
	}
	return FilterRaw(raw, f.MinConfidence, f.MaxDetections), nil
}

// FilterRaw drops detections below minConfidence and keeps at most limit of
// the most confident ones. Misaligned arrays and out-of-range confidences
// are returned unchanged so the analyzer can reject them.
func FilterRaw(raw types.RawDetections, minConfidence float64, limit int) types.RawDetections {
	n := len(raw.Boxes)
	if len(raw.Classes) != n || len(raw.Confidences) != n {
		return raw
	}
	for _, c := range raw.Confidences {
		if math.IsNaN(c) || c < 0 || c > 1 {
			return raw
		}
	}

	keep := make([]int, 0, n)
	for i, c := range raw.Confidences {
		if c >= minConfidence {
			keep = append(keep, i)
		}
	}
	if limit > 0 && len(keep) > limit {
		sort.SliceStable(keep, func(a, b int) bool {
			return raw.Confidences[keep[a]] > raw.Confidences[keep[b]]
		})
		keep = keep[:limit]
		sort.Ints(keep)
	}
	if len(keep) == n {
		return raw
	}

	out := types.RawDetections{
		Boxes:       make([][4]float64, 0, len(keep)),
		Classes:     make([]int, 0, len(keep)),
		Confidences: make([]float64, 0, len(keep)),
	}
	for _, i := range keep {
		out.Boxes = append(out.Boxes, raw.Boxes[i])
		out.Classes = append(out.Classes, raw.Classes[i])
		out.Confidences = append(out.Confidences, raw.Confidences[i])
	}
	return out
}
