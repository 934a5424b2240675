package analysis

import (
	"math"

	"github.com/dj-oyu/crashwatch/pkg/types"
)

// IoU returns the intersection-over-union of two axis-aligned boxes.
// A non-positive union (both boxes degenerate) yields 0.
func IoU(a, b types.Box) float64 {
	iw := math.Max(0, math.Min(a.X2, b.X2)-math.Max(a.X1, b.X1))
	ih := math.Max(0, math.Min(a.Y2, b.Y2)-math.Max(a.Y1, b.Y1))
	intersection := iw * ih

	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}

	iou := intersection / union
	// float rounding can push identical boxes a hair past 1
	if iou > 1 {
		return 1
	}
	return iou
}

// FindCrashEvents compares every unordered pair of detections and returns
// one event per pair of different classes whose IoU is strictly above
// threshold. Same-class overlaps are clustering, not collisions.
func FindCrashEvents(set types.DetectionSet, threshold float64, classes ClassTable) []types.CrashEvent {
	var events []types.CrashEvent
	for i := 0; i < len(set); i++ {
		for j := i + 1; j < len(set); j++ {
			a, b := set[i], set[j]
			if a.ClassID == b.ClassID {
				continue
			}
			iou := IoU(a.Box, b.Box)
			if iou <= threshold {
				continue
			}
			events = append(events, types.CrashEvent{
				Type:       classes.Name(a.ClassID) + "-" + classes.Name(b.ClassID) + "_collision",
				ClassA:     a.ClassID,
				ClassB:     b.ClassID,
				IoU:        iou,
				Confidence: math.Min(a.Confidence, b.Confidence),
				Pair:       [2]int{i, j},
			})
		}
	}
	return events
}
