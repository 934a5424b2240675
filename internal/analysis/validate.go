package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/dj-oyu/crashwatch/pkg/types"
)

// ErrMalformedDetections is wrapped by every validation failure. Callers
// skip the frame; it is never confused with an empty frame.
var ErrMalformedDetections = errors.New("malformed detections")

// Validate converts the detector's parallel arrays into a DetectionSet.
// An absent box or confidence array means "no detections" and returns an
// empty set; lengths are only compared once both are present.
func Validate(raw types.RawDetections) (types.DetectionSet, error) {
	if raw.IsEmpty() {
		return types.DetectionSet{}, nil
	}

	n := len(raw.Boxes)
	if len(raw.Classes) != n || len(raw.Confidences) != n {
		return nil, fmt.Errorf("%w: %d boxes, %d classes, %d confidences",
			ErrMalformedDetections, n, len(raw.Classes), len(raw.Confidences))
	}

	set := make(types.DetectionSet, 0, n)
	for i := 0; i < n; i++ {
		b := raw.Boxes[i]
		for _, v := range b {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: detection %d has non-finite coordinate %v", ErrMalformedDetections, i, b)
			}
		}
		if b[2] < b[0] || b[3] < b[1] {
			return nil, fmt.Errorf("%w: detection %d box %v is inverted", ErrMalformedDetections, i, b)
		}
		if raw.Classes[i] < 0 {
			return nil, fmt.Errorf("%w: detection %d has negative class id %d", ErrMalformedDetections, i, raw.Classes[i])
		}
		conf := raw.Confidences[i]
		if math.IsNaN(conf) || conf < 0 || conf > 1 {
			return nil, fmt.Errorf("%w: detection %d confidence %v outside [0,1]", ErrMalformedDetections, i, conf)
		}

		set = append(set, types.Detection{
			Box:        types.Box{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]},
			ClassID:    raw.Classes[i],
			Confidence: conf,
		})
	}
	return set, nil
}
