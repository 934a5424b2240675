package detector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dj-oyu/crashwatch/pkg/types"
)

const maxLineSize = 1 << 20

// ReplayDetector plays back recorded detector output, one JSON object per
// line in the RawDetections shape. Blank lines are frames with no
// detections.
type ReplayDetector struct {
	mu      sync.Mutex
	file    *os.File // nil when reading from a caller-owned reader
	scanner *bufio.Scanner
	loop    bool
	line    int
	frames  []types.RawDetections // kept for looping
	pos     int
	done    bool
}

// OpenReplay opens a JSON-lines replay file.
func OpenReplay(path string, loop bool) (*ReplayDetector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	r := NewReplay(f, loop)
	r.file = f
	return r, nil
}

// NewReplay reads frames from r. With loop set, the feed restarts from the
// first frame after the last one instead of returning io.EOF.
func NewReplay(r io.Reader, loop bool) *ReplayDetector {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &ReplayDetector{scanner: scanner, loop: loop}
}

// Detect implements Detector
func (r *ReplayDetector) Detect(ctx context.Context) (types.RawDetections, error) {
	if err := ctx.Err(); err != nil {
		return types.RawDetections{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return r.replayLocked()
	}

	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return types.RawDetections{}, fmt.Errorf("replay line %d: %w", r.line+1, err)
		}
		r.done = true
		return r.replayLocked()
	}
	r.line++

	line := bytes.TrimSpace(r.scanner.Bytes())
	var raw types.RawDetections
	if len(line) > 0 {
		if err := json.Unmarshal(line, &raw); err != nil {
			return types.RawDetections{}, fmt.Errorf("replay line %d: %w", r.line, err)
		}
	}
	if r.loop {
		r.frames = append(r.frames, raw)
	}
	return raw, nil
}

func (r *ReplayDetector) replayLocked() (types.RawDetections, error) {
	if !r.loop || len(r.frames) == 0 {
		return types.RawDetections{}, io.EOF
	}
	raw := r.frames[r.pos%len(r.frames)]
	r.pos++
	return raw, nil
}

// Close implements Detector
func (r *ReplayDetector) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
