package monitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/jpeg"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dj-oyu/crashwatch/internal/analysis"
	"github.com/dj-oyu/crashwatch/internal/capture"
	"github.com/dj-oyu/crashwatch/internal/eventlog"
	"github.com/dj-oyu/crashwatch/internal/metrics"
	"github.com/dj-oyu/crashwatch/pkg/types"
)

var crashRaw = types.RawDetections{
	Boxes:       [][4]float64{{100, 100, 200, 200}, {110, 110, 210, 210}, {400, 300, 450, 380}},
	Classes:     []int{analysis.ClassCar, analysis.ClassPerson, analysis.ClassTruck},
	Confidences: []float64{0.9, 0.8, 0.75},
}

var quietRaw = types.RawDetections{
	Boxes:       [][4]float64{{10, 10, 50, 50}},
	Classes:     []int{analysis.ClassCar},
	Confidences: []float64{0.95},
}

type publishHarness struct {
	analyzer *analysis.FrameAnalyzer
	monitor  *Monitor
	frame    uint64
}

func newHarness(historySize int) *publishHarness {
	a := analysis.NewFrameAnalyzer()
	return &publishHarness{
		analyzer: a,
		monitor:  NewMonitor(a.ClassTable(), a.IoUThreshold(), historySize),
	}
}

func (h *publishHarness) publish(t *testing.T, raw types.RawDetections) types.FrameSummary {
	t.Helper()
	summary, err := h.analyzer.Analyze(raw)
	require.NoError(t, err)
	h.frame++
	h.monitor.Publish(summary, capture.Status{Status: h.analyzer.Status(), FrameNumber: h.frame, Running: true})
	return summary
}

func TestMonitorSnapshot(t *testing.T) {
	h := newHarness(2)

	snap := h.monitor.Snapshot()
	assert.Nil(t, snap.Latest)
	assert.Nil(t, snap.Analyzer.LastCrashTime)
	assert.Empty(t, snap.CrashHistory)

	h.publish(t, quietRaw)
	snap = h.monitor.Snapshot()
	require.NotNil(t, snap.Latest)
	assert.False(t, snap.Latest.PotentialCrash)
	assert.Nil(t, snap.Analyzer.LastCrashTime)
	assert.Equal(t, uint64(1), snap.Analyzer.FrameNumber)
	assert.Equal(t, 1, snap.Latest.Counts["car"])

	for range 3 {
		h.publish(t, crashRaw)
	}
	snap = h.monitor.Snapshot()
	require.NotNil(t, snap.Analyzer.LastCrashTime)
	assert.Len(t, snap.CrashHistory, 2, "history is capped")
	assert.Equal(t, uint64(4), snap.CrashHistory[0].FrameNumber, "newest first")
	assert.Equal(t, uint64(4), snap.Analyzer.DetectionCount)
	assert.InDelta(t, 0.4, snap.Analyzer.IoUThreshold, 1e-9)
}

func TestFrameEventMarksCrashParticipants(t *testing.T) {
	h := newHarness(0)
	h.publish(t, crashRaw)

	ev, summary, version := h.monitor.Latest()
	require.NotNil(t, ev)
	require.NotNil(t, summary)
	assert.Equal(t, 1, version)
	require.Len(t, ev.Detections, 3)
	assert.True(t, ev.Detections[0].Crash)
	assert.True(t, ev.Detections[1].Crash)
	assert.False(t, ev.Detections[2].Crash)
	assert.Equal(t, "car", ev.Detections[0].ClassName)
	require.Len(t, ev.CrashEvents, 1)
	assert.Equal(t, "car-person_collision", ev.CrashEvents[0].Type)
}

func TestWatchCoalesces(t *testing.T) {
	h := newHarness(0)
	wake := h.monitor.Watch()

	h.publish(t, quietRaw)
	h.publish(t, quietRaw)

	select {
	case <-wake:
	default:
		t.Fatal("expected a wakeup")
	}
	select {
	case <-wake:
		t.Fatal("wakeups should coalesce")
	default:
	}
}

// decodedFrame holds the parts of a crashwatch.FrameEvent the tests check.
type decodedFrame struct {
	frameNumber uint64
	objects     uint64
	crash       bool
	confidence  float32
	labels      []string
	eventTypes  []string
}

func decodeFrameEvent(t *testing.T, b []byte) decodedFrame {
	t.Helper()
	var out decodedFrame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		require.GreaterOrEqual(t, n, 0)
		b = b[n:]
		switch {
		case num == frameFieldNumber && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			out.frameNumber, n = v, m
		case num == frameFieldObjects && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			out.objects, n = v, m
		case num == frameFieldCrash && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			out.crash, n = protowire.DecodeBool(v), m
		case num == frameFieldConfidence && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(b)
			out.confidence, n = math.Float32frombits(v), m
		case num == frameFieldDetections && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			out.labels = append(out.labels, stringField(t, v, detFieldLabel))
			n = m
		case num == frameFieldEvents && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			out.eventTypes = append(out.eventTypes, stringField(t, v, eventFieldType))
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		require.GreaterOrEqual(t, n, 0)
		b = b[n:]
	}
	return out
}

func stringField(t *testing.T, b []byte, want protowire.Number) string {
	t.Helper()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		require.GreaterOrEqual(t, n, 0)
		b = b[n:]
		if num == want && typ == protowire.BytesType {
			v, _ := protowire.ConsumeString(b)
			return v
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		require.GreaterOrEqual(t, n, 0)
		b = b[n:]
	}
	return ""
}

func TestMarshalFrameEvent(t *testing.T) {
	h := newHarness(0)
	h.publish(t, crashRaw)
	ev, _, _ := h.monitor.Latest()

	got := decodeFrameEvent(t, marshalFrameEvent(ev))
	assert.Equal(t, uint64(1), got.frameNumber)
	assert.Equal(t, uint64(3), got.objects)
	assert.True(t, got.crash)
	assert.InDelta(t, ev.ConfidenceAvg, float64(got.confidence), 1e-6)
	assert.Equal(t, []string{"car", "person", "truck"}, got.labels)
	assert.Equal(t, []string{"car-person_collision"}, got.eventTypes)
}

func TestRenderFrame(t *testing.T) {
	h := newHarness(0)
	h.publish(t, crashRaw)
	ev, _, _ := h.monitor.Latest()

	data, err := renderFrame(ev, 320, 240)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 240, img.Bounds().Dy())

	pattern, err := testPattern(64, 48)
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(pattern))
	require.NoError(t, err)
}

func TestFanoutDropsForSlowClients(t *testing.T) {
	var clients atomic.Int64
	f := newFanout[int]("test", &clients)

	id, ch := f.Subscribe()
	assert.Equal(t, int64(1), clients.Load())
	for i := range 10 {
		f.broadcast(i)
	}
	assert.Equal(t, 0, <-ch)
	assert.Equal(t, 1, <-ch)

	f.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, int64(0), clients.Load())
	f.Unsubscribe(id)
}

func newTestServer(t *testing.T, h *publishHarness, logDir string) (*Server, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StatusInterval = 20 * time.Millisecond
	cfg.CanvasWidth, cfg.CanvasHeight = 160, 120
	cfg.LogDir = logDir

	srv, err := NewServer(cfg, h.monitor, metrics.New())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return srv, ts
}

func getJSON(t *testing.T, url string, into any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	return resp
}

func TestServerIndexAndStatus(t *testing.T) {
	h := newHarness(0)
	_, ts := newTestServer(t, h, "")

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp, err = http.Get(ts.URL + "/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	h.publish(t, crashRaw)

	var payload map[string]any
	resp = getJSON(t, ts.URL+"/api/status", &payload)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	analyzer, ok := payload["analyzer"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, analyzer["detection_count"])
	assert.NotNil(t, analyzer["last_crash_time"])
	latest, ok := payload["latest_summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, latest["potential_crash"])
	history, ok := payload["crash_history"].([]any)
	require.True(t, ok)
	assert.Len(t, history, 1)

	var health map[string]any
	getJSON(t, ts.URL+"/health", &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["running"])
}

func TestHealthReportsStoppedLoop(t *testing.T) {
	h := newHarness(0)
	_, ts := newTestServer(t, h, "")

	h.publish(t, crashRaw)
	h.monitor.PublishStatus(capture.Status{Status: h.analyzer.Status(), FrameNumber: h.frame, Running: false})

	var health map[string]any
	getJSON(t, ts.URL+"/health", &health)
	assert.Equal(t, false, health["running"])
	assert.EqualValues(t, 1, health["frames"])

	snap := h.monitor.Snapshot()
	assert.False(t, snap.Analyzer.Running)
	require.NotNil(t, snap.Latest, "stopping keeps the last frame")
	assert.True(t, snap.Latest.PotentialCrash)
}

func TestServerStats(t *testing.T) {
	h := newHarness(0)
	_, ts := newTestServer(t, h, "")

	var body map[string]any
	resp := getJSON(t, ts.URL+"/api/stats", &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	dir := t.TempDir()
	log, err := eventlog.New(dir)
	require.NoError(t, err)
	_, err = log.StartSession()
	require.NoError(t, err)
	summary := h.publish(t, crashRaw)
	require.NoError(t, log.LogDetection(summary, 1))
	_, err = log.EndSession()
	require.NoError(t, err)

	_, ts = newTestServer(t, h, dir)
	var stats eventlog.Stats
	resp = getJSON(t, ts.URL+"/api/stats", &stats)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, stats.TotalSessions)
	assert.Equal(t, 1, stats.TotalDetections)
	assert.Equal(t, 1, stats.PotentialCrashes)
}

func TestServerStatsEmptyDir(t *testing.T) {
	h := newHarness(0)
	_, ts := newTestServer(t, h, filepath.Join(t.TempDir(), "nothing"))

	var stats eventlog.Stats
	resp := getJSON(t, ts.URL+"/api/stats", &stats)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, stats.TotalDetections)
	assert.Zero(t, stats.TotalSessions)
}

// readDataLine returns the payload of the next SSE data line.
func readDataLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			return strings.TrimSpace(data)
		}
	}
}

func openStream(t *testing.T, ctx context.Context, url, accept string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// keepPublishing publishes raw until ctx is done so a freshly connected
// subscriber is guaranteed to see a frame.
func keepPublishing(t *testing.T, ctx context.Context, h *publishHarness, raw types.RawDetections) {
	t.Helper()
	summary, err := h.analyzer.Analyze(raw)
	require.NoError(t, err)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for frame := uint64(1); ; frame++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.monitor.Publish(summary, capture.Status{FrameNumber: frame, Running: true})
			}
		}
	}()
}

func TestDetectionStreamJSON(t *testing.T) {
	h := newHarness(0)
	_, ts := newTestServer(t, h, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := openStream(t, ctx, ts.URL+"/api/detections/stream", "")
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", resp.Header.Get("X-Content-Format"))
	keepPublishing(t, ctx, h, crashRaw)

	var ev FrameEvent
	require.NoError(t, json.Unmarshal([]byte(readDataLine(t, bufio.NewReader(resp.Body))), &ev))
	assert.True(t, ev.PotentialCrash)
	assert.Len(t, ev.Detections, 3)
}

func TestDetectionStreamProtobuf(t *testing.T) {
	h := newHarness(0)
	_, ts := newTestServer(t, h, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := openStream(t, ctx, ts.URL+"/api/detections/stream", "application/protobuf")
	assert.Equal(t, "application/protobuf", resp.Header.Get("X-Content-Format"))
	keepPublishing(t, ctx, h, crashRaw)

	raw, err := base64.StdEncoding.DecodeString(readDataLine(t, bufio.NewReader(resp.Body)))
	require.NoError(t, err)
	got := decodeFrameEvent(t, raw)
	assert.True(t, got.crash)
	assert.Equal(t, []string{"car-person_collision"}, got.eventTypes)
}

func TestStatusStreamSendsImmediately(t *testing.T) {
	h := newHarness(0)
	h.publish(t, quietRaw)
	_, ts := newTestServer(t, h, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := openStream(t, ctx, ts.URL+"/api/status/stream", "")
	r := bufio.NewReader(resp.Body)
	for range 2 {
		var payload StatusPayload
		require.NoError(t, json.Unmarshal([]byte(readDataLine(t, r)), &payload))
		require.NotNil(t, payload.Latest)
		assert.Equal(t, uint64(1), payload.Analyzer.FrameNumber)
	}
}

func TestMJPEGStream(t *testing.T) {
	h := newHarness(0)
	_, ts := newTestServer(t, h, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := openStream(t, ctx, ts.URL+"/stream", "")
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Type: image/jpeg\r\n", line)
}
