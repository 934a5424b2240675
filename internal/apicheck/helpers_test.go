// Package apicheck holds black-box contract tests for a running crashwatch
// monitor. They are skipped unless CRASHWATCH_BASE_URL (or the default
// address) answers.
package apicheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL        = "http://localhost:8080"
	defaultRequestTimeout = 2 * time.Second
)

type apiClient struct {
	baseURL string
	client  *http.Client
}

func newAPIClient(t *testing.T) *apiClient {
	t.Helper()
	baseURL := os.Getenv("CRASHWATCH_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/health") {
		t.Skipf("crashwatch not reachable at %s (set CRASHWATCH_BASE_URL to run)", baseURL)
	}
	return &apiClient{baseURL: baseURL, client: client}
}

func isReachable(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *apiClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, body
}

// readSSEEvent returns the first complete event on url.
func readSSEEvent(url, accept string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				event := string(buf[:idx])
				buf = buf[idx+2:]
				// keepalive comments carry no data
				if strings.Contains(event, "data:") {
					return event, resp.Header, nil
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func sseData(t *testing.T, event string) string {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			payload = strings.TrimSpace(payload)
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return payload
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return ""
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireBool(t *testing.T, value any, field string) bool {
	t.Helper()
	b, ok := value.(bool)
	if !ok {
		t.Fatalf("expected %s to be bool, got %T", field, value)
	}
	return b
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertFrameEvent(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireNumber(t, payload["frame_number"], field+".frame_number")
	requireNumber(t, payload["timestamp"], field+".timestamp")
	requireNumber(t, payload["version"], field+".version")
	objects := requireNumber(t, payload["objects_detected"], field+".objects_detected")
	requireBool(t, payload["potential_crash"], field+".potential_crash")
	conf := requireNumber(t, payload["confidence_avg"], field+".confidence_avg")
	if conf < 0 || conf > 1 {
		t.Fatalf("%s.confidence_avg = %v, want [0,1]", field, conf)
	}
	requireMap(t, payload["counts"], field+".counts")

	detections := requireSlice(t, payload["detections"], field+".detections")
	if float64(len(detections)) != objects {
		t.Fatalf("%s: %d detections but objects_detected=%v", field, len(detections), objects)
	}
	for i, raw := range detections {
		det := requireMap(t, raw, fmt.Sprintf("%s.detections[%d]", field, i))
		requireString(t, det["class_name"], "class_name")
		requireNumber(t, det["class_id"], "class_id")
		requireNumber(t, det["confidence"], "confidence")
		requireBool(t, det["crash"], "crash")
		bbox := requireMap(t, det["bbox"], "bbox")
		for _, k := range []string{"x1", "y1", "x2", "y2"} {
			requireNumber(t, bbox[k], "bbox."+k)
		}
	}

	for i, raw := range requireSlice(t, payload["crash_events"], field+".crash_events") {
		ev := requireMap(t, raw, fmt.Sprintf("%s.crash_events[%d]", field, i))
		kind := requireString(t, ev["type"], "type")
		if !strings.HasSuffix(kind, "_collision") {
			t.Fatalf("crash event type %q lacks _collision suffix", kind)
		}
		requireNumber(t, ev["iou"], "iou")
		requireSlice(t, ev["pair"], "pair")
	}
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	analyzer := requireMap(t, payload["analyzer"], "analyzer")
	requireNumber(t, analyzer["detection_count"], "analyzer.detection_count")
	requireNumber(t, analyzer["frame_number"], "analyzer.frame_number")
	requireBool(t, analyzer["running"], "analyzer.running")
	requireNumber(t, analyzer["iou_threshold"], "analyzer.iou_threshold")
	if analyzer["last_crash_time"] != nil {
		requireNumber(t, analyzer["last_crash_time"], "analyzer.last_crash_time")
	}

	requireNumber(t, payload["timestamp"], "timestamp")

	if payload["latest_summary"] != nil {
		assertFrameEvent(t, requireMap(t, payload["latest_summary"], "latest_summary"), "latest_summary")
	}
	for i, raw := range requireSlice(t, payload["crash_history"], "crash_history") {
		field := fmt.Sprintf("crash_history[%d]", i)
		entry := requireMap(t, raw, field)
		assertFrameEvent(t, entry, field)
		if !requireBool(t, entry["potential_crash"], field+".potential_crash") {
			t.Fatalf("%s is not a crash frame", field)
		}
	}
}
