package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dj-oyu/crashwatch/pkg/types"
)

const maxResponseSize = 4 << 20

// HTTPDetector polls an external inference service for the detections of
// its latest frame. The service answers GET with a RawDetections JSON body,
// or 204 No Content when it has no new frame.
type HTTPDetector struct {
	url    string
	client *http.Client
}

// NewHTTPDetector creates a poller for url; timeout bounds each request.
func NewHTTPDetector(url string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPDetector{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Detect implements Detector
func (d *HTTPDetector) Detect(ctx context.Context) (types.RawDetections, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return types.RawDetections{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return types.RawDetections{}, fmt.Errorf("detector request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return types.RawDetections{}, ErrNoFrame
	case resp.StatusCode != http.StatusOK:
		return types.RawDetections{}, fmt.Errorf("detector returned %s", resp.Status)
	}

	var raw types.RawDetections
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&raw); err != nil {
		return types.RawDetections{}, fmt.Errorf("decode detector response: %w", err)
	}
	return raw, nil
}

// Close implements Detector
func (d *HTTPDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
