package monitor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dj-oyu/crashwatch/internal/logger"
)

const (
	sseKeepalive   = 30 * time.Second
	mjpegKeepalive = 5 * time.Second
)

func sseHeaders(w http.ResponseWriter, format string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Format", format)
}

// streamSSE writes first (if any) and then every value from ch as an SSE
// data line, with a keepalive comment when ch stays quiet.
func streamSSE[T any](ctx context.Context, w http.ResponseWriter, ch <-chan T, format string, data func(T) []byte, first []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	sseHeaders(w, format)
	w.WriteHeader(http.StatusOK)
	if first != nil {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", first); err != nil {
			return
		}
	}
	flusher.Flush()

	keepalive := time.NewTimer(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data(v)); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
		}
		flusher.Flush()
		keepalive.Reset(sseKeepalive)
	}
}

// streamMJPEG writes frames from ch as multipart JPEG parts. The waiting
// frame is repeated when ch stays quiet so proxies keep the connection.
func streamMJPEG(ctx context.Context, w http.ResponseWriter, ch <-chan []byte, waiting []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	last := waiting
	write := func(frame []byte) error {
		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
		_, err := w.Write([]byte("\r\n"))
		return err
	}

	if err := write(last); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			last = data
		case <-time.After(mjpegKeepalive):
		}

		if err := write(last); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		flusher.Flush()
	}
}
