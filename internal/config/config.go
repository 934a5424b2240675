// Package config holds the runtime configuration of the crash monitor.
// Values come from DefaultConfig, optionally overlaid by a JSON file, and
// finally by command-line flags in main.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dj-oyu/crashwatch/internal/analysis"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Duration is a time.Duration that reads and writes strings like "33ms".
type Duration time.Duration

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config defines the runtime configuration.
type Config struct {
	// Analysis
	IoUThreshold float64           `json:"iou_threshold"`
	ClassTable   map[string]string `json:"class_table"`

	// Detector feed. FeedURL wins over FeedPath when both are set.
	FeedPath           string   `json:"feed_path"`
	FeedURL            string   `json:"feed_url"`
	FeedLoop           bool     `json:"feed_loop"`
	FeedTimeout        Duration `json:"feed_timeout"`
	DetectorConfidence float64  `json:"detector_confidence"`
	MaxDetections      int      `json:"max_detections"`

	// Capture loop
	FrameInterval  Duration `json:"frame_interval"`
	LogEmptyFrames bool     `json:"log_empty_frames"`

	// Outputs
	LogDir         string   `json:"log_dir"`
	MonitorAddr    string   `json:"monitor_addr"`
	MetricsAddr    string   `json:"metrics_addr"`
	PprofAddr      string   `json:"pprof_addr"`
	StatusInterval Duration `json:"status_interval"`
	CanvasWidth    int      `json:"canvas_width"`
	CanvasHeight   int      `json:"canvas_height"`
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		IoUThreshold: analysis.DefaultIoUThreshold,
		ClassTable: map[string]string{
			"0": "person",
			"1": "bicycle",
			"2": "car",
			"3": "motorcycle",
			"5": "bus",
			"7": "truck",
		},
		FeedTimeout:        Duration(2 * time.Second),
		DetectorConfidence: 0.7,
		MaxDetections:      15,
		FrameInterval:      Duration(33 * time.Millisecond),
		LogDir:             "logs",
		MonitorAddr:        ":8080",
		MetricsAddr:        ":9090",
		StatusInterval:     Duration(2 * time.Second),
		CanvasWidth:        640,
		CanvasHeight:       480,
	}
}

// Load reads a JSON config file over the defaults. Fields omitted from the
// file keep their default values, so partial files are safe.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return cfg, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return cfg, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	// a class table in the file replaces the default one instead of merging
	var present struct {
		ClassTable map[string]string `json:"class_table"`
	}
	if err := json.Unmarshal(data, &present); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if present.ClassTable != nil {
		cfg.ClassTable = nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects out-of-range values.
func (c Config) Validate() error {
	var problems []string
	if c.IoUThreshold < 0 || c.IoUThreshold >= 1 {
		problems = append(problems, fmt.Sprintf("iou_threshold %v must be in [0,1)", c.IoUThreshold))
	}
	if c.DetectorConfidence < 0 || c.DetectorConfidence > 1 {
		problems = append(problems, fmt.Sprintf("detector_confidence %v must be in [0,1]", c.DetectorConfidence))
	}
	if c.MaxDetections < 0 {
		problems = append(problems, fmt.Sprintf("max_detections %d must not be negative", c.MaxDetections))
	}
	if c.FrameInterval <= 0 {
		problems = append(problems, "frame_interval must be positive")
	}
	if c.StatusInterval <= 0 {
		problems = append(problems, "status_interval must be positive")
	}
	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 {
		problems = append(problems, fmt.Sprintf("canvas %dx%d must be positive", c.CanvasWidth, c.CanvasHeight))
	}
	if strings.TrimSpace(c.LogDir) == "" {
		problems = append(problems, "log_dir must not be empty")
	}
	if _, err := analysis.ParseClassTable(c.ClassTable); err != nil {
		problems = append(problems, fmt.Sprintf("class_table: %v", err))
	} else if len(c.ClassTable) == 0 {
		problems = append(problems, "class_table must name at least one class")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Classes returns the parsed class table.
func (c Config) Classes() (analysis.ClassTable, error) {
	return analysis.ParseClassTable(c.ClassTable)
}
