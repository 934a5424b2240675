// Package eventlog persists frame summaries for later inspection: a CSV row
// per logged frame, a plain-text event log, and a JSON summary per session.
package eventlog

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/crashwatch/internal/logger"
	"github.com/dj-oyu/crashwatch/pkg/types"
)

const (
	DetectionsFile = "detections.csv"
	EventsFile     = "events.log"

	sessionIDLayout = "20060102_150405"
	eventLayout     = "2006-01-02 15:04:05"
	rowLayout       = "2006-01-02 15:04:05.000"
)

// Header is the column layout of detections.csv. Existing log consumers
// depend on it; append new columns at the end only.
var Header = []string{
	"timestamp",
	"session_id",
	"objects_detected",
	"cars",
	"trucks",
	"persons",
	"potential_crash",
	"avg_confidence",
	"frame_number",
}

// Sink receives analyzed frames from the capture loop
type Sink interface {
	LogDetection(summary types.FrameSummary, frameNumber uint64) error
}

// Level tags general event lines
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// SessionSummary is written to session_<id>_<run>_summary.json when a session
// ends. <run> is the first block of the run id, so two sessions started in the
// same second keep separate summaries.
type SessionSummary struct {
	SessionID        string            `json:"session_id"`
	RunID            string            `json:"run_id"`
	StartTime        string            `json:"start_time"`
	EndTime          string            `json:"end_time"`
	DurationSeconds  float64           `json:"duration_seconds"`
	TotalDetections  int               `json:"total_detections"`
	PotentialCrashes int               `json:"potential_crashes"`
	LogFiles         map[string]string `json:"log_files"`
}

// DetectionLogger writes detection rows and event lines under one directory
type DetectionLogger struct {
	mu         sync.Mutex
	dir        string
	csvPath    string
	eventsPath string
	now        func() time.Time

	sessionStart   time.Time
	sessionID      string
	runID          string
	detectionCount int
	crashCount     int
}

// New creates the log directory and the CSV header if the file is new
func New(dir string) (*DetectionLogger, error) {
	return newWithClock(dir, time.Now)
}

func newWithClock(dir string, now func() time.Time) (*DetectionLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &DetectionLogger{
		dir:        dir,
		csvPath:    filepath.Join(dir, DetectionsFile),
		eventsPath: filepath.Join(dir, EventsFile),
		now:        now,
	}

	if _, err := os.Stat(l.csvPath); errors.Is(err, os.ErrNotExist) {
		if err := l.appendRow(Header); err != nil {
			return nil, fmt.Errorf("failed to initialize %s: %w", DetectionsFile, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", DetectionsFile, err)
	}
	return l, nil
}

// Dir returns the log directory
func (l *DetectionLogger) Dir() string {
	return l.dir
}

// StartSession begins a new session and returns its id
func (l *DetectionLogger) StartSession() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startSessionLocked()
}

func (l *DetectionLogger) startSessionLocked() (string, error) {
	l.sessionStart = l.now()
	l.sessionID = l.sessionStart.Format(sessionIDLayout)
	l.runID = uuid.NewString()
	l.detectionCount = 0
	l.crashCount = 0

	msg := fmt.Sprintf("Session STARTED - ID: %s", l.sessionID)
	logger.Info("EventLog", "%s (run %s)", msg, l.runID)
	return l.sessionID, l.writeEventLocked(l.sessionStart, msg)
}

// SessionID returns the current session id, empty before StartSession
func (l *DetectionLogger) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// LogDetection appends a row for the frame and an event line when the frame
// was flagged. A frame number of 0 is written as an empty column.
func (l *DetectionLogger) LogDetection(summary types.FrameSummary, frameNumber uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sessionID == "" {
		if _, err := l.startSessionLocked(); err != nil {
			return err
		}
	}

	ts := summary.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}

	crash := "NO"
	if summary.PotentialCrash {
		crash = "YES"
	}
	frame := ""
	if frameNumber > 0 {
		frame = strconv.FormatUint(frameNumber, 10)
	}

	row := []string{
		ts.Format(rowLayout),
		l.sessionID,
		strconv.Itoa(summary.ObjectsDetected),
		strconv.Itoa(summary.Count("car")),
		strconv.Itoa(summary.Count("truck")),
		strconv.Itoa(summary.Count("person")),
		crash,
		strconv.FormatFloat(summary.ConfidenceAvg, 'f', 3, 64),
		frame,
	}
	if err := l.appendRow(row); err != nil {
		return fmt.Errorf("failed to write detection row: %w", err)
	}

	if summary.PotentialCrash {
		kinds := make([]string, 0, len(summary.CrashEvents))
		for _, e := range summary.CrashEvents {
			kinds = append(kinds, e.Type)
		}
		msg := fmt.Sprintf("POTENTIAL CRASH DETECTED! Objects: %d, Cars: %d, Trucks: %d, Events: %s",
			summary.ObjectsDetected, summary.Count("car"), summary.Count("truck"), strings.Join(kinds, " "))
		logger.Warn("EventLog", "%s", msg)
		if err := l.writeEventAt(ts.Format(rowLayout), msg); err != nil {
			return err
		}
		l.crashCount++
	}

	l.detectionCount++
	return nil
}

// LogEvent writes a general event line
func (l *DetectionLogger) LogEvent(level Level, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch level {
	case LevelError:
		logger.Error("EventLog", "%s", message)
	case LevelWarning:
		logger.Warn("EventLog", "%s", message)
	default:
		logger.Info("EventLog", "%s", message)
	}
	return l.writeEventLocked(l.now(), fmt.Sprintf("[%s] %s", level, message))
}

// EndSession closes the current session and writes its JSON summary. It
// returns the summary path, or "" when no session was started.
func (l *DetectionLogger) EndSession() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sessionID == "" {
		return "", nil
	}

	end := l.now()
	duration := end.Sub(l.sessionStart)
	total := int(duration.Seconds())
	msg := fmt.Sprintf("Session ENDED - Duration: %02d:%02d:%02d, Detections: %d",
		total/3600, total%3600/60, total%60, l.detectionCount)
	logger.Info("EventLog", "%s", msg)
	if err := l.writeEventLocked(end, msg); err != nil {
		return "", err
	}

	summary := SessionSummary{
		SessionID:        l.sessionID,
		RunID:            l.runID,
		StartTime:        l.sessionStart.Format(eventLayout),
		EndTime:          end.Format(eventLayout),
		DurationSeconds:  duration.Seconds(),
		TotalDetections:  l.detectionCount,
		PotentialCrashes: l.crashCount,
		LogFiles: map[string]string{
			"detections": DetectionsFile,
			"events":     EventsFile,
		},
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode session summary: %w", err)
	}

	path := filepath.Join(l.dir, fmt.Sprintf("session_%s_%s_summary.json", l.sessionID, l.runID[:8]))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write session summary: %w", err)
	}

	l.sessionID = ""
	return path, nil
}

func (l *DetectionLogger) appendRow(row []string) error {
	f, err := os.OpenFile(l.csvPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (l *DetectionLogger) writeEventLocked(at time.Time, message string) error {
	return l.writeEventAt(at.Format(eventLayout), message)
}

func (l *DetectionLogger) writeEventAt(stamp, message string) error {
	f, err := os.OpenFile(l.eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	if _, err := fmt.Fprintf(f, "[%s] %s\n", stamp, message); err != nil {
		f.Close()
		return fmt.Errorf("failed to write event log: %w", err)
	}
	return f.Close()
}
