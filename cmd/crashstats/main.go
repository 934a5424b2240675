package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/dj-oyu/crashwatch/internal/eventlog"
	"github.com/dj-oyu/crashwatch/internal/logger"
)

func main() {
	var (
		dir      string
		export   bool
		outPath  string
		logLevel string
		logColor bool
	)

	flag.StringVar(&dir, "log-dir", "logs", "Detection log directory")
	flag.BoolVar(&export, "export", false, "Export the detection log as JSON")
	flag.StringVar(&outPath, "out", "", "Export path (default <log-dir>/detections_export.json)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	stats, err := eventlog.ReadStats(dir)
	if err != nil {
		log.Fatalf("Failed to read stats: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		log.Fatalf("Failed to write stats: %v", err)
	}

	if export {
		path, err := eventlog.ExportJSON(dir, outPath)
		if err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		logger.Info("Stats", "Exported detection log to %s", path)
	}
}
