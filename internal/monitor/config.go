package monitor

import (
	"time"

	"github.com/dj-oyu/crashwatch/internal/analysis"
)

// Config defines the runtime configuration for the monitor server.
type Config struct {
	Addr           string
	StatusInterval time.Duration
	CanvasWidth    int
	CanvasHeight   int
	HistorySize    int
	Classes        analysis.ClassTable
	IoUThreshold   float64
	LogDir         string // detection log directory for /api/stats; empty disables it
}

// DefaultConfig returns the standard monitor settings.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StatusInterval: 2 * time.Second,
		CanvasWidth:    640,
		CanvasHeight:   480,
		HistorySize:    8,
		Classes:        analysis.DefaultClassTable(),
		IoUThreshold:   analysis.DefaultIoUThreshold,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 {
		c.CanvasWidth, c.CanvasHeight = def.CanvasWidth, def.CanvasHeight
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.Classes.Len() == 0 {
		c.Classes = def.Classes
	}
	return c
}
