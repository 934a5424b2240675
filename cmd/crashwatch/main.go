package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/crashwatch/internal/analysis"
	"github.com/dj-oyu/crashwatch/internal/capture"
	"github.com/dj-oyu/crashwatch/internal/config"
	"github.com/dj-oyu/crashwatch/internal/detector"
	"github.com/dj-oyu/crashwatch/internal/eventlog"
	"github.com/dj-oyu/crashwatch/internal/logger"
	"github.com/dj-oyu/crashwatch/internal/metrics"
	"github.com/dj-oyu/crashwatch/internal/monitor"
)

var (
	// Command-line flags
	configPath  = flag.String("config", "", "JSON config file")
	feedPath    = flag.String("feed", "", "Replay detections from a JSON-lines file")
	feedURL     = flag.String("feed-url", "", "Poll detections from an HTTP endpoint")
	feedLoop    = flag.Bool("loop", false, "Loop the replay file")
	httpAddr    = flag.String("http", "", "Monitor server address (overrides config)")
	metricsAddr = flag.String("metrics", "", "Metrics server address (overrides config)")
	pprofAddr   = flag.String("pprof", "", "pprof server address (disabled when empty)")
	logDir      = flag.String("log-dir", "", "Detection log directory (overrides config)")
	iou         = flag.Float64("iou", 0, "IoU threshold (overrides config)")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Main", "Crash monitor starting...")
	logger.Info("Main", "Log level: %s", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Crash monitor failed: %v", err)
	}
	logger.Info("Main", "Crash monitor stopped")
}

func loadConfig() (config.Config, error) {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	cfg = applyFlags(cfg, setFlags())

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if cfg.FeedPath == "" && cfg.FeedURL == "" {
		return cfg, errors.New("no detector feed: set -feed, -feed-url or feed_path/feed_url in the config")
	}
	return cfg, nil
}

// setFlags names the flags given on the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// applyFlags lets explicitly set flags win over the file, including zero
// values such as -iou 0.
func applyFlags(cfg config.Config, set map[string]bool) config.Config {
	if set["feed"] {
		cfg.FeedPath = *feedPath
	}
	if set["feed-url"] {
		cfg.FeedURL = *feedURL
	}
	if set["loop"] {
		cfg.FeedLoop = *feedLoop
	}
	if set["http"] {
		cfg.MonitorAddr = *httpAddr
	}
	if set["metrics"] {
		cfg.MetricsAddr = *metricsAddr
	}
	if set["pprof"] {
		cfg.PprofAddr = *pprofAddr
	}
	if set["log-dir"] {
		cfg.LogDir = *logDir
	}
	if set["iou"] {
		cfg.IoUThreshold = *iou
	}
	return cfg
}

func openDetector(cfg config.Config) (detector.Detector, error) {
	var det detector.Detector
	if cfg.FeedURL != "" {
		logger.Info("Main", "Detector feed: %s", cfg.FeedURL)
		det = detector.NewHTTPDetector(cfg.FeedURL, time.Duration(cfg.FeedTimeout))
	} else {
		logger.Info("Main", "Detector feed: %s (loop=%v)", cfg.FeedPath, cfg.FeedLoop)
		replay, err := detector.OpenReplay(cfg.FeedPath, cfg.FeedLoop)
		if err != nil {
			return nil, err
		}
		det = replay
	}
	return detector.NewFilter(det, cfg.DetectorConfidence, cfg.MaxDetections), nil
}

func run(ctx context.Context, cfg config.Config) error {
	classes, err := cfg.Classes()
	if err != nil {
		return err
	}

	det, err := openDetector(cfg)
	if err != nil {
		return err
	}
	defer det.Close()

	m := metrics.New()
	analyzer := analysis.NewFrameAnalyzer(
		analysis.WithIoUThreshold(cfg.IoUThreshold),
		analysis.WithClassTable(classes),
	)

	detLog, err := eventlog.New(cfg.LogDir)
	if err != nil {
		return err
	}
	sessionID, err := detLog.StartSession()
	if err != nil {
		return err
	}
	logger.Info("Main", "Session %s logging to %s", sessionID, detLog.Dir())
	defer func() {
		path, err := detLog.EndSession()
		if err != nil {
			logger.Error("Main", "Failed to end session: %v", err)
			return
		}
		logger.Info("Main", "Session summary written to %s", path)
	}()

	if cfg.PprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", cfg.PprofAddr)
			if err := http.ListenAndServe(cfg.PprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}
	if cfg.MetricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", cfg.MetricsAddr)
			if err := m.StartServer(cfg.MetricsAddr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	mon := monitor.NewMonitor(classes, cfg.IoUThreshold, 0)
	monCfg := monitor.Config{
		Addr:           cfg.MonitorAddr,
		StatusInterval: time.Duration(cfg.StatusInterval),
		CanvasWidth:    cfg.CanvasWidth,
		CanvasHeight:   cfg.CanvasHeight,
		Classes:        classes,
		IoUThreshold:   cfg.IoUThreshold,
		LogDir:         cfg.LogDir,
	}
	server, err := monitor.NewServer(monCfg, mon, m)
	if err != nil {
		return err
	}

	srvCtx, cancelServer := context.WithCancel(ctx)
	defer cancelServer()
	server.Start(srvCtx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(srvCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "Monitor server error: %v", err)
		}
	}()

	loop := capture.NewLoop(capture.Config{
		FrameInterval:  time.Duration(cfg.FrameInterval),
		LogEmptyFrames: cfg.LogEmptyFrames,
	}, det, analyzer, detLog, mon, m)

	loopErr := loop.Run(ctx)

	// a finished replay keeps the monitor up until interrupted
	if loopErr == nil && ctx.Err() == nil {
		logger.Info("Main", "Feed finished; monitor stays up until interrupted")
		<-ctx.Done()
	}

	cancelServer()
	wg.Wait()

	status := analyzer.Status()
	logger.Info("Main", "Processed %d frames with detections", status.DetectionCount)
	return loopErr
}
