package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stream-recorder/internal/platform/config"
	"stream-recorder/internal/platform/logger"
	"stream-recorder/internal/platform/metrics"
	"stream-recorder/internal/recorder"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	_ = config.Load()

	fs := flag.NewFlagSet("stream-recorder", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: stream-recorder [flags] [channel]\n\n")
		fmt.Fprintf(fs.Output(), "Record live broadcasts with automatic reconnection.\n\n")
		fs.PrintDefaults()
	}
	var (
		configPath   = fs.String("config", "", "path to a YAML config file")
		outputDir    = fs.String("output-dir", "", "output directory (overrides config file)")
		quality      = fs.String("quality", "", "stream quality: best, 1080p60, 720p, etc.")
		noMerge      = fs.Bool("no-merge", false, "skip merging segments into a single file")
		keepSegments = fs.Bool("keep-segments", false, "keep individual segment files after merging")
		noWait       = fs.Bool("no-wait", false, "exit immediately if the channel is offline")
		verbose      = fs.Bool("verbose", false, "enable debug logging")
		statusAddr   = fs.String("status-addr", config.GetEnv("STATUS_ADDR", ""), "optional listen address for /status, /healthz, /metrics")
	)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logLevel := config.GetEnv("LOG_LEVEL", "info")
	if *verbose {
		logLevel = "debug"
	}
	log := logger.New(logLevel, config.GetEnv("LOG_FORMAT", "json"), os.Stderr)

	cfg, err := buildSessionConfig(fs.Arg(0), *configPath, *outputDir, *quality, *noMerge, *keepSegments, *noWait)
	if err != nil {
		log.Error("config error", slog.String("error", err.Error()))
		return 1
	}
	if err := cfg.Validate(); err != nil {
		log.Error("config error", slog.String("error", err.Error()))
		return 1
	}

	log.Info("stream recorder starting",
		slog.String("channel", string(cfg.Channel)),
		slog.String("quality", cfg.Quality),
		slog.String("output_dir", cfg.OutputDir))

	tracker := recorder.NewTracker(cfg.Channel)
	met := metrics.New()

	prober := &recorder.StreamlinkProber{
		Binary:  cfg.StreamlinkPath,
		Channel: cfg.Channel,
		Quality: cfg.Quality,
		Log:     log,
	}
	writer := &recorder.StreamlinkWriter{
		Binary:        cfg.StreamlinkPath,
		StreamTimeout: cfg.StreamTimeout,
		ExtraArgs:     cfg.StreamlinkArgs,
		Log:           log,
	}
	merger := &recorder.FFmpegMerger{
		Binary:     cfg.FFmpegPath,
		KeepInputs: !cfg.CleanupSegments,
		Log:        log,
	}

	ctrl := recorder.NewController(cfg, prober, writer, merger, tracker, log, met)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var result recorder.SessionResult
	sessionDone := make(chan struct{})
	g.Go(func() error {
		result = ctrl.Run(gctx)
		close(sessionDone)
		return nil
	})

	if *statusAddr != "" {
		srv := statusServer(*statusAddr, tracker, met, log)
		g.Go(func() error {
			log.Info("status listener starting", slog.String("addr", *statusAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("status listener error", slog.String("error", err.Error()))
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-sessionDone:
			case <-gctx.Done():
				<-sessionDone
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	_ = g.Wait()

	logResult(log, result)
	return exitCode(result.Outcome)
}

// buildSessionConfig layers defaults, the YAML config file, and CLI flags,
// in that order of precedence (flags win).
func buildSessionConfig(channel, configPath, outputDir, quality string, noMerge, keepSegments, noWait bool) (recorder.SessionConfig, error) {
	cfg := recorder.SessionConfig{
		Quality:                "best",
		StreamTimeout:          120 * time.Second,
		InitialWait:            2 * time.Hour,
		RetryInterval:          30 * time.Second,
		ReconnectGracePeriod:   5 * time.Minute,
		ReconnectCheckInterval: 15 * time.Second,
		MaxReconnects:          10,
		MergeSegments:          true,
		CleanupSegments:        true,
		StreamlinkPath:         "streamlink",
		StreamlinkArgs:         []string{"--twitch-disable-ads"},
		FFmpegPath:             "ffmpeg",
	}

	if configPath != "" {
		f, err := config.LoadFile(configPath)
		if err != nil {
			return cfg, err
		}
		applyFile(&cfg, f)
	}

	if channel != "" {
		cfg.Channel = recorder.Channel(channel)
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if quality != "" {
		cfg.Quality = quality
	}
	if noMerge {
		cfg.MergeSegments = false
	}
	if keepSegments {
		cfg.CleanupSegments = false
	}
	if noWait {
		cfg.NoWait = true
	}
	return cfg, nil
}

// applyFile copies the set fields of a YAML config file onto cfg.
func applyFile(cfg *recorder.SessionConfig, f config.File) {
	if f.Channel != "" {
		cfg.Channel = recorder.Channel(f.Channel)
	}
	if f.DisplayName != "" {
		cfg.DisplayName = f.DisplayName
	}
	if f.OutputDir != "" {
		cfg.OutputDir = f.OutputDir
	}
	if f.Quality != "" {
		cfg.Quality = f.Quality
	}
	if f.StreamTimeout > 0 {
		cfg.StreamTimeout = time.Duration(f.StreamTimeout) * time.Second
	}
	if f.InitialWait > 0 {
		cfg.InitialWait = time.Duration(f.InitialWait) * time.Second
	}
	if f.RetryInterval > 0 {
		cfg.RetryInterval = time.Duration(f.RetryInterval) * time.Second
	}
	if f.ReconnectGracePeriod > 0 {
		cfg.ReconnectGracePeriod = time.Duration(f.ReconnectGracePeriod) * time.Second
	}
	if f.ReconnectCheckInterval > 0 {
		cfg.ReconnectCheckInterval = time.Duration(f.ReconnectCheckInterval) * time.Second
	}
	if f.MaxReconnects > 0 {
		cfg.MaxReconnects = f.MaxReconnects
	}
	if f.MergeSegments != nil {
		cfg.MergeSegments = *f.MergeSegments
	}
	if f.CleanupSegments != nil {
		cfg.CleanupSegments = *f.CleanupSegments
	}
	if f.FFmpegPath != "" {
		cfg.FFmpegPath = f.FFmpegPath
	}
	if f.StreamlinkPath != "" {
		cfg.StreamlinkPath = f.StreamlinkPath
	}
	if len(f.StreamlinkArgs) > 0 {
		cfg.StreamlinkArgs = f.StreamlinkArgs
	}
}

// statusServer builds the optional observability listener.
func statusServer(addr string, tracker *recorder.Tracker, met *metrics.Metrics, log *slog.Logger) *http.Server {
	h := recorder.NewHandler(tracker, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Get("/healthz", h.Healthz)
	r.Get("/status", h.Status)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetSegmentsOnDisk(tracker.SegmentCount()) }).ServeHTTP(w, req)
	})

	return &http.Server{Addr: addr, Handler: r}
}

func logResult(log *slog.Logger, result recorder.SessionResult) {
	attrs := []any{
		slog.String("outcome", string(result.Outcome)),
		slog.String("summary", result.Summary()),
	}
	if result.Err != nil {
		attrs = append(attrs, slog.String("error", result.Err.Error()))
	}
	if result.Outcome.Failed() && len(result.Files) == 0 {
		log.Error("session failed", attrs...)
	} else {
		log.Info("session finished", attrs...)
	}
	for _, f := range result.Files {
		log.Info("output file", slog.String("path", f))
	}
}

// exitCode maps the session outcome to a process exit code. Degraded
// success still exits 0: usable media was delivered.
func exitCode(outcome recorder.Outcome) int {
	switch outcome {
	case recorder.OutcomeSuccess, recorder.OutcomeSuccessDegraded:
		return 0
	case recorder.OutcomeNotLive:
		return 2
	case recorder.OutcomeTimeout:
		return 3
	case recorder.OutcomeInterrupted:
		return 130
	default:
		return 1
	}
}
