package recorder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Writer runs one capture attempt against a resolved media source, writing
// bytes to outputPath until the underlying tool exits or the context is
// cancelled. The returned EndReason classifies how the attempt ended;
// StartFailure guarantees no usable file was left behind.
type Writer interface {
	Capture(ctx context.Context, source MediaSource, outputPath string) EndReason
}

// StreamlinkWriter captures by supervising a streamlink subprocess. On
// cancellation the process receives SIGTERM and, after KillGrace, SIGKILL,
// so a session interrupt never leaves an orphaned capture tool behind.
type StreamlinkWriter struct {
	Binary        string        // defaults to "streamlink"
	StreamTimeout time.Duration // passed to --stream-timeout
	ExtraArgs     []string
	KillGrace     time.Duration // SIGTERM-to-SIGKILL window, defaults to 10s
	Log           *slog.Logger
}

// Capture implements Writer.
func (w *StreamlinkWriter) Capture(ctx context.Context, source MediaSource, outputPath string) EndReason {
	binary := w.Binary
	if binary == "" {
		binary = "streamlink"
	}
	killGrace := w.KillGrace
	if killGrace <= 0 {
		killGrace = 10 * time.Second
	}

	args := []string{
		source.URL,
		source.Quality,
		"--output", outputPath,
		"--hls-live-restart",
	}
	if w.StreamTimeout > 0 {
		args = append(args, "--stream-timeout", fmt.Sprintf("%.0f", w.StreamTimeout.Seconds()))
	}
	args = append(args, w.ExtraArgs...)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return EndStartFailure
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return EndStartFailure
	}

	if err := cmd.Start(); err != nil {
		w.logger().Error("capture tool failed to launch",
			slog.String("binary", binary),
			slog.String("error", err.Error()))
		return EndStartFailure
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go w.relay(stdout, &wg)
	go w.relay(stderr, &wg)
	wg.Wait()

	waitErr := cmd.Wait()

	info, statErr := os.Stat(outputPath)
	if statErr != nil || info.Size() == 0 {
		// The tool ran but never produced output; discard the empty file so
		// it cannot consume a sequence index.
		_ = os.Remove(outputPath)
		return EndStartFailure
	}

	if waitErr != nil {
		w.logger().Debug("capture tool exited non-zero",
			slog.String("error", waitErr.Error()))
		return EndDropped
	}
	return EndCleanEnd
}

// relay forwards one tool output stream to the debug log, line by line.
func (w *StreamlinkWriter) relay(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	log := w.logger()
	for scanner.Scan() {
		log.Debug("[streamlink] " + scanner.Text())
	}
}

func (w *StreamlinkWriter) logger() *slog.Logger {
	if w.Log != nil {
		return w.Log
	}
	return slog.Default()
}
