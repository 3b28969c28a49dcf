package recorder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) SessionConfig {
	t.Helper()
	return SessionConfig{
		Channel:                "somechannel",
		OutputDir:              t.TempDir(),
		Quality:                "best",
		InitialWait:            time.Minute,
		RetryInterval:          10 * time.Second,
		ReconnectGracePeriod:   30 * time.Second,
		ReconnectCheckInterval: 10 * time.Second,
		MaxReconnects:          2,
		MergeSegments:          true,
		CleanupSegments:        true,
	}
}

// fakeClock makes waits instantaneous while keeping elapsed-time accounting
// deterministic.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	return nil
}

// scriptProber replays a fixed probe sequence, repeating the last entry.
type scriptProber struct {
	statuses []LiveStatus
	calls    int
}

func (p *scriptProber) Probe(ctx context.Context) (LiveStatus, error) {
	i := p.calls
	p.calls++
	if i >= len(p.statuses) {
		i = len(p.statuses) - 1
	}
	return p.statuses[i], nil
}

var liveStatus = LiveStatus{Live: true, Source: MediaSource{URL: "https://twitch.tv/somechannel", Quality: "best"}}

// writerStep is one scripted capture attempt: the bytes it leaves on disk
// (none when empty) and the reason it reports.
type writerStep struct {
	payload string
	reason  EndReason
}

// scriptWriter replays writer steps and records every requested path.
type scriptWriter struct {
	steps []writerStep
	paths []string
}

func (w *scriptWriter) Capture(ctx context.Context, source MediaSource, path string) EndReason {
	w.paths = append(w.paths, path)
	i := len(w.paths) - 1
	if i >= len(w.steps) {
		i = len(w.steps) - 1
	}
	step := w.steps[i]
	if step.payload != "" {
		if err := os.WriteFile(path, []byte(step.payload), 0o644); err != nil {
			panic(err)
		}
	}
	return step.reason
}

// recordingMerger records merge calls and optionally fails.
type recordingMerger struct {
	calls [][]Segment
	dests []string
	err   error
}

func (m *recordingMerger) Merge(ctx context.Context, segments []Segment, dest string) error {
	segs := make([]Segment, len(segments))
	copy(segs, segments)
	m.calls = append(m.calls, segs)
	m.dests = append(m.dests, dest)
	if m.err != nil {
		return m.err
	}
	return os.WriteFile(dest, []byte("merged"), 0o644)
}

func newTestController(cfg SessionConfig, prober Prober, writer Writer, merger Merger) (*Controller, *Tracker, *fakeClock) {
	tracker := NewTracker(cfg.Channel)
	ctrl := NewController(cfg, prober, writer, merger, tracker, testLogger(), nil)
	clock := &fakeClock{now: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)}
	ctrl.now = clock.Now
	ctrl.sleep = clock.Sleep
	return ctrl, tracker, clock
}

func TestController_invalid_config_unrecoverable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channel = ""
	ctrl, tracker, _ := newTestController(cfg, &scriptProber{statuses: []LiveStatus{liveStatus}}, &scriptWriter{}, &recordingMerger{})

	result := ctrl.Run(context.Background())

	if result.Outcome != OutcomeUnrecoverable {
		t.Fatalf("expected %s, got %s", OutcomeUnrecoverable, result.Outcome)
	}
	if !errors.Is(result.Err, ErrNoChannel) {
		t.Errorf("expected ErrNoChannel, got %v", result.Err)
	}
	if tracker.State() != StateFailed {
		t.Errorf("expected tracker state %s, got %s", StateFailed, tracker.State())
	}
}

func TestController_no_wait_offline(t *testing.T) {
	cfg := testConfig(t)
	cfg.NoWait = true
	writer := &scriptWriter{}
	ctrl, _, _ := newTestController(cfg, &scriptProber{statuses: []LiveStatus{{}}}, writer, &recordingMerger{})

	result := ctrl.Run(context.Background())

	if result.Outcome != OutcomeNotLive {
		t.Fatalf("expected %s, got %s", OutcomeNotLive, result.Outcome)
	}
	if len(writer.paths) != 0 {
		t.Errorf("no capture attempt expected, writer saw %v", writer.paths)
	}
}

func TestController_timeout_waiting_zero_segments(t *testing.T) {
	cfg := testConfig(t)
	writer := &scriptWriter{}
	prober := &scriptProber{statuses: []LiveStatus{{}}}
	ctrl, _, _ := newTestController(cfg, prober, writer, &recordingMerger{})

	result := ctrl.Run(context.Background())

	if result.Outcome != OutcomeTimeout {
		t.Fatalf("expected %s, got %s", OutcomeTimeout, result.Outcome)
	}
	if len(writer.paths) != 0 {
		t.Errorf("no capture attempt expected, writer saw %v", writer.paths)
	}
	if result.Segments != 0 {
		t.Errorf("expected 0 segments, got %d", result.Segments)
	}
	if result.WaitTime != cfg.InitialWait {
		t.Errorf("expected wait time %s, got %s", cfg.InitialWait, result.WaitTime)
	}
	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("output dir should be empty, found %d entries", len(entries))
	}
}

func TestController_clean_end_single_segment(t *testing.T) {
	cfg := testConfig(t)
	merger := &recordingMerger{}
	writer := &scriptWriter{steps: []writerStep{{payload: "media-bytes", reason: EndCleanEnd}}}
	ctrl, tracker, _ := newTestController(cfg, &scriptProber{statuses: []LiveStatus{liveStatus}}, writer, merger)

	result := ctrl.Run(context.Background())

	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected %s, got %s (err: %v)", OutcomeSuccess, result.Outcome, result.Err)
	}
	if result.Segments != 1 || result.Reconnects != 0 {
		t.Errorf("expected 1 segment / 0 reconnects, got %d / %d", result.Segments, result.Reconnects)
	}
	if len(merger.calls) != 1 || len(merger.calls[0]) != 1 {
		t.Fatalf("expected one merge call with one segment, got %v", merger.calls)
	}
	seg := merger.calls[0][0]
	if seg.Index != 0 {
		t.Errorf("expected segment index 0, got %d", seg.Index)
	}
	if filepath.Base(seg.Path) != "somechannel_2026-03-14_part00.ts" {
		t.Errorf("unexpected segment name %s", filepath.Base(seg.Path))
	}
	want := filepath.Join(cfg.OutputDir, "somechannel - 2026-03-14.mp4")
	if len(result.Files) != 1 || result.Files[0] != want {
		t.Errorf("expected files [%s], got %v", want, result.Files)
	}
	if tracker.State() != StateDone {
		t.Errorf("expected tracker state %s, got %s", StateDone, tracker.State())
	}
}

// Probes Offline, Offline, Live; captures Dropped, Dropped, CleanEnd with
// a budget of 2 reconnects.
func TestController_drop_reconnect_clean_end(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxReconnects = 2
	prober := &scriptProber{statuses: []LiveStatus{{}, {}, liveStatus}}
	writer := &scriptWriter{steps: []writerStep{
		{payload: "part-a", reason: EndDropped},
		{payload: "part-b", reason: EndDropped},
		{payload: "part-c", reason: EndCleanEnd},
	}}
	merger := &recordingMerger{}
	ctrl, _, _ := newTestController(cfg, prober, writer, merger)

	result := ctrl.Run(context.Background())

	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected %s, got %s (err: %v)", OutcomeSuccess, result.Outcome, result.Err)
	}
	if result.Segments != 3 {
		t.Errorf("expected 3 segments, got %d", result.Segments)
	}
	if result.Reconnects != 2 {
		t.Errorf("expected 2 reconnects, got %d", result.Reconnects)
	}
	if len(merger.calls) != 1 || len(merger.calls[0]) != 3 {
		t.Fatalf("expected one merge of 3 segments, got %v", merger.calls)
	}
	for i, seg := range merger.calls[0] {
		if seg.Index != i {
			t.Errorf("segment %d has index %d, sequence must be contiguous from 0", i, seg.Index)
		}
	}
}

// Budget of 1 reconnect, captures Dropped, Dropped.
func TestController_budget_exhausted_degraded(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxReconnects = 1
	writer := &scriptWriter{steps: []writerStep{
		{payload: "part-a", reason: EndDropped},
		{payload: "part-b", reason: EndDropped},
	}}
	merger := &recordingMerger{}
	ctrl, _, _ := newTestController(cfg, &scriptProber{statuses: []LiveStatus{liveStatus}}, writer, merger)

	result := ctrl.Run(context.Background())

	if result.Outcome != OutcomeSuccessDegraded {
		t.Fatalf("expected %s, got %s", OutcomeSuccessDegraded, result.Outcome)
	}
	if result.Segments != 2 || result.Reconnects != 1 {
		t.Errorf("expected 2 segments / 1 reconnect, got %d / %d", result.Segments, result.Reconnects)
	}
	if len(writer.paths) != 2 {
		t.Errorf("expected exactly 2 capture attempts, got %d", len(writer.paths))
	}
	if len(merger.calls) != 1 || len(merger.calls[0]) != 2 {
		t.Fatalf("expected best-effort merge of 2 segments, got %v", merger.calls)
	}
}

func TestController_attempt_budget_bounds_captures(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxReconnects = 2
	writer := &scriptWriter{steps: []writerStep{{payload: "x", reason: EndDropped}}}
	ctrl, _, _ := newTestController(cfg, &scriptProber{statuses: []LiveStatus{liveStatus}}, writer, &recordingMerger{})

	result := ctrl.Run(context.Background())

	if got, want := len(writer.paths), cfg.MaxReconnects+1; got != want {
		t.Errorf("expected at most %d capture attempts, got %d", want, got)
	}
	if result.Outcome != OutcomeSuccessDegraded {
		t.Errorf("expected %s, got %s", OutcomeSuccessDegraded, result.Outcome)
	}
}

func TestController_start_failure_consumes_budget_not_index(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxReconnects = 2
	writer := &scriptWriter{steps: []writerStep{
		{reason: EndStartFailure}, // no bytes written
		{payload: "part-a", reason: EndCleanEnd},
	}}
	merger := &recordingMerger{}
	ctrl, _, _ := newTestController(cfg, &scriptProber{statuses: []LiveStatus{liveStatus}}, writer, merger)

	result := ctrl.Run(context.Background())

	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected %s, got %s", OutcomeSuccess, result.Outcome)
	}
	if result.Segments != 1 {
		t.Errorf("expected 1 segment, got %d", result.Segments)
	}
	if result.Reconnects != 1 {
		t.Errorf("start failure must consume the reconnect budget, got %d reconnects", result.Reconnects)
	}
	// The failed start must not consume a sequence index.
	if len(writer.paths) != 2 || writer.paths[0] != writer.paths[1] {
		t.Errorf("expected the retry to reuse index 0, got %v", writer.paths)
	}
	if merger.calls[0][0].Index != 0 {
		t.Errorf("expected surviving segment at index 0, got %d", merger.calls[0][0].Index)
	}
}

// A writer that reports Dropped without leaving bytes behind is treated as
// a failed start: no segment record, no sequence index.
func TestController_empty_drop_discarded(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxReconnects = 1
	writer := &scriptWriter{steps: []writerStep{
		{reason: EndDropped}, // claims a drop but wrote nothing
		{payload: "part-a", reason: EndCleanEnd},
	}}
	merger := &recordingMerger{}
	ctrl, _, _ := newTestController(cfg, &scriptProber{statuses: []LiveStatus{liveStatus}}, writer, merger)

	result := ctrl.Run(context.Background())

	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected %s, got %s", OutcomeSuccess, result.Outcome)
	}
	if result.Segments != 1 {
		t.Errorf("expected 1 segment, got %d", result.Segments)
	}
}

func TestController_grace_expired_broadcast_ended(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxReconnects = 5
	prober := &scriptProber{statuses: []LiveStatus{liveStatus, {}}}
	writer := &scriptWriter{steps: []writerStep{{payload: "part-a", reason: EndDropped}}}
	merger := &recordingMerger{}
	ctrl, _, clock := newTestController(cfg, prober, writer, merger)

	start := clock.Now()
	result := ctrl.Run(context.Background())

	if result.Outcome != OutcomeSuccess {
		t.Fatalf("grace expiry is a natural end: expected %s, got %s", OutcomeSuccess, result.Outcome)
	}
	if result.Segments != 1 {
		t.Errorf("expected 1 segment, got %d", result.Segments)
	}
	if len(writer.paths) != 1 {
		t.Errorf("expected no further capture after grace expiry, got %d attempts", len(writer.paths))
	}
	if elapsed := clock.Now().Sub(start); elapsed < cfg.ReconnectGracePeriod {
		t.Errorf("grace period not fully waited out: elapsed %s < %s", elapsed, cfg.ReconnectGracePeriod)
	}
}

func TestController_merge_failure_degraded(t *testing.T) {
	cfg := testConfig(t)
	merger := &recordingMerger{err: errors.New("ffmpeg exploded")}
	writer := &scriptWriter{steps: []writerStep{{payload: "part-a", reason: EndCleanEnd}}}
	ctrl, _, _ := newTestController(cfg, &scriptProber{statuses: []LiveStatus{liveStatus}}, writer, merger)

	result := ctrl.Run(context.Background())

	if result.Outcome != OutcomeSuccessDegraded {
		t.Fatalf("merge failure must not fail the session: expected %s, got %s", OutcomeSuccessDegraded, result.Outcome)
	}
	if len(result.Files) != 1 || filepath.Ext(result.Files[0]) != ".ts" {
		t.Errorf("expected the raw segment to be reported, got %v", result.Files)
	}
	if _, err := os.Stat(result.Files[0]); err != nil {
		t.Errorf("segment must survive a failed merge: %v", err)
	}
}

func TestController_merge_disabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.MergeSegments = false
	merger := &recordingMerger{}
	writer := &scriptWriter{steps: []writerStep{{payload: "part-a", reason: EndCleanEnd}}}
	ctrl, _, _ := newTestController(cfg, &scriptProber{statuses: []LiveStatus{liveStatus}}, writer, merger)

	result := ctrl.Run(context.Background())

	if result.Outcome != OutcomeSuccessDegraded {
		t.Fatalf("expected %s, got %s", OutcomeSuccessDegraded, result.Outcome)
	}
	if len(merger.calls) != 0 {
		t.Errorf("merger must not run when merging is disabled")
	}
	if len(result.Files) != 1 || filepath.Ext(result.Files[0]) != ".ts" {
		t.Errorf("expected segment paths, got %v", result.Files)
	}
}

func TestController_zero_usable_segments_unrecoverable(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxReconnects = 1
	writer := &scriptWriter{steps: []writerStep{{reason: EndStartFailure}}}
	ctrl, tracker, _ := newTestController(cfg, &scriptProber{statuses: []LiveStatus{liveStatus}}, writer, &recordingMerger{})

	result := ctrl.Run(context.Background())

	if result.Outcome != OutcomeUnrecoverable {
		t.Fatalf("expected %s, got %s", OutcomeUnrecoverable, result.Outcome)
	}
	if !errors.Is(result.Err, ErrNothingCaptured) {
		t.Errorf("expected ErrNothingCaptured, got %v", result.Err)
	}
	if tracker.State() != StateFailed {
		t.Errorf("expected tracker state %s, got %s", StateFailed, tracker.State())
	}
}

// cancellingWriter simulates an operator interrupt arriving mid-capture:
// bytes are on disk, then the session context is cancelled.
type cancellingWriter struct {
	cancel  context.CancelFunc
	payload string
}

func (w *cancellingWriter) Capture(ctx context.Context, source MediaSource, path string) EndReason {
	if err := os.WriteFile(path, []byte(w.payload), 0o644); err != nil {
		panic(err)
	}
	w.cancel()
	return EndDropped
}

func TestController_interrupt_mid_capture(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	merger := &recordingMerger{}
	writer := &cancellingWriter{cancel: cancel, payload: "partial"}
	ctrl, tracker, _ := newTestController(cfg, &scriptProber{statuses: []LiveStatus{liveStatus}}, writer, merger)

	result := ctrl.Run(ctx)

	if result.Outcome != OutcomeInterrupted {
		t.Fatalf("expected %s, got %s", OutcomeInterrupted, result.Outcome)
	}
	if result.Segments != 1 {
		t.Errorf("partial segment must be retained, got %d segments", result.Segments)
	}
	// Best-effort merge still runs on interrupt, with on-disk segments.
	if len(merger.calls) != 1 || len(merger.calls[0]) != 1 {
		t.Fatalf("expected best-effort merge of 1 segment, got %v", merger.calls)
	}
	if tracker.State() != StateFailed {
		t.Errorf("expected tracker state %s, got %s", StateFailed, tracker.State())
	}
}

func TestController_interrupt_while_waiting(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	writer := &scriptWriter{}
	ctrl, _, _ := newTestController(cfg, &scriptProber{statuses: []LiveStatus{{}}}, writer, &recordingMerger{})

	result := ctrl.Run(ctx)

	if result.Outcome != OutcomeInterrupted {
		t.Fatalf("expected %s, got %s", OutcomeInterrupted, result.Outcome)
	}
	if len(writer.paths) != 0 {
		t.Errorf("no capture attempt expected, writer saw %v", writer.paths)
	}
}
