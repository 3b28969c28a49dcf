package recorder

import (
	"context"
	"log/slog"
	"os"
	"time"

	"stream-recorder/internal/platform/metrics"
)

// Controller owns one recording session end to end: wait for the channel
// to go live, supervise capture attempts, ride out drops inside the grace
// period, and hand the ordered segments to the merger. Exactly one capture
// subprocess is active at a time; every wait is cancellable through ctx.
type Controller struct {
	cfg     SessionConfig
	prober  Prober
	writer  Writer
	merger  Merger
	tracker *Tracker
	log     *slog.Logger
	metrics *metrics.Metrics

	naming Naming

	// injected for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController wires a controller from its collaborators. Metrics may be
// nil to disable metric recording (e.g. in tests).
func NewController(cfg SessionConfig, prober Prober, writer Writer, merger Merger,
	tracker *Tracker, log *slog.Logger, m *metrics.Metrics) *Controller {
	return &Controller{
		cfg:     cfg,
		prober:  prober,
		writer:  writer,
		merger:  merger,
		tracker: tracker,
		log:     log,
		metrics: m,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Run drives the session to a terminal state and returns its result. It
// never panics on collaborator failure; every path ends in one of the six
// documented outcomes.
func (c *Controller) Run(ctx context.Context) SessionResult {
	if err := c.cfg.Validate(); err != nil {
		c.tracker.SetState(StateFailed)
		return SessionResult{Outcome: OutcomeUnrecoverable, Err: err}
	}
	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		c.tracker.SetState(StateFailed)
		return SessionResult{Outcome: OutcomeUnrecoverable, Err: err}
	}
	c.naming = NewNaming(c.cfg, c.now())

	waitStart := c.now()
	status, early := c.waitForLive(ctx)
	waitTime := c.now().Sub(waitStart)
	if early != nil {
		early.WaitTime = waitTime
		c.tracker.SetState(StateFailed)
		return *early
	}

	captureStart := c.now()
	segments, reconnects, complete, interrupted := c.captureLoop(ctx, status.Source)
	captureTime := c.now().Sub(captureStart)

	result := c.finish(ctx, segments, complete, interrupted)
	result.Segments = len(segments)
	result.Reconnects = reconnects
	result.WaitTime = waitTime
	result.CaptureTime = captureTime

	if result.Outcome.Failed() {
		c.tracker.SetState(StateFailed)
	} else {
		c.tracker.SetState(StateDone)
	}
	return result
}

// waitForLive blocks until the channel is live, the initial-wait ceiling
// elapses, or ctx is cancelled. A non-nil result is terminal.
func (c *Controller) waitForLive(ctx context.Context) (LiveStatus, *SessionResult) {
	deadline := c.now().Add(c.cfg.InitialWait)
	interval := c.cfg.RetryInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	c.log.Info("waiting for channel to go live",
		slog.String("channel", string(c.cfg.Channel)),
		slog.Duration("ceiling", c.cfg.InitialWait),
		slog.Duration("interval", interval))

	for {
		status := c.probe(ctx)
		if status.Live {
			c.log.Info("channel is live")
			return status, nil
		}
		if c.cfg.NoWait {
			c.log.Info("channel offline and waiting is disabled")
			return LiveStatus{}, &SessionResult{Outcome: OutcomeNotLive}
		}
		if !c.now().Before(deadline) {
			c.log.Warn("channel did not go live in time",
				slog.Duration("waited", c.cfg.InitialWait))
			return LiveStatus{}, &SessionResult{Outcome: OutcomeTimeout}
		}
		if err := c.sleep(ctx, interval); err != nil {
			return LiveStatus{}, &SessionResult{Outcome: OutcomeInterrupted, Err: err}
		}
	}
}

// captureLoop runs capture attempts until the broadcast ends, the
// reconnect budget is exhausted, or the session is interrupted. complete
// means the broadcast is believed to have genuinely ended.
func (c *Controller) captureLoop(ctx context.Context, source MediaSource) (segments []Segment, reconnects int, complete, interrupted bool) {
	for {
		seg, reason := c.captureOne(ctx, source, len(segments))
		if seg != nil {
			segments = append(segments, *seg)
			c.tracker.AddSegment(*seg)
		}
		if ctx.Err() != nil {
			return segments, reconnects, false, true
		}
		if reason == EndCleanEnd {
			c.log.Info("broadcast ended cleanly")
			return segments, reconnects, true, false
		}

		// Dropped or StartFailure: both consume the reconnect budget, even a
		// StartFailure on the very first attempt.
		if reconnects >= c.cfg.MaxReconnects {
			c.log.Warn("reconnect budget exhausted",
				slog.Int("max_reconnects", c.cfg.MaxReconnects),
				slog.Int("segments", len(segments)))
			return segments, reconnects, false, false
		}
		reconnects++
		c.tracker.AddReconnect()
		if c.metrics != nil {
			c.metrics.IncReconnects()
		}

		status, back, err := c.waitForReturn(ctx)
		if err != nil {
			return segments, reconnects, false, true
		}
		if !back {
			c.log.Info("channel did not return within the grace period, treating broadcast as ended")
			return segments, reconnects, true, false
		}
		c.log.Info("channel is back, reconnecting",
			slog.Int("reconnect", reconnects),
			slog.Int("max_reconnects", c.cfg.MaxReconnects))
		source = status.Source
	}
}

// captureOne supervises a single capture attempt. It returns a Segment
// only when usable bytes landed on disk; an empty or missing output is a
// StartFailure and does not consume a sequence index.
func (c *Controller) captureOne(ctx context.Context, source MediaSource, index int) (*Segment, EndReason) {
	path := c.naming.SegmentPath(index)
	started := c.now()

	c.tracker.SetState(StateCapturing)
	c.tracker.AddAttempt()
	if c.metrics != nil {
		c.metrics.IncCaptureAttempts()
		c.metrics.SetCaptureActive(true)
		defer c.metrics.SetCaptureActive(false)
	}

	c.log.Info("recording segment",
		slog.Int("index", index),
		slog.String("path", path))

	reason := c.writer.Capture(ctx, source, path)

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(path)
		c.log.Warn("attempt produced no usable output", slog.Int("index", index))
		return nil, EndStartFailure
	}

	seg := &Segment{
		Index:     index,
		Path:      path,
		Size:      info.Size(),
		StartedAt: started,
		EndReason: reason,
	}
	if c.metrics != nil {
		c.metrics.IncSegmentsWritten()
	}
	c.log.Info("segment saved",
		slog.Int("index", index),
		slog.Int64("size_bytes", info.Size()),
		slog.String("end_reason", string(reason)))
	return seg, reason
}

// waitForReturn rides out the grace period after a drop, re-probing at the
// configured interval. back is false when the grace period expired with
// the channel still offline.
func (c *Controller) waitForReturn(ctx context.Context) (status LiveStatus, back bool, err error) {
	c.tracker.SetState(StateGracePeriod)
	deadline := c.now().Add(c.cfg.ReconnectGracePeriod)
	interval := c.cfg.ReconnectCheckInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	c.log.Info("stream dropped, waiting for it to return",
		slog.Duration("grace_period", c.cfg.ReconnectGracePeriod))

	for c.now().Before(deadline) {
		if err := c.sleep(ctx, interval); err != nil {
			return LiveStatus{}, false, err
		}
		status := c.probe(ctx)
		if status.Live {
			return status, true, nil
		}
	}
	return LiveStatus{}, false, nil
}

// probe performs one liveness check. Probe errors are expected transients
// (network blips, tool hiccups) and are treated as "offline".
func (c *Controller) probe(ctx context.Context) LiveStatus {
	c.tracker.MarkProbe(c.now())
	if c.metrics != nil {
		c.metrics.IncProbes()
	}
	status, err := c.prober.Probe(ctx)
	if err != nil {
		c.log.Debug("probe failed", slog.String("error", err.Error()))
		return LiveStatus{}
	}
	return status
}

// finish maps the captured segments to a terminal result, merging when
// configured. Merge failure and a disabled merge both degrade the result
// instead of failing it; only zero usable segments is unrecoverable.
func (c *Controller) finish(ctx context.Context, segments []Segment, complete, interrupted bool) SessionResult {
	if len(segments) == 0 {
		if interrupted {
			return SessionResult{Outcome: OutcomeInterrupted, Err: ctx.Err()}
		}
		return SessionResult{Outcome: OutcomeUnrecoverable, Err: ErrNothingCaptured}
	}

	paths := make([]string, len(segments))
	for i, seg := range segments {
		paths[i] = seg.Path
	}

	outcome := OutcomeSuccess
	switch {
	case interrupted:
		outcome = OutcomeInterrupted
	case !complete:
		outcome = OutcomeSuccessDegraded
	}

	if !c.cfg.MergeSegments {
		c.log.Info("merge disabled, keeping individual segments",
			slog.Int("segments", len(segments)))
		if outcome == OutcomeSuccess {
			outcome = OutcomeSuccessDegraded
		}
		return SessionResult{Outcome: outcome, Files: paths}
	}

	c.tracker.SetState(StateMerging)

	// Best-effort even on interrupt: the merge must not be aborted by the
	// same cancellation that stopped the capture.
	mergeCtx := ctx
	if ctx.Err() != nil {
		mergeCtx = context.WithoutCancel(ctx)
	}

	dest := c.naming.FinalPath()
	if err := c.merger.Merge(mergeCtx, segments, dest); err != nil {
		if c.metrics != nil {
			c.metrics.IncMergeFailures()
		}
		c.log.Warn("merge failed, keeping individual segments",
			slog.String("error", err.Error()))
		if outcome == OutcomeSuccess {
			outcome = OutcomeSuccessDegraded
		}
		return SessionResult{Outcome: outcome, Files: paths, Err: err}
	}

	c.log.Info("recording saved", slog.String("path", dest))
	return SessionResult{Outcome: outcome, Files: []string{dest}}
}

// sleepCtx is a context-aware time.Sleep.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
