package recorder

import (
	"errors"
	"fmt"
	"time"
)

// Channel identifies the broadcast channel being recorded.
type Channel string

// URL returns the public stream URL for the channel.
func (c Channel) URL() string {
	return fmt.Sprintf("https://twitch.tv/%s", string(c))
}

// MediaSource is a resolved, capturable stream. It is produced by the
// Prober and consumed by the Writer; the controller never inspects it.
type MediaSource struct {
	URL     string
	Quality string
}

// LiveStatus is the answer to a single liveness probe.
type LiveStatus struct {
	Live   bool
	Source MediaSource // valid only when Live
}

// EndReason classifies how a single capture attempt ended.
type EndReason string

const (
	// EndCleanEnd means the capture tool exited cleanly after writing data:
	// the source signaled end of broadcast.
	EndCleanEnd EndReason = "clean_end"
	// EndDropped means the capture tool wrote data and then exited
	// non-cleanly: the connection was severed mid-stream.
	EndDropped EndReason = "dropped"
	// EndStartFailure means the capture tool could not be launched or never
	// produced any output.
	EndStartFailure EndReason = "start_failure"
)

// SessionState is the controller's current phase.
type SessionState string

const (
	StateWaitingForLive SessionState = "waiting_for_live"
	StateCapturing      SessionState = "capturing"
	StateGracePeriod    SessionState = "grace_period"
	StateMerging        SessionState = "merging"
	StateDone           SessionState = "done"
	StateFailed         SessionState = "failed"
)

// Outcome is the terminal result of a session.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeSuccessDegraded Outcome = "success_degraded"
	OutcomeTimeout         Outcome = "failed_timeout"
	OutcomeNotLive         Outcome = "failed_not_live"
	OutcomeInterrupted     Outcome = "failed_interrupted"
	OutcomeUnrecoverable   Outcome = "failed_unrecoverable"
)

// Failed reports whether the outcome produced no delivery the caller should
// treat as success.
func (o Outcome) Failed() bool {
	return o != OutcomeSuccess && o != OutcomeSuccessDegraded
}

// Segment is one on-disk capture artifact produced by a single uninterrupted
// capture attempt. Index values are 0-based, strictly increasing, and
// contiguous within a session; failed starts do not consume an index.
type Segment struct {
	Index     int       `json:"index"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	StartedAt time.Time `json:"started_at"`
	EndReason EndReason `json:"end_reason"`
}

// SessionConfig is the immutable input to one recording session. The CLI
// shell builds and validates it before the controller runs.
type SessionConfig struct {
	Channel     Channel
	DisplayName string // used in the final artifact name; defaults to Channel
	OutputDir   string
	Quality     string

	StreamTimeout time.Duration // capture tool's own stall timeout

	InitialWait   time.Duration // ceiling on waiting for the channel to go live
	RetryInterval time.Duration // pause between liveness probes while waiting
	NoWait        bool          // probe once and exit if offline

	ReconnectGracePeriod   time.Duration // how long a dropped stream may stay offline
	ReconnectCheckInterval time.Duration // pause between probes during the grace period
	MaxReconnects          int

	MergeSegments   bool
	CleanupSegments bool

	StreamlinkPath string
	StreamlinkArgs []string
	FFmpegPath     string
}

var (
	ErrNoChannel       = errors.New("channel must not be empty")
	ErrNegativeBudget  = errors.New("durations and counts must be non-negative")
	ErrNoOutputDir     = errors.New("output directory must not be empty")
	ErrNothingCaptured = errors.New("no usable media was captured")
)

// Validate checks the invariants the controller relies on. It does not
// touch the filesystem; directory creation is the controller's first act.
func (c SessionConfig) Validate() error {
	if c.Channel == "" {
		return ErrNoChannel
	}
	if c.OutputDir == "" {
		return ErrNoOutputDir
	}
	if c.InitialWait < 0 || c.RetryInterval < 0 ||
		c.ReconnectGracePeriod < 0 || c.ReconnectCheckInterval < 0 ||
		c.StreamTimeout < 0 || c.MaxReconnects < 0 {
		return ErrNegativeBudget
	}
	return nil
}

// SessionResult is the immutable terminal report of one session.
type SessionResult struct {
	Outcome     Outcome       `json:"outcome"`
	Files       []string      `json:"files"`
	Segments    int           `json:"segments"`
	Reconnects  int           `json:"reconnects"`
	WaitTime    time.Duration `json:"wait_time"`
	CaptureTime time.Duration `json:"capture_time"`
	Err         error         `json:"-"`
}

// Summary renders the human-readable one-line wrap-up.
func (r SessionResult) Summary() string {
	return fmt.Sprintf("%s: %d segment(s), %d reconnection(s), waited %s, captured %s",
		r.Outcome, r.Segments, r.Reconnects,
		r.WaitTime.Round(time.Second), r.CaptureTime.Round(time.Second))
}
