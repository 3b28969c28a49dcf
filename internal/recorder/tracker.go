package recorder

import (
	"sync"
	"time"
)

// Progress is a point-in-time snapshot of a running session, safe to hand
// to the status endpoint and to metric gauge callbacks.
type Progress struct {
	Channel    Channel      `json:"channel"`
	State      SessionState `json:"state"`
	Segments   []Segment    `json:"segments"`
	Attempts   int          `json:"attempts"`
	Reconnects int          `json:"reconnects"`
	StartedAt  time.Time    `json:"started_at"`
	LastProbe  time.Time    `json:"last_probe,omitempty"`
}

// Tracker is the concurrency-safe record of session progress. The
// controller is the only writer; the status listener and metric gauges
// read snapshots concurrently.
type Tracker struct {
	mu         sync.RWMutex
	channel    Channel
	state      SessionState
	segments   []Segment
	attempts   int
	reconnects int
	startedAt  time.Time
	lastProbe  time.Time
}

// NewTracker returns a tracker in the WaitingForLive state.
func NewTracker(channel Channel) *Tracker {
	return &Tracker{
		channel:   channel,
		state:     StateWaitingForLive,
		startedAt: time.Now().UTC(),
	}
}

// SetState records a state transition.
func (t *Tracker) SetState(s SessionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// State returns the current state.
func (t *Tracker) State() SessionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// AddSegment appends a finished segment to the ordered sequence.
func (t *Tracker) AddSegment(seg Segment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = append(t.segments, seg)
}

// SegmentCount returns the number of recorded segments.
func (t *Tracker) SegmentCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.segments)
}

// AddAttempt records one capture attempt.
func (t *Tracker) AddAttempt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
}

// AddReconnect records one consumed reconnect.
func (t *Tracker) AddReconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnects++
}

// MarkProbe records when the liveness of the channel was last checked.
func (t *Tracker) MarkProbe(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastProbe = at
}

// Snapshot returns a copy of the current progress. The segment slice is
// copied so callers never observe a concurrent append.
func (t *Tracker) Snapshot() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	segments := make([]Segment, len(t.segments))
	copy(segments, t.segments)

	return Progress{
		Channel:    t.channel,
		State:      t.state,
		Segments:   segments,
		Attempts:   t.attempts,
		Reconnects: t.reconnects,
		StartedAt:  t.startedAt,
		LastProbe:  t.lastProbe,
	}
}
