package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"time"
)

// Prober answers "is the channel live right now". A probe is a single
// bounded call with no internal retry; polling policy belongs to the
// controller. Probing is idempotent and never affects stream state.
type Prober interface {
	Probe(ctx context.Context) (LiveStatus, error)
}

// StreamlinkProber asks streamlink which streams the channel currently
// advertises. The channel is live when the requested quality (or "best")
// is present in the advertised set.
type StreamlinkProber struct {
	Binary  string // defaults to "streamlink"
	Channel Channel
	Quality string
	Timeout time.Duration // per-probe ceiling, defaults to 30s
	Log     *slog.Logger
}

// probeReport is the subset of `streamlink --json` output the prober reads.
type probeReport struct {
	Plugin  string                     `json:"plugin"`
	Streams map[string]json.RawMessage `json:"streams"`
	Error   string                     `json:"error"`
}

// Probe implements Prober.
func (p *StreamlinkProber) Probe(ctx context.Context) (LiveStatus, error) {
	binary := p.Binary
	if binary == "" {
		binary = "streamlink"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := p.Channel.URL()
	cmd := exec.CommandContext(ctx, binary, "--json", url)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout

	// streamlink exits non-zero for an offline channel but still prints a
	// JSON error report, so the exit status alone is not the answer.
	runErr := cmd.Run()

	var report probeReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		if runErr != nil {
			return LiveStatus{}, runErr
		}
		return LiveStatus{}, err
	}

	if report.Error != "" || len(report.Streams) == 0 {
		p.logger().Debug("channel offline",
			slog.String("channel", string(p.Channel)),
			slog.String("report", report.Error))
		return LiveStatus{}, nil
	}

	quality := p.Quality
	if _, ok := report.Streams[quality]; !ok {
		if _, ok := report.Streams["best"]; !ok {
			p.logger().Debug("requested quality not advertised",
				slog.String("quality", quality))
			return LiveStatus{}, nil
		}
		quality = "best"
	}

	return LiveStatus{
		Live:   true,
		Source: MediaSource{URL: url, Quality: quality},
	}, nil
}

func (p *StreamlinkProber) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}
