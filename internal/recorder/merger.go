package recorder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Merger concatenates an ordered segment sequence into one delivery file.
// On success the inputs are deleted (unless configured otherwise); on any
// failure every input is left untouched so the degraded-success path has
// consistent recovery data.
type Merger interface {
	Merge(ctx context.Context, segments []Segment, dest string) error
}

// ErrNoSegments is returned when Merge is called with an empty sequence.
var ErrNoSegments = errors.New("no segments to merge")

// FFmpegMerger merges with ffmpeg's concat demuxer and stream copy. A
// single-segment session skips ffmpeg entirely: the segment is renamed (or
// copied, when KeepInputs is set) into place, so the delivery file is
// byte-identical to the capture.
type FFmpegMerger struct {
	Binary     string        // defaults to "ffmpeg"
	KeepInputs bool          // keep segment files after a successful merge
	Timeout    time.Duration // merge ceiling, defaults to 1h
	Log        *slog.Logger
}

// Merge implements Merger.
func (m *FFmpegMerger) Merge(ctx context.Context, segments []Segment, dest string) error {
	if len(segments) == 0 {
		return ErrNoSegments
	}

	if len(segments) == 1 {
		if m.KeepInputs {
			m.logger().Info("single segment, copying into place",
				slog.String("dest", dest))
			return copyFile(segments[0].Path, dest)
		}
		m.logger().Info("single segment, renaming into place",
			slog.String("dest", dest))
		return os.Rename(segments[0].Path, dest)
	}

	binary := m.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = time.Hour
	}

	manifest, err := os.CreateTemp("", "concat-*.txt")
	if err != nil {
		return err
	}
	defer os.Remove(manifest.Name())

	if _, err := manifest.WriteString(BuildConcatManifest(segments)); err != nil {
		manifest.Close()
		return err
	}
	if err := manifest.Close(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m.logger().Info("merging segments",
		slog.Int("count", len(segments)),
		slog.String("dest", dest))

	cmd := exec.CommandContext(ctx, binary,
		"-f", "concat",
		"-safe", "0",
		"-i", manifest.Name(),
		"-c", "copy",
		"-movflags", "+faststart",
		"-y",
		dest,
	)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		// Drop the partial output so only segment files remain on disk.
		_ = os.Remove(dest)
		m.logger().Error("merge failed",
			slog.String("error", err.Error()),
			slog.String("output", output.String()))
		return err
	}

	if !m.KeepInputs {
		for _, seg := range segments {
			if err := os.Remove(seg.Path); err != nil {
				m.logger().Warn("could not remove merged segment",
					slog.String("path", seg.Path),
					slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

func (m *FFmpegMerger) logger() *slog.Logger {
	if m.Log != nil {
		return m.Log
	}
	return slog.Default()
}

// copyFile copies src to dest, leaving src in place. A partial dest is
// removed on error so a failed merge never leaves a half-written delivery
// file behind.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return err
	}
	return out.Close()
}

// BuildConcatManifest renders the ffmpeg concat-demuxer input list for an
// ordered segment sequence. Single quotes in paths are escaped the way the
// demuxer expects ('\'' splice).
func BuildConcatManifest(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(seg.Path, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}
