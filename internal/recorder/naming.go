package recorder

import (
	"fmt"
	"path/filepath"
	"time"
)

// Naming derives every path a session writes. Segment names carry a
// _partNN suffix so a library scanner never mistakes them for the final
// artifact.
type Naming struct {
	OutputDir   string
	Channel     Channel
	DisplayName string
	Date        time.Time
}

// NewNaming builds the naming scheme for one session. displayName falls
// back to the channel identifier.
func NewNaming(cfg SessionConfig, date time.Time) Naming {
	name := cfg.DisplayName
	if name == "" {
		name = string(cfg.Channel)
	}
	return Naming{
		OutputDir:   cfg.OutputDir,
		Channel:     cfg.Channel,
		DisplayName: name,
		Date:        date,
	}
}

// SessionID is the stable prefix shared by all of a session's segments.
func (n Naming) SessionID() string {
	return fmt.Sprintf("%s_%s", n.Channel, n.Date.Format("2006-01-02"))
}

// SegmentPath returns the path for the segment with the given 0-based index.
func (n Naming) SegmentPath(index int) string {
	return filepath.Join(n.OutputDir, fmt.Sprintf("%s_part%02d.ts", n.SessionID(), index))
}

// FinalPath is the delivery artifact: "<display name> - <ISO date>.mp4".
func (n Naming) FinalPath() string {
	return filepath.Join(n.OutputDir, fmt.Sprintf("%s - %s.mp4", n.DisplayName, n.Date.Format("2006-01-02")))
}
