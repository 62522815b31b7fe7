package record

import "time"

// Verdict is the outcome of a single capture tick.
type Verdict int

const (
	// VerdictCaptured means the frame was sent to the video sink.
	VerdictCaptured Verdict = iota
	// VerdictSkippedBlocked means the active window matched a blacklist rule.
	VerdictSkippedBlocked
	// VerdictSkippedUnchanged means the frame was identical to the last
	// captured one, or no frame could be acquired this tick.
	VerdictSkippedUnchanged
)

func (v Verdict) String() string {
	switch v {
	case VerdictCaptured:
		return "captured"
	case VerdictSkippedBlocked:
		return "skipped_blocked"
	case VerdictSkippedUnchanged:
		return "skipped_unchanged"
	default:
		return "unknown"
	}
}

// Sentinel values substituted when the window probe cannot answer.
const (
	UnknownApp   = "Unknown App"
	UnknownTitle = "Unknown Title"
)

// Observation is one active-window sample. Produced fresh every tick and
// not retained beyond it, except as fields copied into a segment.
type Observation struct {
	AppName     string
	WindowTitle string
	ObservedAt  time.Time
}

// Unknown returns the observation used when the window probe fails.
// It forms its own segment so probe gaps stay visible in the log.
func Unknown(at time.Time) Observation {
	return Observation{AppName: UnknownApp, WindowTitle: UnknownTitle, ObservedAt: at}
}

// Segment is a maximal contiguous run of ticks sharing one app/window pair.
// IsCaptured is decided once, when the segment opens, from the blacklist
// verdict at that instant; individual skipped ticks never flip it.
// Timestamps are UTC and serialize as RFC 3339.
type Segment struct {
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	AppName     string    `json:"app_name"`
	WindowTitle string    `json:"window_title"`
	IsCaptured  bool      `json:"is_captured"`
}

// Duration is the wall-clock span the segment covers.
func (s Segment) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// SamePair reports whether the segment covers the given app/window pair.
func (s Segment) SamePair(appName, windowTitle string) bool {
	return s.AppName == appName && s.WindowTitle == windowTitle
}
